// Package journal is a local sqlite audit log of outbound sends and relayed
// events. It is write-mostly and plays no part in correlation: the in-memory
// store stays authoritative.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wabridge/internal/domain"
)

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, logger: logger}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sent_messages (
		message_id    TEXT PRIMARY KEY,
		destination   TEXT NOT NULL,
		body          TEXT,
		customer_ref  TEXT,
		request_label TEXT,
		agent         TEXT,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sent_dest ON sent_messages(destination, created_at);

	CREATE TABLE IF NOT EXISTS relayed_events (
		id             TEXT PRIMARY KEY,
		kind           TEXT NOT NULL,
		message_id     TEXT NOT NULL,
		emoji          TEXT,
		body           TEXT,
		reactor_digits TEXT,
		agent          TEXT,
		occurred_at    DATETIME NOT NULL,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_msg ON relayed_events(message_id, occurred_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordSend stores one sent unit.
func (j *Journal) RecordSend(messageID, destination, text string, ctx domain.CorrelationContext) error {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO sent_messages
		 (message_id, destination, body, customer_ref, request_label, agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		messageID, destination, text, ctx.CustomerRef, ctx.RequestLabel, ctx.Agent, time.Now(),
	)
	return err
}

// RecordEvent stores one relayed event.
func (j *Journal) RecordEvent(ev domain.RelayEvent) error {
	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO relayed_events
		 (id, kind, message_id, emoji, body, reactor_digits, agent, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.MessageID, ev.Emoji, ev.Text, ev.ReactorDigits,
		ev.Context.Agent, ev.At,
	)
	return err
}

// RecentSends returns the latest sends for a destination, oldest first.
func (j *Journal) RecentSends(destination string, limit int) ([]SentMessage, error) {
	rows, err := j.db.Query(
		`SELECT message_id, destination, body, customer_ref, request_label, agent, created_at
		 FROM sent_messages WHERE destination = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, destination, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SentMessage
	for rows.Next() {
		var m SentMessage
		if err := rows.Scan(&m.MessageID, &m.Destination, &m.Body,
			&m.CustomerRef, &m.RequestLabel, &m.Agent, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	// reverse into natural chronology
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, rows.Err()
}

// SentMessage is one journaled outbound unit.
type SentMessage struct {
	MessageID    string    `json:"messageId"`
	Destination  string    `json:"destination"`
	Body         string    `json:"body"`
	CustomerRef  string    `json:"customerRef,omitempty"`
	RequestLabel string    `json:"requestLabel,omitempty"`
	Agent        string    `json:"agent,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (j *Journal) Close() error { return j.db.Close() }
