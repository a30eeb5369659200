// Package relay fans classified events out to the external panel (webhook
// with one retry), to live push subscribers, and optionally to an AMQP
// exchange. Delivery is best effort everywhere: no relay failure ever reaches
// the event producer.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wabridge/internal/correlate"
	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const (
	webhookTimeout    = 7 * time.Second
	webhookRetryDelay = 500 * time.Millisecond
	bodySampleLen     = 200
)

// doneEmoji is the reaction that marks a panel request as completed.
const doneEmoji = "✅"

// EventJournal records relayed events for auditing.
type EventJournal interface {
	RecordEvent(ev domain.RelayEvent) error
}

// Relay implements the notification fan-out.
type Relay struct {
	panelURL     string
	relayReplies bool
	ring         *correlate.Ring
	hub          *Hub
	sink         *AMQPSink // optional
	journal      EventJournal
	client       *http.Client
	logger       *slog.Logger
}

type Config struct {
	PanelURL     string
	RelayReplies bool
	Ring         *correlate.Ring
	Hub          *Hub
	Sink         *AMQPSink
	Journal      EventJournal
	Logger       *slog.Logger
}

func New(cfg Config) *Relay {
	return &Relay{
		panelURL:     cfg.PanelURL,
		relayReplies: cfg.RelayReplies,
		ring:         cfg.Ring,
		hub:          cfg.Hub,
		sink:         cfg.Sink,
		journal:      cfg.Journal,
		client:       &http.Client{Timeout: webhookTimeout},
		logger:       cfg.Logger,
	}
}

// Publish records the event and pushes it to every target. Webhook delivery
// runs in its own goroutine; errors are logged, never returned.
func (r *Relay) Publish(ev domain.RelayEvent) {
	r.ring.Append(ev)
	metrics.EventsRelayed.Inc()

	if r.journal != nil {
		if err := r.journal.RecordEvent(ev); err != nil {
			r.logger.Warn("journal write failed", "event", ev.ID, "err", err)
		}
	}

	go r.notifyPanel(ev)

	if r.sink != nil {
		go r.sink.Publish(ev)
	}

	r.hub.Broadcast(ev)
}

// notifyPanel posts the event to the panel callback matching its kind.
func (r *Relay) notifyPanel(ev domain.RelayEvent) {
	if r.panelURL == "" {
		return
	}
	switch ev.Kind {
	case domain.KindReaction:
		// Only the completion reaction drives a status change on the panel.
		if ev.Emoji != doneEmoji {
			return
		}
		r.postWithRetry(r.panelURL+"/api/requests/auto-status", map[string]string{
			"waMessageId": ev.MessageID,
			"reactor":     ev.ReactorDigits,
			"status":      "feito",
		})
	case domain.KindReply:
		if !r.relayReplies {
			return
		}
		r.postWithRetry(r.panelURL+"/api/requests/reply", map[string]string{
			"waMessageId": ev.MessageID,
			"reactor":     ev.ReactorDigits,
			"text":        ev.Text,
		})
	}
}

// postWithRetry posts JSON with exactly one retry after a fixed short delay.
// A delivery that still fails is dropped with a log line.
func (r *Relay) postWithRetry(url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("webhook marshal failed", "url", url, "err", err)
		return
	}

	if r.postOnce(url, body) {
		return
	}
	time.Sleep(webhookRetryDelay)
	if !r.postOnce(url, body) {
		metrics.WebhookFailures.Inc()
		r.logger.Warn("webhook delivery dropped after retry", "url", url)
	}
}

func (r *Relay) postOnce(url string, body []byte) bool {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		r.logger.Warn("webhook request build failed", "url", url, "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("webhook post failed", "url", url, "err", err)
		return false
	}
	defer resp.Body.Close()

	sample, _ := io.ReadAll(io.LimitReader(resp.Body, bodySampleLen))
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	r.logger.Info("webhook post", "url", url, "status", resp.StatusCode,
		"ok", ok, "body_sample", string(sample))
	return ok
}
