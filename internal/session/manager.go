// Package session owns the singleton protocol session: the lifecycle manager
// that keeps it alive across disconnects, and the whatsmeow-backed provider.
package session

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mdp/qrterminal"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const defaultReconnectDelay = 2 * time.Second

// Manager drives the connection state machine. It runs a single dispatch loop
// over the provider's event channel: lifecycle events mutate connection state,
// message batches are handed to the registered handlers.
type Manager struct {
	provider  domain.SessionProvider
	delay     time.Duration
	logger    *slog.Logger
	renderQR  func(code string)
	onUpserts func([]domain.RawMessage)
	onUpdates func([]domain.RawUpdate)

	mu      sync.Mutex
	state   domain.ConnectionState
	running bool
}

type ManagerConfig struct {
	Provider       domain.SessionProvider
	ReconnectDelay time.Duration
	Logger         *slog.Logger
	// RenderChallenge shows a pairing challenge to the operator. Defaults to
	// a terminal QR code.
	RenderChallenge func(code string)
	OnUpserts       func([]domain.RawMessage)
	OnUpdates       func([]domain.RawUpdate)
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.RenderChallenge == nil {
		cfg.RenderChallenge = func(code string) {
			qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
		}
	}
	return &Manager{
		provider:  cfg.Provider,
		delay:     cfg.ReconnectDelay,
		logger:    cfg.Logger,
		renderQR:  cfg.RenderChallenge,
		onUpserts: cfg.OnUpserts,
		onUpdates: cfg.OnUpdates,
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s domain.ConnectionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Start begins connecting. Idempotent: a call while a connect sequence is
// already running is a no-op, which serializes reconnects.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.state = domain.StateConnecting
	m.mu.Unlock()

	go m.run(ctx)
}

// run opens the session and re-opens it forever: fixed delay, no backoff, no
// retry cap. It exits only when ctx is cancelled.
func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.state = domain.StateClosed
		m.mu.Unlock()
		metrics.Connected.Set(0)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		m.setState(domain.StateConnecting)
		metrics.Reconnects.Inc()

		events, err := m.provider.Open(ctx)
		if err != nil {
			// Credential corruption or provider init failure is never
			// fatal; retry on the same timer.
			m.logger.Error("session open failed, retrying", "delay", m.delay, "err", err)
		} else {
			m.loop(ctx, events)
			if ctx.Err() != nil {
				m.provider.Close()
				return
			}
		}

		select {
		case <-ctx.Done():
			m.provider.Close()
			return
		case <-time.After(m.delay):
		}
	}
}

// loop consumes provider events until the session closes.
func (m *Manager) loop(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				m.logger.Warn("session event channel closed")
				m.setState(domain.StateConnecting)
				metrics.Connected.Set(0)
				return
			}
			switch e := ev.(type) {
			case domain.QRChallenge:
				m.logger.Info("pairing challenge received, scan to link")
				m.renderQR(e.Code)

			case domain.Opened:
				m.setState(domain.StateOpen)
				metrics.Connected.Set(1)
				m.logger.Info("session open, ready to send")

			case domain.Closed:
				// Drop out of Open immediately so the send gate closes for
				// the whole reconnect window, not just after the delay.
				m.setState(domain.StateConnecting)
				metrics.Connected.Set(0)
				if e.LoggedOut {
					m.logger.Warn("logged out, purging credentials before reconnect",
						"reason", e.Reason, "code", e.Code)
					if err := m.provider.PurgeCredentials(); err != nil {
						m.logger.Error("credential purge failed", "err", err)
					}
				} else {
					m.logger.Warn("session closed, reconnecting without fresh challenge",
						"reason", e.Reason, "code", e.Code)
				}
				return

			case domain.UpsertBatch:
				if m.onUpserts != nil {
					m.onUpserts(e.Items)
				}

			case domain.UpdateBatch:
				if m.onUpdates != nil {
					m.onUpdates(e.Items)
				}
			}
		}
	}
}
