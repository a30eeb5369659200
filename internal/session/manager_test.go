package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"wabridge/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedProvider hands out one event channel per Open call and records
// lifecycle calls in order.
type scriptedProvider struct {
	mu     sync.Mutex
	chans  []chan domain.Event
	calls  []string
	openWG chan struct{} // closed items signal each Open
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{openWG: make(chan struct{}, 16)}
}

func (p *scriptedProvider) Open(ctx context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, 16)
	p.mu.Lock()
	p.chans = append(p.chans, ch)
	p.calls = append(p.calls, "open")
	p.mu.Unlock()
	p.openWG <- struct{}{}
	return ch, nil
}

func (p *scriptedProvider) Send(ctx context.Context, jid string, payload domain.OutboundPayload) (string, error) {
	return "", nil
}
func (p *scriptedProvider) Groups(ctx context.Context) ([]domain.GroupInfo, error) { return nil, nil }

func (p *scriptedProvider) PurgeCredentials() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "purge")
	return nil
}

func (p *scriptedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "close")
	return nil
}

func (p *scriptedProvider) current() chan domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chans[len(p.chans)-1]
}

func (p *scriptedProvider) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *scriptedProvider) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-p.openWG:
	case <-time.After(3 * time.Second):
		t.Fatal("provider was not opened in time")
	}
}

func waitState(t *testing.T, m *Manager, want domain.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

func newTestManager(p domain.SessionProvider, opts ...func(*ManagerConfig)) *Manager {
	cfg := ManagerConfig{
		Provider:        p,
		ReconnectDelay:  10 * time.Millisecond,
		Logger:          testLogger,
		RenderChallenge: func(string) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewManager(cfg)
}

func TestManager_OpenedSetsStateOpen(t *testing.T) {
	p := newScriptedProvider()
	m := newTestManager(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	p.waitOpen(t)

	p.current() <- domain.Opened{}
	waitState(t, m, domain.StateOpen)
}

func TestManager_StartIsIdempotent(t *testing.T) {
	p := newScriptedProvider()
	m := newTestManager(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Start(ctx)
	m.Start(ctx)
	p.waitOpen(t)

	time.Sleep(50 * time.Millisecond)
	opens := 0
	for _, c := range p.callLog() {
		if c == "open" {
			opens++
		}
	}
	if opens != 1 {
		t.Fatalf("opens = %d, want 1: repeated Start must not stack sessions", opens)
	}
}

func TestManager_ReconnectsAfterClose(t *testing.T) {
	p := newScriptedProvider()
	m := newTestManager(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	p.waitOpen(t)

	p.current() <- domain.Opened{}
	waitState(t, m, domain.StateOpen)

	p.current() <- domain.Closed{Reason: "stream error", Code: 515}

	// A second Open follows after the fixed delay.
	p.waitOpen(t)
	p.current() <- domain.Opened{}
	waitState(t, m, domain.StateOpen)

	for _, c := range p.callLog() {
		if c == "purge" {
			t.Fatal("plain close must not purge credentials")
		}
	}
}

func TestManager_LoggedOutPurgesBeforeReconnect(t *testing.T) {
	p := newScriptedProvider()
	m := newTestManager(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	p.waitOpen(t)

	p.current() <- domain.Closed{Reason: "logged out", Code: 401, LoggedOut: true}
	p.waitOpen(t)

	calls := p.callLog()
	// open, purge, open
	if len(calls) < 3 || calls[0] != "open" || calls[1] != "purge" || calls[2] != "open" {
		t.Fatalf("calls = %v, want purge between the two opens", calls)
	}
}

func TestManager_BatchesReachHandlers(t *testing.T) {
	p := newScriptedProvider()
	upserts := make(chan []domain.RawMessage, 1)
	updates := make(chan []domain.RawUpdate, 1)
	m := newTestManager(p, func(cfg *ManagerConfig) {
		cfg.OnUpserts = func(items []domain.RawMessage) { upserts <- items }
		cfg.OnUpdates = func(items []domain.RawUpdate) { updates <- items }
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	p.waitOpen(t)

	p.current() <- domain.UpsertBatch{Items: []domain.RawMessage{{Conversation: "oi"}}}
	p.current() <- domain.UpdateBatch{Items: []domain.RawUpdate{{}}}

	select {
	case items := <-upserts:
		if len(items) != 1 || items[0].Conversation != "oi" {
			t.Fatalf("unexpected upsert batch: %v", items)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("upsert batch never delivered")
	}
	select {
	case items := <-updates:
		if len(items) != 1 {
			t.Fatalf("unexpected update batch: %v", items)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("update batch never delivered")
	}
}

func TestManager_CloseDropsOpenStateBeforeReconnectDelay(t *testing.T) {
	p := newScriptedProvider()
	// Delay far longer than the assertion window so the state read lands
	// inside the reconnect wait, not after the next open.
	m := newTestManager(p, func(cfg *ManagerConfig) {
		cfg.ReconnectDelay = 2 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	p.waitOpen(t)

	p.current() <- domain.Opened{}
	waitState(t, m, domain.StateOpen)

	p.current() <- domain.Closed{Reason: "stream error"}
	waitState(t, m, domain.StateConnecting)
}

func TestManager_EventChannelClosedDropsOpenState(t *testing.T) {
	p := newScriptedProvider()
	m := newTestManager(p, func(cfg *ManagerConfig) {
		cfg.ReconnectDelay = 2 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	p.waitOpen(t)

	p.current() <- domain.Opened{}
	waitState(t, m, domain.StateOpen)

	close(p.current())
	waitState(t, m, domain.StateConnecting)
}

func TestManager_CancelStopsReconnecting(t *testing.T) {
	p := newScriptedProvider()
	m := newTestManager(p)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	p.waitOpen(t)

	cancel()
	waitState(t, m, domain.StateClosed)

	// No further opens after cancellation.
	select {
	case <-p.openWG:
		t.Fatal("manager kept reconnecting after cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_QRChallengeRendered(t *testing.T) {
	p := newScriptedProvider()
	codes := make(chan string, 1)
	m := newTestManager(p, func(cfg *ManagerConfig) {
		cfg.RenderChallenge = func(code string) { codes <- code }
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	p.waitOpen(t)

	p.current() <- domain.QRChallenge{Code: "2@abcdef"}
	select {
	case code := <-codes:
		if code != "2@abcdef" {
			t.Fatalf("code = %q", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("challenge never rendered")
	}
}
