package domain

import "context"

// ConnectionState is the connectivity state of the single protocol session.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionProvider is the opaque chat-protocol client. It owns credential
// material, the wire connection, and message transport. Implementations emit
// typed events on the channel returned by Open; the channel is closed when the
// session ends.
type SessionProvider interface {
	// Open loads persisted credentials, connects, and starts emitting events.
	// The returned channel is consumed by a single dispatch loop.
	Open(ctx context.Context) (<-chan Event, error)

	// Send delivers one outbound unit to the given destination JID and returns
	// the protocol-assigned message identifier.
	Send(ctx context.Context, jid string, payload OutboundPayload) (string, error)

	// Groups lists the group conversations the session participates in.
	Groups(ctx context.Context) ([]GroupInfo, error)

	// PurgeCredentials wipes persisted credential material. Called on a
	// logged-out close so the next connect requests a fresh challenge.
	PurgeCredentials() error

	Close() error
}

// OutboundPayload is a single send unit: text, or one media item with an
// optional caption.
type OutboundPayload struct {
	Text    string
	Media   []byte
	MIME    string
	Caption string
}

// GroupInfo describes one joined group conversation.
type GroupInfo struct {
	JID  string `json:"id"`
	Name string `json:"name"`
}
