package domain

// Event is a typed session-provider event delivered on the channel returned by
// SessionProvider.Open. Lifecycle events drive the connection manager; message
// batches are handed to the classifier pipeline.
type Event interface {
	sessionEvent()
}

// QRChallenge asks the operator to scan a pairing code out-of-band.
type QRChallenge struct {
	Code string
}

// Opened signals the session is authenticated and ready to send.
type Opened struct{}

// Closed signals the session dropped. LoggedOut means credential material is
// invalid and must be purged before reconnecting.
type Closed struct {
	Reason    string
	Code      int
	LoggedOut bool
}

// UpsertBatch carries newly arrived messages, which may themselves be a
// reaction or a quoted reply.
type UpsertBatch struct {
	Items []RawMessage
}

// UpdateBatch carries post-hoc annotations on existing messages.
type UpdateBatch struct {
	Items []RawUpdate
}

func (QRChallenge) sessionEvent() {}
func (Opened) sessionEvent()      {}
func (Closed) sessionEvent()      {}
func (UpsertBatch) sessionEvent() {}
func (UpdateBatch) sessionEvent() {}

// MessageKey identifies a message on the wire.
type MessageKey struct {
	ID        string
	ChatJID   string
	SenderJID string // participant in groups, else the remote JID
	FromMe    bool
}

// Reaction is a lightweight annotation attached to a previously sent message.
// Target is the key of the message being reacted to.
type Reaction struct {
	Emoji  string
	Target MessageKey
}

// ReplyContext carries the quoted-message reference of a reply. Different
// provider versions populate different fields; resolution order is StanzaID,
// QuotedID, LegacyStanzaID, QuotedStanzaID.
type ReplyContext struct {
	StanzaID       string
	QuotedID       string // quotedMessage.key.id
	LegacyStanzaID string // "stanzaID" in some dumps
	QuotedStanzaID string
}

// ExtendedText is a text body that may reference an earlier message.
type ExtendedText struct {
	Text    string
	Context *ReplyContext
}

// MediaContent is the classifier-relevant slice of a media message.
type MediaContent struct {
	Caption string
	Context *ReplyContext
}

// RawMessage is one item of an upsert batch, close to the wire shape.
type RawMessage struct {
	Key          MessageKey
	Conversation string
	Extended     *ExtendedText
	Image        *MediaContent
	Video        *MediaContent
	Reaction     *Reaction
	// ProtocolOnly marks a payload that is a bare protocol-housekeeping
	// marker with no other content.
	ProtocolOnly bool
}

// RawUpdate is one item of an update batch. Key is the outer envelope key;
// the reactor identity for reactions is resolved from it.
type RawUpdate struct {
	Key      MessageKey
	Reaction *Reaction
}
