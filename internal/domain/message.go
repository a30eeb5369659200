package domain

import "time"

// MediaItem is one attachment of an outbound send request.
type MediaItem struct {
	Data []byte
	MIME string
	// CaptionBearer marks the item that should carry the text body as its
	// caption. When no item is flagged the first one is used.
	CaptionBearer bool
}

// OutboundRequest is a send request from the panel.
type OutboundRequest struct {
	Destination string
	Text        string
	Media       []MediaItem
	// Context, when supplied by the caller, overrides text extraction.
	Context *CorrelationContext
}

// SendResult reports the identifiers produced by one send. PrimaryID is the
// identifier of the first successfully sent unit and is always a member of
// MessageIDs.
type SendResult struct {
	PrimaryID  string
	MessageIDs []string
}

// CorrelationContext is the business context recorded for each sent message.
type CorrelationContext struct {
	CustomerRef  string `json:"customerRef,omitempty"`
	RequestLabel string `json:"requestLabel,omitempty"`
	Agent        string `json:"agent,omitempty"`
}

// RelayEventKind discriminates classified inbound events.
type RelayEventKind string

const (
	KindReaction RelayEventKind = "reaction"
	KindReply    RelayEventKind = "reply"
)

// RelayEvent is a classified inbound event correlated back to a message this
// process sent. It is what the notification relay fans out.
type RelayEvent struct {
	ID            string             `json:"id"`
	Kind          RelayEventKind     `json:"kind"`
	MessageID     string             `json:"messageId"`
	Emoji         string             `json:"emoji,omitempty"`
	Text          string             `json:"text,omitempty"`
	ReactorDigits string             `json:"reactorDigits"`
	Context       CorrelationContext `json:"context"`
	At            time.Time          `json:"at"`
}
