// Package classify turns raw inbound batches into relay events. Each item is
// classified as a reaction, a quoted reply, or noise; only events that
// correlate back to a message this process sent are produced.
package classify

import (
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"wabridge/internal/correlate"
	"wabridge/internal/domain"
)

// Classifier consumes raw inbound batches from the session provider.
type Classifier struct {
	store *correlate.Store
	// allowedDigits, when non-empty, restricts which reactor may action
	// events: digit strings match exact or by suffix.
	allowedDigits string
	logSkipped    bool
	logger        *slog.Logger
	now           func() time.Time
}

type Config struct {
	Store          *correlate.Store
	AllowedReactor string // raw configured identity; digits are extracted
	LogSkipped     bool
	Logger         *slog.Logger
}

func New(cfg Config) *Classifier {
	return &Classifier{
		store:         cfg.Store,
		allowedDigits: Digits(cfg.AllowedReactor),
		logSkipped:    cfg.LogSkipped,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

// Updates classifies an update batch: post-hoc annotations on existing
// messages. The reactor identity comes from the outer envelope key.
func (c *Classifier) Updates(items []domain.RawUpdate) []domain.RelayEvent {
	var out []domain.RelayEvent
	for _, it := range items {
		c.guard(func() {
			if it.Reaction == nil {
				return
			}
			reactor := senderOf(it.Key)
			if ev, ok := c.reaction(*it.Reaction, reactor); ok {
				out = append(out, ev)
			}
		})
	}
	return out
}

// Upserts classifies an upsert batch: newly arrived messages which may carry a
// reaction or reference an earlier message.
func (c *Classifier) Upserts(items []domain.RawMessage) []domain.RelayEvent {
	var out []domain.RelayEvent
	for _, it := range items {
		c.guard(func() {
			if ev, ok := c.upsert(it); ok {
				out = append(out, ev)
			}
		})
	}
	return out
}

// guard isolates per-item work so one malformed item cannot stop the batch.
func (c *Classifier) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classifier item panic", "panic", r)
		}
	}()
	fn()
}

func (c *Classifier) upsert(m domain.RawMessage) (domain.RelayEvent, bool) {
	// Bare protocol-housekeeping payloads are dropped without logging to
	// avoid log spam.
	if m.ProtocolOnly {
		return domain.RelayEvent{}, false
	}

	reactor := senderOf(m.Key)

	if m.Reaction != nil {
		return c.reaction(*m.Reaction, reactor)
	}

	text := bodyText(m)
	quoted := quotedID(m)
	if text == "" || quoted == "" {
		if c.logSkipped {
			c.logger.Debug("inbound ignored", "id", m.Key.ID,
				"has_text", text != "", "quoted", quoted)
		}
		return domain.RelayEvent{}, false
	}

	ctx, ok := c.store.Get(quoted)
	if !ok {
		// Only replies to messages this process sent are relayed.
		c.logger.Info("reply ignored: quoted message unknown",
			"quoted", quoted, "replier", Digits(reactor))
		return domain.RelayEvent{}, false
	}
	digits := Digits(reactor)
	if !c.authorized(digits) {
		c.logger.Warn("reply ignored: replier not authorized", "replier", digits)
		return domain.RelayEvent{}, false
	}

	return domain.RelayEvent{
		ID:            uuid.NewString(),
		Kind:          domain.KindReply,
		MessageID:     quoted,
		Text:          text,
		ReactorDigits: digits,
		Context:       ctx,
		At:            c.now(),
	}, true
}

func (c *Classifier) reaction(rx domain.Reaction, reactor string) (domain.RelayEvent, bool) {
	target := rx.Target.ID
	if target == "" {
		return domain.RelayEvent{}, false
	}
	ctx, ok := c.store.Get(target)
	if !ok {
		c.logger.Info("reaction ignored: target message unknown",
			"target", target, "emoji", rx.Emoji)
		return domain.RelayEvent{}, false
	}
	digits := Digits(reactor)
	if !c.authorized(digits) {
		c.logger.Warn("reaction ignored: reactor not authorized", "reactor", digits)
		return domain.RelayEvent{}, false
	}

	return domain.RelayEvent{
		ID:            uuid.NewString(),
		Kind:          domain.KindReaction,
		MessageID:     target,
		Emoji:         rx.Emoji,
		ReactorDigits: digits,
		Context:       ctx,
		At:            c.now(),
	}, true
}

// authorized applies the allow-list policy: when configured, the reactor's
// digits must match the allowed identity exactly or by suffix.
func (c *Classifier) authorized(digits string) bool {
	if c.allowedDigits == "" {
		return true
	}
	if digits == "" {
		return false
	}
	return digits == c.allowedDigits ||
		strings.HasSuffix(digits, c.allowedDigits) ||
		strings.HasSuffix(c.allowedDigits, digits)
}

// bodyText picks the first non-empty body: plain text, extended text, image
// caption, video caption.
func bodyText(m domain.RawMessage) string {
	switch {
	case m.Conversation != "":
		return m.Conversation
	case m.Extended != nil && m.Extended.Text != "":
		return m.Extended.Text
	case m.Image != nil && m.Image.Caption != "":
		return m.Image.Caption
	case m.Video != nil && m.Video.Caption != "":
		return m.Video.Caption
	}
	return ""
}

// quotedID resolves the quoted message identifier, trying the known
// field-name variants in priority order.
func quotedID(m domain.RawMessage) string {
	var ctx *domain.ReplyContext
	switch {
	case m.Extended != nil && m.Extended.Context != nil:
		ctx = m.Extended.Context
	case m.Image != nil && m.Image.Context != nil:
		ctx = m.Image.Context
	case m.Video != nil && m.Video.Context != nil:
		ctx = m.Video.Context
	default:
		return ""
	}
	for _, id := range []string{ctx.StanzaID, ctx.QuotedID, ctx.LegacyStanzaID, ctx.QuotedStanzaID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// senderOf resolves the acting identity of an envelope key: the participant
// in groups, else the remote JID.
func senderOf(k domain.MessageKey) string {
	if k.SenderJID != "" {
		return k.SenderJID
	}
	return k.ChatJID
}

// Digits strips everything but decimal digits from an identity string.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
