package classify

import (
	"io"
	"log/slog"
	"testing"

	"wabridge/internal/correlate"
	"wabridge/internal/domain"
)

func newClassifier(t *testing.T, allowed string) (*Classifier, *correlate.Store) {
	t.Helper()
	store := correlate.NewStore(100)
	c := New(Config{
		Store:          store,
		AllowedReactor: allowed,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return c, store
}

func reactionMsg(target, emoji, sender string) domain.RawMessage {
	return domain.RawMessage{
		Key: domain.MessageKey{ID: "INBOUND1", ChatJID: sender},
		Reaction: &domain.Reaction{
			Emoji:  emoji,
			Target: domain.MessageKey{ID: target},
		},
	}
}

func replyMsg(quoted, text, sender string) domain.RawMessage {
	return domain.RawMessage{
		Key: domain.MessageKey{ID: "INBOUND2", ChatJID: sender},
		Extended: &domain.ExtendedText{
			Text:    text,
			Context: &domain.ReplyContext{StanzaID: quoted},
		},
	}
}

func TestUpserts_ReactionOnKnownMessage(t *testing.T) {
	c, store := newClassifier(t, "")
	store.Put("SENT1", domain.CorrelationContext{CustomerRef: "777", Agent: "Maria"})

	events := c.Upserts([]domain.RawMessage{
		reactionMsg("SENT1", "✅", "5511999998888@s.whatsapp.net"),
	})

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != domain.KindReaction {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.MessageID != "SENT1" || ev.Emoji != "✅" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.ReactorDigits != "5511999998888" {
		t.Errorf("reactor = %q, want digits only", ev.ReactorDigits)
	}
	if ev.Context.CustomerRef != "777" {
		t.Errorf("context not carried: %+v", ev.Context)
	}
	if ev.ID == "" {
		t.Error("event id should be assigned")
	}
}

func TestUpserts_ReactionOnUnknownMessage_Dropped(t *testing.T) {
	c, _ := newClassifier(t, "")

	events := c.Upserts([]domain.RawMessage{
		reactionMsg("NEVER-SENT", "✅", "5511999998888@s.whatsapp.net"),
	})
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0 for uncorrelated reaction", len(events))
	}
}

func TestUpserts_ReplyToKnownMessage(t *testing.T) {
	c, store := newClassifier(t, "")
	store.Put("SENT2", domain.CorrelationContext{Agent: "Joana"})

	events := c.Upserts([]domain.RawMessage{
		replyMsg("SENT2", "pode enviar amanhã", "5511988887777@s.whatsapp.net"),
	})

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != domain.KindReply {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.MessageID != "SENT2" || ev.Text != "pode enviar amanhã" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestUpserts_ReplyToUnknownMessage_Dropped(t *testing.T) {
	c, _ := newClassifier(t, "")
	events := c.Upserts([]domain.RawMessage{
		replyMsg("NEVER-SENT", "oi", "5511988887777@s.whatsapp.net"),
	})
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0 for reply to unknown message", len(events))
	}
}

func TestUpserts_PlainMessageWithoutQuote_Ignored(t *testing.T) {
	c, _ := newClassifier(t, "")
	events := c.Upserts([]domain.RawMessage{{
		Key:          domain.MessageKey{ID: "X", ChatJID: "5511@s.whatsapp.net"},
		Conversation: "bom dia",
	}})
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0 for unquoted text", len(events))
	}
}

func TestUpserts_ProtocolOnly_Ignored(t *testing.T) {
	c, store := newClassifier(t, "")
	store.Put("SENT1", domain.CorrelationContext{})

	events := c.Upserts([]domain.RawMessage{{
		Key:          domain.MessageKey{ID: "X", ChatJID: "5511@s.whatsapp.net"},
		ProtocolOnly: true,
	}})
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0 for protocol payload", len(events))
	}
}

func TestUpserts_AllowList(t *testing.T) {
	c, store := newClassifier(t, "5511999998888")
	store.Put("SENT1", domain.CorrelationContext{})

	tests := []struct {
		name   string
		sender string
		want   int
	}{
		{"exact match", "5511999998888@s.whatsapp.net", 1},
		{"other number", "5511000000000@s.whatsapp.net", 0},
		{"suffix match", "05511999998888@s.whatsapp.net", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := c.Upserts([]domain.RawMessage{
				reactionMsg("SENT1", "✅", tt.sender),
			})
			if len(events) != tt.want {
				t.Fatalf("events = %d, want %d", len(events), tt.want)
			}
		})
	}
}

func TestUpserts_GroupSenderUsesParticipant(t *testing.T) {
	c, store := newClassifier(t, "")
	store.Put("SENT1", domain.CorrelationContext{})

	events := c.Upserts([]domain.RawMessage{{
		Key: domain.MessageKey{
			ID:        "X",
			ChatJID:   "1203630-1409@g.us",
			SenderJID: "5511999998888@s.whatsapp.net",
		},
		Reaction: &domain.Reaction{Emoji: "👍", Target: domain.MessageKey{ID: "SENT1"}},
	}})
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].ReactorDigits != "5511999998888" {
		t.Fatalf("reactor = %q, want participant digits", events[0].ReactorDigits)
	}
}

func TestUpdates_ReactionAnnotation(t *testing.T) {
	c, store := newClassifier(t, "")
	store.Put("SENT1", domain.CorrelationContext{Agent: "Maria"})

	events := c.Updates([]domain.RawUpdate{{
		Key:      domain.MessageKey{ID: "U1", ChatJID: "5511999998888@s.whatsapp.net"},
		Reaction: &domain.Reaction{Emoji: "✅", Target: domain.MessageKey{ID: "SENT1"}},
	}})
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Kind != domain.KindReaction || events[0].MessageID != "SENT1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestUpdates_NonReaction_Ignored(t *testing.T) {
	c, _ := newClassifier(t, "")
	events := c.Updates([]domain.RawUpdate{{
		Key: domain.MessageKey{ID: "U1", ChatJID: "5511@s.whatsapp.net"},
	}})
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
}

func TestQuotedID_FieldPriority(t *testing.T) {
	m := domain.RawMessage{
		Extended: &domain.ExtendedText{
			Text: "x",
			Context: &domain.ReplyContext{
				QuotedID:       "second",
				LegacyStanzaID: "third",
			},
		},
	}
	if got := quotedID(m); got != "second" {
		t.Fatalf("quotedID = %q, want first non-empty variant", got)
	}

	m.Extended.Context.StanzaID = "first"
	if got := quotedID(m); got != "first" {
		t.Fatalf("quotedID = %q, want stanzaId to win", got)
	}
}

func TestBodyText_CaptionFallback(t *testing.T) {
	m := domain.RawMessage{
		Image: &domain.MediaContent{
			Caption: "segue o boleto",
			Context: &domain.ReplyContext{StanzaID: "SENT1"},
		},
	}
	if got := bodyText(m); got != "segue o boleto" {
		t.Fatalf("bodyText = %q", got)
	}
}

func TestDigits(t *testing.T) {
	tests := []struct{ in, want string }{
		{"5511999998888@s.whatsapp.net", "5511999998888"},
		{"+55 (11) 99999-8888", "5511999998888"},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Digits(tt.in); got != tt.want {
			t.Errorf("Digits(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
