package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	wm "go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"wabridge/internal/domain"
)

const (
	emitTimeout  = 10 * time.Second
	eventBufSize = 256
)

// WhatsmeowProvider implements domain.SessionProvider on top of whatsmeow.
// Credential material lives in a sqlite store under AuthDir and is wiped
// wholesale by PurgeCredentials.
type WhatsmeowProvider struct {
	authDir      string
	queryTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	client    *wm.Client
	container *sqlstore.Container
	events    chan domain.Event
}

type WhatsmeowConfig struct {
	AuthDir      string
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

func NewWhatsmeow(cfg WhatsmeowConfig) *WhatsmeowProvider {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	return &WhatsmeowProvider{
		authDir:      cfg.AuthDir,
		queryTimeout: cfg.QueryTimeout,
		logger:       cfg.Logger,
	}
}

// Open loads the credential container, connects, and starts emitting events.
// Each call builds a fresh client; a previous session, if any, is torn down.
func (p *WhatsmeowProvider) Open(ctx context.Context) (<-chan domain.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.teardownLocked()

	if err := os.MkdirAll(p.authDir, 0o755); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}

	dsn := "file:" + filepath.Join(p.authDir, "session.db") + "?_foreign_keys=on"
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err == sql.ErrNoRows {
		device = container.NewDevice()
	} else if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := wm.NewClient(device, waLog.Noop)
	// Reconnection is owned by the lifecycle manager, not the client.
	client.EnableAutoReconnect = false
	ch := make(chan domain.Event, eventBufSize)

	p.container = container
	p.client = client
	p.events = ch

	client.AddEventHandler(p.handleEvent)

	if client.Store.ID == nil {
		// No pairing yet: request the QR channel before connecting and
		// forward challenge codes as events.
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("qr channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					p.emit(domain.QRChallenge{Code: evt.Code})
				}
			}
		}()
	} else if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return ch, nil
}

// handleEvent maps whatsmeow events onto the domain event stream.
func (p *WhatsmeowProvider) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		p.emit(domain.Opened{})

	case *events.LoggedOut:
		p.emit(domain.Closed{
			Reason:    "logged out",
			Code:      int(v.Reason),
			LoggedOut: true,
		})

	case *events.Disconnected:
		p.emit(domain.Closed{Reason: "disconnected"})

	case *events.StreamReplaced:
		p.emit(domain.Closed{Reason: "stream replaced"})

	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		p.emit(domain.UpsertBatch{Items: []domain.RawMessage{rawMessage(v)}})
	}
}

// rawMessage flattens a whatsmeow message into the classifier's wire shape.
func rawMessage(v *events.Message) domain.RawMessage {
	out := domain.RawMessage{
		Key: domain.MessageKey{
			ID:        v.Info.ID,
			ChatJID:   v.Info.Chat.String(),
			SenderJID: v.Info.Sender.String(),
			FromMe:    v.Info.IsFromMe,
		},
	}
	m := v.Message
	if m == nil {
		return out
	}

	out.Conversation = m.GetConversation()

	if ext := m.GetExtendedTextMessage(); ext != nil {
		out.Extended = &domain.ExtendedText{
			Text:    ext.GetText(),
			Context: replyContext(ext.GetContextInfo()),
		}
	}
	if im := m.GetImageMessage(); im != nil {
		out.Image = &domain.MediaContent{
			Caption: im.GetCaption(),
			Context: replyContext(im.GetContextInfo()),
		}
	}
	if vid := m.GetVideoMessage(); vid != nil {
		out.Video = &domain.MediaContent{
			Caption: vid.GetCaption(),
			Context: replyContext(vid.GetContextInfo()),
		}
	}
	if rx := m.GetReactionMessage(); rx != nil {
		key := rx.GetKey()
		out.Reaction = &domain.Reaction{
			Emoji: rx.GetText(),
			Target: domain.MessageKey{
				ID:        key.GetID(),
				ChatJID:   key.GetRemoteJID(),
				SenderJID: key.GetParticipant(),
				FromMe:    key.GetFromMe(),
			},
		}
	}

	// A payload that is nothing but a protocol-housekeeping marker.
	if m.GetProtocolMessage() != nil &&
		out.Conversation == "" && out.Extended == nil &&
		out.Image == nil && out.Video == nil && out.Reaction == nil {
		out.ProtocolOnly = true
	}
	return out
}

func replyContext(ci *waProto.ContextInfo) *domain.ReplyContext {
	if ci == nil || ci.GetStanzaID() == "" {
		return nil
	}
	return &domain.ReplyContext{StanzaID: ci.GetStanzaID()}
}

// emit forwards an event to the dispatch loop, waiting briefly instead of
// dropping when the channel is full.
func (p *WhatsmeowProvider) emit(ev domain.Event) {
	p.mu.Lock()
	ch := p.events
	p.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		timer := time.NewTimer(emitTimeout)
		defer timer.Stop()
		select {
		case ch <- ev:
		case <-timer.C:
			p.logger.Error("session event dropped: dispatch loop stalled")
		}
	}
}

// Send delivers one outbound unit and returns the protocol message ID.
func (p *WhatsmeowProvider) Send(ctx context.Context, jid string, payload domain.OutboundPayload) (string, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return "", domain.ErrNotConnected
	}

	to, err := parseJID(jid)
	if err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	var msg *waProto.Message
	if len(payload.Media) > 0 {
		msg, err = p.buildMediaMessage(sendCtx, client, payload)
		if err != nil {
			return "", err
		}
	} else {
		msg = &waProto.Message{Conversation: proto.String(payload.Text)}
	}

	resp, err := client.SendMessage(sendCtx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// buildMediaMessage uploads the media blob and wraps it in the message type
// matching its MIME class.
func (p *WhatsmeowProvider) buildMediaMessage(ctx context.Context, client *wm.Client, payload domain.OutboundPayload) (*waProto.Message, error) {
	mediaType := wm.MediaDocument
	switch {
	case strings.HasPrefix(payload.MIME, "image/"):
		mediaType = wm.MediaImage
	case strings.HasPrefix(payload.MIME, "video/"):
		mediaType = wm.MediaVideo
	case strings.HasPrefix(payload.MIME, "audio/"):
		mediaType = wm.MediaAudio
	}

	up, err := client.Upload(ctx, payload.Media, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	msg := &waProto.Message{}
	switch mediaType {
	case wm.MediaImage:
		msg.ImageMessage = &waProto.ImageMessage{
			Caption:       proto.String(payload.Caption),
			Mimetype:      proto.String(payload.MIME),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	case wm.MediaVideo:
		msg.VideoMessage = &waProto.VideoMessage{
			Caption:       proto.String(payload.Caption),
			Mimetype:      proto.String(payload.MIME),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	case wm.MediaAudio:
		msg.AudioMessage = &waProto.AudioMessage{
			Mimetype:      proto.String(payload.MIME),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	default:
		msg.DocumentMessage = &waProto.DocumentMessage{
			Caption:       proto.String(payload.Caption),
			Mimetype:      proto.String(payload.MIME),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	}
	return msg, nil
}

// Groups lists joined group conversations.
func (p *WhatsmeowProvider) Groups(ctx context.Context) ([]domain.GroupInfo, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, domain.ErrNotConnected
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	groups, err := client.GetJoinedGroups(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch groups: %w", err)
	}
	out := make([]domain.GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, domain.GroupInfo{JID: g.JID.String(), Name: g.Name})
	}
	return out, nil
}

// PurgeCredentials tears the session down and removes the auth directory
// wholesale, forcing a fresh pairing challenge on the next Open.
func (p *WhatsmeowProvider) PurgeCredentials() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	if err := os.RemoveAll(p.authDir); err != nil {
		return fmt.Errorf("remove auth dir: %w", err)
	}
	return nil
}

func (p *WhatsmeowProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	return nil
}

func (p *WhatsmeowProvider) teardownLocked() {
	if p.client != nil {
		p.client.Disconnect()
		p.client = nil
	}
	if p.container != nil {
		p.container.Close()
		p.container = nil
	}
	p.events = nil
}

func parseJID(s string) (types.JID, error) {
	if strings.Contains(s, "@") {
		jid, err := types.ParseJID(s)
		if err != nil {
			return types.JID{}, fmt.Errorf("%w: %s", domain.ErrInvalidDestination, s)
		}
		return jid, nil
	}
	return types.JID{User: s, Server: types.DefaultUserServer}, nil
}
