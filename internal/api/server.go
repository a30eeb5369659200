// Package api exposes the bridge over HTTP: outbound sends, group listing,
// connection status, and a live event stream for panel agents.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"wabridge/internal/dispatch"
	"wabridge/internal/domain"
	"wabridge/internal/journal"
	"wabridge/internal/metrics"
	"wabridge/internal/relay"
)

const (
	maxBodySize  = 15 << 20 // media arrives base64-inlined
	groupTimeout = 30 * time.Second
)

// Server is the HTTP front of the bridge.
type Server struct {
	host       string
	port       int
	dispatcher *dispatch.Dispatcher
	provider   domain.SessionProvider
	state      dispatch.StateFunc
	hub        *relay.Hub
	journal    *journal.Journal
	logger     *slog.Logger
	version    string
	startedAt  time.Time

	server *http.Server
}

type ServerConfig struct {
	Host       string
	Port       int
	Dispatcher *dispatch.Dispatcher
	Provider   domain.SessionProvider
	State      dispatch.StateFunc
	Hub        *relay.Hub
	Journal    *journal.Journal // nil when the journal is disabled
	Logger     *slog.Logger
	Version    string
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		host:       cfg.Host,
		port:       cfg.Port,
		dispatcher: cfg.Dispatcher,
		provider:   cfg.Provider,
		state:      cfg.State,
		hub:        cfg.Hub,
		journal:    cfg.Journal,
		logger:     cfg.Logger,
		version:    cfg.Version,
		startedAt:  time.Now(),
	}
}

// Start runs the listener until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /groups", s.handleGroups)
	mux.HandleFunc("GET /sent", s.handleRecentSends)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.Handle("GET /metrics", metrics.Handler())

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("http server started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleRoot(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}
	fmt.Fprintf(rw, "wabridge %s: session %s\n", s.version, s.state())
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	state := s.state()
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"state":     state.String(),
		"connected": state == domain.StateOpen,
		"version":   s.version,
		"uptime":    int64(time.Since(s.startedAt).Seconds()),
		"time":      time.Now().Format(time.RFC3339),
	})
}

type sendRequest struct {
	Destination string        `json:"destination"`
	Text        string        `json:"text"`
	Media       []mediaUpload `json:"media"`

	// Aliases the legacy panel still posts.
	Number  string `json:"number"`
	Message string `json:"message"`

	// Optional explicit correlation labels. When absent, labels are read
	// from the text body.
	Context *domain.CorrelationContext `json:"context,omitempty"`
}

type mediaUpload struct {
	Data          string `json:"data"` // base64
	MIMEType      string `json:"mimetype"`
	CaptionBearer bool   `json:"captionBearer,omitempty"`
}

func (r *sendRequest) normalize() {
	if r.Destination == "" {
		r.Destination = r.Number
	}
	if r.Text == "" {
		r.Text = r.Message
	}
}

func (s *Server) handleSend(rw http.ResponseWriter, r *http.Request) {
	var req sendRequest
	body := http.MaxBytesReader(rw, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(rw, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(rw, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.normalize()
	if req.Destination == "" {
		s.writeError(rw, http.StatusBadRequest, "destination is required")
		return
	}
	if req.Text == "" && len(req.Media) == 0 {
		s.writeError(rw, http.StatusBadRequest, "text or media is required")
		return
	}

	media := make([]domain.MediaItem, 0, len(req.Media))
	for i, m := range req.Media {
		data, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			s.writeError(rw, http.StatusBadRequest, fmt.Sprintf("media[%d]: invalid base64", i))
			return
		}
		media = append(media, domain.MediaItem{
			Data:          data,
			MIME:          m.MIMEType,
			CaptionBearer: m.CaptionBearer,
		})
	}

	result, err := s.dispatcher.Send(r.Context(), domain.OutboundRequest{
		Destination: req.Destination,
		Text:        req.Text,
		Media:       media,
		Context:     req.Context,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotConnected):
			s.writeError(rw, http.StatusServiceUnavailable, "session not connected")
		case errors.Is(err, domain.ErrInvalidDestination):
			s.writeError(rw, http.StatusBadRequest, "invalid destination")
		default:
			s.logger.Error("send failed", "destination", req.Destination, "err", err)
			s.writeError(rw, http.StatusInternalServerError, "send failed: "+err.Error())
		}
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"ok":         true,
		"messageId":  result.PrimaryID,
		"messageIds": result.MessageIDs,
	})
}

func (s *Server) handleGroups(rw http.ResponseWriter, r *http.Request) {
	if s.state() != domain.StateOpen {
		s.writeError(rw, http.StatusServiceUnavailable, "session not connected")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), groupTimeout)
	defer cancel()

	groups, err := s.provider.Groups(ctx)
	if err != nil {
		s.logger.Error("group listing failed", "err", err)
		s.writeError(rw, http.StatusInternalServerError, "group listing failed")
		return
	}
	if groups == nil {
		groups = []domain.GroupInfo{}
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{"groups": groups})
}

// handleRecentSends serves the journaled send history for one destination,
// oldest first. 503 when the deployment runs without a journal.
func (s *Server) handleRecentSends(rw http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(rw, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	dest := r.URL.Query().Get("destination")
	if dest == "" {
		s.writeError(rw, http.StatusBadRequest, "destination is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(rw, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	sends, err := s.journal.RecentSends(dest, limit)
	if err != nil {
		s.logger.Error("send history query failed", "destination", dest, "err", err)
		s.writeError(rw, http.StatusInternalServerError, "send history unavailable")
		return
	}
	if sends == nil {
		sends = []journal.SentMessage{}
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{"ok": true, "messages": sends})
}

// handleEvents streams relayed events over SSE. The agent query parameter
// selects whose events the stream carries; without it the stream opens and
// closes immediately with nothing buffered.
func (s *Server) handleEvents(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	sub, snapshot := s.hub.Subscribe(r.URL.Query().Get("agent"))
	if sub == nil {
		flusher.Flush()
		return
	}
	defer s.hub.Unsubscribe(sub)

	for _, ev := range snapshot {
		writeEvent(rw, ev)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			writeEvent(rw, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(rw http.ResponseWriter, ev domain.RelayEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(rw, "event: relay\ndata: %s\n\n", data)
}

func (s *Server) writeError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": msg})
}
