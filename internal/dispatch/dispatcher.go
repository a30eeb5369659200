// Package dispatch executes outbound send requests against the session
// provider: destination normalization, the media-then-text fallback sequence,
// and correlation bookkeeping for every identifier produced.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wabridge/internal/correlate"
	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const (
	groupSuffix      = "@g.us"
	individualSuffix = "@s.whatsapp.net"
)

// Journal records sent units for auditing. Implementations must tolerate
// being called from multiple goroutines.
type Journal interface {
	RecordSend(messageID, destination, text string, ctx domain.CorrelationContext) error
}

// StateFunc reports the current connection state; the dispatcher gates sends
// on it.
type StateFunc func() domain.ConnectionState

type Dispatcher struct {
	provider domain.SessionProvider
	state    StateFunc
	store    *correlate.Store
	limiter  *rate.Limiter
	journal  Journal // optional
	logger   *slog.Logger
	timeout  time.Duration
}

type Config struct {
	Provider      domain.SessionProvider
	State         StateFunc
	Store         *correlate.Store
	RatePerSecond int
	Journal       Journal
	Logger        *slog.Logger
	SendTimeout   time.Duration
}

func New(cfg Config) *Dispatcher {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}
	return &Dispatcher{
		provider: cfg.Provider,
		state:    cfg.State,
		store:    cfg.Store,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		journal:  cfg.Journal,
		logger:   cfg.Logger,
		timeout:  cfg.SendTimeout,
	}
}

// NormalizeDestination maps a raw destination to a JID. A string already
// carrying an @-scoped suffix is used as-is; otherwise a hyphen marks a group
// identifier, everything else an individual one.
func NormalizeDestination(dest string) (string, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return "", domain.ErrInvalidDestination
	}
	if strings.Contains(dest, "@") {
		return dest, nil
	}
	if strings.Contains(dest, "-") {
		return dest + groupSuffix, nil
	}
	return dest + individualSuffix, nil
}

// Send runs the fallback sequence: the caption-bearing media item first with
// the text body as its caption, remaining media without caption, then a
// text-only fallback when no media unit produced an identifier or the
// caption-bearing unit failed with a non-empty body. Individual
// media failures are logged and skipped; an error is returned only when
// nothing at all was sent.
func (d *Dispatcher) Send(ctx context.Context, req domain.OutboundRequest) (domain.SendResult, error) {
	if d.state() != domain.StateOpen {
		return domain.SendResult{}, domain.ErrNotConnected
	}
	jid, err := NormalizeDestination(req.Destination)
	if err != nil {
		return domain.SendResult{}, err
	}

	var (
		primary     string
		ids         []string
		lastErr     error
		captionLost bool
	)

	media := orderMedia(req.Media)
	for i, item := range media {
		caption := ""
		if i == 0 {
			caption = req.Text
		}
		id, err := d.sendOne(ctx, jid, domain.OutboundPayload{
			Media:   item.Data,
			MIME:    item.MIME,
			Caption: caption,
		})
		if err != nil {
			lastErr = err
			if i == 0 && req.Text != "" {
				captionLost = true
			}
			metrics.SendFailures.Inc()
			d.logger.Warn("media send failed, continuing", "destination", jid,
				"item", i, "err", err)
			continue
		}
		if primary == "" {
			primary = id
		}
		ids = append(ids, id)
	}

	// Fall back to text alone when no media unit produced an identifier,
	// or when the unit carrying the caption failed: the body must reach
	// the destination either way.
	if primary == "" || captionLost {
		id, err := d.sendOne(ctx, jid, domain.OutboundPayload{Text: req.Text})
		switch {
		case err != nil && primary != "":
			metrics.SendFailures.Inc()
			d.logger.Warn("caption recovery send failed", "destination", jid, "err", err)
		case err != nil:
			metrics.SendFailures.Inc()
			if lastErr != nil {
				return domain.SendResult{}, fmt.Errorf("send failed: %w (after media failure: %v)", err, lastErr)
			}
			return domain.SendResult{}, fmt.Errorf("send failed: %w", err)
		default:
			if primary == "" {
				primary = id
			}
			ids = append(ids, id)
		}
	}

	result := domain.SendResult{PrimaryID: primary, MessageIDs: ids}
	d.record(req, result)

	metrics.SendsTotal.Add(int64(len(ids)))
	d.logger.Info("sent", "destination", jid, "primary", primary, "count", len(ids))
	return result, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, jid string, p domain.OutboundPayload) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.provider.Send(sendCtx, jid, p)
}

// record inserts a correlation entry for every produced identifier, using the
// caller-supplied context or labeled-line extraction from the text body.
func (d *Dispatcher) record(req domain.OutboundRequest, res domain.SendResult) {
	cctx := domain.CorrelationContext{}
	if req.Context != nil {
		cctx = *req.Context
	} else {
		cctx = ExtractContext(req.Text)
	}
	for _, id := range res.MessageIDs {
		d.store.Put(id, cctx)
		if d.journal != nil {
			if err := d.journal.RecordSend(id, req.Destination, req.Text, cctx); err != nil {
				d.logger.Warn("journal write failed", "id", id, "err", err)
			}
		}
	}
}

// orderMedia moves the flagged caption-bearer to the front, preserving the
// relative order of everything else.
func orderMedia(items []domain.MediaItem) []domain.MediaItem {
	for i, it := range items {
		if it.CaptionBearer && i > 0 {
			out := make([]domain.MediaItem, 0, len(items))
			out = append(out, items[i])
			out = append(out, items[:i]...)
			out = append(out, items[i+1:]...)
			return out
		}
	}
	return items
}
