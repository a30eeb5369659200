package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Keepalive periodically GETs a public URL so free-tier hosts do not idle the
// process out. Failures are logged and ignored.
type Keepalive struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
}

func NewKeepalive(url string, interval time.Duration, logger *slog.Logger) *Keepalive {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Keepalive{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Run pings until ctx is cancelled.
func (k *Keepalive) Run(ctx context.Context) {
	if k.url == "" {
		return
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Info("keepalive started", "url", k.url, "interval", k.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.ping(ctx)
		}
	}
}

func (k *Keepalive) ping(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		k.logger.Warn("keepalive request build failed", "err", err)
		return
	}
	resp, err := k.client.Do(req)
	if err != nil {
		k.logger.Warn("keepalive ping failed", "err", err)
		return
	}
	resp.Body.Close()
	k.logger.Debug("keepalive ping", "status", resp.StatusCode)
}
