// Package metrics provides a lightweight, Prometheus-compatible collector for
// the bridge. It renders text/plain exposition format without pulling in the
// heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

var (
	registryMu sync.Mutex
	counters   []*Counter
	gauges     []*Gauge
	startTime  = time.Now()
)

func newCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	registryMu.Lock()
	counters = append(counters, c)
	registryMu.Unlock()
	return c
}

func newGauge(name, help string) *Gauge {
	g := &Gauge{name: name, help: help}
	registryMu.Lock()
	gauges = append(gauges, g)
	registryMu.Unlock()
	return g
}

// Bridge metrics.
var (
	SendsTotal      = newCounter("wabridge_sends_total", "Outbound units successfully sent")
	SendFailures    = newCounter("wabridge_send_failures_total", "Outbound unit send failures")
	Reconnects      = newCounter("wabridge_reconnects_total", "Session reconnect attempts")
	EventsRelayed   = newCounter("wabridge_events_relayed_total", "Classified events published")
	WebhookFailures = newCounter("wabridge_webhook_failures_total", "Panel webhook deliveries dropped after retry")
	Connected       = newGauge("wabridge_connected", "1 while the session is open")
	Subscribers     = newGauge("wabridge_subscribers", "Live push-channel subscribers")
)

// Handler renders all registered metrics in Prometheus text format.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP wabridge_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE wabridge_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "wabridge_uptime_seconds %d\n", int64(time.Since(startTime).Seconds()))

		registryMu.Lock()
		defer registryMu.Unlock()
		for _, c := range counters {
			fmt.Fprintf(&sb, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", c.name)
			fmt.Fprintf(&sb, "%s %d\n", c.name, c.Value())
		}
		for _, g := range gauges {
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
		}
		fmt.Fprint(w, sb.String())
	}
}
