// Package metrics provides a small Prometheus-compatible metrics collector
// for the bridge. It renders the text exposition format without pulling in
// prometheus/client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector the relay records into.
var Collector = NewMetricsCollector("synobridge")

// MetricsCollector aggregates counters, gauges and histograms.
type MetricsCollector struct {
	namespace  string
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewMetricsCollector(namespace string) *MetricsCollector {
	return &MetricsCollector{namespace: namespace, startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func metricKey(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns or creates the counter name{labels}.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	name = c.namespace + "_" + name
	key := metricKey(name, labels)
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates the gauge name{labels}.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	name = c.namespace + "_" + name
	key := metricKey(name, labels)
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates the histogram name{labels}. A +Inf bucket is
// always present.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	name = c.namespace + "_" + name
	key := metricKey(name, labels)
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bs := append([]float64(nil), buckets...)
	sort.Float64s(bs)
	if len(bs) == 0 || !math.IsInf(bs[len(bs)-1], 1) {
		bs = append(bs, math.Inf(1))
	}
	hb := make([]histBucket, len(bs))
	for i, b := range bs {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// sortedValues returns the map's values ordered by key so scrapes are stable.
func sortedValues(m *sync.Map) []any {
	var keys []string
	vals := map[string]any{}
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		vals[k.(string)] = v
		return true
	})
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = vals[k]
	}
	return out
}

func writeHeader(w io.Writer, written map[string]bool, name, help, typ string) {
	if written[name] {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
	written[name] = true
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// WriteTo renders every metric in Prometheus text format.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	written := map[string]bool{}

	uptime := c.namespace + "_uptime_seconds"
	writeHeader(&sb, written, uptime, "Time since start in seconds", "gauge")
	fmt.Fprintf(&sb, "%s %d\n", uptime, int64(c.Uptime().Seconds()))

	for _, v := range sortedValues(&c.counters) {
		ctr := v.(*Counter)
		writeHeader(&sb, written, ctr.name, ctr.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}
	for _, v := range sortedValues(&c.gauges) {
		g := v.(*Gauge)
		writeHeader(&sb, written, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, v := range sortedValues(&c.histograms) {
		h := v.(*Histogram)
		writeHeader(&sb, written, h.name, h.help, "histogram")
		h.mu.Lock()
		sep := ""
		if h.labels != "" {
			sep = h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{%sle=\"%s\"} %d\n", h.name, sep, le, b.count)
		}
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler renders the collector for a Prometheus scrape.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

// --- Metrics recorded by the relay ---

var (
	WebhookRelayed     = Collector.Counter("webhook_requests_total", "Inbound webhook requests by outcome", `result="relayed"`)
	WebhookRejected    = Collector.Counter("webhook_requests_total", "Inbound webhook requests by outcome", `result="loop_rejected"`)
	WebhookEmpty       = Collector.Counter("webhook_requests_total", "Inbound webhook requests by outcome", `result="empty"`)
	WebhookLimited     = Collector.Counter("webhook_requests_total", "Inbound webhook requests by outcome", `result="rate_limited"`)
	WebhookErrored     = Collector.Counter("webhook_requests_total", "Inbound webhook requests by outcome", `result="error"`)
	InflightRequests   = Collector.Gauge("inflight_requests", "Webhook requests currently being relayed", "")
	GatewayReplies     = Collector.Counter("gateway_requests_total", "Gateway calls by outcome", `result="reply"`)
	GatewayDeclined    = Collector.Counter("gateway_requests_total", "Gateway calls by outcome", `result="declined"`)
	GatewayUnavailable = Collector.Counter("gateway_requests_total", "Gateway calls by outcome", `result="unavailable"`)
	NotifyDelivered    = Collector.Counter("notify_total", "Chat deliveries by outcome", `result="delivered"`)
	NotifyFailed       = Collector.Counter("notify_total", "Chat deliveries by outcome", `result="failed"`)
	PendingDeliveries  = Collector.Gauge("pending_deliveries", "Chat deliveries not yet finished", "")

	GatewayLatency = Collector.Histogram("gateway_latency_seconds", "Gateway round-trip latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)
