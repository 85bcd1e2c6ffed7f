package observability

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// Counters is an in-memory domain.MetricsSink. Values do not survive restarts.
type Counters struct {
	mu     sync.Mutex
	values map[string]float64
	logger *slog.Logger
}

// NewCounters creates an empty sink. A nil logger falls back to slog.Default.
func NewCounters(logger *slog.Logger) *Counters {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counters{values: map[string]float64{}, logger: logger}
}

// Increment adds amount to the counter identified by name and tags.
func (c *Counters) Increment(name string, amount float64, tags map[string]string) {
	key := CounterKey(name, tags)
	c.mu.Lock()
	c.values[key] += amount
	total := c.values[key]
	c.mu.Unlock()
	c.logger.Debug("metric", slog.String("key", key), slog.Float64("value", total))
}

// Snapshot copies the current counters.
func (c *Counters) Snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Sum totals name across every tag set.
func (c *Counters) Sum(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total float64
	for k, v := range c.values {
		if k == name || strings.HasPrefix(k, name+"|") {
			total += v
		}
	}
	return total
}

// CounterKey renders name plus tags with sorted keys, e.g. name|{"a":"1","b":"2"}.
func CounterKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("|{")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kj, _ := json.Marshal(k)
		vj, _ := json.Marshal(tags[k])
		b.Write(kj)
		b.WriteByte(':')
		b.Write(vj)
	}
	b.WriteByte('}')
	return b.String()
}

// PromSink forwards increments to Prometheus using only the event name and the
// mode tag as labels, then delegates to the wrapped sink.
type PromSink struct {
	next    domain.MetricsSink
	counter *prometheus.CounterVec
}

// NewPromSink wraps next. A nil counter uses RotationEventsTotal.
func NewPromSink(next domain.MetricsSink, counter *prometheus.CounterVec) *PromSink {
	if counter == nil {
		counter = RotationEventsTotal
	}
	return &PromSink{next: next, counter: counter}
}

func (p *PromSink) Increment(name string, amount float64, tags map[string]string) {
	p.counter.WithLabelValues(name, tags["mode"]).Add(amount)
	p.next.Increment(name, amount, tags)
}

func (p *PromSink) Snapshot() map[string]float64 { return p.next.Snapshot() }
