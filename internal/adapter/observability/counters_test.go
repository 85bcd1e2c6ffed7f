package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounterKey_Deterministic(t *testing.T) {
	a := CounterKey("gemini.attempts", map[string]string{"keyId": "k1", "attempt": "2"})
	b := CounterKey("gemini.attempts", map[string]string{"attempt": "2", "keyId": "k1"})
	assert.Equal(t, a, b)
	assert.Equal(t, `gemini.attempts|{"attempt":"2","keyId":"k1"}`, a)
	assert.Equal(t, "gemini.success", CounterKey("gemini.success", nil))
}

func TestCounters_AggregatesIdenticalTagSets(t *testing.T) {
	c := NewCounters(nil)
	c.Increment("gemini.failures", 1, map[string]string{"keyId": "k1"})
	c.Increment("gemini.failures", 1, map[string]string{"keyId": "k1"})
	c.Increment("gemini.failures", 2, map[string]string{"keyId": "k2"})
	c.Increment("gemini.success", 1, nil)

	snap := c.Snapshot()
	assert.Equal(t, 2.0, snap[`gemini.failures|{"keyId":"k1"}`])
	assert.Equal(t, 2.0, snap[`gemini.failures|{"keyId":"k2"}`])
	assert.Equal(t, 4.0, c.Sum("gemini.failures"))
	assert.Equal(t, 1.0, c.Sum("gemini.success"))
	assert.Zero(t, c.Sum("gemini.fail"))

	snap["gemini.success"] = 100
	assert.Equal(t, 1.0, c.Snapshot()["gemini.success"], "snapshot is a copy")
}

func TestCounters_ConcurrentIncrements(t *testing.T) {
	c := NewCounters(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Increment("gemini.attempts", 1, map[string]string{"mode": "rotation"})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5000.0, c.Sum("gemini.attempts"))
}

func TestPromSink_MirrorsWithLowCardinalityLabels(t *testing.T) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_rotation_events_total"}, []string{"event", "mode"})
	inner := NewCounters(nil)
	sink := NewPromSink(inner, vec)

	sink.Increment("gemini.attempts", 1, map[string]string{"mode": "rotation", "keyId": "k1"})
	sink.Increment("gemini.attempts", 1, map[string]string{"mode": "rotation", "keyId": "k2"})

	assert.Equal(t, 2.0, testutil.ToFloat64(vec.WithLabelValues("gemini.attempts", "rotation")))
	assert.Len(t, sink.Snapshot(), 2)
}
