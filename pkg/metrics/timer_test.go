package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_encode_seconds",
		Help: "Test histogram",
	})

	NewTimer().ObserveDuration(histogram)

	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_stream_seconds",
		Help: "Test histogram vec",
	}, []string{"direction"})

	NewTimer().ObserveDurationVec(vec, "out")
	NewTimer().ObserveDurationVec(vec, "in")

	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}

type fakeSource struct {
	running bool
	samples []QueueSample
}

func (f *fakeSource) Running() bool               { return f.running }
func (f *fakeSource) QueueSamples() []QueueSample { return f.samples }

func TestCollectorCollect(t *testing.T) {
	src := &fakeSource{
		running: true,
		samples: []QueueSample{{Name: "collector-test", Memory: 7, Disk: 3, Unacked: 1}},
	}
	c := NewCollector(src, time.Hour)
	c.collect()

	assert.Equal(t, float64(1), testutil.ToFloat64(EngineRunning))
	assert.Equal(t, float64(7), testutil.ToFloat64(MuxerQueueEvents.WithLabelValues("collector-test", "memory")))
	assert.Equal(t, float64(3), testutil.ToFloat64(MuxerQueueEvents.WithLabelValues("collector-test", "disk")))

	src.running = false
	src.samples = nil
	c.collect()
	assert.Equal(t, float64(0), testutil.ToFloat64(EngineRunning))
	assert.Equal(t, float64(0), testutil.ToFloat64(MuxersTotal))

	c.Stop()
	c.Stop()
}
