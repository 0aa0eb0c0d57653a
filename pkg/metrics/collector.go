package metrics

import (
	"sync"
	"time"
)

// QueueSample is a point-in-time view of one muxer queue
type QueueSample struct {
	Name    string
	Memory  int
	Disk    int
	Unacked int
}

// Source is what the collector samples, usually the multiplexing engine
type Source interface {
	Running() bool
	QueueSamples() []QueueSample
}

// Collector periodically copies engine state into gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	known    map[string]struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		known:    make(map[string]struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Collector) collect() {
	if c.source.Running() {
		EngineRunning.Set(1)
	} else {
		EngineRunning.Set(0)
	}

	samples := c.source.QueueSamples()
	MuxersTotal.Set(float64(len(samples)))

	seen := make(map[string]struct{}, len(samples))
	for _, s := range samples {
		seen[s.Name] = struct{}{}
		MuxerQueueEvents.WithLabelValues(s.Name, "memory").Set(float64(s.Memory))
		MuxerQueueEvents.WithLabelValues(s.Name, "disk").Set(float64(s.Disk))
		MuxerQueueEvents.WithLabelValues(s.Name, "unacked").Set(float64(s.Unacked))
	}

	// Muxers that disappeared since the last pass
	for name := range c.known {
		if _, ok := seen[name]; !ok {
			ForgetMuxer(name)
		}
	}
	c.known = seen
}
