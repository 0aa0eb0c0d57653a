package multiplexing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/relay/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, e *Engine, name string, cfg MuxerConfig) *Muxer {
	t.Helper()
	m, err := NewMuxer(name, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Register(m))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestEngineLifecycle(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, NotStarted, e.State())

	err := e.Publish(raw(1))
	assert.True(t, errors.Is(err, ErrEngineNotRunning))

	e.Start()
	assert.Equal(t, Running, e.State())
	assert.True(t, e.Running())
	assert.NoError(t, e.Publish(raw(1)))

	e.Stop()
	assert.Equal(t, Stopped, e.State())
	e.Stop()
	assert.Equal(t, Stopped, e.State())

	err = e.Publish(raw(2))
	assert.True(t, errors.Is(err, ErrEngineNotRunning))

	assert.Error(t, e.Publish(nil))
}

func TestEngineFilteredDelivery(t *testing.T) {
	e := NewEngine()
	m := register(t, e, "only-t", MuxerConfig{ReadFilter: NewFilter(typeT)})
	e.Start()
	defer e.Stop()

	require.NoError(t, e.Publish(&seqEvent{typ: typeT, seq: 1}))
	require.NoError(t, e.Publish(&seqEvent{typ: typeT, seq: 2}))
	require.NoError(t, e.Publish(&seqEvent{typ: typeU, seq: 3}))

	for want := 1; want <= 2; want++ {
		ev, err := m.Read(time.Second)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, want, ev.(*seqEvent).seq)
	}

	ev, err := m.Read(20 * time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, ev, "filtered type must not be delivered")
}

func TestEnginePerProducerOrdering(t *testing.T) {
	const perProducer = 10000

	e := NewEngine()
	all := register(t, e, "all", MuxerConfig{ReadFilter: All()})
	onlyT := register(t, e, "only-t", MuxerConfig{ReadFilter: NewFilter(typeT)})
	e.Start()
	defer e.Stop()

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			pub := NewPublisher(e)
			for i := 0; i < perProducer; i++ {
				typ := typeT
				if i%3 == 0 {
					typ = typeU
				}
				assert.NoError(t, pub.Publish(&seqEvent{typ: typ, producer: producer, seq: i}))
			}
		}(p)
	}
	wg.Wait()

	check := func(m *Muxer, wantPerProducer int) {
		last := map[int]int{0: -1, 1: -1}
		got := map[int]int{}
		for {
			ev, err := m.Read(0)
			require.NoError(t, err)
			if ev == nil {
				break
			}
			se := ev.(*seqEvent)
			require.Greater(t, se.seq, last[se.producer], "muxer %s reordered producer %d", m.Name(), se.producer)
			last[se.producer] = se.seq
			got[se.producer]++
		}
		assert.Equal(t, wantPerProducer, got[0])
		assert.Equal(t, wantPerProducer, got[1])
	}

	check(all, perProducer)
	check(onlyT, perProducer-(perProducer+2)/3)
}

func TestEngineStopWakesReaders(t *testing.T) {
	e := NewEngine()
	m := register(t, e, "blocked", MuxerConfig{})
	e.Start()

	done := make(chan error, 1)
	go func() {
		_, err := m.Read(Forever)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	e.Stop()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrShutdown))
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after Stop")
	}
}

func TestEngineStopDrainsQueued(t *testing.T) {
	e := NewEngine()
	m := register(t, e, "drain", MuxerConfig{})
	e.Start()

	require.NoError(t, e.Publish(raw(1)))
	require.NoError(t, e.Publish(raw(2)))
	e.Stop()

	for want := 1; want <= 2; want++ {
		ev, err := m.Read(Forever)
		require.NoError(t, err)
		assert.Equal(t, want, rawSeq(t, ev))
	}
	_, err := m.Read(Forever)
	assert.True(t, errors.Is(err, ErrShutdown))
}

func TestEngineRestart(t *testing.T) {
	e := NewEngine()
	m := register(t, e, "restart", MuxerConfig{})

	e.Start()
	e.Stop()
	assert.False(t, m.Stats().ProcessIn)

	e.Start()
	assert.True(t, m.Stats().ProcessIn)
	require.NoError(t, e.Publish(raw(5)))

	ev, err := m.Read(0)
	require.NoError(t, err)
	assert.Equal(t, 5, rawSeq(t, ev))
}

func TestEngineRegisterWhileStopped(t *testing.T) {
	e := NewEngine()
	e.Start()
	e.Stop()

	m := register(t, e, "late", MuxerConfig{})
	_, err := m.Read(0)
	assert.True(t, errors.Is(err, ErrShutdown))
}

func TestEngineDuplicateNames(t *testing.T) {
	e := NewEngine()
	register(t, e, "dup", MuxerConfig{})

	other, err := NewMuxer("dup", MuxerConfig{})
	require.NoError(t, err)
	defer other.Close()
	assert.Error(t, e.Register(other))
	assert.Len(t, e.Muxers(), 1)
}

func TestEngineHook(t *testing.T) {
	e := NewEngine()
	register(t, e, "storage-only", MuxerConfig{ReadFilter: CategoryFilter(events.CategoryStorage)})

	hook, err := e.Hook("hook")
	require.NoError(t, err)

	// Nothing was published before start
	ev, err := hook.Read(0)
	assert.NoError(t, err)
	assert.Nil(t, ev)

	e.Start()
	require.NoError(t, e.Publish(&seqEvent{typ: typeT, seq: 1}))
	require.NoError(t, e.Publish(&seqEvent{typ: typeU, seq: 2}))

	for want := 1; want <= 2; want++ {
		ev, err := hook.Read(0)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, want, ev.(*seqEvent).seq)
	}
	assert.True(t, hook.Stats().Hook)

	require.NoError(t, e.Unhook(hook))
	require.NoError(t, e.Publish(&seqEvent{typ: typeT, seq: 3}))
	assert.Len(t, e.Muxers(), 1)

	_, err = hook.Read(0)
	assert.True(t, errors.Is(err, ErrShutdown))
	e.Stop()
}

func TestEngineIsolatesFailedMuxer(t *testing.T) {
	e := NewEngine()
	broken := newDiskMuxer(t, "broken", MuxerConfig{HighWatermark: 2, MaxDiskBytes: 1})
	defer broken.Close()
	require.NoError(t, e.Register(broken))
	healthy := register(t, e, "healthy", MuxerConfig{})
	e.Start()
	defer e.Stop()

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Publish(raw(i)))
	}

	assert.Len(t, e.Muxers(), 1)
	assert.Equal(t, "healthy", e.Muxers()[0].Name())
	assert.Error(t, broken.Err())

	_, err := broken.Read(0)
	assert.True(t, errors.Is(err, ErrShutdown))

	for want := 0; want < 10; want++ {
		ev, err := healthy.Read(0)
		require.NoError(t, err)
		assert.Equal(t, want, rawSeq(t, ev))
	}
}

func TestEngineStats(t *testing.T) {
	e := NewEngine()
	register(t, e, "a", MuxerConfig{ReadFilter: NewFilter(typeT)})
	register(t, e, "b", MuxerConfig{})
	e.Start()
	defer e.Stop()

	require.NoError(t, e.Publish(&seqEvent{typ: typeT}))

	samples := e.QueueSamples()
	require.Len(t, samples, 2)
	assert.Equal(t, "a", samples[0].Name)
	assert.Equal(t, 1, samples[0].Memory)
	assert.Equal(t, 1, samples[1].Memory)

	stats := e.Stats()
	assert.Equal(t, "neb:14", stats[0].ReadFilter)
	assert.Equal(t, "all", stats[1].ReadFilter)
}

func TestSubscriberAndPublisher(t *testing.T) {
	e := NewEngine()
	sub, err := NewSubscriber(e, "", MuxerConfig{})
	require.NoError(t, err)
	assert.Contains(t, sub.Muxer().Name(), "subscriber-")

	pub := NewPublisher(e)
	_, err = pub.Write(raw(1))
	assert.True(t, errors.Is(err, ErrEngineNotRunning))

	e.Start()
	n, err := pub.Write(raw(1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev, err := sub.Muxer().Read(0)
	require.NoError(t, err)
	assert.Equal(t, 1, rawSeq(t, ev))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Empty(t, e.Muxers())
	e.Stop()
}
