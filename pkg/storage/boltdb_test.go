package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/relay/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, path string, opts Options) *BoltCache {
	t.Helper()
	if opts.Catalog == nil {
		opts.Catalog = events.NewCatalog()
	}
	c, err := OpenBoltCache(path, opts)
	require.NoError(t, err)
	return c
}

func rawEvent(s string) *events.Raw {
	return events.NewRaw([]byte(s))
}

func TestQueuePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/lib/relay", "sql_out.queue.db"), QueuePath("/var/lib/relay", "sql/out"))
}

func TestBoltCache_FIFO(t *testing.T) {
	c := openTestCache(t, filepath.Join(t.TempDir(), "fifo.queue.db"), Options{})
	defer c.Close()

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(rawEvent(s)))
	}
	assert.Equal(t, 3, c.Len())

	for _, want := range []string{"a", "b", "c"} {
		e, err := c.Get()
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, []byte(want), e.(*events.Raw).Data)
	}

	e, err := c.Get()
	assert.NoError(t, err)
	assert.Nil(t, e)
	assert.Equal(t, 0, c.Len())
}

func TestBoltCache_TransactionBatch(t *testing.T) {
	c := openTestCache(t, filepath.Join(t.TempDir(), "batch.queue.db"), Options{})
	defer c.Close()

	txn, err := c.Transaction()
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, txn.Put(rawEvent("x")))
	}
	assert.Equal(t, 0, c.Len(), "uncommitted events must not be visible")
	require.NoError(t, txn.Commit())
	assert.Equal(t, 100, c.Len())
}

func TestBoltCache_Rollback(t *testing.T) {
	c := openTestCache(t, filepath.Join(t.TempDir(), "rollback.queue.db"), Options{})
	defer c.Close()

	txn, err := c.Transaction()
	require.NoError(t, err)
	require.NoError(t, txn.Put(rawEvent("lost")))
	require.NoError(t, txn.Rollback())

	assert.Equal(t, 0, c.Len())
	e, err := c.Get()
	assert.NoError(t, err)
	assert.Nil(t, e)
}

func TestBoltCache_ReplaysUnreleasedAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.queue.db")

	c := openTestCache(t, path, Options{})
	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, c.Put(rawEvent(s)))
	}

	// Consume two, acknowledge only the first
	_, err := c.Get()
	require.NoError(t, err)
	_, err = c.Get()
	require.NoError(t, err)
	require.NoError(t, c.Release(1))
	require.NoError(t, c.Close())

	c = openTestCache(t, path, Options{})
	defer c.Close()

	assert.Equal(t, 2, c.Len())
	for _, want := range []string{"two", "three"} {
		e, err := c.Get()
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, []byte(want), e.(*events.Raw).Data)
	}
}

func TestBoltCache_ReleaseBoundedByConsumed(t *testing.T) {
	c := openTestCache(t, filepath.Join(t.TempDir(), "release.queue.db"), Options{})
	defer c.Close()

	require.NoError(t, c.Put(rawEvent("a")))
	require.NoError(t, c.Put(rawEvent("b")))

	// Nothing consumed yet, nothing may be released
	require.NoError(t, c.Release(5))
	assert.Equal(t, 2, c.Len())

	e, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), e.(*events.Raw).Data)
}

func TestBoltCache_Compression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zstd.queue.db")
	c := openTestCache(t, path, Options{Compress: true})

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	ev := events.NewRaw(payload)
	ev.SourceID = 4
	ev.DestinationID = 9
	require.NoError(t, c.Put(ev))
	require.NoError(t, c.Close())

	// Compressed records are readable by an uncompressed cache
	c = openTestCache(t, path, Options{})
	defer c.Close()

	got, err := c.Get()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ev, got)
}

func TestBoltCache_DiskExhausted(t *testing.T) {
	c := openTestCache(t, filepath.Join(t.TempDir(), "full.queue.db"), Options{MaxBytes: 1})
	defer c.Close()

	err := c.Put(rawEvent("does not fit"))
	assert.True(t, errors.Is(err, ErrDiskExhausted))
	assert.Equal(t, 0, c.Len())
}

func TestBoltCache_DiskExhaustedWithinBatch(t *testing.T) {
	const limit = 256 * 1024
	c := openTestCache(t, filepath.Join(t.TempDir(), "batch-full.queue.db"), Options{MaxBytes: limit})
	defer c.Close()

	txn, err := c.Transaction()
	require.NoError(t, err)

	var putErr error
	accepted := 0
	for i := 0; i < 4000; i++ {
		if putErr = txn.Put(events.NewRaw(make([]byte, 1024))); putErr != nil {
			break
		}
		accepted++
	}
	require.True(t, errors.Is(putErr, ErrDiskExhausted), "got %v", putErr)
	assert.Greater(t, accepted, 200)
	assert.Less(t, accepted, limit/1024)

	require.NoError(t, txn.Rollback())
	assert.Equal(t, 0, c.Len())
}

func TestBoltCache_ReleaseFreesSpace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reuse.queue.db")
	opts := Options{MaxBytes: 64 * 1024}
	c := openTestCache(t, path, opts)

	fill := func() int {
		n := 0
		for {
			err := c.Put(events.NewRaw(make([]byte, 1024)))
			if err != nil {
				require.True(t, errors.Is(err, ErrDiskExhausted), "got %v", err)
				return n
			}
			n++
		}
	}

	stored := fill()
	require.Greater(t, stored, 0)

	// The cap survives a restart
	require.NoError(t, c.Close())
	c = openTestCache(t, path, opts)
	defer c.Close()
	assert.Equal(t, stored, c.Len())
	assert.True(t, errors.Is(c.Put(events.NewRaw(make([]byte, 1024))), ErrDiskExhausted))

	for i := 0; i < stored; i++ {
		_, err := c.Get()
		require.NoError(t, err)
	}
	require.NoError(t, c.Release(stored))

	assert.Equal(t, stored, fill())
}

// futureEvent is only known to the catalog that wrote it
type futureEvent struct {
	events.Header `cbor:"-"`
	Value         string `cbor:"1,keyasint"`
}

func (*futureEvent) Type() events.Type { return events.NewType(events.CategoryBAM, 99) }

func TestBoltCache_DropsUnreadableRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unreadable.queue.db")

	newer := events.NewCatalog()
	require.NoError(t, newer.Register((&futureEvent{}).Type(), events.CBORInfo[futureEvent]("future")))

	c := openTestCache(t, path, Options{Catalog: newer})
	require.NoError(t, c.Put(rawEvent("a")))
	require.NoError(t, c.Put(&futureEvent{Value: "unknown here"}))
	require.NoError(t, c.Put(rawEvent("b")))
	require.NoError(t, c.Close())

	c = openTestCache(t, path, Options{})
	for _, want := range []string{"a", "b"} {
		e, err := c.Get()
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, []byte(want), e.(*events.Raw).Data)
	}

	// Acknowledging both delivered events must empty the queue
	require.NoError(t, c.Release(2))
	require.NoError(t, c.Close())

	c = openTestCache(t, path, Options{})
	defer c.Close()
	assert.Equal(t, 0, c.Len())
}

func TestBoltCache_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.queue.db")
	c := openTestCache(t, path, Options{})
	require.NoError(t, c.Put(rawEvent("a")))

	require.NoError(t, c.Remove())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Closing twice is harmless
	assert.NoError(t, c.Close())
}

func TestOpenBoltCache_RequiresCatalog(t *testing.T) {
	_, err := OpenBoltCache(filepath.Join(t.TempDir(), "x.queue.db"), Options{})
	assert.Error(t, err)
}
