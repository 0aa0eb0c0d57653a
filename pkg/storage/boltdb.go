package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketQueue = []byte("queue")
)

const (
	recordHeaderSize = 13
	flagCompressed   = 1 << 0

	// bolt stores every key/value pair behind a 16-byte leaf element
	leafOverhead = 16
	keySize      = 8
)

// Options configures a BoltCache
type Options struct {
	// Catalog decodes stored events; required
	Catalog *events.Catalog

	// MaxBytes caps the space held by queued records, counted as key,
	// value and bolt's per-record overhead; zero means no cap
	MaxBytes int64

	// Compress stores event bodies zstd-compressed
	Compress bool
}

// BoltCache implements Cache on top of a BoltDB file
type BoltCache struct {
	db      *bolt.DB
	path    string
	opts    Options
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  zerolog.Logger

	mu       sync.Mutex
	readKey  uint64 // next sequence to read, 0 means from the start
	unread   int
	consumed int
	used     int64 // bytes held by stored records, see recordCost
	closed   bool
}

func recordCost(record []byte) int64 {
	return int64(keySize + len(record) + leafOverhead)
}

// QueuePath returns the cache file used by the named queue inside dir
func QueuePath(dir, name string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, name)
	return filepath.Join(dir, safe+".queue.db")
}

// OpenBoltCache opens or creates the cache file at path. Events left by a
// previous process are counted as unread.
func OpenBoltCache(path string, opts Options) (*BoltCache, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("cache %s: catalog is required", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	var (
		count int
		used  int64
	)
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketQueue)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketQueue, err)
		}
		return b.ForEach(func(_, v []byte) error {
			count++
			used += recordCost(v)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &BoltCache{
		db:     db,
		path:   path,
		opts:   opts,
		unread: count,
		used:   used,
		logger: log.WithComponent("cache").With().Str("path", path).Logger(),
	}

	// Records written compressed by an earlier run stay readable either way
	c.decoder, err = zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if opts.Compress {
		c.encoder, err = zstd.NewWriter(nil)
		if err != nil {
			c.decoder.Close()
			db.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	if count > 0 {
		c.logger.Info().Int("events", count).Msg("recovered events from previous run")
	}

	return c, nil
}

// Path returns the cache file location
func (c *BoltCache) Path() string {
	return c.path
}

// Transaction starts a write batch
func (c *BoltCache) Transaction() (Txn, error) {
	// Sampled before bolt's writer lock is taken, the order Get and
	// Release use. The owning muxer serializes transactions.
	c.mu.Lock()
	used := c.used
	c.mu.Unlock()

	tx, err := c.db.Begin(true)
	if err != nil {
		return nil, diskError("begin transaction", err)
	}
	b := tx.Bucket(bucketQueue)
	// Keys only ever grow, so pages are filled completely before splitting
	b.FillPercent = 1.0
	return &boltTxn{cache: c, tx: tx, bucket: b, used: used}, nil
}

// Put appends a single event in its own transaction
func (c *BoltCache) Put(e events.Event) error {
	txn, err := c.Transaction()
	if err != nil {
		return err
	}
	if err := txn.Put(e); err != nil {
		_ = txn.Rollback()
		return err
	}
	return txn.Commit()
}

// Get returns the oldest unread event
func (c *BoltCache) Get() (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.unread > 0 {
		var (
			key    uint64
			record []byte
		)
		err := c.db.View(func(tx *bolt.Tx) error {
			cur := tx.Bucket(bucketQueue).Cursor()
			var k, v []byte
			if c.readKey == 0 {
				k, v = cur.First()
			} else {
				k, v = cur.Seek(seqKey(c.readKey))
			}
			if k == nil {
				return nil
			}
			key = binary.BigEndian.Uint64(k)
			record = append([]byte(nil), v...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read cache: %w", err)
		}
		if record == nil {
			c.unread = 0
			return nil, nil
		}

		c.readKey = key + 1
		c.unread--

		e, err := c.decodeRecord(record)
		if err != nil {
			// Nobody will ever acknowledge a record this build cannot
			// read, so it leaves the queue now
			c.logger.Warn().Err(err).Uint64("seq", key).Msg("dropping unreadable cached event")
			if err := c.db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket(bucketQueue).Delete(seqKey(key))
			}); err != nil {
				return nil, diskError("drop unreadable event", err)
			}
			c.used -= recordCost(record)
			continue
		}
		c.consumed++
		return e, nil
	}
	return nil, nil
}

// Release drops the n oldest consumed events from disk
func (c *BoltCache) Release(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.consumed {
		n = c.consumed
	}
	if n <= 0 {
		return nil
	}

	var freed int64
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		keys := make([][]byte, 0, n)
		cur := b.Cursor()
		for k, v := cur.First(); k != nil && len(keys) < n; k, v = cur.Next() {
			keys = append(keys, append([]byte(nil), k...))
			freed += recordCost(v)
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return diskError("release events", err)
	}
	c.consumed -= n
	c.used -= freed
	return nil
}

// Len returns the number of unread events
func (c *BoltCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Close closes the database
func (c *BoltCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return c.db.Close()
}

// Remove closes the database and deletes its file
func (c *BoltCache) Remove() error {
	if err := c.Close(); err != nil {
		return err
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

func (c *BoltCache) encodeRecord(e events.Event) ([]byte, error) {
	body, err := c.opts.Catalog.Encode(e)
	if err != nil {
		return nil, err
	}

	var flags byte
	if c.encoder != nil {
		body = c.encoder.EncodeAll(body, nil)
		flags |= flagCompressed
	}

	route := e.Route()
	record := make([]byte, recordHeaderSize+len(body))
	binary.BigEndian.PutUint32(record[0:4], uint32(e.Type()))
	binary.BigEndian.PutUint32(record[4:8], route.SourceID)
	binary.BigEndian.PutUint32(record[8:12], route.DestinationID)
	record[12] = flags
	copy(record[recordHeaderSize:], body)
	return record, nil
}

func (c *BoltCache) decodeRecord(record []byte) (events.Event, error) {
	if len(record) < recordHeaderSize {
		return nil, fmt.Errorf("truncated record of %d bytes", len(record))
	}

	t := events.Type(binary.BigEndian.Uint32(record[0:4]))
	body := record[recordHeaderSize:]
	if record[12]&flagCompressed != 0 {
		var err error
		body, err = c.decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress record: %w", err)
		}
	}

	e, err := c.opts.Catalog.Decode(t, body)
	if err != nil {
		return nil, err
	}
	route := e.Route()
	route.SourceID = binary.BigEndian.Uint32(record[4:8])
	route.DestinationID = binary.BigEndian.Uint32(record[8:12])
	return e, nil
}

// boltTxn batches puts in a single read-write transaction
type boltTxn struct {
	cache   *BoltCache
	tx      *bolt.Tx
	bucket  *bolt.Bucket
	pending int
	used    int64
	added   int64
}

func (t *boltTxn) Put(e events.Event) error {
	record, err := t.cache.encodeRecord(e)
	if err != nil {
		return err
	}

	cost := recordCost(record)
	if limit := t.cache.opts.MaxBytes; limit > 0 && t.used+t.added+cost > limit {
		return fmt.Errorf("%w: %s would exceed %d bytes", ErrDiskExhausted, t.cache.path, limit)
	}

	seq, err := t.bucket.NextSequence()
	if err != nil {
		return diskError("allocate sequence", err)
	}
	if err := t.bucket.Put(seqKey(seq), record); err != nil {
		return diskError("store event", err)
	}
	t.pending++
	t.added += cost
	return nil
}

func (t *boltTxn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return diskError("commit", err)
	}
	t.cache.mu.Lock()
	t.cache.unread += t.pending
	t.cache.used += t.added
	t.cache.mu.Unlock()
	return nil
}

func (t *boltTxn) Rollback() error {
	return t.tx.Rollback()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// diskError marks out-of-space failures as ErrDiskExhausted
func diskError(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %s: %v", ErrDiskExhausted, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
