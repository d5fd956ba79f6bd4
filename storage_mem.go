package itemdb

import (
	"bytes"
	"errors"
	"slices"
	"sort"
	"sync"
)

var errStorageClosed = errors.New("storage closed")

type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[bucketName]*memBucket
	closed  bool
	writer  bool
}

// newMemStorage returns a transient in-memory storage. Several repositories
// may share one memStorage, like several processes sharing a file.
func newMemStorage() *memStorage {
	s := &memStorage{buckets: make(map[bucketName]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStorageClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, errStorageClosed
		}
		s.writer = true
	}

	// snapshot isolation by copying; fine at test sizes
	snap := make(map[bucketName]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		if writable {
			snap[k] = b.clone()
		} else {
			snap[k] = b
		}
	}
	return &memTx{writable: writable, base: s, buckets: snap}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[bucketName]*memBucket
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }
func (tx *memTx) Size() int64    { return 0 }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name bucketName) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.buckets[name]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, b: b}
}

func (tx *memTx) CreateBucket(name bucketName) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, errTxReadOnly
	}
	b := tx.buckets[name]
	if b == nil {
		b = &memBucket{}
		tx.buckets[name] = b
	}
	return memBucketHandle{tx: tx, b: b}, nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return errTxReadOnly
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return errStorageClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

var errTxReadOnly = errors.New("tx not writable")

type memBucket struct {
	items []memKV // sorted by key
}

type memKV struct {
	key   []byte
	value []byte
}

func (b *memBucket) clone() *memBucket {
	// values are never mutated in place, so a shallow copy is enough
	return &memBucket{items: slices.Clone(b.items)}
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (b memBucketHandle) Get(key []byte) []byte {
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	return b.b.items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return errTxReadOnly
	}
	key = bytes.Clone(key)
	value = bytes.Clone(value)
	i, ok := b.find(key)
	if ok {
		b.b.items[i].value = value
		return nil
	}
	b.b.items = slices.Insert(b.b.items, i, memKV{key: key, value: value})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return errTxReadOnly
	}
	if i, ok := b.find(key); ok {
		b.b.items = slices.Delete(b.b.items, i, i+1)
	}
	return nil
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{b: b.b, pos: -1}
}

func (b memBucketHandle) Stats() bucketStats {
	var inuse int64
	for _, kv := range b.b.items {
		inuse += int64(len(kv.key) + len(kv.value))
	}
	return bucketStats{KeyN: len(b.b.items), LeafInuse: inuse, LeafAlloc: inuse}
}

func (b memBucketHandle) find(key []byte) (int, bool) {
	items := b.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	return i, i < len(items) && bytes.Equal(items[i].key, key)
}

type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) at(pos int) ([]byte, []byte) {
	c.pos = pos
	if pos < 0 || pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[pos]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) { return c.at(0) }
func (c *memCursor) Last() ([]byte, []byte)  { return c.at(len(c.b.items) - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.b.items
	return c.at(sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	}))
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit := bytes.Clone(prefix)
	if len(prefix) == 0 || !inc(limit) {
		return c.Last()
	}
	items := c.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, limit) >= 0
	})
	return c.at(i - 1)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos >= len(c.b.items) {
		return nil, nil
	}
	return c.at(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	return c.at(c.pos - 1)
}
