package dbuf

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// BufSet represents an outstanding multi-buffer read waiter (spec.md §3
// Buffer.buf_sets): a caller that asked for several buffers at once and is
// waiting for all of them to resolve to CACHED.
type BufSet struct {
	mu      sync.Mutex
	pending mapset.Set[Key]
	done    chan struct{}
	err     error
}

// NewBufSet creates a waiter for the given set of keys.
func NewBufSet(keys []Key) *BufSet {
	s := mapset.NewSet[Key](keys...)
	return &BufSet{pending: s, done: make(chan struct{})}
}

// Wait blocks until every key in the set has resolved.
func (bs *BufSet) Wait() error {
	<-bs.done
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.err
}

// resolve marks key as complete; if err is non-nil it is sticky (first
// error wins). Closes done once the set empties.
func (bs *BufSet) resolve(key Key, err error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.pending.Contains(key) {
		return
	}
	bs.pending.Remove(key)
	if err != nil && bs.err == nil {
		bs.err = err
	}
	if bs.pending.Cardinality() == 0 {
		close(bs.done)
	}
}

// UserData is the opaque client-attached pointer with an eviction callback
// (spec.md §3 Buffer.user).
type UserData struct {
	Data     interface{}
	OnEvict  func(data interface{})
	Immediate bool
}

// Buffer is the per-block cache entry, identity tuple (ObjSet, Object,
// Level, BlockID) (spec.md §3). Exactly one Buffer exists per identity at
// any time; the hash index (dbuf/hash.go) enforces this.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	key  Key
	kind Kind

	size uint32
	data []byte // frontend payload view; nil when arcBuf/anonData absent
	arcBuf ArcBuf

	state State
	holds int32

	dirtyRecords []*DirtyRecord // newest first (I1)
	dirtyCount   int

	blkptr *BlockPtr
	parent *Buffer

	user *UserData

	dataPending *DirtyRecord
	freedInFlight bool

	bufSets []*BufSet

	// Collaborators, injected at construction so every operation has what
	// it needs without a global.
	index    *HashIndex
	arc      ArcCache
	objLayer ObjectLayer
	txnMgr   TxnManager
	prefetch Prefetcher
	cfg      Config
}

// newBuffer allocates a fresh Buffer in UNCACHED, not yet registered with
// the hash index (the caller does that via HashIndex.insert). Mirrors
// dbuf.c's dbuf_create before dbuf_hash_insert.
func newBuffer(key Key, kind Kind, size uint32, idx *HashIndex, arc ArcCache, obj ObjectLayer, txn TxnManager, pf Prefetcher, cfg Config) *Buffer {
	db := &Buffer{
		key:      key,
		kind:     kind,
		size:     size,
		state:    StateUncached,
		index:    idx,
		arc:      arc,
		objLayer: obj,
		txnMgr:   txn,
		prefetch: pf,
		cfg:      cfg,
	}
	db.cond = sync.NewCond(&db.mu)
	if kind == KindNofill {
		db.state = StateNofill
	}
	return db
}

// Key returns the buffer's identity.
func (db *Buffer) Key() Key { return db.key }

// Kind returns the buffer's kind.
func (db *Buffer) Kind() Kind { return db.kind }

// Size returns the payload size in bytes.
func (db *Buffer) Size() uint32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.size
}

// State returns the current state bitset. Intended for tests and
// diagnostics; foreground code should not branch on a snapshot taken
// without holding the lock across the subsequent action.
func (db *Buffer) State() State {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state
}

// Data returns the frontend payload. Per spec.md §5, a reader that
// observes state==CACHED may read data without the Buffer mutex provided
// it holds a reference; this accessor takes the lock only to read the
// slice header, which is safe to do unconditionally.
func (db *Buffer) Data() []byte {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.data
}

// Holds returns the current reference count.
func (db *Buffer) Holds() int32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.holds
}

// DirtyCount returns the number of live dirty records.
func (db *Buffer) DirtyCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.dirtyCount
}

// waitWhile blocks on db.cond while cond() is true. Callers hold db.mu.
func (db *Buffer) waitWhile(cond func() bool) {
	for cond() {
		db.cond.Wait()
	}
}

// setStateLocked assigns a new state, verifying legality in debug builds.
// Callers hold db.mu.
func (db *Buffer) setStateLocked(s State) {
	verifyState(s)
	db.state = s
}
