package dbuf

import (
	"context"
	"sync"
)

// fakeChunk is the in-package ArcBuf fake used by every test in this
// package that needs a real (non-nil) ArcCache collaborator.
type fakeChunk struct {
	data []byte
}

func (c *fakeChunk) Bytes() []byte { return c.data }
func (c *fakeChunk) Size() int     { return len(c.data) }

// fakeArc is a minimal synchronous, in-memory ArcCache: reads and writes
// happen inline (no goroutines), which keeps the dirty/read/resolve/sync
// tests deterministic without needing to synchronize on callbacks.
type fakeArc struct {
	mu       sync.Mutex
	store    map[[32]byte][]byte
	released map[*fakeChunk]bool
	evictSet map[*fakeChunk]bool
}

func newFakeArc() *fakeArc {
	return &fakeArc{
		store:    make(map[[32]byte][]byte),
		released: make(map[*fakeChunk]bool),
		evictSet: make(map[*fakeChunk]bool),
	}
}

func (a *fakeArc) Read(ctx context.Context, ptr *BlockPtr, size int, priority ReadPriority, done func(ReadResult)) {
	if ptr == nil || ptr.Hole {
		done(ReadResult{Buf: &fakeChunk{data: make([]byte, size)}})
		return
	}
	a.mu.Lock()
	data, ok := a.store[ptr.Addr]
	a.mu.Unlock()
	if !ok {
		done(ReadResult{Err: ErrIO})
		return
	}
	out := make([]byte, len(data))
	copy(out, data)
	done(ReadResult{Buf: &fakeChunk{data: out}, Cached: true})
}

func (a *fakeArc) CachedOnly(ptr *BlockPtr, size int) (ArcBuf, bool) {
	if ptr == nil {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.store[ptr.Addr]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return &fakeChunk{data: out}, true
}

func (a *fakeArc) Alloc(size int) ArcBuf { return &fakeChunk{data: make([]byte, size)} }
func (a *fakeArc) Loan(size int) ArcBuf  { return &fakeChunk{data: make([]byte, size)} }

func (a *fakeArc) Return(buf ArcBuf, ptr *BlockPtr) {
	ck, ok := buf.(*fakeChunk)
	if !ok || ptr == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store[ptr.Addr] = ck.data
}

func (a *fakeArc) Release(buf ArcBuf) {
	if ck, ok := buf.(*fakeChunk); ok {
		a.mu.Lock()
		a.released[ck] = true
		a.mu.Unlock()
	}
}

func (a *fakeArc) Released(buf ArcBuf) bool {
	ck, ok := buf.(*fakeChunk)
	if !ok {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released[ck]
}

func (a *fakeArc) Freeze(buf ArcBuf) {}
func (a *fakeArc) Thaw(buf ArcBuf)   {}

func (a *fakeArc) RemoveRef(buf ArcBuf) {}

func (a *fakeArc) Evict(buf ArcBuf) {
	if ck, ok := buf.(*fakeChunk); ok {
		a.mu.Lock()
		a.evictSet[ck] = true
		a.mu.Unlock()
	}
}

func (a *fakeArc) ShouldEvict(buf ArcBuf) bool {
	ck, ok := buf.(*fakeChunk)
	if !ok {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evictSet[ck]
}

func (a *fakeArc) Write(ctx context.Context, txg uint64, ptr *BlockPtr, buf ArcBuf, readyCB func(), done func(err error)) WriteHandle {
	wh := &fakeWriteHandle{dispatchCh: make(chan struct{}), resultCh: make(chan error, 1)}
	go func() {
		<-wh.dispatchCh
		if readyCB != nil {
			readyCB()
		}
		if ptr != nil && !ptr.Hole {
			a.mu.Lock()
			a.store[ptr.Addr] = append([]byte(nil), buf.Bytes()...)
			a.mu.Unlock()
		}
		wh.resultCh <- nil
		done(nil)
	}()
	return wh
}

func (a *fakeArc) Free(ptr *BlockPtr) {
	if ptr == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.store, ptr.Addr)
}

type fakeWriteHandle struct {
	once       sync.Once
	dispatchCh chan struct{}
	resultCh   chan error
}

func (w *fakeWriteHandle) Dispatch() { w.once.Do(func() { close(w.dispatchCh) }) }
func (w *fakeWriteHandle) Wait() error { return <-w.resultCh }

// fakeObjectLayer is a map-backed ObjectLayer fake local to this package's
// tests (dbuf/testutil cannot be imported here: it imports dbuf).
type fakeObjectLayer struct {
	mu                sync.Mutex
	blockPtrs         map[Key]*BlockPtr
	freed             map[Key]uint64
	bonus             map[uint64][]byte
	copies            map[uint64]int
	blocksPerIndirect BlockID
	maxLevel          int16
	indirectSize      uint32
}

func newFakeObjectLayer() *fakeObjectLayer {
	return &fakeObjectLayer{
		blockPtrs:         make(map[Key]*BlockPtr),
		freed:             make(map[Key]uint64),
		bonus:             make(map[uint64][]byte),
		copies:            make(map[uint64]int),
		blocksPerIndirect: 4,
		maxLevel:          3,
		indirectSize:      256,
	}
}

func (o *fakeObjectLayer) BlockPtr(objset ObjSet, object uint64, level int16, blkid BlockID) *BlockPtr {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blockPtrs[Key{objset, object, level, blkid}]
}

func (o *fakeObjectLayer) ParentBlockPtrSlot(objset ObjSet, object uint64, level int16, blkid BlockID) *BlockPtr {
	return o.BlockPtr(objset, object, level, blkid)
}

func (o *fakeObjectLayer) IsFreed(objset ObjSet, object uint64, level int16, blkid BlockID, txg uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	freedTxg, ok := o.freed[Key{objset, object, level, blkid}]
	return ok && freedTxg <= txg
}

func (o *fakeObjectLayer) WillUseSpace(objset ObjSet, object uint64, delta int64) {}

func (o *fakeObjectLayer) SetMaxBlkID(objset ObjSet, object uint64, blkid BlockID) {}

func (o *fakeObjectLayer) BonusRegion(objset ObjSet, object uint64, maxLen int) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]byte, maxLen)
	copy(out, o.bonus[object])
	return out
}

func (o *fakeObjectLayer) WriteBonusRegion(objset ObjSet, object uint64, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bonus[object] = append([]byte(nil), data...)
}

func (o *fakeObjectLayer) NumCopies(objset ObjSet, object uint64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n, ok := o.copies[object]; ok {
		return n
	}
	return 1
}

func (o *fakeObjectLayer) ReleaseBonusHold(objset ObjSet, object uint64) {}

func (o *fakeObjectLayer) ParentOf(key Key) (Key, bool) {
	if key.Level >= o.maxLevel {
		return Key{}, false
	}
	return Key{ObjSet: key.ObjSet, Object: key.Object, Level: key.Level + 1, BlockID: BlockID(uint64(key.BlockID) / uint64(o.blocksPerIndirect))}, true
}

func (o *fakeObjectLayer) IndirectBlockSize(objset ObjSet, object uint64) uint32 {
	return o.indirectSize
}

type fakeTxnManager struct {
	mu      sync.Mutex
	txg     uint64
	syncing bool
}

func newFakeTxnManager() *fakeTxnManager { return &fakeTxnManager{txg: 1} }

func (t *fakeTxnManager) CurrentTXG() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.txg
}
func (t *fakeTxnManager) Syncing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syncing
}
func (t *fakeTxnManager) MaxConcurrentTXGs() int { return 8 }

type fakePrefetcher struct {
	mu    sync.Mutex
	hints []Key
}

func (p *fakePrefetcher) Hint(objset ObjSet, object uint64, level int16, blkid BlockID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hints = append(p.hints, Key{objset, object, level, blkid})
}

// newTestCache wires a fakeArc/fakeObjectLayer/fakeTxnManager/fakePrefetcher
// into a ready Cache for dirty/read/sync integration tests.
func newTestCache() (*Cache, *fakeArc, *fakeObjectLayer, *fakeTxnManager) {
	arc := newFakeArc()
	obj := newFakeObjectLayer()
	txn := newFakeTxnManager()
	cfg := testConfig()
	c := NewCache(arc, obj, txn, &fakePrefetcher{}, cfg)
	return c, arc, obj, txn
}
