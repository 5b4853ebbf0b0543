package dbuf

import "context"

// BlockPtr stands in for the object layer's block pointer slot (spec.md
// §3 Buffer.blkptr): an opaque, comparable descriptor of where a block's
// on-disk payload lives. The cache never interprets its contents beyond
// nil-ness (absent) and Hole (a logical zero block).
type BlockPtr struct {
	// Addr is collaborator-defined (e.g. an offset, a content hash); the
	// cache treats it as opaque.
	Addr [32]byte
	// Hole marks a logically-zero block with no backing allocation.
	Hole bool
	// Birth is the TXG the block was written in.
	Birth uint64
}

// IsAbsent reports whether this pointer denotes "no block pointer at all"
// (the zero value), distinct from Hole (a block pointer that exists and
// names a hole).
func (b *BlockPtr) IsAbsent() bool {
	return b == nil
}

// ReadPriority mirrors arc_read's priority argument (spec.md §6).
type ReadPriority uint8

const (
	PrioritySync ReadPriority = iota
	PriorityAsync
	PriorityPrefetch
)

// ArcBuf is the handle the adaptive cache hands back for a cached
// allocation (spec.md §3 Buffer.arc_buf). The cache holds these handles
// opaquely and drives their lifecycle through the ArcCache contract below;
// it never allocates or frees payload bytes itself except via ArcCache.
type ArcBuf interface {
	// Bytes returns the payload. Callers must not retain the slice past a
	// subsequent Thaw/Release/Evict of the same handle.
	Bytes() []byte
	// Size returns len(Bytes()).
	Size() int
}

// ReadResult is delivered to ArcCache.Read's completion callback.
type ReadResult struct {
	Buf ArcBuf
	Err error
	// Cached reports whether the read was satisfied synchronously from
	// cache (mirrors arc_read's ARC_FLAG_CACHED out-parameter).
	Cached bool
}

// ArcCache is the adaptive block cache collaborator (spec.md §6). It is
// external to this spec; dbuf/arc provides a concrete implementation for
// tests and the demo.
type ArcCache interface {
	// Read issues an asynchronous read for the block named by ptr. done is
	// invoked exactly once, from some goroutine, with the result. If the
	// block is already resident, Read may invoke done synchronously before
	// returning (mirroring "synchronous-if-cached").
	Read(ctx context.Context, ptr *BlockPtr, size int, priority ReadPriority, done func(ReadResult))

	// CachedOnly looks up the block without issuing I/O (spec.md §4.2
	// CACHED_ONLY). ok is false on a miss.
	CachedOnly(ptr *BlockPtr, size int) (buf ArcBuf, ok bool)

	// Alloc returns a new anonymous, writable buffer of the given size
	// (arc_buf_alloc).
	Alloc(size int) ArcBuf

	// Loan returns a writable buffer for the caller to fill and later hand
	// back via Return (arc_loan_buf); used to allocate a new leaf dirty
	// record's frontend.
	Loan(size int) ArcBuf

	// Return adopts a loaned buffer as the cached content for ptr
	// (arc_return_buf).
	Return(buf ArcBuf, ptr *BlockPtr)

	// Release disassociates buf from the cache's bookkeeping, making it
	// anonymous so the caller may mutate it freely (arc_release).
	Release(buf ArcBuf)

	// Released reports whether buf is already anonymous.
	Released(buf ArcBuf) bool

	// Freeze marks buf content-immutable for checksum stability
	// (arc_buf_freeze).
	Freeze(buf ArcBuf)

	// Thaw undoes Freeze, required before legitimate mutation
	// (arc_buf_thaw).
	Thaw(buf ArcBuf)

	// RemoveRef drops the cache's reference on buf without evicting it
	// immediately (arc_buf_remove_ref).
	RemoveRef(buf ArcBuf)

	// Evict forcibly discards buf (arc_buf_evict).
	Evict(buf ArcBuf)

	// Write issues a write of buf at ptr for the given txg, invoking done
	// on completion (arc_write). readyCB, if non-nil, fires once the write
	// has been assigned a final block pointer but before it completes.
	Write(ctx context.Context, txg uint64, ptr *BlockPtr, buf ArcBuf, readyCB func(), done func(err error)) WriteHandle

	// Free releases a previously-written block (used to discard a
	// superseded dmu_sync override's allocation, spec.md §4.4 "free the
	// override's block if not a hole and not nop-write").
	Free(ptr *BlockPtr)

	// ShouldEvict reports whether, at holds==0 with an attached
	// non-anonymous buf, the cache considers buf uncacheable or already
	// holds a duplicate (spec.md §4.7 release: "if the Buffer isn't
	// cacheable or the ARC says a duplicate is present, clear; else leave
	// in cache").
	ShouldEvict(buf ArcBuf) bool
}

// WriteHandle is the zio-equivalent write handle threaded through
// DirtyRecord.zio / DirtyRecord leaf override_zio (spec.md §3, §4.6).
type WriteHandle interface {
	// Wait blocks until the write completes and returns its error.
	Wait() error
	// Dispatch releases a write that was issued but held back pending a
	// dependency (the deferred-resolve mechanism, spec.md §4.2/§4.6).
	Dispatch()
}

// ObjectLayer is the object/dnode collaborator (spec.md §6): object
// metadata, block pointer geometry, and the indirect-tree walk.
type ObjectLayer interface {
	// BlockPtr returns the current block-pointer slot for (object, level,
	// blkid), or nil if absent (sparse).
	BlockPtr(objset ObjSet, object uint64, level int16, blkid BlockID) *BlockPtr

	// IsFreed reports whether the object layer has already recorded this
	// block as freed in the given txg (consulted by the read path, spec.md
	// §4.2 step 4).
	IsFreed(objset ObjSet, object uint64, level int16, blkid BlockID, txg uint64) bool

	// WillUseSpace reports a pending space delta to the object layer's
	// accounting (arc_write's birth/death bookkeeping, spec.md §4.6
	// write_done).
	WillUseSpace(objset ObjSet, object uint64, delta int64)

	// SetMaxBlkID records the high-water block id for the object (used by
	// the free-range operation).
	SetMaxBlkID(objset ObjSet, object uint64, blkid BlockID)

	// ParentBlockPtrSlot walks up the indirect tree to obtain the block
	// pointer slot a child block's blkptr must be written into
	// (dbuf_check_blkptr / findbp, spec.md §4.6 step 5).
	ParentBlockPtrSlot(objset ObjSet, object uint64, level int16, blkid BlockID) *BlockPtr

	// BonusRegion returns the inline bonus payload for object, sized to at
	// most maxLen bytes (spec.md §4.2 step 3, §4.4 bonus dirty).
	BonusRegion(objset ObjSet, object uint64, maxLen int) []byte

	// WriteBonusRegion persists a bonus snapshot back into the object's
	// inline metadata (spec.md §4.6 step 4).
	WriteBonusRegion(objset ObjSet, object uint64, data []byte)

	// NumCopies reports the ditto-block copy count dn_copies threads
	// through a dirty record (spec.md SPEC_FULL supplemented feature 4).
	NumCopies(objset ObjSet, object uint64) int

	// ReleaseBonusHold drops the hold a bonus buffer keeps on its owning
	// object (spec.md §4.7 release, bonus branch).
	ReleaseBonusHold(objset ObjSet, object uint64)

	// ParentOf returns the identity of key's parent indirect block, and
	// false if key names the root (spec.md §4.4.3 dirty-parent
	// propagation, "acquire the parent indirect Buffer").
	ParentOf(key Key) (Key, bool)

	// IndirectBlockSize returns the payload size of an indirect block for
	// object (spec.md §4.4.3).
	IndirectBlockSize(objset ObjSet, object uint64) uint32
}

// TxnManager is the transaction-group collaborator (spec.md §6).
type TxnManager interface {
	// CurrentTXG returns the open TXG number.
	CurrentTXG() uint64
	// Syncing reports whether the calling goroutine is running in syncing
	// context (the syncer), used to select dirty-path behavior that must
	// not recurse into itself.
	Syncing() bool
	// MaxConcurrentTXGs bounds dirty_count per buffer.
	MaxConcurrentTXGs() int
}

// Prefetcher is the read-ahead hint collaborator (spec.md §6, out of
// scope for semantics but named as a contract); dbuf/prefetch provides a
// concrete implementation.
type Prefetcher interface {
	Hint(objset ObjSet, object uint64, level int16, blkid BlockID)
}
