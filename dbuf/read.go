package dbuf

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
)

// ReadFlags are the per-call semantics bits from spec.md §4.2.
type ReadFlags uint8

const (
	CanFail ReadFlags = 1 << iota
	NoPrefetch
	CachedOnly
	NeverWait
	HaveStruct
)

func (f ReadFlags) has(bit ReadFlags) bool { return f&bit != 0 }

// Read drives buf to CACHED (or returns an error), per spec.md §4.2.
func (db *Buffer) Read(ctx context.Context, flags ReadFlags) error {
	db.mu.Lock()

	if db.state.has(StateNofill) {
		db.mu.Unlock()
		return ErrNoFill
	}
	if db.state.has(StateCached) {
		db.mu.Unlock()
		if !flags.has(NoPrefetch) && db.prefetch != nil {
			db.prefetch.Hint(db.key.ObjSet, db.key.Object, db.key.Level, db.key.BlockID)
		}
		readCachedMeter.Mark(1)
		return nil
	}

	if db.kind == KindBonus {
		return db.readBonusLocked()
	}

	if db.blkptr == nil || db.blkptr.Hole || db.objLayer.IsFreed(db.key.ObjSet, db.key.Object, db.key.Level, db.key.BlockID, db.txnMgr.CurrentTXG()) {
		return db.readHoleLocked(true)
	}

	if flags.has(CachedOnly) {
		buf, ok := db.arc.CachedOnly(db.blkptr, int(db.size))
		if !ok {
			db.mu.Unlock()
			return ErrIO
		}
		db.arcBuf = buf
		db.data = buf.Bytes()
		db.setStateLocked(StateCached)
		db.mu.Unlock()
		return nil
	}

	// Transition UNCACHED|PARTIAL -> READ. If FILL is already set (another
	// thread mid-read), wait unless NEVERWAIT.
	if db.state.has(StateFill) && (db.state.has(StateRead) || db.state.has(StatePartial)) {
		if flags.has(NeverWait) {
			db.mu.Unlock()
			return nil
		}
		db.waitWhile(func() bool {
			return !db.state.has(StateCached) && !db.state.has(StateUncached)
		})
		state := db.state
		db.mu.Unlock()
		if state.has(StateUncached) {
			return ErrIO
		}
		return nil
	}

	prev := db.state
	next := StateRead | StateFill
	if prev.has(StatePartial) {
		next |= StatePartial
	}
	db.setStateLocked(next)
	db.holds++ // extra read-path hold pinning the buffer across the async gap
	ptr := db.blkptr
	size := int(db.size)
	db.mu.Unlock()

	readIssueMeter.Mark(1)
	priority := PriorityAsync
	if flags.has(HaveStruct) {
		priority = PrioritySync
	}
	db.arc.Read(ctx, ptr, size, priority, func(res ReadResult) {
		db.readDone(res, false)
	})

	if flags.has(NeverWait) {
		return nil
	}
	db.mu.Lock()
	db.waitWhile(func() bool {
		return !db.state.has(StateCached) && !db.state.has(StateUncached)
	})
	state := db.state
	db.mu.Unlock()
	if state.has(StateUncached) {
		readErrorMeter.Mark(1)
		return ErrIO
	}
	return nil
}

// readBonusLocked materializes the bonus payload from the object layer's
// inline region into a fresh scratch buffer (spec.md §4.2 step 3). Callers
// hold db.mu and it is released before return.
func (db *Buffer) readBonusLocked() error {
	region := db.objLayer.BonusRegion(db.key.ObjSet, db.key.Object, db.cfg.BonusMaxSize)
	scratch := make([]byte, len(region))
	copy(scratch, region)
	db.data = scratch
	db.setStateLocked(StateCached)
	db.mu.Unlock()
	readCachedMeter.Mark(1)
	return nil
}

// readHoleLocked synthesizes a zero-filled buffer for a hole / freed block
// (spec.md §4.2 step 4). isHoleRead distinguishes a synthetic zero-fill
// from a genuine disk miss for the read-completion merge logic (spec.md
// §4.2 "Hole-read distinction"). Callers hold db.mu; released internally.
func (db *Buffer) readHoleLocked(isHoleRead bool) error {
	zeroed := make([]byte, db.size)
	db.setStateLocked(StateRead | StateFill)
	db.holds++
	db.mu.Unlock()

	readHoleMeter.Mark(1)
	db.readDone(ReadResult{Buf: inlineArcBuf(zeroed), Cached: false}, isHoleRead)
	return nil
}

// inlineArcBuf wraps a plain slice as an ArcBuf for synthesized (hole /
// error-fallback) reads that never actually touched the adaptive cache.
type inlineArcBuf []byte

func (b inlineArcBuf) Bytes() []byte { return []byte(b) }
func (b inlineArcBuf) Size() int     { return len(b) }

// readDone is the read-completion routine (spec.md §4.2 "Read completion
// (read_done)"). isHoleRead is true only for the synthetic zero-fill path
// driven out of free_range/hole detection, not for an ordinary disk read
// that happens to return zeros.
func (db *Buffer) readDone(res ReadResult, isHoleRead bool) {
	db.mu.Lock()

	if res.Err != nil && db.dirtyCount > 0 {
		// Writers' data lives in dirty records independently; mask the
		// failure by treating it as a successful zero read (spec.md §7).
		dirtyWritesLostCounter.Inc(1)
		res = ReadResult{Buf: inlineArcBuf(make([]byte, db.size))}
	} else if res.Err != nil {
		db.setStateLocked(StateUncached)
		db.failWaitersLocked(res.Err)
		db.holds--
		db.mu.Unlock()
		return
	}

	if db.dirtyCount == 0 {
		db.arcBuf = res.Buf
		db.data = res.Buf.Bytes()
		db.setStateLocked(StateCached)
	} else {
		oldest := db.oldestDirtyRecordLocked()
		lp, isLeaf := oldest.leaf()
		if !isHoleRead && isLeaf && !lp.writeRanges.Empty() {
			db.resolveLocked(res.Buf.Bytes())
		} else {
			// No pending ranges to merge against (already resolved, or a
			// synthetic hole-read that must not touch older TXGs' data):
			// adopt the read result as the frontend directly.
			db.arcBuf = res.Buf
			db.data = res.Buf.Bytes()
			next := (db.state &^ StateRead) | StateCached
			next &^= StatePartial | StateFill
			db.setStateLocked(next)
		}
	}

	db.cond.Broadcast()
	db.holds--
	db.mu.Unlock()
}

func (db *Buffer) failWaitersLocked(err error) {
	for _, bs := range db.bufSets {
		bs.resolve(db.key, err)
	}
	db.bufSets = nil
}
