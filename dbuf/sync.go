package dbuf

import (
	"context"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// SyncList issues the writeback (spec.md §4.6, component C8) for every
// record in records concurrently, one child goroutine per record via
// errgroup (mirroring the teacher's concurrent-child-sync shape in
// core/state/trie_prefetcher.go), and waits for all of them. records is
// supplied by the caller's per-TXG dirty list (owned by the object/txn
// layer, out of scope for this package per spec.md §2).
func (c *Cache) SyncList(ctx context.Context, records []*DirtyRecord) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, dr := range records {
		dr := dr
		g.Go(func() error { return dr.Buffer().syncOne(gctx, dr) })
	}
	return g.Wait()
}

// syncOne dispatches to the indirect or leaf sync routine by kind (spec.md
// §4.6 "sync_indirect vs sync_leaf").
func (db *Buffer) syncOne(ctx context.Context, dr *DirtyRecord) error {
	if db.Kind() == KindIndirect {
		return db.syncIndirect(ctx, dr)
	}
	return db.syncLeaf(ctx, dr)
}

// syncIndirect recursively syncs every child dirty record attached to dr
// before writing this block's own current buffer (spec.md §4.6
// sync_indirect). The buffer is written as it stands; nothing here copies
// the children's resulting block pointers into it.
func (db *Buffer) syncIndirect(ctx context.Context, dr *DirtyRecord) error {
	syncIndirectMeter.Mark(1)
	ip, ok := dr.indirect()
	if !ok {
		return nil
	}
	children := ip.childrenSnapshot()
	if len(children) > 0 {
		syncSplitMeter.Mark(1)
		g, gctx := errgroup.WithContext(ctx)
		for _, child := range children {
			child := child
			g.Go(func() error { return child.Buffer().syncOne(gctx, child) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	db.mu.Lock()
	buf := db.arcBuf
	ptr := db.objLayer.ParentBlockPtrSlot(db.key.ObjSet, db.key.Object, db.key.Level, db.key.BlockID)
	db.mu.Unlock()
	if buf == nil {
		return db.finishSync(dr, nil)
	}

	done := make(chan error, 1)
	wh := db.arc.Write(ctx, dr.txg, ptr, buf, nil, func(err error) { done <- err })
	dr.zio = wh
	wh.Dispatch()
	err := <-done
	return db.finishSync(dr, err)
}

// syncLeaf writes dr's snapshot (spec.md §4.6 sync_leaf). A bonus record
// has no arc-cached payload and goes through the object layer's inline
// write instead. An override already set by an earlier immediate write
// (dmu_sync) short-circuits the physical write entirely: the record is
// retired without a write, and no block pointer is adopted from the
// override. Otherwise, if write ranges are still pending
// at issue time, the write is issued but held back (dr.zio parked) until a
// concurrent read's merge completes and calls dispatchDeferredLocked —
// the one-shot promise mechanism of spec.md §9.
func (db *Buffer) syncLeaf(ctx context.Context, dr *DirtyRecord) error {
	syncLeafMeter.Mark(1)

	db.mu.Lock()
	lp, ok := dr.leaf()
	if !ok {
		db.mu.Unlock()
		return nil
	}

	// spec.md §4.6 step 1: PARTIAL at sync time means lazy resolution ran
	// out of time; force the transition to READ immediately instead of
	// writing half-resolved bytes (_examples/original_source/.../dbuf.c
	// dbuf_sync_leaf's leading db_state&DB_PARTIAL check).
	// (spec.md §9 open question, preserved as-is: a buffer still mid-FILL
	// alongside PARTIAL is not special-cased out of this check or out of
	// being written — DB_FILL still dirties the buffer and must be synced.)
	if db.state.has(StatePartial) {
		db.startTransitionToReadLocked()
	}

	// spec.md §4.6 step 2: freed since it was dirtied; nothing to write.
	if db.state.has(StateUncached) {
		db.mu.Unlock()
		return db.finishSync(dr, nil)
	}

	if db.kind == KindBonus {
		data := lp.bytes()
		db.mu.Unlock()
		db.objLayer.WriteBonusRegion(db.key.ObjSet, db.key.Object, data)
		return db.finishSync(dr, nil)
	}

	if lp.overrideState == Overridden {
		db.mu.Unlock()
		return db.finishSync(dr, nil)
	}

	lp.copies = db.objLayer.NumCopies(db.key.ObjSet, db.key.Object)

	// spec.md §4.6 step 8 (syncer split, scenario 6): the write isn't
	// going to be deferred behind pending ranges, so this is the
	// non-deferred call site — if another holder could still be mutating
	// the live frontend this record aliases, give the syncer its own copy
	// now rather than risk a torn write against a concurrent redirty
	// (_examples/original_source/.../dbuf.c dbuf_syncer_split).
	if lp.writeRanges.Empty() {
		db.syncerSplitLocked(lp)
	}

	buf := lp.data
	ptr := db.objLayer.ParentBlockPtrSlot(db.key.ObjSet, db.key.Object, db.key.Level, db.key.BlockID)
	db.mu.Unlock()

	if buf == nil {
		return db.finishSync(dr, nil)
	}

	done := make(chan error, 1)
	wh := db.arc.Write(ctx, dr.txg, ptr, buf, nil, func(err error) { done <- err })

	db.mu.Lock()
	dr.zio = wh
	deferNow := !lp.writeRanges.Empty()
	db.mu.Unlock()

	if deferNow {
		syncDeferredMeter.Mark(1)
		log.Debug("dbuf sync deferred awaiting resolve", "key", db.key, "txg", dr.txg)
	} else {
		wh.Dispatch()
	}

	err := <-done
	return db.finishSync(dr, err)
}

// syncerSplitLocked implements the syncer-split clone (spec.md §4.6 step 8,
// scenario 6 "Syncer split"): when holds exceeds 1 (so something besides
// the record's own dirty hold, such as a caller, still holds this buffer)
// and lp's snapshot is still the live, concurrently-mutable
// frontend, the syncer takes its own independent copy to write instead of
// racing a holder that mutates the frontend out from under the in-flight
// write. The open-txg frontend (db.arcBuf/db.data) is left untouched; only
// lp's own record is redirected to the clone (_examples/original_source/
// .../dbuf.c dbuf_syncer_split, non-deferred call site). Callers hold
// db.mu.
func (db *Buffer) syncerSplitLocked(lp *leafPayload) {
	if db.state.has(StateNofill) {
		return
	}
	if db.holds <= 1 {
		return
	}
	if lp.data == nil || lp.data != db.arcBuf {
		return
	}
	syncerCloneMeter.Mark(1)
	fresh := db.arc.Alloc(int(db.size))
	copy(fresh.Bytes(), lp.data.Bytes())
	lp.data = fresh
}

// finishSync is the shared write-completion tail (spec.md §4.6 write_done):
// account for the newly-written space, unlink the now-synced dirty record,
// and release the hold it was taking. Callers do not hold db.mu.
func (db *Buffer) finishSync(dr *DirtyRecord, err error) error {
	if err != nil {
		readErrorMeter.Mark(1)
		return err
	}

	db.mu.Lock()
	db.objLayer.WillUseSpace(db.key.ObjSet, db.key.Object, int64(db.size))
	db.removeDirtyRecordLocked(dr)
	db.cond.Broadcast()
	db.mu.Unlock()

	db.Release(dirtyParentTag)
	return nil
}
