package dbuf

import (
	"context"
	"fmt"
)

// dirtyParentTag identifies the hold the dirty-parent-propagation logic
// takes on an indirect Buffer, distinct from a client's own tag.
var dirtyParentTag = struct{ name string }{"dbuf-dirty-parent"}

// dirtyCommon is the shared body of the dirty path (spec.md §4.4, component
// C6): wait out any in-progress fill, find-or-create this TXG's dirty
// record, and (for leaves) establish the frontend. hasCow/off/end carry the
// CoW fault-handler arguments; the handler runs only for KindRegular
// buffers, and dirty-parent propagation passes hasCow=false.
func (db *Buffer) dirtyCommon(tx *Tx, hasCow bool, off, end uint64) (*DirtyRecord, bool, error) {
	txg := tx.txg
	db.mu.Lock()

	if db.state.has(StateNofill) {
		db.mu.Unlock()
		return nil, false, ErrNoFill
	}
	if hasCow && db.kind == KindRegular {
		db.faultHandlerLocked(txg, off, end)
	}
	db.waitWhile(func() bool { return db.state.has(StateFill) })

	// spec.md §4.4.1: every leaf dirty unconditionally transitions
	// UNCACHED -> PARTIAL|FILL, or adds FILL on top of an in-progress
	// READ/PARTIAL, before the dirty record itself is found or created
	// (_examples/original_source/.../dbuf.c dbuf_dirty_leaf). Real ZFS
	// carves bonus buffers out into their own always-precached dirty
	// function instead; this cache folds bonus into the same generic
	// dirty/fill state machine as a regular leaf rather than assuming a
	// bonus buffer is always read before it is dirtied.
	if db.kind.IsLeaf() {
		switch {
		case db.state.has(StateUncached):
			db.setStateLocked(StatePartial | StateFill)
		case db.state.has(StateRead) || db.state.has(StatePartial):
			db.setStateLocked(db.state | StateFill)
		}
	}

	if existing := db.findDirtyRecord(txg); existing != nil {
		db.redirtyLocked(existing)
		db.mu.Unlock()
		return existing, false, nil
	}

	dirtyNewRecordMeter.Mark(1)
	var dr *DirtyRecord
	if db.kind == KindIndirect {
		dr = newIndirectDirtyRecord(db, txg)
	} else {
		dr = newLeafDirtyRecord(db, txg)
	}
	db.insertDirtyRecordLocked(dr)
	db.holds++
	if db.kind.IsLeaf() {
		db.allocateFrontendLocked(dr)
	}
	db.mu.Unlock()
	return dr, true, nil
}

// faultHandlerLocked implements the copy-on-write fault handler (spec.md
// §4.4.1), called before the dirty record is found/created because it may
// drop and retake db.mu to start an asynchronous read. Callers hold db.mu.
func (db *Buffer) faultHandlerLocked(txg, off, end uint64) {
	switch {
	case db.state.has(StatePartial):
		if newest := db.newestDirtyRecordLocked(); newest != nil && newest.txg != txg {
			db.startTransitionToReadLocked()
		}
	case db.state.has(StateUncached):
		whole := off == 0 && end == uint64(db.size)
		interior := off != 0 && end != uint64(db.size)
		switch {
		case interior:
			db.startTransitionToReadLocked()
		case !whole:
			if buf, ok := db.arc.CachedOnly(db.blkptr, int(db.size)); ok {
				db.arcBuf = buf
				db.data = buf.Bytes()
				db.setStateLocked(StateCached)
			}
			// Miss: fall through and let the normal dirty flow leave the
			// buffer UNCACHED -> PARTIAL, to be resolved at read time.
		}
	}
}

// startTransitionToReadLocked begins an asynchronous read without waiting
// for it, used by the fault handler to start prefetching the bytes a
// partial write will need to merge against later. Callers hold db.mu; it is
// dropped and retaken internally.
func (db *Buffer) startTransitionToReadLocked() {
	if db.state.has(StateRead) {
		return
	}
	prev := db.state
	next := StateRead | StateFill
	if prev.has(StatePartial) {
		next |= StatePartial
	}
	db.setStateLocked(next)
	db.holds++
	ptr := db.blkptr
	size := int(db.size)
	db.mu.Unlock()

	readIssueMeter.Mark(1)
	db.arc.Read(context.Background(), ptr, size, PriorityAsync, func(res ReadResult) {
		db.readDone(res, false)
	})

	db.mu.Lock()
}

// redirtyLocked handles a second dirty call within a TXG that already has a
// record (spec.md §4.4.2): any in-progress immediate-write override is torn
// down so the block is written normally at sync time. Callers hold db.mu.
func (db *Buffer) redirtyLocked(dr *DirtyRecord) {
	lp, ok := dr.leaf()
	if !ok {
		return
	}
	if lp.overrideState == NotOverridden {
		return
	}
	if lp.overrideBP != nil && !lp.overrideBP.Hole && !lp.nopwrite {
		db.arc.Free(lp.overrideBP)
	}
	lp.overrideState = NotOverridden
	lp.overrideBP = nil
	lp.overrideZio = nil
	lp.nopwrite = false
}

// allocateFrontendLocked gives a newly-created leaf dirty record a snapshot
// to mutate (spec.md §4.4 step 4 "allocate/adopt a frontend"), first
// disassociating the previous frontend owner if the invariant I4 ("at most
// one record equals arc_buf, always the newest") would otherwise be
// violated by handing this record the live frontend. Callers hold db.mu.
func (db *Buffer) allocateFrontendLocked(dr *DirtyRecord) {
	lp, ok := dr.leaf()
	if !ok {
		return
	}
	if db.kind == KindBonus {
		maxLen := db.cfg.BonusMaxSize
		data := make([]byte, maxLen)
		if db.data != nil {
			copy(data, db.data)
		} else {
			copy(data, db.objLayer.BonusRegion(db.key.ObjSet, db.key.Object, maxLen))
		}
		lp.anonData = data
		db.data = data
		return
	}

	if older := db.secondNewestDirtyRecordLocked(); older != nil {
		db.disassociateFrontendLocked(older)
	}

	if db.arcBuf != nil {
		lp.data = db.arcBuf
		return
	}
	buf := db.arc.Loan(int(db.size))
	lp.data = buf
	db.arcBuf = buf
	db.data = buf.Bytes()
}

// disassociateFrontendLocked protects olderRecord's snapshot before the
// newly-dirtied record is allowed to adopt or mutate the live frontend
// (spec.md §4.4.2 "Frontend handling on re-dirty"). If older does not
// currently alias the frontend there is nothing to do. Callers hold db.mu.
func (db *Buffer) disassociateFrontendLocked(older *DirtyRecord) {
	lp, ok := older.leaf()
	if !ok || lp.data == nil || lp.data != db.arcBuf {
		return
	}
	dirtyDisassocMeter.Mark(1)

	deferred := db.dataPending == older && older.zio != nil && !older.dispatched
	if deferred {
		// The syncer has a zio parked on this exact record awaiting
		// resolve; leave its data untouched and give the frontend a fresh,
		// independent buffer for the new write instead.
		fresh := db.arc.Alloc(int(db.size))
		db.arcBuf = fresh
		db.data = fresh.Bytes()
		return
	}

	fresh := db.arc.Alloc(int(db.size))
	copy(fresh.Bytes(), db.data)
	lp.data = fresh
	db.arc.Release(db.arcBuf)
	db.arc.Thaw(db.arcBuf)
}

// addWriteRangeLocked implements the write-range accumulator (spec.md
// §4.4.4): record [off, off+sz) against dr's range list and, once the
// record has no more holes to resolve, go directly to FILL (clearing
// PARTIAL/READ, not merely OR-ing FILL in) so that a write spanning the
// whole block promotes the buffer exactly the way an ordinary filler
// would (_examples/original_source/.../dbuf.c
// dbuf_dirty_record_add_range's "go directly to DB_FILL" assignment).
// Callers hold db.mu.
func (db *Buffer) addWriteRangeLocked(dr *DirtyRecord, off, sz uint64) {
	lp, ok := dr.leaf()
	if !ok {
		return
	}
	if off == 0 && sz == uint64(db.size) {
		lp.writeRanges.Clear()
	} else {
		lp.writeRanges.Add(off, off+sz)
		if lp.writeRanges.CoversWholeBlock(uint64(db.size)) {
			lp.writeRanges.Clear()
		}
	}
	if (db.state.has(StateRead) || db.state.has(StatePartial)) && lp.writeRanges.Empty() {
		db.setStateLocked(StateFill)
	}
}

// dirtyParent implements dirty-parent propagation (spec.md §4.4.3). Must be
// called without db.mu held: acquiring the parent's hold walks the hash
// index, which lock-orders above any individual Buffer's mutex.
func (db *Buffer) dirtyParent(tx *Tx, dr *DirtyRecord) {
	if db.kind == KindBonus || db.kind == KindSpill {
		// Object-level per-TXG bookkeeping for bonus/spill blocks belongs to
		// the object layer collaborator; the dirty record created above is
		// sufficient on the dbuf side.
		return
	}
	parentKey, ok := db.objLayer.ParentOf(db.key)
	if !ok {
		return // db.key already names the root of the indirect tree.
	}
	size := db.objLayer.IndirectBlockSize(db.key.ObjSet, db.key.Object)
	parent := holdBuffer(db.index, db.arc, db.objLayer, db.txnMgr, db.prefetch, db.cfg, parentKey, KindIndirect, size)

	pdr, pIsNew, err := parent.dirtyCommon(tx, false, 0, 0)
	if err != nil {
		parent.Release(dirtyParentTag)
		return
	}
	if pIsNew {
		parent.dirtyParent(tx, pdr)
	}

	db.mu.Lock()
	stillLive := db.findDirtyRecord(dr.txg) == dr
	if stillLive {
		dr.parent = pdr
	}
	parentAlreadyHeld := db.parent != nil
	if stillLive && !parentAlreadyHeld {
		db.parent = parent
	}
	db.mu.Unlock()

	if !stillLive {
		parent.Release(dirtyParentTag)
		return
	}
	if ip, ok := pdr.indirect(); ok {
		ip.addChild(dr)
	}
	if parentAlreadyHeld {
		parent.Release(dirtyParentTag)
	}
}

// WillDirty is the read-then-dirty full-block operation (spec.md §6
// will_dirty): the caller intends to read-modify-write, so the current
// contents are made available (triggering a synchronous read if needed)
// before the whole block is marked dirty for tx's TXG.
func (db *Buffer) WillDirty(tx *Tx) error {
	if err := db.Read(context.Background(), 0); err != nil && err != ErrNoFill {
		return err
	}
	size := db.Size()
	dr, isNew, err := db.dirtyCommon(tx, true, 0, uint64(size))
	if err != nil {
		return err
	}
	db.mu.Lock()
	db.addWriteRangeLocked(dr, 0, uint64(size))
	db.mu.Unlock()
	if isNew {
		db.dirtyParent(tx, dr)
	}
	return nil
}

// WillDirtyRange marks [off, off+sz) dirty for tx's TXG without requiring a
// synchronous read first (spec.md §6 will_dirty_range): the CoW fault
// handler decides, based on current state, whether background I/O is
// needed to resolve the rest of the block later.
func (db *Buffer) WillDirtyRange(tx *Tx, off, sz uint64) error {
	dr, isNew, err := db.dirtyCommon(tx, true, off, off+sz)
	if err != nil {
		return err
	}
	db.mu.Lock()
	db.addWriteRangeLocked(dr, off, sz)
	db.mu.Unlock()
	if isNew {
		db.dirtyParent(tx, dr)
	}
	return nil
}

// WillFill marks the whole block dirty for tx's TXG on the promise that the
// caller will supply every byte itself, skipping any read of prior content
// (spec.md §6 will_fill / dmu_buf_will_fill). The caller must follow with
// FillDone once Data() has been fully written.
func (db *Buffer) WillFill(tx *Tx) error {
	size := db.Size()
	dr, isNew, err := db.dirtyCommon(tx, true, 0, uint64(size))
	if err != nil {
		return err
	}
	db.mu.Lock()
	db.addWriteRangeLocked(dr, 0, uint64(size))
	db.mu.Unlock()
	if isNew {
		db.dirtyParent(tx, dr)
	}
	return nil
}

// WillNotFill marks the block NOFILL for tx's TXG: the caller promises no
// payload at all (spec.md §6 will_not_fill / dmu_buf_will_not_fill), used
// for allocations whose content is supplied out of band.
func (db *Buffer) WillNotFill(tx *Tx) error {
	db.mu.Lock()
	db.waitWhile(func() bool { return db.state.has(StateFill) })

	isNew := db.findDirtyRecord(tx.txg) == nil
	var dr *DirtyRecord
	if existing := db.findDirtyRecord(tx.txg); existing != nil {
		dr = existing
	} else {
		dr = newLeafDirtyRecord(db, tx.txg)
		db.insertDirtyRecordLocked(dr)
		db.holds++
	}
	db.setStateLocked(StateNofill)
	db.arcBuf = nil
	db.data = nil
	db.cond.Broadcast()
	db.mu.Unlock()

	if isNew {
		db.dirtyParent(tx, dr)
	}
	return nil
}

// FillDone completes a WillFill/WillNotFill cycle once the caller has
// finished supplying bytes (spec.md §6 fill_done / dmu_buf_fill_done). Per
// real dbuf_fill_done (_examples/original_source/.../dbuf.c), this is a
// no-op unless FILL is actually set; when FILL is the buffer's only state
// bit the filler was the last one outstanding and the block becomes CACHED
// (releasing any syncer zio parked awaiting this resolve), but when FILL
// co-occurs with PARTIAL/READ only FILL itself is cleared, leaving the
// buffer's outstanding read/merge to finish the job later.
func (db *Buffer) FillDone(tx *Tx) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	dr := db.findDirtyRecord(tx.txg)
	if dr == nil {
		return fmt.Errorf("dbuf: fill_done: no dirty record for txg %d", tx.txg)
	}
	if !db.state.has(StateFill) {
		db.cond.Broadcast()
		return nil
	}
	lp, ok := dr.leaf()
	if !ok {
		return nil
	}

	if db.freedInFlight {
		data := lp.bytes()
		for i := range data {
			data[i] = 0
		}
		db.freedInFlight = false
		lp.writeRanges.Clear()
		db.setStateLocked(StateCached)
		db.cond.Broadcast()
		db.dispatchDeferredLocked()
		return nil
	}

	if db.state == StateFill {
		lp.writeRanges.Clear()
		db.setStateLocked(StateCached)
		db.cond.Broadcast()
		db.dispatchDeferredLocked()
		return nil
	}

	// FILL coexists with PARTIAL/READ: this filler finished its own
	// portion, but the buffer as a whole is still waiting on the
	// outstanding read/merge to resolve the rest. Do not dispatch the
	// syncer's parked zio yet; resolveLocked will do that once the merge
	// completes.
	db.setStateLocked(db.state &^ StateFill)
	db.cond.Broadcast()
	return nil
}

// AssignArcBuf donates a pre-filled, already-owned buffer as tx's TXG data
// for this block (spec.md §6 assign_arcbuf / dmu_assign_arcbuf), skipping
// both the read path and the normal write-range bookkeeping.
func (db *Buffer) AssignArcBuf(tx *Tx, buf ArcBuf) error {
	db.mu.Lock()
	db.waitWhile(func() bool { return db.state.has(StateFill) })

	isNew := db.findDirtyRecord(tx.txg) == nil
	var dr *DirtyRecord
	if existing := db.findDirtyRecord(tx.txg); existing != nil {
		dr = existing
	} else {
		dr = newLeafDirtyRecord(db, tx.txg)
		db.insertDirtyRecordLocked(dr)
		db.holds++
	}
	lp, _ := dr.leaf()

	if isNew {
		if older := db.secondNewestDirtyRecordLocked(); older != nil {
			db.disassociateFrontendLocked(older)
		}
	}

	lp.data = buf
	lp.writeRanges.Clear()
	db.arc.Return(buf, db.blkptr)
	db.arcBuf = buf
	db.data = buf.Bytes()
	next := (db.state &^ (StateRead | StatePartial | StateUncached)) | StateCached
	db.setStateLocked(next)
	db.cond.Broadcast()
	db.mu.Unlock()

	if isNew {
		db.dirtyParent(tx, dr)
	}
	return nil
}

// NewSize grows or shrinks a level-0 block's logical size (spec.md §6
// new_size / dmu_buf_set_size). Spill blocks reject resizing per
// SPEC_FULL.md supplemented feature 2 (ENOTSUP on spill overflow).
func (db *Buffer) NewSize(tx *Tx, newSize uint32) error {
	if db.kind == KindSpill {
		return ErrNotSpill
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if newSize < db.size {
		for _, dr := range db.dirtyRecords {
			if lp, ok := dr.leaf(); ok {
				lp.writeRanges.Truncate(uint64(newSize))
			}
		}
	}
	db.size = newSize
	if db.data != nil && uint32(len(db.data)) != newSize {
		resized := make([]byte, newSize)
		copy(resized, db.data)
		if db.arcBuf != nil {
			fresh := db.arc.Alloc(int(newSize))
			copy(fresh.Bytes(), resized)
			db.arc.Release(db.arcBuf)
			db.arcBuf = fresh
			db.data = fresh.Bytes()
		} else {
			db.data = resized
		}
	}
	return nil
}
