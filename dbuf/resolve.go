package dbuf

// resolveLocked implements the range-merge resolver (spec.md §4.3,
// component C4), invoked from read completion when the oldest dirty
// record still has pending write ranges. Processes dirty records oldest
// to newest so each record's snapshot is reconciled against either the
// base image (the oldest record) or the previous record's now-resolved
// snapshot. Callers hold db.mu.
func (db *Buffer) resolveLocked(base []byte) {
	n := len(db.dirtyRecords)
	prev := base
	var newestBytes []byte
	var newestBuf ArcBuf

	for i := n - 1; i >= 0; i-- {
		dr := db.dirtyRecords[i]
		lp, ok := dr.leaf()
		if !ok {
			// Indirect records carry no per-byte snapshot to merge.
			continue
		}
		snap := lp.bytes()
		if snap == nil {
			continue
		}
		maxOff := len(prev)
		if len(snap) < maxOff {
			maxOff = len(snap)
		}
		holes := lp.writeRanges.Holes(uint64(maxOff))
		mergeHoles(holes, prev, snap)

		frontendMidFill := lp.data != nil && lp.data == db.arcBuf && db.state.has(StateFill)
		if !frontendMidFill && lp.data != nil {
			db.arc.Freeze(lp.data)
		}
		lp.writeRanges.Clear()

		prev = snap
		if i == 0 {
			newestBytes = snap
			newestBuf = lp.data
		}
	}

	if newestBytes != nil {
		db.arcBuf = newestBuf
		db.data = newestBytes
	}
	next := (db.state &^ StateRead) | StateCached
	next &^= StateUncached | StatePartial | StateFill
	db.setStateLocked(next)

	db.dispatchDeferredLocked()
}

// dispatchDeferredLocked implements the "if the syncer had previously
// deferred its write awaiting this resolve, dispatch its zio now" clause
// of spec.md §4.2, and is the read_done side of the one-shot promise
// spec.md §9 describes ("a zio handle parked inside a dirty record
// awaiting a read completion... flipped by whichever of {read_done,
// sync_leaf} runs second"). Callers hold db.mu.
func (db *Buffer) dispatchDeferredLocked() {
	dr := db.dataPending
	if dr == nil || dr.zio == nil || dr.dispatched {
		return
	}
	lp, ok := dr.leaf()
	if !ok || !lp.writeRanges.Empty() {
		return
	}
	dr.dispatched = true
	syncDeferredMeter.Mark(1)
	zio := dr.zio
	go zio.Dispatch()
}
