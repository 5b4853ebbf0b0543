package dbuf

// FreeRange marks the level-0 blocks [startBlkID, endBlkID] of object as
// freed for tx's TXG (spec.md §4.5, component C7). Each resident Buffer in
// range is dirtied as a hole: its existing write ranges are discarded, any
// pending fill is flagged freedInFlight so the eventual FillDone zeroes it,
// and the frontend is replaced with a zero-filled snapshot so a concurrent
// reader never observes stale bytes.
func (c *Cache) FreeRange(objset ObjSet, object uint64, startBlkID, endBlkID BlockID, tx *Tx) {
	freeRangeMeter.Mark(1)
	for blkid := startBlkID; blkid <= endBlkID; blkid++ {
		existing := c.idx.find(Key{ObjSet: objset, Object: object, Level: 0, BlockID: blkid})
		if existing == nil {
			c.obj.SetMaxBlkID(objset, object, blkid)
			if blkid == endBlkID {
				break // avoid BlockID overflow on endBlkID == ^BlockID(0)
			}
			continue
		}
		existing.mu.Unlock()
		existing.freeRange(tx)
		if blkid == endBlkID {
			break // avoid BlockID overflow on endBlkID == ^BlockID(0)
		}
	}
	c.obj.SetMaxBlkID(objset, object, startBlkID)
}

// freeRange dirties db as a hole for tx's TXG (spec.md §4.5 steps 2-5).
func (db *Buffer) freeRange(tx *Tx) {
	if db.Kind() == KindIndirect {
		return // only level-0 leaves carry a free-range snapshot
	}

	db.mu.Lock()
	db.waitWhile(func() bool { return db.state.has(StateFill) && db.findDirtyRecord(tx.txg) == nil })

	existing := db.findDirtyRecord(tx.txg)
	isNew := existing == nil
	var dr *DirtyRecord
	if existing != nil {
		dr = existing
	} else {
		dr = newLeafDirtyRecord(db, tx.txg)
		db.insertDirtyRecordLocked(dr)
		db.holds++
		db.allocateFrontendLocked(dr)
	}

	lp, ok := dr.leaf()
	if ok {
		lp.writeRanges.Clear()
		size := db.size
		if db.data != nil {
			for i := range db.data[:min32(uint32(len(db.data)), size)] {
				db.data[i] = 0
			}
		}
		if db.state.has(StateFill) {
			db.freedInFlight = true
		} else {
			db.setStateLocked((db.state &^ (StateUncached | StatePartial)) | StateCached)
		}
	}
	db.cond.Broadcast()
	db.mu.Unlock()

	if isNew {
		db.dirtyParent(tx, dr)
	}
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
