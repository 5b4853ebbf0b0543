package dbuf

import "sync"

// OverrideState tracks a leaf dirty record's immediate-write (dmu_sync)
// progress (spec.md §3).
type OverrideState uint8

const (
	NotOverridden OverrideState = iota
	InSync
	Overridden
)

// dirtyPayload is the tagged-variant discriminator for a DirtyRecord
// (spec.md §9 "Polymorphism over dirty-record payload": "use a tagged
// variant... every consumer switches on the tag"). leafPayload and
// indirectPayload are the two concrete payloads, mirroring the
// interface-plus-two-implementations shape triedb/pathdb/disklayer.go uses
// for trienodebuffer (sync vs. async node buffer) rather than a bare union.
type dirtyPayload interface {
	isDirtyPayload()
}

// leafPayload is a level-0 (or bonus/nofill/meta-dnode) dirty record's
// content: a per-TXG snapshot plus the write ranges within it that the
// client has actually supplied (spec.md §3).
type leafPayload struct {
	data          ArcBuf
	anonData      []byte // non-nil only for bonus snapshots, which have no ArcBuf
	writeRanges   RangeList
	overrideState OverrideState
	overrideBP    *BlockPtr
	overrideZio   WriteHandle
	nopwrite      bool
	copies        int
}

func (*leafPayload) isDirtyPayload() {}

// bytes returns the payload regardless of whether it is backed by an
// ArcBuf (regular/spill leaves) or an anonymous scratch slice (bonus).
func (p *leafPayload) bytes() []byte {
	if p.anonData != nil {
		return p.anonData
	}
	if p.data != nil {
		return p.data.Bytes()
	}
	return nil
}

// indirectPayload is a level>0 dirty record's content: the list of child
// dirty records that attach themselves as they are dirtied (spec.md §3,
// §4.4.3).
type indirectPayload struct {
	mu       sync.Mutex
	children []*DirtyRecord
}

func (*indirectPayload) isDirtyPayload() {}

// DirtyRecord is the per-TXG mutation record from spec.md §3.
type DirtyRecord struct {
	txg    uint64
	dbuf   *Buffer
	parent *DirtyRecord // linked indirect dirty record, if any (§4.4.3)
	zio    WriteHandle  // non-nil once issued; may be parked pending resolve (§4.6)
	dispatched bool     // true once a parked zio has been released

	payload dirtyPayload
}

// TXG returns the transaction group this record belongs to.
func (dr *DirtyRecord) TXG() uint64 { return dr.txg }

// Buffer returns the owning buffer.
func (dr *DirtyRecord) Buffer() *Buffer { return dr.dbuf }

func (dr *DirtyRecord) leaf() (*leafPayload, bool) {
	lp, ok := dr.payload.(*leafPayload)
	return lp, ok
}

func (dr *DirtyRecord) indirect() (*indirectPayload, bool) {
	ip, ok := dr.payload.(*indirectPayload)
	return ip, ok
}

// newLeafDirtyRecord allocates a leaf dirty record for txg. Called with
// db.mu held (spec.md §4.4 step 4, "allocate new dirty record").
func newLeafDirtyRecord(db *Buffer, txg uint64) *DirtyRecord {
	return &DirtyRecord{
		txg:  txg,
		dbuf: db,
		payload: &leafPayload{
			overrideState: NotOverridden,
		},
	}
}

// newIndirectDirtyRecord allocates an indirect dirty record for txg.
func newIndirectDirtyRecord(db *Buffer, txg uint64) *DirtyRecord {
	return &DirtyRecord{
		txg:     txg,
		dbuf:    db,
		payload: &indirectPayload{},
	}
}

// DirtyRecords returns a snapshot of the buffer's live dirty records,
// newest TXG first (I1). Used by SyncList callers to gather the records a
// TXG boundary needs to drain.
func (db *Buffer) DirtyRecords() []*DirtyRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*DirtyRecord, len(db.dirtyRecords))
	copy(out, db.dirtyRecords)
	return out
}

// findDirtyRecord returns the record for txg, if one exists. The dirty
// list is kept TXG-descending (I1); callers hold db.mu.
func (db *Buffer) findDirtyRecord(txg uint64) *DirtyRecord {
	for _, dr := range db.dirtyRecords {
		if dr.txg == txg {
			return dr
		}
		if dr.txg < txg {
			break
		}
	}
	return nil
}

// insertDirtyRecordLocked inserts dr into db.dirtyRecords keeping the list
// TXG-descending (I1), "just before the first record with txg <= current
// txg" (spec.md §4.4 step 3). Callers hold db.mu.
func (db *Buffer) insertDirtyRecordLocked(dr *DirtyRecord) {
	idx := len(db.dirtyRecords)
	for i, existing := range db.dirtyRecords {
		if existing.txg <= dr.txg {
			idx = i
			break
		}
	}
	db.dirtyRecords = append(db.dirtyRecords, nil)
	copy(db.dirtyRecords[idx+1:], db.dirtyRecords[idx:])
	db.dirtyRecords[idx] = dr
	db.dirtyCount = len(db.dirtyRecords)
	db.updateDataPendingLocked()
}

// updateDataPendingLocked keeps db.dataPending pointed at the oldest live
// dirty record (I5: "data_pending must equal the oldest dirty record
// whenever it is non-nil"), called after every insert/remove so every
// dirty-path and sync-path caller sees a consistent pointer without having
// to reason about ordering themselves. Callers hold db.mu.
func (db *Buffer) updateDataPendingLocked() {
	db.dataPending = db.oldestDirtyRecordLocked()
}

// removeDirtyRecordLocked unlinks dr from db.dirtyRecords. Callers hold
// db.mu.
func (db *Buffer) removeDirtyRecordLocked(dr *DirtyRecord) {
	for i, existing := range db.dirtyRecords {
		if existing == dr {
			db.dirtyRecords = append(db.dirtyRecords[:i], db.dirtyRecords[i+1:]...)
			db.dirtyCount = len(db.dirtyRecords)
			db.updateDataPendingLocked()
			return
		}
	}
}

// newestDirtyRecordLocked returns the head of dirtyRecords (the newest
// TXG), or nil. Callers hold db.mu.
func (db *Buffer) newestDirtyRecordLocked() *DirtyRecord {
	if len(db.dirtyRecords) == 0 {
		return nil
	}
	return db.dirtyRecords[0]
}

// oldestDirtyRecordLocked returns the tail of dirtyRecords (the oldest
// TXG, the one data_pending must equal per I5), or nil. Callers hold db.mu.
func (db *Buffer) oldestDirtyRecordLocked() *DirtyRecord {
	if len(db.dirtyRecords) == 0 {
		return nil
	}
	return db.dirtyRecords[len(db.dirtyRecords)-1]
}

// secondNewestDirtyRecordLocked returns the dirty record immediately older
// than the newest one, used by the frontend-disassociation logic in
// dirtypath.go (§4.4.2) and free.go (§4.5) to find "the newest older
// record." Callers hold db.mu.
func (db *Buffer) secondNewestDirtyRecordLocked() *DirtyRecord {
	if len(db.dirtyRecords) < 2 {
		return nil
	}
	return db.dirtyRecords[1]
}

// addChild attaches child to the indirect payload's children list under
// its own mutex (spec.md §4.4.3, "link this record into D_p.children under
// D_p.mtx").
func (ip *indirectPayload) addChild(child *DirtyRecord) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.children = append(ip.children, child)
}

// childrenSnapshot returns a copy of the children list for iteration
// without holding the mutex across potentially blocking I/O.
func (ip *indirectPayload) childrenSnapshot() []*DirtyRecord {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	out := make([]*DirtyRecord, len(ip.children))
	copy(out, ip.children)
	return out
}
