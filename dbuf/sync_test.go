package dbuf

import (
	"context"
	"testing"
	"time"
)

func TestSyncListWritesLeafAndClearsDirtyRecord(t *testing.T) {
	c, arc, obj, _ := newTestCache()
	buf, err := c.HoldLevel0(1, 1, 0, KindRegular, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	tx := c.NewTx()
	if err := buf.WillFill(tx); err != nil {
		t.Fatalf("WillFill: %v", err)
	}
	copy(buf.Data(), []byte("synced-payload12"))
	if err := buf.FillDone(tx); err != nil {
		t.Fatalf("FillDone: %v", err)
	}

	ptr := &BlockPtr{Addr: [32]byte{42}}
	obj.blockPtrs[Key{1, 1, 0, 0}] = ptr

	records := buf.DirtyRecords()
	if len(records) != 1 {
		t.Fatalf("expected 1 dirty record, got %d", len(records))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SyncList(ctx, records); err != nil {
		t.Fatalf("SyncList: %v", err)
	}

	if buf.DirtyCount() != 0 {
		t.Fatalf("dirtyCount = %d, want 0 after sync", buf.DirtyCount())
	}
	stored, ok := arc.store[ptr.Addr]
	if !ok {
		t.Fatal("expected the written block to land in the backing store")
	}
	if string(stored) != "synced-payload12" {
		t.Fatalf("stored = %q", stored)
	}
}

func TestSyncListBonusWritesThroughObjectLayer(t *testing.T) {
	c, _, obj, _ := newTestCache()
	buf, err := c.Hold(1, 1, 0, BonusBlockID, KindBonus, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	tx := c.NewTx()
	if err := buf.WillFill(tx); err != nil {
		t.Fatalf("WillFill: %v", err)
	}
	copy(buf.Data(), []byte("bonus-snapshot12"))
	if err := buf.FillDone(tx); err != nil {
		t.Fatalf("FillDone: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SyncList(ctx, buf.DirtyRecords()); err != nil {
		t.Fatalf("SyncList: %v", err)
	}

	if string(obj.bonus[1]) != "bonus-snapshot12" {
		t.Fatalf("bonus region = %q", obj.bonus[1])
	}
}

func TestSyncLeafSkipsWriteWhenOverridden(t *testing.T) {
	c, arc, obj, _ := newTestCache()
	buf, err := c.HoldLevel0(1, 1, 0, KindRegular, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	tx := c.NewTx()
	if err := buf.WillFill(tx); err != nil {
		t.Fatalf("WillFill: %v", err)
	}
	copy(buf.Data(), []byte("override-payload"))
	if err := buf.FillDone(tx); err != nil {
		t.Fatalf("FillDone: %v", err)
	}

	dr := buf.DirtyRecords()[0]
	lp, _ := dr.leaf()
	lp.overrideState = Overridden

	ptr := &BlockPtr{Addr: [32]byte{99}}
	obj.blockPtrs[Key{1, 1, 0, 0}] = ptr

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SyncList(ctx, []*DirtyRecord{dr}); err != nil {
		t.Fatalf("SyncList: %v", err)
	}
	if _, wrote := arc.store[ptr.Addr]; wrote {
		t.Fatal("an Overridden record must not issue a physical write")
	}
	if buf.DirtyCount() != 0 {
		t.Fatalf("dirtyCount = %d, want 0 after sync", buf.DirtyCount())
	}
}

// TestSyncLeafForcesReadWhenPartialAtSyncTime exercises spec.md §4.6 step 1:
// a record left PARTIAL at sync time (lazy resolution ran out of time) must
// have its remaining bytes resolved via a forced transition-to-read rather
// than being written half-merged.
func TestSyncLeafForcesReadWhenPartialAtSyncTime(t *testing.T) {
	c, arc, obj, _ := newTestCache()
	ptr := &BlockPtr{Addr: [32]byte{21}}
	obj.blockPtrs[Key{1, 1, 0, 0}] = ptr
	// No backing data yet: the dirty-time CachedOnly probe misses, leaving
	// the buffer PARTIAL instead of resolving inline.

	buf, err := c.HoldLevel0(1, 1, 0, KindRegular, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	tx := c.NewTx()
	if err := buf.WillDirtyRange(tx, 0, 4); err != nil {
		t.Fatalf("WillDirtyRange: %v", err)
	}
	copy(buf.Data()[0:4], []byte("XXXX"))
	if err := buf.FillDone(tx); err != nil {
		t.Fatalf("FillDone: %v", err)
	}
	if buf.State() != StatePartial {
		t.Fatalf("state before sync = %s, want PARTIAL", buf.State())
	}

	// The on-disk content "arrives" before the syncer runs.
	arc.store[ptr.Addr] = []byte("0123456789abcdef")

	records := buf.DirtyRecords()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SyncList(ctx, records); err != nil {
		t.Fatalf("SyncList: %v", err)
	}

	if buf.DirtyCount() != 0 {
		t.Fatalf("dirtyCount = %d, want 0 after sync", buf.DirtyCount())
	}
	stored, ok := arc.store[ptr.Addr]
	if !ok {
		t.Fatal("expected the resolved block to be written to the backing store")
	}
	want := "XXXX456789abcdef"
	if string(stored) != want {
		t.Fatalf("stored = %q, want %q (written bytes merged with the forced read)", stored, want)
	}
}

// TestSyncLeafSkipsWriteWhenFreedSinceDirtied exercises spec.md §4.6 step 2:
// a block freed after being dirtied (UNCACHED at sync time) must not be
// written at all.
func TestSyncLeafSkipsWriteWhenFreedSinceDirtied(t *testing.T) {
	c, arc, obj, _ := newTestCache()
	buf, err := c.HoldLevel0(1, 1, 0, KindRegular, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	tx := c.NewTx()
	if err := buf.WillFill(tx); err != nil {
		t.Fatalf("WillFill: %v", err)
	}
	copy(buf.Data(), []byte("doomed-payload12"))
	if err := buf.FillDone(tx); err != nil {
		t.Fatalf("FillDone: %v", err)
	}

	ptr := &BlockPtr{Addr: [32]byte{55}}
	obj.blockPtrs[Key{1, 1, 0, 0}] = ptr

	// Simulate the block being freed after it was dirtied but before sync
	// runs: the dirty record stays live while the buffer itself drops to
	// UNCACHED.
	buf.mu.Lock()
	buf.setStateLocked(StateUncached)
	buf.mu.Unlock()

	records := buf.DirtyRecords()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SyncList(ctx, records); err != nil {
		t.Fatalf("SyncList: %v", err)
	}

	if _, wrote := arc.store[ptr.Addr]; wrote {
		t.Fatal("a freed-since-dirtied record must not issue a physical write")
	}
	if buf.DirtyCount() != 0 {
		t.Fatalf("dirtyCount = %d, want 0 after sync", buf.DirtyCount())
	}
}

// TestSyncLeafSplitsCloneWhenHeldConcurrently exercises spec.md §4.6 step 8
// (scenario 6, "Syncer split"): when another holder could still be mutating
// the live frontend a dirty record aliases, syncLeaf must write an
// independent clone rather than the shared buffer, and leave the frontend
// itself untouched.
func TestSyncLeafSplitsCloneWhenHeldConcurrently(t *testing.T) {
	c, arc, obj, _ := newTestCache()
	buf, err := c.HoldLevel0(1, 1, 0, KindRegular, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	tx := c.NewTx()
	if err := buf.WillFill(tx); err != nil {
		t.Fatalf("WillFill: %v", err)
	}
	copy(buf.Data(), []byte("original-frame12"))
	if err := buf.FillDone(tx); err != nil {
		t.Fatalf("FillDone: %v", err)
	}

	// A second, concurrent holder keeps the buffer's frontend a view some
	// other caller could still be mutating while sync runs.
	buf.AddRef("concurrent-holder")
	defer buf.Release("concurrent-holder")

	dr := buf.DirtyRecords()[0]
	lp, ok := dr.leaf()
	if !ok {
		t.Fatal("expected leaf payload")
	}
	before := lp.data
	buf.mu.Lock()
	aliasesFrontend := lp.data == buf.arcBuf
	buf.mu.Unlock()
	if !aliasesFrontend {
		t.Fatal("expected the dirty record to alias the live frontend before sync")
	}

	ptr := &BlockPtr{Addr: [32]byte{33}}
	obj.blockPtrs[Key{1, 1, 0, 0}] = ptr

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SyncList(ctx, []*DirtyRecord{dr}); err != nil {
		t.Fatalf("SyncList: %v", err)
	}

	if lp.data == before {
		t.Fatal("expected syncLeaf to clone the record's data instead of writing the shared frontend")
	}
	buf.mu.Lock()
	frontendUnchanged := buf.arcBuf == before
	buf.mu.Unlock()
	if !frontendUnchanged {
		t.Fatal("expected the open-txg frontend to remain untouched by the syncer split")
	}

	// A concurrent mutation of the frontend after the split must not be
	// visible in what was actually written to the backing store.
	copy(buf.Data(), []byte("mutated-frontend"))

	stored, ok := arc.store[ptr.Addr]
	if !ok {
		t.Fatal("expected the cloned snapshot to still be written to the backing store")
	}
	if string(stored) != "original-frame12" {
		t.Fatalf("stored = %q, want the pre-split snapshot", stored)
	}
}

func TestSyncIndirectRecursesIntoChildren(t *testing.T) {
	c, arc, obj, _ := newTestCache()
	buf, err := c.HoldLevel0(1, 1, 0, KindRegular, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	tx := c.NewTx()
	if err := buf.WillFill(tx); err != nil {
		t.Fatalf("WillFill: %v", err)
	}
	copy(buf.Data(), []byte("leaf-data-123456"))
	if err := buf.FillDone(tx); err != nil {
		t.Fatalf("FillDone: %v", err)
	}
	obj.blockPtrs[Key{1, 1, 0, 0}] = &BlockPtr{Addr: [32]byte{11}}

	parent := c.idx.find(Key{1, 1, 1, 0})
	if parent == nil {
		t.Fatal("expected parent indirect buffer")
	}
	parent.mu.Lock()
	parent.arcBuf = &fakeChunk{data: []byte("indirect-block-1")}
	parent.data = parent.arcBuf.(*fakeChunk).data
	parent.mu.Unlock()
	obj.blockPtrs[Key{1, 1, 1, 0}] = &BlockPtr{Addr: [32]byte{12}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pdr := parent.DirtyRecords()[0]
	if err := c.SyncList(ctx, []*DirtyRecord{pdr}); err != nil {
		t.Fatalf("SyncList: %v", err)
	}

	if _, ok := arc.store[[32]byte{11}]; !ok {
		t.Fatal("expected child leaf block to be written as part of the parent's sync")
	}
	if _, ok := arc.store[[32]byte{12}]; !ok {
		t.Fatal("expected the indirect block itself to be written")
	}
	if buf.DirtyCount() != 0 {
		t.Fatalf("child dirtyCount = %d, want 0", buf.DirtyCount())
	}
	if parent.DirtyCount() != 0 {
		t.Fatalf("parent dirtyCount = %d, want 0", parent.DirtyCount())
	}
}
