package dbuf

import (
	"context"
	"testing"
)

func TestFreeRangeDirtiesResidentBuffersAsHoles(t *testing.T) {
	c, arc, obj, _ := newTestCache()
	addr := [32]byte{5}
	arc.store[addr] = []byte("0123456789abcdef")
	obj.blockPtrs[Key{1, 1, 0, 0}] = &BlockPtr{Addr: addr}

	buf, err := c.HoldLevel0(1, 1, 0, KindRegular, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if err := buf.Read(context.Background(), 0); err != nil {
		t.Fatalf("Read: %v", err)
	}

	tx := c.NewTx()
	c.FreeRange(1, 1, 0, 0, tx)

	if buf.DirtyCount() != 1 {
		t.Fatalf("dirtyCount = %d, want 1 after free_range", buf.DirtyCount())
	}
	for _, b := range buf.Data() {
		if b != 0 {
			t.Fatalf("expected zeroed data after free_range, got %v", buf.Data())
		}
	}
}

func TestFreeRangeOnNonResidentBlockDoesNotMaterializeBuffer(t *testing.T) {
	c, _, _, _ := newTestCache()
	tx := c.NewTx()
	c.FreeRange(1, 1, 5, 5, tx)
	if got := c.idx.find(Key{1, 1, 0, 5}); got != nil {
		got.mu.Unlock()
		t.Fatal("free_range on a non-resident block must not materialize a Buffer")
	}
}

func TestFreeRangeMidFillSetsFreedInFlight(t *testing.T) {
	c, _, _, _ := newTestCache()
	buf, err := c.HoldLevel0(1, 1, 0, KindRegular, 16, HoldOptions{})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	tx := c.NewTx()
	if err := buf.WillFill(tx); err != nil {
		t.Fatalf("WillFill: %v", err)
	}

	c.FreeRange(1, 1, 0, 0, tx)

	buf.mu.Lock()
	freedInFlight := buf.freedInFlight
	buf.mu.Unlock()
	if !freedInFlight {
		t.Fatal("expected freedInFlight while a fill is in progress")
	}

	if err := buf.FillDone(tx); err != nil {
		t.Fatalf("FillDone: %v", err)
	}
	for _, b := range buf.Data() {
		if b != 0 {
			t.Fatalf("expected FillDone to zero the buffer, got %v", buf.Data())
		}
	}
}
