// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package prefetch

import (
	"sync"
	"testing"
	"time"

	"github.com/coredao-org/dbufcache/dbuf"
)

// fakeFetcher counts HoldLevel0 calls per key instead of wiring a real
// dbuf.Cache, since Prefetcher only ever calls HoldLevel0 and Buffer.Read/
// Release on whatever it returns, and a real *dbuf.Buffer cannot be
// constructed outside the dbuf package.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher { return &fakeFetcher{calls: make(map[string]int)} }

func (f *fakeFetcher) HoldLevel0(objset dbuf.ObjSet, object uint64, blkid dbuf.BlockID, kind dbuf.Kind, size uint32, opts dbuf.HoldOptions) (*dbuf.Buffer, error) {
	f.mu.Lock()
	f.calls[hint{objset, object, 0, blkid}.key()]++
	f.mu.Unlock()
	return nil, errNoRealBuffer
}

// errNoRealBuffer short-circuits fetch's buf.Read/Release: a nil *dbuf.Buffer
// can't be dereferenced, so the fake always fails the hold itself, letting
// these tests assert on call counts rather than on Buffer state.
var errNoRealBuffer = errStub("prefetch_test: no real buffer available")

type errStub string

func (e errStub) Error() string { return string(e) }

func TestHintDropsOnFullQueue(t *testing.T) {
	f := newFakeFetcher()
	p := New(f, 4096, 1, 0) // zero workers: nothing ever drains the queue
	defer p.Close()

	p.Hint(1, 1, 0, 0)
	p.Hint(1, 1, 0, 1) // queue size 1: this one is dropped

	time.Sleep(10 * time.Millisecond)
	if len(p.hints) != 1 {
		t.Fatalf("queue depth = %d, want 1 (second hint dropped)", len(p.hints))
	}
}

func TestHintAfterCloseIsNoop(t *testing.T) {
	f := newFakeFetcher()
	p := New(f, 4096, 4, 0)
	p.Close()
	p.Hint(1, 1, 0, 0)
	if len(p.hints) != 0 {
		t.Fatal("expected Hint to be a no-op after Close")
	}
}

func TestFetchDeduplicatesConcurrentIdenticalHints(t *testing.T) {
	f := newFakeFetcher()
	p := New(f, 4096, 16, 4)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.fetch(hint{objset: 1, object: 1, level: 0, blkid: 0})
		}()
	}
	wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	key := hint{1, 1, 0, 0}.key()
	if f.calls[key] == 0 {
		t.Fatal("expected at least one HoldLevel0 call")
	}
	if f.calls[key] == 8 {
		t.Fatal("expected singleflight to collapse at least some concurrent identical hints")
	}
}

func TestHintKeyDistinguishesIdentity(t *testing.T) {
	a := hint{objset: 1, object: 1, level: 0, blkid: 0}
	b := hint{objset: 1, object: 1, level: 0, blkid: 1}
	if a.key() == b.key() {
		t.Fatalf("distinct hints produced the same key: %q", a.key())
	}
}
