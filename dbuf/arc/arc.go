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

// Package arc is a concrete dbuf.ArcCache: a GC-friendly clean cache for
// resident reads (grounded on triedb/pathdb/disklayer.go's fastcache.Cache
// "cleans" field) layered over a bounded LRU of holds-released buffers that
// simulates the adaptive replacement cache's reclaim decision (grounded on
// the same file's stale/lifecycle bookkeeping pattern), with cockroachdb/
// pebble-backed dbuf/storage underneath for the actual writeback.
package arc

import (
	"context"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/coredao-org/dbufcache/dbuf"
	"github.com/coredao-org/dbufcache/dbuf/storage"
)

// chunk is the concrete dbuf.ArcBuf this cache hands out.
type chunk struct {
	mu     sync.Mutex
	data   []byte
	frozen bool
	addr   *[32]byte // set once the chunk is associated with a stored block
}

func (c *chunk) Bytes() []byte { return c.data }
func (c *chunk) Size() int     { return len(c.data) }

// Cache implements dbuf.ArcCache.
type Cache struct {
	clean   *fastcache.Cache // GC-friendly clean cache of resident block bytes
	storage storage.StorageIO

	mu       sync.Mutex
	resident *lru.Cache[*chunk, struct{}] // bounded set of holds==0 chunks
	pending  map[*chunk]bool              // chunks the LRU just evicted
	released map[*chunk]bool              // chunks made anonymous via Release
}

// New builds a Cache with cleanBytes of clean-cache memory and a resident
// LRU capacity of residentCapacity buffers, backed by store for Write/Free.
func New(cleanBytes int, residentCapacity int, store storage.StorageIO) *Cache {
	c := &Cache{
		clean:    fastcache.New(cleanBytes),
		storage:  store,
		pending:  make(map[*chunk]bool),
		released: make(map[*chunk]bool),
	}
	resident, _ := lru.NewWithEvict[*chunk, struct{}](residentCapacity, func(evicted *chunk, _ struct{}) {
		c.pending[evicted] = true
		if evicted.addr != nil {
			c.clean.Del(evicted.addr[:])
		}
	})
	c.resident = resident
	return c
}

func (c *Cache) Read(ctx context.Context, ptr *dbuf.BlockPtr, size int, priority dbuf.ReadPriority, done func(dbuf.ReadResult)) {
	if ptr == nil || ptr.Hole {
		done(dbuf.ReadResult{Buf: &chunk{data: make([]byte, size)}})
		return
	}
	if v := c.clean.Get(nil, ptr.Addr[:]); v != nil {
		done(dbuf.ReadResult{Buf: &chunk{data: v, addr: &ptr.Addr}, Cached: true})
		return
	}
	go func() {
		data, err := c.storage.Get(ptr.Addr)
		if err != nil {
			done(dbuf.ReadResult{Err: err})
			return
		}
		c.clean.Set(ptr.Addr[:], data)
		done(dbuf.ReadResult{Buf: &chunk{data: data, addr: &ptr.Addr}})
	}()
}

func (c *Cache) CachedOnly(ptr *dbuf.BlockPtr, size int) (dbuf.ArcBuf, bool) {
	if ptr == nil {
		return nil, false
	}
	v := c.clean.Get(nil, ptr.Addr[:])
	if v == nil {
		return nil, false
	}
	return &chunk{data: v, addr: &ptr.Addr}, true
}

func (c *Cache) Alloc(size int) dbuf.ArcBuf {
	return &chunk{data: make([]byte, size)}
}

func (c *Cache) Loan(size int) dbuf.ArcBuf {
	return &chunk{data: make([]byte, size)}
}

func (c *Cache) Return(buf dbuf.ArcBuf, ptr *dbuf.BlockPtr) {
	ck, ok := buf.(*chunk)
	if !ok || ptr == nil {
		return
	}
	ck.addr = &ptr.Addr
	c.clean.Set(ptr.Addr[:], ck.data)
}

func (c *Cache) Release(buf dbuf.ArcBuf) {
	ck, ok := buf.(*chunk)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ck.addr != nil {
		c.clean.Del(ck.addr[:])
		ck.addr = nil
	}
	c.released[ck] = true
}

func (c *Cache) Released(buf dbuf.ArcBuf) bool {
	ck, ok := buf.(*chunk)
	if !ok {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released[ck]
}

func (c *Cache) Freeze(buf dbuf.ArcBuf) {
	if ck, ok := buf.(*chunk); ok {
		ck.mu.Lock()
		ck.frozen = true
		ck.mu.Unlock()
	}
}

func (c *Cache) Thaw(buf dbuf.ArcBuf) {
	if ck, ok := buf.(*chunk); ok {
		ck.mu.Lock()
		ck.frozen = false
		ck.mu.Unlock()
	}
}

func (c *Cache) RemoveRef(buf dbuf.ArcBuf) {
	ck, ok := buf.(*chunk)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, ck)
	c.resident.Add(ck, struct{}{})
}

func (c *Cache) Evict(buf dbuf.ArcBuf) {
	ck, ok := buf.(*chunk)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resident.Remove(ck)
	delete(c.pending, ck)
	delete(c.released, ck)
	if ck.addr != nil {
		c.clean.Del(ck.addr[:])
	}
}

// ShouldEvict reports whether buf was the victim of a recent resident-LRU
// eviction, i.e. whether the cache has already decided it is reclaimable
// (spec.md §4.7 release, "the ARC says a duplicate is present" generalized
// to "the ARC has already reclaimed this buffer's slot").
func (c *Cache) ShouldEvict(buf dbuf.ArcBuf) bool {
	ck, ok := buf.(*chunk)
	if !ok {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[ck]
}

type writeHandle struct {
	dispatchOnce sync.Once
	dispatchCh   chan struct{}
	resultCh     chan error
}

func newWriteHandle() *writeHandle {
	return &writeHandle{dispatchCh: make(chan struct{}), resultCh: make(chan error, 1)}
}

func (w *writeHandle) Dispatch() {
	w.dispatchOnce.Do(func() { close(w.dispatchCh) })
}

func (w *writeHandle) Wait() error {
	return <-w.resultCh
}

// Write issues the write once Dispatch is called, persisting buf's content
// to the backing storage.StorageIO and populating the clean cache with the
// result, per spec.md §4.6 / §9's deferred-resolve mechanism.
func (c *Cache) Write(ctx context.Context, txg uint64, ptr *dbuf.BlockPtr, buf dbuf.ArcBuf, readyCB func(), done func(err error)) dbuf.WriteHandle {
	wh := newWriteHandle()
	go func() {
		select {
		case <-wh.dispatchCh:
		case <-ctx.Done():
			wh.resultCh <- ctx.Err()
			done(ctx.Err())
			return
		}
		if readyCB != nil {
			readyCB()
		}
		var err error
		if ptr != nil && !ptr.Hole {
			err = c.storage.Put(ptr.Addr, buf.Bytes())
			if err == nil {
				c.clean.Set(ptr.Addr[:], buf.Bytes())
			}
		}
		wh.resultCh <- err
		done(err)
	}()
	return wh
}

func (c *Cache) Free(ptr *dbuf.BlockPtr) {
	if ptr == nil || ptr.Hole {
		return
	}
	c.clean.Del(ptr.Addr[:])
	c.storage.Delete(ptr.Addr)
}
