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

// Package prefetch is a concrete dbuf.Prefetcher: a bounded hint queue
// drained by a fixed worker pool, grounded on core/state/trie_prefetcher.go's
// channel-fed mainLoop shape. Duplicate in-flight hints for the same block
// are collapsed with golang.org/x/sync/singleflight, mirroring that file's
// dedup-before-fetch concern (there done with a fetchers map; here with the
// ecosystem's canonical dedup primitive since there is no per-key subfetcher
// state to keep around afterward).
package prefetch

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/singleflight"

	"github.com/coredao-org/dbufcache/dbuf"
)

var (
	hintMeter     = metrics.NewRegisteredMeter("dbuf/prefetch/hint", nil)
	dedupMeter    = metrics.NewRegisteredMeter("dbuf/prefetch/dedup", nil)
	droppedMeter  = metrics.NewRegisteredMeter("dbuf/prefetch/dropped", nil)
	fetchErrMeter = metrics.NewRegisteredMeter("dbuf/prefetch/error", nil)
)

type hint struct {
	objset dbuf.ObjSet
	object uint64
	level  int16
	blkid  dbuf.BlockID
}

func (h hint) key() string {
	return fmt.Sprintf("%d:%d:%d:%d", h.objset, h.object, h.level, h.blkid)
}

// Fetcher performs the actual read-ahead once a hint is dequeued; the cache
// passed to Cache.Hold in production.
type Fetcher interface {
	HoldLevel0(objset dbuf.ObjSet, object uint64, blkid dbuf.BlockID, kind dbuf.Kind, size uint32, opts dbuf.HoldOptions) (*dbuf.Buffer, error)
}

// Prefetcher is a bounded-queue implementation of dbuf.Prefetcher.
type Prefetcher struct {
	fetcher Fetcher
	size    uint32
	hints   chan hint
	group   singleflight.Group
	closed  int32
	done    chan struct{}
}

// New starts workers goroutines draining a queue of depth up to queueSize.
// size is the level-0 block size to use for the speculative hold.
func New(fetcher Fetcher, size uint32, queueSize, workers int) *Prefetcher {
	p := &Prefetcher{
		fetcher: fetcher,
		size:    size,
		hints:   make(chan hint, queueSize),
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.mainLoop()
	}
	return p
}

// Hint enqueues a read-ahead request (dbuf.Prefetcher). Non-blocking: a full
// queue drops the hint rather than stalling the dirty/read path that issued
// it.
func (p *Prefetcher) Hint(objset dbuf.ObjSet, object uint64, level int16, blkid dbuf.BlockID) {
	if atomic.LoadInt32(&p.closed) != 0 {
		return
	}
	h := hint{objset: objset, object: object, level: level, blkid: blkid}
	select {
	case p.hints <- h:
		hintMeter.Mark(1)
	default:
		droppedMeter.Mark(1)
	}
}

func (p *Prefetcher) mainLoop() {
	for {
		select {
		case h := <-p.hints:
			p.fetch(h)
		case <-p.done:
			return
		}
	}
}

func (p *Prefetcher) fetch(h hint) {
	_, err, shared := p.group.Do(h.key(), func() (interface{}, error) {
		buf, err := p.fetcher.HoldLevel0(h.objset, h.object, h.blkid, dbuf.KindRegular, p.size, dbuf.HoldOptions{})
		if err != nil {
			return nil, err
		}
		defer buf.Release("prefetch")
		return nil, buf.Read(context.Background(), dbuf.NoPrefetch|dbuf.NeverWait)
	})
	if shared {
		dedupMeter.Mark(1)
	}
	if err != nil {
		fetchErrMeter.Mark(1)
		log.Debug("dbuf prefetch failed", "err", err)
	}
}

// Close stops the worker goroutines.
func (p *Prefetcher) Close() {
	atomic.StoreInt32(&p.closed, 1)
	close(p.done)
}
