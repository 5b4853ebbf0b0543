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

// Package testutil provides in-memory fakes for dbuf's ObjectLayer and
// TxnManager collaborators, for use by tests outside package dbuf (such as
// dbuf/syncer's) and by callers exercising the cache without a real
// object/transaction layer wired up.
package testutil

import (
	"sync"

	"github.com/google/uuid"

	"github.com/coredao-org/dbufcache/dbuf"
)

type objectKey struct {
	objset dbuf.ObjSet
	object uint64
}

// ObjectLayer is a map-backed fake of dbuf.ObjectLayer.
type ObjectLayer struct {
	mu sync.Mutex

	blockPtrs map[dbuf.Key]*dbuf.BlockPtr
	freed     map[dbuf.Key]uint64
	bonus     map[objectKey][]byte
	maxBlkID  map[objectKey]dbuf.BlockID
	copies    map[objectKey]int
	bonusHold map[objectKey]int

	blocksPerIndirect dbuf.BlockID
	maxLevel          int16
	indirectSize      uint32
	spaceUsed         int64
}

// NewObjectLayer builds a fake with a fixed indirect-tree fan-out
// (blocksPerIndirect children per indirect block) and depth (maxLevel is
// the highest indirect level before ParentOf reports "root").
func NewObjectLayer(blocksPerIndirect dbuf.BlockID, maxLevel int16, indirectSize uint32) *ObjectLayer {
	return &ObjectLayer{
		blockPtrs:         make(map[dbuf.Key]*dbuf.BlockPtr),
		freed:             make(map[dbuf.Key]uint64),
		bonus:             make(map[objectKey][]byte),
		maxBlkID:          make(map[objectKey]dbuf.BlockID),
		copies:            make(map[objectKey]int),
		bonusHold:         make(map[objectKey]int),
		blocksPerIndirect: blocksPerIndirect,
		maxLevel:          maxLevel,
		indirectSize:      indirectSize,
	}
}

// SetBlockPtr preloads the slot for key, as if a prior TXG had already
// written it.
func (o *ObjectLayer) SetBlockPtr(key dbuf.Key, bp *dbuf.BlockPtr) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blockPtrs[key] = bp
}

// SetCopies configures NumCopies' answer for (objset, object).
func (o *ObjectLayer) SetCopies(objset dbuf.ObjSet, object uint64, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.copies[objectKey{objset, object}] = n
}

// MarkFreed records that (key) was freed as of txg, for IsFreed to observe.
func (o *ObjectLayer) MarkFreed(key dbuf.Key, txg uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.freed[key] = txg
}

func (o *ObjectLayer) BlockPtr(objset dbuf.ObjSet, object uint64, level int16, blkid dbuf.BlockID) *dbuf.BlockPtr {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blockPtrs[dbuf.Key{ObjSet: objset, Object: object, Level: level, BlockID: blkid}]
}

func (o *ObjectLayer) ParentBlockPtrSlot(objset dbuf.ObjSet, object uint64, level int16, blkid dbuf.BlockID) *dbuf.BlockPtr {
	return o.BlockPtr(objset, object, level, blkid)
}

func (o *ObjectLayer) IsFreed(objset dbuf.ObjSet, object uint64, level int16, blkid dbuf.BlockID, txg uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	freedTxg, ok := o.freed[dbuf.Key{ObjSet: objset, Object: object, Level: level, BlockID: blkid}]
	return ok && freedTxg <= txg
}

func (o *ObjectLayer) WillUseSpace(objset dbuf.ObjSet, object uint64, delta int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spaceUsed += delta
}

func (o *ObjectLayer) SetMaxBlkID(objset dbuf.ObjSet, object uint64, blkid dbuf.BlockID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := objectKey{objset, object}
	if cur, ok := o.maxBlkID[k]; !ok || blkid > cur {
		o.maxBlkID[k] = blkid
	}
}

func (o *ObjectLayer) BonusRegion(objset dbuf.ObjSet, object uint64, maxLen int) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	region := o.bonus[objectKey{objset, object}]
	out := make([]byte, maxLen)
	copy(out, region)
	return out
}

func (o *ObjectLayer) WriteBonusRegion(objset dbuf.ObjSet, object uint64, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	o.bonus[objectKey{objset, object}] = cp
}

func (o *ObjectLayer) NumCopies(objset dbuf.ObjSet, object uint64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n, ok := o.copies[objectKey{objset, object}]; ok {
		return n
	}
	return 1
}

func (o *ObjectLayer) ReleaseBonusHold(objset dbuf.ObjSet, object uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bonusHold[objectKey{objset, object}]--
}

// ParentOf computes the parent indirect identity from the fixed fan-out
// geometry this fake was constructed with.
func (o *ObjectLayer) ParentOf(key dbuf.Key) (dbuf.Key, bool) {
	if key.Level >= o.maxLevel {
		return dbuf.Key{}, false
	}
	return dbuf.Key{
		ObjSet:  key.ObjSet,
		Object:  key.Object,
		Level:   key.Level + 1,
		BlockID: dbuf.BlockID(uint64(key.BlockID) / uint64(o.blocksPerIndirect)),
	}, true
}

func (o *ObjectLayer) IndirectBlockSize(objset dbuf.ObjSet, object uint64) uint32 {
	return o.indirectSize
}

// TxnManager is a fake of dbuf.TxnManager with an explicit OpenTXG/SetSyncing
// control surface for tests.
type TxnManager struct {
	mu            sync.Mutex
	txg           uint64
	syncing       bool
	maxConcurrent int
}

// NewTxnManager starts at TXG 1 (TXG 0 is reserved, as in ZFS, for "no
// transaction").
func NewTxnManager(maxConcurrent int) *TxnManager {
	return &TxnManager{txg: 1, maxConcurrent: maxConcurrent}
}

func (t *TxnManager) CurrentTXG() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.txg
}

func (t *TxnManager) Syncing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syncing
}

func (t *TxnManager) MaxConcurrentTXGs() int { return t.maxConcurrent }

// OpenTXG advances to and returns the next TXG.
func (t *TxnManager) OpenTXG() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txg++
	return t.txg
}

// SetSyncing toggles the syncing-context flag Syncing() reports.
func (t *TxnManager) SetSyncing(syncing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncing = syncing
}

// HoldTag returns a fresh opaque tag suitable for Buffer.AddRef/Release,
// used where tests want distinguishable tags rather than a bare string.
func HoldTag() interface{} {
	return uuid.New()
}
