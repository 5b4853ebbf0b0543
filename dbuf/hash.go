package dbuf

import (
	"encoding/binary"
	"hash/crc64"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// hashKey computes the 64-bit CRC spec.md §4.1 calls for ("hashed with a
// standard 64-bit CRC over the identity tuple").
func hashKey(k Key) uint64 {
	var buf [26]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(k.ObjSet))
	binary.LittleEndian.PutUint64(buf[8:16], k.Object)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(k.Level))
	binary.LittleEndian.PutUint64(buf[18:26], uint64(k.BlockID))
	return crc64.Checksum(buf[:], crcTable)
}

// hashBucket is one chain slot in the table. Protected by the stripe mutex
// covering its index.
type hashBucket struct {
	entries []*Buffer
}

// HashIndex is the concurrent map (object-set, object, level, block-id) ->
// Buffer with striped locking (spec.md §4.1, component C1).
//
// Lock order is stripe > Buffer (spec.md §5); remove() must be called
// without the Buffer mutex held.
type HashIndex struct {
	stripes    []sync.Mutex
	numStripes uint64

	bucketMask uint64
	buckets    []hashBucket

	// evictions runs user eviction callbacks off the Buffer mutex
	// (holds.go queueEviction); owned here rather than by Cache because
	// Buffer only carries a HashIndex reference, not a Cache one.
	evictions *evictionQueue
}

// NewHashIndex builds a table sized so that table_size * averageBlockSize
// >= physicalMemoryBudget, bounded below by cfg.HashTableMinSize (spec.md
// §4.1 "Sizing"), falling back by halving on allocation failure. Go doesn't
// expose allocation failure the way the C original's kmem_alloc does, so
// the halving loop here guards against an unreasonably large requested
// size instead (a defensive cap, not a literal retry-on-ENOMEM).
func NewHashIndex(cfg Config) *HashIndex {
	size := cfg.HashTableMinSize
	if cfg.AverageBlockSize > 0 && cfg.PhysicalMemoryBudget > 0 {
		want := int(cfg.PhysicalMemoryBudget / int64(cfg.AverageBlockSize))
		if want > size {
			size = want
		}
	}
	size = nextPowerOfTwo(size)
	const maxReasonable = 1 << 26
	for size > maxReasonable {
		size /= 2
		log.Warn("dbuf hash table size halved", "size", size)
	}
	if size < cfg.HashTableMinSize {
		size = nextPowerOfTwo(cfg.HashTableMinSize)
	}
	numStripes := uint64(cfg.StripeCount)
	if numStripes == 0 {
		numStripes = 256
	}
	log.Info("New dbuf hash index", "buckets", size, "stripes", numStripes)
	return &HashIndex{
		stripes:    make([]sync.Mutex, numStripes),
		numStripes: numStripes,
		bucketMask: uint64(size - 1),
		buckets:    make([]hashBucket, size),
		evictions:  newEvictionQueue(4),
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Close drains the eviction-callback worker pool. Safe to call once, after
// all buffers have been released.
func (h *HashIndex) Close() {
	h.evictions.close()
}

func (h *HashIndex) bucketIndex(k Key) uint64 {
	return hashKey(k) & h.bucketMask
}

func (h *HashIndex) stripeIndex(bucketIdx uint64) uint64 {
	return bucketIdx % h.numStripes
}

// find looks up key, skipping (treating as absent) any Buffer already in
// EVICTING (spec.md §4.1). On success it returns with the Buffer mutex
// held, as the spec requires ("acquires the Buffer mutex before releasing
// the stripe mutex").
func (h *HashIndex) find(key Key) *Buffer {
	bucketIdx := h.bucketIndex(key)
	stripeIdx := h.stripeIndex(bucketIdx)

	h.stripes[stripeIdx].Lock()
	defer h.stripes[stripeIdx].Unlock()

	bucket := &h.buckets[bucketIdx]
	for _, b := range bucket.entries {
		if b.key != key {
			continue
		}
		b.mu.Lock()
		if b.state.has(StateEvicting) {
			b.mu.Unlock()
			hashEvictSkip.Mark(1)
			continue
		}
		hashHitMeter.Mark(1)
		return b
	}
	hashMissMeter.Mark(1)
	return nil
}

// insert looks up key; on a match it returns the existing Buffer (locked),
// exactly like find. On a miss it links buf into the chain and returns nil
// (spec.md §4.1 insert: "on match, returns the existing Buffer").
func (h *HashIndex) insert(buf *Buffer) *Buffer {
	bucketIdx := h.bucketIndex(buf.key)
	stripeIdx := h.stripeIndex(bucketIdx)

	h.stripes[stripeIdx].Lock()
	defer h.stripes[stripeIdx].Unlock()

	bucket := &h.buckets[bucketIdx]
	for _, b := range bucket.entries {
		if b.key != buf.key {
			continue
		}
		b.mu.Lock()
		if b.state.has(StateEvicting) {
			b.mu.Unlock()
			continue
		}
		return b
	}
	bucket.entries = append(bucket.entries, buf)
	return nil
}

// remove unlinks buf from the chain. Requires holds==0 and state==EVICTING,
// and the caller must NOT hold buf.mu (lock order stripe > Buffer; spec.md
// §4.1).
func (h *HashIndex) remove(buf *Buffer) {
	bucketIdx := h.bucketIndex(buf.key)
	stripeIdx := h.stripeIndex(bucketIdx)

	h.stripes[stripeIdx].Lock()
	defer h.stripes[stripeIdx].Unlock()

	bucket := &h.buckets[bucketIdx]
	for i, b := range bucket.entries {
		if b == buf {
			bucket.entries = append(bucket.entries[:i], bucket.entries[i+1:]...)
			return
		}
	}
}
