package dbuf

import "github.com/ethereum/go-ethereum/metrics"

// Package-level meters, registered the way triedb/pathdb/disklayer.go
// registers cleanHitMeter/dirtyMissMeter/etc: a flat list of
// metrics.GetOrRegisterMeter/Counter calls under a common namespace.
var (
	hashMissMeter  = metrics.GetOrRegisterMeter("dbuf/hash/miss", nil)
	hashHitMeter   = metrics.GetOrRegisterMeter("dbuf/hash/hit", nil)
	hashEvictSkip  = metrics.GetOrRegisterMeter("dbuf/hash/evictskip", nil)
	readIssueMeter = metrics.GetOrRegisterMeter("dbuf/read/issue", nil)
	readCachedMeter = metrics.GetOrRegisterMeter("dbuf/read/cached", nil)
	readHoleMeter  = metrics.GetOrRegisterMeter("dbuf/read/hole", nil)
	readErrorMeter = metrics.GetOrRegisterMeter("dbuf/read/error", nil)

	dirtyWritesLostCounter = metrics.GetOrRegisterCounter("dbuf/dirty/writeslost", nil)
	dirtyNewRecordMeter    = metrics.GetOrRegisterMeter("dbuf/dirty/newrecord", nil)
	dirtyDisassocMeter     = metrics.GetOrRegisterMeter("dbuf/dirty/disassociate", nil)

	freeRangeMeter = metrics.GetOrRegisterMeter("dbuf/free/range", nil)

	syncLeafMeter     = metrics.GetOrRegisterMeter("dbuf/sync/leaf", nil)
	syncIndirectMeter = metrics.GetOrRegisterMeter("dbuf/sync/indirect", nil)
	syncSplitMeter    = metrics.GetOrRegisterMeter("dbuf/sync/split", nil)
	syncDeferredMeter = metrics.GetOrRegisterMeter("dbuf/sync/deferred", nil)
	syncerCloneMeter  = metrics.GetOrRegisterMeter("dbuf/sync/clone", nil)

	evictMeter = metrics.GetOrRegisterMeter("dbuf/holds/evict", nil)
)
