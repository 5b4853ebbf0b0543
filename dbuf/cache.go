package dbuf

// Cache is the top-level facade gluing the hash index (C1) to the external
// collaborators and exposing the public operations of spec.md §6. It plays
// the role triedb/pathdb.Database plays for its layer stack: one
// long-lived object constructed at startup, handed to every caller.
type Cache struct {
	idx *HashIndex
	arc ArcCache
	obj ObjectLayer
	txn TxnManager
	pf  Prefetcher
	cfg Config
}

// NewCache wires the hash index and collaborators into a ready-to-use
// cache; the hash index starts the bounded eviction-callback worker pool
// (spec.md SPEC_FULL.md supplemented feature 6).
func NewCache(arc ArcCache, obj ObjectLayer, txn TxnManager, pf Prefetcher, cfg Config) *Cache {
	return &Cache{
		idx: NewHashIndex(cfg),
		arc: arc,
		obj: obj,
		txn: txn,
		pf:  pf,
		cfg: cfg,
	}
}

// Close drains the eviction worker pool. Safe to call once, after all
// buffers have been released.
func (c *Cache) Close() {
	c.idx.Close()
}

// HoldOptions configures Hold's sparse-block behavior (spec.md §6, §7,
// SPEC_FULL.md supplemented feature 2).
type HoldOptions struct {
	// FailSparse makes Hold return ErrNoEnt instead of materializing a
	// hole when the parent indirect has no slot for this block.
	FailSparse bool
}

// Hold returns the Buffer for (objset, object, level, blkid), creating it
// in UNCACHED if this is the first reference, and takes +1 hold (spec.md
// §6 "hold(object, level, blkid) -> Buffer: returns with +1 hold").
func (c *Cache) Hold(objset ObjSet, object uint64, level int16, blkid BlockID, kind Kind, size uint32, opts HoldOptions) (*Buffer, error) {
	key := Key{ObjSet: objset, Object: object, Level: level, BlockID: blkid}

	if existing := c.idx.find(key); existing != nil {
		existing.holds++
		existing.mu.Unlock()
		return existing, nil
	}

	bp := c.obj.ParentBlockPtrSlot(objset, object, level, blkid)
	if opts.FailSparse && bp == nil && kind != KindBonus {
		return nil, ErrNoEnt
	}

	db := holdBuffer(c.idx, c.arc, c.obj, c.txn, c.pf, c.cfg, key, kind, size)
	db.mu.Lock()
	if db.blkptr == nil && db.kind != KindBonus {
		db.blkptr = bp
	}
	db.mu.Unlock()
	return db, nil
}

// holdBuffer is the shared "find-or-create, +1 hold" sequence used by both
// Cache.Hold and the recursive parent-dirty path (dirtypath.go §4.4.3),
// which must acquire a sibling Buffer's hold without going through a Cache
// (it only has the collaborators a Buffer already carries).
func holdBuffer(idx *HashIndex, arc ArcCache, obj ObjectLayer, txn TxnManager, pf Prefetcher, cfg Config, key Key, kind Kind, size uint32) *Buffer {
	if existing := idx.find(key); existing != nil {
		existing.holds++
		existing.mu.Unlock()
		return existing
	}
	db := newBuffer(key, kind, size, idx, arc, obj, txn, pf, cfg)
	if existing := idx.insert(db); existing != nil {
		existing.holds++
		existing.mu.Unlock()
		return existing
	}
	db.mu.Lock()
	db.holds++
	db.mu.Unlock()
	return db
}

// HoldLevel0 is the level-0 convenience variant named in spec.md §6.
func (c *Cache) HoldLevel0(objset ObjSet, object uint64, blkid BlockID, kind Kind, size uint32, opts HoldOptions) (*Buffer, error) {
	return c.Hold(objset, object, 0, blkid, kind, size, opts)
}

// Prefetch hints the prefetcher collaborator (spec.md §6).
func (c *Cache) Prefetch(objset ObjSet, object uint64, blkid BlockID) {
	if c.pf != nil {
		c.pf.Hint(objset, object, 0, blkid)
	}
}
