package dbuf

// Config bundles the tunables the cache needs at construction time, in the
// same flat-struct-plus-defaults-constructor shape triedb/pathdb.Config
// uses (one struct threaded everywhere instead of a pile of constructor
// arguments).
type Config struct {
	// HashTableMinSize is the floor on the hash index's table size
	// (spec.md §4.1: "bounded below by 2^10 entries").
	HashTableMinSize int

	// AverageBlockSize feeds the hash table sizing heuristic:
	// table_size * AverageBlockSize >= PhysicalMemoryBudget.
	AverageBlockSize int

	// PhysicalMemoryBudget is the assumed working-set size used only for
	// initial hash table sizing; it is not an enforced cache limit.
	PhysicalMemoryBudget int64

	// StripeCount is the number of hash-index stripe mutexes, independent
	// of table size (spec.md §4.1: "one mutex per fixed stripe").
	StripeCount int

	// MaxConcurrentTXGs is the number of TXGs that may be open or syncing at
	// once, the bound on dirty_count per buffer (spec.md §3). The cache does
	// not check dirty_count against it.
	MaxConcurrentTXGs int

	// BonusMaxSize is the fixed maximum length of a bonus-buffer snapshot
	// scratch allocation (spec.md §4.4).
	BonusMaxSize int

	// ImmediateEvict, when set, makes release() invoke the user eviction
	// callback as soon as holds settle at dirty_count for a level-0 buffer
	// (spec.md §4.7).
	ImmediateEvict bool
}

// DefaultConfig returns the configuration used by the demo and by tests
// that do not care about sizing specifics.
func DefaultConfig() Config {
	return Config{
		HashTableMinSize:     1 << 10,
		AverageBlockSize:     128 << 10,
		PhysicalMemoryBudget: 1 << 30,
		StripeCount:          256,
		MaxConcurrentTXGs:    8,
		BonusMaxSize:         320,
		ImmediateEvict:       false,
	}
}
