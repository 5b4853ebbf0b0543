package dbuf

import "errors"

// Sentinel errors surfaced across the hold/read/dirty/free/sync public
// operations, named the way journal.go names its sentinels in
// triedb/pathdb: package-scope errors.New, wrapped with fmt.Errorf("%w: ...")
// where extra context needs to travel with the sentinel.
var (
	// ErrIO is returned from Read when the underlying adaptive-cache or
	// storage read failed and the buffer had no dirty records to mask the
	// failure with (spec.md §7).
	ErrIO = errors.New("dbuf: i/o error")

	// ErrNoFill is returned from Read against a NOFILL buffer. Always
	// fails by design (spec.md §4.2 step 1).
	ErrNoFill = errors.New("dbuf: read of nofill buffer")

	// ErrNoEnt is returned from Hold when FailSparse is set and the block
	// has no parent block-pointer slot (spec.md §7, supplemented feature 2).
	ErrNoEnt = errors.New("dbuf: no such block (sparse)")

	// ErrNotSpill is returned from NewSize when a spill-size change is
	// requested on a buffer that is not KindSpill (spec.md §7, supplemented
	// feature 1).
	ErrNotSpill = errors.New("dbuf: spill-size set on non-spill buffer")

	// ErrEvicting names a Buffer that has already transitioned to EVICTING
	// and cannot be resurrected. No operation in this module returns it.
	ErrEvicting = errors.New("dbuf: buffer is evicting")

	// ErrStale names a request to act on a generation of state that has
	// since been superseded. No operation or fake in this module returns it.
	ErrStale = errors.New("dbuf: stale reference")
)
