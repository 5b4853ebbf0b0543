package dbuf

import "sort"

// Range is a half-open byte interval [Start, End) within a leaf dirty
// record's snapshot (spec.md §3 "Write range"). Size is always computed,
// never stored — see DESIGN.md's note on the dbuf_dirty_record_truncate_
// ranges bug flagged in spec.md §9, which this representation sidesteps
// rather than reproduces.
type Range struct {
	Start, End uint64
}

// Size returns End-Start.
func (r Range) Size() uint64 { return r.End - r.Start }

// RangeList holds the disjoint, sorted, non-adjacent-after-merge ranges of
// a single leaf dirty record (spec.md §3, §4.4.4).
type RangeList struct {
	ranges []Range
}

// Ranges returns the current sorted, disjoint range list. The returned
// slice must not be mutated by the caller.
func (rl *RangeList) Ranges() []Range { return rl.ranges }

// Empty reports whether the list has no ranges (a complete/resolved
// snapshot, or one that has not yet been touched).
func (rl *RangeList) Empty() bool { return len(rl.ranges) == 0 }

// Clear empties the list (spec.md §4.3 step 4, post-merge).
func (rl *RangeList) Clear() { rl.ranges = rl.ranges[:0] }

// Add inserts [start, end) into the list, merging any existing range that
// overlaps or abuts it (spec.md §4.4.4 write-range accumulator). Adding
// is idempotent: a second call with identical bounds leaves exactly one
// merged range (spec.md P7).
func (rl *RangeList) Add(start, end uint64) {
	if start >= end {
		return
	}
	merged := Range{Start: start, End: end}
	out := rl.ranges[:0]
	inserted := false
	for _, r := range rl.ranges {
		switch {
		case r.End < merged.Start:
			// Entirely before; keep as-is, no merge possible yet.
			out = append(out, r)
		case r.Start > merged.End:
			// Entirely after; flush merged first if not yet placed.
			if !inserted {
				out = append(out, merged)
				inserted = true
			}
			out = append(out, r)
		default:
			// Overlaps or abuts merged; absorb it.
			if r.Start < merged.Start {
				merged.Start = r.Start
			}
			if r.End > merged.End {
				merged.End = r.End
			}
		}
	}
	if !inserted {
		out = append(out, merged)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	rl.ranges = out
}

// CoversWholeBlock reports whether a single range spans [0, size) — the
// "record transitions from incomplete to complete" condition of spec.md
// §4.4.4.
func (rl *RangeList) CoversWholeBlock(size uint64) bool {
	return len(rl.ranges) == 1 && rl.ranges[0].Start == 0 && rl.ranges[0].End == size
}

// Holes walks the gaps between successive ranges and between the last
// range and maxOffset (spec.md §4.3 "Hole iterator semantics"). An empty
// range list marks a complete snapshot (see Empty), so it yields nothing,
// as does a list that already covers [0, maxOffset).
func (rl *RangeList) Holes(maxOffset uint64) []Range {
	var holes []Range
	if len(rl.ranges) == 0 {
		return holes
	}
	cursor := uint64(0)
	for _, r := range rl.ranges {
		if r.Start > cursor {
			holes = append(holes, Range{Start: cursor, End: r.Start})
		}
		if r.End > cursor {
			cursor = r.End
		}
	}
	if cursor < maxOffset {
		holes = append(holes, Range{Start: cursor, End: maxOffset})
	}
	return holes
}

// Truncate clips or drops ranges beyond newSize (dbuf_dirty_record_
// truncate_ranges in dbuf.c, spec.md §9). The C original computes
// range->size = range->end - range->size, which reads a stale stored
// `size` field rather than `start`; this implementation stores no such
// field (Size() is always End-Start) so there is nothing to corrupt. The
// evidently-intended behavior — drop ranges entirely past newSize, clip
// ranges that straddle it — is implemented directly.
func (rl *RangeList) Truncate(newSize uint64) {
	out := rl.ranges[:0]
	for _, r := range rl.ranges {
		if r.Start >= newSize {
			continue
		}
		if r.End > newSize {
			r.End = newSize
		}
		out = append(out, r)
	}
	rl.ranges = out
}

// mergeHoles copies the bytes of each hole from base into dst, used by the
// range-merge resolver (spec.md §4.3 step 2). base and dst must both be at
// least maxOffset bytes (the caller clamps to min(base_size, snapshot_size)
// per spec.md §4.3).
func mergeHoles(holes []Range, base, dst []byte) {
	for _, h := range holes {
		copy(dst[h.Start:h.End], base[h.Start:h.End])
	}
}
