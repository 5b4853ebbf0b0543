package dbuf

import "fmt"

// State is the per-block lifecycle bitset from spec.md §3. Legal
// combinations: each of UNCACHED/CACHED/NOFILL/EVICTING is exclusive;
// PARTIAL only with FILL; READ only with FILL; FILL only with PARTIAL or
// READ.
type State uint8

const (
	StateUncached State = 1 << iota
	StateRead
	StatePartial
	StateFill
	StateCached
	StateNofill
	StateEvicting
)

func (s State) has(bit State) bool { return s&bit != 0 }

func (s State) String() string {
	if s == 0 {
		return "none"
	}
	names := []struct {
		bit State
		str string
	}{
		{StateUncached, "UNCACHED"},
		{StateRead, "READ"},
		{StatePartial, "PARTIAL"},
		{StateFill, "FILL"},
		{StateCached, "CACHED"},
		{StateNofill, "NOFILL"},
		{StateEvicting, "EVICTING"},
	}
	out := ""
	for _, n := range names {
		if s.has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.str
		}
	}
	return out
}

// legal reports whether s is one of the combinations spec.md §3 allows.
// Used by the debug-build verifier (dbuf/debug.go) and exercised directly
// by state_test.go.
func (s State) legal() bool {
	exclusive := 0
	for _, bit := range []State{StateUncached, StateCached, StateNofill, StateEvicting} {
		if s.has(bit) {
			exclusive++
		}
	}
	if exclusive > 1 {
		return false
	}
	if s.has(StatePartial) && !s.has(StateFill) {
		return false
	}
	if s.has(StateRead) && !s.has(StateFill) {
		return false
	}
	if s.has(StateFill) && !s.has(StatePartial) && !s.has(StateRead) {
		return false
	}
	// FILL/PARTIAL/READ may only coexist with none of the exclusive bits
	// (a buffer mid-fill hasn't settled into a terminal state yet), except
	// that a NOFILL buffer is never filled at all.
	if s.has(StateFill) && exclusive != 0 {
		return false
	}
	// Must be something.
	if s == 0 {
		return false
	}
	return true
}

func verifyState(s State) {
	assertf(s.legal(), "illegal state combination %s (%08b)", s, uint8(s))
}

// stateError formats a readable panic/log message for an unexpected state
// observed mid-operation.
func stateError(op string, s State) error {
	return fmt.Errorf("dbuf: %s: unexpected state %s", op, s)
}
