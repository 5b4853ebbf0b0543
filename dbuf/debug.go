package dbuf

import "fmt"

// debugAssertions gates invariant checks that spec.md §7 says "abort in
// debug builds; production builds rely on the invariants being upheld by
// correct clients." Go has no compile-time NDEBUG, so the switch is a
// package variable rather than two physically distinct builds; set it from
// an init() in a file built only under the dbufdebug tag (see debug_on.go).
var debugAssertions = false

// assertf panics with a formatted message when debugAssertions is enabled
// and cond is false. It is a no-op (not even evaluating its arguments'
// formatting cost beyond the call) in production builds.
func assertf(cond bool, format string, args ...interface{}) {
	if !debugAssertions || cond {
		return
	}
	panic(fmt.Sprintf("dbuf: invariant violated: "+format, args...))
}
