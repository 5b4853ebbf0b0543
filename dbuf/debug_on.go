//go:build dbufdebug

package dbuf

func init() {
	debugAssertions = true
}
