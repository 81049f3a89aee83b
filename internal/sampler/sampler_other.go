//go:build !windows

package sampler

import "fmt"

// UnsupportedReader is the non-Windows stand-in, mirroring the teacher's
// *_stub.go pattern (cmd/netns_stub.go, cmd/process_stub.go) for platforms
// the feature isn't implemented on: the module still builds and tests,
// but counter reads fail every call so callers see the sampler's normal
// transient-failure/circuit-breaker path rather than a compile error.
type UnsupportedReader struct{}

// NewWindowsReader exists on every platform so callers don't need a build
// tag of their own; on non-Windows it returns a reader that always fails.
func NewWindowsReader() *UnsupportedReader { return &UnsupportedReader{} }

func (r *UnsupportedReader) ReadCounters() (map[string]IfaceCounters, error) {
	return nil, fmt.Errorf("counter sampling is only implemented on windows")
}
