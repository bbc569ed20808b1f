//go:build !(linux && cgo)

package input

// newXTestBackend reports no fast path on builds without X11 cgo
// support; every event falls through to the xdotool queue.
func newXTestBackend() fastPath {
	return nil
}
