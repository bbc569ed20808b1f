//go:build !(linux && cgo)

package capture

// newLinuxCapturer requires CGO to talk to X11/XShm; builds without it
// fall back to reporting screen capture as unavailable rather than
// failing to compile.
func newLinuxCapturer(displayIndex int) (ScreenCapturer, error) {
	return nil, ErrNotSupported
}
