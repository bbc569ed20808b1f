// Package capture implements the screen-capture and JPEG-encode pump
// driven by a session once its video socket is attached.
package capture

import (
	"fmt"
	"image"
)

// ErrNotSupported is returned when screen capture is unavailable on
// this build (Linux without CGO, or no X11 display).
var ErrNotSupported = fmt.Errorf("capture: screen capture not supported on this build")

// ScreenCapturer grabs full-screen frames from the local desktop.
type ScreenCapturer interface {
	Capture() (*image.RGBA, error)
	Bounds() (width, height int, err error)
	Close() error
}

// newPlatformCapturer is implemented per-OS in capture_linux.go /
// capture_nocgo.go. Other operating systems are out of scope per
// spec.md — the server side targets headless Linux only.
func newPlatformCapturer(displayIndex int) (ScreenCapturer, error) {
	return newLinuxCapturer(displayIndex)
}
