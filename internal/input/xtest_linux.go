//go:build linux && cgo

package input

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXtst

#include <X11/Xlib.h>
#include <X11/extensions/XTest.h>
#include <stdlib.h>

static int xtest_available(Display *dpy) {
	int event_base, error_base, major, minor;
	return dpy != NULL && XTestQueryExtension(dpy, &event_base, &error_base, &major, &minor);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// xtestBackend drives X11's XTEST extension over a single persistent
// display connection: each injected event is one protocol round-trip,
// not a subprocess spin-up.
type xtestBackend struct {
	mu  sync.Mutex
	dpy *C.Display
}

// newXTestBackend opens a persistent X11 connection and confirms the
// XTEST extension is present, returning nil if either step fails so
// the caller falls back to the xdotool queue.
func newXTestBackend() fastPath {
	dpy := C.XOpenDisplay(nil)
	if dpy == nil {
		return nil
	}
	if C.xtest_available(dpy) == 0 {
		C.XCloseDisplay(dpy)
		return nil
	}
	return &xtestBackend{dpy: dpy}
}

func (b *xtestBackend) mouseMove(x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if C.XTestFakeMotionEvent(b.dpy, -1, C.int(x), C.int(y), 0) == 0 {
		return fmt.Errorf("input: XTestFakeMotionEvent failed")
	}
	C.XFlush(b.dpy)
	return nil
}

func (b *xtestBackend) mouseButton(code string, press bool) error {
	button, err := buttonNumber(code)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if C.XTestFakeButtonEvent(b.dpy, C.uint(button), cBool(press), 0) == 0 {
		return fmt.Errorf("input: XTestFakeButtonEvent failed")
	}
	C.XFlush(b.dpy)
	return nil
}

func (b *xtestBackend) keyEvent(keysym string, press bool) error {
	cKeysym := C.CString(keysym)
	defer C.free(unsafe.Pointer(cKeysym))

	b.mu.Lock()
	defer b.mu.Unlock()

	ks := C.XStringToKeysym(cKeysym)
	if ks == C.NoSymbol {
		return fmt.Errorf("input: unknown keysym %q", keysym)
	}
	code := C.XKeysymToKeycode(b.dpy, ks)
	if code == 0 {
		return fmt.Errorf("input: no keycode mapped for %q", keysym)
	}
	if C.XTestFakeKeyEvent(b.dpy, code, cBool(press), 0) == 0 {
		return fmt.Errorf("input: XTestFakeKeyEvent failed")
	}
	C.XFlush(b.dpy)
	return nil
}

func (b *xtestBackend) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dpy != nil {
		C.XCloseDisplay(b.dpy)
		b.dpy = nil
	}
}

func cBool(v bool) C.Bool {
	if v {
		return 1
	}
	return 0
}

func buttonNumber(code string) (int, error) {
	switch code {
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		return int(code[0] - '0'), nil
	default:
		return 0, fmt.Errorf("input: unrecognized button code %q", code)
	}
}
