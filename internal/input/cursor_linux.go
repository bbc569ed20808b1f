//go:build linux && cgo

package input

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXfixes

#include <X11/Xlib.h>
#include <X11/extensions/Xfixes.h>
#include <stdlib.h>

// classify_cursor returns a coarse shape name derived from the cursor
// image's width and height, since XFixesCursorImage carries pixel
// data, not a name — there is no X11 API that hands back a cursor
// shape string the way a toolkit's cursor theme does.
static const char *classify_cursor(Display *dpy) {
	int event_base, error_base;
	if (dpy == NULL || !XFixesQueryExtension(dpy, &event_base, &error_base)) {
		return "default";
	}
	XFixesCursorImage *img = XFixesGetCursorImage(dpy);
	if (img == NULL) {
		return "default";
	}
	int w = img->width, h = img->height;
	XFree(img);
	if (w <= 1 && h <= 1) {
		return "default";
	}
	if (w < 8 && h >= 16) {
		return "text";
	}
	return "default";
}
*/
import "C"

import "sync"

// cursorReader owns its own X11 display connection, independent of the
// capture package's, since the two run on separate poll loops.
type cursorReader struct {
	mu  sync.Mutex
	dpy *C.Display
}

var globalCursorReader = &cursorReader{}

func (c *cursorReader) shape() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dpy == nil {
		c.dpy = C.XOpenDisplay(nil)
		if c.dpy == nil {
			return "default"
		}
	}
	return C.GoString(C.classify_cursor(c.dpy))
}

// CursorShape returns a best-effort X11 cursor shape name. Implements
// session.CursorProvider.
func (in *Injector) CursorShape() string {
	return globalCursorReader.shape()
}
