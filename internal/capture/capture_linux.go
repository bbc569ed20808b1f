//go:build linux && cgo

package capture

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXext

#include <X11/Xlib.h>
#include <X11/extensions/XShm.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	void *data;
	int   width;
	int   height;
	int   bytesPerRow;
	int   error;
} CaptureResult;

typedef struct {
	Display        *display;
	Window          root;
	int             screen;
	int             width;
	int             height;
	int             useShm;
	XShmSegmentInfo shmInfo;
	XImage         *shmImage;
} CaptureCtx;

static CaptureCtx ctx_init(int displayIndex) {
	CaptureCtx c;
	memset(&c, 0, sizeof(c));

	c.display = XOpenDisplay(NULL);
	if (c.display == NULL) {
		return c;
	}
	c.screen = displayIndex;
	if (c.screen < 0 || c.screen >= ScreenCount(c.display)) {
		c.screen = DefaultScreen(c.display);
	}
	c.root = RootWindow(c.display, c.screen);
	c.width = DisplayWidth(c.display, c.screen);
	c.height = DisplayHeight(c.display, c.screen);

	int major, minor;
	Bool pixmaps;
	if (XShmQueryVersion(c.display, &major, &minor, &pixmaps)) {
		c.shmImage = XShmCreateImage(c.display, DefaultVisual(c.display, c.screen),
			DefaultDepth(c.display, c.screen), ZPixmap, NULL, &c.shmInfo, c.width, c.height);
		if (c.shmImage != NULL) {
			c.shmInfo.shmid = shmget(IPC_PRIVATE, c.shmImage->bytes_per_line * c.shmImage->height, IPC_CREAT | 0777);
			if (c.shmInfo.shmid >= 0) {
				c.shmInfo.shmaddr = c.shmImage->data = shmat(c.shmInfo.shmid, 0, 0);
				c.shmInfo.readOnly = False;
				if (XShmAttach(c.display, &c.shmInfo)) {
					c.useShm = 1;
				}
			}
			if (!c.useShm) {
				XDestroyImage(c.shmImage);
				c.shmImage = NULL;
			}
		}
	}
	return c;
}

static void ctx_close(CaptureCtx *c) {
	if (c->shmImage != NULL) {
		XShmDetach(c->display, &c->shmInfo);
		shmdt(c->shmInfo.shmaddr);
		shmctl(c->shmInfo.shmid, IPC_RMID, 0);
		XDestroyImage(c->shmImage);
	}
	if (c->display != NULL) {
		XCloseDisplay(c->display);
	}
	memset(c, 0, sizeof(*c));
}

static void pixel_to_rgba(unsigned long pixel, int depth, unsigned char *dst) {
	if (depth == 32 || depth == 24) {
		dst[0] = (pixel >> 16) & 0xFF;
		dst[1] = (pixel >> 8) & 0xFF;
		dst[2] = pixel & 0xFF;
		dst[3] = 255;
	} else {
		dst[0] = ((pixel >> 11) & 0x1F) * 255 / 31;
		dst[1] = ((pixel >> 5) & 0x3F) * 255 / 63;
		dst[2] = (pixel & 0x1F) * 255 / 31;
		dst[3] = 255;
	}
}

static CaptureResult ctx_capture(CaptureCtx *c) {
	CaptureResult r;
	memset(&r, 0, sizeof(r));

	if (c->display == NULL) {
		r.error = 1;
		return r;
	}

	XImage *image = NULL;
	if (c->useShm && c->shmImage != NULL) {
		if (!XShmGetImage(c->display, c->root, c->shmImage, 0, 0, AllPlanes)) {
			r.error = 2;
			return r;
		}
		image = c->shmImage;
	} else {
		image = XGetImage(c->display, c->root, 0, 0, c->width, c->height, AllPlanes, ZPixmap);
		if (image == NULL) {
			r.error = 3;
			return r;
		}
	}

	r.width = image->width;
	r.height = image->height;
	r.bytesPerRow = r.width * 4;

	size_t size = (size_t)r.bytesPerRow * r.height;
	r.data = malloc(size);
	if (r.data == NULL) {
		if (!c->useShm) XDestroyImage(image);
		r.error = 4;
		return r;
	}

	unsigned char *dst = (unsigned char *)r.data;
	int depth = image->bits_per_pixel;
	for (int y = 0; y < r.height; y++) {
		for (int x = 0; x < r.width; x++) {
			unsigned long pixel = XGetPixel(image, x, y);
			pixel_to_rgba(pixel, depth, dst + y * r.bytesPerRow + x * 4);
		}
	}

	if (!c->useShm) {
		XDestroyImage(image);
	}
	return r;
}

static void capture_free(void *data) {
	if (data != NULL) free(data);
}
*/
import "C"

import (
	"fmt"
	"image"
	"sync"
)

type linuxCapturer struct {
	mu  sync.Mutex
	ctx C.CaptureCtx
}

func newLinuxCapturer(displayIndex int) (ScreenCapturer, error) {
	ctx := C.ctx_init(C.int(displayIndex))
	if ctx.display == nil {
		return nil, fmt.Errorf("capture: open X11 display failed (is DISPLAY set?)")
	}
	return &linuxCapturer{ctx: ctx}, nil
}

func (c *linuxCapturer) Capture() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := C.ctx_capture(&c.ctx)
	if res.error != 0 {
		return nil, translateError(int(res.error))
	}
	defer C.capture_free(res.data)

	width, height, stride := int(res.width), int(res.height), int(res.bytesPerRow)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	raw := C.GoBytes(res.data, C.int(stride*height))
	for y := 0; y < height; y++ {
		srcStart := y * stride
		dstStart := y * img.Stride
		copy(img.Pix[dstStart:dstStart+width*4], raw[srcStart:srcStart+width*4])
	}
	return img, nil
}

func (c *linuxCapturer) Bounds() (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.display == nil {
		return 0, 0, ErrNotSupported
	}
	return int(c.ctx.width), int(c.ctx.height), nil
}

func (c *linuxCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	C.ctx_close(&c.ctx)
	return nil
}

func translateError(code int) error {
	switch code {
	case 1:
		return fmt.Errorf("capture: X11 display not open")
	case 2:
		return fmt.Errorf("capture: XShmGetImage failed")
	case 3:
		return fmt.Errorf("capture: XGetImage failed")
	case 4:
		return fmt.Errorf("capture: allocation failed")
	default:
		return fmt.Errorf("capture: unknown error %d", code)
	}
}

var _ ScreenCapturer = (*linuxCapturer)(nil)
