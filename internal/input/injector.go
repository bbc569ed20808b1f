// Package input injects mouse and keyboard events into the local X
// session, and reports the current cursor shape for the session's
// cursor-shape push loop.
//
// Two backends back the Injector: a fast path (persistent X11
// connection, one XTEST round-trip per event) where cgo/X11 is
// available, and a subprocess fallback (xdotool) everywhere else. The
// fallback never blocks the caller: events are handed to a bounded
// queue drained by a dedicated worker goroutine, since a per-event
// xdotool spawn takes tens of milliseconds and the input decode loop
// cannot wait on that per §4.6.
package input

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MeeshMakes/dgx-bridge/internal/logging"
)

var log = logging.L("input")

// errNoXdotool is returned by an xdotool invocation when xdotool is
// not installed, rather than failing injector construction outright.
var errNoXdotool = errors.New("input: xdotool not found on PATH")

// xdoTimeout bounds each xdotool invocation so a stuck X session never
// wedges the fallback worker for long.
const xdoTimeout = 500 * time.Millisecond

// fallbackQueueSize bounds how many fallback events can be pending
// before new ones are dropped rather than piling up behind a stuck
// subprocess.
const fallbackQueueSize = 256

var mouseButtons = map[string]string{
	"left":   "1",
	"middle": "2",
	"right":  "3",
	"x1":     "8",
	"x2":     "9",
}

// keyMap translates PC-side key names into X11 keysym names for the
// keys whose names differ between the two.
var keyMap = map[string]string{
	"Enter":     "Return",
	"Return":    "Return",
	"Esc":       "Escape",
	"Escape":    "Escape",
	"Del":       "Delete",
	"Delete":    "Delete",
	"PageUp":    "Page_Up",
	"PageDown":  "Page_Down",
	"Ctrl":      "ctrl",
	"Control":   "ctrl",
	"Alt":       "alt",
	"Shift":     "shift",
	"Super":     "super",
	"Win":       "super",
	"Cmd":       "super",
	"CapsLock":  "Caps_Lock",
	"NumLock":   "Num_Lock",
	"Space":     "space",
	"BackSpace": "BackSpace",
	"Backspace": "BackSpace",
}

// fastPath is the sub-millisecond injection backend §4.6 requires: a
// persistent display-system connection performing each event as a
// single protocol round-trip, no subprocess spin-up per call.
type fastPath interface {
	mouseMove(x, y int) error
	mouseButton(code string, press bool) error
	keyEvent(keysym string, press bool) error
	close()
}

// Injector applies input events, preferring a fast path backend and
// falling back to a non-blocking xdotool queue. It implements
// session.InputInjector.
type Injector struct {
	xdotoolPath string
	runFn       func(args []string) error // overridable in tests

	fast fastPath

	queue chan []string
}

// New locates xdotool on PATH, opens the fast path backend if one is
// available on this platform, and starts the fallback worker. It does
// not fail construction if either is missing; individual calls simply
// report an error (or, for the fallback, log one) so a misconfigured
// host doesn't prevent the rest of the bridge from coming up.
func New() *Injector {
	path, _ := exec.LookPath("xdotool")
	in := &Injector{
		xdotoolPath: path,
		fast:        newXTestBackend(),
		queue:       make(chan []string, fallbackQueueSize),
	}
	in.runFn = in.execXdotool
	go in.fallbackWorker()
	return in
}

// Close stops the fallback worker and releases the fast path's
// display connection, if one was opened.
func (in *Injector) Close() {
	if in.queue != nil {
		close(in.queue)
	}
	if in.fast != nil {
		in.fast.close()
	}
}

func (in *Injector) fallbackWorker() {
	for args := range in.queue {
		if err := in.runFn(args); err != nil {
			log.Debug("fallback input event failed", "args", args, "error", err)
		}
	}
}

// run dispatches a fallback event. Constructed-via-New Injectors never
// block here: the event is hand off to the fallback queue and the
// worker goroutine executes it. Injectors built as bare struct
// literals (as the package's own tests do) have no queue and run
// synchronously instead, since that is the behavior those tests
// exercise directly.
func (in *Injector) run(args ...string) error {
	if in.runFn == nil {
		in.runFn = in.execXdotool
	}
	if in.queue == nil {
		return in.runFn(args)
	}
	select {
	case in.queue <- args:
		return nil
	default:
		log.Warn("input fallback queue full, dropping event", "args", args)
		return nil
	}
}

func (in *Injector) execXdotool(args []string) error {
	if in.xdotoolPath == "" {
		return errNoXdotool
	}
	ctx, cancel := context.WithTimeout(context.Background(), xdoTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, in.xdotoolPath, args...).CombinedOutput()
	if err != nil {
		log.Warn("xdotool failed", "args", args, "error", err, "output", strings.TrimSpace(string(out)))
		return err
	}
	return nil
}

func buttonCode(button string) string {
	if code, ok := mouseButtons[strings.ToLower(button)]; ok {
		return code
	}
	return "1"
}

func translateKey(key string) string {
	if xkey, ok := keyMap[key]; ok {
		return xkey
	}
	return key
}

// MouseMove moves the pointer to an absolute position.
func (in *Injector) MouseMove(x, y int) error {
	if in.fast != nil {
		if err := in.fast.mouseMove(x, y); err == nil {
			return nil
		}
	}
	return in.run("mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y))
}

// MousePress presses and holds a mouse button.
func (in *Injector) MousePress(button string) error {
	code := buttonCode(button)
	if in.fast != nil {
		if err := in.fast.mouseButton(code, true); err == nil {
			return nil
		}
	}
	return in.run("mousedown", code)
}

// MouseRelease releases a previously pressed mouse button.
func (in *Injector) MouseRelease(button string) error {
	code := buttonCode(button)
	if in.fast != nil {
		if err := in.fast.mouseButton(code, false); err == nil {
			return nil
		}
	}
	return in.run("mouseup", code)
}

// MouseScroll scrolls the wheel. Positive dy scrolls down, negative
// scrolls up; positive dx scrolls right, negative scrolls left.
func (in *Injector) MouseScroll(dx, dy int) error {
	clickN := func(button string, n int) error {
		for i := 0; i < n; i++ {
			if in.fast != nil {
				if err := in.fast.mouseButton(button, true); err == nil {
					in.fast.mouseButton(button, false)
					continue
				}
			}
			if err := in.run("click", button); err != nil {
				return err
			}
		}
		return nil
	}

	if dy > 0 {
		if err := clickN("5", dy); err != nil {
			return err
		}
	} else if dy < 0 {
		if err := clickN("4", -dy); err != nil {
			return err
		}
	}
	if dx > 0 {
		return clickN("7", dx)
	} else if dx < 0 {
		return clickN("6", -dx)
	}
	return nil
}

// KeyPress presses and holds a key.
func (in *Injector) KeyPress(key string) error {
	xkey := translateKey(key)
	if in.fast != nil {
		if err := in.fast.keyEvent(xkey, true); err == nil {
			return nil
		}
	}
	return in.run("keydown", xkey)
}

// KeyRelease releases a previously pressed key.
func (in *Injector) KeyRelease(key string) error {
	xkey := translateKey(key)
	if in.fast != nil {
		if err := in.fast.keyEvent(xkey, false); err == nil {
			return nil
		}
	}
	return in.run("keyup", xkey)
}

// TypeText types a literal string. There is no single-round-trip fast
// path equivalent for a whole string, so this always goes through the
// fallback queue, same as the original service treated paste-style
// text entry as a bulk operation rather than a per-event one.
func (in *Injector) TypeText(text string) error {
	return in.run("type", "--clearmodifiers", "--delay", "0", text)
}
