// Package resolution watches the local desktop's display resolution
// and notifies a callback when it changes, polling xrandr the way a
// headless server with no display-change event source has to.
package resolution

import (
	"context"
	"os/exec"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeeshMakes/dgx-bridge/internal/logging"
)

var log = logging.L("resolution")

// defaultPollInterval matches the original service's 2s xrandr poll
// cadence.
const defaultPollInterval = 2 * time.Second

const fallbackWidth, fallbackHeight = 1920, 1080

var (
	currentRe = regexp.MustCompile(`current\s+(\d+)\s+x\s+(\d+)`)
	starredRe = regexp.MustCompile(`\s+(\d+)x(\d+)\s+.*\*`)
)

type dims struct{ w, h int }

// Watcher polls xrandr on an interval and reports the last-seen
// resolution. It implements session.ResolutionWatcher.
type Watcher struct {
	interval time.Duration
	poll     func() (dims, bool)

	mu      sync.Mutex
	current atomic.Value // dims

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Watcher with the default poll interval.
func New() *Watcher {
	w := &Watcher{interval: defaultPollInterval, poll: queryXrandr}
	w.current.Store(dims{fallbackWidth, fallbackHeight})
	return w
}

// Current returns the last-observed resolution.
func (w *Watcher) Current() (width, height int) {
	d := w.current.Load().(dims)
	return d.w, d.h
}

// Start seeds the current resolution and begins polling in the
// background, invoking onChange whenever it differs from the last
// observed value.
func (w *Watcher) Start(onChange func(width, height int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		return
	}
	if w.poll == nil {
		w.poll = queryXrandr
	}

	if d, ok := w.poll(); ok {
		w.current.Store(d)
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(onChange)
}

// Stop ends the polling loop and blocks until it has exited.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.stopCh = nil
	w.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (w *Watcher) loop(onChange func(width, height int)) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		}

		d, ok := w.poll()
		if !ok {
			continue
		}
		prev := w.current.Load().(dims)
		if d != prev {
			log.Info("resolution changed", "from", prev, "to", d)
			w.current.Store(d)
			if onChange != nil {
				onChange(d.w, d.h)
			}
		}
	}
}

func queryXrandr() (dims, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "xrandr", "--current").Output()
	if err != nil {
		return dims{}, false
	}

	if m := currentRe.FindSubmatch(out); m != nil {
		return dims{atoiOrZero(m[1]), atoiOrZero(m[2])}, true
	}
	if m := starredRe.FindSubmatch(out); m != nil {
		return dims{atoiOrZero(m[1]), atoiOrZero(m[2])}, true
	}
	return dims{}, false
}

func atoiOrZero(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
