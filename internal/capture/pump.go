package capture

import (
	"bytes"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeeshMakes/dgx-bridge/internal/logging"
)

var log = logging.L("capture")

// Pump drives a ScreenCapturer on a paced ticker, JPEG-encodes each
// frame, and hands the bytes to a caller-supplied sink. It implements
// session.CapturePump.
type Pump struct {
	capturer ScreenCapturer

	fps     atomic.Int64
	quality atomic.Int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPump opens a screen capturer for the given display index and
// returns a Pump seeded with the given frame rate and JPEG quality.
func NewPump(displayIndex, fps, quality int) (*Pump, error) {
	capturer, err := newPlatformCapturer(displayIndex)
	if err != nil {
		return nil, err
	}
	p := &Pump{capturer: capturer}
	p.fps.Store(int64(fps))
	p.quality.Store(int64(quality))
	return p, nil
}

// Start begins the capture/encode loop in the background, calling
// onFrame with each encoded JPEG. Safe to call once per Pump lifetime;
// call Stop before starting again.
func (p *Pump) Start(onFrame func(jpeg []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.loop(onFrame)
	return nil
}

// Stop ends the capture loop and blocks until it has exited.
func (p *Pump) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Close releases the underlying capturer. Call after Stop.
func (p *Pump) Close() error {
	return p.capturer.Close()
}

// Params returns the currently configured frame rate and JPEG quality.
func (p *Pump) Params() (fps, quality int) {
	return int(p.fps.Load()), int(p.quality.Load())
}

// SetParams updates the frame rate and JPEG quality the loop uses on
// its next tick, clamping to sane bounds.
func (p *Pump) SetParams(fps, quality int) error {
	if fps < 1 {
		fps = 1
	}
	if fps > 120 {
		fps = 120
	}
	if quality < 40 {
		quality = 40
	}
	if quality > 100 {
		quality = 100
	}
	p.fps.Store(int64(fps))
	p.quality.Store(int64(quality))
	return nil
}

func (p *Pump) loop(onFrame func([]byte)) {
	defer close(p.doneCh)

	for {
		fps := int(p.fps.Load())
		if fps < 1 {
			fps = 1
		}
		interval := time.Second / time.Duration(fps)

		select {
		case <-p.stopCh:
			return
		case <-time.After(interval):
		}

		img, err := p.capturer.Capture()
		if err != nil {
			log.Warn("capture failed", "error", err)
			continue
		}

		var buf bytes.Buffer
		quality := int(p.quality.Load())
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			log.Warn("jpeg encode failed", "error", err)
			continue
		}

		onFrame(buf.Bytes())
	}
}
