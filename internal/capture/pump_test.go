package capture

import (
	"image"
	"sync"
	"testing"
	"time"
)

type fakeCapturer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCapturer) Capture() (*image.RGBA, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}
func (f *fakeCapturer) Bounds() (int, int, error) { return 4, 4, nil }
func (f *fakeCapturer) Close() error              { return nil }

func TestPumpEncodesFramesAtConfiguredRate(t *testing.T) {
	p := &Pump{capturer: &fakeCapturer{}}
	p.fps.Store(50)
	p.quality.Store(80)

	var mu sync.Mutex
	var frames [][]byte
	if err := p.Start(func(jpeg []byte) {
		mu.Lock()
		frames = append(frames, jpeg)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected several frames to be encoded")
		case <-time.After(10 * time.Millisecond):
		}
	}

	p.Stop()

	mu.Lock()
	for i, f := range frames {
		if len(f) == 0 {
			t.Fatalf("frame %d is empty", i)
		}
	}
	mu.Unlock()
}

func TestPumpSetParamsClampsBounds(t *testing.T) {
	p := &Pump{}
	if err := p.SetParams(0, 0); err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	fps, quality := p.Params()
	if fps != 1 || quality != 40 {
		t.Fatalf("expected clamped minimums, got fps=%d quality=%d", fps, quality)
	}

	if err := p.SetParams(500, 500); err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	fps, quality = p.Params()
	if fps != 120 || quality != 100 {
		t.Fatalf("expected clamped maximums, got fps=%d quality=%d", fps, quality)
	}
}

func TestPumpStopIsIdempotentWithoutStart(t *testing.T) {
	p := &Pump{}
	p.Stop() // must not block or panic when never started
}
