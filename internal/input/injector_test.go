package input

import (
	"sync"
	"testing"
	"time"
)

func newTestInjector() (*Injector, *[][]string) {
	var mu sync.Mutex
	var calls [][]string
	in := &Injector{xdotoolPath: "xdotool"}
	in.runFn = func(args []string) error {
		mu.Lock()
		defer mu.Unlock()
		cp := append([]string(nil), args...)
		calls = append(calls, cp)
		return nil
	}
	return in, &calls
}

func lastCall(calls *[][]string) []string {
	if len(*calls) == 0 {
		return nil
	}
	return (*calls)[len(*calls)-1]
}

func TestMouseMoveIssuesAbsoluteMove(t *testing.T) {
	in, calls := newTestInjector()
	if err := in.MouseMove(100, 200); err != nil {
		t.Fatalf("MouseMove: %v", err)
	}
	want := []string{"mousemove", "--sync", "100", "200"}
	got := lastCall(calls)
	if !equalArgs(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMousePressTranslatesButtonNames(t *testing.T) {
	in, calls := newTestInjector()
	cases := map[string]string{"left": "1", "middle": "2", "right": "3", "": "1", "unknown": "1"}
	for button, code := range cases {
		if err := in.MousePress(button); err != nil {
			t.Fatalf("MousePress(%q): %v", button, err)
		}
		got := lastCall(calls)
		want := []string{"mousedown", code}
		if !equalArgs(got, want) {
			t.Fatalf("MousePress(%q): got %v, want %v", button, got, want)
		}
	}
}

func TestMouseScrollClicksCorrectDirection(t *testing.T) {
	in, calls := newTestInjector()
	if err := in.MouseScroll(0, 3); err != nil {
		t.Fatalf("MouseScroll: %v", err)
	}
	if len(*calls) != 3 {
		t.Fatalf("expected 3 clicks for dy=3, got %d", len(*calls))
	}
	for _, c := range *calls {
		if !equalArgs(c, []string{"click", "5"}) {
			t.Fatalf("unexpected call %v", c)
		}
	}
}

func TestMouseScrollNegativeDyScrollsUp(t *testing.T) {
	in, calls := newTestInjector()
	if err := in.MouseScroll(0, -2); err != nil {
		t.Fatalf("MouseScroll: %v", err)
	}
	if len(*calls) != 2 {
		t.Fatalf("expected 2 clicks, got %d", len(*calls))
	}
	if !equalArgs((*calls)[0], []string{"click", "4"}) {
		t.Fatalf("unexpected call %v", (*calls)[0])
	}
}

func TestKeyPressTranslatesKnownKeys(t *testing.T) {
	in, calls := newTestInjector()
	if err := in.KeyPress("Enter"); err != nil {
		t.Fatalf("KeyPress: %v", err)
	}
	if !equalArgs(lastCall(calls), []string{"keydown", "Return"}) {
		t.Fatalf("unexpected call %v", lastCall(calls))
	}

	if err := in.KeyPress("a"); err != nil {
		t.Fatalf("KeyPress: %v", err)
	}
	if !equalArgs(lastCall(calls), []string{"keydown", "a"}) {
		t.Fatalf("unexpected call %v", lastCall(calls))
	}
}

func TestTypeTextPassesStringThrough(t *testing.T) {
	in, calls := newTestInjector()
	if err := in.TypeText("hello world"); err != nil {
		t.Fatalf("TypeText: %v", err)
	}
	want := []string{"type", "--clearmodifiers", "--delay", "0", "hello world"}
	if !equalArgs(lastCall(calls), want) {
		t.Fatalf("got %v, want %v", lastCall(calls), want)
	}
}

func TestRunFailsWithoutXdotoolOnPath(t *testing.T) {
	in := &Injector{}
	if err := in.MouseMove(1, 1); err == nil {
		t.Fatal("expected error when xdotool is not found")
	}
}

type fakeFastPath struct {
	mu     sync.Mutex
	moves  [][2]int
	fail   bool
}

func (f *fakeFastPath) mouseMove(x, y int) error {
	if f.fail {
		return errNoXdotool
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, [2]int{x, y})
	return nil
}
func (f *fakeFastPath) mouseButton(code string, press bool) error { return nil }
func (f *fakeFastPath) keyEvent(keysym string, press bool) error  { return nil }
func (f *fakeFastPath) close()                                    {}

func TestMouseMovePrefersFastPathWhenAvailable(t *testing.T) {
	in, calls := newTestInjector()
	fp := &fakeFastPath{}
	in.fast = fp

	if err := in.MouseMove(5, 6); err != nil {
		t.Fatalf("MouseMove: %v", err)
	}
	if len(fp.moves) != 1 || fp.moves[0] != [2]int{5, 6} {
		t.Fatalf("expected fast path to record the move, got %v", fp.moves)
	}
	if len(*calls) != 0 {
		t.Fatalf("expected no fallback calls when fast path succeeds, got %v", *calls)
	}
}

func TestMouseMoveFallsBackWhenFastPathFails(t *testing.T) {
	in, calls := newTestInjector()
	in.fast = &fakeFastPath{fail: true}

	if err := in.MouseMove(1, 2); err != nil {
		t.Fatalf("MouseMove: %v", err)
	}
	want := []string{"mousemove", "--sync", "1", "2"}
	if !equalArgs(lastCall(calls), want) {
		t.Fatalf("expected fallback call %v, got %v", want, lastCall(calls))
	}
}

func TestRunDoesNotBlockWhenFallbackQueueIsFull(t *testing.T) {
	in := &Injector{xdotoolPath: "xdotool"}
	in.runFn = func(args []string) error { return nil }
	in.queue = make(chan []string) // unbuffered, no consumer draining it

	done := make(chan struct{})
	go func() {
		in.run("mousemove", "--sync", "0", "0")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run blocked on a full fallback queue instead of dropping the event")
	}
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
