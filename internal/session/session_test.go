package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/MeeshMakes/dgx-bridge/internal/protocol"
	"github.com/MeeshMakes/dgx-bridge/internal/rpc"
)

type fakeCapture struct {
	mu           sync.Mutex
	fps, quality int
	started      bool
}

func (f *fakeCapture) Start(onFrame func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}
func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
}
func (f *fakeCapture) Params() (int, int) { return f.fps, f.quality }
func (f *fakeCapture) SetParams(fps, q int) error {
	f.fps, f.quality = fps, q
	return nil
}

type fakeResolution struct{ w, h int }

func (f *fakeResolution) Current() (int, int) { return f.w, f.h }

type fakeInput struct {
	mu    sync.Mutex
	moves [][2]int
}

func (f *fakeInput) MouseMove(x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, [2]int{x, y})
	return nil
}
func (f *fakeInput) MousePress(string) error    { return nil }
func (f *fakeInput) MouseRelease(string) error  { return nil }
func (f *fakeInput) MouseScroll(int, int) error { return nil }
func (f *fakeInput) KeyPress(string) error      { return nil }
func (f *fakeInput) KeyRelease(string) error    { return nil }
func (f *fakeInput) TypeText(string) error      { return nil }

func dispatcherFor(cfg Config) *rpc.Dispatcher {
	return rpc.NewDispatcher(&rpc.Handlers{
		Capture:      cfg.Capture,
		Resolution:   cfg.Resolution,
		Typer:        cfg.Input,
		Files:        cfg.FileOps,
		Shutdown:     cfg.Shutdown,
		AgentVersion: cfg.AgentVersion,
	})
}

func TestSessionHandshakeRejectsNonHello(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sess := newSession(Config{}, dispatcherFor(Config{}), server)
	done := make(chan struct{})
	go func() {
		sess.run()
		close(done)
	}()

	clc := protocol.NewLineConn(client)
	if err := clc.WriteJSON(map[string]any{"type": "not_hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp map[string]any
	if err := clc.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp["ok"] != false {
		t.Fatalf("expected rejection, got %v", resp)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected session to terminate after rejecting handshake")
	}
}

func TestSessionHandshakeSucceedsAndDispatches(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	capt := &fakeCapture{fps: 30, quality: 80}
	res := &fakeResolution{w: 1280, h: 720}

	cfg := Config{AgentVersion: "1.0", Capture: capt, Resolution: res}
	sess := newSession(cfg, dispatcherFor(cfg), server)

	done := make(chan struct{})
	go func() {
		sess.run()
		close(done)
	}()

	clc := protocol.NewLineConn(client)
	if err := clc.WriteJSON(map[string]any{"type": "hello", "agent": "PC"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var hello map[string]any
	if err := clc.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello response: %v", err)
	}
	if hello["ok"] != true || hello["agent"] != "DGX" {
		t.Fatalf("unexpected hello response: %v", hello)
	}
	if int(hello["width"].(float64)) != 1280 {
		t.Fatalf("expected resolution from provider, got %v", hello["width"])
	}

	if err := clc.WriteJSON(map[string]any{"type": "ping", "ts": 42.0}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong map[string]any
	if err := clc.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected session to terminate after client disconnect")
	}

	if capt.started {
		t.Fatal("expected capture to be stopped on cleanup")
	}
}

func TestSessionInputLoopAppliesMouseMove(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	inj := &fakeInput{}
	rpcServer, rpcClient := net.Pipe()
	defer rpcServer.Close()
	defer rpcClient.Close()

	sess := newSession(Config{Input: inj}, dispatcherFor(Config{}), rpcServer)
	sess.ic = protocol.NewLineConn(server)

	done := make(chan struct{})
	go func() {
		sess.inputLoop()
		close(done)
	}()

	writer := protocol.NewLineConn(client)
	if err := writer.WriteJSON(map[string]any{"type": "mouse_move", "x": 10, "y": 20}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		inj.mu.Lock()
		n := len(inj.moves)
		inj.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected mouse move to be applied")
		case <-time.After(10 * time.Millisecond):
		}
	}

	client.Close()
	<-done
}
