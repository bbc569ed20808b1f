package session

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/MeeshMakes/dgx-bridge/internal/discovery"
	"github.com/MeeshMakes/dgx-bridge/internal/protocol"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestSupervisor(t *testing.T) (*Supervisor, discovery.Triplet) {
	t.Helper()
	triplet := discovery.Triplet{RPC: freeTCPPort(t), Video: freeTCPPort(t), Input: freeTCPPort(t)}
	sup := New(Config{Host: "127.0.0.1", Triplet: triplet, AgentVersion: "test"})
	if err := sup.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(sup.Close)
	return sup, triplet
}

func dialHello(t *testing.T, port int) (net.Conn, *protocol.LineConn) {
	t.Helper()
	conn, err := net.Dial("tcp", "127.0.0.1:"+itoa(port))
	if err != nil {
		t.Fatalf("dial rpc: %v", err)
	}
	lc := protocol.NewLineConn(conn)
	if err := lc.WriteJSON(map[string]any{"type": "hello", "agent": "PC"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var resp map[string]any
	if err := lc.ReadJSON(&resp); err != nil {
		t.Fatalf("read hello response: %v", err)
	}
	if resp["ok"] != true {
		t.Fatalf("expected successful handshake, got %v", resp)
	}
	return conn, lc
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func TestSupervisorActiveReflectsSessionLifecycle(t *testing.T) {
	sup, triplet := newTestSupervisor(t)

	if sup.Active() {
		t.Fatal("expected no active session before any connection")
	}

	conn, _ := dialHello(t, triplet.RPC)

	deadline := time.After(time.Second)
	for !sup.Active() {
		select {
		case <-deadline:
			t.Fatal("expected session to become active")
		case <-time.After(10 * time.Millisecond):
		}
	}

	conn.Close()

	deadline = time.After(time.Second)
	for sup.Active() {
		select {
		case <-deadline:
			t.Fatal("expected session to become inactive after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSupervisorParksVideoConnAheadOfRPC(t *testing.T) {
	sup, triplet := newTestSupervisor(t)

	videoConn, err := net.Dial("tcp", "127.0.0.1:"+itoa(triplet.Video))
	if err != nil {
		t.Fatalf("dial video: %v", err)
	}
	defer videoConn.Close()
	videoConn.Write([]byte("start_stream\n"))

	deadline := time.After(time.Second)
	for {
		sup.mu.Lock()
		parked := sup.pendingVideo != nil
		sup.mu.Unlock()
		if parked {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected video connection to be parked")
		case <-time.After(10 * time.Millisecond):
		}
	}

	rpcConn, _ := dialHello(t, triplet.RPC)
	defer rpcConn.Close()

	deadline = time.After(time.Second)
	for {
		sup.mu.Lock()
		drained := sup.pendingVideo == nil
		sup.mu.Unlock()
		if drained {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected parked video connection to be fused into the new session")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSupervisorClosesSecondPendingVideoConn(t *testing.T) {
	sup, triplet := newTestSupervisor(t)

	first, err := net.Dial("tcp", "127.0.0.1:"+itoa(triplet.Video))
	if err != nil {
		t.Fatalf("dial video 1: %v", err)
	}
	defer first.Close()
	first.Write([]byte("start_stream\n"))

	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", "127.0.0.1:"+itoa(triplet.Video))
	if err != nil {
		t.Fatalf("dial video 2: %v", err)
	}
	defer second.Close()
	second.Write([]byte("start_stream\n"))

	buf := make([]byte, 1)
	first.SetReadDeadline(time.Now().Add(time.Second))
	_, err = first.Read(buf)
	if err == nil {
		t.Fatal("expected first parked video connection to be closed when a second one arrives")
	}
}
