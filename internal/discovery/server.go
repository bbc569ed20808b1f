package discovery

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/netutil"

	"github.com/MeeshMakes/dgx-bridge/internal/protocol"
)

// SessionActiveFunc reports whether the server already has a client
// session running. A negotiation request is rejected while one is
// active so a reconnecting PC backs off instead of stacking up zombie
// connections.
type SessionActiveFunc func() bool

// Listener is the always-on discovery-port listener. It answers every
// negotiation request with the fixed triplet the server was started
// with — it never spawns new data-port listeners.
type Listener struct {
	triplet     Triplet
	listener    net.Listener
	done        chan struct{}
	sessionBusy SessionActiveFunc
}

// Listen binds the discovery port and starts accepting negotiation
// requests in the background. Call Close to stop.
func Listen(host string, port int, triplet Triplet, sessionBusy SessionActiveFunc) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("discovery: listen on %d: %w", port, err)
	}
	// Cap concurrently open accepted connections; the discovery port
	// only ever needs to serve one negotiation at a time.
	ln = netutil.LimitListener(ln, 4)

	l := &Listener{
		triplet:     triplet,
		listener:    ln,
		done:        make(chan struct{}),
		sessionBusy: sessionBusy,
	}
	go l.acceptLoop()
	log.Info("discovery listener ready", "port", port)
	return l, nil
}

// Close stops accepting new negotiation requests.
func (l *Listener) Close() error {
	close(l.done)
	return l.listener.Close()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				log.Warn("discovery accept error", "error", err)
				return
			}
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(8 * time.Second))

	lc := protocol.NewLineConn(conn)
	var req negotiateRequest
	if err := lc.ReadJSON(&req); err != nil {
		log.Warn("discovery read failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	if req.Type != "negotiate" {
		lc.WriteJSON(negotiateResponse{OK: false, Error: "expected negotiate"})
		return
	}

	if l.sessionBusy != nil && l.sessionBusy() {
		log.Info("rejected negotiation, session already active", "remote", conn.RemoteAddr())
		lc.WriteJSON(negotiateResponse{OK: false, Error: "session already active"})
		return
	}

	log.Info("negotiated ports", "remote", conn.RemoteAddr(), "rpc", l.triplet.RPC, "video", l.triplet.Video, "input", l.triplet.Input)
	lc.WriteJSON(negotiateResponse{
		OK:    true,
		RPC:   l.triplet.RPC,
		Video: l.triplet.Video,
		Input: l.triplet.Input,
	})
}
