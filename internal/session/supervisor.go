// Package session implements the single-session invariant: exactly one
// PC client may be bridged to this server at a time. The supervisor
// owns the three fixed data-port listeners (RPC, video, input) and
// fuses whichever sockets arrive into one active Session, parking a
// socket that arrives ahead of its sibling until the RPC connection
// that starts the session shows up.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/MeeshMakes/dgx-bridge/internal/discovery"
	"github.com/MeeshMakes/dgx-bridge/internal/logging"
	"github.com/MeeshMakes/dgx-bridge/internal/protocol"
	"github.com/MeeshMakes/dgx-bridge/internal/rpc"
)

var log = logging.L("session")

// acceptBacklog caps how many accepted connections each data-port
// listener holds open at once (netutil.LimitListener); further
// connections wait in the kernel's accept queue. It echoes the
// original service's srv.listen(2).
const acceptBacklog = 2

// CapturePump is the screen-capture/encode pump a Session drives once
// its video socket is attached.
type CapturePump interface {
	Start(onFrame func(jpeg []byte)) error
	Stop()
	Params() (fps, quality int)
	SetParams(fps, quality int) error
}

// ResolutionWatcher reports and observes the server's screen
// resolution.
type ResolutionWatcher interface {
	Current() (width, height int)
}

// InputInjector applies input events decoded off the input channel.
type InputInjector interface {
	MouseMove(x, y int) error
	MousePress(button string) error
	MouseRelease(button string) error
	MouseScroll(dx, dy int) error
	KeyPress(key string) error
	KeyRelease(key string) error
	TypeText(text string) error
}

// CursorProvider reports the current X11 cursor shape name. Optional —
// a nil provider simply disables the cursor-shape push loop.
type CursorProvider interface {
	CursorShape() string
}

// FileHandler processes the raw byte-stream upload/download requests
// that arrive inline on the control channel.
type FileHandler interface {
	HandleSend(lc *protocol.LineConn, msg map[string]any) error
	HandleGet(lc *protocol.LineConn, msg map[string]any) error
}

// Config bundles everything the supervisor needs to bind its listeners
// and drive a session.
type Config struct {
	Host         string
	Triplet      discovery.Triplet
	AgentVersion string
	Capture      CapturePump
	Resolution   ResolutionWatcher
	Input        InputInjector
	Cursor       CursorProvider
	Files        FileHandler
	FileOps      rpc.FileOps
	Shutdown     rpc.ShutdownFunc
}

// Supervisor binds the RPC/video/input listeners and enforces that at
// most one Session is active at a time.
type Supervisor struct {
	cfg        Config
	dispatcher *rpc.Dispatcher

	rpcLn   net.Listener
	videoLn net.Listener
	inputLn net.Listener
	done    chan struct{}

	mu           sync.Mutex
	current      *Session
	pendingVideo net.Conn
	pendingInput net.Conn
}

// New builds a Supervisor. Call Start to bind listeners and begin
// accepting connections.
func New(cfg Config) *Supervisor {
	s := &Supervisor{cfg: cfg, done: make(chan struct{})}
	s.dispatcher = rpc.NewDispatcher(&rpc.Handlers{
		Capture:      cfg.Capture,
		Resolution:   cfg.Resolution,
		Typer:        cfg.Input,
		Files:        cfg.FileOps,
		Shutdown:     cfg.Shutdown,
		AgentVersion: cfg.AgentVersion,
	})
	return s
}

// Start binds the RPC, video, and input listeners and begins accepting
// in the background.
func (s *Supervisor) Start() error {
	var err error
	if s.rpcLn, err = s.listen(s.cfg.Triplet.RPC); err != nil {
		return err
	}
	if s.videoLn, err = s.listen(s.cfg.Triplet.Video); err != nil {
		return err
	}
	if s.inputLn, err = s.listen(s.cfg.Triplet.Input); err != nil {
		return err
	}

	go s.acceptRPC()
	go s.acceptVideo()
	go s.acceptInput()

	log.Info("session listeners ready",
		"rpc", s.cfg.Triplet.RPC, "video", s.cfg.Triplet.Video, "input", s.cfg.Triplet.Input)
	return nil
}

// Close stops accepting connections and ends the active session, if
// any.
func (s *Supervisor) Close() {
	close(s.done)
	for _, ln := range []net.Listener{s.rpcLn, s.videoLn, s.inputLn} {
		if ln != nil {
			ln.Close()
		}
	}

	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.cleanup()
	}
}

// Active reports whether a session is currently running. It backs
// discovery.SessionActiveFunc so negotiation requests are rejected
// while a client is connected.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.isRunning()
}

// NotifyResolutionChanged pushes a resolution_changed message to the
// active session's control channel, if one exists.
func (s *Supervisor) NotifyResolutionChanged(width, height int) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil && cur.isRunning() {
		cur.pushMessage(map[string]any{"type": "resolution_changed", "width": width, "height": height})
	}
}

func (s *Supervisor) listen(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, port))
	if err != nil {
		return nil, fmt.Errorf("session: listen on %d: %w", port, err)
	}
	return netutil.LimitListener(ln, acceptBacklog), nil
}

func (s *Supervisor) acceptRPC() {
	for {
		conn, err := s.rpcLn.Accept()
		if err != nil {
			if s.stopped() {
				return
			}
			log.Warn("rpc accept error", "error", err)
			continue
		}
		log.Info("rpc connection", "remote", conn.RemoteAddr())
		s.startSession(conn)
	}
}

func (s *Supervisor) acceptVideo() {
	for {
		conn, err := s.videoLn.Accept()
		if err != nil {
			if s.stopped() {
				return
			}
			log.Warn("video accept error", "error", err)
			continue
		}
		log.Info("video connection", "remote", conn.RemoteAddr())

		s.mu.Lock()
		if s.current != nil && s.current.isRunning() {
			cur := s.current
			s.mu.Unlock()
			cur.setVideoConn(conn)
			continue
		}
		if s.pendingVideo != nil {
			s.pendingVideo.Close()
		}
		s.pendingVideo = conn
		s.mu.Unlock()
	}
}

func (s *Supervisor) acceptInput() {
	for {
		conn, err := s.inputLn.Accept()
		if err != nil {
			if s.stopped() {
				return
			}
			log.Warn("input accept error", "error", err)
			continue
		}
		log.Info("input connection", "remote", conn.RemoteAddr())

		s.mu.Lock()
		if s.current != nil && s.current.isRunning() {
			cur := s.current
			s.mu.Unlock()
			cur.setInputConn(conn)
			continue
		}
		if s.pendingInput != nil {
			s.pendingInput.Close()
		}
		s.pendingInput = conn
		s.mu.Unlock()
	}
}

func (s *Supervisor) startSession(rpcConn net.Conn) {
	sess := newSession(s.cfg, s.dispatcher, rpcConn)

	s.mu.Lock()
	if s.current != nil {
		s.current.cleanup()
	}
	s.current = sess
	if s.pendingVideo != nil {
		pv := s.pendingVideo
		s.pendingVideo = nil
		s.mu.Unlock()
		sess.setVideoConn(pv)
	} else {
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.pendingInput != nil {
		pi := s.pendingInput
		s.pendingInput = nil
		s.mu.Unlock()
		sess.setInputConn(pi)
	} else {
		s.mu.Unlock()
	}

	go sess.run()
}

func (s *Supervisor) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// cursorPollInterval matches the original's 150ms X11 cursor-shape
// poll cadence.
const cursorPollInterval = 150 * time.Millisecond
