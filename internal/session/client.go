package session

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MeeshMakes/dgx-bridge/internal/protocol"
	"github.com/MeeshMakes/dgx-bridge/internal/rpc"
)

// handshakeDrainTimeout bounds how long a video/input socket is given
// to send its opening start_stream/start_input line before the
// supervisor gives up waiting and proceeds anyway.
const handshakeDrainTimeout = 3 * time.Second

// Session represents one connected PC client bridged to the local
// desktop. It owns the RPC/video/input sockets for the lifetime of one
// bridge connection.
type Session struct {
	id         string
	cfg        Config
	dispatcher *rpc.Dispatcher

	lc *protocol.LineConn
	vc *protocol.VideoConn
	ic *protocol.LineConn

	running    atomic.Bool
	writeMu    sync.Mutex
	cleanupOne sync.Once

	lastCursorShape string
}

func newSession(cfg Config, dispatcher *rpc.Dispatcher, rpcConn net.Conn) *Session {
	return &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		dispatcher: dispatcher,
		lc:         protocol.NewLineConn(rpcConn),
	}
}

func (s *Session) isRunning() bool { return s.running.Load() }

// ID returns the session's generated identifier, used to key its
// per-session staging directory.
func (s *Session) ID() string { return s.id }

// setVideoConn attaches the video socket, draining the PC's opening
// start_stream handshake line first since it expects no response.
func (s *Session) setVideoConn(conn net.Conn) {
	protocol.DrainHandshakeLine(conn, handshakeDrainTimeout)
	s.vc = protocol.NewVideoConn(conn)
}

// setInputConn attaches the input socket, drains its opening
// start_input line, then starts the input-decode loop.
func (s *Session) setInputConn(conn net.Conn) {
	protocol.DrainHandshakeLine(conn, handshakeDrainTimeout)
	s.ic = protocol.NewLineConn(conn)
	go s.inputLoop()
}

// run blocks on the control channel for the lifetime of the session:
// hello handshake, then a dispatch loop until the PC disconnects.
func (s *Session) run() {
	var hello struct {
		Type  string `json:"type"`
		Agent string `json:"agent"`
	}
	if err := s.lc.ReadJSON(&hello); err != nil {
		log.Warn("handshake recv failed", "error", err)
		s.cleanup()
		return
	}
	if hello.Type != "hello" {
		log.Warn("expected hello", "got", hello.Type)
		s.lc.WriteJSON(map[string]any{"ok": false, "error": "expected hello"})
		s.cleanup()
		return
	}

	width, height := 1920, 1080
	if s.cfg.Resolution != nil {
		if w, h := s.cfg.Resolution.Current(); w > 0 {
			width, height = w, h
		}
	}
	fps := 60
	if s.cfg.Capture != nil {
		fps, _ = s.cfg.Capture.Params()
	}
	hostname, _ := os.Hostname()
	if err := s.lc.WriteJSON(map[string]any{
		"ok": true, "type": "hello", "agent": "DGX", "version": s.cfg.AgentVersion,
		"width": width, "height": height, "fps": fps, "hostname": hostname,
	}); err != nil {
		s.cleanup()
		return
	}
	log.Info("handshake complete", "agent", hello.Agent, "session", s.id)

	s.running.Store(true)

	if s.cfg.Capture != nil {
		if err := s.cfg.Capture.Start(s.onFrame); err != nil {
			log.Warn("capture start failed", "error", err)
		}
	}
	go s.cursorPushLoop()

	for s.running.Load() {
		line, err := s.lc.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Info("client disconnected", "error", err)
			}
			break
		}
		if len(line) == 0 {
			continue
		}

		var msg map[string]any
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		var resp map[string]any
		switch msg["type"] {
		case "file_send":
			resp = s.handleFileSend(msg)
		case "file_get":
			resp = s.handleFileGet(msg)
		default:
			resp = s.dispatcher.Dispatch(line)
		}

		if resp != nil {
			if err := s.writeJSON(resp); err != nil {
				break
			}
		}
	}

	s.cleanup()
}

func (s *Session) handleFileSend(msg map[string]any) map[string]any {
	if s.cfg.Files == nil {
		return map[string]any{"ok": false, "error": "file bridge unavailable"}
	}
	if err := s.cfg.Files.HandleSend(s.lc, msg); err != nil {
		log.Warn("file send failed", "error", err)
	}
	return nil
}

func (s *Session) handleFileGet(msg map[string]any) map[string]any {
	if s.cfg.Files == nil {
		return map[string]any{"ok": false, "error": "file bridge unavailable"}
	}
	if err := s.cfg.Files.HandleGet(s.lc, msg); err != nil {
		log.Warn("file get failed", "error", err)
	}
	return nil
}

// writeJSON serializes the control channel's write path through a
// lock shared with the cursor-shape and resolution-changed push paths,
// which are sent asynchronously between request/response pairs.
func (s *Session) writeJSON(v map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.lc.WriteJSON(v)
}

// pushMessage sends an out-of-band message on the control channel,
// such as resolution_changed.
func (s *Session) pushMessage(v map[string]any) {
	if err := s.writeJSON(v); err != nil {
		log.Debug("push message failed", "error", err)
	}
}

// cursorPushLoop polls the cursor shape provider and pushes a
// cursor_shape message whenever it changes, matching the original
// service's 150ms poll cadence.
func (s *Session) cursorPushLoop() {
	if s.cfg.Cursor == nil {
		return
	}
	ticker := time.NewTicker(cursorPollInterval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		shape := s.cfg.Cursor.CursorShape()
		if shape != "" && shape != s.lastCursorShape {
			s.lastCursorShape = shape
			s.pushMessage(map[string]any{"type": "cursor_shape", "shape": shape})
		}
	}
}

// onFrame is the capture pump's frame callback, writing each encoded
// frame to the video channel.
func (s *Session) onFrame(jpeg []byte) {
	if s.vc == nil {
		return
	}
	if err := s.vc.WriteFrame(jpeg); err != nil {
		s.running.Store(false)
	}
}

// inputLoop decodes newline-delimited input events until the channel
// closes or the session ends.
func (s *Session) inputLoop() {
	for {
		line, err := s.ic.ReadLine()
		if err != nil {
			return
		}
		var msg struct {
			Type   string `json:"type"`
			X      int    `json:"x"`
			Y      int    `json:"y"`
			Button string `json:"button"`
			DX     int    `json:"dx"`
			DY     int    `json:"dy"`
			Key    string `json:"key"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if s.cfg.Input == nil {
			continue
		}

		switch msg.Type {
		case "mouse_move":
			s.cfg.Input.MouseMove(msg.X, msg.Y)
		case "mouse_press":
			button := msg.Button
			if button == "" {
				button = "left"
			}
			s.cfg.Input.MousePress(button)
		case "mouse_release":
			button := msg.Button
			if button == "" {
				button = "left"
			}
			s.cfg.Input.MouseRelease(button)
		case "mouse_scroll":
			s.cfg.Input.MouseScroll(msg.DX, msg.DY)
		case "key_press":
			s.cfg.Input.KeyPress(msg.Key)
		case "key_release":
			s.cfg.Input.KeyRelease(msg.Key)
		}
	}
}

// cleanup stops the capture pump and closes every socket exactly once.
func (s *Session) cleanup() {
	s.cleanupOne.Do(func() {
		s.running.Store(false)
		if s.cfg.Capture != nil {
			s.cfg.Capture.Stop()
		}
		if s.cfg.FileOps != nil {
			s.cfg.FileOps.CleanupStaging(s.id)
		}
		s.lc.Close()
		if s.vc != nil {
			s.vc.Close()
		}
		if s.ic != nil {
			s.ic.Close()
		}
	})
}
