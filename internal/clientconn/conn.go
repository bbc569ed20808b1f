// Package clientconn manages the PC-side three-channel TCP connection
// to a bridge server: control/RPC, video, and input. It owns the
// reconnect loop, mouse-move coalescing, and the ping/latency sampler.
package clientconn

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/MeeshMakes/dgx-bridge/internal/discovery"
	"github.com/MeeshMakes/dgx-bridge/internal/logging"
	"github.com/MeeshMakes/dgx-bridge/internal/protocol"
)

var log = logging.L("clientconn")

const (
	connectTimeout = 5 * time.Second
	rpcTimeout     = 8 * time.Second

	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	backoffFactor         = 2.0
	jitterFactor          = 0.3

	mouseFlushInterval = 2 * time.Millisecond
	pingInterval       = 2 * time.Second

	pushPollInterval = 50 * time.Millisecond
	pushReadTimeout  = 20 * time.Millisecond
)

// Callbacks bundles the events a Conn reports to its owner.
type Callbacks struct {
	OnFrame      func(jpeg []byte)
	OnDisconnect func()
	OnPing       func(ms float64)
	OnCursor     func(shape string)
	// OnResolutionChanged fires when the server reports a new display
	// size on the control channel.
	OnResolutionChanged func(width, height int)
}

// Config describes where to connect and how to identify this client
// during the hello handshake.
type Config struct {
	Host         string
	Triplet      discovery.Triplet
	AgentVersion string
	Callbacks    Callbacks

	// ReconnectBaseSeconds/ReconnectMaxSeconds set RunWithReconnect's
	// exponential backoff range. Zero means use the package defaults
	// (1s base, 60s ceiling per spec.md §4.1).
	ReconnectBaseSeconds int
	ReconnectMaxSeconds  int
}

// Conn is a single three-channel connection to a bridge server. It is
// safe for concurrent use.
type Conn struct {
	cfg Config

	// rpcMu guards both the RPC LineConn's field and exclusive use of it:
	// only one goroutine may be mid-request (or mid-transfer) on the
	// control channel at a time. pushReaderLoop try-locks it on a short
	// poll so unsolicited pushes (cursor_shape, resolution_changed) keep
	// flowing between RPC calls instead of waiting on the next one;
	// readResponseLocked drains any it catches mid-call as a bonus.
	rpcMu sync.Mutex
	rpc   *protocol.LineConn
	video *protocol.VideoConn
	input *protocol.LineConn

	connected chanBool

	mouseMu    sync.Mutex
	mouseX     int
	mouseY     int
	mouseDirty bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	pingMs     float64
	pingMu     sync.Mutex
	bytesRecv  int64
	bytesRecvM sync.Mutex
}

type chanBool struct {
	mu sync.RWMutex
	v  bool
}

func (c *chanBool) set(v bool) { c.mu.Lock(); c.v = v; c.mu.Unlock() }
func (c *chanBool) get() bool  { c.mu.RLock(); defer c.mu.RUnlock(); return c.v }

// New builds a Conn. Call Connect to open the three channels.
func New(cfg Config) *Conn {
	return &Conn{cfg: cfg}
}

// Connect opens all three channels, completes the hello handshake, and
// starts the background video/push/ping/mouse-flush loops. It does not
// retry; callers that want resilience should use RunWithReconnect.
func (c *Conn) Connect() (map[string]any, error) {
	rpcConn, err := dial(c.cfg.Host, c.cfg.Triplet.RPC)
	if err != nil {
		return nil, fmt.Errorf("clientconn: dial rpc: %w", err)
	}
	lc := protocol.NewLineConn(rpcConn)

	if err := lc.WriteJSON(map[string]any{
		"type":         "hello",
		"agent":        "pc",
		"version":      c.cfg.AgentVersion,
		"capabilities": []string{"file_transfer", "screen_view", "input_control"},
	}); err != nil {
		rpcConn.Close()
		return nil, fmt.Errorf("clientconn: hello: %w", err)
	}
	var info map[string]any
	if err := lc.ReadJSON(&info); err != nil {
		rpcConn.Close()
		return nil, fmt.Errorf("clientconn: hello response: %w", err)
	}
	if ok, _ := info["ok"].(bool); !ok {
		rpcConn.Close()
		return nil, fmt.Errorf("clientconn: handshake rejected: %v", info["error"])
	}

	videoConn, err := dial(c.cfg.Host, c.cfg.Triplet.Video)
	if err != nil {
		rpcConn.Close()
		return nil, fmt.Errorf("clientconn: dial video: %w", err)
	}
	if err := protocol.NewLineConn(videoConn).WriteJSON(map[string]any{
		"type": "start_stream", "fps": 60, "encoding": "jpeg", "quality": 85,
	}); err != nil {
		rpcConn.Close()
		videoConn.Close()
		return nil, fmt.Errorf("clientconn: start_stream: %w", err)
	}

	inputConn, err := dial(c.cfg.Host, c.cfg.Triplet.Input)
	if err != nil {
		rpcConn.Close()
		videoConn.Close()
		return nil, fmt.Errorf("clientconn: dial input: %w", err)
	}
	ic := protocol.NewLineConn(inputConn)
	if err := ic.WriteJSON(map[string]any{"type": "start_input"}); err != nil {
		rpcConn.Close()
		videoConn.Close()
		inputConn.Close()
		return nil, fmt.Errorf("clientconn: start_input: %w", err)
	}

	c.rpcMu.Lock()
	c.rpc = lc
	c.video = protocol.NewVideoConn(videoConn)
	c.input = ic
	c.rpcMu.Unlock()

	c.stopCh = make(chan struct{})
	c.connected.set(true)

	c.wg.Add(4)
	go c.videoLoop()
	go c.pingLoop()
	go c.mouseFlushLoop()
	go c.pushReaderLoop()

	log.Info("connected", "host", c.cfg.Host, "rpc", c.cfg.Triplet.RPC)
	return info, nil
}

// Disconnect closes all three channels and stops background loops.
func (c *Conn) Disconnect() {
	if !c.connected.get() {
		return
	}
	c.connected.set(false)
	close(c.stopCh)

	c.rpcMu.Lock()
	if c.rpc != nil {
		c.rpc.Close()
	}
	if c.video != nil {
		c.video.Close()
	}
	if c.input != nil {
		c.input.Close()
	}
	c.rpcMu.Unlock()

	c.wg.Wait()

	if c.cfg.Callbacks.OnDisconnect != nil {
		c.cfg.Callbacks.OnDisconnect()
	}
}

// Connected reports whether the three channels are currently open.
func (c *Conn) Connected() bool {
	return c.connected.get()
}

// PingMs returns the last measured round-trip latency in milliseconds.
func (c *Conn) PingMs() float64 {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.pingMs
}

func dial(host string, port int) (net.Conn, error) {
	return net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), connectTimeout)
}

// RunWithReconnect connects and, on disconnect, retries with
// exponential backoff and jitter until stop is closed.
func RunWithReconnect(cfg Config, stop <-chan struct{}) {
	initialBackoff := defaultInitialBackoff
	maxBackoff := defaultMaxBackoff
	if cfg.ReconnectBaseSeconds > 0 {
		initialBackoff = time.Duration(cfg.ReconnectBaseSeconds) * time.Second
	}
	if cfg.ReconnectMaxSeconds > 0 {
		maxBackoff = time.Duration(cfg.ReconnectMaxSeconds) * time.Second
	}

	backoff := initialBackoff
	for {
		select {
		case <-stop:
			return
		default:
		}

		c := New(cfg)
		if _, err := c.Connect(); err != nil {
			log.Warn("connect failed", "error", err)
			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}
			select {
			case <-stop:
				return
			case <-time.After(sleep):
			}
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff

		select {
		case <-stop:
			c.Disconnect()
			return
		case <-c.stopCh:
		}
	}
}
