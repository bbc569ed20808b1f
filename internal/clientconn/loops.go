package clientconn

import (
	"encoding/json"
	"time"
)

func decodeJSONLine(line []byte) (map[string]any, error) {
	var msg map[string]any
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Conn) videoLoop() {
	defer c.wg.Done()
	defer c.triggerDisconnect()

	fpsWindow := make([]time.Time, 0, 64)

	for {
		frame, err := c.video.ReadFrame()
		if err != nil {
			log.Debug("video loop ended", "error", err)
			return
		}

		c.bytesRecvM.Lock()
		c.bytesRecv += int64(len(frame))
		c.bytesRecvM.Unlock()

		now := time.Now()
		fpsWindow = append(fpsWindow, now)
		cutoff := now.Add(-time.Second)
		kept := fpsWindow[:0]
		for _, t := range fpsWindow {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		fpsWindow = kept

		if c.cfg.Callbacks.OnFrame != nil {
			c.cfg.Callbacks.OnFrame(frame)
		}
	}
}

// pushReaderLoop is the Connected-state background thread that keeps
// unsolicited pushes (cursor_shape, resolution_changed) flowing even
// while no RPC call is in flight: it polls the RPC socket on a short
// interval, try-locks rpcMu so it never contends with an in-progress
// request or file transfer, and on success attempts one short-deadline
// read. A held lock or a read timeout just means try again next tick.
func (c *Conn) pushReaderLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pushPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}
		c.pollPush()
	}
}

func (c *Conn) pollPush() {
	if !c.rpcMu.TryLock() {
		return
	}
	defer c.rpcMu.Unlock()

	if c.rpc == nil {
		return
	}
	c.rpc.SetReadDeadline(time.Now().Add(pushReadTimeout))
	defer c.rpc.SetReadDeadline(time.Time{})

	line, err := c.rpc.ReadLine()
	if err != nil {
		return
	}
	msg, err := decodeJSONLine(line)
	if err != nil {
		return
	}
	c.dispatchIfPush(msg)
}

func (c *Conn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		start := time.Now()
		resp, err := c.rpcWithTimeout(map[string]any{"type": "ping"}, 3*time.Second)
		if err != nil {
			continue
		}
		if t, _ := resp["type"].(string); t != "pong" {
			continue
		}
		ms := float64(time.Since(start)) / float64(time.Millisecond)
		c.pingMu.Lock()
		c.pingMs = ms
		c.pingMu.Unlock()
		if c.cfg.Callbacks.OnPing != nil {
			c.cfg.Callbacks.OnPing(ms)
		}
	}
}

// mouseFlushLoop sends the latest queued mouse position at a fixed
// ceiling rate so high-frequency local polling never floods the
// socket with redundant moves.
func (c *Conn) mouseFlushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(mouseFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		c.mouseMu.Lock()
		dirty := c.mouseDirty
		x, y := c.mouseX, c.mouseY
		c.mouseDirty = false
		c.mouseMu.Unlock()

		if dirty {
			c.sendInput(map[string]any{"type": "mouse_move", "x": x, "y": y})
		}
	}
}

func (c *Conn) sendInput(event map[string]any) {
	c.rpcMu.Lock()
	ic := c.input
	c.rpcMu.Unlock()
	if ic == nil || !c.connected.get() {
		return
	}
	if err := ic.WriteJSON(event); err != nil {
		log.Debug("input send failed", "error", err)
		c.connected.set(false)
	}
}

// SendMouseMove queues a pointer position, coalesced by mouseFlushLoop.
func (c *Conn) SendMouseMove(x, y int) {
	c.mouseMu.Lock()
	c.mouseX, c.mouseY = x, y
	c.mouseDirty = true
	c.mouseMu.Unlock()
}

// SendMousePress sends a mouse-button-down event immediately.
func (c *Conn) SendMousePress(button string) {
	c.sendInput(map[string]any{"type": "mouse_press", "button": button})
}

// SendMouseRelease sends a mouse-button-up event immediately.
func (c *Conn) SendMouseRelease(button string) {
	c.sendInput(map[string]any{"type": "mouse_release", "button": button})
}

// SendMouseScroll sends a scroll-wheel event immediately.
func (c *Conn) SendMouseScroll(dx, dy int) {
	c.sendInput(map[string]any{"type": "mouse_scroll", "dx": dx, "dy": dy})
}

// SendKeyPress sends a key-down event immediately.
func (c *Conn) SendKeyPress(key string) {
	c.sendInput(map[string]any{"type": "key_press", "key": key})
}

// SendKeyRelease sends a key-up event immediately.
func (c *Conn) SendKeyRelease(key string) {
	c.sendInput(map[string]any{"type": "key_release", "key": key})
}
