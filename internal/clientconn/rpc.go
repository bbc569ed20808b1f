package clientconn

import (
	"fmt"
	"time"
)

// RPC sends a request on the control channel and waits for the next
// real response line, dispatching any unsolicited push messages it
// reads along the way. Only one RPC or file transfer may be in flight
// at a time.
func (c *Conn) RPC(request map[string]any) (map[string]any, error) {
	return c.rpcWithTimeout(request, rpcTimeout)
}

func (c *Conn) rpcWithTimeout(request map[string]any, timeout time.Duration) (map[string]any, error) {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()

	if c.rpc == nil {
		return nil, fmt.Errorf("clientconn: not connected")
	}
	if err := c.rpc.WriteJSON(request); err != nil {
		c.connected.set(false)
		c.triggerDisconnect()
		return nil, fmt.Errorf("clientconn: rpc write: %w", err)
	}

	c.rpc.SetReadDeadline(time.Now().Add(timeout))
	resp, err := c.readResponseLocked()
	c.rpc.SetReadDeadline(time.Time{})
	if err != nil {
		c.connected.set(false)
		c.triggerDisconnect()
		return nil, fmt.Errorf("clientconn: rpc read: %w", err)
	}
	return resp, nil
}

// readResponseLocked reads lines off the RPC connection until it finds
// one that is not a push message, dispatching pushes to their
// callbacks as it goes. Callers must hold rpcMu.
func (c *Conn) readResponseLocked() (map[string]any, error) {
	for {
		line, err := c.rpc.ReadLine()
		if err != nil {
			return nil, err
		}
		msg, err := decodeJSONLine(line)
		if err != nil {
			return nil, err
		}
		if !c.dispatchIfPush(msg) {
			return msg, nil
		}
	}
}

// dispatchIfPush invokes the matching callback for an unsolicited push
// message (cursor_shape, resolution_changed) and reports whether msg
// was one of those, as opposed to a real RPC response line.
func (c *Conn) dispatchIfPush(msg map[string]any) bool {
	switch msg["type"] {
	case "cursor_shape":
		if c.cfg.Callbacks.OnCursor != nil {
			shape, _ := msg["shape"].(string)
			if shape == "" {
				shape = "default"
			}
			c.cfg.Callbacks.OnCursor(shape)
		}
		return true
	case "resolution_changed":
		if c.cfg.Callbacks.OnResolutionChanged != nil {
			w, _ := msg["width"].(float64)
			h, _ := msg["height"].(float64)
			c.cfg.Callbacks.OnResolutionChanged(int(w), int(h))
		}
		return true
	default:
		return false
	}
}

// triggerDisconnect tears down the connection from a goroutine other
// than a loop's own, since Disconnect blocks until every background
// loop has exited.
func (c *Conn) triggerDisconnect() {
	if c.connected.get() {
		go c.Disconnect()
	}
}
