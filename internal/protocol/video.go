package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MaxVideoFrameBytes bounds a single JPEG frame. The PC client rejects
// any advertised length outside (0, MaxVideoFrameBytes].
const MaxVideoFrameBytes = 20_000_000

// VideoConn wraps a net.Conn with the video channel's wire format:
// a 4-byte big-endian length prefix followed by exactly that many
// bytes of JPEG payload.
type VideoConn struct {
	conn net.Conn
	wmu  sync.Mutex
}

// NewVideoConn wraps conn for length-prefixed JPEG framing.
func NewVideoConn(conn net.Conn) *VideoConn {
	return &VideoConn{conn: conn}
}

// Close closes the underlying connection.
func (c *VideoConn) Close() error { return c.conn.Close() }

// SetWriteDeadline sets the write deadline on the underlying connection.
func (c *VideoConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *VideoConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// WriteFrame writes one length-prefixed JPEG frame. Safe to call from
// a single producer; the bridge's video pump owns the only writer.
func (c *VideoConn) WriteFrame(jpeg []byte) error {
	if len(jpeg) == 0 || len(jpeg) > MaxVideoFrameBytes {
		return fmt.Errorf("protocol: frame size %d out of bounds", len(jpeg))
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(jpeg)))

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := c.conn.Write(header); err != nil {
		return fmt.Errorf("protocol: write frame header: %w", err)
	}
	if _, err := c.conn.Write(jpeg); err != nil {
		return fmt.Errorf("protocol: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JPEG frame, rejecting an
// advertised length of zero or more than MaxVideoFrameBytes.
func (c *VideoConn) ReadFrame() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("protocol: read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header)
	if size == 0 || size > MaxVideoFrameBytes {
		return nil, fmt.Errorf("protocol: frame size %d out of bounds", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, fmt.Errorf("protocol: read frame payload: %w", err)
	}
	return payload, nil
}

// DrainHandshakeLine discards everything up to and including the next
// newline. The video and input listeners use this to drop the PC's
// opening start_stream/start_input line, which needs no response.
func DrainHandshakeLine(conn net.Conn, timeout time.Duration) error {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 4096)
	var seen []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			seen = append(seen, buf[:n]...)
			for _, b := range buf[:n] {
				if b == '\n' {
					return nil
				}
			}
		}
		if err != nil {
			if len(seen) == 0 {
				return nil
			}
			return err
		}
	}
}
