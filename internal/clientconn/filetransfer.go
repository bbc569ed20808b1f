package clientconn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const transferChunkSize = 65536

// transferTimeout bounds a single file transfer's RPC round trip.
// Large transfers hold the control-channel lock for their duration,
// matching the original's use of one blocking socket per transfer.
const transferTimeout = 10 * time.Minute

// SendFile uploads a local file to the given remote folder (a legacy
// inbox/outbox/staging/archive folder, or a per-session
// BridgeStaging/<session_id> path), reporting progress via progressCB
// (may be nil) and attaching metadata (permissions, etc) if given.
func (c *Conn) SendFile(localPath, remoteFolder string, metadata map[string]any, progressCB func(done, total int64)) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("clientconn: open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("clientconn: stat %s: %w", localPath, err)
	}
	size := info.Size()

	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()
	if c.rpc == nil {
		return fmt.Errorf("clientconn: not connected")
	}

	payload := map[string]any{
		"type":     "file_send",
		"folder":   remoteFolder,
		"filename": filepath.Base(localPath),
		"size":     size,
	}
	if metadata != nil {
		payload["metadata"] = metadata
	}
	if err := c.rpc.WriteJSON(payload); err != nil {
		c.connected.set(false)
		return fmt.Errorf("clientconn: file_send header: %w", err)
	}

	ready, err := c.readResponseLocked()
	if err != nil {
		c.connected.set(false)
		return fmt.Errorf("clientconn: file_send ready: %w", err)
	}
	if ok, _ := ready["ok"].(bool); !ok {
		return fmt.Errorf("clientconn: file_send rejected: %v", ready["error"])
	}

	hasher := sha256.New()
	var sent int64
	buf := make([]byte, transferChunkSize)
	for sent < size {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := c.rpc.WriteRaw(buf[:n]); werr != nil {
				c.connected.set(false)
				return fmt.Errorf("clientconn: file_send write: %w", werr)
			}
			hasher.Write(buf[:n])
			sent += int64(n)
			if progressCB != nil {
				progressCB(sent, size)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("clientconn: file_send read: %w", err)
		}
	}

	result, err := c.readResponseLocked()
	if err != nil {
		c.connected.set(false)
		return fmt.Errorf("clientconn: file_send result: %w", err)
	}
	if ok, _ := result["ok"].(bool); !ok {
		return fmt.Errorf("clientconn: file_send failed: %v", result["error"])
	}
	if remote, _ := result["sha256"].(string); remote != "" && remote != hex.EncodeToString(hasher.Sum(nil)) {
		return fmt.Errorf("clientconn: checksum mismatch")
	}
	return nil
}

// GetFile downloads a remote file into localDest, verifying the
// trailing SHA-256 the server reports against bytes actually written.
func (c *Conn) GetFile(remoteFolder, filename, localDest string, progressCB func(done, total int64)) error {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()
	if c.rpc == nil {
		return fmt.Errorf("clientconn: not connected")
	}

	if err := c.rpc.WriteJSON(map[string]any{
		"type": "file_get", "folder": remoteFolder, "filename": filename,
	}); err != nil {
		c.connected.set(false)
		return fmt.Errorf("clientconn: file_get request: %w", err)
	}

	header, err := c.readResponseLocked()
	if err != nil {
		c.connected.set(false)
		return fmt.Errorf("clientconn: file_get header: %w", err)
	}
	if ok, _ := header["ok"].(bool); !ok {
		return fmt.Errorf("clientconn: file_get rejected: %v", header["error"])
	}
	size := int64(toFloat(header["size"]))

	out, err := os.Create(localDest)
	if err != nil {
		return fmt.Errorf("clientconn: create %s: %w", localDest, err)
	}
	defer out.Close()

	hasher := sha256.New()
	var received int64
	for received < size {
		want := int64(transferChunkSize)
		if remaining := size - received; remaining < want {
			want = remaining
		}
		chunk, err := c.rpc.ReadExact(int(want))
		if err != nil {
			c.connected.set(false)
			return fmt.Errorf("clientconn: file_get read: %w", err)
		}
		if _, err := out.Write(chunk); err != nil {
			return fmt.Errorf("clientconn: file_get write: %w", err)
		}
		hasher.Write(chunk)
		received += int64(len(chunk))
		if progressCB != nil {
			progressCB(received, size)
		}
	}

	result, err := c.readResponseLocked()
	if err != nil {
		c.connected.set(false)
		return fmt.Errorf("clientconn: file_get result: %w", err)
	}
	if remote, _ := result["sha256"].(string); remote != "" && remote != hex.EncodeToString(hasher.Sum(nil)) {
		return fmt.Errorf("clientconn: checksum mismatch")
	}
	return nil
}

// PlaceStaged asks the server to move a previously staged upload into
// its final destination, returning the server-resolved absolute path.
func (c *Conn) PlaceStaged(sessionID, name, destPath string) (string, error) {
	resp, err := c.RPC(map[string]any{
		"type":      "place_staged",
		"sessionId": sessionID,
		"name":      name,
		"destPath":  destPath,
	})
	if err != nil {
		return "", err
	}
	if ok, _ := resp["ok"].(bool); !ok {
		return "", fmt.Errorf("clientconn: place_staged rejected: %v", resp["error"])
	}
	dest, _ := resp["destination"].(string)
	return dest, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
