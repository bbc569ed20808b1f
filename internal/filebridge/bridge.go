// Package filebridge implements the server side of the chunked
// upload/download sub-protocol described in spec.md §4.4: a per-session
// staging area under StagingRoot/<sessionID>, plus the legacy closed-set
// transfer folders (inbox/outbox/staging/archive) kept as a
// compatibility surface per SPEC_FULL.md §4.
package filebridge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeeshMakes/dgx-bridge/internal/logging"
	"github.com/MeeshMakes/dgx-bridge/internal/protocol"
	"github.com/MeeshMakes/dgx-bridge/internal/rpc"
)

var log = logging.L("filebridge")

// legacyFolders is the closed set the original service accepted for
// folder, mirroring server.py's validation.
var legacyFolders = map[string]bool{"inbox": true, "outbox": true, "staging": true, "archive": true}

// stagingFolderPrefix marks a folder argument as targeting a session's
// BridgeStaging/<session_id> area (spec.md §4.4/§6) rather than the
// legacy closed set.
const stagingFolderPrefix = "BridgeStaging/"

const chunkSize = 65536

// Bridge implements rpc.FileOps and the byte-stream upload/download
// handlers the session control loop invokes directly.
type Bridge struct {
	stagingRoot string
	legacyRoot  string
}

// New creates a Bridge rooted at stagingRoot (per-session staging,
// primary per spec.md) and legacyRoot (the inbox/outbox/staging/archive
// compatibility tree).
func New(stagingRoot, legacyRoot string) (*Bridge, error) {
	for _, d := range []string{"inbox", "outbox", "staging", "archive"} {
		if err := os.MkdirAll(filepath.Join(legacyRoot, d), 0755); err != nil {
			return nil, fmt.Errorf("filebridge: create legacy folder %s: %w", d, err)
		}
	}
	if err := os.MkdirAll(stagingRoot, 0755); err != nil {
		return nil, fmt.Errorf("filebridge: create staging root: %w", err)
	}
	return &Bridge{stagingRoot: stagingRoot, legacyRoot: legacyRoot}, nil
}

// legacyPath resolves folder/name against legacyRoot. name is reduced to
// its final path element, so directory and traversal components are
// stripped rather than rejected; an empty, ".", ".." or dotfile name is
// rejected. This mirrors filedrop.Handler's sanitization.
func (b *Bridge) legacyPath(folder, name string) (string, error) {
	if !legacyFolders[folder] {
		return "", fmt.Errorf("invalid folder %q", folder)
	}
	clean := filepath.Base(name)
	if clean == "." || clean == ".." || clean == "" || strings.HasPrefix(clean, ".") {
		return "", fmt.Errorf("invalid filename %q", name)
	}

	folderRoot := filepath.Join(b.legacyRoot, folder)
	dest := filepath.Join(folderRoot, clean)

	absFolder, err := filepath.Abs(folderRoot)
	if err != nil {
		return "", err
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absDest, absFolder+string(filepath.Separator)) && absDest != absFolder {
		return "", fmt.Errorf("path traversal rejected for %q", name)
	}
	return absDest, nil
}

func (b *Bridge) sessionStageDir(sessionID string) string {
	return filepath.Join(b.stagingRoot, filepath.Base(sessionID))
}

// stagingSessionID reports whether folder names a session's staging
// area (BridgeStaging/<session_id>) and, if so, returns the session ID
// with the same traversal checks legacyPath applies to a filename.
func stagingSessionID(folder string) (string, bool) {
	sid, ok := strings.CutPrefix(folder, stagingFolderPrefix)
	if !ok {
		return "", false
	}
	if sid == "" || sid != filepath.Base(sid) || sid == "." || sid == ".." {
		return "", false
	}
	return sid, true
}

// stagingDestPath resolves name against a session's staging directory,
// creating the directory on first use, with the same filename
// sanitization legacyPath applies.
func (b *Bridge) stagingDestPath(sessionID, name string) (string, error) {
	clean := filepath.Base(name)
	if clean == "." || clean == ".." || clean == "" || strings.HasPrefix(clean, ".") {
		return "", fmt.Errorf("invalid filename %q", name)
	}
	dir := b.sessionStageDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("filebridge: create staging dir: %w", err)
	}
	return filepath.Join(dir, clean), nil
}

// resolveSendPath resolves folder/name to a destination path for an
// incoming upload, accepting either a session's BridgeStaging area or
// one of the legacy closed-set folders.
func (b *Bridge) resolveSendPath(folder, name string) (string, error) {
	if sid, ok := stagingSessionID(folder); ok {
		return b.stagingDestPath(sid, name)
	}
	return b.legacyPath(folder, name)
}

// ListFiles implements rpc.FileOps.
func (b *Bridge) ListFiles(folder string) ([]rpc.FileEntry, error) {
	if !legacyFolders[folder] {
		return nil, fmt.Errorf("invalid folder %q", folder)
	}
	entries, err := os.ReadDir(filepath.Join(b.legacyRoot, folder))
	if err != nil {
		return nil, err
	}
	out := make([]rpc.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, rpc.FileEntry{Name: e.Name(), Size: info.Size(), IsDir: e.IsDir()})
	}
	return out, nil
}

// DeleteFile implements rpc.FileOps.
func (b *Bridge) DeleteFile(folder, name string) error {
	path, err := b.legacyPath(folder, name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// VerifyFile implements rpc.FileOps.
func (b *Bridge) VerifyFile(folder, name string) (string, error) {
	path, err := b.legacyPath(folder, name)
	if err != nil {
		return "", err
	}
	return sha256File(path)
}

// PlaceStaged moves a file out of a session's staging area into an
// arbitrary destination path chosen by the client, clamping to a clean
// absolute path so a malformed request can't write through a relative
// escape, and returns the resolved destination so the caller can report
// it back (spec.md §8 scenario 3).
func (b *Bridge) PlaceStaged(sessionID, name, destPath string) (string, error) {
	src := filepath.Join(b.sessionStageDir(sessionID), filepath.Base(name))
	if destPath == "" {
		return "", fmt.Errorf("destPath must not be empty")
	}
	dest, err := expandDestPath(destPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("filebridge: create destination dir: %w", err)
	}
	if err := copyFile(src, dest); err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return "", err
	}
	return dest, nil
}

// expandDestPath resolves a leading "~" against the server's home
// directory, matching the "~/Desktop" style destinations the client's
// transfer session builds its jobs with, then clamps to a clean
// absolute path.
func expandDestPath(destPath string) (string, error) {
	if destPath == "~" || strings.HasPrefix(destPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("filebridge: resolve home dir: %w", err)
		}
		destPath = filepath.Join(home, strings.TrimPrefix(destPath, "~"))
	}
	dest := filepath.Clean(destPath)
	if !filepath.IsAbs(dest) {
		return "", fmt.Errorf("destPath must be absolute")
	}
	return dest, nil
}

// StagingSHA256 returns the SHA-256 of a staged file before it's
// placed, letting the client confirm integrity ahead of the move.
func (b *Bridge) StagingSHA256(sessionID, name string) (string, error) {
	path := filepath.Join(b.sessionStageDir(sessionID), filepath.Base(name))
	return sha256File(path)
}

// CleanupStaging removes a session's entire staging directory.
func (b *Bridge) CleanupStaging(sessionID string) error {
	return os.RemoveAll(b.sessionStageDir(sessionID))
}

// OpenPath best-effort opens a path with the desktop's default file
// manager via xdg-open. A headless server with no session bus simply
// logs and returns nil — this is cosmetic, not load-bearing.
func (b *Bridge) OpenPath(path string) error {
	return bestEffortOpen(path)
}

// OpenBridgeFolder opens the staging root.
func (b *Bridge) OpenBridgeFolder() error {
	return bestEffortOpen(b.stagingRoot)
}

// ListShared lists the legacy outbox folder, the closed set's
// nearest equivalent to a general-purpose shared drop point.
func (b *Bridge) ListShared() ([]rpc.FileEntry, error) {
	return b.ListFiles("outbox")
}

// DeleteShared deletes from the legacy outbox folder.
func (b *Bridge) DeleteShared(name string) error {
	return b.DeleteFile("outbox", name)
}

// OpenSharedDrive opens the legacy outbox folder.
func (b *Bridge) OpenSharedDrive() error {
	return bestEffortOpen(filepath.Join(b.legacyRoot, "outbox"))
}

func bestEffortOpen(path string) error {
	if err := exec.Command("xdg-open", path).Start(); err != nil {
		log.Warn("xdg-open unavailable", "path", path, "error", err)
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// HandleSend processes an upload (PC -> DGX) request already decoded
// off the control channel: it acks readiness, reads exactly size bytes
// off lc, verifies them against the client-declared checksum, and
// replies with the computed digest.
func (b *Bridge) HandleSend(lc *protocol.LineConn, msg map[string]any) error {
	folder, _ := msg["folder"].(string)
	if folder == "" {
		folder = "inbox"
	}
	size := int(toFloat(msg["size"]))
	expected, _ := msg["sha256"].(string)
	name := "received_file"
	perms := ""
	if meta, ok := msg["metadata"].(map[string]any); ok {
		if n, ok := meta["name"].(string); ok && n != "" {
			name = n
		}
		if p, ok := meta["permissions"].(string); ok {
			perms = p
		}
	}
	if n, ok := msg["filename"].(string); ok && n != "" {
		name = n
	}

	dest, err := b.resolveSendPath(folder, name)
	if err != nil {
		return lc.WriteJSON(map[string]any{"ok": false, "error": err.Error()})
	}

	if err := lc.WriteJSON(map[string]any{"ok": true, "type": "ready"}); err != nil {
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return lc.WriteJSON(map[string]any{"ok": false, "error": err.Error()})
	}
	defer f.Close()

	h := sha256.New()
	remaining := size
	for remaining > 0 {
		want := chunkSize
		if remaining < want {
			want = remaining
		}
		chunk, err := lc.ReadExact(want)
		if err != nil {
			return lc.WriteJSON(map[string]any{"ok": false, "error": err.Error()})
		}
		if _, err := f.Write(chunk); err != nil {
			return lc.WriteJSON(map[string]any{"ok": false, "error": err.Error()})
		}
		h.Write(chunk)
		remaining -= len(chunk)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	ok := expected == "" || sum == expected

	if perms != "" {
		if mode, err := strconv.ParseUint(perms, 8, 32); err == nil {
			os.Chmod(dest, os.FileMode(mode))
		}
	}

	return lc.WriteJSON(map[string]any{"ok": ok, "sha256": sum})
}

// HandleGet processes a download (DGX -> PC) request: it streams the
// requested file's bytes immediately after announcing its size.
func (b *Bridge) HandleGet(lc *protocol.LineConn, msg map[string]any) error {
	folder, _ := msg["folder"].(string)
	if folder == "" {
		folder = "outbox"
	}
	filename, _ := msg["filename"].(string)
	if filename == "" {
		return lc.WriteJSON(map[string]any{"ok": false, "error": "no filename"})
	}

	src, err := b.legacyPath(folder, filename)
	if err != nil {
		return lc.WriteJSON(map[string]any{"ok": false, "error": err.Error()})
	}

	info, err := os.Stat(src)
	if err != nil {
		return lc.WriteJSON(map[string]any{"ok": false, "error": "file not found"})
	}

	if err := lc.WriteJSON(map[string]any{"ok": true, "type": "file_data", "size": info.Size()}); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if err := lc.WriteRaw(buf[:n]); err != nil {
				return err
			}
			h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	return lc.WriteJSON(map[string]any{"ok": true, "sha256": hex.EncodeToString(h.Sum(nil))})
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
