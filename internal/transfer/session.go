// Package transfer implements the PC-side drag-and-drop transfer
// pipeline: a per-launch Session owning a staging directory and a JSONL
// transfer log, and a Worker that streams queued items across an
// already-connected clientconn.Conn.
package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MeeshMakes/dgx-bridge/internal/logging"
)

var log = logging.L("transfer")

// RemoteStageRoot is the bridge staging directory on the server side,
// relative to the session user's home directory.
const RemoteStageRoot = "BridgeStaging"

// RemoteDefaultDest is the destination a job lands in when the caller
// doesn't specify one.
const RemoteDefaultDest = "~/Desktop"

var illegalLinuxChars = regexp.MustCompile(`[<>:"|?*\x00-\x1f]`)

// LogEntry is one line of a session's JSONL transfer log.
type LogEntry struct {
	SessionID      string  `json:"session_id"`
	ItemID         string  `json:"item_id"`
	SrcPath        string  `json:"src_path"`
	DstPath        string  `json:"dst_path"`
	FileExt        string  `json:"file_ext"`
	SizeBytes      int64   `json:"size_bytes"`
	TSQueued       float64 `json:"ts_queued"`
	TSStarted      float64 `json:"ts_started"`
	TSFinished     float64 `json:"ts_finished"`
	Method         string  `json:"method"`
	RecursiveCount int     `json:"recursive_count"`
	SHA256Src      string  `json:"sha256_src"`
	SHA256Dst      string  `json:"sha256_dst"`
	IntegrityOK    *bool   `json:"integrity_ok"`
	Status         string  `json:"status"`
	Error          string  `json:"error"`
}

// Session is a singleton-per-launch transfer coordinator: it owns the
// staging directory items get copied into before upload, and the JSONL
// log every item's lifecycle gets appended to. Call Reset to start a
// fresh session (new ID, new staging dir, new log).
type Session struct {
	baseDir string
	logDir  string

	id       string
	stageDir string
	logPath  string
}

// NewSession creates a Session rooted at baseDir (typically
// config.ClientConfig.StagingDir) and immediately starts its first
// session via Reset.
func NewSession(baseDir string) (*Session, error) {
	logDir := filepath.Join(filepath.Dir(baseDir), "logs")
	s := &Session{baseDir: baseDir, logDir: logDir}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset starts a new session: a new ID, a new staging directory, and a
// new log file. Any in-flight Worker bound to the old session should be
// stopped first.
func (s *Session) Reset() error {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	stageDir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("transfer: create staging dir: %w", err)
	}
	if err := os.MkdirAll(s.logDir, 0755); err != nil {
		return fmt.Errorf("transfer: create log dir: %w", err)
	}

	s.id = id
	s.stageDir = stageDir
	s.logPath = filepath.Join(s.logDir, fmt.Sprintf("transfer-%s.jsonl", id))
	log.Info("transfer session started", "session", id)
	return nil
}

// ID returns the current session ID.
func (s *Session) ID() string { return s.id }

// StageDir returns the PC-side staging directory for the current session.
func (s *Session) StageDir() string { return s.stageDir }

// RemoteStagePath is where this session's files land on the server,
// relative to the remote home directory.
func (s *Session) RemoteStagePath() string {
	return fmt.Sprintf("%s/%s", RemoteStageRoot, s.id)
}

// MakeJob expands paths (files and directories, recursively) into a Job
// of Items destined for remoteDestDir (falls back to RemoteDefaultDest).
func (s *Session) MakeJob(paths []string, remoteDestDir string) (*Job, error) {
	if remoteDestDir == "" {
		remoteDestDir = RemoteDefaultDest
	}

	var items []*Item
	for _, raw := range paths {
		info, err := os.Stat(raw)
		if err != nil {
			return nil, fmt.Errorf("transfer: stat %s: %w", raw, err)
		}
		if info.IsDir() {
			children, err := walkDir(raw)
			if err != nil {
				return nil, err
			}
			parent := filepath.Dir(raw)
			for _, child := range children {
				rel, err := filepath.Rel(parent, child)
				if err != nil {
					return nil, err
				}
				dst := fmt.Sprintf("%s/%s", remoteDestDir, safeLinuxPath(rel))
				items = append(items, newItem(child, dst))
			}
			continue
		}
		dst := fmt.Sprintf("%s/%s", remoteDestDir, safeLinuxPath(filepath.Base(raw)))
		items = append(items, newItem(raw, dst))
	}

	return &Job{
		ID:          strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		SessionID:   s.id,
		Items:       items,
		RemoteDir:   remoteDestDir,
		CreatedAt:   time.Now(),
		Status:      StatusQueued,
	}, nil
}

// LogEntry appends one line to the session's JSONL log. A failure to
// write is logged but not returned: the log is diagnostic, not
// load-bearing for the transfer itself.
func (s *Session) LogEntry(e LogEntry) {
	e.SessionID = s.id
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("could not open transfer log", "error", err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(e); err != nil {
		log.Warn("could not write transfer log entry", "error", err)
	}
}

func walkDir(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func safeLinuxPath(p string) string {
	p = filepath.ToSlash(p)
	return illegalLinuxChars.ReplaceAllString(p, "_")
}
