package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Direction distinguishes an upload (PC to server) from a download
// (server to PC) within a single Job.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Transport is the subset of clientconn.Conn a Worker needs. Kept as an
// interface so tests can stub the wire without a live connection.
type Transport interface {
	SendFile(localPath, remoteFolder string, metadata map[string]any, progressCB func(done, total int64)) error
	GetFile(remoteFolder, filename, localDest string, progressCB func(done, total int64)) error
	PlaceStaged(sessionID, name, destPath string) (destination string, err error)
}

// Callbacks mirrors the original PyQt signal surface with plain Go
// function fields: per-item byte progress, per-item completion,
// overall item-count progress, batch completion, and a free-text status
// line. Any may be nil.
type Callbacks struct {
	OnProgress        func(itemID string, done, total int64)
	OnItemComplete    func(itemID string, ok bool, message string)
	OnOverallProgress func(done, total int)
	OnBatchComplete   func()
	OnStatus          func(message string)
}

// Worker processes a Job's items sequentially against a Transport,
// logging each item's lifecycle to a Session. It runs synchronously;
// callers that want the original's background-thread behavior should
// invoke Run in its own goroutine.
type Worker struct {
	conn      Transport
	session   *Session
	callbacks Callbacks
	aborted   atomic.Bool
}

// NewWorker builds a Worker bound to conn and session. callbacks may be
// the zero value if the caller doesn't need progress reporting.
func NewWorker(conn Transport, session *Session, callbacks Callbacks) *Worker {
	return &Worker{conn: conn, session: session, callbacks: callbacks}
}

// Abort requests the worker stop before starting its next item. An
// item already in flight still runs to completion or failure.
func (w *Worker) Abort() {
	w.aborted.Store(true)
}

// Run processes every item in job in order, in the given direction.
func (w *Worker) Run(job *Job, direction Direction) {
	total := len(job.Items)
	job.Status = StatusRunning

	for idx, item := range job.Items {
		if w.aborted.Load() {
			item.Status = StatusCancelled
			continue
		}

		w.notifyOverall(idx, total)
		w.notifyStatus(fmt.Sprintf("transferring %s", filepath.Base(item.LocalPath)))
		item.Status = StatusRunning
		queuedAt := time.Now()

		err := w.runItem(item, direction)

		finishedAt := time.Now()
		ok := err == nil
		msg := ""
		if !ok {
			item.Status = StatusFailed
			item.ErrorMsg = err.Error()
			msg = err.Error()
		} else {
			item.Status = StatusDone
		}

		if w.callbacks.OnItemComplete != nil {
			w.callbacks.OnItemComplete(item.ID, ok, msg)
		}

		method := "file"
		if direction == DirectionDownload {
			method = "file_download"
		}
		integrityOK := item.IntegrityOK
		w.session.LogEntry(LogEntry{
			ItemID:      item.ID,
			SrcPath:     item.LocalPath,
			DstPath:     item.RemotePath,
			FileExt:     filepath.Ext(item.LocalPath),
			SizeBytes:   item.BytesTotal,
			TSQueued:    float64(queuedAt.UnixNano()) / 1e9,
			TSStarted:   float64(queuedAt.UnixNano()) / 1e9,
			TSFinished:  float64(finishedAt.UnixNano()) / 1e9,
			Method:      method,
			SHA256Src:   item.SHA256Local,
			SHA256Dst:   item.SHA256Remote,
			IntegrityOK: integrityOK,
			Status:      item.Status,
			Error:       item.ErrorMsg,
		})
	}

	w.notifyOverall(total, total)
	if w.callbacks.OnBatchComplete != nil {
		w.callbacks.OnBatchComplete()
	}
}

func (w *Worker) runItem(item *Item, direction Direction) error {
	progress := func(done, total int64) {
		item.BytesDone = done
		item.BytesTotal = total
		if w.callbacks.OnProgress != nil {
			w.callbacks.OnProgress(item.ID, done, total)
		}
	}

	switch direction {
	case DirectionUpload:
		sum, err := sha256File(item.LocalPath)
		if err != nil {
			return fmt.Errorf("transfer: hash %s: %w", item.LocalPath, err)
		}
		item.SHA256Local = sum

		item.Status = StatusStaging
		if err := w.conn.SendFile(item.LocalPath, w.session.RemoteStagePath(), nil, progress); err != nil {
			return err
		}

		item.Status = StatusVerifying
		dest, err := w.conn.PlaceStaged(w.session.ID(), item.RemoteName(), item.RemotePath)
		if err != nil {
			return fmt.Errorf("transfer: place %s: %w", item.RemoteName(), err)
		}
		item.RemotePath = dest

		ok := true
		item.IntegrityOK = &ok
		return nil

	case DirectionDownload:
		if err := w.conn.GetFile(item.RemoteDir(), item.RemoteName(), item.LocalPath, progress); err != nil {
			return err
		}
		sum, err := sha256File(item.LocalPath)
		if err != nil {
			return fmt.Errorf("transfer: hash %s: %w", item.LocalPath, err)
		}
		item.SHA256Local = sum
		ok := true
		item.IntegrityOK = &ok
		return nil

	default:
		return fmt.Errorf("transfer: unknown direction %q", direction)
	}
}

func (w *Worker) notifyOverall(done, total int) {
	if w.callbacks.OnOverallProgress != nil {
		w.callbacks.OnOverallProgress(done, total)
	}
}

func (w *Worker) notifyStatus(msg string) {
	if w.callbacks.OnStatus != nil {
		w.callbacks.OnStatus(msg)
	}
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
