package transfer

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Status values an Item or Job moves through during its lifetime.
const (
	StatusQueued    = "queued"
	StatusStaging   = "staging"
	StatusRunning   = "running"
	StatusVerifying = "verifying"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Item is a single file to transfer, either up to the server's staging
// area or down from it.
type Item struct {
	ID         string
	LocalPath  string
	RemotePath string

	Status      string
	ErrorMsg    string
	BytesDone   int64
	BytesTotal  int64
	SHA256Local string
	SHA256Remote string
	IntegrityOK *bool
}

func newItem(localPath, remotePath string) *Item {
	return &Item{
		ID:         uuid.New().String(),
		LocalPath:  localPath,
		RemotePath: remotePath,
		Status:     StatusQueued,
	}
}

// RemoteDir returns the item's destination directory on the server.
func (it *Item) RemoteDir() string {
	return filepath.ToSlash(filepath.Dir(it.RemotePath))
}

// RemoteName returns the item's destination filename on the server.
func (it *Item) RemoteName() string {
	return filepath.Base(it.RemotePath)
}

// Job is one user-initiated drop: a batch of Items sharing a
// destination directory and a transfer session.
type Job struct {
	ID        string
	SessionID string
	Items     []*Item
	RemoteDir string

	Status    string
	CreatedAt time.Time
}
