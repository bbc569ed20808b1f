package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type fakeTransport struct {
	sendCalls   []string
	sendFolders []string
	getCalls    []string
	placeCalls  []string
	failSend    bool
	failGet     bool
	failPlace   bool
	getPayload  []byte
}

func (f *fakeTransport) SendFile(localPath, remoteFolder string, metadata map[string]any, progressCB func(done, total int64)) error {
	f.sendCalls = append(f.sendCalls, localPath)
	f.sendFolders = append(f.sendFolders, remoteFolder)
	if f.failSend {
		return fmt.Errorf("send failed")
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if progressCB != nil {
		progressCB(info.Size(), info.Size())
	}
	return nil
}

func (f *fakeTransport) GetFile(remoteFolder, filename, localDest string, progressCB func(done, total int64)) error {
	f.getCalls = append(f.getCalls, filename)
	if f.failGet {
		return fmt.Errorf("get failed")
	}
	if err := os.WriteFile(localDest, f.getPayload, 0644); err != nil {
		return err
	}
	if progressCB != nil {
		progressCB(int64(len(f.getPayload)), int64(len(f.getPayload)))
	}
	return nil
}

func (f *fakeTransport) PlaceStaged(sessionID, name, destPath string) (string, error) {
	f.placeCalls = append(f.placeCalls, name)
	if f.failPlace {
		return "", fmt.Errorf("place failed")
	}
	return destPath, nil
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(filepath.Join(t.TempDir(), "staging"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestWorkerRunUploadsAllItemsAndMarksDone(t *testing.T) {
	s := newTestSession(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	job, err := s.MakeJob([]string{path}, "")
	if err != nil {
		t.Fatalf("MakeJob: %v", err)
	}

	ft := &fakeTransport{}
	var completed []string
	var batchDone bool
	w := NewWorker(ft, s, Callbacks{
		OnItemComplete: func(itemID string, ok bool, message string) {
			if ok {
				completed = append(completed, itemID)
			}
		},
		OnBatchComplete: func() { batchDone = true },
	})

	w.Run(job, DirectionUpload)

	if len(completed) != 1 {
		t.Fatalf("expected 1 completed item, got %d", len(completed))
	}
	if !batchDone {
		t.Fatal("expected OnBatchComplete to fire")
	}
	if job.Items[0].Status != StatusDone {
		t.Fatalf("expected item status done, got %s", job.Items[0].Status)
	}
	if job.Items[0].SHA256Local == "" {
		t.Fatal("expected SHA256Local to be populated")
	}
	if len(ft.sendCalls) != 1 || ft.sendCalls[0] != path {
		t.Fatalf("unexpected send calls: %v", ft.sendCalls)
	}
	if len(ft.placeCalls) != 1 || ft.placeCalls[0] != "a.txt" {
		t.Fatalf("expected a place_staged call for a.txt, got %v", ft.placeCalls)
	}
	if len(ft.sendFolders) != 1 || ft.sendFolders[0] != s.RemoteStagePath() {
		t.Fatalf("expected upload to target %s, got %v", s.RemoteStagePath(), ft.sendFolders)
	}
}

func TestWorkerRunMarksFailedWhenPlaceStagedFails(t *testing.T) {
	s := newTestSession(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	job, err := s.MakeJob([]string{path}, "")
	if err != nil {
		t.Fatalf("MakeJob: %v", err)
	}

	ft := &fakeTransport{failPlace: true}
	var failedMsg string
	w := NewWorker(ft, s, Callbacks{
		OnItemComplete: func(itemID string, ok bool, message string) {
			if !ok {
				failedMsg = message
			}
		},
	})

	w.Run(job, DirectionUpload)

	if job.Items[0].Status != StatusFailed {
		t.Fatalf("expected item status failed, got %s", job.Items[0].Status)
	}
	if failedMsg == "" {
		t.Fatal("expected a failure message via OnItemComplete")
	}
}

func TestWorkerRunMarksFailedItemsWithError(t *testing.T) {
	s := newTestSession(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	job, err := s.MakeJob([]string{path}, "")
	if err != nil {
		t.Fatalf("MakeJob: %v", err)
	}

	ft := &fakeTransport{failSend: true}
	var failedMsg string
	w := NewWorker(ft, s, Callbacks{
		OnItemComplete: func(itemID string, ok bool, message string) {
			if !ok {
				failedMsg = message
			}
		},
	})

	w.Run(job, DirectionUpload)

	if job.Items[0].Status != StatusFailed {
		t.Fatalf("expected item status failed, got %s", job.Items[0].Status)
	}
	if failedMsg == "" {
		t.Fatal("expected a failure message via OnItemComplete")
	}
}

func TestWorkerRunDownloadsAndVerifiesHash(t *testing.T) {
	s := newTestSession(t)
	dest := filepath.Join(t.TempDir(), "out.bin")

	job := &Job{
		ID:        "job1",
		SessionID: s.ID(),
		Items: []*Item{
			{ID: "item1", LocalPath: dest, RemotePath: "outbox/out.bin", Status: StatusQueued},
		},
	}

	ft := &fakeTransport{getPayload: []byte("remote bytes")}
	w := NewWorker(ft, s, Callbacks{})

	w.Run(job, DirectionDownload)

	if job.Items[0].Status != StatusDone {
		t.Fatalf("expected status done, got %s", job.Items[0].Status)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != "remote bytes" {
		t.Fatalf("unexpected content: %q", got)
	}
	if job.Items[0].IntegrityOK == nil || !*job.Items[0].IntegrityOK {
		t.Fatal("expected IntegrityOK true")
	}
}

func TestWorkerAbortSkipsRemainingItems(t *testing.T) {
	s := newTestSession(t)
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, fmt.Sprintf("f%d.txt", i))
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		paths = append(paths, p)
	}
	job, err := s.MakeJob(paths, "")
	if err != nil {
		t.Fatalf("MakeJob: %v", err)
	}

	ft := &fakeTransport{}
	w := NewWorker(ft, s, Callbacks{})
	w.Abort()
	w.Run(job, DirectionUpload)

	for _, item := range job.Items {
		if item.Status != StatusCancelled {
			t.Fatalf("expected all items cancelled, got %s for %s", item.Status, item.ID)
		}
	}
	if len(ft.sendCalls) != 0 {
		t.Fatalf("expected no send calls after abort, got %v", ft.sendCalls)
	}
}
