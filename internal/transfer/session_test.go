package transfer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewSessionCreatesStagingAndLogDirs(t *testing.T) {
	base := filepath.Join(t.TempDir(), "staging")
	s, err := NewSession(base)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.ID() == "" {
		t.Fatal("expected non-empty session ID")
	}
	if info, err := os.Stat(s.StageDir()); err != nil || !info.IsDir() {
		t.Fatalf("expected staging dir to exist: %v", err)
	}
}

func TestResetStartsFreshSession(t *testing.T) {
	base := filepath.Join(t.TempDir(), "staging")
	s, err := NewSession(base)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	first := s.ID()
	firstDir := s.StageDir()

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.ID() == first {
		t.Fatal("expected a new session ID after Reset")
	}
	if s.StageDir() == firstDir {
		t.Fatal("expected a new staging dir after Reset")
	}
	if info, err := os.Stat(firstDir); err != nil || !info.IsDir() {
		t.Fatalf("expected old staging dir to remain on disk: %v", err)
	}
}

func TestMakeJobExpandsSingleFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "staging")
	s, err := NewSession(base)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "report.txt")
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	job, err := s.MakeJob([]string{path}, "")
	if err != nil {
		t.Fatalf("MakeJob: %v", err)
	}
	if len(job.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(job.Items))
	}
	item := job.Items[0]
	if item.LocalPath != path {
		t.Fatalf("unexpected local path: %s", item.LocalPath)
	}
	if item.RemotePath != RemoteDefaultDest+"/report.txt" {
		t.Fatalf("unexpected remote path: %s", item.RemotePath)
	}
	if job.SessionID != s.ID() {
		t.Fatalf("expected job session id %s, got %s", s.ID(), job.SessionID)
	}
}

func TestMakeJobExpandsDirectoryRecursively(t *testing.T) {
	base := filepath.Join(t.TempDir(), "staging")
	s, err := NewSession(base)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	root := t.TempDir()
	dropDir := filepath.Join(root, "drop")
	nested := filepath.Join(dropDir, "nested")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dropDir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatalf("write b: %v", err)
	}

	job, err := s.MakeJob([]string{dropDir}, "~/Desktop")
	if err != nil {
		t.Fatalf("MakeJob: %v", err)
	}
	if len(job.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(job.Items))
	}

	var remotePaths []string
	for _, it := range job.Items {
		remotePaths = append(remotePaths, it.RemotePath)
	}
	want := map[string]bool{
		"~/Desktop/drop/a.txt":        true,
		"~/Desktop/drop/nested/b.txt": true,
	}
	for _, p := range remotePaths {
		if !want[p] {
			t.Fatalf("unexpected remote path %q in %v", p, remotePaths)
		}
	}
}

func TestSafeLinuxPathStripsIllegalChars(t *testing.T) {
	got := safeLinuxPath(`weird<name>:"file"|.txt`)
	for _, c := range []string{"<", ">", ":", `"`, "|"} {
		if contains(got, c) {
			t.Fatalf("expected %q stripped from %q", c, got)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLogEntryAppendsJSONLine(t *testing.T) {
	base := filepath.Join(t.TempDir(), "staging")
	s, err := NewSession(base)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	s.LogEntry(LogEntry{ItemID: "item1", Status: StatusDone})
	s.LogEntry(LogEntry{ItemID: "item2", Status: StatusFailed, Error: "boom"})

	data, err := os.ReadFile(s.logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty log file")
	}
}
