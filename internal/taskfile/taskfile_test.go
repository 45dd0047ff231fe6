package taskfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/delegate/pkg/models"
)

func TestDecode(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	input := `
id: audit-1
type: security_audit
payload: Audit the login flow.
priority: critical
capabilities: [code, search]
sparring: combined
---
type: file_search
payload: grep for TODO
estimated_cost: 1000
`
	reqs, err := Decode(strings.NewReader(input), now)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}

	first := reqs[0]
	if first.ID != "audit-1" || first.Type != models.TaskTypeSecurityAudit {
		t.Errorf("first = %+v", first)
	}
	if first.Priority != models.PriorityCritical || first.Sparring != models.SparringCombined {
		t.Errorf("priority/sparring = %v/%v", first.Priority, first.Sparring)
	}
	if len(first.RequiredCapabilities) != 2 || first.RequiredCapabilities[1] != models.CapabilitySearch {
		t.Errorf("capabilities = %v", first.RequiredCapabilities)
	}
	if !first.CreatedAt.Equal(now) {
		t.Errorf("created at = %v", first.CreatedAt)
	}

	second := reqs[1]
	if second.ID == "" {
		t.Error("missing ID was not generated")
	}
	if second.Priority != models.PriorityNormal || second.EstimatedCost != 1000 {
		t.Errorf("second = %+v", second)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty", input: "", wantErr: ErrEmpty},
		{name: "unknown type", input: "type: juggling\npayload: x\n", wantErr: models.ErrInvalidTask},
		{name: "unknown priority", input: "type: formatting\npriority: urgent\n", wantErr: models.ErrInvalidTask},
		{name: "unknown tier", input: "type: formatting\ntier: cosmic\n", wantErr: models.ErrInvalidTask},
		{name: "unknown field", input: "type: formatting\ncolour: red\n"},
		{name: "malformed", input: "type: [unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input), time.Now())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecode_DefaultsToGeneral(t *testing.T) {
	reqs, err := Decode(strings.NewReader("payload: something\n"), time.Now())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if reqs[0].Type != models.TaskTypeGeneral {
		t.Errorf("type = %q, want general", reqs[0].Type)
	}
}

func TestIsTaskFile(t *testing.T) {
	tests := map[string]bool{
		"task.yaml":   true,
		"TASK.YML":    true,
		"notes.txt":   false,
		".hidden.yml": false,
		"yaml":        false,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			if got := IsTaskFile(name); got != want {
				t.Errorf("IsTaskFile(%q) = %v, want %v", name, got, want)
			}
		})
	}
}

type recorder struct {
	mu    sync.Mutex
	files []string
	reqs  []models.TaskRequest
	fail  bool
	got   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) handle(_ context.Context, path string, reqs []models.TaskRequest) error {
	r.mu.Lock()
	r.files = append(r.files, filepath.Base(path))
	r.reqs = append(r.reqs, reqs...)
	fail := r.fail
	r.mu.Unlock()
	r.got <- struct{}{}
	if fail {
		return errors.New("handler refused")
	}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("file %s never appeared", path)
}

func startInbox(t *testing.T, dir string, rec *recorder) {
	t.Helper()
	in, err := NewInbox(dir, rec.handle, WithSettle(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewInbox() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestInbox_ProcessesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("type: formatting\npayload: tidy\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	startInbox(t, dir, rec)

	rec.wait(t)
	waitForFile(t, filepath.Join(dir, DoneDir, "a.yaml"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.reqs) != 1 || rec.reqs[0].Type != models.TaskTypeFormatting {
		t.Errorf("requests = %+v", rec.reqs)
	}
}

func TestInbox_WatchesNewFiles(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startInbox(t, dir, rec)

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("type: debugging\npayload: crash\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}

	rec.wait(t)
	waitForFile(t, filepath.Join(dir, DoneDir, "b.yml"))

	if _, err := os.Stat(filepath.Join(dir, "ignored.txt")); err != nil {
		t.Errorf("non-task file was touched: %v", err)
	}
}

func TestInbox_InvalidFileMovedToFailed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("type: juggling\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	startInbox(t, dir, rec)

	waitForFile(t, filepath.Join(dir, FailedDir, "bad.yaml"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.files) != 0 {
		t.Errorf("handler called for invalid file: %v", rec.files)
	}
}

func TestInbox_HandlerErrorMovesToFailed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("type: formatting\npayload: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	rec.fail = true
	startInbox(t, dir, rec)

	rec.wait(t)
	waitForFile(t, filepath.Join(dir, FailedDir, "c.yaml"))
}
