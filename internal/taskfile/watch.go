package taskfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// Inbox subdirectories for processed files.
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// DefaultSettle is how long a file must stay quiet before it is read.
const DefaultSettle = 250 * time.Millisecond

// Handler receives the tasks decoded from one file. A returned error moves
// the file to the failed directory.
type Handler func(ctx context.Context, path string, reqs []models.TaskRequest) error

// Inbox watches a directory for task files. Each file is decoded once it has
// settled, handed to the handler, then moved to done/ or failed/.
type Inbox struct {
	dir     string
	handler Handler
	settle  time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) InboxOption {
	return func(in *Inbox) { in.settle = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) InboxOption {
	return func(in *Inbox) { in.logger = l }
}

// NewInbox creates the inbox directories.
func NewInbox(dir string, handler Handler, opts ...InboxOption) (*Inbox, error) {
	for _, d := range []string{dir, filepath.Join(dir, DoneDir), filepath.Join(dir, FailedDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create inbox directory: %w", err)
		}
	}
	in := &Inbox{
		dir:     dir,
		handler: handler,
		settle:  DefaultSettle,
		logger:  slog.Default(),
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.With("component", "inbox")
	return in, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Run processes files already present, then watches for new ones until ctx
// is cancelled. Files are handled one at a time in arrival order.
func (in *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watch %s: %w", in.dir, err)
	}

	existing, err := in.scan()
	if err != nil {
		return err
	}
	for _, path := range existing {
		in.schedule(path)
	}

	defer in.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !IsTaskFile(filepath.Base(event.Name)) || filepath.Dir(event.Name) != filepath.Clean(in.dir) {
				continue
			}
			in.schedule(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("watcher error", "error", err)
		case path := <-in.ready:
			in.process(ctx, path)
		}
	}
}

func (in *Inbox) scan() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsTaskFile(e.Name()) {
			out = append(out, filepath.Join(in.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// schedule (re)starts the settle timer for path.
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Reset(in.settle)
		return
	}
	in.pending[path] = time.AfterFunc(in.settle, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.ready <- path
	})
}

func (in *Inbox) stopTimers() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for path, t := range in.pending {
		t.Stop()
		delete(in.pending, path)
	}
}

func (in *Inbox) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Already moved by an earlier event for the same file.
		return
	}

	reqs, err := ReadFile(path)
	if err == nil {
		in.logger.Info("task file received", "file", filepath.Base(path), "tasks", len(reqs))
		err = in.handler(ctx, path, reqs)
	}

	dest := DoneDir
	if err != nil {
		dest = FailedDir
		in.logger.Warn("task file failed", "file", filepath.Base(path), "error", err)
	}
	target := filepath.Join(in.dir, dest, filepath.Base(path))
	if mvErr := os.Rename(path, target); mvErr != nil {
		in.logger.Error("move task file", "file", path, "error", mvErr)
	}
}
