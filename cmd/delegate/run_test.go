package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/delegate/internal/config"
	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Retry.BaseBackoff = 0
	cfg.Sparring.AutoStrategic = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, appOptions{dryRun: true, logOutput: io.Discard})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() {
		if err := a.close(context.Background()); err != nil {
			t.Errorf("close() error = %v", err)
		}
	})
	return a
}

func TestTaskFlags_Requests(t *testing.T) {
	tests := []struct {
		name    string
		flags   taskFlags
		args    []string
		wantErr bool
	}{
		{name: "payload words", flags: taskFlags{taskType: "formatting", priority: "high"}, args: []string{"tidy", "the", "README"}},
		{name: "missing payload", flags: taskFlags{taskType: "formatting"}, wantErr: true},
		{name: "file and payload", flags: taskFlags{file: "tasks.yaml"}, args: []string{"x"}, wantErr: true},
		{name: "bad priority", flags: taskFlags{taskType: "formatting", priority: "asap"}, args: []string{"x"}, wantErr: true},
		{name: "bad sparring", flags: taskFlags{taskType: "formatting", sparring: "wrestle"}, args: []string{"x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := tt.flags.requests(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("requests() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(reqs) != 1 || reqs[0].Payload != "tidy the README" || reqs[0].Priority != models.PriorityHigh {
				t.Errorf("requests() = %+v", reqs)
			}
		})
	}
}

func TestTaskFlags_RequestsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	content := "type: formatting\npayload: a\n---\ntype: debugging\npayload: b\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	reqs, err := (&taskFlags{file: path}).requests(nil)
	if err != nil {
		t.Fatalf("requests() error = %v", err)
	}
	if len(reqs) != 2 || reqs[1].Type != models.TaskTypeDebugging {
		t.Errorf("requests() = %+v", reqs)
	}
}

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "redis"

	_, err := newApp(context.Background(), cfg, appOptions{dryRun: true, logOutput: io.Discard})
	if !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Errorf("newApp() error = %v, want ErrInvalidPolicy", err)
	}
}

func TestNewApp_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := testConfig(t)

	_, err := newApp(context.Background(), cfg, appOptions{logOutput: io.Discard})
	if !errors.Is(err, config.ErrNoAPIKey) {
		t.Errorf("newApp() error = %v, want ErrNoAPIKey", err)
	}
}

func TestNewApp_RejectsMalformedAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "not-an-anthropic-key")
	cfg := testConfig(t)

	_, err := newApp(context.Background(), cfg, appOptions{logOutput: io.Discard})
	if !errors.Is(err, config.ErrInvalidAPIKey) {
		t.Errorf("newApp() error = %v, want ErrInvalidAPIKey", err)
	}
}

func TestNewApp_DryRunSubmit(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	req := models.NewTaskRequest(models.TaskTypeFileSearch, "find every caller of Load")
	req.EstimatedCost = 1000
	report := a.engine.Submit(context.Background(), nil, req)

	if !report.Result.Succeeded() {
		t.Fatalf("Submit() = %+v", report.Result)
	}
	if report.Result.Executor != models.ExecutorSecondary {
		t.Errorf("Executor = %s, want secondary", report.Result.Executor)
	}
	if a.db != nil {
		t.Error("memory configuration opened a store")
	}

	again := a.engine.Submit(context.Background(), nil, req)
	if !again.Result.CacheHit {
		t.Error("second identical submission should hit the cache")
	}
}

func TestNewApp_SQLiteCacheAndEventLog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBackendSQLite
	cfg.Cache.Path = filepath.Join(t.TempDir(), "delegate.db")
	cfg.Metrics.Persist = true
	a := newTestApp(t, cfg)

	if a.db == nil || a.db.Path() != cfg.Cache.Path {
		t.Fatalf("store not opened at %s", cfg.Cache.Path)
	}

	req := models.NewTaskRequest(models.TaskTypeFormatting, "format the changelog")
	a.engine.Submit(context.Background(), nil, req)
	a.engine.Submit(context.Background(), nil, req)

	n, err := a.db.CacheSize(context.Background())
	if err != nil || n != 1 {
		t.Errorf("CacheSize() = %d, %v; want 1", n, err)
	}
	records, err := a.db.AggregateMetrics(context.Background())
	if err != nil {
		t.Fatalf("AggregateMetrics() error = %v", err)
	}
	if len(records) != 1 || records[0].Invocations != 2 || records[0].CacheHits != 1 {
		t.Errorf("records = %+v", records)
	}
}

func TestServeMux(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	a.engine.Submit(context.Background(), nil, models.NewTaskRequest(models.TaskTypeFormatting, "tidy"))

	srv := httptest.NewServer(newServeMux(a))
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/metrics", `delegate_invocations_total{executor="secondary",status="succeeded",task_type="formatting"} 1`},
		{"/healthz", "ok"},
		{"/stats", `"task_type": "formatting"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body missing %q:\n%s", tt.want, body)
			}
		})
	}
}

func TestRunCommand_DryRun(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"run", "--config", cfgPath, "--dry-run", "--type", "formatting", "tidy", "the", "changelog"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v\n%s", err, errOut.String())
	}
	got := out.String()
	for _, want := range []string{"executor: secondary", "rule: explicit_mapping", "succeeded", "[secondary]"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
