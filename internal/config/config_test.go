package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault_MatchesBuiltinPolicy(t *testing.T) {
	p, err := Default().Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if !reflect.DeepEqual(p, policy.Default()) {
		t.Errorf("Default().Policy() differs from policy.Default()")
	}
}

func TestLoadFromPath_EmptyFileUsesDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeConfig(t, t.TempDir(), "config.yaml", "{}\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("LoadFromPath(empty) = %+v, want %+v", cfg, Default())
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeConfig(t, t.TempDir(), "config.yaml", `
anthropic:
  api_key: sk-ant-test-key-0000
  use_bedrock: true
  aws_region: us-west-2
executors:
  secondary:
    model: claude-haiku-test
    timeout: 30s
delegation:
  table:
    formatting:
      executor: primary
      confidence: 0.5
  thresholds:
    high_cost: 4000
retry:
  max_attempts: 3
  base_backoff: 50ms
sparring:
  alternatives: 2
  auto_strategic: false
cache:
  backend: sqlite
  ttl: 10m
logging:
  level: debug
  format: json
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Anthropic.APIKey != "sk-ant-test-key-0000" || !cfg.Anthropic.UseBedrock || cfg.Anthropic.AWSRegion != "us-west-2" {
		t.Errorf("anthropic = %+v", cfg.Anthropic)
	}
	if cfg.Executors.Secondary.Model != "claude-haiku-test" || cfg.Executors.Secondary.Timeout != 30*time.Second {
		t.Errorf("secondary = %+v", cfg.Executors.Secondary)
	}
	if cfg.Executors.Primary.Model != policy.Default().Primary.Model {
		t.Errorf("primary model = %q, want default", cfg.Executors.Primary.Model)
	}
	if cfg.Cache.Backend != CacheBackendSQLite || cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}

	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if m, _ := p.Mapping(models.TaskTypeFormatting); m.Executor != models.ExecutorPrimary || m.Confidence != 0.5 {
		t.Errorf("formatting mapping = %+v", m)
	}
	if m, _ := p.Mapping(models.TaskTypeFileSearch); m.Executor != models.ExecutorSecondary {
		t.Errorf("file_search mapping lost: %+v", m)
	}
	if p.Thresholds.HighCost != 4000 || p.Thresholds.HighConfidence != 0.90 {
		t.Errorf("thresholds = %+v", p.Thresholds)
	}
	if p.Retry.MaxAttempts != 3 || p.Retry.BaseBackoff != 50*time.Millisecond {
		t.Errorf("retry = %+v", p.Retry)
	}
	if p.Sparring.Alternatives != 2 || p.Sparring.AutoStrategic {
		t.Errorf("sparring = %+v", p.Sparring)
	}
	if p.Secondary.Timeout != 30*time.Second {
		t.Errorf("secondary timeout = %v", p.Secondary.Timeout)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "retry:\n  max_attempts: 3\n")
	t.Setenv("DELEGATE_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("DELEGATE_LOGGING_LEVEL", "warn")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, AppName), 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, filepath.Join(xdg, AppName), "config.yaml", `
retry:
  max_attempts: 4
cache:
  size: 64
`)

	project := t.TempDir()
	writeConfig(t, project, ProjectFile, "retry:\n  max_attempts: 6\n")
	nested := filepath.Join(project, "sub", "dir")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retry.MaxAttempts != 6 {
		t.Errorf("max attempts = %d, want project value 6", cfg.Retry.MaxAttempts)
	}
	if cfg.Cache.Size != 64 {
		t.Errorf("cache size = %d, want user value 64", cfg.Cache.Size)
	}
	if got := GetUserConfigPath(); got != filepath.Join(xdg, AppName, "config.yaml") {
		t.Errorf("GetUserConfigPath() = %q", got)
	}
}

func TestPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "redis" }},
		{"unknown executor in table", func(c *Config) {
			c.Delegation.Table = map[string]MappingConfig{"formatting": {Executor: "tertiary", Confidence: 0.5}}
		}},
		{"warning above critical", func(c *Config) { c.Delegation.Thresholds.ContextWarning = 0.95 }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"cyclic pattern", func(c *Config) {
			c.Decomposition.Patterns = map[string][]TemplateConfig{
				"debugging": {
					{Name: "a", Executor: "primary", DependsOn: []int{1}},
					{Name: "b", Executor: "secondary", DependsOn: []int{0}},
				},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			_, err := cfg.Policy()
			if !errors.Is(err, policy.ErrInvalidPolicy) {
				t.Errorf("Policy() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestPolicy_PatternOverride(t *testing.T) {
	cfg := Default()
	cfg.Decomposition.Patterns = map[string][]TemplateConfig{
		"debugging": {
			{Name: "reproduce", Executor: "secondary", Instruction: "Reproduce the bug."},
			{Name: "fix", Executor: "primary", DependsOn: []int{0}, Instruction: "Fix it."},
		},
	}
	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	pattern, ok := p.Pattern(models.TaskTypeDebugging)
	if !ok || len(pattern.Templates) != 2 {
		t.Fatalf("debugging pattern = %+v, ok=%v", pattern, ok)
	}
	if _, ok := p.Pattern(models.TaskTypeSecurityAudit); !ok {
		t.Error("built-in security_audit pattern lost")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := Default()
	cfg.Retry.MaxAttempts = 7
	cfg.Sparring.SafetyMargin = 3 * time.Second
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestWriteYAML_MasksAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Anthropic.APIKey = "sk-ant-REDACTED"

	var buf bytes.Buffer
	if err := cfg.WriteYAML(&buf); err != nil {
		t.Fatalf("WriteYAML() error = %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnop") {
		t.Error("API key leaked into YAML output")
	}
	if !strings.Contains(out, "sk-ant-...mnop") {
		t.Errorf("masked key missing:\n%s", out)
	}
	if cfg.Anthropic.APIKey != "sk-ant-REDACTED" {
		t.Error("WriteYAML modified the config")
	}
}
