package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/delegate/pkg/models"
)

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestDefault_EveryTypeHasTier(t *testing.T) {
	cfg := Default()
	for _, tt := range models.AllTaskTypes() {
		if tt == models.TaskTypeGeneral {
			continue
		}
		if _, ok := cfg.Tiers.Defaults[tt]; !ok {
			t.Errorf("no default tier for %s", tt)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"confidence above one", func(c *Config) {
			c.Delegation[models.TaskTypeFileSearch] = Mapping{models.ExecutorSecondary, 1.5}
		}},
		{"unknown executor", func(c *Config) {
			c.Delegation[models.TaskTypeFileSearch] = Mapping{"tertiary", 0.5}
		}},
		{"warning above critical", func(c *Config) { c.Thresholds.ContextWarning = 0.95 }},
		{"zero ceiling", func(c *Config) { c.Primary.ContextCeiling = 0 }},
		{"zero timeout", func(c *Config) { c.Secondary.Timeout = 0 }},
		{"no attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"shrinking backoff", func(c *Config) { c.Retry.Multiplier = 0.5 }},
		{"unknown fallback tier", func(c *Config) { c.Tiers.Fallback = "genius" }},
		{"dependency out of range", func(c *Config) {
			c.Decomposition.Patterns[models.TaskTypeRefactoring] = Pattern{Templates: []Template{
				{Name: "a", Executor: models.ExecutorPrimary, DependsOn: []int{4}},
			}}
		}},
		{"cyclic pattern", func(c *Config) {
			c.Decomposition.Patterns[models.TaskTypeRefactoring] = Pattern{Templates: []Template{
				{Name: "a", Executor: models.ExecutorPrimary, DependsOn: []int{1}},
				{Name: "b", Executor: models.ExecutorPrimary, DependsOn: []int{0}},
			}}
		}},
		{"self dependency", func(c *Config) {
			c.Decomposition.Patterns[models.TaskTypeRefactoring] = Pattern{Templates: []Template{
				{Name: "a", Executor: models.ExecutorPrimary, DependsOn: []int{0}},
			}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() error should wrap ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	r := RetryPolicy{BaseBackoff: 100 * time.Millisecond, Multiplier: 2, MaxBackoff: 350 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 350 * time.Millisecond},
		{10, 350 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := r.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExecutorPolicy_Supports(t *testing.T) {
	cfg := Default()

	if !cfg.Primary.Supports([]models.Capability{models.CapabilityReasoning, models.CapabilityCode}) {
		t.Error("primary should support reasoning and code")
	}
	if cfg.Secondary.Supports([]models.Capability{models.CapabilityLongContext}) {
		t.Error("secondary should not support long_context")
	}
	if !cfg.Secondary.Supports(nil) {
		t.Error("an empty requirement should always be supported")
	}
}

func TestConfig_Lookups(t *testing.T) {
	cfg := Default()

	if cfg.Executor(models.ExecutorSecondary).Model != cfg.Secondary.Model {
		t.Error("Executor(secondary) should return the secondary policy")
	}
	if _, ok := cfg.Pattern(models.TaskTypeFileSearch); ok {
		t.Error("file_search should have no decomposition pattern")
	}
	p, ok := cfg.Pattern(models.TaskTypeFeatureImplementation)
	if !ok || len(p.Templates) != 5 {
		t.Errorf("feature_implementation pattern = %+v, %v", p, ok)
	}
	if m, ok := cfg.Mapping(models.TaskTypeFileSearch); !ok || m.Executor != models.ExecutorSecondary || m.Confidence != 0.95 {
		t.Errorf("file_search mapping = %+v, %v", m, ok)
	}
}
