// Package config handles configuration loading and management for delegate.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/delegate/internal/policy"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// AppName names the config directory and the project config file.
const AppName = "delegate"

// ProjectFile is the project-level override file searched from cwd upward.
const ProjectFile = ".delegate.yaml"

// EnvPrefix prefixes environment overrides, e.g. DELEGATE_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "DELEGATE"

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
)

// Config holds all configuration for delegate.
type Config struct {
	Anthropic     AnthropicConfig     `mapstructure:"anthropic" yaml:"anthropic"`
	Executors     ExecutorsConfig     `mapstructure:"executors" yaml:"executors"`
	Delegation    DelegationConfig    `mapstructure:"delegation" yaml:"delegation"`
	Decomposition DecompositionConfig `mapstructure:"decomposition" yaml:"decomposition"`
	Retry         RetryConfig         `mapstructure:"retry" yaml:"retry"`
	Sparring      SparringConfig      `mapstructure:"sparring" yaml:"sparring"`
	Cache         CacheConfig         `mapstructure:"cache" yaml:"cache"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry" yaml:"telemetry"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock" yaml:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// ExecutorsConfig describes both executors.
type ExecutorsConfig struct {
	Primary   ExecutorConfig `mapstructure:"primary" yaml:"primary"`
	Secondary ExecutorConfig `mapstructure:"secondary" yaml:"secondary"`
}

// ExecutorConfig describes one executor.
type ExecutorConfig struct {
	Model          string        `mapstructure:"model" yaml:"model"`
	Capabilities   []string      `mapstructure:"capabilities" yaml:"capabilities"`
	ContextCeiling int64         `mapstructure:"context_ceiling" yaml:"context_ceiling"`
	MaxCallBudget  int64         `mapstructure:"max_call_budget" yaml:"max_call_budget"`
	MaxTokens      int64         `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UnitCost       float64       `mapstructure:"unit_cost" yaml:"unit_cost"`
}

// DelegationConfig overrides the delegation table and rule thresholds.
type DelegationConfig struct {
	// Table entries replace the built-in row for the same task type.
	Table      map[string]MappingConfig `mapstructure:"table" yaml:"table,omitempty"`
	Thresholds ThresholdsConfig         `mapstructure:"thresholds" yaml:"thresholds"`
}

// MappingConfig is one delegation table row.
type MappingConfig struct {
	Executor   string  `mapstructure:"executor" yaml:"executor"`
	Confidence float64 `mapstructure:"confidence" yaml:"confidence"`
}

// ThresholdsConfig holds the rule engine cutoffs.
type ThresholdsConfig struct {
	HighConfidence  float64 `mapstructure:"high_confidence" yaml:"high_confidence"`
	ContextWarning  float64 `mapstructure:"context_warning" yaml:"context_warning"`
	ContextCritical float64 `mapstructure:"context_critical" yaml:"context_critical"`
	HighCost        int64   `mapstructure:"high_cost" yaml:"high_cost"`
	ToolCount       int     `mapstructure:"tool_count" yaml:"tool_count"`
}

// DecompositionConfig overrides decomposition patterns.
type DecompositionConfig struct {
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
	// Patterns replace the built-in pattern for the same task type.
	Patterns map[string][]TemplateConfig `mapstructure:"patterns" yaml:"patterns,omitempty"`
}

// TemplateConfig is one subtask template.
type TemplateConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Type        string `mapstructure:"type" yaml:"type,omitempty"`
	Executor    string `mapstructure:"executor" yaml:"executor"`
	DependsOn   []int  `mapstructure:"depends_on" yaml:"depends_on,omitempty"`
	Instruction string `mapstructure:"instruction" yaml:"instruction"`
}

// RetryConfig controls retries of transient failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" yaml:"base_backoff"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	Jitter      float64       `mapstructure:"jitter" yaml:"jitter"`
}

// SparringConfig controls sparring sessions.
type SparringConfig struct {
	Alternatives          int           `mapstructure:"alternatives" yaml:"alternatives"`
	SafetyMargin          time.Duration `mapstructure:"safety_margin" yaml:"safety_margin"`
	AlternativeConfidence float64       `mapstructure:"alternative_confidence" yaml:"alternative_confidence"`
	AutoStrategic         bool          `mapstructure:"auto_strategic" yaml:"auto_strategic"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend string        `mapstructure:"backend" yaml:"backend"`
	Size    int           `mapstructure:"size" yaml:"size"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// Path is the sqlite database. Empty means the XDG data directory.
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// MetricsConfig controls metric sinks.
type MetricsConfig struct {
	// Persist appends every metric event to the sqlite event log.
	Persist   bool   `mapstructure:"persist" yaml:"persist"`
	Path      string `mapstructure:"path" yaml:"path,omitempty"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Listen    string `mapstructure:"listen" yaml:"listen"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	Insecure    bool   `mapstructure:"insecure" yaml:"insecure"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, DELEGATE_*)
// 2. Project config (.delegate.yaml in current directory or parent)
// 3. User config (~/.config/delegate/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file layered over the defaults.
// Environment overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", EnvPrefix+"_ANTHROPIC_API_KEY")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if err := cfg.WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteYAML renders cfg. The API key is masked.
func (c *Config) WriteYAML(w io.Writer) error {
	out := *c
	if out.Anthropic.APIKey != "" {
		out.Anthropic.APIKey = MaskAPIKey(out.Anthropic.APIKey)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults mirrors policy.Default so an empty config yields the built-in policy.
func setDefaults(v *viper.Viper) {
	p := policy.Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	for name, e := range map[string]policy.ExecutorPolicy{"primary": p.Primary, "secondary": p.Secondary} {
		prefix := "executors." + name + "."
		v.SetDefault(prefix+"model", e.Model)
		v.SetDefault(prefix+"capabilities", capabilityNames(e.Capabilities))
		v.SetDefault(prefix+"context_ceiling", e.ContextCeiling)
		v.SetDefault(prefix+"max_call_budget", e.MaxCallBudget)
		v.SetDefault(prefix+"max_tokens", e.MaxTokens)
		v.SetDefault(prefix+"timeout", e.Timeout.String())
		v.SetDefault(prefix+"unit_cost", e.UnitCost)
	}

	v.SetDefault("delegation.thresholds.high_confidence", p.Thresholds.HighConfidence)
	v.SetDefault("delegation.thresholds.context_warning", p.Thresholds.ContextWarning)
	v.SetDefault("delegation.thresholds.context_critical", p.Thresholds.ContextCritical)
	v.SetDefault("delegation.thresholds.high_cost", p.Thresholds.HighCost)
	v.SetDefault("delegation.thresholds.tool_count", p.Thresholds.ToolCount)

	v.SetDefault("decomposition.max_parallel", p.Decomposition.MaxParallel)

	v.SetDefault("retry.max_attempts", p.Retry.MaxAttempts)
	v.SetDefault("retry.base_backoff", p.Retry.BaseBackoff.String())
	v.SetDefault("retry.multiplier", p.Retry.Multiplier)
	v.SetDefault("retry.max_backoff", p.Retry.MaxBackoff.String())
	v.SetDefault("retry.jitter", p.Retry.JitterFactor)

	v.SetDefault("sparring.alternatives", p.Sparring.Alternatives)
	v.SetDefault("sparring.safety_margin", p.Sparring.SafetyMargin.String())
	v.SetDefault("sparring.alternative_confidence", p.Sparring.AlternativeConfidence)
	v.SetDefault("sparring.auto_strategic", p.Sparring.AutoStrategic)

	v.SetDefault("cache.enabled", p.Cache.Enabled)
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.size", p.Cache.Size)
	v.SetDefault("cache.ttl", p.Cache.TTL.String())
	v.SetDefault("cache.path", "")

	v.SetDefault("metrics.persist", false)
	v.SetDefault("metrics.path", "")
	v.SetDefault("metrics.namespace", AppName)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "http://127.0.0.1:4318")
	v.SetDefault("telemetry.service_name", AppName)
	v.SetDefault("telemetry.insecure", false)
}

// Default returns the configuration an empty config file produces.
func Default() *Config {
	p := policy.Default()
	return &Config{
		Executors: ExecutorsConfig{
			Primary:   executorConfig(p.Primary),
			Secondary: executorConfig(p.Secondary),
		},
		Delegation: DelegationConfig{
			Thresholds: ThresholdsConfig{
				HighConfidence:  p.Thresholds.HighConfidence,
				ContextWarning:  p.Thresholds.ContextWarning,
				ContextCritical: p.Thresholds.ContextCritical,
				HighCost:        p.Thresholds.HighCost,
				ToolCount:       p.Thresholds.ToolCount,
			},
		},
		Decomposition: DecompositionConfig{MaxParallel: p.Decomposition.MaxParallel},
		Retry: RetryConfig{
			MaxAttempts: p.Retry.MaxAttempts,
			BaseBackoff: p.Retry.BaseBackoff,
			Multiplier:  p.Retry.Multiplier,
			MaxBackoff:  p.Retry.MaxBackoff,
			Jitter:      p.Retry.JitterFactor,
		},
		Sparring: SparringConfig{
			Alternatives:          p.Sparring.Alternatives,
			SafetyMargin:          p.Sparring.SafetyMargin,
			AlternativeConfidence: p.Sparring.AlternativeConfidence,
			AutoStrategic:         p.Sparring.AutoStrategic,
		},
		Cache: CacheConfig{
			Enabled: p.Cache.Enabled,
			Backend: CacheBackendMemory,
			Size:    p.Cache.Size,
			TTL:     p.Cache.TTL,
		},
		Metrics:   MetricsConfig{Namespace: AppName, Listen: "127.0.0.1:9464"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{Endpoint: "http://127.0.0.1:4318", ServiceName: AppName},
	}
}

// Policy converts the configuration into a validated policy.
// Table rows and patterns override the built-in ones per task type.
func (c *Config) Policy() (*policy.Config, error) {
	p := policy.Default()

	p.Primary = c.Executors.Primary.policy(p.Primary)
	p.Secondary = c.Executors.Secondary.policy(p.Secondary)

	for name, m := range c.Delegation.Table {
		p.Delegation[models.TaskType(name)] = policy.Mapping{
			Executor:   models.ExecutorID(m.Executor),
			Confidence: m.Confidence,
		}
	}
	th := c.Delegation.Thresholds
	p.Thresholds = policy.ThresholdPolicy{
		HighConfidence:  th.HighConfidence,
		ContextWarning:  th.ContextWarning,
		ContextCritical: th.ContextCritical,
		HighCost:        th.HighCost,
		ToolCount:       th.ToolCount,
	}

	p.Decomposition.MaxParallel = c.Decomposition.MaxParallel
	for name, templates := range c.Decomposition.Patterns {
		pattern := policy.Pattern{Templates: make([]policy.Template, 0, len(templates))}
		for _, t := range templates {
			pattern.Templates = append(pattern.Templates, policy.Template{
				Name:        t.Name,
				Type:        models.TaskType(t.Type),
				Executor:    models.ExecutorID(t.Executor),
				DependsOn:   append([]int(nil), t.DependsOn...),
				Instruction: t.Instruction,
			})
		}
		p.Decomposition.Patterns[models.TaskType(name)] = pattern
	}

	p.Retry = policy.RetryPolicy{
		MaxAttempts:  c.Retry.MaxAttempts,
		BaseBackoff:  c.Retry.BaseBackoff,
		Multiplier:   c.Retry.Multiplier,
		MaxBackoff:   c.Retry.MaxBackoff,
		JitterFactor: c.Retry.Jitter,
	}
	p.Sparring = policy.SparringPolicy{
		Alternatives:          c.Sparring.Alternatives,
		SafetyMargin:          c.Sparring.SafetyMargin,
		AlternativeConfidence: c.Sparring.AlternativeConfidence,
		AutoStrategic:         c.Sparring.AutoStrategic,
	}
	p.Cache = policy.CachePolicy{
		Enabled: c.Cache.Enabled,
		TTL:     c.Cache.TTL,
		Size:    c.Cache.Size,
	}

	if c.Cache.Backend != CacheBackendMemory && c.Cache.Backend != CacheBackendSQLite {
		return nil, fmt.Errorf("%w: cache: unknown backend %q", policy.ErrInvalidPolicy, c.Cache.Backend)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (e ExecutorConfig) policy(base policy.ExecutorPolicy) policy.ExecutorPolicy {
	out := policy.ExecutorPolicy{
		Model:          e.Model,
		ContextCeiling: e.ContextCeiling,
		MaxCallBudget:  e.MaxCallBudget,
		MaxTokens:      e.MaxTokens,
		Timeout:        e.Timeout,
		UnitCost:       e.UnitCost,
	}
	if out.Model == "" {
		out.Model = base.Model
	}
	if len(e.Capabilities) == 0 {
		out.Capabilities = append([]models.Capability(nil), base.Capabilities...)
	}
	for _, c := range e.Capabilities {
		out.Capabilities = append(out.Capabilities, models.Capability(strings.TrimSpace(c)))
	}
	return out
}

func executorConfig(p policy.ExecutorPolicy) ExecutorConfig {
	return ExecutorConfig{
		Model:          p.Model,
		Capabilities:   capabilityNames(p.Capabilities),
		ContextCeiling: p.ContextCeiling,
		MaxCallBudget:  p.MaxCallBudget,
		MaxTokens:      p.MaxTokens,
		Timeout:        p.Timeout,
		UnitCost:       p.UnitCost,
	}
}

func capabilityNames(caps []models.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

// getUserConfigDir returns the XDG config directory for delegate.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, AppName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", AppName)
	}
	return filepath.Join(home, ".config", AppName)
}

// findProjectConfig searches for .delegate.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
