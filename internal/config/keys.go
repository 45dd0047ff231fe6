package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("no Anthropic API key configured")
	// ErrInvalidAPIKey is returned when a configured key is malformed.
	ErrInvalidAPIKey = errors.New("invalid API key format")
)

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceNone    KeySource = "none"
)

// GetAPIKey returns the Anthropic API key.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	key, _ := resolveKey(cfg)
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// GetAPIKeySource returns where credentials come from. Bedrock needs no key.
func GetAPIKeySource(cfg *Config) KeySource {
	if cfg != nil && cfg.Anthropic.UseBedrock {
		return KeySourceBedrock
	}
	_, src := resolveKey(cfg)
	return src
}

func resolveKey(cfg *Config) (string, KeySource) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		// Unresolved ${VAR} references do not count.
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig
		}
	}
	return "", KeySourceNone
}

// ValidateAPIKey checks the key format without contacting the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("%w: expected 'sk-ant-' prefix", ErrInvalidAPIKey)
	}
	if len(key) < 20 {
		return fmt.Errorf("%w: key too short", ErrInvalidAPIKey)
	}
	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters (sk-ant-) and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
