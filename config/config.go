// Package config provides environment-variable configuration loading and
// validation for flowengine's engine and its flowbench CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig provides utilities for loading configuration from environment variables
type EnvConfig struct {
	prefix string // Optional prefix for all environment variables
}

// NewEnvConfig creates a new environment configuration loader
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{
		prefix: prefix,
	}
}

// GetString retrieves a string value from environment with optional default
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value
	}
	return defaultValue
}

// GetInt retrieves an integer value from environment with optional default
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
	}
	return defaultValue
}

// buildKey builds the full environment variable key with optional prefix
func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// Validator provides configuration validation utilities
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: make([]string, 0),
	}
}

// RequireString validates that a string field is not empty
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// IsValid returns true if there are no validation errors
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// ErrorString returns all validation errors as a single string
func (v *Validator) ErrorString() string {
	if len(v.errors) == 0 {
		return ""
	}
	return strings.Join(v.errors, "; ")
}

// Validate runs validation and returns error if invalid
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", v.ErrorString())
	}
	return nil
}

// EngineConfig controls how an engine instance shards its graph and sizes
// its domain loops.
type EngineConfig struct {
	Domains       int
	InboxCapacity int
	PingInterval  time.Duration
	LogFormat     string
	LogLevel      string
}

// LoadEngineConfig loads engine configuration from environment variables
// prefixed with FLOWENGINE, defaulting to a single domain.
func LoadEngineConfig() EngineConfig {
	env := NewEnvConfig("FLOWENGINE")
	return EngineConfig{
		Domains:       env.GetInt("DOMAINS", 1),
		InboxCapacity: env.GetInt("INBOX_CAPACITY", 1024),
		PingInterval:  env.GetDuration("PING_INTERVAL", 30*time.Second),
		LogFormat:     env.GetString("LOG_FORMAT", "text"),
		LogLevel:      env.GetString("LOG_LEVEL", "info"),
	}
}

// BenchConfig carries the flowbench CLI's flags, bindable via cobra/viper.
type BenchConfig struct {
	Target   string
	Average  bool
	CDF      bool
	Stage    bool
	Getters  int
	Articles int
	Runtime  time.Duration
	Migrate  time.Duration
}

// Validate enforces the CLI's mutual-exclusion and positivity rules.
func (c BenchConfig) Validate() error {
	v := NewValidator()
	v.RequireString("Target", c.Target)
	v.RequirePositiveInt("Getters", c.Getters)
	v.RequirePositiveInt("Articles", c.Articles)
	if c.Stage && c.Migrate > 0 {
		v.errors = append(v.errors, "Stage and Migrate are mutually exclusive")
	}
	return v.Validate()
}
