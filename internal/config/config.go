// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for stepflow.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.stepflow/config.toml
//   - ~/.stepflow/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/stepflow/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete stepflow configuration.
type Config struct {
	// General settings
	Version string `toml:"version" json:"version"`

	// Ollama (local model) configuration
	Ollama OllamaConfig `toml:"ollama" json:"ollama"`

	// Step execution configuration
	Execution ExecutionConfig `toml:"execution" json:"execution"`

	// Session persistence configuration
	Sessions SessionsConfig `toml:"sessions" json:"sessions"`

	// Audit trail configuration
	Audit AuditConfig `toml:"audit" json:"audit"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// OllamaConfig contains local Ollama server configuration.
type OllamaConfig struct {
	// Host is the URL of the Ollama server
	Host string `toml:"host" json:"host"`
	// Model is the model used for task decomposition and step generation
	Model string `toml:"model" json:"model"`
	// Temperature controls sampling randomness (0.0-2.0)
	Temperature float64 `toml:"temperature" json:"temperature"`
	// MaxTokens caps the number of tokens generated per request
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
	// TimeoutSecs is the per-request timeout in seconds
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// AutoStart launches a local ollama serve process when the server is unreachable
	AutoStart bool `toml:"auto_start" json:"auto_start"`
	// RequestsPerSecond rate-limits outgoing requests (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// ExecutionConfig contains shell step execution configuration.
type ExecutionConfig struct {
	// StepTimeoutSecs is the wall-clock limit for a single step's command
	StepTimeoutSecs int `toml:"step_timeout_secs" json:"step_timeout_secs"`
	// MaxRetries is the number of times a failed step is reopened before
	// escalation (skip, or abort for critical steps)
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// MaxOutputBytes caps captured stdout+stderr per command
	MaxOutputBytes int `toml:"max_output_bytes" json:"max_output_bytes"`
	// DryRun previews commands without executing them
	DryRun bool `toml:"dry_run" json:"dry_run"`
	// WorkDir is the working directory for commands (empty = process cwd)
	WorkDir string `toml:"work_dir" json:"work_dir"`
}

// SessionsConfig contains session persistence configuration.
type SessionsConfig struct {
	// Dir is the directory session files are stored in (empty = ~/.stepflow/sessions)
	Dir string `toml:"dir" json:"dir"`
	// RetentionDays is the default age threshold for cleanup (0 = never expire)
	RetentionDays int `toml:"retention_days" json:"retention_days"`
	// AutoSave persists the task context after every step transition
	AutoSave bool `toml:"auto_save" json:"auto_save"`
}

// AuditConfig contains audit trail configuration.
type AuditConfig struct {
	// Enabled controls whether command outcomes are recorded
	Enabled bool `toml:"enabled" json:"enabled"`
	// LogPath is the JSONL audit log file (empty = ~/.stepflow/audit.jsonl)
	LogPath string `toml:"log_path" json:"log_path"`
	// DBPath is the SQLite command history database (empty = ~/.stepflow/history.db)
	DBPath string `toml:"db_path" json:"db_path"`
	// KeyPath is the file holding the HMAC key for log integrity (empty = ~/.stepflow/audit.key)
	KeyPath string `toml:"key_path" json:"key_path"`
	// MaxSizeMB rotates the JSONL log when it exceeds this size
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb"`
	// Redact scrubs token-like values from recorded commands
	Redact bool `toml:"redact" json:"redact"`
}

// UIConfig contains terminal UI configuration.
type UIConfig struct {
	// Color controls ANSI color output: "auto", "always", "never"
	Color string `toml:"color" json:"color"`
	// Markdown renders step summaries and previews as styled markdown
	Markdown bool `toml:"markdown" json:"markdown"`
	// Spinner shows progress animation during decomposition and execution
	Spinner bool `toml:"spinner" json:"spinner"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Ollama: OllamaConfig{
			Host:              "http://127.0.0.1:11434",
			Model:             "qwen2.5-coder:14b",
			Temperature:       0.2,
			MaxTokens:         4096,
			TimeoutSecs:       120,
			AutoStart:         false,
			RequestsPerSecond: 0, // unlimited
		},

		Execution: ExecutionConfig{
			StepTimeoutSecs: 300,
			MaxRetries:      3,
			MaxOutputBytes:  100000,
			DryRun:          false,
			WorkDir:         "",
		},

		Sessions: SessionsConfig{
			Dir:           "",
			RetentionDays: 30,
			AutoSave:      true,
		},

		Audit: AuditConfig{
			Enabled:   true,
			LogPath:   "",
			DBPath:    "",
			KeyPath:   "",
			MaxSizeMB: 10,
			Redact:    true,
		},

		UI: UIConfig{
			Color:    "auto",
			Markdown: true,
			Spinner:  true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the stepflow configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".stepflow"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err // File doesn't exist or not accessible
	}

	mode := info.Mode().Perm()

	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	// Try TOML first
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	// Try JSON as fallback
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	// No readable config file. Use defaults, keeping any load error for
	// informational purposes.
	cfg, err = finishLoad(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// finishLoad applies env overrides, fills defaults, and validates.
func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		// Default to TOML
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finishLoad(cfg)
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	// General
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Ollama
	if cfg.Ollama.Host == "" {
		cfg.Ollama.Host = defaults.Ollama.Host
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = defaults.Ollama.Model
	}
	if cfg.Ollama.MaxTokens == 0 {
		cfg.Ollama.MaxTokens = defaults.Ollama.MaxTokens
	}
	if cfg.Ollama.TimeoutSecs == 0 {
		cfg.Ollama.TimeoutSecs = defaults.Ollama.TimeoutSecs
	}

	// Execution
	if cfg.Execution.StepTimeoutSecs == 0 {
		cfg.Execution.StepTimeoutSecs = defaults.Execution.StepTimeoutSecs
	}
	if cfg.Execution.MaxRetries == 0 {
		cfg.Execution.MaxRetries = defaults.Execution.MaxRetries
	}
	if cfg.Execution.MaxOutputBytes == 0 {
		cfg.Execution.MaxOutputBytes = defaults.Execution.MaxOutputBytes
	}

	// Audit
	if cfg.Audit.MaxSizeMB == 0 {
		cfg.Audit.MaxSizeMB = defaults.Audit.MaxSizeMB
	}

	// UI
	if cfg.UI.Color == "" {
		cfg.UI.Color = defaults.UI.Color
	}

	// Path defaults hang off the config directory.
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(dir, "sessions")
	}
	if cfg.Audit.LogPath == "" {
		cfg.Audit.LogPath = filepath.Join(dir, "audit.jsonl")
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(dir, "history.db")
	}
	if cfg.Audit.KeyPath == "" {
		cfg.Audit.KeyPath = filepath.Join(dir, "audit.key")
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf strings.Builder
	fmt.Fprintln(&buf, "# stepflow configuration file")
	fmt.Fprintln(&buf, "# Generated by stepflow - edit with care")
	fmt.Fprintln(&buf, "")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file.
// Creates config files with 0600 permissions (owner read/write only).
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Ollama Settings Validation
	// ==========================================================================

	if c.Ollama.Host != "" {
		u, err := url.Parse(c.Ollama.Host)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "ollama.host",
				Message: fmt.Sprintf("invalid URL '%s'", c.Ollama.Host),
			})
		}
	}

	if c.Ollama.Temperature < 0 || c.Ollama.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "ollama.temperature",
			Message: fmt.Sprintf("must be between 0.0 and 2.0, got %g", c.Ollama.Temperature),
		})
	}

	if c.Ollama.MaxTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   "ollama.max_tokens",
			Message: "must be non-negative",
		})
	}

	if c.Ollama.TimeoutSecs < 1 || c.Ollama.TimeoutSecs > 3600 {
		errs = append(errs, ValidationError{
			Field:   "ollama.timeout_secs",
			Message: fmt.Sprintf("must be 1-3600 seconds, got %d", c.Ollama.TimeoutSecs),
		})
	}

	if c.Ollama.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "ollama.requests_per_second",
			Message: "must be non-negative",
		})
	}

	// ==========================================================================
	// Execution Settings Validation
	// ==========================================================================

	if c.Execution.StepTimeoutSecs < 1 || c.Execution.StepTimeoutSecs > 86400 {
		errs = append(errs, ValidationError{
			Field:   "execution.step_timeout_secs",
			Message: fmt.Sprintf("must be 1-86400 seconds, got %d", c.Execution.StepTimeoutSecs),
		})
	}

	if c.Execution.MaxRetries < 0 || c.Execution.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "execution.max_retries",
			Message: fmt.Sprintf("must be 0-10, got %d", c.Execution.MaxRetries),
		})
	}

	if c.Execution.MaxOutputBytes < 1024 {
		errs = append(errs, ValidationError{
			Field:   "execution.max_output_bytes",
			Message: fmt.Sprintf("must be at least 1024, got %d", c.Execution.MaxOutputBytes),
		})
	}

	// ==========================================================================
	// Sessions Settings Validation
	// ==========================================================================

	if c.Sessions.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "sessions.retention_days",
			Message: "must be non-negative",
		})
	}

	// ==========================================================================
	// Audit Settings Validation
	// ==========================================================================

	if c.Audit.MaxSizeMB < 1 || c.Audit.MaxSizeMB > 1024 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_size_mb",
			Message: fmt.Sprintf("must be 1-1024, got %d", c.Audit.MaxSizeMB),
		})
	}

	// ==========================================================================
	// UI Settings Validation
	// ==========================================================================

	validColors := map[string]bool{"auto": true, "always": true, "never": true}
	if !validColors[strings.ToLower(c.UI.Color)] {
		errs = append(errs, ValidationError{
			Field:   "ui.color",
			Message: fmt.Sprintf("invalid value '%s', must be one of: auto, always, never", c.UI.Color),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - STEPFLOW_OLLAMA_HOST: overrides ollama.host
//   - STEPFLOW_MODEL: overrides ollama.model
//   - STEPFLOW_TEMPERATURE: overrides ollama.temperature
//   - STEPFLOW_MAX_TOKENS: overrides ollama.max_tokens
//   - STEPFLOW_STEP_TIMEOUT: overrides execution.step_timeout_secs
//   - STEPFLOW_MAX_RETRIES: overrides execution.max_retries
//   - STEPFLOW_DRY_RUN: set to "1" or "true" to preview commands without executing
//   - STEPFLOW_SESSIONS_DIR: overrides sessions.dir
//   - STEPFLOW_AUDIT: set to "0" or "false" to disable audit logging
//   - STEPFLOW_COLOR: overrides ui.color
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("STEPFLOW_OLLAMA_HOST"); host != "" {
		c.Ollama.Host = host
	}

	if model := os.Getenv("STEPFLOW_MODEL"); model != "" {
		c.Ollama.Model = model
	}

	if temp := os.Getenv("STEPFLOW_TEMPERATURE"); temp != "" {
		if f, err := strconv.ParseFloat(temp, 64); err == nil {
			c.Ollama.Temperature = f
		}
	}

	if tokens := os.Getenv("STEPFLOW_MAX_TOKENS"); tokens != "" {
		if n, err := strconv.Atoi(tokens); err == nil {
			c.Ollama.MaxTokens = n
		}
	}

	if timeout := os.Getenv("STEPFLOW_STEP_TIMEOUT"); timeout != "" {
		if n, err := strconv.Atoi(timeout); err == nil {
			c.Execution.StepTimeoutSecs = n
		}
	}

	if retries := os.Getenv("STEPFLOW_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			c.Execution.MaxRetries = n
		}
	}

	if dryRun := os.Getenv("STEPFLOW_DRY_RUN"); dryRun != "" {
		c.Execution.DryRun = isTruthy(dryRun)
	}

	if dir := os.Getenv("STEPFLOW_SESSIONS_DIR"); dir != "" {
		c.Sessions.Dir = dir
	}

	if audit := os.Getenv("STEPFLOW_AUDIT"); audit != "" {
		c.Audit.Enabled = isTruthy(audit)
	}

	if color := os.Getenv("STEPFLOW_COLOR"); color != "" {
		c.UI.Color = color
	}
}

// isTruthy interprets common boolean environment variable values.
func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "ollama.model").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		// If this is the last part, return the value
		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		// Otherwise, navigate into the struct
		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation (e.g., "ollama.model").
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		// If this is the last part, set the value
		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		// Otherwise, navigate into the struct
		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}

	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	// Handle string input with type conversion
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(isTruthy(strVal))
			return nil
		}
	}

	// Direct assignment for matching types
	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}

	// Type conversion for compatible types
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"ollama.host",
		"ollama.model",
		"ollama.temperature",
		"ollama.max_tokens",
		"ollama.timeout_secs",
		"ollama.auto_start",
		"ollama.requests_per_second",
		"execution.step_timeout_secs",
		"execution.max_retries",
		"execution.max_output_bytes",
		"execution.dry_run",
		"execution.work_dir",
		"sessions.dir",
		"sessions.retention_days",
		"sessions.auto_save",
		"audit.enabled",
		"audit.log_path",
		"audit.db_path",
		"audit.key_path",
		"audit.max_size_mb",
		"audit.redact",
		"ui.color",
		"ui.markdown",
		"ui.spinner",
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			// Use defaults rather than failing startup.
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			_ = fillDefaults(cfg)
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
