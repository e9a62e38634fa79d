// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for chatrelay.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.chatrelay/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatrelay/internal/model"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatrelay configuration.
type Config struct {
	// Server configuration for the relay binary
	Server ServerConfig `toml:"server"`

	// Client configuration for the CLI
	Client ClientConfig `toml:"client"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`

	// Chat defaults
	Chat ChatConfig `toml:"chat"`

	// Together upstream configuration
	Together TogetherConfig `toml:"together"`
}

// ServerConfig contains relay server configuration.
type ServerConfig struct {
	// Host is the listen address
	Host string `toml:"host"`
	// Port is the listen port
	Port int `toml:"port"`
	// CORSOrigins is the list of allowed browser origins
	CORSOrigins []string `toml:"cors_origins"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ClientConfig contains CLI client configuration.
type ClientConfig struct {
	// RelayURL is the base URL of the relay server
	RelayURL string `toml:"relay_url"`
	// RenderMarkdown enables markdown rendering of assistant replies
	RenderMarkdown bool `toml:"render_markdown"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	// Backend selects the storage backend: "file" or "sqlite"
	Backend string `toml:"backend"`
	// Dir is the data directory (empty = ~/.chatrelay/data)
	Dir string `toml:"dir"`
}

// ChatConfig contains default generation settings.
type ChatConfig struct {
	// DefaultModel is the model used when none is selected
	DefaultModel string `toml:"default_model"`
	// Temperature is the default sampling temperature
	Temperature float64 `toml:"temperature"`
	// SystemPrompt is the default system prompt
	SystemPrompt string `toml:"system_prompt"`
}

// TogetherConfig contains Together AI upstream configuration.
type TogetherConfig struct {
	// APIKey is the Together API key. Usually set via TOGETHER_API_KEY.
	APIKey string `toml:"api_key"`
	// BaseURL overrides the Together API base URL
	BaseURL string `toml:"base_url"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8787,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://localhost:3000",
			},
		},
		Client: ClientConfig{
			RelayURL:       "http://127.0.0.1:8787",
			RenderMarkdown: true,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     "",
		},
		Chat: ChatConfig{
			DefaultModel: model.DefaultModel,
			Temperature:  model.DefaultTemperature,
			SystemPrompt: model.DefaultSystemPrompt,
		},
		Together: TogetherConfig{
			APIKey:  "",
			BaseURL: "",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatrelay configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatrelay"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
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

// Load loads configuration from the default config file, falling back
// to built-in defaults when no file exists. Environment overrides are
// applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	// SECURITY: Check and fix file permissions if needed
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}

	if cfg.Client.RelayURL == "" {
		cfg.Client.RelayURL = defaults.Client.RelayURL
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}

	if cfg.Chat.DefaultModel == "" {
		cfg.Chat.DefaultModel = defaults.Chat.DefaultModel
	}
	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = defaults.Chat.Temperature
	}
	if cfg.Chat.SystemPrompt == "" {
		cfg.Chat.SystemPrompt = defaults.Chat.SystemPrompt
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATRELAY_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CHATRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CHATRELAY_RELAY_URL"); v != "" {
		c.Client.RelayURL = v
	}
	if v := os.Getenv("CHATRELAY_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CHATRELAY_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("CHATRELAY_MODEL"); v != "" {
		c.Chat.DefaultModel = v
	}
	if v := os.Getenv("CHATRELAY_SYSTEM_PROMPT"); v != "" {
		c.Chat.SystemPrompt = v
	}
	if v := os.Getenv("CHATRELAY_TEMPERATURE"); v != "" {
		if temp, err := strconv.ParseFloat(v, 64); err == nil {
			c.Chat.Temperature = temp
		}
	}
	if v := os.Getenv("TOGETHER_API_KEY"); v != "" {
		c.Together.APIKey = v
	}
	if v := os.Getenv("TOGETHER_BASE_URL"); v != "" {
		c.Together.BaseURL = v
	}
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

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be 1-65535, got %d", c.Server.Port),
		})
	}

	if c.Client.RelayURL != "" {
		if _, err := url.Parse(c.Client.RelayURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "client.relay_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		}
	}

	validBackends := map[string]bool{"file": true, "sqlite": true}
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite", c.Storage.Backend),
		})
	}

	if c.Chat.Temperature < model.MinTemperature || c.Chat.Temperature > model.MaxTemperature {
		errs = append(errs, ValidationError{
			Field:   "chat.temperature",
			Message: fmt.Sprintf("temperature must be %g-%g, got %g", model.MinTemperature, model.MaxTemperature, c.Chat.Temperature),
		})
	}

	if c.Together.BaseURL != "" {
		if _, err := url.Parse(c.Together.BaseURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "together.base_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// SECURITY: Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# chatrelay configuration file")
	fmt.Fprintln(file, "# Generated by chatrelay - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// GLOBAL CONFIG
// =============================================================================

var (
	globalConfig *Config
	globalOnce   sync.Once
	globalMu     sync.Mutex
)

// Get returns the global configuration, loading it on first access.
// Load errors fall back to defaults.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: using default config: %v\n", err)
			cfg = Default()
			cfg.ApplyEnvOverrides()
		}
		globalMu.Lock()
		globalConfig = cfg
		globalMu.Unlock()
	})
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalConfig
}

// SetGlobal replaces the global configuration. Used by the watcher on
// hot reload.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the cached global config.
func ResetGlobalForTesting() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
	globalOnce = sync.Once{}
}
