// Package config provides configuration loading and structs for the sheetsift server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Relevance RelevanceConfig `yaml:"relevance"`
	Search    SearchConfig    `yaml:"search"`
	Relay     RelayConfig     `yaml:"relay"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// StorageConfig holds the dataset database location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RelevanceConfig configures the external relevance scoring service.
type RelevanceConfig struct {
	// Provider is "openai" (any OpenAI-compatible chat completions API) or "keyword" (offline).
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	APIKey    string `yaml:"api_key"`
	// Timeout is an optional HTTP client limit per call. Zero leaves each call
	// bounded by search.chunk_timeout alone.
	Timeout time.Duration `yaml:"timeout"`
	// Temperature is sent only when set.
	Temperature       *float64 `yaml:"temperature"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
}

// SearchConfig holds chunking and fan-out settings for relevance search.
type SearchConfig struct {
	// ChunkSize bounds the rows sent in one relevance request.
	ChunkSize int `yaml:"chunk_size"`
	// MaxConcurrency limits in-flight chunk requests; 0 means one goroutine per chunk.
	MaxConcurrency int `yaml:"max_concurrency"`
	// ChunkTimeout bounds a single chunk call; an expired chunk contributes no rows.
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`
	// MaxRows caps rows kept when loading a dataset; 0 means unlimited.
	MaxRows int `yaml:"max_rows"`
}

// RelayConfig holds settings for the URL relay.
type RelayConfig struct {
	// Shapes lists the accepted URL shape names; empty enables every known shape.
	Shapes             []string      `yaml:"shapes"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	DefaultContentType string        `yaml:"default_content_type"`
	UserAgent          string        `yaml:"user_agent"`
	MaxSharePageBytes  int64         `yaml:"max_share_page_bytes"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
