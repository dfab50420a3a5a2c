package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "./datasets.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_durationsAndRelevance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
relevance:
  provider: keyword
  timeout: "15s"
  temperature: 0.2
  requests_per_second: 4
search:
  chunk_size: 50
  max_concurrency: 3
  chunk_timeout: "2m"
relay:
  shapes: ["airtable-export-csv"]
  fetch_timeout: "5s"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relevance.Provider != "keyword" {
		t.Errorf("provider = %q", cfg.Relevance.Provider)
	}
	if cfg.Relevance.Timeout != 15*time.Second {
		t.Errorf("relevance timeout = %v", cfg.Relevance.Timeout)
	}
	if cfg.Relevance.Temperature == nil || *cfg.Relevance.Temperature != 0.2 {
		t.Errorf("temperature = %v", cfg.Relevance.Temperature)
	}
	if cfg.Relevance.Burst != 1 {
		t.Errorf("burst should default to 1 when a rate is set, got %d", cfg.Relevance.Burst)
	}
	if cfg.Search.ChunkSize != 50 || cfg.Search.MaxConcurrency != 3 {
		t.Errorf("search config = %+v", cfg.Search)
	}
	if cfg.Search.ChunkTimeout != 2*time.Minute {
		t.Errorf("chunk timeout = %v", cfg.Search.ChunkTimeout)
	}
	if len(cfg.Relay.Shapes) != 1 || cfg.Relay.Shapes[0] != "airtable-export-csv" {
		t.Errorf("relay shapes = %v", cfg.Relay.Shapes)
	}
	if cfg.Relay.FetchTimeout != 5*time.Second {
		t.Errorf("fetch timeout = %v", cfg.Relay.FetchTimeout)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/datasets.db"
watch:
  directories: ["./dev/sheets"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "datasets.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	wantWatch := filepath.Join(dir, "dev", "sheets")
	if cfg.Watch.Directories[0] != wantWatch {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], wantWatch)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "*" {
		t.Errorf("default cors origin: got %q", cfg.Server.CORSOrigin)
	}
	if cfg.Search.ChunkSize != DefaultChunkSize {
		t.Errorf("default chunk size: got %d", cfg.Search.ChunkSize)
	}
	if cfg.Search.MaxConcurrency != 0 {
		t.Errorf("max concurrency should stay unlimited, got %d", cfg.Search.MaxConcurrency)
	}
	if cfg.Relevance.Provider != "openai" || cfg.Relevance.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("relevance defaults: %+v", cfg.Relevance)
	}
	if cfg.Relevance.Burst != 0 {
		t.Errorf("burst should stay 0 without a rate, got %d", cfg.Relevance.Burst)
	}
	if cfg.Relevance.Timeout != 0 {
		t.Errorf("relevance timeout should stay 0 so chunk_timeout applies, got %v", cfg.Relevance.Timeout)
	}
	if cfg.Search.ChunkTimeout != 90*time.Second {
		t.Errorf("default chunk timeout: got %v", cfg.Search.ChunkTimeout)
	}
	if cfg.Relay.DefaultContentType != "text/csv" {
		t.Errorf("default content type: got %q", cfg.Relay.DefaultContentType)
	}
	if cfg.Relay.MaxSharePageBytes != 4<<20 {
		t.Errorf("max share page bytes: got %d", cfg.Relay.MaxSharePageBytes)
	}
	if len(cfg.Watch.Extensions) != 4 || cfg.Watch.Extensions[0] != ".csv" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/sheets"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
		Search:  SearchConfig{ChunkTimeout: 45 * time.Second},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Search.ChunkTimeout != 45*time.Second {
		t.Errorf("loaded chunk timeout: got %v", loaded.Search.ChunkTimeout)
	}
}
