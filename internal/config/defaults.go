package config

import "time"

// DefaultChunkSize is the number of rows sent to the relevance service per request.
const DefaultChunkSize = 150

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = "*"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/sheetsift/data/datasets.db"
	}
	if cfg.Relevance.Provider == "" {
		cfg.Relevance.Provider = "openai"
	}
	if cfg.Relevance.BaseURL == "" {
		cfg.Relevance.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Relevance.Model == "" {
		cfg.Relevance.Model = "gpt-4.1-mini"
	}
	if cfg.Relevance.APIKeyEnv == "" {
		cfg.Relevance.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Relevance.Burst == 0 && cfg.Relevance.RequestsPerSecond > 0 {
		cfg.Relevance.Burst = 1
	}
	if cfg.Search.ChunkSize == 0 {
		cfg.Search.ChunkSize = DefaultChunkSize
	}
	if cfg.Search.ChunkTimeout == 0 {
		cfg.Search.ChunkTimeout = 90 * time.Second
	}
	if cfg.Relay.FetchTimeout == 0 {
		cfg.Relay.FetchTimeout = 30 * time.Second
	}
	if cfg.Relay.DefaultContentType == "" {
		cfg.Relay.DefaultContentType = "text/csv"
	}
	if cfg.Relay.UserAgent == "" {
		cfg.Relay.UserAgent = "sheetsift-relay/1.0"
	}
	if cfg.Relay.MaxSharePageBytes == 0 {
		cfg.Relay.MaxSharePageBytes = 4 << 20
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".csv", ".tsv", ".xlsx", ".ods"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
