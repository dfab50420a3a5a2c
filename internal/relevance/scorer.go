// Package relevance talks to the natural-language relevance scoring service:
// it renders chunk prompts, calls the service, and validates its replies.
package relevance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/sheetsift/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrEmptyResponse is returned when the service replies without content.
	ErrEmptyResponse = errors.New("relevance: empty response")
	// ErrRateLimited is returned when the service answers 429.
	ErrRateLimited = errors.New("relevance: rate limited")
	// ErrMalformedResponse is returned when a reply is not a JSON array of numbers.
	ErrMalformedResponse = errors.New("relevance: malformed response")
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("relevance: missing api key")
)

// Scorer sends one rendered prompt to the relevance service and returns its raw text reply.
type Scorer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f ScorerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NewScorer builds the scorer selected by cfg.Provider.
func NewScorer(cfg config.RelevanceConfig, logger *zap.Logger) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		c, err := NewOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Debug("relevance scorer ready",
				zap.String("provider", "openai"),
				zap.String("model", c.model),
				zap.String("url", c.url),
			)
		}
		return c, nil
	case "keyword":
		if logger != nil {
			logger.Debug("relevance scorer ready", zap.String("provider", "keyword"))
		}
		return NewKeywordScorer(), nil
	default:
		return nil, fmt.Errorf("unknown relevance provider %q", cfg.Provider)
	}
}
