package relevance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperjump/sheetsift/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClient(config.RelevanceConfig{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  [1, 2]  "}}]}`))
	})

	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "[1, 2]", out)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Nil(t, got.Temperature)
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrRateLimited)
		}},
		{"server error", http.StatusBadGateway, `upstream down`, func(t *testing.T, err error) {
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, http.StatusBadGateway, se.Status)
			assert.Equal(t, "upstream down", se.Body)
		}},
		{"no choices", http.StatusOK, `{"choices":[]}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrEmptyResponse)
		}},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrEmptyResponse)
		}},
		{"bad json", http.StatusOK, `<html>`, func(t *testing.T, err error) {
			assert.Error(t, err)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Complete(context.Background(), "p")
			tt.check(t, err)
		})
	}
}

func TestOpenAIClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, "p")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewOpenAIClient_KeyFromEnv(t *testing.T) {
	t.Setenv("SHEETSIFT_TEST_KEY", "from-env")
	c, err := NewOpenAIClient(config.RelevanceConfig{APIKeyEnv: "SHEETSIFT_TEST_KEY", RequestsPerSecond: 2})
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.apiKey)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", c.url)
	assert.NotNil(t, c.limiter)
}
