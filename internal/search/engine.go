// Package search runs natural-language relevance search over table rows.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/sheetsift/internal/config"
	"github.com/hyperjump/sheetsift/internal/models"
	"github.com/hyperjump/sheetsift/internal/relevance"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAborted is returned when the search itself stops, e.g. the caller's context ends.
// Failures of single chunks never produce it.
var ErrAborted = errors.New("search aborted")

// Result is the outcome of one search.
type Result struct {
	// Rows are the matching rows in ascending dataset order.
	Rows         [][]string
	Chunks       int
	FailedChunks int
}

// Engine fans a query out over row chunks and merges the relevant rows.
type Engine struct {
	scorer    relevance.Scorer
	chunker   *Chunker
	validator *relevance.Validator
	config    *config.SearchConfig
	logger    *zap.Logger
	tracer    trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for chunk failures and debug output.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine that asks scorer about each chunk.
func NewEngine(scorer relevance.Scorer, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{}
	}
	e := &Engine{
		scorer: scorer,
		config: cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/hyperjump/sheetsift/internal/search"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.chunker = NewChunker(cfg.ChunkSize)
	e.validator = relevance.NewValidator(e.logger)
	return e
}

// Search returns the rows matching query in original order.
// A blank query returns rows unchanged without calling the service.
func (e *Engine) Search(ctx context.Context, query string, headers []string, rows [][]string) ([][]string, error) {
	res, err := e.Run(ctx, query, headers, rows)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

type chunkOutcome struct {
	indices []int
	err     error
}

// Run is Search with chunk statistics. Every chunk is scored concurrently and
// Run waits for all of them; a failing chunk contributes no rows.
func (e *Engine) Run(ctx context.Context, query string, headers []string, rows [][]string) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return &Result{Rows: rows}, nil
	}
	if len(rows) == 0 {
		return &Result{Rows: [][]string{}}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAborted, err)
	}

	ctx, span := e.tracer.Start(ctx, "search.Run", trace.WithAttributes(
		attribute.Int("search.rows", len(rows)),
		attribute.Int("search.chunk_size", e.chunker.Size()),
	))
	defer span.End()

	chunks := e.chunker.Chunk(rows)
	// Each goroutine writes only its own slot.
	outcomes := make([]chunkOutcome, len(chunks))
	var g errgroup.Group
	if e.config.MaxConcurrency > 0 {
		g.SetLimit(e.config.MaxConcurrency)
	}
	for i, chunk := range chunks {
		i := i
		req := relevance.NewRequest(query, headers, chunk)
		g.Go(func() error {
			outcomes[i] = e.runChunk(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aborted")
		return nil, fmt.Errorf("%w: %w", ErrAborted, err)
	}

	res := &Result{Chunks: len(chunks)}
	sets := make([][]int, len(outcomes))
	for i, o := range outcomes {
		if o.err != nil {
			res.FailedChunks++
		}
		sets[i] = o.indices
	}
	res.Rows = mergeRows(rows, sets)

	span.SetAttributes(
		attribute.Int("search.chunks", res.Chunks),
		attribute.Int("search.failed_chunks", res.FailedChunks),
		attribute.Int("search.matches", len(res.Rows)),
	)
	e.logger.Debug("search finished",
		zap.Int("rows", len(rows)),
		zap.Int("chunks", res.Chunks),
		zap.Int("failed_chunks", res.FailedChunks),
		zap.Int("matches", len(res.Rows)),
	)
	return res, nil
}

func (e *Engine) runChunk(ctx context.Context, req relevance.Request) (out chunkOutcome) {
	chunk := req.Chunk
	ctx, span := e.tracer.Start(ctx, "search.chunk", trace.WithAttributes(
		attribute.Int("chunk.first_row", chunk.First()),
		attribute.Int("chunk.last_row", chunk.Last()),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			out = chunkOutcome{err: fmt.Errorf("chunk panic: %v", r)}
			e.logger.Error("relevance chunk panicked",
				zap.Int("first_row", chunk.First()),
				zap.Any("panic", r),
			)
		}
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, "chunk failed")
		}
	}()

	if e.config.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ChunkTimeout)
		defer cancel()
	}

	prompt, err := req.Prompt()
	if err != nil {
		e.logger.Warn("relevance prompt failed", zap.Int("first_row", chunk.First()), zap.Error(err))
		return chunkOutcome{err: err}
	}
	raw, err := e.scorer.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn("relevance chunk failed",
			zap.Int("first_row", chunk.First()),
			zap.Int("last_row", chunk.Last()),
			zap.Error(err),
		)
		return chunkOutcome{err: err}
	}
	indices, err := e.validator.Indices(raw, chunk)
	return chunkOutcome{indices: indices, err: err}
}

// mergeRows unions the 1-based row numbers in sets, drops duplicates and
// numbers that name no row, and returns the rows in ascending order.
func mergeRows(rows [][]string, sets [][]int) [][]string {
	seen := make(map[int]struct{})
	var indices []int
	for _, set := range sets {
		for _, i := range set {
			if _, dup := seen[i]; dup {
				continue
			}
			seen[i] = struct{}{}
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	out := make([][]string, 0, len(indices))
	for _, i := range indices {
		if i < 1 || i > len(rows) {
			continue
		}
		out = append(out, rows[i-1])
	}
	return out
}

// SearchQuery runs q over headers and rows and builds the API response.
func (e *Engine) SearchQuery(ctx context.Context, q *models.SearchQuery, headers []string, rows [][]string) (*models.SearchResponse, error) {
	res, err := e.Run(ctx, q.Query, headers, rows)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:        q.Query,
		Headers:      headers,
		Rows:         res.Rows,
		Total:        len(res.Rows),
		DatasetRows:  len(rows),
		Chunks:       res.Chunks,
		FailedChunks: res.FailedChunks,
		Degraded:     res.FailedChunks > 0,
	}, nil
}
