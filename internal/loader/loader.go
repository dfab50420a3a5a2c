// Package loader parses spreadsheets from files, uploads and relayed URLs and
// stores them as datasets.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/sheetsift/internal/datasetid"
	"github.com/hyperjump/sheetsift/internal/extract"
	"github.com/hyperjump/sheetsift/internal/models"
	"github.com/hyperjump/sheetsift/internal/relay"
	"github.com/hyperjump/sheetsift/internal/storage"
	"go.uber.org/zap"
)

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
	metaKeySourceKind  = "source_kind"
	metaKeyResolvedURL = "resolved_url"
	metaKeyTruncated   = "truncated"
)

// Opener opens a remote CSV export. *relay.Relay implements it.
type Opener interface {
	Open(ctx context.Context, raw string) (*relay.Response, error)
}

// Loader turns spreadsheet sources into stored datasets.
type Loader struct {
	storage   storage.Storage
	extractor *extract.Extractor
	opener    Opener
	logger    *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a loader. opener may be nil, in which case LoadURL fails.
func NewLoader(store storage.Storage, extractor *extract.Extractor, opener Opener, opts ...LoaderOption) *Loader {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	ld := &Loader{
		storage:   store,
		extractor: extractor,
		opener:    opener,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// LoadURL fetches an Airtable export through the relay and stores it. The
// body is parsed as it streams. Reloading the same URL replaces the dataset.
func (ld *Loader) LoadURL(ctx context.Context, raw string) (*models.DatasetSummary, error) {
	if ld.opener == nil {
		return nil, errors.New("loader: no url opener configured")
	}
	raw = strings.TrimSpace(raw)
	resp, err := ld.opener.Open(ctx, raw)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	table, err := ld.extractor.ExtractReader(resp.Body, ".csv")
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", raw, err)
	}
	d := &models.Dataset{
		ID:      datasetid.FromURL(raw),
		Name:    urlDatasetName(resp.Source),
		Source:  raw,
		Headers: table.Headers,
		Rows:    table.Rows,
		Metadata: map[string]interface{}{
			metaKeySourceKind:  resp.Source.Kind.String(),
			metaKeyResolvedURL: resp.Source.Resolved,
		},
	}
	return ld.save(ctx, d, table)
}

// urlDatasetName names a remote dataset after its view or share id.
func urlDatasetName(v relay.ValidatedURL) string {
	target := v.Resolved
	if target == "" {
		target = v.Raw
	}
	path := target
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if strings.HasPrefix(parts[i], "viw") || strings.HasPrefix(parts[i], "shr") {
			return "airtable " + parts[i]
		}
	}
	return target
}

// LoadFile parses the file at path and stores it under an ID derived from the
// absolute path. If allowedExts is non-empty the extension must be in it. An
// unchanged file (same mtime and size as stored) is not parsed again.
func (ld *Loader) LoadFile(ctx context.Context, path string, allowedExts []string) (*models.DatasetSummary, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	id := datasetid.FromPath(absPath)
	if sum, ok := ld.unchanged(ctx, id, absPath, info); ok {
		ld.logger.Debug("loader skipping unchanged file", zap.String("path", absPath))
		return sum, nil
	}

	table, err := ld.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", absPath, err)
	}
	d := &models.Dataset{
		ID:      id,
		Name:    filepath.Base(absPath),
		Source:  absPath,
		Headers: table.Headers,
		Rows:    table.Rows,
		Metadata: map[string]interface{}{
			metaKeySourceKind: "file",
			metaKeySourcePath: absPath,
			// Strings, since UnixNano exceeds float64 precision once it goes through JSON.
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}
	return ld.save(ctx, d, table)
}

// unchanged reports whether id is stored with the same path, mtime and size.
func (ld *Loader) unchanged(ctx context.Context, id, absPath string, info os.FileInfo) (*models.DatasetSummary, bool) {
	sum, err := ld.storage.GetDatasetSummary(ctx, id)
	if err != nil || sum.Metadata == nil {
		return nil, false
	}
	if sum.Metadata[metaKeySourcePath] != absPath {
		return nil, false
	}
	if metadataInt64(sum.Metadata, metaKeySourceMtime) != info.ModTime().UnixNano() ||
		metadataInt64(sum.Metadata, metaKeySourceSize) != info.Size() {
		return nil, false
	}
	return sum, true
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// LoadDirectory loads every regular file in dir whose extension is allowed,
// descending into subdirectories when recursive. Files that fail to parse are
// logged and skipped. Returns the number of files loaded.
func (ld *Loader) LoadDirectory(ctx context.Context, dir string, allowedExts []string, recursive bool) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		if !extract.Supported(ext) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, err := ld.LoadFile(ctx, path, allowedExts); err != nil {
			ld.logger.Warn("loader skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		n++
		return nil
	})
	return n, err
}

// LoadUpload parses an uploaded file; name's extension picks the parser.
// Each upload gets a fresh ID.
func (ld *Loader) LoadUpload(ctx context.Context, name string, r io.Reader) (*models.DatasetSummary, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !extract.Supported(ext) {
		return nil, fmt.Errorf("%w: %q", extract.ErrUnsupportedFormat, ext)
	}
	table, err := ld.extractor.ExtractReader(r, ext)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	d := &models.Dataset{
		ID:       datasetid.New(),
		Name:     filepath.Base(name),
		Source:   "upload",
		Headers:  table.Headers,
		Rows:     table.Rows,
		Metadata: map[string]interface{}{metaKeySourceKind: "upload"},
	}
	return ld.save(ctx, d, table)
}

func (ld *Loader) save(ctx context.Context, d *models.Dataset, table *extract.Table) (*models.DatasetSummary, error) {
	if table.Truncated {
		d.Metadata[metaKeyTruncated] = true
	}
	if err := ld.storage.SaveDataset(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to store dataset: %w", err)
	}
	ld.logger.Debug("loader dataset stored",
		zap.String("id", d.ID),
		zap.String("name", d.Name),
		zap.Int("rows", len(d.Rows)),
		zap.Bool("truncated", table.Truncated),
	)
	return d.Summary(), nil
}

// Delete removes a dataset by ID.
func (ld *Loader) Delete(ctx context.Context, id string) error {
	ld.logger.Debug("loader deleting dataset", zap.String("id", id))
	if err := ld.storage.DeleteDataset(ctx, id); err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	return nil
}

// DeleteFile removes the dataset loaded from path.
func (ld *Loader) DeleteFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return ld.Delete(ctx, datasetid.FromPath(absPath))
}

// FileChanged loads path, logging failures.
func (ld *Loader) FileChanged(path string) {
	if _, err := ld.LoadFile(context.Background(), path, nil); err != nil {
		ld.logger.Warn("loader failed to load watched file", zap.String("path", path), zap.Error(err))
	}
}

// FileRemoved drops the dataset loaded from path.
func (ld *Loader) FileRemoved(path string) {
	if err := ld.DeleteFile(context.Background(), path); err != nil {
		ld.logger.Warn("loader failed to delete watched file", zap.String("path", path), zap.Error(err))
	}
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
