package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/sheetsift/internal/config"
	"github.com/hyperjump/sheetsift/internal/extract"
	"github.com/hyperjump/sheetsift/internal/models"
	"github.com/hyperjump/sheetsift/internal/relay"
	"github.com/hyperjump/sheetsift/internal/search"
	"github.com/hyperjump/sheetsift/internal/storage"
	"go.uber.org/zap"
)

const (
	maxSearchBodyBytes = 32 << 20
	maxUploadBytes     = 64 << 20
	maxLoadURLBytes    = 64 << 10
	defaultListLimit   = 50
	maxListLimit       = 500
	// statusClientClosedRequest is the de facto status for a request the client gave up on.
	statusClientClosedRequest = 499
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSearchBodyBytes)
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	headers, rows := query.Headers, query.Rows
	if query.DatasetID != "" {
		d, err := s.storage.GetDataset(ctx, query.DatasetID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.respondError(w, http.StatusNotFound, "dataset not found")
				return
			}
			s.logger.Error("search: load dataset failed", zap.String("dataset_id", query.DatasetID), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		headers, rows = d.Headers, d.Rows
	}

	s.logger.Debug("search request",
		zap.String("query", query.Query),
		zap.String("dataset_id", query.DatasetID),
		zap.Int("rows", len(rows)),
	)
	start := time.Now()
	response, err := s.engine.SearchQuery(ctx, &query, headers, rows)
	if err != nil {
		if errors.Is(err, search.ErrAborted) {
			status := http.StatusServiceUnavailable
			if errors.Is(ctx.Err(), context.Canceled) {
				status = statusClientClosedRequest
			}
			s.logger.Info("search aborted", zap.Error(err))
			s.respondError(w, status, "search aborted")
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.QueryTime = time.Since(start).Milliseconds()
	if response.Degraded {
		s.logger.Warn("search degraded",
			zap.Int("failed_chunks", response.FailedChunks),
			zap.Int("chunks", response.Chunks),
		)
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	list, err := s.storage.ListDatasets(ctx, offset, limit)
	if err != nil {
		s.logger.Error("list datasets failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.storage.CountDatasets(ctx)
	if err != nil {
		s.logger.Error("count datasets failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*models.DatasetSummary{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": list,
		"total":    total,
		"offset":   offset,
		"limit":    limit,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

type loadURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleLoadURL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoadURLBytes)
	var req loadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		s.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	s.logger.Debug("load url request", zap.String("url", req.URL))
	sum, err := s.loader.LoadURL(r.Context(), req.URL)
	if err != nil {
		s.respondLoadError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sum)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()
	s.logger.Debug("upload request", zap.String("filename", header.Filename), zap.Int64("size", header.Size))
	sum, err := s.loader.LoadUpload(r.Context(), header.Filename, file)
	if err != nil {
		s.respondLoadError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sum)
}

// respondLoadError maps loader failures: relay errors keep the relay's
// status and message, unparseable tables are 4xx, anything else is 500.
func (s *Server) respondLoadError(w http.ResponseWriter, err error) {
	var (
		ve *relay.ValidationError
		re *relay.ResolutionError
		ue *relay.UpstreamError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &re), errors.As(err, &ue):
		status := relay.StatusCode(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("load url failed", zap.Error(err))
		}
		s.respondError(w, status, relay.Message(err))
	case errors.Is(err, extract.ErrUnsupportedFormat):
		s.respondError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, extract.ErrEmptyTable), errors.Is(err, models.ErrNoHeaders):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("load failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("rows") == "false" {
		sum, err := s.storage.GetDatasetSummary(r.Context(), id)
		if err != nil {
			s.respondStorageError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, sum)
		return
	}
	d, err := s.storage.GetDataset(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete dataset request", zap.String("id", id))
	if _, err := s.storage.GetDatasetSummary(r.Context(), id); err != nil {
		s.respondStorageError(w, err)
		return
	}
	if err := s.loader.Delete(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) respondStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "dataset not found")
		return
	}
	s.logger.Error("storage failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	datasetCount, err := s.storage.CountDatasets(ctx)
	if err != nil {
		s.logger.Error("status: count datasets failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rowCount, err := s.storage.CountRows(ctx)
	if err != nil {
		s.logger.Error("status: count rows failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"datasets": datasetCount,
		"rows":     rowCount,
	}
	if size, err := s.storage.SizeBytes(); err == nil {
		resp["disk_usage_bytes"] = size
	}
	if s.relay != nil {
		resp["relay"] = map[string]interface{}{
			"grammar_version": relay.GrammarVersion,
			"shapes":          s.relay.Grammar().Shapes(),
		}
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}

	if s.appConfig != nil {
		s.appConfigMu.Lock()
		resp["config"] = map[string]interface{}{
			"chunk_size":         s.appConfig.Search.ChunkSize,
			"max_concurrency":    s.appConfig.Search.MaxConcurrency,
			"chunk_timeout":      s.appConfig.Search.ChunkTimeout.String(),
			"max_rows":           s.appConfig.Search.MaxRows,
			"relevance_provider": s.appConfig.Relevance.Provider,
			"relevance_model":    s.appConfig.Relevance.Model,
			"database_path":      s.appConfig.Storage.DatabasePath,
		}
		s.appConfigMu.Unlock()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	dirs := s.watch.Directories()
	if dirs == nil {
		dirs = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": dirs})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch list back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.appConfig == nil {
		return
	}
	s.appConfigMu.Lock()
	s.appConfig.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.appConfig)
	s.appConfigMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
