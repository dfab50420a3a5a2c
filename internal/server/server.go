// Package server provides the HTTP API for sheetsift.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/sheetsift/internal/config"
	"github.com/hyperjump/sheetsift/internal/loader"
	"github.com/hyperjump/sheetsift/internal/relay"
	"github.com/hyperjump/sheetsift/internal/search"
	"github.com/hyperjump/sheetsift/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "sheetsift"

// WatchService is the directory watch surface used by the API. *watcher.Watcher implements it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the sheetsift API.
type Server struct {
	engine  *search.Engine
	loader  *loader.Loader
	storage storage.Storage
	relay   *relay.Relay
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server

	watch      WatchService
	configPath string
	// appConfig is the loaded config file; watch changes are written back to configPath.
	appConfig   *config.Config
	appConfigMu sync.Mutex
}

// NewServer creates a server with the given dependencies. rl, watch and
// appConfig may be nil: /relay is then not mounted, watch routes answer 501
// and status omits config details.
func NewServer(
	engine *search.Engine,
	ld *loader.Loader,
	storage storage.Storage,
	rl *relay.Relay,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
	appConfig *config.Config,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:     engine,
		loader:     ld,
		storage:    storage,
		relay:      rl,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
		appConfig:  appConfig,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.config.CORSOrigin))

	r.Get("/health", s.handleHealth)
	// The relay streams arbitrarily large exports, so it sits outside the request timeout.
	if s.relay != nil {
		r.Method(http.MethodGet, "/relay", s.relay)
	}

	// No route deadline on search: each chunk is bounded by search.chunk_timeout.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Post("/api/v1/search", s.handleSearch)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Get("/api/v1/datasets", s.handleListDatasets)
		r.Post("/api/v1/datasets", s.handleLoadURL)
		r.Post("/api/v1/datasets/upload", s.handleUpload)
		r.Get("/api/v1/datasets/{id}", s.handleGetDataset)
		r.Delete("/api/v1/datasets/{id}", s.handleDeleteDataset)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)
	})

	return otelhttp.NewHandler(r, serviceName)
}

// cors sets CORS headers and answers preflight requests with 204.
func cors(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
