// Package main is the sheetsift CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/sheetsift/internal/cli"
	"github.com/hyperjump/sheetsift/internal/config"
	"github.com/hyperjump/sheetsift/internal/extract"
	"github.com/hyperjump/sheetsift/internal/loader"
	"github.com/hyperjump/sheetsift/internal/models"
	"github.com/hyperjump/sheetsift/internal/relay"
	"github.com/hyperjump/sheetsift/internal/relevance"
	"github.com/hyperjump/sheetsift/internal/search"
	"github.com/hyperjump/sheetsift/internal/server"
	"github.com/hyperjump/sheetsift/internal/storage"
	"github.com/hyperjump/sheetsift/internal/watcher"
	"github.com/hyperjump/sheetsift/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/sheetsift/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "sheetsift server" from the project dir uses the project's config (including debug).
// A missing default config is not an error: built-in defaults are used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "load":
		runLoad()
	case "datasets":
		runDatasets()
	case "delete":
		runDelete()
	case "fetch":
		runFetch()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("sheetsift version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// mustSetup loads config and creates the logger, exiting on failure.
func mustSetup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger, bool) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolvedConfigPath, logger, debugMode
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (directory changes, file loading, relevance calls)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, debugMode := mustSetup(*configPath, *debug)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		components.Loader,
		watchOpts...,
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		components.Loader,
		components.Storage,
		components.Relay,
		&cfg.Server,
		logger,
		watchSvc,
		resolvedConfigPath,
		cfg,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: sheetsift search [flags] (-file <path> | -dataset <id>) <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Rows are sent to the relevance service in chunks; the rows it judges relevant
are printed in their original order. A blank query prints every row.

Examples:
  sheetsift search -file people.csv engineers based in london
  sheetsift search -dataset url:3f2a... "invoices over 1000"
  sheetsift search -output csv -file orders.xlsx unpaid orders > unpaid.csv
  sheetsift search -server "" -file people.csv managers   # no server needed
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so `sheetsift search "query" -file a.csv`
// would otherwise leave -file unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = search locally without a running server)")
	file := fs.String("file", "", "spreadsheet file to search (.csv, .tsv, .txt, .xlsx, .ods)")
	datasetID := fs.String("dataset", "", "ID of a loaded dataset to search")
	outputFormat := fs.String("output", "text", "output format: text, json, or csv")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if (*file == "") == (*datasetID == "") {
		fmt.Fprintln(os.Stderr, "Exactly one of -file or -dataset is required")
		printSearchUsage(fs)
		os.Exit(1)
	}
	searchQuery := &models.SearchQuery{Query: buildSearchQuery(fs.Args()), DatasetID: *datasetID}

	cfg, _, logger, debugMode := mustSetup(*configPath, false)
	defer logger.Sync()

	if *file != "" {
		table, err := extract.NewExtractor(extract.WithMaxRows(cfg.Search.MaxRows)).Extract(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *file, err)
			os.Exit(1)
		}
		if table.Truncated {
			fmt.Fprintf(os.Stderr, "Note: only the first %d rows of %s are searched\n", cfg.Search.MaxRows, *file)
		}
		searchQuery.Headers, searchQuery.Rows = table.Headers, table.Rows
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(ctx, *serverURL, searchQuery)
	} else {
		response, err = searchLocally(ctx, cfg, logger, debugMode, searchQuery)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchLocally(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool, q *models.SearchQuery) (*models.SearchResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	components, err := initializeComponents(cfg, logger, debug)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	headers, rows := q.Headers, q.Rows
	if q.DatasetID != "" {
		d, err := components.Storage.GetDataset(ctx, q.DatasetID)
		if err != nil {
			return nil, err
		}
		headers, rows = d.Headers, d.Rows
	}
	start := time.Now()
	response, err := components.Engine.SearchQuery(ctx, q, headers, rows)
	if err != nil {
		return nil, err
	}
	response.QueryTime = time.Since(start).Milliseconds()
	return response, nil
}

func searchViaHTTP(ctx context.Context, serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var response models.SearchResponse
	if err := doJSON(req, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// doJSON sends req and decodes a JSON body into out when the status matches want.
func doJSON(req *http.Request, want int, out interface{}) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// isRemoteSource reports whether a load argument is a URL rather than a path.
func isRemoteSource(arg string) bool {
	lower := strings.ToLower(strings.TrimSpace(arg))
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

func runLoad() {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: sheetsift load [flags] <airtable-url | file | directory>")
		os.Exit(1)
	}
	source := fs.Arg(0)

	cfg, _, logger, debugMode := mustSetup(*configPath, false)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if isRemoteSource(source) {
		sum, err := components.Loader.LoadURL(ctx, source)
		if err != nil {
			fmt.Printf("Loading failed: %s\n", describeLoadError(err))
			os.Exit(1)
		}
		fmt.Printf("Dataset loaded: %s (%d rows, %d columns)\n", sum.ID, sum.RowCount, sum.Columns)
		return
	}

	info, err := os.Stat(source)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n, err := components.Loader.LoadDirectory(ctx, source, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault())
		if err != nil {
			fmt.Printf("Loading directory failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %d file(s) from %s\n", n, source)
		return
	}
	// Single file: no extension filter
	sum, err := components.Loader.LoadFile(ctx, source, nil)
	if err != nil {
		fmt.Printf("Loading failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dataset loaded: %s (%d rows, %d columns)\n", sum.ID, sum.RowCount, sum.Columns)
}

// describeLoadError prefers the relay's client-facing message for relay failures.
func describeLoadError(err error) string {
	var (
		ve *relay.ValidationError
		re *relay.ResolutionError
		ue *relay.UpstreamError
	)
	if errors.As(err, &ve) || errors.As(err, &re) || errors.As(err, &ue) {
		return fmt.Sprintf("%s (%v)", relay.Message(err), err)
	}
	return err.Error()
}

func runDatasets() {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read storage directly)")
	limit := fs.Int("limit", 50, "maximum number of datasets to list")
	outputFormat := fs.String("output", "text", "output format: text, json, or csv")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var list []*models.DatasetSummary
	if *serverURL != "" {
		req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/datasets?limit=%d", *serverURL, *limit), nil)
		var out struct {
			Datasets []*models.DatasetSummary `json:"datasets"`
		}
		if err := doJSON(req, http.StatusOK, &out); err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		list = out.Datasets
	} else {
		cfg, _, logger, _ := mustSetup(*configPath, false)
		defer logger.Sync()
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		list, err = store.ListDatasets(context.Background(), 0, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteDatasets(os.Stdout, list, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: sheetsift delete [flags] <dataset-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	cfg, _, logger, debugMode := mustSetup(*configPath, false)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if _, err := components.Storage.GetDatasetSummary(ctx, id); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	if err := components.Loader.Delete(ctx, id); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dataset deleted: %s\n", id)
}

func runFetch() {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("o", "", "write the CSV to this file instead of stdout")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sheetsift fetch [-o file] <airtable-url>")
		os.Exit(1)
	}
	cfg, _, logger, _ := mustSetup(*configPath, false)
	defer logger.Sync()

	rl, err := relay.New(cfg.Relay, relay.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create relay: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fetchTo(ctx, rl, fs.Arg(0), *output); err != nil {
		fmt.Fprintf(os.Stderr, "Fetch failed: %s\n", describeLoadError(err))
		os.Exit(1)
	}
}

// fetchTo relays raw into path, or stdout when path is empty. A partially
// written file is removed on failure.
func fetchTo(ctx context.Context, rl *relay.Relay, raw, path string) error {
	resp, err := rl.Open(ctx, raw)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if path == "" {
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// statusConfigResponse holds configuration info returned by status.
type statusConfigResponse struct {
	ChunkSize         int    `json:"chunk_size,omitempty"`
	MaxConcurrency    int    `json:"max_concurrency"`
	ChunkTimeout      string `json:"chunk_timeout,omitempty"`
	MaxRows           int    `json:"max_rows"`
	RelevanceProvider string `json:"relevance_provider,omitempty"`
	RelevanceModel    string `json:"relevance_model,omitempty"`
	DatabasePath      string `json:"database_path,omitempty"`
}

type statusRelayResponse struct {
	GrammarVersion string   `json:"grammar_version"`
	Shapes         []string `json:"shapes"`
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Datasets         int64                 `json:"datasets"`
	Rows             int64                 `json:"rows"`
	DiskUsageBytes   *int64                `json:"disk_usage_bytes,omitempty"`
	Relay            *statusRelayResponse  `json:"relay,omitempty"`
	WatchDirectories []string              `json:"watch_directories,omitempty"`
	Config           *statusConfigResponse `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, logger, _ := mustSetup(*configPath, false)
		defer logger.Sync()
		res, err := statusLocally(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		writeStatusText(os.Stdout, &status)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusLocally(cfg *config.Config) (*statusResponse, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	ctx := context.Background()
	datasetCount, err := store.CountDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("count datasets: %w", err)
	}
	rowCount, err := store.CountRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	status := &statusResponse{
		Datasets:         datasetCount,
		Rows:             rowCount,
		WatchDirectories: cfg.Watch.Directories,
		Config: &statusConfigResponse{
			ChunkSize:         cfg.Search.ChunkSize,
			MaxConcurrency:    cfg.Search.MaxConcurrency,
			ChunkTimeout:      cfg.Search.ChunkTimeout.String(),
			MaxRows:           cfg.Search.MaxRows,
			RelevanceProvider: cfg.Relevance.Provider,
			RelevanceModel:    cfg.Relevance.Model,
			DatabasePath:      cfg.Storage.DatabasePath,
		},
	}
	if size, err := store.SizeBytes(); err == nil {
		status.DiskUsageBytes = &size
	}
	if g, err := relay.NewGrammar(cfg.Relay.Shapes...); err == nil {
		status.Relay = &statusRelayResponse{GrammarVersion: relay.GrammarVersion, Shapes: g.Shapes()}
	}
	return status, nil
}

func writeStatusText(w io.Writer, status *statusResponse) {
	fmt.Fprintf(w, "datasets:           %d   # count of loaded datasets\n", status.Datasets)
	fmt.Fprintf(w, "rows:               %d   # rows across all datasets\n", status.Rows)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # dataset database on disk\n", *status.DiskUsageBytes)
	}
	if status.Relay != nil {
		fmt.Fprintf(w, "relay_grammar:      %s (%s)\n", status.Relay.GrammarVersion, strings.Join(status.Relay.Shapes, ", "))
	}
	for _, d := range status.WatchDirectories {
		fmt.Fprintf(w, "watching:           %s\n", d)
	}
	if status.Config != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		if status.Config.ChunkSize > 0 {
			fmt.Fprintf(w, "chunk_size:         %d\n", status.Config.ChunkSize)
		}
		fmt.Fprintf(w, "max_concurrency:    %d\n", status.Config.MaxConcurrency)
		if status.Config.ChunkTimeout != "" {
			fmt.Fprintf(w, "chunk_timeout:      %s\n", status.Config.ChunkTimeout)
		}
		fmt.Fprintf(w, "max_rows:           %d\n", status.Config.MaxRows)
		if status.Config.RelevanceProvider != "" {
			fmt.Fprintf(w, "relevance:          %s %s\n", status.Config.RelevanceProvider, status.Config.RelevanceModel)
		}
		if status.Config.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:      %s\n", status.Config.DatabasePath)
		}
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+"/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	var s statusResponse
	if err := doJSON(req, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: sheetsift watch <add|remove|list> [path]")
		fmt.Println("  sheetsift watch add <path>     Add directory to watch")
		fmt.Println("  sheetsift watch remove <path>  Remove directory from watch")
		fmt.Println("  sheetsift watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: sheetsift watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		req, _ := http.NewRequest(http.MethodPost, *serverURL+"/api/v1/watch/directories", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if err := doJSON(req, http.StatusCreated, nil); err != nil {
			fmt.Printf("Add failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: sheetsift watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
		if err := doJSON(req, http.StatusOK, nil); err != nil {
			fmt.Printf("Remove failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		req, _ := http.NewRequest(http.MethodGet, *serverURL+"/api/v1/watch/directories", nil)
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := doJSON(req, http.StatusOK, &out); err != nil {
			fmt.Printf("List failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage storage.Storage
	Relay   *relay.Relay
	Engine  *search.Engine
	Loader  *loader.Loader
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	scorer, err := relevance.NewScorer(cfg.Relevance, logger)
	if err != nil {
		if !errors.Is(err, relevance.ErrMissingAPIKey) {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize relevance scorer: %w", err)
		}
		// Without credentials the offline keyword scorer still answers searches.
		logger.Warn("relevance provider unavailable, falling back to keyword matching",
			zap.String("provider", cfg.Relevance.Provider),
			zap.String("api_key_env", cfg.Relevance.APIKeyEnv),
			zap.Error(err),
		)
		scorer = relevance.NewKeywordScorer()
	}

	rl, err := relay.New(cfg.Relay, relay.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize relay: %w", err)
	}

	engine := search.NewEngine(scorer, &cfg.Search, search.WithLogger(logger))

	loaderOpts := []loader.LoaderOption{}
	if debug {
		loaderOpts = append(loaderOpts, loader.WithLogger(logger))
	}
	ld := loader.NewLoader(store, extract.NewExtractor(extract.WithMaxRows(cfg.Search.MaxRows)), rl, loaderOpts...)

	return &Components{
		Storage: store,
		Relay:   rl,
		Engine:  engine,
		Loader:  ld,
	}, nil
}

func printUsage() {
	fmt.Println(`sheetsift - Natural-language search over spreadsheets and Airtable views

Usage:
  sheetsift server [flags]                 Start the HTTP server (API + /relay)
  sheetsift search [flags] <query>         Search a file or loaded dataset
  sheetsift load [flags] <url|path>        Load an Airtable view, file, or directory
  sheetsift datasets [flags]               List loaded datasets
  sheetsift delete [flags] <id>            Delete a dataset
  sheetsift fetch [-o file] <url>          Download an Airtable view as CSV
  sheetsift status [flags]                 Show storage/relay/config status
  sheetsift watch <add|remove|list>        Manage watched directories
  sheetsift version                        Show version
  sheetsift help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/sheetsift/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (relevance settings for local mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to search locally.
  --file string      Spreadsheet to search
  --dataset string   Loaded dataset ID to search
  --output string    Output format: text, json, or csv (default: text)

Datasets/Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --output string    Output format (default: text)

Examples:
  sheetsift server
  sheetsift load https://airtable.com/appXXXX/shrYYYY
  sheetsift load ./exports
  sheetsift search -file people.csv "engineers in london"
  sheetsift search -output json -dataset url:3f2a... overdue invoices
  sheetsift fetch -o view.csv "https://airtable.com/v0.3/view/viwXXXX?exportCSV=true"
  sheetsift status --output json
  sheetsift watch add /path/to/sheets`)
}
