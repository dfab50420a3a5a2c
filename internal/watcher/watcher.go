// Package watcher keeps spreadsheet files in watched directories loaded as
// datasets. It uses fsnotify with per-file debouncing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// ErrNotRunning is returned when directories are changed on a stopped watcher.
var ErrNotRunning = errors.New("watcher is not running")

// Handler receives debounced file events.
type Handler interface {
	// FileChanged is called after a matching file was created or written.
	FileChanged(path string)
	// FileRemoved is called after a matching file was removed or renamed away.
	FileRemoved(path string)
}

// Watcher watches root directories for spreadsheet changes.
type Watcher struct {
	handler    Handler
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	roots     []string
	rootPaths map[string][]string // root -> watched dirs under it
	pending   map[string]*time.Timer
	fsw       *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before FileChanged fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher for roots. extensions filters file names (empty = all).
func New(roots, extensions []string, recursive bool, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		handler:    handler,
		extensions: extensions,
		recursive:  recursive,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		rootPaths:  make(map[string][]string),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, r := range roots {
		w.roots = append(w.roots, filepath.Clean(r))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Missing configured roots are created. The watcher
// runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.logger.Debug("watcher starting",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive),
	)
	for _, root := range w.roots {
		if err := os.MkdirAll(root, 0755); err != nil {
			w.closeLocked()
			w.mu.Unlock()
			return fmt.Errorf("create watch directory %s: %w", root, err)
		}
		if err := w.watchRootLocked(root); err != nil {
			w.closeLocked()
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelPending(path)
		if w.wants(path) {
			w.handler.FileRemoved(path)
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(path)
			}
			return
		}
		if w.wants(path) {
			w.schedule(path)
		}
	}
}

// handleNewDirectory starts watching a directory created under a recursive
// root and loads the files already in it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.fsw == nil || !w.recursive {
		w.mu.Unlock()
		return
	}
	root := w.rootOfLocked(dir)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			return nil
		}
		if root != "" {
			w.rootPaths[root] = append(w.rootPaths[root], path)
		}
		return nil
	})
	w.mu.Unlock()
	w.syncDirectory(dir)
}

// wants reports whether path is a spreadsheet this watcher loads. Editor lock
// and temp files are skipped.
func (w *Watcher) wants(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".~lock.") || strings.HasPrefix(base, ".") {
		return false
	}
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootOfLocked(path) != ""
}

func (w *Watcher) rootOfLocked(path string) string {
	for _, root := range w.roots {
		if inDir(root, path) {
			return root
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.logger.Debug("watcher loading file", zap.String("path", path))
		w.handler.FileChanged(path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// AddDirectory starts watching an existing directory. With syncExisting the
// files already in it are loaded in the background.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch directory: not a directory: %s", abs)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return ErrNotRunning
	}
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	if err := w.watchRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.logger.Info("watching directory", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) watchRootLocked(root string) error {
	var paths []string
	if !w.recursive {
		if err := w.fsw.Add(root); err != nil {
			return err
		}
		w.rootPaths[root] = []string{root}
		return nil
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}
	w.rootPaths[root] = paths
	return nil
}

// syncDirectory calls FileChanged for every matching file under dir,
// descending only when the watcher is recursive.
func (w *Watcher) syncDirectory(dir string) {
	w.logger.Debug("watcher syncing directory", zap.String("dir", dir))
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.wants(path) {
			w.handler.FileChanged(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Loaded datasets are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return ErrNotRunning
	}
	idx := -1
	for i, r := range w.roots {
		if r == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range w.rootPaths[abs] {
		_ = w.fsw.Remove(p)
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("stopped watching directory", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles loads every matching file already present in the roots.
// Call it after Start.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	w.closeLocked()
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) closeLocked() {
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
}
