package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) FileChanged(path string) {
	r.mu.Lock()
	r.changed = append(r.changed, path)
	r.mu.Unlock()
}

func (r *recorder) FileRemoved(path string) {
	r.mu.Lock()
	r.removed = append(r.removed, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (changed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...), append([]string(nil), r.removed...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, roots []string, recursive bool, rec *recorder) *Watcher {
	t.Helper()
	w := New(roots, []string{".csv", ".xlsx"}, recursive, rec, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, nil, true, &recorder{})

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatalf("adding twice: %v", err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || dirs[0] != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_AddDirectoryErrors(t *testing.T) {
	w := startWatcher(t, nil, true, &recorder{})
	if err := w.AddDirectory(filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Error("expected error for missing directory")
	}
	file := filepath.Join(t.TempDir(), "f.csv")
	if err := os.WriteFile(file, []byte("a\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(file, false); err == nil {
		t.Error("expected error for a file")
	}

	stopped := New(nil, nil, true, &recorder{})
	if err := stopped.AddDirectory(t.TempDir(), false); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestWatcher_StartCreatesMissingRoots(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b")
	startWatcher(t, []string{root}, true, &recorder{})
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
}

func TestWatcher_LoadsAndRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, []string{dir}, true, rec)

	csv := filepath.Join(sub, "people.csv")
	if err := os.WriteFile(csv, []byte("name\nada\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "notes.md"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "~$people.xlsx"), []byte("lock"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		changed, _ := rec.snapshot()
		return len(changed) > 0
	})
	// Let any stray events settle.
	time.Sleep(150 * time.Millisecond)
	changed, _ := rec.snapshot()
	for _, p := range changed {
		if p != csv {
			t.Errorf("unexpected change callback for %s", p)
		}
	}

	if err := os.Remove(csv); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, removed := rec.snapshot()
		return len(removed) == 1 && removed[0] == csv
	})
}

func TestWatcher_NewSubdirectoryIsSynced(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, true, rec)

	staging := filepath.Join(t.TempDir(), "batch")
	if err := os.MkdirAll(staging, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "a.csv"), []byte("h\n1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	moved := filepath.Join(dir, "batch")
	if err := os.Rename(staging, moved); err != nil {
		t.Skipf("rename across directories unsupported here: %v", err)
	}
	want := filepath.Join(moved, "a.csv")
	waitFor(t, func() bool {
		changed, _ := rec.snapshot()
		for _, p := range changed {
			if p == want {
				return true
			}
		}
		return false
	})
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(dir, "top.csv"),
		filepath.Join(dir, "skip.txt"),
		filepath.Join(nested, "deep.xlsx"),
	} {
		if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	rec := &recorder{}
	w := startWatcher(t, []string{dir}, true, rec)
	w.SyncExistingFiles()
	changed, _ := rec.snapshot()
	sort.Strings(changed)
	want := []string{filepath.Join(nested, "deep.xlsx"), filepath.Join(dir, "top.csv")}
	sort.Strings(want)
	if len(changed) != 2 || changed[0] != want[0] || changed[1] != want[1] {
		t.Errorf("changed = %v, want %v", changed, want)
	}

	flat := &recorder{}
	w2 := startWatcher(t, []string{dir}, false, flat)
	w2.SyncExistingFiles()
	changed, _ = flat.snapshot()
	if len(changed) != 1 || changed[0] != filepath.Join(dir, "top.csv") {
		t.Errorf("non-recursive sync = %v", changed)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.csv", []string{".csv"}, true},
		{"/a/b.CSV", []string{"csv"}, true},
		{"/a/b.md", []string{".csv"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestWants_skipsLockFiles(t *testing.T) {
	w := New(nil, []string{".xlsx", ".ods"}, true, &recorder{})
	for path, want := range map[string]bool{
		"/d/report.xlsx":         true,
		"/d/~$report.xlsx":       false,
		"/d/.~lock.report.ods#":  false,
		"/d/.hidden.xlsx":        false,
		"/d/report.ods":          true,
		"/d/report.xlsx.partial": false,
	} {
		if got := w.wants(path); got != want {
			t.Errorf("wants(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.csv", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
		{"/tmp/a", "/tmp/ab", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
