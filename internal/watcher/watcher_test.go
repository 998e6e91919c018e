package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/indexer"
	"github.com/mirahq/mira/internal/parser"
	"github.com/mirahq/mira/internal/pool"
	"github.com/mirahq/mira/pkg/model"
)

func fsnotifyCreate(path string) fsnotify.Event {
	return fsnotify.Event{Name: path, Op: fsnotify.Create}
}

func fsnotifyRemove(path string) fsnotify.Event {
	return fsnotify.Event{Name: path, Op: fsnotify.Remove}
}

type call struct {
	kind    string // "index" or "delete"
	relPath string
	ext     string
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeIndexer) IndexFile(ctx context.Context, projectID int64, relPath, ext string, content []byte) (indexer.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "index", relPath: relPath, ext: ext})
	return indexer.Stats{Files: 1}, nil
}

func (f *fakeIndexer) DeleteFile(ctx context.Context, projectID int64, relPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "delete", relPath: relPath})
	return nil
}

func (f *fakeIndexer) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestWatcher(t *testing.T, fake *fakeIndexer) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "main.db")))
	if err != nil {
		t.Fatalf("open main store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := pool.NewMigrationManager(store.DB(), pool.MainMigrations).RunMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	w, err := New(fake, &pool.Pool{Main: store, Code: store}, config.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w, dir
}

func TestResolveProject_LongestPrefixWins(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeIndexer{})
	w.projects = map[int64]project{
		1: {id: 1, root: "/repo"},
		2: {id: 2, root: "/repo/nested"},
	}
	id, root, ok := w.resolveProject("/repo/nested/file.go")
	if !ok || id != 2 || root != "/repo/nested" {
		t.Errorf("expected nested project to win, got id=%d root=%q ok=%v", id, root, ok)
	}

	id, root, ok = w.resolveProject("/repo/file.go")
	if !ok || id != 1 || root != "/repo" {
		t.Errorf("expected outer project, got id=%d root=%q ok=%v", id, root, ok)
	}

	if _, _, ok := w.resolveProject("/other/file.go"); ok {
		t.Error("expected no match for unregistered path")
	}
}

func TestFlushDue_CoalescesAndResolvesTerminalState(t *testing.T) {
	fake := &fakeIndexer{}
	w, dir := newTestWatcher(t, fake)
	w.projects = map[int64]project{1: {id: 1, root: dir}}

	writeFile(t, dir, "a.go", "package a\n")

	old := time.Now().Add(-debounceWindow - time.Second)
	w.pending[pendingKey{projectID: 1, relPath: "a.go"}] = pendingEntry{kind: model.ChangeDeleted, ext: "go", lastSeen: old}

	w.flushDue(context.Background())

	calls := fake.snapshot()
	if len(calls) != 1 || calls[0].kind != "delete" {
		t.Fatalf("expected a single coalesced delete, got %+v", calls)
	}
}

func TestFlushDue_SkipsEntriesWithinDebounceWindow(t *testing.T) {
	fake := &fakeIndexer{}
	w, dir := newTestWatcher(t, fake)
	w.projects = map[int64]project{1: {id: 1, root: dir}}

	w.pending[pendingKey{projectID: 1, relPath: "a.go"}] = pendingEntry{kind: model.ChangeModified, ext: "go", lastSeen: time.Now()}
	w.flushDue(context.Background())

	if calls := fake.snapshot(); len(calls) != 0 {
		t.Errorf("expected no dispatch inside the debounce window, got %+v", calls)
	}
}

func TestHandleEvent_FiltersUnknownExtensionAndSkipDirs(t *testing.T) {
	fake := &fakeIndexer{}
	w, dir := newTestWatcher(t, fake)
	w.projects = map[int64]project{1: {id: 1, root: dir}}

	w.handleEvent(fsnotifyCreate(filepath.Join(dir, "README.md")))
	w.handleEvent(fsnotifyCreate(filepath.Join(dir, "node_modules", "pkg.js")))

	w.pendingMu.Lock()
	n := len(w.pending)
	w.pendingMu.Unlock()
	if n != 0 {
		t.Errorf("expected unmatched paths to produce no pending entries, got %d", n)
	}
}

func TestHandleEvent_DeletedFileDispatchesAsDeleteEvenWithoutFile(t *testing.T) {
	fake := &fakeIndexer{}
	w, dir := newTestWatcher(t, fake)
	w.projects = map[int64]project{1: {id: 1, root: dir}}

	writeFile(t, dir, "a.go", "package a\n")
	w.handleEvent(fsnotifyRemove(filepath.Join(dir, "a.go")))

	w.pendingMu.Lock()
	e, ok := w.pending[pendingKey{projectID: 1, relPath: "a.go"}]
	w.pendingMu.Unlock()
	if !ok || e.kind != model.ChangeDeleted {
		t.Fatalf("expected a pending delete entry for a.go, got %+v ok=%v", e, ok)
	}
}

func TestDispatch_CachesContentForStructuralDiff(t *testing.T) {
	fake := &fakeIndexer{}
	w, dir := newTestWatcher(t, fake)
	w.WithRegistry(parser.NewRegistry())
	w.projects = map[int64]project{1: {id: 1, root: dir}}

	k := pendingKey{projectID: 1, relPath: "a.go"}

	writeFile(t, dir, "a.go", "package a\n\nfunc One() {}\n")
	w.dispatch(context.Background(), k, pendingEntry{kind: model.ChangeModified, ext: "go"})

	w.contentMu.Lock()
	first, ok := w.lastContent[k]
	w.contentMu.Unlock()
	if !ok || string(first) != "package a\n\nfunc One() {}\n" {
		t.Fatalf("expected first dispatch to cache its content, got %q ok=%v", first, ok)
	}

	writeFile(t, dir, "a.go", "package a\n\nfunc One(x int) {}\n")
	w.dispatch(context.Background(), k, pendingEntry{kind: model.ChangeModified, ext: "go"})

	w.contentMu.Lock()
	second := w.lastContent[k]
	w.contentMu.Unlock()
	if string(second) != "package a\n\nfunc One(x int) {}\n" {
		t.Fatalf("expected cache to advance to the latest content, got %q", second)
	}
}

func TestDispatch_ForgetsContentOnDelete(t *testing.T) {
	fake := &fakeIndexer{}
	w, dir := newTestWatcher(t, fake)
	w.WithRegistry(parser.NewRegistry())
	w.projects = map[int64]project{1: {id: 1, root: dir}}

	k := pendingKey{projectID: 1, relPath: "a.go"}
	writeFile(t, dir, "a.go", "package a\n")
	w.dispatch(context.Background(), k, pendingEntry{kind: model.ChangeModified, ext: "go"})

	w.dispatch(context.Background(), k, pendingEntry{kind: model.ChangeDeleted, ext: "go"})

	w.contentMu.Lock()
	_, ok := w.lastContent[k]
	w.contentMu.Unlock()
	if ok {
		t.Fatal("expected delete to clear the cached content")
	}
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}
