package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/embedclient"
	"github.com/mirahq/mira/internal/parser"
	"github.com/mirahq/mira/internal/pool"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()

	dir := t.TempDir()
	codeStore, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "code.db")))
	if err != nil {
		t.Fatalf("open code store: %v", err)
	}
	t.Cleanup(func() { _ = codeStore.Close() })

	if err := pool.NewMigrationManager(codeStore.DB(), pool.CodeMigrations).RunMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	p := &pool.Pool{Main: codeStore, Code: codeStore}
	cfg := config.Default()
	embed := embedclient.New(embedclient.Config{}) // no API key: Enabled() is false, embedding is skipped
	return New(p, parser.NewRegistry(), embed, cfg)
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func countRows(t *testing.T, idx *Indexer, table string, projectID int64) int {
	t.Helper()
	var n int
	row := idx.Pool.Code.DB().QueryRow("SELECT COUNT(*) FROM "+table+" WHERE project_id = ?", projectID)
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestIndexProject_ParsesAndPersistsSymbols(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n")
	writeFile(t, root, "vendor/skip.go", "package vendor\n\nfunc Skipped() {}\n")

	idx := newTestIndexer(t)
	stats, err := idx.IndexProject(context.Background(), 1, root)
	if err != nil {
		t.Fatalf("IndexProject() error = %v", err)
	}
	if stats.Files != 1 {
		t.Errorf("expected 1 file indexed (vendor pruned), got %d", stats.Files)
	}
	if stats.Symbols != 1 {
		t.Errorf("expected 1 symbol, got %d", stats.Symbols)
	}
	if n := countRows(t, idx, "code_symbols", 1); n != 1 {
		t.Errorf("expected 1 persisted symbol row, got %d", n)
	}
}

func TestIndexProject_ClearsPreviousRun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	idx := newTestIndexer(t)
	ctx := context.Background()
	if _, err := idx.IndexProject(ctx, 1, root); err != nil {
		t.Fatalf("first IndexProject() error = %v", err)
	}

	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\nfunc B() {}\n")
	if _, err := idx.IndexProject(ctx, 1, root); err != nil {
		t.Fatalf("second IndexProject() error = %v", err)
	}
	if n := countRows(t, idx, "code_symbols", 1); n != 2 {
		t.Errorf("expected re-index to replace rows, got %d symbol rows", n)
	}
}

func TestIndexFile_IncrementalReplacesSingleFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	writeFile(t, root, "b.go", "package a\n\nfunc B() {}\n")

	idx := newTestIndexer(t)
	ctx := context.Background()
	if _, err := idx.IndexProject(ctx, 1, root); err != nil {
		t.Fatalf("IndexProject() error = %v", err)
	}

	newContent := "package a\n\nfunc A() {}\nfunc AA() {}\n"
	if _, err := idx.IndexFile(ctx, 1, "a.go", "go", []byte(newContent)); err != nil {
		t.Fatalf("IndexFile() error = %v", err)
	}
	if n := countRows(t, idx, "code_symbols", 1); n != 3 { // A, AA, B
		t.Errorf("expected 3 symbols after incremental update, got %d", n)
	}
}

func TestDeleteFile_RemovesSymbols(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	idx := newTestIndexer(t)
	ctx := context.Background()
	if _, err := idx.IndexProject(ctx, 1, root); err != nil {
		t.Fatalf("IndexProject() error = %v", err)
	}
	if err := idx.DeleteFile(ctx, 1, "a.go"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	if n := countRows(t, idx, "code_symbols", 1); n != 0 {
		t.Errorf("expected 0 symbols after delete, got %d", n)
	}
}

func TestParsePhase_CountsParseErrorsWithoutAborting(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "good.go", "package a\n\nfunc Good() {}\n")
	writeFile(t, root, "bad.unknown", "not a real source file")

	idx := newTestIndexer(t)
	files, err := Walk(root, idx.Config)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected Walk to select only good.go, got %d files", len(files))
	}
}
