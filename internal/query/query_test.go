package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirahq/mira/internal/pool"
)

func newTestEngine(t *testing.T) (*Engine, string, int64) {
	t.Helper()
	dir := t.TempDir()

	main, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "main.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = main.Close() })
	require.NoError(t, pool.NewMigrationManager(main.DB(), pool.MainMigrations).RunMigrations(context.Background()))

	code, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "code.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = code.Close() })
	require.NoError(t, pool.NewMigrationManager(code.DB(), pool.CodeMigrations).RunMigrations(context.Background()))

	res, err := main.DB().Exec(`INSERT INTO projects (path, name, created_at) VALUES (?, ?, ?)`, dir, "proj", "2026-01-01")
	require.NoError(t, err)
	projectID, err := res.LastInsertId()
	require.NoError(t, err)

	return New(&pool.Pool{Main: main, Code: code}, nil), dir, projectID
}

func insertSymbol(t *testing.T, e *Engine, projectID int64, filePath, kind, name string, start, end int) int64 {
	t.Helper()
	res, err := e.Pool.Code.DB().Exec(`
		INSERT INTO code_symbols (project_id, file_path, name, symbol_type, start_line, end_line, language)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, projectID, filePath, name, kind, start, end, "go")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestExpand_FindsEnclosingSymbolAndReplacesContent(t *testing.T) {
	e, root, projectID := newTestEngine(t)

	insertSymbol(t, e, projectID, "a.go", "function", "Outer", 1, 10)
	insertSymbol(t, e, projectID, "a.go", "function", "Inner", 4, 6)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte(
		"package a\n\nfunc Outer() {\n\tfunc Inner() {\n\t\treturn\n\t}\n}\n\nfunc other() {}\n"),
		0o644))

	results, err := e.expand(context.Background(), projectID, []Result{
		{FilePath: "a.go", StartLine: 5, Score: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// narrowest enclosing range (Inner, 4-6) wins over the wider Outer (1-10)
	require.Equal(t, "function Inner (lines 4-6)", results[0].SymbolInfo)
	require.Equal(t, "func Inner() {\n\t\treturn\n\t}", results[0].Content)
}

func TestExpand_NoEnclosingSymbolLeavesResultUnchanged(t *testing.T) {
	e, _, projectID := newTestEngine(t)
	insertSymbol(t, e, projectID, "a.go", "function", "Outer", 1, 10)

	results, err := e.expand(context.Background(), projectID, []Result{
		{FilePath: "b.go", StartLine: 2, Content: "orig", Score: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "", results[0].SymbolInfo)
	require.Equal(t, "orig", results[0].Content)
}

func TestFindFunctionCallers_MatchesUnresolvedCalleeIDAcrossFiles(t *testing.T) {
	e, _, projectID := newTestEngine(t)

	callerID := insertSymbol(t, e, projectID, "a.go", "function", "DoWork", 1, 5)
	// Target symbol lives in a different file/batch; callee_id is never
	// resolved (indexer/persist.go only resolves it within one flush batch).
	insertSymbol(t, e, projectID, "b.go", "function", "Helper", 1, 3)

	_, err := e.Pool.Code.DB().Exec(`
		INSERT INTO call_graph (caller_id, callee, callee_id, call_line, call_type)
		VALUES (?, ?, NULL, ?, ?)`, callerID, "Helper", 3, "direct")
	require.NoError(t, err)

	out, err := e.FindFunctionCallers(context.Background(), projectID, "Helper", 10, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "DoWork", out[0].Name)
	require.Equal(t, "a.go", out[0].FilePath)
	require.Equal(t, 1, out[0].CallCount)
}

func TestFindFunctionCallers_Callees(t *testing.T) {
	e, _, projectID := newTestEngine(t)

	callerID := insertSymbol(t, e, projectID, "a.go", "function", "DoWork", 1, 5)

	_, err := e.Pool.Code.DB().Exec(`
		INSERT INTO call_graph (caller_id, callee, callee_id, call_line, call_type)
		VALUES (?, ?, NULL, ?, ?)`, callerID, "Helper", 3, "direct")
	require.NoError(t, err)

	out, err := e.FindFunctionCallers(context.Background(), projectID, "DoWork", 10, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "Helper", out[0].Name)
}
