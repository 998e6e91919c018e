package analytics

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/mirahq/mira/internal/pool"
	"github.com/mirahq/mira/pkg/model"
)

func newTestCodeStore(t *testing.T) *pool.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "code.db")))
	if err != nil {
		t.Fatalf("open code store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := pool.NewMigrationManager(store.DB(), pool.CodeMigrations).RunMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return store
}

func newTestMainStore(t *testing.T) *pool.Store {
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
	return store
}

func insertSymbol(t *testing.T, store *pool.Store, projectID int64, filePath, name string, kind model.SymbolKind, start, end int, sig, doc string, isTest bool) int64 {
	t.Helper()
	var id int64
	err := store.Run(context.Background(), func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO code_symbols(project_id, file_path, name, symbol_type, start_line, end_line, signature, language, visibility, is_test, is_async, documentation, qualified_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'go', 'public', ?, 0, ?, ?)`,
			projectID, filePath, name, string(kind), start, end, sig, boolToInt(isTest), doc, name)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		t.Fatalf("insert symbol: %v", err)
	}
	return id
}

func insertCall(t *testing.T, store *pool.Store, callerID int64, calleeName string, calleeID *int64) {
	t.Helper()
	err := store.Run(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO call_graph(caller_id, callee, callee_id, call_line, call_type) VALUES (?, ?, ?, 1, 'direct')`,
			callerID, calleeName, calleeID)
		return err
	})
	if err != nil {
		t.Fatalf("insert call: %v", err)
	}
}

func TestComputeDependencies_DetectsCircular(t *testing.T) {
	store := newTestCodeStore(t)
	ctx := context.Background()

	a := insertSymbol(t, store, 1, "a/a.go", "FuncA", model.KindFunction, 1, 5, "func FuncA()", "", false)
	b := insertSymbol(t, store, 1, "b/b.go", "FuncB", model.KindFunction, 1, 5, "func FuncB()", "", false)
	insertCall(t, store, a, "FuncB", &b)
	insertCall(t, store, b, "FuncA", &a)

	edges, err := ComputeDependencies(ctx, store.DB(), 1)
	if err != nil {
		t.Fatalf("ComputeDependencies: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d: %+v", len(edges), edges)
	}
	for _, e := range edges {
		if !e.IsCircular {
			t.Errorf("expected edge %s->%s to be circular", e.SrcModule, e.TgtModule)
		}
	}
}

func TestComputeDependencies_NoSelfEdges(t *testing.T) {
	store := newTestCodeStore(t)
	ctx := context.Background()

	a := insertSymbol(t, store, 1, "a/a.go", "FuncA", model.KindFunction, 1, 5, "func FuncA()", "", false)
	a2 := insertSymbol(t, store, 1, "a/a2.go", "FuncA2", model.KindFunction, 1, 5, "func FuncA2()", "", false)
	insertCall(t, store, a, "FuncA2", &a2)

	edges, err := ComputeDependencies(ctx, store.DB(), 1)
	if err != nil {
		t.Fatalf("ComputeDependencies: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected no cross-module edges within the same module, got %+v", edges)
	}
}

func TestDetectDeadCode_AllowlistAndReferencedAreExcluded(t *testing.T) {
	store := newTestCodeStore(t)
	ctx := context.Background()

	used := insertSymbol(t, store, 1, "a/a.go", "Used", model.KindFunction, 1, 5, "func Used()", "", false)
	caller := insertSymbol(t, store, 1, "a/a.go", "Caller", model.KindFunction, 7, 10, "func Caller()", "", false)
	insertCall(t, store, caller, "Used", &used)
	insertSymbol(t, store, 1, "a/a.go", "main", model.KindFunction, 12, 14, "func main()", "", false)
	insertSymbol(t, store, 1, "a/a.go", "Orphan", model.KindFunction, 16, 18, "func Orphan()", "", false)

	findings, err := DetectDeadCode(ctx, store.DB(), 1, 0)
	if err != nil {
		t.Fatalf("DetectDeadCode: %v", err)
	}
	if len(findings) != 1 || findings[0].Symbol.Name != "Orphan" {
		t.Fatalf("expected only Orphan flagged, got %+v", findings)
	}
}

func TestComputeDebt_TierReflectsDeadCodeAndLength(t *testing.T) {
	store := newTestCodeStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		insertSymbol(t, store, 1, "a/a.go", "Fn"+string(rune('A'+i)), model.KindFunction, 1, 120, "func Fn()", "", false)
	}
	symbols, err := loadSymbols(ctx, store.DB(), 1)
	if err != nil {
		t.Fatalf("loadSymbols: %v", err)
	}
	dead, err := deadNameSet(ctx, store.DB(), 1)
	if err != nil {
		t.Fatalf("deadNameSet: %v", err)
	}
	fanOut, err := fanOutByName(ctx, store.DB(), 1)
	if err != nil {
		t.Fatalf("fanOutByName: %v", err)
	}

	scores := ComputeDebt(1, symbols, dead, fanOut)
	if len(scores) != 1 {
		t.Fatalf("expected 1 module score, got %d", len(scores))
	}
	if scores[0].Tier != model.TierD && scores[0].Tier != model.TierF {
		t.Errorf("expected a poor tier for long undocumented dead functions, got %v (overall=%.1f)", scores[0].Tier, scores[0].Overall)
	}
}

func TestDetectPatterns_RepositoryPattern(t *testing.T) {
	store := newTestCodeStore(t)
	ctx := context.Background()

	insertSymbol(t, store, 1, "a/store.go", "UserStore", model.KindStruct, 1, 3, "", "", false)
	insertSymbol(t, store, 1, "a/store.go", "Get", model.KindMethod, 5, 7, "func (s *UserStore) Get()", "", false)
	insertSymbol(t, store, 1, "a/store.go", "Save", model.KindMethod, 9, 11, "func (s *UserStore) Save()", "", false)
	insertSymbol(t, store, 1, "a/store.go", "Delete", model.KindMethod, 13, 15, "func (s *UserStore) Delete()", "", false)

	symbols, err := loadSymbols(ctx, store.DB(), 1)
	if err != nil {
		t.Fatalf("loadSymbols: %v", err)
	}
	findings := DetectPatterns(1, symbols)
	var found bool
	for _, f := range findings {
		if f.Pattern == "repository pattern" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected repository pattern finding, got %+v", findings)
	}
}

func TestMarkDirtyAndState(t *testing.T) {
	main := newTestMainStore(t)
	ctx := context.Background()

	state, err := State(ctx, main, 1)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != model.ScanDirty {
		t.Errorf("expected default state dirty, got %v", state)
	}

	if err := MarkDirty(ctx, main, 1); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	state, err = State(ctx, main, 1)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != model.ScanDirty {
		t.Errorf("expected dirty after MarkDirty, got %v", state)
	}
}

func TestScanner_RunFullScan_EndToEnd(t *testing.T) {
	code := newTestCodeStore(t)
	main := newTestMainStore(t)
	ctx := context.Background()

	a := insertSymbol(t, code, 1, "a/a.go", "FuncA", model.KindFunction, 1, 5, "func FuncA() error", "does a thing", false)
	b := insertSymbol(t, code, 1, "b/b.go", "FuncB", model.KindFunction, 1, 5, "func FuncB() error", "", false)
	insertCall(t, code, a, "FuncB", &b)

	p := &pool.Pool{Main: main, Code: code}
	sc := NewScanner(p, nil)

	if err := sc.RunFullScan(ctx, 1); err != nil {
		t.Fatalf("RunFullScan: %v", err)
	}

	state, err := State(ctx, main, 1)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != model.ScanClean {
		t.Errorf("expected clean after scan, got %v", state)
	}

	ever, err := HasEverScanned(ctx, main, 1)
	if err != nil {
		t.Fatalf("HasEverScanned: %v", err)
	}
	if !ever {
		t.Error("expected HasEverScanned true after RunFullScan")
	}

	var depCount int
	if err := main.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM dependencies WHERE project_id = 1`).Scan(&depCount); err != nil {
		t.Fatalf("count dependencies: %v", err)
	}
	if depCount != 1 {
		t.Errorf("expected 1 dependency row, got %d", depCount)
	}
}
