package cache

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/mirahq/mira/pkg/model"
)

// FuzzySymbol is a per-project symbol-name index used by the hybrid query
// engine's keyword/fuzzy fallback path (spec §4.H, §4.L). It is invalidated
// wholesale on (a) the watcher completing a reindex of a file in that
// project, (b) a full project reindex, (c) a manual invalidate — mirroring
// the per-(project,file) clear-then-rewrite discipline spec §3 assigns to
// symbols themselves, one level up.
type FuzzySymbol struct {
	mu      sync.RWMutex
	byProj  map[int64][]model.Symbol
	loaders map[int64]*sync.Once
}

// NewFuzzySymbol builds an empty cache.
func NewFuzzySymbol() *FuzzySymbol {
	return &FuzzySymbol{
		byProj:  make(map[int64][]model.Symbol),
		loaders: make(map[int64]*sync.Once),
	}
}

// Lookup returns symbols whose name contains substr (case-insensitive),
// loading the project's full symbol set from codeDB on first access and
// reusing it on subsequent calls until invalidated.
func (f *FuzzySymbol) Lookup(ctx context.Context, codeDB *sql.DB, projectID int64, substr string, limit int) ([]model.Symbol, error) {
	syms, err := f.ensureLoaded(ctx, codeDB, projectID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(substr)
	var out []model.Symbol
	for _, s := range syms {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			out = append(out, s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *FuzzySymbol) ensureLoaded(ctx context.Context, codeDB *sql.DB, projectID int64) ([]model.Symbol, error) {
	f.mu.RLock()
	syms, ok := f.byProj[projectID]
	f.mu.RUnlock()
	if ok {
		return syms, nil
	}

	f.mu.Lock()
	once, ok := f.loaders[projectID]
	if !ok {
		once = &sync.Once{}
		f.loaders[projectID] = once
	}
	f.mu.Unlock()

	var loadErr error
	once.Do(func() {
		loaded, err := loadAllSymbols(ctx, codeDB, projectID)
		if err != nil {
			loadErr = err
			return
		}
		f.mu.Lock()
		f.byProj[projectID] = loaded
		f.mu.Unlock()
	})
	if loadErr != nil {
		f.mu.Lock()
		delete(f.loaders, projectID)
		f.mu.Unlock()
		return nil, loadErr
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.byProj[projectID], nil
}

// Invalidate drops a project's cached symbol set; the next Lookup reloads
// it from the code store.
func (f *FuzzySymbol) Invalidate(projectID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byProj, projectID)
	delete(f.loaders, projectID)
}

// InvalidateAll drops every project's cached symbol set.
func (f *FuzzySymbol) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byProj = make(map[int64][]model.Symbol)
	f.loaders = make(map[int64]*sync.Once)
}

func loadAllSymbols(ctx context.Context, codeDB *sql.DB, projectID int64) ([]model.Symbol, error) {
	rows, err := codeDB.QueryContext(ctx, `
		SELECT id, file_path, name, symbol_type, start_line, end_line,
		       COALESCE(signature, ''), COALESCE(qualified_name, ''), language,
		       COALESCE(visibility, ''), is_test, is_async, COALESCE(documentation, '')
		FROM code_symbols WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Symbol
	for rows.Next() {
		var s model.Symbol
		var kind string
		var isTest, isAsync int
		if err := rows.Scan(&s.ID, &s.FilePath, &s.Name, &kind, &s.StartLine, &s.EndLine,
			&s.Signature, &s.QualifiedName, &s.Language, &s.Visibility, &isTest, &isAsync, &s.Documentation); err != nil {
			return nil, err
		}
		s.ProjectID = projectID
		s.Kind = model.SymbolKind(kind)
		s.IsTest = isTest != 0
		s.IsAsync = isAsync != 0
		out = append(out, s)
	}
	return out, rows.Err()
}
