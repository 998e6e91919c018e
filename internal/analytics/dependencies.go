package analytics

import (
	"context"
	"database/sql"

	"github.com/mirahq/mira/pkg/model"
)

// pairKey identifies one ordered (src, tgt) module pair.
type pairKey struct{ src, tgt string }

// ComputeDependencies derives the module dependency graph (spec §4.I
// "Dependencies"): for each ordered pair of modules, aggregate call_count
// (call edges crossing modules) and import_count (internal imports crossing
// modules), then mark an edge circular iff its reverse also exists.
func ComputeDependencies(ctx context.Context, codeDB *sql.DB, projectID int64) ([]model.DependencyEdge, error) {
	symbols, err := loadSymbols(ctx, codeDB, projectID)
	if err != nil {
		return nil, err
	}
	byID := symbolModuleIndex(symbols)

	edges := make(map[pairKey]*model.DependencyEdge)
	get := func(src, tgt string) *model.DependencyEdge {
		if src == tgt {
			return nil
		}
		k := pairKey{src, tgt}
		e, ok := edges[k]
		if !ok {
			e = &model.DependencyEdge{ProjectID: projectID, SrcModule: src, TgtModule: tgt}
			edges[k] = e
		}
		return e
	}

	rows, err := codeDB.QueryContext(ctx, `
		SELECT cs.id, cg.callee_id
		FROM call_graph cg
		JOIN code_symbols cs ON cs.id = cg.caller_id
		WHERE cs.project_id = ? AND cg.callee_id IS NOT NULL`, projectID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var callerID int64
		var calleeID sql.NullInt64
		if err := rows.Scan(&callerID, &calleeID); err != nil {
			rows.Close()
			return nil, err
		}
		if !calleeID.Valid {
			continue
		}
		src, ok1 := moduleOfSymbol(callerID, byID)
		tgt, ok2 := moduleOfSymbol(calleeID.Int64, byID)
		if !ok1 || !ok2 {
			continue
		}
		if e := get(src, tgt); e != nil {
			e.CallCount++
		}
	}
	rows.Close()

	// Internal imports crossing modules: resolve each import_path against
	// the set of known module IDs by longest-suffix match, the same cheap
	// heuristic spec §4.B uses for the external/internal split itself.
	moduleSet := make([]string, 0, 8)
	seen := map[string]bool{}
	for _, m := range byID {
		if !seen[m] {
			seen[m] = true
			moduleSet = append(moduleSet, m)
		}
	}

	irows, err := codeDB.QueryContext(ctx, `
		SELECT file_path, import_path FROM imports WHERE project_id = ? AND is_external = 0`, projectID)
	if err != nil {
		return nil, err
	}
	for irows.Next() {
		var filePath, importPath string
		if err := irows.Scan(&filePath, &importPath); err != nil {
			irows.Close()
			return nil, err
		}
		src := ModuleID(filePath)
		tgt := resolveImportModule(importPath, moduleSet)
		if tgt == "" {
			continue
		}
		if e := get(src, tgt); e != nil {
			e.ImportCount++
		}
	}
	irows.Close()

	out := make([]model.DependencyEdge, 0, len(edges))
	for k, e := range edges {
		if _, ok := edges[pairKey{k.tgt, k.src}]; ok {
			e.IsCircular = true
		}
		switch {
		case e.CallCount > 0 && e.ImportCount > 0:
			e.Type = model.DependencyMixed
		case e.ImportCount > 0:
			e.Type = model.DependencyImport
		default:
			e.Type = model.DependencyCall
		}
		out = append(out, *e)
	}
	return out, nil
}

// resolveImportModule matches an internal import path against the longest
// known module-path suffix, e.g. import "internal/pool" resolves to the
// module ID "internal/pool" if that directory was actually indexed.
func resolveImportModule(importPath string, modules []string) string {
	best := ""
	for _, m := range modules {
		if pathHasSuffix(importPath, m) && len(m) > len(best) {
			best = m
		}
	}
	return best
}

func pathHasSuffix(path, suffix string) bool {
	if suffix == "" {
		return false
	}
	if path == suffix {
		return true
	}
	if len(path) > len(suffix) && path[len(path)-len(suffix)-1] == '/' {
		return path[len(path)-len(suffix):] == suffix
	}
	return false
}

func loadSymbols(ctx context.Context, codeDB *sql.DB, projectID int64) ([]model.Symbol, error) {
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
