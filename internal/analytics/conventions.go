package analytics

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/mirahq/mira/pkg/model"
)

// DetectConventions surveys each module's symbols/imports for
// {error_handling, test_pattern, naming, key_imports, detected_patterns}
// (spec §4.I "Conventions").
func DetectConventions(ctx context.Context, codeDB *sql.DB, projectID int64, patterns []model.PatternFinding) ([]model.ModuleConvention, error) {
	symbols, err := loadSymbols(ctx, codeDB, projectID)
	if err != nil {
		return nil, err
	}
	imports, err := loadImports(ctx, codeDB, projectID)
	if err != nil {
		return nil, err
	}

	patternsByModule := make(map[string][]string)
	for _, p := range patterns {
		patternsByModule[p.ModuleID] = append(patternsByModule[p.ModuleID], p.Pattern)
	}
	importsByModule := make(map[string]map[string]int)
	for _, imp := range imports {
		if !imp.IsExternal {
			continue
		}
		m := ModuleID(imp.FilePath)
		if importsByModule[m] == nil {
			importsByModule[m] = map[string]int{}
		}
		importsByModule[m][imp.ImportPath]++
	}

	var out []model.ModuleConvention
	for moduleID, syms := range groupByModule(symbols) {
		out = append(out, model.ModuleConvention{
			ProjectID:        projectID,
			ModuleID:         moduleID,
			ErrorHandling:    errorHandlingConvention(syms),
			TestPattern:      testPatternConvention(syms),
			Naming:           namingConvention(syms),
			KeyImports:       topImports(importsByModule[moduleID], 5),
			DetectedPatterns: patternsByModule[moduleID],
		})
	}
	return out, nil
}

// errorHandlingConvention reads each language's idiomatic error-return shape
// straight out of already-parsed signatures, no re-parsing needed.
func errorHandlingConvention(syms []model.Symbol) string {
	var goErrs, rustResults, total int
	for _, s := range syms {
		if s.Kind != model.KindFunction && s.Kind != model.KindMethod {
			continue
		}
		total++
		switch s.Language {
		case "go":
			if strings.Contains(s.Signature, ") error") || strings.Contains(s.Signature, ", error)") {
				goErrs++
			}
		case "rust":
			if strings.Contains(s.Signature, "Result<") || strings.Contains(s.Signature, "Option<") {
				rustResults++
			}
		}
	}
	switch {
	case total == 0:
		return "not detected"
	case goErrs > total/3:
		return "wrapped errors (explicit error return)"
	case rustResults > total/3:
		return "Result/Option-style"
	default:
		return "not detected"
	}
}

func testPatternConvention(syms []model.Symbol) string {
	files := map[string]int{}
	tests := 0
	for _, s := range syms {
		if !s.IsTest {
			continue
		}
		tests++
		files[s.FilePath]++
	}
	if tests == 0 {
		return "none detected"
	}
	var maxPerFile int
	for _, n := range files {
		if n > maxPerFile {
			maxPerFile = n
		}
	}
	if maxPerFile >= 3 {
		return "table-driven / many cases per file"
	}
	return "one test per behavior"
}

func namingConvention(syms []model.Symbol) string {
	var snake, pascal, camel int
	for _, s := range syms {
		switch {
		case isSnakeCase(s.Name):
			snake++
		case isPascalCase(s.Name):
			pascal++
		case isCamelCase(s.Name):
			camel++
		}
	}
	switch {
	case snake >= pascal && snake >= camel && snake > 0:
		return "snake_case"
	case pascal >= camel && pascal > 0:
		return "PascalCase"
	case camel > 0:
		return "camelCase"
	default:
		return "mixed"
	}
}

func topImports(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	kvs := make([]kv, 0, len(counts))
	for k, v := range counts {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].v > kvs[j].v })
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, len(kvs))
	for i, e := range kvs {
		out[i] = e.k
	}
	return out
}

func loadImports(ctx context.Context, codeDB *sql.DB, projectID int64) ([]model.Import, error) {
	rows, err := codeDB.QueryContext(ctx, `
		SELECT file_path, import_path, is_external FROM imports WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Import
	for rows.Next() {
		var imp model.Import
		var ext int
		if err := rows.Scan(&imp.FilePath, &imp.ImportPath, &ext); err != nil {
			return nil, err
		}
		imp.ProjectID = projectID
		imp.IsExternal = ext != 0
		out = append(out, imp)
	}
	return out, rows.Err()
}
