// Package analytics implements the Background Health Analyzer (spec §4.I):
// a scheduled scan that derives module dependencies, architectural-pattern
// findings, tech-debt scores, dead-code candidates, and module conventions
// from the symbols/imports/call_graph already sitting in the Code store, and
// writes the result into the Main store's derivative tables in one
// transaction per scan.
//
// Grounded on the teacher pack's internal/graph/edge_detector.go (the
// lookup-map-then-pairwise-edge shape, generalized from observation
// relationships to module dependency edges) and internal/scoring/
// calculator.go (the weighted-factor-sum-to-FinalScore shape, generalized
// from observation importance to a module's tech-debt score). No pack repo
// analyzes code structure itself; the heuristics in patterns.go/debt.go/
// conventions.go are new, built in that borrowed shape.
package analytics

import (
	"path"
	"strings"

	"github.com/mirahq/mira/pkg/model"
)

// ModuleID groups a file under its containing directory, the spec's
// "logical grouping of files typically sharing a path prefix" (GLOSSARY).
func ModuleID(filePath string) string {
	dir := path.Dir(path.Clean(filePath))
	if dir == "." || dir == "/" {
		return "(root)"
	}
	return dir
}

// groupByModule buckets symbols by their file's ModuleID.
func groupByModule(symbols []model.Symbol) map[string][]model.Symbol {
	out := make(map[string][]model.Symbol)
	for _, s := range symbols {
		m := ModuleID(s.FilePath)
		out[m] = append(out[m], s)
	}
	return out
}

// moduleOf looks up the module a symbol ID belongs to via a precomputed
// symbolID -> module index, returning ("", false) for an unknown ID
// (e.g. an unresolved callee_id in a cross-batch edge).
func moduleOfSymbol(id int64, byID map[int64]string) (string, bool) {
	m, ok := byID[id]
	return m, ok
}

// symbolModuleIndex builds the symbolID -> ModuleID lookup used by the
// dependency and dead-code passes.
func symbolModuleIndex(symbols []model.Symbol) map[int64]string {
	out := make(map[int64]string, len(symbols))
	for _, s := range symbols {
		out[s.ID] = ModuleID(s.FilePath)
	}
	return out
}

// isSnakeCase reports whether name looks like snake_case (lowercase with
// underscores, the Python/Rust convention).
func isSnakeCase(name string) bool {
	if !strings.Contains(name, "_") {
		return false
	}
	return name == strings.ToLower(name)
}

// isPascalCase reports whether name starts with an uppercase letter and
// contains no underscores (the Go/Rust-type, TS-class convention).
func isPascalCase(name string) bool {
	if name == "" || strings.Contains(name, "_") {
		return false
	}
	r := name[0]
	return r >= 'A' && r <= 'Z'
}

// isCamelCase reports whether name starts lowercase with no underscores
// (the Go-unexported/JS/TS convention).
func isCamelCase(name string) bool {
	if name == "" || strings.Contains(name, "_") {
		return false
	}
	r := name[0]
	return r >= 'a' && r <= 'z'
}
