package analytics

import (
	"context"
	"database/sql"

	"github.com/mirahq/mira/pkg/model"
)

// deadCodeAllowlist are language-meaningful names that are "called" by
// convention (compiler entry points, trait/interface methods invoked by a
// runtime, not by a textual call site) and must never be flagged, per
// spec §9's conservative-bias note on unresolved callees.
var deadCodeAllowlist = map[string]bool{
	"main": true, "new": true, "New": true, "default": true, "Default": true,
	"drop": true, "Drop": true, "fmt": true, "clone": true, "Clone": true,
	"eq": true, "Eq": true, "hash": true, "Hash": true, "deref": true, "Deref": true,
	"String": true, "Error": true, "init": true,
}

// DeadCodeFinding is one unreferenced function/method candidate.
type DeadCodeFinding struct {
	Symbol   model.Symbol
	ModuleID string
}

// DetectDeadCode finds function/method symbols that no call_graph row
// references by name, filtered against deadCodeAllowlist (spec §4.I "Dead
// code"). Per spec §9, a row is matched by callee *name*, so a function
// invoked only through a macro or dynamic dispatch site still counts as
// reachable — a deliberate conservative bias, not a bug.
func DetectDeadCode(ctx context.Context, codeDB *sql.DB, projectID int64, limit int) ([]DeadCodeFinding, error) {
	symbols, err := loadSymbols(ctx, codeDB, projectID)
	if err != nil {
		return nil, err
	}
	referenced, err := referencedCalleeNames(ctx, codeDB, projectID)
	if err != nil {
		return nil, err
	}

	var out []DeadCodeFinding
	for _, s := range symbols {
		if s.Kind != model.KindFunction && s.Kind != model.KindMethod {
			continue
		}
		if deadCodeAllowlist[s.Name] || referenced[s.Name] {
			continue
		}
		out = append(out, DeadCodeFinding{Symbol: s, ModuleID: ModuleID(s.FilePath)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// deadNameSet is the cheap map[name]bool form DetectDeadCode's caller in
// debt.go needs to price dead-code into a module's factor score; it reuses
// the same referenced-names computation without a limit.
func deadNameSet(ctx context.Context, codeDB *sql.DB, projectID int64) (map[string]bool, error) {
	symbols, err := loadSymbols(ctx, codeDB, projectID)
	if err != nil {
		return nil, err
	}
	referenced, err := referencedCalleeNames(ctx, codeDB, projectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, s := range symbols {
		if s.Kind != model.KindFunction && s.Kind != model.KindMethod {
			continue
		}
		if !deadCodeAllowlist[s.Name] && !referenced[s.Name] {
			out[s.Name] = true
		}
	}
	return out, nil
}

func referencedCalleeNames(ctx context.Context, codeDB *sql.DB, projectID int64) (map[string]bool, error) {
	rows, err := codeDB.QueryContext(ctx, `
		SELECT DISTINCT cg.callee
		FROM call_graph cg
		JOIN code_symbols cs ON cs.id = cg.caller_id
		WHERE cs.project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var callee string
		if err := rows.Scan(&callee); err != nil {
			return nil, err
		}
		out[callee] = true
	}
	return out, rows.Err()
}

// fanOutByName computes each caller symbol's resolved + unresolved callee
// count, keyed by caller name, for debt.go's fan_out factor.
func fanOutByName(ctx context.Context, codeDB *sql.DB, projectID int64) (map[string]int, error) {
	rows, err := codeDB.QueryContext(ctx, `
		SELECT cs.name, COUNT(*)
		FROM call_graph cg
		JOIN code_symbols cs ON cs.id = cg.caller_id
		WHERE cs.project_id = ?
		GROUP BY cs.name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}
