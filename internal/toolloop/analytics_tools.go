package toolloop

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// toolGetDependencies, toolGetPatterns, toolGetTechDebt, toolGetDeadCode,
// and toolGetConventions all share the degradation policy spec §4.H names:
// "if no data is available yet for the active project and no health scan
// has ever run, queue a health scan and return a user-facing 'queued'
// message". A project with a completed-but-empty scan (e.g. zero
// dependencies) is distinguished from "never scanned" by
// analytics.HasEverScanned, not by row count alone.

func toolGetDependencies(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	if msg, queued := degradedAnalyticsMessage(ctx, r, projectID); queued {
		return msg, nil
	}
	var sb strings.Builder
	err := r.Pool.Main.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT src_module, tgt_module, dependency_type, call_count, import_count, is_circular
			FROM dependencies WHERE project_id = ? ORDER BY call_count + import_count DESC`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var src, tgt, dtype string
			var calls, imports, circular int
			if err := rows.Scan(&src, &tgt, &dtype, &calls, &imports, &circular); err != nil {
				return err
			}
			circMark := ""
			if circular != 0 {
				circMark = " [circular]"
			}
			fmt.Fprintf(&sb, "%s -> %s (%s, calls=%d, imports=%d)%s\n", src, tgt, dtype, calls, imports, circMark)
		}
		return rows.Err()
	})
	if err != nil {
		return "", err
	}
	if sb.Len() == 0 {
		return "no dependencies found", nil
	}
	return sb.String(), nil
}

func toolGetPatterns(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	if msg, queued := degradedAnalyticsMessage(ctx, r, projectID); queued {
		return msg, nil
	}
	var sb strings.Builder
	err := r.Pool.Main.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT module_id, pattern_name, confidence, evidence
			FROM patterns WHERE project_id = ? ORDER BY confidence DESC`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var moduleID, pattern, evidenceJSON string
			var confidence float64
			if err := rows.Scan(&moduleID, &pattern, &confidence, &evidenceJSON); err != nil {
				return err
			}
			var evidence []string
			_ = json.Unmarshal([]byte(evidenceJSON), &evidence)
			fmt.Fprintf(&sb, "%s: %s (confidence=%.2f) %v\n", moduleID, pattern, confidence, evidence)
		}
		return rows.Err()
	})
	if err != nil {
		return "", err
	}
	if sb.Len() == 0 {
		return "no patterns found", nil
	}
	return sb.String(), nil
}

func toolGetTechDebt(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	if msg, queued := degradedAnalyticsMessage(ctx, r, projectID); queued {
		return msg, nil
	}
	var sb strings.Builder
	err := r.Pool.Main.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT module_id, overall, tier, factors FROM debt_scores
			WHERE project_id = ? ORDER BY overall ASC`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var moduleID, tier, factorsJSON string
			var overall float64
			if err := rows.Scan(&moduleID, &overall, &tier, &factorsJSON); err != nil {
				return err
			}
			fmt.Fprintf(&sb, "%s: tier %s (%.1f/100)\n", moduleID, tier, overall)
			if tier == "D" || tier == "F" {
				var factors []struct {
					Name  string  `json:"Name"`
					Score float64 `json:"Score"`
					Why   string  `json:"Why"`
				}
				if json.Unmarshal([]byte(factorsJSON), &factors) == nil {
					for _, f := range factors {
						fmt.Fprintf(&sb, "  - %s: %.0f (%s)\n", f.Name, f.Score, f.Why)
					}
				}
			}
		}
		return rows.Err()
	})
	if err != nil {
		return "", err
	}
	if sb.Len() == 0 {
		return "no tech debt data found", nil
	}
	return sb.String(), nil
}

func toolGetDeadCode(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	if msg, queued := degradedAnalyticsMessage(ctx, r, projectID); queued {
		return msg, nil
	}
	limit := paramInt(params, "limit", 50)
	findings, err := deadCodeFindings(ctx, r, projectID, limit)
	if err != nil {
		return "", err
	}
	if len(findings) == 0 {
		return "no dead code found", nil
	}
	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "%s (%s)\n", f.name, f.module)
	}
	return sb.String(), nil
}

type deadCodeRow struct{ name, module string }

// deadCodeFindings re-runs the same Code-store query
// internal/analytics.DetectDeadCode uses; the tool layer calls it directly
// rather than reading a derivative table, since dead-code findings are not
// persisted (spec §3 data model lists no dead_code table — only
// dependencies/patterns/debt_scores/module_summaries/module_conventions).
func deadCodeFindings(ctx context.Context, r *Registry, projectID int64, limit int) ([]deadCodeRow, error) {
	var out []deadCodeRow
	err := r.Pool.Code.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT cs.name, cs.file_path
			FROM code_symbols cs
			WHERE cs.project_id = ? AND cs.symbol_type IN ('function', 'method')
			  AND cs.name NOT IN (
			      SELECT DISTINCT cg.callee FROM call_graph cg
			      JOIN code_symbols caller ON caller.id = cg.caller_id
			      WHERE caller.project_id = ?
			  )
			LIMIT ?`, projectID, projectID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name, filePath string
			if err := rows.Scan(&name, &filePath); err != nil {
				return err
			}
			if deadCodeAllowlisted(name) {
				continue
			}
			out = append(out, deadCodeRow{name: name, module: filePath})
		}
		return rows.Err()
	})
	return out, err
}

var deadCodeToolAllowlist = map[string]bool{
	"main": true, "new": true, "New": true, "default": true, "Default": true,
	"drop": true, "Drop": true, "fmt": true, "clone": true, "Clone": true,
	"eq": true, "Eq": true, "hash": true, "Hash": true, "deref": true, "Deref": true,
	"String": true, "Error": true, "init": true,
}

func deadCodeAllowlisted(name string) bool { return deadCodeToolAllowlist[name] }

func toolGetConventions(ctx context.Context, r *Registry, projectID int64, params map[string]interface{}) (string, error) {
	if msg, queued := degradedAnalyticsMessage(ctx, r, projectID); queued {
		return msg, nil
	}
	filePath := paramString(params, "file_path")
	var sb strings.Builder
	err := r.Pool.Main.Interact(ctx, func(db *sql.DB) error {
		q := `SELECT module_id, error_handling, test_pattern, naming, key_imports, detected_patterns
			FROM module_conventions WHERE project_id = ?`
		args := []interface{}{projectID}
		if filePath != "" {
			q += " AND ? LIKE module_id || '%'"
			args = append(args, filePath)
		}
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var moduleID, errHandling, testPattern, naming, keyImportsJSON, detectedJSON string
			if err := rows.Scan(&moduleID, &errHandling, &testPattern, &naming, &keyImportsJSON, &detectedJSON); err != nil {
				return err
			}
			fmt.Fprintf(&sb, "%s: errors=%q tests=%q naming=%q imports=%s patterns=%s\n",
				moduleID, errHandling, testPattern, naming, keyImportsJSON, detectedJSON)
		}
		return rows.Err()
	})
	if err != nil {
		return "", err
	}
	if sb.Len() == 0 {
		return "no conventions found", nil
	}
	return sb.String(), nil
}

