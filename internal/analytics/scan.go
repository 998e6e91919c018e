package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mirahq/mira/internal/pool"
	"github.com/mirahq/mira/pkg/model"
)

// Scanner runs full health scans against a Pool's Code/Main store pair,
// optionally mirroring the dependency graph into FalkorDB.
//
// Grounded on the teacher's internal/pattern/detector.go Start/Stop/
// background-analysis shape (generalized from a ticking candidate-promotion
// loop to an on-demand/scheduled full-project scan) and internal/maintenance/
// service.go's stats bookkeeping.
type Scanner struct {
	Pool   *pool.Pool
	Falkor *FalkorMirror // nil disables graph mirroring
}

// NewScanner builds a Scanner. falkor may be nil.
func NewScanner(p *pool.Pool, falkor *FalkorMirror) *Scanner {
	return &Scanner{Pool: p, Falkor: falkor}
}

// MarkDirty flags a project as needing a health rescan (spec §4.I: "a scan
// needed mark is written whenever the watcher touches a file or the indexer
// finishes a project pass"). It is a no-op if the project is mid-scan —
// scanning wins over a new dirty mark until it finishes.
func MarkDirty(ctx context.Context, main *pool.Store, projectID int64) error {
	return main.Run(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx, `SELECT state FROM health_scan_state WHERE project_id = ?`, projectID).Scan(&state)
		if err == sql.ErrNoRows {
			_, err = tx.ExecContext(ctx, `INSERT INTO health_scan_state(project_id, state) VALUES (?, 'dirty')`, projectID)
			return err
		}
		if err != nil {
			return err
		}
		if state == string(model.ScanScanning) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE health_scan_state SET state = 'dirty' WHERE project_id = ?`, projectID)
		return err
	})
}

// State returns a project's current health-scan state, defaulting to dirty
// (never scanned) if no row exists yet.
func State(ctx context.Context, main *pool.Store, projectID int64) (model.HealthScanState, error) {
	var state string
	err := main.Interact(ctx, func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, `SELECT state FROM health_scan_state WHERE project_id = ?`, projectID).Scan(&state)
		if err == sql.ErrNoRows {
			state = string(model.ScanDirty)
			return nil
		}
		return err
	})
	return model.HealthScanState(state), err
}

// HasEverScanned reports whether scan_info carries a health_scan_time for
// the project — the §4.H degradation policy's "no health scan has ever run"
// check.
func HasEverScanned(ctx context.Context, main *pool.Store, projectID int64) (bool, error) {
	var v string
	err := main.Interact(ctx, func(db *sql.DB) error {
		e := db.QueryRowContext(ctx, `SELECT value FROM scan_info WHERE project_id = ? AND key = 'health_scan_time'`, projectID).Scan(&v)
		if e == sql.ErrNoRows {
			return nil
		}
		return e
	})
	return v != "", err
}

// RunFullScan executes one health scan end to end (spec §4.I): flips
// dirty->scanning, reads the Code store, computes all five derived outputs,
// writes them atomically into the Main store, mirrors the dependency graph
// into FalkorDB if configured, records the scan timestamp, and flips back
// to clean. Any failure leaves the state at "scanning" so the next
// scheduler tick retries rather than silently skipping the project forever
// — callers that want "stuck scan" recovery should call ForceClean first.
func (sc *Scanner) RunFullScan(ctx context.Context, projectID int64) error {
	if err := sc.transition(ctx, model.ScanDirty, model.ScanScanning, projectID); err != nil {
		return err
	}

	symbols, err := loadSymbols(ctx, sc.Pool.Code.DB(), projectID)
	if err != nil {
		return err
	}

	deps, err := ComputeDependencies(ctx, sc.Pool.Code.DB(), projectID)
	if err != nil {
		return err
	}
	dead, err := deadNameSet(ctx, sc.Pool.Code.DB(), projectID)
	if err != nil {
		return err
	}
	fanOut, err := fanOutByName(ctx, sc.Pool.Code.DB(), projectID)
	if err != nil {
		return err
	}
	patterns := DetectPatterns(projectID, symbols)
	debts := ComputeDebt(projectID, symbols, dead, fanOut)
	conventions, err := DetectConventions(ctx, sc.Pool.Code.DB(), projectID, patterns)
	if err != nil {
		return err
	}

	if err := writeScanResults(ctx, sc.Pool.Main, projectID, deps, patterns, debts, conventions); err != nil {
		return err
	}

	if sc.Falkor != nil {
		if err := sc.Falkor.MirrorDependencies(ctx, projectID, deps); err != nil {
			log.Warn().Err(err).Int64("project_id", projectID).Msg("analytics.falkor_mirror_failed")
		}
	}

	return sc.transition(ctx, model.ScanScanning, model.ScanClean, projectID)
}

func (sc *Scanner) transition(ctx context.Context, from, to model.HealthScanState, projectID int64) error {
	return sc.Pool.Main.Run(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE health_scan_state SET state = ? WHERE project_id = ? AND state = ?`, string(to), projectID, string(from))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// First scan ever, or a forced transition from clean for an
			// on-demand rescan: upsert unconditionally.
			_, err = tx.ExecContext(ctx, `
				INSERT INTO health_scan_state(project_id, state) VALUES (?, ?)
				ON CONFLICT(project_id) DO UPDATE SET state = excluded.state`, projectID, string(to))
			return err
		}
		return nil
	})
}

func writeScanResults(ctx context.Context, main *pool.Store, projectID int64, deps []model.DependencyEdge, patterns []model.PatternFinding, debts []model.DebtScore, conventions []model.ModuleConvention) error {
	return main.Run(ctx, func(tx *sql.Tx) error {
		for _, tbl := range []string{"dependencies", "patterns", "debt_scores", "module_conventions"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+tbl+` WHERE project_id = ?`, projectID); err != nil {
				return err
			}
		}

		for _, d := range deps {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dependencies(project_id, src_module, tgt_module, dependency_type, call_count, import_count, is_circular)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				projectID, d.SrcModule, d.TgtModule, string(d.Type), d.CallCount, d.ImportCount, boolToInt(d.IsCircular)); err != nil {
				return err
			}
		}
		for _, p := range patterns {
			evidence, _ := json.Marshal(p.Evidence)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO patterns(project_id, module_id, pattern_name, confidence, evidence)
				VALUES (?, ?, ?, ?, ?)`, projectID, p.ModuleID, p.Pattern, p.Confidence, string(evidence)); err != nil {
				return err
			}
		}
		for _, d := range debts {
			factors, _ := json.Marshal(d.Factors)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO debt_scores(project_id, module_id, overall, tier, factors, line_count, finding_count)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				projectID, d.ModuleID, d.Overall, string(d.Tier), string(factors), d.LineCount, d.FindingCount); err != nil {
				return err
			}
		}
		for _, c := range conventions {
			keyImports, _ := json.Marshal(c.KeyImports)
			detected, _ := json.Marshal(c.DetectedPatterns)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO module_conventions(project_id, module_id, error_handling, test_pattern, naming, key_imports, detected_patterns)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				projectID, c.ModuleID, c.ErrorHandling, c.TestPattern, c.Naming, string(keyImports), string(detected)); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scan_info(project_id, key, value) VALUES (?, 'health_scan_time', ?)
			ON CONFLICT(project_id, key) DO UPDATE SET value = excluded.value`,
			projectID, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
