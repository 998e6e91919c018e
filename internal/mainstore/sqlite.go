package mainstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mirahq/mira/internal/pool"
	"github.com/mirahq/mira/pkg/model"
)

// SQLiteBackend wraps internal/pool.Store as a Backend — the default,
// single-host topology spec §6 describes.
type SQLiteBackend struct {
	store *pool.Store
}

// NewSQLiteBackend adopts an already-opened (and migrated) Main store.
func NewSQLiteBackend(store *pool.Store) *SQLiteBackend {
	return &SQLiteBackend{store: store}
}

func (b *SQLiteBackend) GetOrCreateProject(ctx context.Context, path, name string) (*model.Project, error) {
	var proj model.Project
	err := b.store.Run(ctx, func(tx *sql.Tx) error {
		var createdAt string
		err := tx.QueryRowContext(ctx, `SELECT id, path, name, created_at FROM projects WHERE path = ?`, path).
			Scan(&proj.ID, &proj.Path, &proj.Name, &createdAt)
		if err == nil {
			proj.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `INSERT INTO projects(path, name, created_at) VALUES (?, ?, ?)`,
			path, name, now.Format(time.RFC3339))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		proj = model.Project{ID: id, Path: path, Name: name, CreatedAt: now}
		return nil
	})
	return &proj, err
}

func (b *SQLiteBackend) GetProject(ctx context.Context, projectID int64) (*model.Project, error) {
	var proj model.Project
	var createdAt string
	err := b.store.Interact(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT id, path, name, created_at FROM projects WHERE id = ?`, projectID).
			Scan(&proj.ID, &proj.Path, &proj.Name, &createdAt)
	})
	if err != nil {
		return nil, err
	}
	proj.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &proj, nil
}

func (b *SQLiteBackend) WriteDependencies(ctx context.Context, projectID int64, edges []model.DependencyEdge) error {
	return b.store.Run(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE project_id = ?`, projectID); err != nil {
			return err
		}
		for _, d := range edges {
			circ := 0
			if d.IsCircular {
				circ = 1
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dependencies(project_id, src_module, tgt_module, dependency_type, call_count, import_count, is_circular)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				projectID, d.SrcModule, d.TgtModule, string(d.Type), d.CallCount, d.ImportCount, circ); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) WritePatterns(ctx context.Context, projectID int64, findings []model.PatternFinding) error {
	return b.store.Run(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE project_id = ?`, projectID); err != nil {
			return err
		}
		for _, p := range findings {
			evidence, _ := json.Marshal(p.Evidence)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO patterns(project_id, module_id, pattern_name, confidence, evidence)
				VALUES (?, ?, ?, ?, ?)`, projectID, p.ModuleID, p.Pattern, p.Confidence, string(evidence)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) WriteDebtScores(ctx context.Context, projectID int64, scores []model.DebtScore) error {
	return b.store.Run(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM debt_scores WHERE project_id = ?`, projectID); err != nil {
			return err
		}
		for _, d := range scores {
			factors, _ := json.Marshal(d.Factors)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO debt_scores(project_id, module_id, overall, tier, factors, line_count, finding_count)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				projectID, d.ModuleID, d.Overall, string(d.Tier), string(factors), d.LineCount, d.FindingCount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) WriteConventions(ctx context.Context, projectID int64, conventions []model.ModuleConvention) error {
	return b.store.Run(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM module_conventions WHERE project_id = ?`, projectID); err != nil {
			return err
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
		return nil
	})
}

func (b *SQLiteBackend) Dependencies(ctx context.Context, projectID int64) ([]model.DependencyEdge, error) {
	var out []model.DependencyEdge
	err := b.store.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT src_module, tgt_module, dependency_type, call_count, import_count, is_circular FROM dependencies WHERE project_id = ?`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d model.DependencyEdge
			var dtype string
			var circ int
			if err := rows.Scan(&d.SrcModule, &d.TgtModule, &dtype, &d.CallCount, &d.ImportCount, &circ); err != nil {
				return err
			}
			d.ProjectID = projectID
			d.Type = model.DependencyType(dtype)
			d.IsCircular = circ != 0
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

func (b *SQLiteBackend) Patterns(ctx context.Context, projectID int64) ([]model.PatternFinding, error) {
	var out []model.PatternFinding
	err := b.store.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT module_id, pattern_name, confidence, evidence FROM patterns WHERE project_id = ?`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p model.PatternFinding
			var evidenceJSON string
			if err := rows.Scan(&p.ModuleID, &p.Pattern, &p.Confidence, &evidenceJSON); err != nil {
				return err
			}
			p.ProjectID = projectID
			_ = json.Unmarshal([]byte(evidenceJSON), &p.Evidence)
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

func (b *SQLiteBackend) DebtScores(ctx context.Context, projectID int64) ([]model.DebtScore, error) {
	var out []model.DebtScore
	err := b.store.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT module_id, overall, tier, factors, line_count, finding_count FROM debt_scores WHERE project_id = ?`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d model.DebtScore
			var tier, factorsJSON string
			if err := rows.Scan(&d.ModuleID, &d.Overall, &tier, &factorsJSON, &d.LineCount, &d.FindingCount); err != nil {
				return err
			}
			d.ProjectID = projectID
			d.Tier = model.DebtTier(tier)
			_ = json.Unmarshal([]byte(factorsJSON), &d.Factors)
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

func (b *SQLiteBackend) Conventions(ctx context.Context, projectID int64) ([]model.ModuleConvention, error) {
	var out []model.ModuleConvention
	err := b.store.Interact(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT module_id, error_handling, test_pattern, naming, key_imports, detected_patterns FROM module_conventions WHERE project_id = ?`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c model.ModuleConvention
			var keyImportsJSON, detectedJSON string
			if err := rows.Scan(&c.ModuleID, &c.ErrorHandling, &c.TestPattern, &c.Naming, &keyImportsJSON, &detectedJSON); err != nil {
				return err
			}
			c.ProjectID = projectID
			_ = json.Unmarshal([]byte(keyImportsJSON), &c.KeyImports)
			_ = json.Unmarshal([]byte(detectedJSON), &c.DetectedPatterns)
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func (b *SQLiteBackend) ScanState(ctx context.Context, projectID int64) (model.HealthScanState, error) {
	var state string
	err := b.store.Interact(ctx, func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, `SELECT state FROM health_scan_state WHERE project_id = ?`, projectID).Scan(&state)
		if err == sql.ErrNoRows {
			state = string(model.ScanDirty)
			return nil
		}
		return err
	})
	return model.HealthScanState(state), err
}

func (b *SQLiteBackend) SetScanState(ctx context.Context, projectID int64, from, to model.HealthScanState) (bool, error) {
	var changed bool
	err := b.store.Run(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE health_scan_state SET state = ? WHERE project_id = ? AND state = ?`,
			string(to), projectID, string(from))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			changed = true
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO health_scan_state(project_id, state) VALUES (?, ?)
			ON CONFLICT(project_id) DO UPDATE SET state = excluded.state`, projectID, string(to))
		if err == nil {
			changed = true
		}
		return err
	})
	return changed, err
}

func (b *SQLiteBackend) Close() error { return b.store.Close() }
