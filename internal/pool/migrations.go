package pool

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one forward-only schema change, grounded on the teacher's
// internal/db/sqlite/migrations.go Migration{Version,Name,SQL} shape.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MainMigrations creates the Main-store schema: project registry and the
// derived analytics tables (spec §6).
var MainMigrations = []Migration{
	{
		Version: 1,
		Name:    "projects_and_scan_info",
		SQL: `
			CREATE TABLE IF NOT EXISTS projects (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				path TEXT UNIQUE NOT NULL,
				name TEXT,
				created_at TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS scan_info (
				project_id INTEGER NOT NULL,
				key TEXT NOT NULL,
				value TEXT NOT NULL,
				PRIMARY KEY (project_id, key)
			);

			CREATE TABLE IF NOT EXISTS health_scan_state (
				project_id INTEGER PRIMARY KEY,
				state TEXT NOT NULL CHECK(state IN ('clean', 'dirty', 'scanning')) DEFAULT 'clean'
			);
		`,
	},
	{
		Version: 2,
		Name:    "analytics_derivatives",
		SQL: `
			CREATE TABLE IF NOT EXISTS dependencies (
				project_id INTEGER NOT NULL,
				src_module TEXT NOT NULL,
				tgt_module TEXT NOT NULL,
				dependency_type TEXT NOT NULL,
				call_count INTEGER NOT NULL DEFAULT 0,
				import_count INTEGER NOT NULL DEFAULT 0,
				is_circular INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (project_id, src_module, tgt_module)
			);

			CREATE TABLE IF NOT EXISTS patterns (
				project_id INTEGER NOT NULL,
				module_id TEXT NOT NULL,
				pattern_name TEXT NOT NULL,
				confidence REAL NOT NULL,
				evidence TEXT NOT NULL,
				PRIMARY KEY (project_id, module_id, pattern_name)
			);

			CREATE TABLE IF NOT EXISTS debt_scores (
				project_id INTEGER NOT NULL,
				module_id TEXT NOT NULL,
				overall REAL NOT NULL,
				tier TEXT NOT NULL,
				factors TEXT NOT NULL,
				line_count INTEGER NOT NULL,
				finding_count INTEGER NOT NULL,
				PRIMARY KEY (project_id, module_id)
			);

			CREATE TABLE IF NOT EXISTS module_summaries (
				project_id INTEGER NOT NULL,
				module_id TEXT NOT NULL,
				purpose TEXT,
				code_preview TEXT,
				detected_conventions TEXT,
				PRIMARY KEY (project_id, module_id)
			);

			CREATE TABLE IF NOT EXISTS module_conventions (
				project_id INTEGER NOT NULL,
				module_id TEXT NOT NULL,
				error_handling TEXT,
				test_pattern TEXT,
				naming TEXT,
				key_imports TEXT,
				detected_patterns TEXT,
				PRIMARY KEY (project_id, module_id)
			);
		`,
	},
}

// CodeMigrations creates the Code-store schema: symbols, imports, calls,
// vector table, and the FTS mirror (spec §6).
var CodeMigrations = []Migration{
	{
		Version: 1,
		Name:    "code_symbols_and_graph",
		SQL: `
			CREATE TABLE IF NOT EXISTS code_symbols (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL,
				file_path TEXT NOT NULL,
				name TEXT NOT NULL,
				symbol_type TEXT NOT NULL,
				start_line INTEGER NOT NULL,
				end_line INTEGER NOT NULL,
				signature TEXT,
				language TEXT NOT NULL,
				visibility TEXT,
				is_test INTEGER NOT NULL DEFAULT 0,
				is_async INTEGER NOT NULL DEFAULT 0,
				documentation TEXT,
				qualified_name TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_code_symbols_project_file ON code_symbols(project_id, file_path);
			CREATE INDEX IF NOT EXISTS idx_code_symbols_name ON code_symbols(project_id, name);

			CREATE TABLE IF NOT EXISTS imports (
				project_id INTEGER NOT NULL,
				file_path TEXT NOT NULL,
				import_path TEXT NOT NULL,
				is_external INTEGER NOT NULL DEFAULT 0,
				UNIQUE(project_id, file_path, import_path)
			);

			CREATE TABLE IF NOT EXISTS call_graph (
				caller_id INTEGER NOT NULL,
				callee TEXT NOT NULL,
				callee_id INTEGER,
				call_line INTEGER NOT NULL,
				call_type TEXT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_call_graph_caller ON call_graph(caller_id);
			CREATE INDEX IF NOT EXISTS idx_call_graph_callee ON call_graph(callee);
		`,
	},
	{
		Version: 2,
		Name:    "vec_code_and_fts",
		SQL: `
			CREATE VIRTUAL TABLE IF NOT EXISTS vec_code USING vec0(
				embedding float[1536],
				project_id INTEGER,
				file_path TEXT,
				start_line INTEGER,
				chunk_content TEXT
			);

			CREATE VIRTUAL TABLE IF NOT EXISTS code_symbols_fts USING fts5(
				name, signature, qualified_name, project_id UNINDEXED
			);
		`,
	},
}

// MigrationManager runs a fixed ordered list of Migrations, tracked in a
// schema_migrations table, grounded on the teacher's migration runner.
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrationManager builds a manager for the given store and migration set.
func NewMigrationManager(db *sql.DB, migrations []Migration) *MigrationManager {
	return &MigrationManager{db: db, migrations: migrations}
}

// RunMigrations applies every migration whose version hasn't been recorded
// yet, in ascending version order.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", mig.Version, err)
		}
		if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES (?, ?)`, mig.Version, mig.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", mig.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", mig.Version, err)
		}
	}
	return nil
}
