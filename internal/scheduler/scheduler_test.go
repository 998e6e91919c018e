package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mirahq/mira/internal/analytics"
	"github.com/mirahq/mira/internal/pool"
)

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	dir := t.TempDir()
	main, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "main.db")))
	if err != nil {
		t.Fatalf("open main: %v", err)
	}
	code, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "code.db")))
	if err != nil {
		t.Fatalf("open code: %v", err)
	}
	if err := pool.NewMigrationManager(main.DB(), pool.MainMigrations).RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate main: %v", err)
	}
	if err := pool.NewMigrationManager(code.DB(), pool.CodeMigrations).RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate code: %v", err)
	}
	t.Cleanup(func() { main.Close(); code.Close() })
	return &pool.Pool{Main: main, Code: code}
}

func TestScheduler_SweepScansOnlyDirtyProjects(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	if err := p.Main.Run(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO projects(path, name, created_at) VALUES ('/a', 'a', datetime('now'))`)
		return err
	}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if err := analytics.MarkDirty(ctx, p.Main, 1); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}

	scanner := analytics.NewScanner(p, nil)
	sched := New(p, scanner, time.Hour, zerolog.Nop())

	sched.sweep(ctx)

	state, err := analytics.State(ctx, p.Main, 1)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != "clean" {
		t.Fatalf("expected project to end clean after sweep, got %q", state)
	}

	stats := sched.Stats()
	if stats["total_scans"].(int64) != 1 {
		t.Fatalf("expected 1 total scan recorded, got %v", stats["total_scans"])
	}
}

func TestScheduler_SweepIsNoOpWhenNothingIsDirty(t *testing.T) {
	p := newTestPool(t)
	scanner := analytics.NewScanner(p, nil)
	sched := New(p, scanner, time.Hour, zerolog.Nop())

	sched.sweep(context.Background())

	stats := sched.Stats()
	if stats["total_scans"].(int64) != 0 {
		t.Fatalf("expected 0 scans with no dirty projects, got %v", stats["total_scans"])
	}
}
