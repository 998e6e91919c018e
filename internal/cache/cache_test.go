package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirahq/mira/internal/pool"
)

func TestInjection_GetPutRoundTrip(t *testing.T) {
	c := NewInjection(10, time.Minute)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put(ctx, "k", "v")
	v, ok := c.Get(ctx, "k")
	if !ok || v != "v" {
		t.Fatalf("expected hit \"v\", got %q ok=%v", v, ok)
	}
}

func TestInjection_TTLExpiry(t *testing.T) {
	c := NewInjection(10, 10*time.Millisecond)
	ctx := context.Background()
	c.Put(ctx, "k", "v")
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestInjection_EvictionBoundsSize(t *testing.T) {
	c := NewInjection(3, time.Minute)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		c.Put(ctx, string(rune('a'+i)), "v")
	}
	if c.Len() > 3 {
		t.Fatalf("expected at most 3 retained entries (P9), got %d", c.Len())
	}
}

func TestFuzzySymbol_LookupAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	store, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "code.db")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := pool.NewMigrationManager(store.DB(), pool.CodeMigrations).RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	insert := func(name string) {
		if err := store.Run(ctx, func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT INTO code_symbols(project_id, file_path, name, symbol_type, start_line, end_line, language) VALUES (1, 'a.go', ?, 'function', 1, 2, 'go')`, name)
			return err
		}); err != nil {
			t.Fatalf("insert symbol %s: %v", name, err)
		}
	}
	insert("ParseFile")
	insert("ParseProject")
	insert("Render")

	fc := NewFuzzySymbol()
	got, err := fc.Lookup(ctx, store.DB(), 1, "parse", 0)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 symbols matching \"parse\", got %d: %+v", len(got), got)
	}

	// A second insert shouldn't show up until invalidated.
	insert("ParseModule")
	got, _ = fc.Lookup(ctx, store.DB(), 1, "parse", 0)
	if len(got) != 2 {
		t.Fatalf("expected cache to still report 2 before invalidate, got %d", len(got))
	}

	fc.Invalidate(1)
	got, err = fc.Lookup(ctx, store.DB(), 1, "parse", 0)
	if err != nil {
		t.Fatalf("Lookup after invalidate: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 symbols matching \"parse\" after invalidate+reload, got %d", len(got))
	}
}
