// Package pool implements the Persistence Pool (spec §4.A): pooled
// synchronous connections to the Main and Code SQLite stores, each
// configured with WAL mode, synchronous=NORMAL, a busy-timeout, and the
// sqlite-vec loadable extension, offering run/interact/try_interact.
//
// Grounded on the teacher's internal/db/sqlite/store.go connection setup,
// generalized from one store to the Main+Code pair spec §3/§6 require.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/mirahq/mira/internal/errorsx"
)

func init() {
	// Registers the vector-index extension with every sqlite3 connection
	// opened via database/sql from this process (spec §4.A: "loads the
	// vector-index extension").
	sqlite_vec.Auto()
}

// Config configures one store's connection pool.
type Config struct {
	Path     string
	MaxConns int

	// BusyTimeoutMillis is the sqlite busy_timeout pragma.
	BusyTimeoutMillis int

	// MaxRetries bounds the run() retry loop on "database is locked".
	MaxRetries int

	// RetryBaseDelay is the first backoff delay; doubles per attempt.
	RetryBaseDelay time.Duration
}

// DefaultConfig returns sane defaults for a given on-disk path.
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		MaxConns:          4,
		BusyTimeoutMillis: 5000,
		MaxRetries:        5,
		RetryBaseDelay:    20 * time.Millisecond,
	}
}

// Store is a single pooled connection set to one SQLite database file.
type Store struct {
	db  *sql.DB
	cfg Config
	mu  sync.Mutex // serializes writer transactions (run)
}

// Open opens (and migrates, via the caller) a connection pool to path.
func Open(cfg Config) (*Store, error) {
	connStr := fmt.Sprintf(
		"%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=%d",
		cfg.Path, cfg.BusyTimeoutMillis,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errorsx.DatabaseError("open "+cfg.Path, err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errorsx.DatabaseError("ping "+cfg.Path, err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 20 * time.Millisecond
	}

	return &Store{db: db, cfg: cfg}, nil
}

// DB exposes the underlying *sql.DB for migration managers and read-heavy
// analytics that need raw access; prefer run/interact for anything that
// must participate in the pool's retry/transaction discipline.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// Run acquires a connection and invokes f under a writer transaction that f
// itself opens and commits/rolls back. On "database is locked" it retries
// with exponential backoff up to cfg.MaxRetries; other errors surface
// unchanged. Writer transactions are serialized at the Store level so a
// single busy-retry loop never races itself across goroutines the way
// unsynchronized SQLite writers would.
func (s *Store) Run(ctx context.Context, f func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		lastErr = s.runOnce(ctx, f)
		if lastErr == nil {
			return nil
		}
		if !isBusyErr(lastErr) {
			return errorsx.DatabaseError("run", lastErr)
		}
		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return errorsx.Cancelled("run")
		case <-time.After(delay):
		}
		delay = time.Duration(math.Min(float64(delay*2), float64(2*time.Second)))
	}
	log.Warn().Err(lastErr).Str("path", s.cfg.Path).Msg("pool.run.busy_retries_exhausted")
	return errorsx.DatabaseBusy("run", lastErr)
}

func (s *Store) runOnce(ctx context.Context, f func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Interact acquires a connection and invokes f; the closure is expected to
// be read-only, so no retry is attempted — a busy read surfaces immediately
// (readers should not contend with the single writer-serializing mutex).
func (s *Store) Interact(ctx context.Context, f func(db *sql.DB) error) error {
	if err := ctx.Err(); err != nil {
		return errorsx.Cancelled("interact")
	}
	if err := f(s.db); err != nil {
		return errorsx.DatabaseError("interact", err)
	}
	return nil
}

// TryInteract is the fire-and-forget variant: it logs a warning on failure
// and never propagates an error. Used for observational writes (tool-call
// history, behavior logs) per spec §7 propagation policy.
func (s *Store) TryInteract(ctx context.Context, label string, f func(db *sql.DB) error) {
	if err := f(s.db); err != nil {
		log.Warn().Err(err).Str("label", label).Msg("pool.try_interact.failed")
	}
}

// Pool bundles the Main and Code stores that back every component in §4.
type Pool struct {
	Main *Store
	Code *Store
}

// Open opens both stores.
func OpenPool(mainCfg, codeCfg Config) (*Pool, error) {
	main, err := Open(mainCfg)
	if err != nil {
		return nil, fmt.Errorf("open main store: %w", err)
	}
	code, err := Open(codeCfg)
	if err != nil {
		_ = main.Close()
		return nil, fmt.Errorf("open code store: %w", err)
	}
	return &Pool{Main: main, Code: code}, nil
}

// Close closes both stores.
func (p *Pool) Close() error {
	return errors.Join(p.Main.Close(), p.Code.Close())
}

// RebuildFTSForProject atomically clears and repopulates the project's FTS
// index from code_symbols (spec §4.A).
func (p *Pool) RebuildFTSForProject(ctx context.Context, projectID int64) error {
	return p.Code.Run(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM code_symbols_fts WHERE project_id = ?`, projectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO code_symbols_fts(rowid, name, signature, qualified_name, project_id)
			SELECT id, name, COALESCE(signature, ''), COALESCE(qualified_name, ''), project_id
			FROM code_symbols WHERE project_id = ?`, projectID)
		return err
	})
}

// CompactResult is the outcome of compacting the Code store.
type CompactResult struct {
	RowsPreserved      int64
	EstimatedSavingsMB float64
}

// CompactCodeDB runs VACUUM on the Code store and reclaims chunk-table
// space, returning rows preserved and an estimate of reclaimed disk space.
func (p *Pool) CompactCodeDB(ctx context.Context) (CompactResult, error) {
	var before, after int64
	if err := p.Code.Interact(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&before)
	}); err != nil {
		return CompactResult{}, err
	}

	if _, err := p.Code.DB().ExecContext(ctx, `VACUUM`); err != nil {
		return CompactResult{}, errorsx.DatabaseError("vacuum", err)
	}

	var rows int64
	if err := p.Code.Interact(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_symbols`).Scan(&rows)
	}); err != nil {
		return CompactResult{}, err
	}
	if err := p.Code.Interact(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&after)
	}); err != nil {
		return CompactResult{}, err
	}

	savingsMB := float64(before-after) / (1024 * 1024)
	if savingsMB < 0 {
		savingsMB = 0
	}
	return CompactResult{RowsPreserved: rows, EstimatedSavingsMB: savingsMB}, nil
}
