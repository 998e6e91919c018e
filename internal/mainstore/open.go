package mainstore

import (
	"fmt"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/pool"
)

// Open selects a Backend implementation per cfg.MainBackend: "sqlite"
// (default, single-host) wraps an already-open Main store.Store; "postgres"
// dials cfg.PostgresDSN and runs its gormigrate migrations.
func Open(cfg *config.Config, sqliteMain *pool.Store) (Backend, error) {
	switch cfg.MainBackend {
	case "", "sqlite":
		return NewSQLiteBackend(sqliteMain), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("mainstore: MIRA_POSTGRES_DSN is required when MIRA_MAIN_BACKEND=postgres")
		}
		return OpenPostgresBackend(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("mainstore: unknown main backend %q", cfg.MainBackend)
	}
}
