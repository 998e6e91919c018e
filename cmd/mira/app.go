package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/mirahq/mira/internal/analytics"
	"github.com/mirahq/mira/internal/cache"
	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/embedclient"
	"github.com/mirahq/mira/internal/indexer"
	"github.com/mirahq/mira/internal/mainstore"
	"github.com/mirahq/mira/internal/parser"
	"github.com/mirahq/mira/internal/pool"
	"github.com/mirahq/mira/internal/query"
)

// app bundles every long-lived component a subcommand might need. Not every
// subcommand uses every field; "index" and "search" only touch a subset.
type app struct {
	cfg       *config.Config
	pool      *pool.Pool
	main      mainstore.Backend
	embed     *embedclient.Client
	parsers   *parser.Registry
	indexer   *indexer.Indexer
	engine    *query.Engine
	scanner   *analytics.Scanner
	injection *cache.Injection
	fuzzy     *cache.FuzzySymbol
}

// buildApp opens both stores, wires the embedding client, parser registry,
// indexer, query engine, and main-store backend together. Callers defer
// app.Close().
func buildApp(cfg *config.Config) (*app, error) {
	mainCfg := pool.DefaultConfig(cfg.MainDBPath)
	codeCfg := pool.DefaultConfig(cfg.CodeDBPath)
	if cfg.MaxConns > 0 {
		mainCfg.MaxConns = cfg.MaxConns
		codeCfg.MaxConns = cfg.MaxConns
	}

	p, err := pool.OpenPool(mainCfg, codeCfg)
	if err != nil {
		return nil, err
	}

	mainBackend, err := mainstore.Open(cfg, p.Main)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	embed := embedclient.New(embedclient.Config{
		APIKey:     cfg.EmbeddingAPIKey,
		BaseURL:    cfg.EmbeddingBaseURL,
		ModelName:  cfg.EmbeddingModelName,
		Dimensions: cfg.EmbeddingDimensions,
	})

	reg := parser.NewRegistry()
	idx := indexer.New(p, reg, embed, cfg)
	engine := query.New(p, embed)

	falkor, err := analytics.DialFalkorMirror(cfg.FalkorDBAddr, "mira")
	if err != nil {
		// Optional accelerator; degrade to SQL-only traversal rather than fail startup.
		falkor = nil
	}
	scanner := analytics.NewScanner(p, falkor)

	ttl := time.Duration(cfg.InjectionCacheTTLSec) * time.Second
	var injection *cache.Injection
	if cfg.RedisAddr != "" {
		injection = cache.NewInjectionWithRedis(cfg.InjectionCacheEntries, ttl, cfg.RedisAddr, "mira")
	} else {
		injection = cache.NewInjection(cfg.InjectionCacheEntries, ttl)
	}

	return &app{
		cfg:       cfg,
		pool:      p,
		main:      mainBackend,
		embed:     embed,
		parsers:   reg,
		indexer:   idx,
		engine:    engine,
		scanner:   scanner,
		injection: injection,
		fuzzy:     cache.NewFuzzySymbol(),
	}, nil
}

func (a *app) Close() error {
	if a.main != nil {
		_ = a.main.Close()
	}
	return a.pool.Close()
}

// resolveProject get-or-creates a project row for root, using its absolute
// path as the stable identity key (spec §4.A).
func resolveProject(ctx context.Context, a *app, root string) (int64, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return 0, err
	}
	proj, err := a.main.GetOrCreateProject(ctx, abs, filepath.Base(abs))
	if err != nil {
		return 0, err
	}
	return proj.ID, nil
}
