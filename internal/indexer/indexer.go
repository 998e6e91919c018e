package indexer

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mirahq/mira/internal/chunk"
	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/embedclient"
	"github.com/mirahq/mira/internal/parser"
	"github.com/mirahq/mira/internal/pool"
	"github.com/mirahq/mira/pkg/model"
)

// Stats is collected across one IndexProject or IndexFile run (spec §4.E:
// "files, symbols, chunks, errors").
type Stats struct {
	Files   int
	Symbols int
	Chunks  int
	Errors  int
}

func (s *Stats) add(o Stats) {
	s.Files += o.Files
	s.Symbols += o.Symbols
	s.Chunks += o.Chunks
	s.Errors += o.Errors
}

// Indexer ties the parser registry, chunker, embedding client, and
// persistence pool together to run the two-phase pipeline.
type Indexer struct {
	Pool     *pool.Pool
	Registry *parser.Registry
	Embed    *embedclient.Client
	Config   *config.Config
}

// New builds an Indexer.
func New(p *pool.Pool, reg *parser.Registry, embed *embedclient.Client, cfg *config.Config) *Indexer {
	return &Indexer{Pool: p, Registry: reg, Embed: embed, Config: cfg}
}

// parsedFile is everything Phase 1 extracted from one file.
type parsedFile struct {
	relPath string
	content []byte
	symbols []model.Symbol
	imports []model.Import
	calls   []model.CallEdge
	chunks  []chunk.Unit
}

// parseWorkers bounds Phase 1 concurrency; CPU-bound parsing gains little
// past the host's core count.
func parseWorkers() int {
	n := 4
	if c := os.Getenv("MIRA_PARSE_WORKERS"); c != "" {
		if v, err := strconv.Atoi(c); err == nil && v > 0 {
			n = v
		}
	}
	return n
}

// parsePhase runs Phase 1 (spec §4.E): a parallel worker pool parses files
// independently; a failed parse is counted and never aborts the pool.
func (idx *Indexer) parsePhase(ctx context.Context, projectID int64, files []DiscoveredFile) ([]parsedFile, int) {
	results := make([]*parsedFile, len(files))
	var errCount int32Counter

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseWorkers())

	for i, f := range files {
		i, f := i, f
		g.Go(func() (err error) {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			// a tree-sitter edge case panicking must still count as one
			// failed file, not take down the whole worker pool.
			defer func() {
				if r := recover(); r != nil {
					errCount.inc()
				}
			}()
			content, err := os.ReadFile(f.AbsPath)
			if err != nil {
				errCount.inc()
				return nil
			}
			res, err := idx.Registry.ParseFile(projectID, f.RelPath, f.Ext, content)
			if err != nil {
				errCount.inc()
				return nil
			}
			units := chunk.Chunk(string(content), res.Symbols)
			results[i] = &parsedFile{
				relPath: f.RelPath,
				content: content,
				symbols: res.Symbols,
				imports: res.Imports,
				calls:   res.Calls,
				chunks:  units,
			}
			return nil
		})
	}
	_ = g.Wait() // per-file errors are already counted; only ctx cancellation propagates, and callers check ctx themselves

	out := make([]parsedFile, 0, len(files))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, errCount.value()
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// IndexProject clears the project's existing Code-store rows, walks and
// parses root, persists in flush-threshold batches, embeds accumulated
// chunks, and rebuilds the FTS index (spec §4.E).
func (idx *Indexer) IndexProject(ctx context.Context, projectID int64, root string) (Stats, error) {
	if err := idx.clearProject(ctx, projectID); err != nil {
		return Stats{}, err
	}

	files, err := Walk(root, idx.Config)
	if err != nil {
		return Stats{}, err
	}

	parsed, parseErrors := idx.parsePhase(ctx, projectID, files)

	stats := Stats{Files: len(parsed), Errors: parseErrors}
	if err := idx.persistPhase(ctx, projectID, parsed, &stats); err != nil {
		return stats, err
	}

	if err := idx.Pool.RebuildFTSForProject(ctx, projectID); err != nil {
		return stats, err
	}
	return stats, nil
}

// IndexFile is the incremental single-file path (spec §4.E): delete existing
// symbols/imports/chunks for (project, file), then re-parse and re-insert.
// Embeddings are not regenerated here.
func (idx *Indexer) IndexFile(ctx context.Context, projectID int64, relPath, ext string, content []byte) (Stats, error) {
	if err := idx.clearFile(ctx, projectID, relPath); err != nil {
		return Stats{}, err
	}

	result, err := idx.Registry.ParseFile(projectID, relPath, ext, content)
	if err != nil {
		return Stats{Errors: 1}, nil
	}

	stats := Stats{Files: 1}
	pf := parsedFile{relPath: relPath, content: content, symbols: result.Symbols, imports: result.Imports, calls: result.Calls}
	if err := idx.flushBatch(ctx, projectID, []parsedFile{pf}, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// DeleteFile clears all Code-store rows for (project, file) — the watcher's
// "deleted" per-file pipeline (spec §4.F).
func (idx *Indexer) DeleteFile(ctx context.Context, projectID int64, relPath string) error {
	return idx.clearFile(ctx, projectID, relPath)
}

func (idx *Indexer) clearProject(ctx context.Context, projectID int64) error {
	return idx.Pool.Code.Run(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM code_symbols WHERE project_id = ?`,
			`DELETE FROM imports WHERE project_id = ?`,
			`DELETE FROM call_graph WHERE caller_id IN (SELECT id FROM code_symbols WHERE project_id = ?)`,
			`DELETE FROM vec_code WHERE project_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, projectID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (idx *Indexer) clearFile(ctx context.Context, projectID int64, relPath string) error {
	return idx.Pool.Code.Run(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM call_graph WHERE caller_id IN (
				SELECT id FROM code_symbols WHERE project_id = ? AND file_path = ?)`, projectID, relPath); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM code_symbols WHERE project_id = ? AND file_path = ?`, projectID, relPath); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM imports WHERE project_id = ? AND file_path = ?`, projectID, relPath); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM vec_code WHERE project_id = ? AND file_path = ?`, projectID, relPath)
		return err
	})
}
