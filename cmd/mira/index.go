package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/errorsx"
)

// runIndex implements "mira index [path]": a one-shot full index of a
// project root, the non-interactive counterpart to the watcher's
// incremental per-file pipeline (spec §4.E).
func runIndex(cfg *config.Config, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	if _, err := os.Stat(root); err != nil {
		return errorsx.IoError(root, err)
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	projectID, err := resolveProject(ctx, a, root)
	if err != nil {
		return err
	}

	start := time.Now()
	stats, err := a.indexer.IndexProject(ctx, projectID, root)
	if err != nil {
		return err
	}

	if err := a.scanner.RunFullScan(ctx, projectID); err != nil {
		log.Warn().Err(err).Msg("mira index: health scan after indexing failed, project remains dirty")
	}

	fmt.Printf("indexed %s: %d files, %d symbols, %d chunks, %d errors (%s)\n",
		root, stats.Files, stats.Symbols, stats.Chunks, stats.Errors, time.Since(start).Round(time.Millisecond))
	return nil
}
