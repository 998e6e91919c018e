package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirahq/mira/internal/config"
	"github.com/mirahq/mira/internal/errorsx"
)

// runSearch implements "mira search <query>": a single Hybrid Query Engine
// lookup against an already-indexed project (spec §4.H), printed as plain
// text rather than routed through the agentic tool loop.
func runSearch(cfg *config.Config, projectRoot string, args []string) error {
	if len(args) == 0 {
		return errorsx.InvalidInput("search requires a query argument", nil)
	}
	query := strings.Join(args, " ")

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	projectID, err := resolveProject(ctx, a, projectRoot)
	if err != nil {
		return err
	}

	results, err := a.engine.Query(ctx, projectID, query, 10)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, r := range results {
		fmt.Printf("[%s] %s %s\n", r.Strategy, r.FilePath, r.SymbolInfo)
		fmt.Println(r.Content)
		fmt.Println("---")
	}
	return nil
}
