// Package mainstore models the Main store (spec §6: "projects, analytics
// derivatives, scan state") behind a Backend interface, so the single-host
// default (SQLite via internal/pool) and an optional shared Postgres
// backend for multi-host deployments (several watcher hosts sharing one
// Main store, per SPEC_FULL.md §2) can be swapped without touching
// callers.
package mainstore

import (
	"context"

	"github.com/mirahq/mira/pkg/model"
)

// Backend is every Main-store operation a caller needs, independent of
// whether rows live in SQLite (the default, one process per host) or
// Postgres (shared across hosts).
type Backend interface {
	// GetOrCreateProject resolves path to a Project, inserting one if it
	// doesn't already exist (spec §4.A "get-or-create never duplicates
	// it").
	GetOrCreateProject(ctx context.Context, path, name string) (*model.Project, error)
	GetProject(ctx context.Context, projectID int64) (*model.Project, error)

	WriteDependencies(ctx context.Context, projectID int64, edges []model.DependencyEdge) error
	WritePatterns(ctx context.Context, projectID int64, findings []model.PatternFinding) error
	WriteDebtScores(ctx context.Context, projectID int64, scores []model.DebtScore) error
	WriteConventions(ctx context.Context, projectID int64, conventions []model.ModuleConvention) error

	Dependencies(ctx context.Context, projectID int64) ([]model.DependencyEdge, error)
	Patterns(ctx context.Context, projectID int64) ([]model.PatternFinding, error)
	DebtScores(ctx context.Context, projectID int64) ([]model.DebtScore, error)
	Conventions(ctx context.Context, projectID int64) ([]model.ModuleConvention, error)

	// ScanState and MarkDirty/MarkScanning/MarkClean implement the
	// clean -> dirty -> scanning -> clean state machine spec §4.I names.
	ScanState(ctx context.Context, projectID int64) (model.HealthScanState, error)
	SetScanState(ctx context.Context, projectID int64, from, to model.HealthScanState) (bool, error)

	Close() error
}
