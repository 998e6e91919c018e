package mainstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirahq/mira/internal/pool"
	"github.com/mirahq/mira/pkg/model"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	dir := t.TempDir()
	store, err := pool.Open(pool.DefaultConfig(filepath.Join(dir, "main.db")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, pool.NewMigrationManager(store.DB(), pool.MainMigrations).RunMigrations(context.Background()))
	return NewSQLiteBackend(store)
}

func TestSQLiteBackend_GetOrCreateProjectIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p1, err := b.GetOrCreateProject(ctx, "/srv/app", "app")
	require.NoError(t, err)
	p2, err := b.GetOrCreateProject(ctx, "/srv/app", "app")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
}

func TestSQLiteBackend_WriteAndReadDependencies(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	proj, err := b.GetOrCreateProject(ctx, "/srv/app", "app")
	require.NoError(t, err)

	edges := []model.DependencyEdge{
		{SrcModule: "a", TgtModule: "b", Type: model.DependencyCall, CallCount: 3, IsCircular: false},
		{SrcModule: "b", TgtModule: "a", Type: model.DependencyImport, ImportCount: 1, IsCircular: true},
	}
	require.NoError(t, b.WriteDependencies(ctx, proj.ID, edges))
	got, err := b.Dependencies(ctx, proj.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Rewriting clears the previous set rather than appending.
	require.NoError(t, b.WriteDependencies(ctx, proj.ID, edges[:1]))
	got, err = b.Dependencies(ctx, proj.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteBackend_ScanStateTransitions(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	proj, err := b.GetOrCreateProject(ctx, "/srv/app", "app")
	require.NoError(t, err)

	state, err := b.ScanState(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanDirty, state, "expected default dirty state")

	changed, err := b.SetScanState(ctx, proj.ID, model.ScanDirty, model.ScanScanning)
	require.NoError(t, err)
	assert.True(t, changed, "expected first transition to apply")

	// A transition from the wrong source state is a no-op.
	changed, err = b.SetScanState(ctx, proj.ID, model.ScanDirty, model.ScanClean)
	require.NoError(t, err)
	assert.False(t, changed, "expected stale-from transition to be rejected")

	state, err = b.ScanState(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanScanning, state, "expected state to remain scanning")
}
