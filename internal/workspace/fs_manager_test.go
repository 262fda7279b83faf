package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOpenRemove(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "workspaces")
	mgr, err := NewFSManager(baseDir)
	require.NoError(t, err)
	ctx := context.Background()

	ws, err := mgr.Create(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(baseDir, "job-a"), ws.Dir)
	assert.DirExists(t, ws.Dir)

	opened, err := mgr.Open(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, ws, opened)

	require.NoError(t, mgr.Remove(ctx, "job-a"))
	assert.NoDirExists(t, ws.Dir)
	require.NoError(t, mgr.Remove(ctx, "job-a"), "removing twice is fine")

	_, err = mgr.Open(ctx, "job-a")
	assert.Error(t, err)
}

func TestCreateResetsLeftovers(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ws, err := mgr.Create(ctx, "job-b")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir, "partial.tmp"), []byte("x"), 0o644))

	ws, err = mgr.Create(ctx, "job-b")
	require.NoError(t, err)
	entries, err := os.ReadDir(ws.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRejectsUnsafeJobIDs(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, " padded "} {
		_, err := mgr.Create(context.Background(), id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestCleanupRemovesStaleOnly(t *testing.T) {
	baseDir := t.TempDir()
	mgr, err := NewFSManager(baseDir)
	require.NoError(t, err)
	ctx := context.Background()

	stale, err := mgr.Create(ctx, "stale")
	require.NoError(t, err)
	fresh, err := mgr.Create(ctx, "fresh")
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir, old, old))

	report, err := mgr.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeletedDirs)
	assert.NoDirExists(t, stale.Dir)
	assert.DirExists(t, fresh.Dir)

	_, err = mgr.Cleanup(ctx, 0)
	assert.Error(t, err)
}

func TestCleanupMissingBase(t *testing.T) {
	mgr, err := NewFSManager(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, err)
	report, err := mgr.Cleanup(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.DeletedDirs)
}
