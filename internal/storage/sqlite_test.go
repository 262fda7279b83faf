package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "job_history").Scan(&name))
	assert.Equal(t, "job_history", name)

	// idempotent
	require.NoError(t, BootstrapSQLite(context.Background(), db))
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dbPath := filepath.Join(root, "a", "b", "history.db")

	var inspected string
	err := checkLocalFilesystemWith(dbPath, func(p string) (string, error) {
		inspected = p
		return "ext4", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected, "nearest existing parent is inspected")

	err = checkLocalFilesystemWith(dbPath, func(string) (string, error) { return "NFS", nil })
	assert.ErrorContains(t, err, "network filesystem")

	err = checkLocalFilesystemWith(dbPath, func(string) (string, error) { return "", errors.New("unsupported") })
	assert.NoError(t, err, "undetectable filesystems are allowed")
}
