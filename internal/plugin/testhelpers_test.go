package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writePlugin creates root/name with a manifest and an executable run.sh.
func writePlugin(t *testing.T, root, name, extra, script string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := fmt.Sprintf("name: %s\nversion: 1.0.0\nprotocol: 1\nentrypoint: run.sh\n%s", name, extra)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFilename), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\n"+script), 0o755))
	return dir
}
