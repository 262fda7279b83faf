package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) string
		wantCount int
		checkFn   func(t *testing.T, reg *Registry)
	}{
		{
			name: "valid plugin discovered",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "office", "extensions: [doc, .DOCX]\ntargets: [PDF]\nscore: 100\n", "exit 0\n")
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry) {
				p, ok := reg.Get("office")
				require.True(t, ok)
				assert.Equal(t, []string{".doc", ".docx"}, p.Extensions)
				assert.Equal(t, []string{"pdf"}, p.Targets)
				assert.Equal(t, 100, p.Score)
				assert.True(t, p.SupportsTarget(".pdf"))
				assert.False(t, p.SupportsTarget("html"))
				assert.True(t, filepath.IsAbs(p.Entrypoint))
			},
		},
		{
			name: "default score and any target",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "any", "extensions: [.rtf]\n", "exit 0\n")
				return dir
			},
			wantCount: 1,
			checkFn: func(t *testing.T, reg *Registry) {
				p, _ := reg.Get("any")
				assert.Equal(t, DefaultScore, p.Score)
				assert.True(t, p.SupportsTarget("whatever"))
			},
		},
		{
			name: "multiple plugins sorted",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "zeta", "extensions: [.z]\n", "")
				writePlugin(t, dir, "alpha", "extensions: [.a]\n", "")
				return dir
			},
			wantCount: 2,
			checkFn: func(t *testing.T, reg *Registry) {
				all := reg.All()
				assert.Equal(t, "alpha", all[0].Name)
				assert.Equal(t, "zeta", all[1].Name)
			},
		},
		{
			name: "missing extensions skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "bad", "", "")
				return dir
			},
		},
		{
			name: "wrong protocol skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				p := writePlugin(t, dir, "old", "extensions: [.x]\n", "")
				manifest := "name: old\nprotocol: 9\nentrypoint: run.sh\nextensions: [.x]\n"
				require.NoError(t, os.WriteFile(filepath.Join(p, manifestFilename), []byte(manifest), 0o644))
				return dir
			},
		},
		{
			name: "score out of range skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				writePlugin(t, dir, "greedy", "extensions: [.x]\nscore: 101\n", "")
				return dir
			},
		},
		{
			name: "non-executable entrypoint skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				p := writePlugin(t, dir, "noexec", "extensions: [.x]\n", "")
				require.NoError(t, os.Chmod(filepath.Join(p, "run.sh"), 0o644))
				return dir
			},
		},
		{
			name: "entrypoint traversal skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				p := writePlugin(t, dir, "escape", "extensions: [.x]\n", "")
				manifest := "name: escape\nprotocol: 1\nentrypoint: ../run.sh\nextensions: [.x]\n"
				require.NoError(t, os.WriteFile(filepath.Join(p, manifestFilename), []byte(manifest), 0o644))
				return dir
			},
		},
		{
			name: "symlink escaping the root skipped",
			setupFn: func(t *testing.T) string {
				outside := t.TempDir()
				target := filepath.Join(outside, "evil.sh")
				require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755))

				dir := t.TempDir()
				p := writePlugin(t, dir, "linked", "extensions: [.x]\n", "")
				require.NoError(t, os.Remove(filepath.Join(p, "run.sh")))
				require.NoError(t, os.Symlink(target, filepath.Join(p, "run.sh")))
				return dir
			},
		},
		{
			name: "world-writable plugin dir skipped",
			setupFn: func(t *testing.T) string {
				dir := t.TempDir()
				p := writePlugin(t, dir, "open", "extensions: [.x]\n", "")
				require.NoError(t, os.Chmod(p, 0o777))
				return dir
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := Discover(tt.setupFn(t), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, reg.Len())
			if tt.checkFn != nil {
				tt.checkFn(t, reg)
			}
		})
	}
}

func TestDiscoverManyKeepsFirstDuplicate(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writePlugin(t, first, "dup", "extensions: [.a]\n", "")
	writePlugin(t, second, "dup", "extensions: [.b]\n", "")

	reg, err := DiscoverMany([]string{first, second, first}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	p, _ := reg.Get("dup")
	assert.Equal(t, []string{".a"}, p.Extensions)
}

func TestDiscoverRootErrors(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorContains(t, err, "does not exist")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Discover(file, nil)
	assert.ErrorContains(t, err, "not a directory")

	_, err = DiscoverMany([]string{" "}, nil)
	assert.ErrorContains(t, err, "at least one plugin root")
}
