package fingerprint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestFingerprintStableAcrossNames(t *testing.T) {
	a := writeFile(t, "a.txt", "same content")
	b := writeFile(t, "b.md", "same content")
	c := writeFile(t, "c.txt", "other content")

	fa, err := New().Fingerprint(context.Background(), a)
	require.NoError(t, err)
	fb, err := New().Fingerprint(context.Background(), b)
	require.NoError(t, err)
	fc, err := New().Fingerprint(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.NotEqual(t, fa, fc)
	assert.Len(t, fa, 64)
	assert.Equal(t, Bytes([]byte("same content")), fa)
}

func TestFingerprintLargeFile(t *testing.T) {
	data := make([]byte, chunkSize*3+17)
	for i := range data {
		data[i] = byte(i % 251)
	}
	p := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(p, data, 0o644))

	got, err := New().Fingerprint(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Bytes(data), got)
}

func TestFingerprintErrors(t *testing.T) {
	_, err := New().Fingerprint(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadable))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = New().Fingerprint(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrUnreadable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().Fingerprint(ctx, writeFile(t, "x.txt", "x"))
	assert.ErrorIs(t, err, context.Canceled)
}
