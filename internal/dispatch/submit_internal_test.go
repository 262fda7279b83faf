package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/job"
)

func TestDedupKeyIgnoresReservedOptionsAndOrder(t *testing.T) {
	a := job.New("/in/a.md", "HTML")
	a.Fingerprint = "abc"
	a.Options["b"] = 2
	a.Options["a"] = "x"
	a.SetOutputPaths([]string{"/out/a.html"})

	b := job.New("/in/b.md", ".html")
	b.Fingerprint = "abc"
	b.Options["a"] = "x"
	b.Options["b"] = 2
	b.SetOutputPaths([]string{"/out/b.html"})

	assert.Equal(t, dedupKey(a), dedupKey(b))
	assert.Equal(t, "abc:html:a=x;b=2", dedupKey(a))

	b.Options["b"] = 3
	assert.NotEqual(t, dedupKey(a), dedupKey(b))
}

func TestOutputsCurrent(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.md")
	out1 := filepath.Join(dir, "out1.html")
	out2 := filepath.Join(dir, "out2.html")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))

	assert.False(t, outputsCurrent(in, nil))
	assert.False(t, outputsCurrent(in, []string{out1}), "missing output")

	now := time.Now()
	require.NoError(t, os.Chtimes(in, now, now))
	require.NoError(t, os.WriteFile(out1, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(out2, []byte("y"), 0o644))
	old := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(out1, old, old))
	require.NoError(t, os.Chtimes(out2, now, now))

	// newest output equal to the input counts as current
	assert.True(t, outputsCurrent(in, []string{out1, out2}))
	assert.False(t, outputsCurrent(in, []string{out1}))
	assert.False(t, outputsCurrent(filepath.Join(dir, "gone.md"), []string{out2}))
}

func TestCancelledResultClassification(t *testing.T) {
	ctx, cancel := context.WithTimeoutCause(context.Background(), time.Nanosecond, errJobTimeout)
	defer cancel()
	<-ctx.Done()
	r := cancelledResult(ctx, time.Second)
	assert.Equal(t, job.CodeTimeout, r.ErrorCode)
	assert.Equal(t, "job timed out after 1s", r.ErrorMessage)

	cctx, ccancel := context.WithCancelCause(context.Background())
	ccancel(ErrClosed)
	r = cancelledResult(cctx, time.Second)
	assert.Equal(t, job.CodeCancelled, r.ErrorCode)
	assert.Contains(t, r.ErrorMessage, "dispatcher closed")
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{MaxBackoff: -1, AdmissionWait: -1, InitialBackoff: -1}.withDefaults()
	assert.Equal(t, DefaultConcurrency, o.Concurrency)
	assert.Equal(t, DefaultQueueCapacity, o.QueueCapacity)
	assert.Equal(t, DefaultMaxAttempts, o.MaxAttempts)
	assert.Zero(t, o.InitialBackoff)
	assert.Zero(t, o.MaxBackoff)
	assert.Zero(t, o.AdmissionWait)
}
