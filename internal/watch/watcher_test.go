package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/job"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (r *recordingSubmitter) Submit(_ context.Context, j *job.Job) (job.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, j)
	return job.Result{Success: true}, nil
}

func (r *recordingSubmitter) snapshot() []*job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*job.Job(nil), r.jobs...)
}

func startWatcher(t *testing.T, opts Options, sub Submitter) {
	t.Helper()
	w, err := New(opts, sub, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never became ready")
	}
}

func TestWatcherSubmitsDebouncedFile(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{}
	startWatcher(t, Options{
		Dirs:         []string{dir},
		TargetFormat: ".HTML",
		Debounce:     100 * time.Millisecond,
		Timeout:      time.Minute,
		JobOptions:   map[string]any{"title": "Inbox"},
	}, sub)

	path := filepath.Join(dir, "notes.md")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("# draft\n"), 0o644))
	}

	require.Eventually(t, func() bool { return len(sub.snapshot()) == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(250 * time.Millisecond)

	jobs := sub.snapshot()
	require.Len(t, jobs, 1, "writes within the debounce window collapse")
	assert.Equal(t, path, jobs[0].InputPath)
	assert.Equal(t, "html", jobs[0].TargetFormat)
	assert.Equal(t, time.Minute, jobs[0].Timeout)
	assert.Equal(t, "Inbox", jobs[0].Options["title"])
}

func TestWatcherIgnoresOutputsAndHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	sub := &recordingSubmitter{}
	startWatcher(t, Options{Dirs: []string{dir}, TargetFormat: "html", Debounce: 50 * time.Millisecond}, sub)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.html"), []byte("<p>x</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".page.html.123.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "draft.md~"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return len(sub.snapshot()) == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	jobs := sub.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, filepath.Join(dir, "real.txt"), jobs[0].InputPath)
}

func TestNewValidates(t *testing.T) {
	sub := &recordingSubmitter{}
	_, err := New(Options{TargetFormat: "html"}, sub, nil)
	assert.Error(t, err)
	_, err = New(Options{Dirs: []string{t.TempDir()}}, sub, nil)
	assert.Error(t, err)
	_, err = New(Options{Dirs: []string{t.TempDir()}, TargetFormat: "html"}, nil, nil)
	assert.Error(t, err)
}

func TestStoppedWatcherDropsFiredTimer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.md")
	require.NoError(t, os.WriteFile(path, []byte("# late"), 0o644))

	sub := &recordingSubmitter{}
	w, err := New(Options{Dirs: []string{dir}, TargetFormat: "html", Debounce: 20 * time.Millisecond}, sub, nil)
	require.NoError(t, err)

	w.schedule(context.Background(), path)

	// Hold the lock past the debounce so the callback fires and blocks,
	// then stop the way Run does on exit.
	w.mu.Lock()
	time.Sleep(80 * time.Millisecond)
	w.stopLocked()
	w.mu.Unlock()

	w.wg.Wait()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sub.snapshot(), "no submission after the watcher stopped")

	w.schedule(context.Background(), path)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sub.snapshot(), "schedule is a no-op once stopped")
}

func TestRescheduleSupersedesFiredTimer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "busy.md")
	require.NoError(t, os.WriteFile(path, []byte("# busy"), 0o644))

	sub := &recordingSubmitter{}
	w, err := New(Options{Dirs: []string{dir}, TargetFormat: "html", Debounce: 20 * time.Millisecond}, sub, nil)
	require.NoError(t, err)

	ctx := context.Background()
	w.schedule(ctx, path)

	// The first callback fires and blocks; a fresh event replaces its timer.
	w.mu.Lock()
	first := w.timers[path]
	require.NotNil(t, first)
	time.Sleep(80 * time.Millisecond)
	next := time.AfterFunc(time.Hour, func() {})
	w.timers[path] = next
	w.mu.Unlock()
	require.NotSame(t, first, next)

	time.Sleep(50 * time.Millisecond)
	w.wg.Wait()
	assert.Empty(t, sub.snapshot(), "superseded callback must not submit")
	w.stopTimers()
}
