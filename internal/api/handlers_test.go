package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/converter"
	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/fingerprint"
	"github.com/mattjoyce/convoy/internal/history"
	"github.com/mattjoyce/convoy/internal/job"
	"github.com/mattjoyce/convoy/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "text") // Suppress logs in tests
	os.Exit(m.Run())
}

type stubSubmitter struct {
	mu     sync.Mutex
	jobs   []*job.Job
	submit func(ctx context.Context, j *job.Job) (job.Result, error)
}

func (s *stubSubmitter) Submit(ctx context.Context, j *job.Job) (job.Result, error) {
	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	if s.submit != nil {
		return s.submit(ctx, j)
	}
	return job.Result{Success: true, OutputPaths: []string{"/out/a.html"}, Duration: 1200 * time.Millisecond}, nil
}

func (s *stubSubmitter) last() *job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return nil
	}
	return s.jobs[len(s.jobs)-1]
}

type stubStats struct{ stats dispatch.Stats }

func (s stubStats) Stats() dispatch.Stats { return s.stats }

type stubCatalog []converter.Info

func (c stubCatalog) Describe() []converter.Info { return c }

type stubHistory struct {
	entries  []history.Entry
	gotLimit int
}

func (h *stubHistory) List(_ context.Context, limit int) ([]history.Entry, error) {
	h.gotLimit = limit
	if limit < len(h.entries) {
		return h.entries[:limit], nil
	}
	return h.entries, nil
}

func (h *stubHistory) Get(_ context.Context, id string) (history.Entry, error) {
	for _, e := range h.entries {
		if e.JobID == id {
			return e, nil
		}
	}
	return history.Entry{}, history.ErrNotFound
}

func newTestServer(cfg Config, deps Deps) http.Handler {
	if deps.Submitter == nil {
		deps.Submitter = &stubSubmitter{}
	}
	return New(cfg, deps, nil).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestServer(Config{}, Deps{
		Stats:      stubStats{dispatch.Stats{Running: 2, Queued: 3, Pending: 7}},
		Converters: stubCatalog{{Name: "text"}, {Name: "sheet"}},
	})

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.EqualValues(t, 2, resp.Running)
	assert.Equal(t, 3, resp.Queued)
	assert.EqualValues(t, 7, resp.Pending)
	assert.Equal(t, 2, resp.ConvertersCount)
}

func TestSubmitSuccess(t *testing.T) {
	sub := &stubSubmitter{}
	h := newTestServer(Config{DefaultTimeout: time.Minute}, Deps{Submitter: sub})

	rec := doJSON(t, h, http.MethodPost, "/jobs", SubmitRequest{
		InputPath:    "/in/a.md",
		TargetFormat: "html",
		Options:      map[string]any{"title": "A"},
		Priority:     4,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, job.StatusSucceeded, resp.Status)
	assert.Equal(t, []string{"/out/a.html"}, resp.OutputPaths)
	assert.EqualValues(t, 1200, resp.DurationMS)

	j := sub.last()
	require.NotNil(t, j)
	assert.Equal(t, j.ID, resp.JobID)
	assert.Equal(t, "A", j.Options["title"])
	assert.Equal(t, 4, j.Priority)
	assert.Equal(t, time.Minute, j.Timeout)
}

func TestSubmitConversionFailureIsOK(t *testing.T) {
	sub := &stubSubmitter{submit: func(context.Context, *job.Job) (job.Result, error) {
		return *job.Failed("NO_CONVERTER", "no converter available for .xyz"), nil
	}}
	h := newTestServer(Config{}, Deps{Submitter: sub})

	rec := doJSON(t, h, http.MethodPost, "/jobs", SubmitRequest{InputPath: "/in/a.xyz", TargetFormat: "pdf"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, job.StatusFailed, resp.Status)
	assert.Equal(t, "NO_CONVERTER", resp.ErrorCode)
}

func TestSubmitTimeouts(t *testing.T) {
	sub := &stubSubmitter{}
	h := newTestServer(Config{MaxSyncTimeout: time.Minute}, Deps{Submitter: sub})

	rec := doJSON(t, h, http.MethodPost, "/jobs", SubmitRequest{InputPath: "/in/a.md", TargetFormat: "html", Timeout: "10s"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10*time.Second, sub.last().Timeout)

	rec = doJSON(t, h, http.MethodPost, "/jobs", SubmitRequest{InputPath: "/in/a.md", TargetFormat: "html", Timeout: "1h"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Minute, sub.last().Timeout, "capped by MaxSyncTimeout")
}

func TestSubmitBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "malformed json", body: "{", want: "invalid JSON body"},
		{name: "unknown field", body: `{"input_path":"/a.md","target_format":"html","colour":"red"}`, want: "invalid JSON body"},
		{name: "missing input", body: SubmitRequest{TargetFormat: "html"}, want: "input_path is required"},
		{name: "missing target", body: SubmitRequest{InputPath: "/a.md"}, want: "target_format is required"},
		{name: "reserved option", body: SubmitRequest{InputPath: "/a.md", TargetFormat: "html", Options: map[string]any{"_output_paths": "x"}}, want: "reserved"},
		{name: "bad timeout", body: SubmitRequest{InputPath: "/a.md", TargetFormat: "html", Timeout: "soon"}, want: "timeout"},
		{name: "negative timeout", body: SubmitRequest{InputPath: "/a.md", TargetFormat: "html", Timeout: "-1s"}, want: "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{}
			h := newTestServer(Config{}, Deps{Submitter: sub})

			rec := doJSON(t, h, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Nil(t, sub.last(), "nothing submitted")
		})
	}
}

func TestSubmitErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid argument", fmt.Errorf("%w: target format is empty", dispatch.ErrInvalidArgument), http.StatusBadRequest},
		{"queue full", fmt.Errorf("%w: queue full (capacity 1)", dispatch.ErrRejected), http.StatusServiceUnavailable},
		{"closed", fmt.Errorf("%w: %w", dispatch.ErrRejected, dispatch.ErrClosed), http.StatusServiceUnavailable},
		{"unreadable input", fmt.Errorf("fingerprint /x: %w", fingerprint.ErrUnreadable), http.StatusUnprocessableEntity},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{submit: func(context.Context, *job.Job) (job.Result, error) { return job.Result{}, tt.err }}
			h := newTestServer(Config{}, Deps{Submitter: sub})

			rec := doJSON(t, h, http.MethodPost, "/jobs", SubmitRequest{InputPath: "/a.md", TargetFormat: "html"})
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestSubmitSyncSemaphore(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	sub := &stubSubmitter{submit: func(ctx context.Context, j *job.Job) (job.Result, error) {
		entered <- struct{}{}
		<-release
		return job.Result{Success: true}, nil
	}}
	h := newTestServer(Config{MaxConcurrentSync: 1}, Deps{Submitter: sub})

	first := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"input_path":"/a.md","target_format":"html"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		first <- rec.Code
	}()
	<-entered

	rec := doJSON(t, h, http.MethodPost, "/jobs", SubmitRequest{InputPath: "/b.md", TargetFormat: "html"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestListJobs(t *testing.T) {
	hist := &stubHistory{entries: []history.Entry{
		{JobID: "j2", InputPath: "/in/b.csv", TargetFormat: "md", Status: job.StatusSucceeded, Duration: 2 * time.Second},
		{JobID: "j1", InputPath: "/in/a.csv", TargetFormat: "md", Status: job.StatusFailed, ErrorCode: "PARSE_FAILED"},
	}}
	h := newTestServer(Config{}, Deps{History: hist})

	rec := doJSON(t, h, http.MethodGet, "/jobs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "j2", resp.Jobs[0].JobID)
	assert.EqualValues(t, 2000, resp.Jobs[0].DurationMS)
	assert.Equal(t, 1, hist.gotLimit)

	rec = doJSON(t, h, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, history.DefaultLimit, hist.gotLimit)

	rec = doJSON(t, h, http.MethodGet, "/jobs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	hist := &stubHistory{entries: []history.Entry{{JobID: "j1", Status: job.StatusFailed, ErrorCode: "PARSE_FAILED"}}}
	h := newTestServer(Config{}, Deps{History: hist})

	rec := doJSON(t, h, http.MethodGet, "/jobs/j1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "PARSE_FAILED", entry.ErrorCode)

	rec = doJSON(t, h, http.MethodGet, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	h := newTestServer(Config{}, Deps{})
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/jobs", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/jobs/x", nil).Code)
}

func TestListConvertersAndOpenAPI(t *testing.T) {
	catalog := stubCatalog{
		{Name: "sheet", Extensions: []string{".csv", ".tsv"}, Source: "builtin"},
		{Name: "office", Extensions: []string{".docx", ".csv"}, Source: "plugin:/plugins/office"},
	}
	h := newTestServer(Config{}, Deps{Converters: catalog})

	rec := doJSON(t, h, http.MethodGet, "/converters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ConverterListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []converter.Info(catalog), resp.Converters)

	doc := buildOpenAPIDoc(catalog)
	props := doc["components"].(map[string]any)["schemas"].(map[string]any)["SubmitRequest"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, []string{".csv", ".docx", ".tsv"}, props["input_path"].(map[string]any)["x-extensions"])

	rec = doJSON(t, h, http.MethodGet, "/openapi.json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"submitJob"`)
}
