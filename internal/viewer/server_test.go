package viewer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cellglm/internal/analysis"
	"github.com/banshee-data/cellglm/internal/fsutil"
	"github.com/banshee-data/cellglm/internal/glm"
	"github.com/banshee-data/cellglm/internal/testutil"
	"github.com/banshee-data/cellglm/internal/worker"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	root := t.TempDir()
	testutil.WriteSession(t, fsutil.OSFileSystem{}, filepath.Join(root, "rat1"), 7, nil)
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	srv := NewServer(Options{
		DataRoot: root,
		OutDir:   filepath.Join(t.TempDir(), "figures"),
		Settings: analysis.DefaultSettings(),
		Family:   glm.Poisson,
		Graph:    analysis.Rate,
	})
	t.Cleanup(srv.Close)
	return srv, srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func loadRat1(t *testing.T, h http.Handler) sessionResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/session", `{"paths":["rat1"],"tetrode":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[sessionResponse](t, rec)
}

func startFit(t *testing.T, srv *Server, h http.Handler, body string) *worker.Job {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/fit", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[map[string]string](t, rec)
	job, ok := srv.runner.Job(resp["job_id"])
	require.True(t, ok)
	assert.Equal(t, "/api/jobs/"+job.ID+"/events", resp["events"])
	return job
}

func waitJob(t *testing.T, job *worker.Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestIndexPage(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "synthetic")
	assert.Contains(t, body, `data-tetrodes="1"`)
	assert.Contains(t, body, "Rate_vs_Speed")
	assert.Contains(t, body, "Inverse Gaussian")

	rec = doJSON(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSessionsEndpoint(t *testing.T) {
	srv, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	type sessionsResponse struct {
		Root     string         `json:"root"`
		Sessions []SessionEntry `json:"sessions"`
	}
	resp := decode[sessionsResponse](t, rec)
	assert.Equal(t, srv.opts.DataRoot, resp.Root)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "synthetic", resp.Sessions[0].Name)
	assert.Equal(t, filepath.Join(srv.opts.DataRoot, "rat1"), resp.Sessions[0].Dir)
	assert.Equal(t, []int{1}, resp.Sessions[0].Tetrodes)
}

func TestLoadSession(t *testing.T) {
	_, h := newTestServer(t)

	first := loadRat1(t, h)
	assert.Equal(t, "synthetic", first.Session)
	assert.Equal(t, 1, first.Tetrode)
	assert.Equal(t, []int{1, 2, 3}, first.Cells)
	assert.Equal(t, 400.0, first.PixelsPerMetre)
	assert.Positive(t, first.Spikes)
	assert.InDelta(t, 60, first.Duration, 1)
	assert.False(t, first.Reused)

	second := loadRat1(t, h)
	assert.True(t, second.Reused)

	rec := doJSON(t, h, http.MethodPost, "/api/session", `{"paths":["rat1"],"pixels_per_metre":250}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[sessionResponse](t, rec)
	assert.False(t, resp.Reused)
	assert.Equal(t, 250.0, resp.PixelsPerMetre)

	rec = doJSON(t, h, http.MethodGet, "/api/cells", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{1, 2, 3}, decode[sessionResponse](t, rec).Cells)
}

func TestLoadSessionErrors(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantError  string
	}{
		{"get not allowed", http.MethodGet, "", http.StatusMethodNotAllowed, "Method not allowed"},
		{"bad json", http.MethodPost, `{"paths":`, http.StatusBadRequest, "invalid request body"},
		{"unknown field", http.MethodPost, `{"path":"rat1"}`, http.StatusBadRequest, "invalid request body"},
		{"no paths", http.MethodPost, `{"paths":[]}`, http.StatusBadRequest, "no session paths"},
		{"escapes root", http.MethodPost, `{"paths":["../elsewhere"]}`, http.StatusBadRequest, "path traversal"},
		{"incomplete", http.MethodPost, `{"paths":["empty"]}`, http.StatusBadRequest, "not found in the directory"},
		{"zero ppm", http.MethodPost, `{"paths":["rat1"],"pixels_per_metre":0}`, http.StatusBadRequest, "pixels per metre"},
		{"missing tetrode", http.MethodPost, `{"paths":["rat1"],"tetrode":4}`, http.StatusBadRequest, "tetrode not in session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, tt.method, "/api/session", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, decode[map[string]string](t, rec)["error"], tt.wantError)
		})
	}

	rec := doJSON(t, h, http.MethodGet, "/api/cells", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoadSessionRejectsLinksOutsideRoot(t *testing.T) {
	srv, h := newTestServer(t)

	outside := testutil.WriteSession(t, fsutil.OSFileSystem{}, t.TempDir(), 3, nil)
	linked := filepath.Join(srv.opts.DataRoot, "linked")
	require.NoError(t, os.Mkdir(linked, 0o755))
	targets := []string{outside.Pos}
	for _, tf := range outside.Tetrodes {
		targets = append(targets, tf.Tetrode, tf.Cut)
	}
	for _, target := range targets {
		if err := os.Symlink(target, filepath.Join(linked, filepath.Base(target))); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}

	rec := doJSON(t, h, http.MethodPost, "/api/session", `{"paths":["linked"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "path traversal")
	assert.Nil(t, srv.cache.Current())
}

func TestFitLifecycle(t *testing.T) {
	srv, h := newTestServer(t)
	loadRat1(t, h)

	job := startFit(t, srv, h, `{"cell":2,"family":"Poisson","graph":"Rate_vs_Speed"}`)
	waitJob(t, job)

	rec := doJSON(t, h, http.MethodGet, "/api/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[jobResponse](t, rec)
	assert.Equal(t, worker.StatusDone, resp.Job.Status)
	assert.Equal(t, 100, resp.Job.Progress)
	assert.Equal(t, "synthetic T1 cell 2: Poisson GLM", resp.Title)
	require.NotNil(t, resp.Fit)
	assert.Equal(t, glm.Poisson, resp.Fit.Family)
	assert.Len(t, resp.Fit.Params, 2)
	require.NotNil(t, resp.PseudoR2)
	assert.Equal(t, "/chart/"+job.ID, resp.Chart)
	assert.Equal(t, "/plot/"+job.ID+".png", resp.Image)

	out := job.Output()
	require.NotNil(t, out)
	assert.Equal(t, analysis.RateVsSpeed, out.Request.Graph)

	rec = doJSON(t, h, http.MethodGet, "/chart/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "echarts")

	rec = doJSON(t, h, http.MethodGet, "/plot/"+job.ID+".png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = doJSON(t, h, http.MethodPost, "/api/save/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[map[string]string](t, rec)["path"]
	assert.Equal(t, srv.opts.OutDir, filepath.Dir(saved))
	info, err := os.Stat(saved)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestFitDefaultsFromOptions(t *testing.T) {
	srv, h := newTestServer(t)
	loadRat1(t, h)

	job := startFit(t, srv, h, `{"cell":1}`)
	waitJob(t, job)
	out := job.Output()
	require.NotNil(t, out)
	assert.Equal(t, analysis.Request{Cell: 1, Family: glm.Poisson, Graph: analysis.Rate}, out.Request)
}

func TestFitErrors(t *testing.T) {
	srv, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/fit", `{"cell":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	loadRat1(t, h)
	rec = doJSON(t, h, http.MethodPost, "/api/fit", `{"cell":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "available [1 2 3]")

	rec = doJSON(t, h, http.MethodPost, "/api/fit", `{"cell":1,"family":"Weibull"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/fit", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/jobs/not-a-job", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A gamma model cannot fit a rate with empty bins.
	job := startFit(t, srv, h, `{"cell":1,"family":"Gamma"}`)
	waitJob(t, job)
	assert.Equal(t, worker.StatusFailed, job.Snapshot().Status)

	for _, path := range []string{"/chart/" + job.ID, "/plot/" + job.ID + ".png"} {
		rec = doJSON(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusConflict, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "job is failed", path)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/save/"+job.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobEvents(t *testing.T) {
	srv, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()
	loadRat1(t, h)

	job := startFit(t, srv, h, `{"cell":3,"family":"Negative Binomial"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/jobs/"+job.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []worker.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		payload, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev worker.Event
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, job.ID, last.JobID)
	assert.Equal(t, worker.StatusDone, last.Status)
	assert.Equal(t, 100, last.Progress)
	for _, ev := range events {
		assert.Equal(t, job.ID, ev.JobID)
	}
}

func TestDebugRoutes(t *testing.T) {
	_, h := newTestServer(t)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, testutil.LocalRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/debug/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no session loaded")

	loadRat1(t, h)
	rec = get("/debug/session")
	assert.Contains(t, rec.Body.String(), "cells:            [1 2 3]")

	rec = get("/debug/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<table>")
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	loadRat1(t, h)

	rec := doJSON(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "cellglm_sessions_indexed")
	assert.Contains(t, body, `cellglm_session_loads_total{outcome="loaded"}`)
	assert.Contains(t, body, "cellglm_http_requests_total")
}
