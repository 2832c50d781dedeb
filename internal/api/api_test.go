// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-reframe/internal/api"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/services"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submission struct {
	source  string
	aspect  model.AspectRatio
	options model.Options
}

type fakeEngine struct {
	mu        sync.Mutex
	jobs      map[workflow.JobHandle]*model.ReframeJob
	results   map[workflow.JobHandle]*model.ReframeResult
	events    map[workflow.JobHandle][]model.ProgressEvent
	unsubs    int
	submitted []submission
	released  []workflow.JobHandle
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		jobs:    make(map[workflow.JobHandle]*model.ReframeJob),
		results: make(map[workflow.JobHandle]*model.ReframeResult),
		events:  make(map[workflow.JobHandle][]model.ProgressEvent),
	}
}

func (f *fakeEngine) Submit(_ context.Context, source string, aspect model.AspectRatio, options model.Options) (workflow.JobHandle, error) {
	if err := options.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := workflow.JobHandle(fmt.Sprintf("job-%d", len(f.submitted)+1))
	f.submitted = append(f.submitted, submission{source, aspect, options})
	f.jobs[handle] = model.NewReframeJob(string(handle), source, aspect, options)
	return handle, nil
}

func (f *fakeEngine) Poll(handle workflow.JobHandle) (model.Status, *model.ReframeResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[handle]
	if !ok {
		return "", nil, false
	}
	result, done := f.results[handle]
	return job.Status(), result, done
}

func (f *fakeEngine) Job(handle workflow.JobHandle) (*model.ReframeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[handle]
	if !ok {
		return nil, workflow.ErrUnknownJob
	}
	return job, nil
}

func (f *fakeEngine) Subscribe(handle workflow.JobHandle) (<-chan model.ProgressEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[handle]; !ok {
		return nil, nil, workflow.ErrUnknownJob
	}
	scripted := f.events[handle]
	ch := make(chan model.ProgressEvent, len(scripted))
	for _, event := range scripted {
		ch <- event
	}
	close(ch)
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs++
	}, nil
}

func (f *fakeEngine) Cancel(handle workflow.JobHandle) error {
	job, err := f.Job(handle)
	if err != nil {
		return err
	}
	return job.Cancel("cancelled by request")
}

func (f *fakeEngine) Release(handle workflow.JobHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, handle)
	f.released = append(f.released, handle)
}

func (f *fakeEngine) Stats() workflow.EngineStats {
	return workflow.EngineStats{Submitted: 3, Running: 1, Completed: 2}
}

// complete drives a tracked job to completed and records its result.
func (f *fakeEngine) complete(t *testing.T, handle workflow.JobHandle) *model.ReframeResult {
	t.Helper()
	job, err := f.Job(handle)
	require.NoError(t, err)
	for _, status := range []model.Status{
		model.StatusProbing, model.StatusSampling, model.StatusAnalyzing,
		model.StatusSmoothing, model.StatusPlanning, model.StatusRendering, model.StatusCompleted,
	} {
		require.NoError(t, job.Transition(status))
	}
	result := &model.ReframeResult{JobID: job.ID, Success: true, OutputPath: "/out/" + job.ID + ".mp4"}
	f.mu.Lock()
	f.results[handle] = result
	f.mu.Unlock()
	return result
}

type fakeResults struct {
	records map[string]*model.ResultRecord
	signErr error
	signed  []string
}

func (f *fakeResults) Get(_ context.Context, jobID string) (*model.ResultRecord, error) {
	record, ok := f.records[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrResultNotFound, jobID)
	}
	return record, nil
}

func (f *fakeResults) GenerateSignedURL(_ context.Context, uri string, expires time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	f.signed = append(f.signed, uri)
	return fmt.Sprintf("https://signed.example/%s?ttl=%d", strings.TrimPrefix(uri, "gs://"), int(expires.Seconds())), nil
}

func newRouter(engine *fakeEngine, results api.ResultStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &api.Handlers{
		Engine:        engine,
		Results:       results,
		InputRoot:     "/videos",
		DefaultAspect: model.AspectPortrait,
		Defaults:      model.DefaultOptions(),
	}
	h.Register(r.Group("/api/v1"))
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitAppliesDefaults(t *testing.T) {
	engine := newFakeEngine()
	r := newRouter(engine, nil)

	w := do(r, http.MethodPost, "/api/v1/reframe", `{"sourcePath":"/videos/in.mp4","options":{"mode":"static"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "/api/v1/reframe/job-1", w.Header().Get("Location"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "job-1", body["jobId"])

	require.Len(t, engine.submitted, 1)
	got := engine.submitted[0]
	want := model.DefaultOptions()
	want.Mode = model.ModeStatic
	assert.Equal(t, "/videos/in.mp4", got.source)
	assert.Equal(t, model.AspectPortrait, got.aspect)
	assert.Equal(t, want, got.options)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	r := newRouter(newFakeEngine(), nil)
	for name, body := range map[string]string{
		"missing source": `{"aspectRatio":"9:16"}`,
		"bad aspect":     `{"sourcePath":"/videos/in.mp4","aspectRatio":"21:9"}`,
		"bad options":    `{"sourcePath":"/videos/in.mp4","options":{"smoothingFactor":2}}`,
		"not json":       `sourcePath=/videos/in.mp4`,
	} {
		w := do(r, http.MethodPost, "/api/v1/reframe", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestSubmitConfinesSourceToInputRoot(t *testing.T) {
	engine := newFakeEngine()
	r := newRouter(engine, nil)
	for _, path := range []string{"/etc/passwd", "../etc/passwd", "/videos/../etc/passwd", "/videos", "/videos-other/a.mp4"} {
		w := do(r, http.MethodPost, "/api/v1/reframe", `{"sourcePath":"`+path+`"}`)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
	assert.Empty(t, engine.submitted)

	w := do(r, http.MethodPost, "/api/v1/reframe", `{"sourcePath":"clips/a.mp4"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, engine.submitted, 1)
	assert.Equal(t, "/videos/clips/a.mp4", engine.submitted[0].source)
}

func TestSubmitRefusedWithoutInputRoot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	engine := newFakeEngine()
	h := &api.Handlers{Engine: engine, DefaultAspect: model.AspectPortrait, Defaults: model.DefaultOptions()}
	h.Register(r.Group("/api/v1"))

	w := do(r, http.MethodPost, "/api/v1/reframe", `{"sourcePath":"/videos/in.mp4"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, engine.submitted)
}

func TestResolveSourceRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.mp4")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(root, "link.mp4")))
	inside := filepath.Join(root, "clip.mp4")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o600))

	_, err := api.ResolveSource(root, "link.mp4")
	assert.ErrorIs(t, err, api.ErrSourceNotAllowed)

	got, err := api.ResolveSource(root, inside)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(inside)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStatusIncludesResultWhenDone(t *testing.T) {
	engine := newFakeEngine()
	r := newRouter(engine, nil)
	handle, err := engine.Submit(context.Background(), "/in.mp4", model.AspectSquare, model.DefaultOptions())
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/v1/reframe/"+string(handle), "")
	require.Equal(t, http.StatusOK, w.Code)
	var view api.JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, model.StatusPending, view.Status)
	assert.Equal(t, "1:1", view.AspectRatio)
	assert.Nil(t, view.Result)

	engine.complete(t, handle)
	w = do(r, http.MethodGet, "/api/v1/reframe/"+string(handle), "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, model.StatusCompleted, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, "/out/job-1.mp4", view.Result.OutputPath)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/reframe/nope", "").Code)
}

func TestDeleteCancelsOrReleases(t *testing.T) {
	engine := newFakeEngine()
	r := newRouter(engine, nil)
	running, _ := engine.Submit(context.Background(), "/a.mp4", model.AspectPortrait, model.DefaultOptions())
	finished, _ := engine.Submit(context.Background(), "/b.mp4", model.AspectPortrait, model.DefaultOptions())
	engine.complete(t, finished)

	w := do(r, http.MethodDelete, "/api/v1/reframe/"+string(running), "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	job, err := engine.Job(running)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, job.Status())

	w = do(r, http.MethodDelete, "/api/v1/reframe/"+string(finished), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []workflow.JobHandle{finished}, engine.released)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/v1/reframe/nope", "").Code)
}

func TestEventsStreamsUntilTerminal(t *testing.T) {
	engine := newFakeEngine()
	handle, _ := engine.Submit(context.Background(), "/in.mp4", model.AspectPortrait, model.DefaultOptions())
	engine.events[handle] = []model.ProgressEvent{
		{JobID: string(handle), Status: model.StatusAnalyzing, Completed: 1, Total: 2},
		{JobID: string(handle), Status: model.StatusCompleted},
	}

	srv := httptest.NewServer(newRouter(engine, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/reframe/" + string(handle) + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(body), "event:progress"))
	assert.Contains(t, string(body), `"status":"analyzing"`)
	assert.Contains(t, string(body), `"status":"completed"`)

	resp404, err := http.Get(srv.URL + "/api/v1/reframe/nope/events")
	require.NoError(t, err)
	resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}

func TestEventsEachClientGetsFullStream(t *testing.T) {
	engine := newFakeEngine()
	handle, _ := engine.Submit(context.Background(), "/in.mp4", model.AspectPortrait, model.DefaultOptions())
	engine.events[handle] = []model.ProgressEvent{
		{JobID: string(handle), Status: model.StatusSampling},
		{JobID: string(handle), Status: model.StatusRendering, Tier: 1},
		{JobID: string(handle), Status: model.StatusCompleted, Tier: 1},
	}

	srv := httptest.NewServer(newRouter(engine, nil))
	defer srv.Close()

	const clients = 2
	bodies := make([]string, clients)
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/api/v1/reframe/" + string(handle) + "/events")
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			assert.NoError(t, err)
			bodies[i] = string(body)
		}()
	}
	wg.Wait()

	for _, body := range bodies {
		assert.Equal(t, 3, strings.Count(body, "event:progress"))
		assert.Contains(t, body, `"status":"completed"`)
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, clients, engine.unsubs)
}

func TestResults(t *testing.T) {
	results := &fakeResults{records: map[string]*model.ResultRecord{
		"ok":     {JobID: "ok", Success: true, OutputURI: "gs://out/reframed/ok-9x16.mp4"},
		"failed": {JobID: "failed", Success: false, FailureReason: "probe failed"},
	}}
	r := newRouter(newFakeEngine(), results)

	w := do(r, http.MethodGet, "/api/v1/results/ok", "")
	require.Equal(t, http.StatusOK, w.Code)
	var record model.ResultRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, "gs://out/reframed/ok-9x16.mp4", record.OutputURI)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/results/missing", "").Code)

	w = do(r, http.MethodGet, "/api/v1/results/ok/stream", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://signed.example/out/reframed/ok-9x16.mp4?ttl=900")

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/results/failed/stream", "").Code)

	results.signErr = errors.New("permission denied")
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/api/v1/results/ok/stream", "").Code)
}

func TestResultsUnconfigured(t *testing.T) {
	r := newRouter(newFakeEngine(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v1/results/x", "").Code)
}

func TestStats(t *testing.T) {
	w := do(newRouter(newFakeEngine(), nil), http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats workflow.EngineStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.Submitted)
	assert.Equal(t, int64(2), stats.Completed)
}
