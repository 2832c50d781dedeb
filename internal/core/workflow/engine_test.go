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

package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/salience"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-media-reframe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// Route engine logs to the OTel bridge; with no log provider set they are dropped.
	slog.SetDefault(otelslog.NewLogger("workflow-test"))
	// opencensus (pulled in by the Cloud clients) starts a process-lifetime worker in its package init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var source = model.VideoInfo{Width: 1920, Height: 1080, DurationSeconds: 3, FPS: 30, HasAudio: true}

type harness struct {
	engine    *workflow.Engine
	config    cloud.Reframe
	encoder   *test.FakeEncoder
	extractor *test.FakeExtractor
	prober    *test.FakeProber
}

func newHarness(t *testing.T, detector salience.FocusDetector, configure func(*harness)) *harness {
	t.Helper()
	h := &harness{
		encoder:   &test.FakeEncoder{},
		extractor: &test.FakeExtractor{},
		prober:    &test.FakeProber{Info: source},
		config: cloud.Reframe{
			TempRoot:                t.TempDir(),
			OutputDir:               t.TempDir(),
			MaxConcurrentJobs:       2,
			AnalysisWorkers:         2,
			InferenceTimeoutSeconds: 1,
			EncodeTimeoutSeconds:    5,
			MinOutputBytes:          1024,
			MaxFrames:               100,
			ProgressBuffer:          256,
		},
	}
	if configure != nil {
		configure(h)
	}
	wf := workflow.NewReframeWorkflow(h.config, workflow.Collaborators{
		Prober:    h.prober,
		Extractor: h.extractor,
		Detector:  detector,
		Encoder:   h.encoder,
	})
	h.engine = workflow.NewEngine(wf, h.config)
	t.Cleanup(h.engine.Close)
	return h
}

func steadyDetector() salience.FocusDetector {
	return salience.FocusDetectorFunc(func(_ context.Context, _ salience.FocusRequest) (*model.FocusEstimate, error) {
		return test.FocusEstimateAt(0.3, 0.5, 90), nil
	})
}

func failingDetector() salience.FocusDetector {
	return salience.FocusDetectorFunc(func(_ context.Context, _ salience.FocusRequest) (*model.FocusEstimate, error) {
		return nil, errors.New("model unavailable")
	})
}

func drain(events <-chan model.ProgressEvent) []model.Status {
	var statuses []model.Status
	for ev := range events {
		if len(statuses) == 0 || statuses[len(statuses)-1] != ev.Status {
			statuses = append(statuses, ev.Status)
		}
	}
	return statuses
}

func waitResult(t *testing.T, e *workflow.Engine, handle workflow.JobHandle) *model.ReframeResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := e.Result(ctx, handle)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func assertWorkspaceRemoved(t *testing.T, h *harness, handle workflow.JobHandle) {
	t.Helper()
	_, err := os.Stat(h.engine.WorkspaceDir(handle))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEngineCompletesJob(t *testing.T) {
	h := newHarness(t, steadyDetector(), nil)

	handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)
	events, err := h.engine.Progress(handle)
	require.NoError(t, err)

	result := waitResult(t, h.engine, handle)
	assert.True(t, result.Success)
	assert.Equal(t, string(handle), result.JobID)
	assert.Equal(t, 1, result.Diagnostics.TierUsed)
	assert.Equal(t, 3, result.Diagnostics.FramesAnalyzed)
	assert.Zero(t, result.Diagnostics.DegradedFrames)
	assert.InDelta(t, 90, result.Diagnostics.AverageConfidence, 1e-9)
	assert.InDelta(t, 1.0, result.Diagnostics.StabilityScore, 1e-9)
	assert.Equal(t, filepath.Join(h.config.OutputDir, string(handle)+"-9x16.mp4"), result.OutputPath)
	assert.FileExists(t, result.OutputPath)

	assert.Equal(t, []model.Status{
		model.StatusProbing, model.StatusSampling, model.StatusAnalyzing, model.StatusSmoothing,
		model.StatusPlanning, model.StatusRendering, model.StatusCompleted,
	}, drain(events))

	status, polled, done := h.engine.Poll(handle)
	assert.True(t, done)
	assert.Equal(t, model.StatusCompleted, status)
	assert.Same(t, result, polled)
	assertWorkspaceRemoved(t, h, handle)

	calls := h.encoder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 608, calls[0].Crop.Width)
	assert.Equal(t, 1080, calls[0].Crop.Height)
}

func TestEngineAllInferenceFailuresFallBackToCenterCrop(t *testing.T) {
	h := newHarness(t, failingDetector(), nil)

	handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)

	result := waitResult(t, h.engine, handle)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Diagnostics.TierUsed)
	assert.Equal(t, 3, result.Diagnostics.DegradedFrames)
	assert.Zero(t, result.Diagnostics.AverageConfidence)
	require.Len(t, result.Diagnostics.RenderAttempts, 4)
	for _, a := range result.Diagnostics.RenderAttempts[:3] {
		assert.True(t, a.Skipped)
	}
	calls := h.encoder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 656, calls[0].Crop.X)
}

func TestEngineProbeFailureFailsJob(t *testing.T) {
	h := newHarness(t, steadyDetector(), func(h *harness) { h.prober.Err = errors.New("moov atom not found") })

	handle, err := h.engine.Submit(context.Background(), "/videos/broken.mp4", model.AspectSquare, model.DefaultOptions())
	require.NoError(t, err)

	result := waitResult(t, h.engine, handle)
	assert.False(t, result.Success)
	assert.Contains(t, result.FailureReason, "moov atom not found")
	assert.Empty(t, result.OutputPath)

	job, err := h.engine.Job(handle)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status())
	assert.Equal(t, result.FailureReason, job.FailureReason())
	assertWorkspaceRemoved(t, h, handle)
}

func TestEngineSamplingFailureFailsJob(t *testing.T) {
	h := newHarness(t, steadyDetector(), func(h *harness) { h.extractor.FailAt = 2 })

	handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)

	result := waitResult(t, h.engine, handle)
	assert.False(t, result.Success)
	status, _, done := h.engine.Poll(handle)
	assert.True(t, done)
	assert.Equal(t, model.StatusFailed, status)
	assert.Contains(t, result.FailureReason, "sampl")
}

func TestEngineRenderExhaustionFailsJob(t *testing.T) {
	h := newHarness(t, steadyDetector(), func(h *harness) { h.encoder.FailAll = true })

	handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectLandscape, model.DefaultOptions())
	require.NoError(t, err)

	result := waitResult(t, h.engine, handle)
	assert.False(t, result.Success)
	assert.Len(t, result.Diagnostics.RenderAttempts, 4)
	assert.Zero(t, result.Diagnostics.TierUsed)
	status, _, _ := h.engine.Poll(handle)
	assert.Equal(t, model.StatusFailed, status)
}

func TestEngineCancelStopsAnalysis(t *testing.T) {
	started := make(chan struct{}, 16)
	detector := salience.FocusDetectorFunc(func(ctx context.Context, _ salience.FocusRequest) (*model.FocusEstimate, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, detector, func(h *harness) { h.config.InferenceTimeoutSeconds = 30 })

	handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)

	<-started
	require.NoError(t, h.engine.Cancel(handle))

	result := waitResult(t, h.engine, handle)
	assert.False(t, result.Success)
	status, _, _ := h.engine.Poll(handle)
	assert.Equal(t, model.StatusCancelled, status)
	assert.Empty(t, h.encoder.Calls())
	assertWorkspaceRemoved(t, h, handle)

	assert.ErrorIs(t, h.engine.Cancel(handle), model.ErrInvalidTransition)
}

func TestEngineCancelKillsEncode(t *testing.T) {
	h := newHarness(t, steadyDetector(), func(h *harness) { h.encoder.Hold = make(chan struct{}) })

	handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)
	events, err := h.engine.Progress(handle)
	require.NoError(t, err)

	for ev := range events {
		if ev.Status == model.StatusRendering && ev.Tier == 1 {
			require.NoError(t, h.engine.Cancel(handle))
			break
		}
	}

	result := waitResult(t, h.engine, handle)
	assert.False(t, result.Success)
	status, _, _ := h.engine.Poll(handle)
	assert.Equal(t, model.StatusCancelled, status)
	entries, _ := os.ReadDir(h.config.OutputDir)
	assert.Empty(t, entries)
}

func TestEngineSubscribersEachSeeTerminalEvent(t *testing.T) {
	started := make(chan struct{}, 16)
	gate := make(chan struct{})
	detector := salience.FocusDetectorFunc(func(ctx context.Context, _ salience.FocusRequest) (*model.FocusEstimate, error) {
		started <- struct{}{}
		select {
		case <-gate:
			return test.FocusEstimateAt(0.3, 0.5, 90), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	h := newHarness(t, detector, func(h *harness) { h.config.InferenceTimeoutSeconds = 30 })

	handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)
	<-started

	first, unsubscribeFirst, err := h.engine.Subscribe(handle)
	require.NoError(t, err)
	defer unsubscribeFirst()
	second, unsubscribeSecond, err := h.engine.Subscribe(handle)
	require.NoError(t, err)
	defer unsubscribeSecond()
	dropped, unsubscribeDropped, err := h.engine.Subscribe(handle)
	require.NoError(t, err)
	unsubscribeDropped()
	_, open := <-dropped
	assert.False(t, open)

	close(gate)
	assert.True(t, waitResult(t, h.engine, handle).Success)

	want := []model.Status{model.StatusAnalyzing, model.StatusSmoothing, model.StatusPlanning, model.StatusRendering, model.StatusCompleted}
	assert.Equal(t, want, drain(first))
	assert.Equal(t, want, drain(second))

	late, unsubscribeLate, err := h.engine.Subscribe(handle)
	require.NoError(t, err)
	defer unsubscribeLate()
	event, ok := <-late
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, event.Status)
	assert.Equal(t, 1, event.Tier)
	_, ok = <-late
	assert.False(t, ok)

	_, _, err = h.engine.Subscribe("missing")
	assert.ErrorIs(t, err, workflow.ErrUnknownJob)
}

func TestEngineSubmitValidation(t *testing.T) {
	h := newHarness(t, steadyDetector(), nil)

	_, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectRatio{Width: 5, Height: 4}, model.DefaultOptions())
	assert.ErrorIs(t, err, model.ErrUnsupportedAspectRatio)

	bad := model.DefaultOptions()
	bad.SmoothingFactor = 1.5
	_, err = h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, bad)
	assert.ErrorIs(t, err, model.ErrInvalidOptions)

	_, err = h.engine.Submit(context.Background(), "", model.AspectPortrait, model.DefaultOptions())
	assert.ErrorIs(t, err, model.ErrInvalidOptions)

	_, err = h.engine.Result(context.Background(), "missing")
	assert.ErrorIs(t, err, workflow.ErrUnknownJob)
	status, result, done := h.engine.Poll("missing")
	assert.Empty(t, status)
	assert.Nil(t, result)
	assert.False(t, done)
}

func TestEngineBoundsConcurrentJobs(t *testing.T) {
	h := newHarness(t, steadyDetector(), func(h *harness) { h.config.MaxConcurrentJobs = 1 })

	var handles []workflow.JobHandle
	for range 3 {
		handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectSquare, model.DefaultOptions())
		require.NoError(t, err)
		handles = append(handles, handle)
	}
	for _, handle := range handles {
		assert.True(t, waitResult(t, h.engine, handle).Success)
	}
	assert.EqualValues(t, 1, h.encoder.MaxActive.Load())

	stats := h.engine.Stats()
	assert.EqualValues(t, 3, stats.Submitted)
	assert.EqualValues(t, 3, stats.Completed)
	assert.Equal(t, 3, stats.Tracked)

	h.engine.Release(handles[0])
	assert.Equal(t, 2, h.engine.Stats().Tracked)
}

func TestEngineReframe(t *testing.T) {
	h := newHarness(t, steadyDetector(), nil)

	job, result, err := h.engine.Reframe(context.Background(), "/videos/in.mp4", model.AspectClassic, model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status())
	assert.True(t, result.Success)
	assert.Zero(t, h.engine.Stats().Tracked)
}

func TestEngineCloseCancelsRunningJobs(t *testing.T) {
	h := newHarness(t, steadyDetector(), func(h *harness) { h.encoder.Hold = make(chan struct{}) })

	handle, err := h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)
	h.engine.Close()

	status, result, done := h.engine.Poll(handle)
	assert.True(t, done)
	assert.Equal(t, model.StatusCancelled, status)
	assert.False(t, result.Success)

	_, err = h.engine.Submit(context.Background(), "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	assert.ErrorIs(t, err, workflow.ErrEngineClosed)
}
