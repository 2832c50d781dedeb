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

package commands_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	test "github.com/jaycherian/gcp-go-media-reframe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newJobContext(t *testing.T, job *model.ReframeJob) (cor.Context, *[]model.ProgressEvent) {
	t.Helper()
	ctx := cor.NewBaseContext()
	t.Cleanup(ctx.Close)
	ctx.SetContext(context.Background())
	ctx.SetWorkspace(t.TempDir())
	ctx.Add(commands.GetJobParameterName(), job)
	events := &[]model.ProgressEvent{}
	ctx.Add(commands.GetProgressParameterName(), commands.ProgressSink(func(e model.ProgressEvent) {
		*events = append(*events, e)
	}))
	return ctx, events
}

func TestReframeTriggerToGCSObject(t *testing.T) {
	ctx := cor.NewBaseContext()
	ctx.SetContext(context.Background())
	ctx.Add(cor.CtxIn, test.GetTestReframeMessageText())

	cmd := commands.NewReframeTriggerToGCSObject("trigger")
	require.True(t, cmd.IsExecutable(ctx))
	cmd.Execute(ctx)
	require.False(t, ctx.HasErrors())

	obj := ctx.Get(cloud.GetGCSObjectName()).(*cloud.GCSObject)
	assert.Equal(t, "media_reframe_input", obj.Bucket)
	assert.Equal(t, "uploads/test-trailer-001.mp4", obj.Name)
	assert.Equal(t, "video/mp4", obj.MIMEType)
	assert.Equal(t, "1:1", obj.Metadata["aspect_ratio"])
	assert.Equal(t, "50", obj.Metadata["confidence_threshold"])
	assert.Same(t, obj, ctx.Get(cor.CtxOut))

	bad := cor.NewBaseContext()
	bad.SetContext(context.Background())
	bad.Add(cor.CtxIn, "{not json")
	cmd.Execute(bad)
	assert.True(t, bad.HasErrors())
}

func TestOptionsFromMetadata(t *testing.T) {
	aspect, options, err := commands.OptionsFromMetadata(map[string]string{
		"aspect_ratio":         "1:1",
		"mode":                 "static",
		"quality_tier":         "high",
		"sampling_rate_hz":     "2.5",
		"smoothing_factor":     "0",
		"confidence_threshold": "75",
	}, model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, model.AspectSquare, aspect)
	assert.Equal(t, model.Options{
		SamplingRateHz:      2.5,
		SmoothingFactor:     0,
		ConfidenceThreshold: 75,
		QualityTier:         model.QualityHigh,
		Mode:                model.ModeStatic,
	}, options)

	aspect, options, err = commands.OptionsFromMetadata(nil, model.AspectPortrait, model.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, model.AspectPortrait, aspect)
	assert.Equal(t, model.DefaultOptions(), options)

	_, _, err = commands.OptionsFromMetadata(map[string]string{"aspect_ratio": "21:9"}, model.AspectPortrait, model.DefaultOptions())
	assert.ErrorIs(t, err, model.ErrUnsupportedAspectRatio)
	_, _, err = commands.OptionsFromMetadata(map[string]string{"sampling_rate_hz": "fast"}, model.AspectPortrait, model.DefaultOptions())
	assert.ErrorIs(t, err, model.ErrInvalidOptions)
	_, _, err = commands.OptionsFromMetadata(map[string]string{"mode": "wobbly"}, model.AspectPortrait, model.DefaultOptions())
	assert.ErrorIs(t, err, model.ErrInvalidOptions)
}

func TestOutputObjectName(t *testing.T) {
	assert.Equal(t, "reframed/clip-9x16.mp4",
		commands.OutputObjectName("reframed", "uploads/clip.mov", "/out/6f1c2d9e-aaaa-bbbb-cccc-0123456789ab-9x16.mp4"))
	assert.Equal(t, "clip.mp4", commands.OutputObjectName("", "clip.mov", "/out/output.mp4"))
}

func TestStagesAdvanceJobAndPublishProgress(t *testing.T) {
	job := model.NewReframeJob("job-1", "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	ctx, events := newJobContext(t, job)
	ctx.Add(cor.CtxIn, job.SourcePath)

	probe := commands.NewVideoProbe("probe", &test.FakeProber{Info: model.VideoInfo{Width: 1280, Height: 720, DurationSeconds: 2, FPS: 25}})
	require.True(t, probe.IsExecutable(ctx))
	probe.Execute(ctx)
	require.False(t, ctx.HasErrors())
	assert.Equal(t, model.StatusProbing, job.Status())

	ctx.Add(cor.CtxIn, ctx.Get(cor.CtxOut))
	sampler := commands.NewFrameSampler("sampler", &test.FakeExtractor{}, 0)
	sampler.Execute(ctx)
	require.False(t, ctx.HasErrors())
	samples := ctx.Get(commands.GetSamplesParameterName()).([]model.FrameSample)
	assert.Len(t, samples, 2)
	assert.FileExists(t, samples[1].ImageRef)

	require.NotEmpty(t, *events)
	assert.Equal(t, model.StatusProbing, (*events)[0].Status)
	assert.Equal(t, "job-1", (*events)[0].JobID)
	last := (*events)[len(*events)-1]
	assert.Equal(t, model.StatusSampling, last.Status)
	assert.Equal(t, 2, last.Completed)
	assert.Equal(t, 2, last.Total)
}

func TestStageRejectsOutOfOrderTransition(t *testing.T) {
	job := model.NewReframeJob("job-2", "/videos/in.mp4", model.AspectPortrait, model.DefaultOptions())
	ctx, _ := newJobContext(t, job)
	ctx.Add(cor.CtxIn, []model.SalienceObservation{})

	commands.NewPathSmoother("smoother").Execute(ctx)
	assert.ErrorIs(t, ctx.Err(), model.ErrInvalidTransition)
	assert.Equal(t, model.StatusPending, job.Status())
}

func TestRecordFromContext(t *testing.T) {
	job := model.NewReframeJob("job-3", "/tmp/in.mp4", model.AspectSquare, model.DefaultOptions())
	ctx, _ := newJobContext(t, job)
	ctx.Add(cloud.GetGCSObjectName(), &cloud.GCSObject{Bucket: "in", Name: "a/b.mp4"})
	ctx.Add(commands.GetOutputURIParameterName(), "gs://out/reframed/b-1x1.mp4")
	ctx.Add(commands.GetResultParameterName(), &model.ReframeResult{
		JobID:       "job-3",
		Success:     true,
		OutputPath:  "/tmp/out.mp4",
		Diagnostics: model.Diagnostics{FramesAnalyzed: 4, TierUsed: 2, StabilityScore: 0.8},
	})

	record := commands.RecordFromContext(ctx)
	assert.Equal(t, "job-3", record.JobID)
	assert.Equal(t, "gs://in/a/b.mp4", record.SourceURI)
	assert.Equal(t, "gs://out/reframed/b-1x1.mp4", record.OutputURI)
	assert.Equal(t, "1:1", record.TargetAspectRatio)
	assert.Equal(t, 2, record.TierUsed)
	assert.WithinDuration(t, time.Now(), record.CreateDate, time.Minute)
}

func TestGCSFileUploadRemovesOutputWhenUploadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	output := filepath.Join(t.TempDir(), "job-1-9x16.mp4")
	require.NoError(t, os.WriteFile(output, []byte("rendered"), 0o600))

	ctx := cor.NewBaseContext()
	ctx.SetContext(context.Background())
	ctx.Add(cor.CtxIn, &model.ReframeResult{JobID: "job-1", Success: true, OutputPath: output})
	ctx.Add(cloud.GetGCSObjectName(), &cloud.GCSObject{Bucket: "in", Name: "uploads/clip.mp4"})

	upload := commands.NewGCSFileUpload("gcs-file-upload", client, "out", "reframed")
	require.True(t, upload.IsExecutable(ctx))
	upload.Execute(ctx)
	assert.True(t, ctx.HasErrors())

	ctx.Close()
	_, err = os.Stat(output)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
