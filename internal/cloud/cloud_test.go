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

package cloud_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	test "github.com/jaycherian/gcp-go-media-reframe/internal/testutil"
	"github.com/zeebo/assert"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/genai"
)

func TestLoadConfigOverlaysRuntime(t *testing.T) {
	t.Setenv(cloud.EnvConfigFilePrefix, test.ConfigDir())
	t.Setenv(cloud.EnvConfigRuntime, "test")

	config := cloud.NewConfig()
	assert.NoError(t, cloud.LoadConfig(config))

	// Base values survive.
	assert.Equal(t, config.Storage.OutputBucket, "media-reframe-output")
	assert.Equal(t, config.BigQueryDataSource.ResultTable, "reframe_results")
	assert.Equal(t, config.Reframe.DefaultAspectRatio, "9:16")
	assert.Equal(t, config.Reframe.Defaults.Mode, model.ModeDynamic)
	// Overlay values win.
	assert.Equal(t, config.Application.GoogleProjectId, "media-reframe-test")
	assert.Equal(t, config.Reframe.AnalysisWorkers, 2)
	assert.Equal(t, config.Reframe.Defaults.ConfidenceThreshold, 50)
	assert.Equal(t, config.Telemetry.Exporter, "none")
	assert.Equal(t, config.AgentModels["focus-flash"].RateLimit, 100)
	assert.Equal(t, config.TopicSubscriptions["ReframeTopic"].Name, "media-reframe-input-test-sub")
	assert.NoError(t, config.Reframe.Defaults.Validate())
}

func TestLoadConfigMissingFilesKeepsDefaults(t *testing.T) {
	t.Setenv(cloud.EnvConfigFilePrefix, t.TempDir())
	t.Setenv(cloud.EnvConfigRuntime, "nowhere")

	config := cloud.NewConfig()
	assert.NoError(t, cloud.LoadConfig(config))
	assert.Equal(t, config.Reframe.MaxConcurrentJobs, 2)
	assert.Equal(t, config.Reframe.Defaults, model.DefaultOptions())
}

func TestLoadConfigRejectsBadToml(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, ".env.toml"), []byte("[reframe\nmax_frames = "), 0o644))
	t.Setenv(cloud.EnvConfigFilePrefix, dir)

	assert.Error(t, cloud.LoadConfig(cloud.NewConfig()))
}

func TestStripCodeFence(t *testing.T) {
	for in, want := range map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{}\n```":            `{}`,
		"  {\"b\":2}  ":           `{"b":2}`,
	} {
		assert.Equal(t, cloud.StripCodeFence(in), want)
	}
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := cloud.ParseGCSURI("gs://media-reframe-output/reframed/a/b-9x16.mp4")
	assert.NoError(t, err)
	assert.Equal(t, bucket, "media-reframe-output")
	assert.Equal(t, object, "reframed/a/b-9x16.mp4")
	assert.Equal(t, cloud.GCSURI(bucket, object), "gs://media-reframe-output/reframed/a/b-9x16.mp4")

	for _, bad := range []string{"", "https://x/y", "gs://bucket", "gs:///object", "gs://bucket/"} {
		_, _, err := cloud.ParseGCSURI(bad)
		assert.Error(t, err)
	}
}

type cannedGenerator struct {
	calls int
	resp  *genai.GenerateContentResponse
	err   error
}

func (c *cannedGenerator) GenerateContent(_ context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	c.calls++
	return c.resp, c.err
}

func counters(t *testing.T) (in, out, retry metric.Int64Counter) {
	t.Helper()
	meter := noop.NewMeterProvider().Meter("test")
	in, _ = meter.Int64Counter("in")
	out, _ = meter.Int64Counter("out")
	retry, _ = meter.Int64Counter("retry")
	return in, out, retry
}

func TestGenerateMultiModalResponseJoinsCandidates(t *testing.T) {
	gen := &cannedGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "```json\n{\"box_2d\":"},
			{Text: "[1,2,3,4]}\n```"},
		}}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 4},
	}}
	quota := cloud.NewQuotaAwareModel(&genai.GenerateContentConfig{}, "gemini-test", gen, 0)
	in, out, retry := counters(t)

	got, err := cloud.GenerateMultiModalResponse(context.Background(), in, out, retry, 0, quota,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{cloud.NewTextPart("hi")}}})
	assert.NoError(t, err)
	assert.Equal(t, got, `{"box_2d":[1,2,3,4]}`)
	assert.Equal(t, gen.calls, 1)
}

func TestGenerateMultiModalResponseStopsOnCancelledContext(t *testing.T) {
	gen := &cannedGenerator{err: errors.New("unavailable")}
	quota := cloud.NewQuotaAwareModel(&genai.GenerateContentConfig{}, "gemini-test", gen, 1)
	in, out, retry := counters(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cloud.GenerateMultiModalResponse(ctx, in, out, retry, 0, quota, nil)
	assert.Error(t, err)
	assert.Equal(t, gen.calls, 0)
}
