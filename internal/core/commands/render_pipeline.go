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

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RenderPipeline encodes the crop plan, falling through the render tiers
// until one produces a valid file in outputDir.
type RenderPipeline struct {
	cor.BaseCommand
	strategies     []render.Strategy
	outputDir      string
	minOutputBytes int64
	timeout        time.Duration
	tierCounter    metric.Int64Counter
}

func NewRenderPipeline(name string, strategies []render.Strategy, outputDir string, minOutputBytes int64, timeout time.Duration) *RenderPipeline {
	out := &RenderPipeline{
		BaseCommand:    *cor.NewBaseCommand(name),
		strategies:     strategies,
		outputDir:      outputDir,
		minOutputBytes: minOutputBytes,
		timeout:        timeout,
	}
	out.tierCounter, _ = out.GetMeter().Int64Counter(name + ".tier.used")
	return out
}

// OutputFileName names a job's published output, e.g. "<id>-9x16.mp4".
func OutputFileName(job *model.ReframeJob) string {
	return fmt.Sprintf("%s-%s.mp4", job.ID, strings.ReplaceAll(job.TargetAspectRatio.String(), ":", "x"))
}

func (r *RenderPipeline) IsExecutable(context cor.Context) bool {
	return stageExecutable(&r.BaseCommand, context)
}

func (r *RenderPipeline) Execute(context cor.Context) {
	job, err := enterStage(context, model.StatusRendering)
	if err != nil {
		r.Fail(context, err)
		return
	}
	plan := context.Get(r.GetInputParam()).(model.CropPlan)

	workspace := context.GetWorkspace()
	if workspace == "" {
		workspace = os.TempDir()
	}
	// Outputs outlive the workspace, so they never default into it.
	outputDir := r.outputDir
	if outputDir == "" {
		outputDir = filepath.Join(os.TempDir(), "reframe-output")
	}

	in := &render.Input{
		Source:         job.SourcePath,
		Plan:           plan,
		Quality:        job.Options.QualityTier,
		WorkDir:        filepath.Join(workspace, "render"),
		OutputPath:     filepath.Join(outputDir, OutputFileName(job)),
		MinOutputBytes: r.minOutputBytes,
		Timeout:        r.timeout,
	}
	if context.GetWorkspace() == "" {
		context.AddTempFile(in.WorkDir)
	}

	pipeline := render.NewPipeline(r.strategies...).OnTier(func(tier int) {
		job.SetRenderingTier(tier)
		Publish(context, model.ProgressEvent{Tier: tier, Message: "render tier started"})
	})
	winner, attempts, err := pipeline.Run(context.GetContext(), in)
	context.Add(attemptsParam, attempts)
	if err != nil {
		slog.ErrorContext(context.GetContext(), "render failed", "job_id", job.ID, "attempts", len(attempts), "error", err)
		r.Fail(context, err)
		return
	}

	trace.SpanFromContext(context.GetContext()).SetAttributes(attribute.Int("render.tier", winner.Tier))
	r.tierCounter.Add(context.GetContext(), 1, metric.WithAttributes(attribute.Int("tier", winner.Tier)))
	r.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(winnerParam, winner)
	context.Add(r.GetOutputParam(), winner)
}
