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

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/media"
)

// FrameSampler extracts stills at the job's sampling rate into the frames
// directory of the workspace. Input is the probed model.VideoInfo; output is
// the ordered []model.FrameSample.
type FrameSampler struct {
	cor.BaseCommand
	extractor media.FrameExtractor
	maxFrames int
}

func NewFrameSampler(name string, extractor media.FrameExtractor, maxFrames int) *FrameSampler {
	return &FrameSampler{BaseCommand: *cor.NewBaseCommand(name), extractor: extractor, maxFrames: maxFrames}
}

func (f *FrameSampler) IsExecutable(context cor.Context) bool {
	return stageExecutable(&f.BaseCommand, context)
}

func (f *FrameSampler) Execute(context cor.Context) {
	job, err := enterStage(context, model.StatusSampling)
	if err != nil {
		f.Fail(context, err)
		return
	}
	info := context.Get(f.GetInputParam()).(model.VideoInfo)

	workspace := context.GetWorkspace()
	if workspace == "" {
		workspace = os.TempDir()
	}
	dir := filepath.Join(workspace, "frames")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.Fail(context, &model.SamplingError{Index: -1, Err: fmt.Errorf("create frames directory: %w", err)})
		return
	}
	if context.GetWorkspace() == "" {
		context.AddTempFile(dir)
	}

	sampler := media.NewFrameSampler(f.extractor, job.SourcePath, info, job.Options.SamplingRateHz, f.maxFrames, dir)
	total := sampler.Count()
	samples := make([]model.FrameSample, 0, total)
	for sample, err := range sampler.Frames(context.GetContext()) {
		if err != nil {
			slog.ErrorContext(context.GetContext(), "frame sampling failed", "job_id", job.ID, "error", err)
			f.Fail(context, err)
			return
		}
		samples = append(samples, sample)
		Publish(context, model.ProgressEvent{Completed: len(samples), Total: total, Message: "frame extracted"})
	}

	slog.InfoContext(context.GetContext(), "sampled frames", "job_id", job.ID, "frames", len(samples))
	f.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(samplesParam, samples)
	context.Add(f.GetOutputParam(), samples)
}
