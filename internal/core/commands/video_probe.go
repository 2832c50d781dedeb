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
	"log/slog"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/media"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// VideoProbe reads the source's dimensions, duration, frame rate and audio
// presence. The input parameter is the local source path.
type VideoProbe struct {
	cor.BaseCommand
	prober media.Prober
}

func NewVideoProbe(name string, prober media.Prober) *VideoProbe {
	return &VideoProbe{BaseCommand: *cor.NewBaseCommand(name), prober: prober}
}

func (v *VideoProbe) IsExecutable(context cor.Context) bool {
	return stageExecutable(&v.BaseCommand, context)
}

func (v *VideoProbe) Execute(context cor.Context) {
	job, err := enterStage(context, model.StatusProbing)
	if err != nil {
		v.Fail(context, err)
		return
	}
	path := context.Get(v.GetInputParam()).(string)

	info, err := v.prober.Probe(context.GetContext(), path)
	if err != nil {
		slog.ErrorContext(context.GetContext(), "probe failed", "job_id", job.ID, "path", path, "error", err)
		v.Fail(context, err)
		return
	}

	trace.SpanFromContext(context.GetContext()).SetAttributes(
		attribute.Int("video.width", info.Width),
		attribute.Int("video.height", info.Height),
		attribute.Float64("video.duration", info.DurationSeconds),
		attribute.Bool("video.audio", info.HasAudio),
	)
	slog.InfoContext(context.GetContext(), "probed source",
		"job_id", job.ID, "width", info.Width, "height", info.Height,
		"duration", info.DurationSeconds, "fps", info.FPS, "audio", info.HasAudio)

	v.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(videoInfoParam, *info)
	context.Add(v.GetOutputParam(), *info)
}
