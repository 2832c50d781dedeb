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
	"context"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// Reframer runs one reframe job to completion.
type Reframer interface {
	Reframe(ctx context.Context, sourcePath string, aspect model.AspectRatio, options model.Options) (*model.ReframeJob, *model.ReframeResult, error)
}

// ReframeSubmit hands the downloaded source to the engine and waits for the
// result. A job that finishes unsuccessfully is not an error here: its result
// is still persisted, and redelivering the message would fail the same way.
type ReframeSubmit struct {
	cor.BaseCommand
	reframer      Reframer
	defaultAspect model.AspectRatio
	defaults      model.Options
}

func NewReframeSubmit(name string, reframer Reframer, defaultAspect model.AspectRatio, defaults model.Options) *ReframeSubmit {
	return &ReframeSubmit{BaseCommand: *cor.NewBaseCommand(name), reframer: reframer, defaultAspect: defaultAspect, defaults: defaults}
}

func (r *ReframeSubmit) Execute(context cor.Context) {
	path := context.Get(r.GetInputParam()).(string)

	var metadata map[string]string
	if obj, ok := context.Get(cloud.GetGCSObjectName()).(*cloud.GCSObject); ok {
		metadata = obj.Metadata
	}
	aspect, options, err := OptionsFromMetadata(metadata, r.defaultAspect, r.defaults)
	if err != nil {
		r.Fail(context, fmt.Errorf("invalid reframe metadata: %w", err))
		return
	}

	job, result, err := r.reframer.Reframe(context.GetContext(), path, aspect, options)
	if err != nil {
		r.Fail(context, err)
		return
	}
	if !result.Success {
		slog.WarnContext(context.GetContext(), "reframe job did not succeed", "job_id", job.ID, "status", job.Status(), "reason", result.FailureReason)
	}

	r.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(jobParam, job)
	context.Add(resultParam, result)
	context.Add(r.GetOutputParam(), result)
}
