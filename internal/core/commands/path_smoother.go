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
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/reframe"
)

// PathSmoother smooths the observations into a focus path.
type PathSmoother struct {
	cor.BaseCommand
}

func NewPathSmoother(name string) *PathSmoother {
	return &PathSmoother{BaseCommand: *cor.NewBaseCommand(name)}
}

func (p *PathSmoother) IsExecutable(context cor.Context) bool {
	return stageExecutable(&p.BaseCommand, context)
}

func (p *PathSmoother) Execute(context cor.Context) {
	job, err := enterStage(context, model.StatusSmoothing)
	if err != nil {
		p.Fail(context, err)
		return
	}
	observations := context.Get(p.GetInputParam()).([]model.SalienceObservation)

	smoothed := reframe.Smooth(observations, job.Options.SmoothingFactor, job.Options.ConfidenceThreshold)

	p.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(smoothedParam, smoothed)
	context.Add(p.GetOutputParam(), smoothed)
}
