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
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/reframe"
)

// CropPlanner turns the smoothed path into crop rectangles for the source.
type CropPlanner struct {
	cor.BaseCommand
}

func NewCropPlanner(name string) *CropPlanner {
	return &CropPlanner{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *CropPlanner) IsExecutable(context cor.Context) bool {
	return stageExecutable(&c.BaseCommand, context) && context.Get(videoInfoParam) != nil
}

func (c *CropPlanner) Execute(context cor.Context) {
	job, err := enterStage(context, model.StatusPlanning)
	if err != nil {
		c.Fail(context, err)
		return
	}
	smoothed := context.Get(c.GetInputParam()).([]model.SmoothedFocus)
	info := context.Get(videoInfoParam).(model.VideoInfo)
	observations, _ := context.Get(observationsParam).([]model.SalienceObservation)

	plan := reframe.Plan(smoothed, info, job.TargetAspectRatio, job.Options.Mode, reframe.HasUsableAnalysis(observations))
	slog.InfoContext(context.GetContext(), "planned crop path",
		"job_id", job.ID, "points", len(plan.Points), "mode", plan.Mode,
		"crop_width", plan.Static.Width, "crop_height", plan.Static.Height, "analysis", plan.HasAnalysis)

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(planParam, plan)
	context.Add(c.GetOutputParam(), plan)
}
