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
	"time"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/reframe"
)

// ResultAssembler packages the winning render and the collected diagnostics
// into a model.ReframeResult. It does not change the job status; the engine
// completes the job once the chain returns cleanly.
type ResultAssembler struct {
	cor.BaseCommand
}

func NewResultAssembler(name string) *ResultAssembler {
	return &ResultAssembler{BaseCommand: *cor.NewBaseCommand(name)}
}

func (a *ResultAssembler) IsExecutable(context cor.Context) bool {
	return stageExecutable(&a.BaseCommand, context)
}

func (a *ResultAssembler) Execute(context cor.Context) {
	job := JobFrom(context)
	winner := context.Get(a.GetInputParam()).(*model.RenderAttempt)

	result := AssembleFromContext(context, winner, "")
	slog.InfoContext(context.GetContext(), "reframe finished",
		"job_id", job.ID, "tier", result.Diagnostics.TierUsed,
		"stability", result.Diagnostics.StabilityScore,
		"average_confidence", result.Diagnostics.AverageConfidence,
		"degraded", result.Diagnostics.DegradedFrames,
		"elapsed_ms", result.Diagnostics.ProcessingTimeMs)

	a.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(resultParam, result)
	context.Add(a.GetOutputParam(), result)
}

// AssembleFromContext builds a result from whatever the stages left on the
// context. A nil winner produces a failed result carrying failureReason.
func AssembleFromContext(context cor.Context, winner *model.RenderAttempt, failureReason string) *model.ReframeResult {
	observations, _ := context.Get(observationsParam).([]model.SalienceObservation)
	attempts, _ := context.Get(attemptsParam).([]model.RenderAttempt)
	started, ok := context.Get(startedParam).(time.Time)
	if !ok {
		started = time.Now()
	}
	var plan *model.CropPlan
	if p, ok := context.Get(planParam).(model.CropPlan); ok {
		plan = &p
	}
	outputPath := ""
	if winner != nil {
		outputPath = winner.OutputPath
	}

	result := reframe.Assemble(observations, plan, winner, attempts, outputPath, started, failureReason)
	if job := JobFrom(context); job != nil {
		result.JobID = job.ID
	}
	return result
}
