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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface.
//
// The reframe stages (probe, sample, analyze, smooth, plan, render, assemble)
// each move the job found under GetJobParameterName() into their status before
// doing any work, and publish a progress event when they do. The remaining
// commands adapt Cloud Storage, Pub/Sub and BigQuery to the reframe engine.
package commands

import (
	"fmt"
	"time"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// Context keys shared by the reframe commands.
const (
	jobParam          = "__JOB__"
	progressParam     = "__PROGRESS__"
	videoInfoParam    = "__VIDEO_INFO__"
	samplesParam      = "__FRAME_SAMPLES__"
	observationsParam = "__OBSERVATIONS__"
	smoothedParam     = "__SMOOTHED_PATH__"
	planParam         = "__CROP_PLAN__"
	attemptsParam     = "__RENDER_ATTEMPTS__"
	winnerParam       = "__RENDER_WINNER__"
	resultParam       = "__REFRAME_RESULT__"
	startedParam      = "__STARTED__"
	outputURIParam    = "__OUTPUT_URI__"
)

func GetJobParameterName() string          { return jobParam }
func GetProgressParameterName() string     { return progressParam }
func GetVideoInfoParameterName() string    { return videoInfoParam }
func GetSamplesParameterName() string      { return samplesParam }
func GetObservationsParameterName() string { return observationsParam }
func GetSmoothedParameterName() string     { return smoothedParam }
func GetPlanParameterName() string         { return planParam }
func GetAttemptsParameterName() string     { return attemptsParam }
func GetWinnerParameterName() string       { return winnerParam }
func GetResultParameterName() string       { return resultParam }
func GetStartedParameterName() string      { return startedParam }
func GetOutputURIParameterName() string    { return outputURIParam }

// ProgressSink receives a job's progress events. It must not block.
type ProgressSink func(event model.ProgressEvent)

// JobFrom returns the job stored on the context, or nil.
func JobFrom(context cor.Context) *model.ReframeJob {
	job, _ := context.Get(jobParam).(*model.ReframeJob)
	return job
}

// Publish sends an event for the context's job to its ProgressSink, if any.
func Publish(context cor.Context, event model.ProgressEvent) {
	sink, _ := context.Get(progressParam).(ProgressSink)
	job := JobFrom(context)
	if sink == nil || job == nil {
		return
	}
	event.JobID = job.ID
	if event.Status == "" {
		event.Status = job.Status()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	sink(event)
}

// enterStage moves the context's job into status and announces it.
func enterStage(context cor.Context, status model.Status) (*model.ReframeJob, error) {
	job := JobFrom(context)
	if job == nil {
		return nil, fmt.Errorf("no reframe job on context")
	}
	if err := job.Transition(status); err != nil {
		return nil, err
	}
	Publish(context, model.ProgressEvent{Status: status})
	return job, nil
}

// stageExecutable is the IsExecutable check shared by the reframe stages.
func stageExecutable(c *cor.BaseCommand, context cor.Context) bool {
	return c.IsExecutable(context) && JobFrom(context) != nil
}
