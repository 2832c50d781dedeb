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
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/salience"
	"go.opentelemetry.io/otel/metric"
)

// SalienceAnalyzer runs focus detection over the sampled frames. Detection
// failures degrade individual observations and never fail the stage; only a
// cancelled job stops it.
type SalienceAnalyzer struct {
	cor.BaseCommand
	analyzer        *salience.Analyzer
	degradedCounter metric.Int64Counter
}

func NewSalienceAnalyzer(name string, analyzer *salience.Analyzer) *SalienceAnalyzer {
	out := &SalienceAnalyzer{BaseCommand: *cor.NewBaseCommand(name), analyzer: analyzer}
	out.degradedCounter, _ = out.GetMeter().Int64Counter(name + ".frames.degraded")
	return out
}

func (s *SalienceAnalyzer) IsExecutable(context cor.Context) bool {
	return stageExecutable(&s.BaseCommand, context)
}

func (s *SalienceAnalyzer) Execute(context cor.Context) {
	job, err := enterStage(context, model.StatusAnalyzing)
	if err != nil {
		s.Fail(context, err)
		return
	}
	samples := context.Get(s.GetInputParam()).([]model.FrameSample)

	observations := s.analyzer.Analyze(context.GetContext(), samples, job.TargetAspectRatio, job.Options.ConfidenceThreshold,
		func(completed int, total int) {
			Publish(context, model.ProgressEvent{Completed: completed, Total: total, Message: "frame analyzed"})
		})
	if err := context.GetContext().Err(); err != nil {
		s.Fail(context, err)
		return
	}

	degraded := 0
	for _, o := range observations {
		if o.Degraded {
			degraded++
		}
	}
	s.degradedCounter.Add(context.GetContext(), int64(degraded))
	slog.InfoContext(context.GetContext(), "analyzed frames", "job_id", job.ID, "frames", len(observations), "degraded", degraded)

	s.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(observationsParam, observations)
	context.Add(s.GetOutputParam(), observations)
}
