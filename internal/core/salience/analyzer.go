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

package salience

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWorkers = 4
	DefaultTimeout = 30 * time.Second
)

// ProgressFunc is called once per analysed frame, from a single goroutine.
type ProgressFunc func(completed int, total int)

// Analyzer fans frames out to a FocusDetector.
type Analyzer struct {
	detector FocusDetector
	workers  int
	timeout  time.Duration
	tracer   trace.Tracer
}

// NewAnalyzer uses DefaultWorkers and DefaultTimeout for non-positive values.
func NewAnalyzer(detector FocusDetector, workers int, timeout time.Duration) *Analyzer {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{
		detector: detector,
		workers:  workers,
		timeout:  timeout,
		tracer:   otel.Tracer("salience-analyzer"),
	}
}

type frameJob struct {
	position int
	sample   model.FrameSample
	aspect   model.AspectRatio
}

type frameResult struct {
	position   int
	focus      model.Focus
	confidence float64
	err        error
}

// Analyze returns one observation per sample, ordered by timestamp. It never
// fails: a frame whose detection errors, times out or returns a malformed
// estimate gets the focus of the nearest earlier usable observation, or
// model.CenterFocus when there is none, with zero confidence and Degraded set.
// A cancelled ctx degrades the remaining frames the same way; callers check
// ctx themselves.
func (a *Analyzer) Analyze(
	ctx context.Context,
	samples []model.FrameSample,
	aspect model.AspectRatio,
	threshold int,
	progress ProgressFunc,
) []model.SalienceObservation {
	ordered := append([]model.FrameSample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TimestampSeconds != ordered[j].TimestampSeconds {
			return ordered[i].TimestampSeconds < ordered[j].TimestampSeconds
		}
		return ordered[i].Index < ordered[j].Index
	})
	total := len(ordered)
	if total == 0 {
		return []model.SalienceObservation{}
	}

	var wg sync.WaitGroup
	jobs := make(chan frameJob, total)
	results := make(chan frameResult, total)

	for w := 0; w < min(a.workers, total); w++ {
		wg.Add(1)
		go a.worker(ctx, jobs, results, &wg)
	}
	for i, s := range ordered {
		jobs <- frameJob{position: i, sample: s, aspect: aspect}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	detected := make([]frameResult, total)
	completed := 0
	for r := range results {
		detected[r.position] = r
		completed++
		if progress != nil {
			progress(completed, total)
		}
	}

	return fillFallbacks(ctx, ordered, detected, threshold)
}

// fillFallbacks walks the frames in order, substituting degraded
// observations for failed detections.
func fillFallbacks(ctx context.Context, samples []model.FrameSample, detected []frameResult, threshold int) []model.SalienceObservation {
	out := make([]model.SalienceObservation, len(samples))
	lastUsable := model.CenterFocus
	for i, s := range samples {
		r := detected[i]
		obs := model.SalienceObservation{Index: s.Index, TimestampSeconds: s.TimestampSeconds}
		if r.err != nil {
			obs.Focus = lastUsable
			obs.Degraded = true
			slog.WarnContext(ctx, "focus detection failed, using fallback",
				"frame", s.Index, "timestamp", s.TimestampSeconds, "error", r.err)
		} else {
			obs.Focus = r.focus
			obs.Confidence = r.confidence
			if obs.Usable(threshold) {
				lastUsable = obs.Focus
			}
		}
		out[i] = obs
	}
	return out
}

func (a *Analyzer) worker(ctx context.Context, jobs <-chan frameJob, results chan<- frameResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		focus, confidence, err := a.detect(ctx, j)
		if err != nil {
			err = &model.InferenceError{Index: j.sample.Index, TimestampSeconds: j.sample.TimestampSeconds, Err: err}
		}
		results <- frameResult{position: j.position, focus: focus, confidence: confidence, err: err}
	}
}

func (a *Analyzer) detect(ctx context.Context, j frameJob) (model.Focus, float64, error) {
	if err := ctx.Err(); err != nil {
		return model.Focus{}, 0, err
	}
	frameCtx, span := a.tracer.Start(ctx, fmt.Sprintf("analyze_frame_%d", j.sample.Index))
	defer span.End()
	span.SetAttributes(attribute.Int("frame", j.sample.Index), attribute.Float64("timestamp", j.sample.TimestampSeconds))

	frameCtx, cancel := context.WithTimeout(frameCtx, a.timeout)
	defer cancel()

	image, err := os.ReadFile(j.sample.ImageRef)
	if err != nil {
		span.SetStatus(codes.Error, "read frame")
		return model.Focus{}, 0, err
	}
	mimeType := "image/jpeg"
	if kind, err := filetype.Match(image); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}

	estimate, err := a.detector.DetectFocus(frameCtx, FocusRequest{
		Index:            j.sample.Index,
		TimestampSeconds: j.sample.TimestampSeconds,
		Image:            image,
		MIMEType:         mimeType,
		Aspect:           j.aspect,
	})
	if err == nil && estimate == nil {
		err = ErrEmptyResponse
	}
	if err != nil {
		span.SetStatus(codes.Error, "detect")
		return model.Focus{}, 0, err
	}

	focus, confidence, err := estimate.ToFocus()
	if err != nil {
		span.SetStatus(codes.Error, "malformed estimate")
		return model.Focus{}, 0, err
	}
	span.SetStatus(codes.Ok, "analyzed")
	return focus, confidence, nil
}
