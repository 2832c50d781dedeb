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

package reframe

import (
	"math"
	"time"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// StabilityScore is 1/(1+10*d) where d is the mean frame-to-frame movement of
// the crop center, normalized by the source dimensions. A path that never
// moves scores 1.
func StabilityScore(points []model.CropPathPoint, info model.VideoInfo) float64 {
	if len(points) < 2 || info.Width <= 0 || info.Height <= 0 {
		return 1
	}
	var total float64
	for i := 1; i < len(points); i++ {
		dx := float64(centerX(points[i].CropRect)-centerX(points[i-1].CropRect)) / float64(info.Width)
		dy := float64(centerY(points[i].CropRect)-centerY(points[i-1].CropRect)) / float64(info.Height)
		total += math.Hypot(dx, dy)
	}
	mean := total / float64(len(points)-1)
	return 1 / (1 + 10*mean)
}

func centerX(r model.CropRect) float64 { return float64(r.X) + float64(r.Width)/2 }
func centerY(r model.CropRect) float64 { return float64(r.Y) + float64(r.Height)/2 }

// HasUsableAnalysis reports whether any observation came from a real
// inference result.
func HasUsableAnalysis(observations []model.SalienceObservation) bool {
	for _, o := range observations {
		if !o.Degraded {
			return true
		}
	}
	return false
}

// RenderedPath returns the crop points the given tier actually rendered.
func RenderedPath(plan model.CropPlan, tier int) []model.CropPathPoint {
	switch tier {
	case 1, 2:
		return plan.Points
	case 3:
		return repeatRect(plan.Points, plan.Static)
	default:
		return repeatRect(plan.Points, plan.Center)
	}
}

func repeatRect(points []model.CropPathPoint, rect model.CropRect) []model.CropPathPoint {
	out := make([]model.CropPathPoint, len(points))
	for i, p := range points {
		out[i] = model.CropPathPoint{TimestampSeconds: p.TimestampSeconds, CropRect: rect, Confidence: p.Confidence}
	}
	return out
}

// Assemble packages a finished job. A nil winning attempt produces a failed
// result carrying failureReason.
func Assemble(
	observations []model.SalienceObservation,
	plan *model.CropPlan,
	winner *model.RenderAttempt,
	attempts []model.RenderAttempt,
	outputPath string,
	started time.Time,
	failureReason string,
) *model.ReframeResult {
	diag := model.Diagnostics{
		FramesAnalyzed:   len(observations),
		RenderAttempts:   attempts,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}

	var sum float64
	for _, o := range observations {
		sum += o.Confidence
		if o.Degraded {
			diag.DegradedFrames++
		}
	}
	if len(observations) > 0 {
		diag.AverageConfidence = sum / float64(len(observations))
	}

	result := &model.ReframeResult{Diagnostics: diag}
	if winner == nil {
		result.FailureReason = failureReason
		return result
	}

	result.Success = true
	result.OutputPath = outputPath
	result.Diagnostics.TierUsed = winner.Tier
	if plan != nil {
		result.Diagnostics.StabilityScore = StabilityScore(RenderedPath(*plan, winner.Tier), plan.Source)
	}
	return result
}
