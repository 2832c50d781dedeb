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

// Package reframe holds the pure geometry of the engine: smoothing the raw
// focus observations into a stable path, turning that path into bounds-clamped
// crop rectangles, and scoring the result. Nothing here performs I/O, so the
// same inputs always produce the same outputs.
package reframe

import (
	"math"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// WindowRadius returns w = max(1, round(smoothingFactor*3)). The window for
// index i spans [i-(w-1), i+(w-1)], so w = 1 covers only the sample itself.
func WindowRadius(smoothingFactor float64) int {
	w := int(math.Round(smoothingFactor * 3))
	if w < 1 {
		return 1
	}
	return w
}

// Smooth converts observations into a smoothed focus path of the same length
// and order. Each window is averaged with weight confidence/100; observations
// below threshold are excluded. A window with no weight carries the previous
// smoothed point forward, or the center default at a cold start.
func Smooth(observations []model.SalienceObservation, smoothingFactor float64, threshold int) []model.SmoothedFocus {
	out := make([]model.SmoothedFocus, len(observations))
	reach := WindowRadius(smoothingFactor) - 1

	for i, obs := range observations {
		lo := max(0, i-reach)
		hi := min(len(observations)-1, i+reach)

		var sumW, sumX, sumY, sumWidth, sumHeight, sumConf float64
		var only *model.SalienceObservation
		contributors := 0
		for j := lo; j <= hi; j++ {
			o := observations[j]
			if o.Confidence < float64(threshold) || o.Confidence <= 0 {
				continue
			}
			contributors++
			only = &observations[j]
			w := o.Confidence / 100
			sumW += w
			sumX += w * o.X
			sumY += w * o.Y
			sumWidth += w * o.Width
			sumHeight += w * o.Height
			sumConf += w * o.Confidence
		}

		if sumW == 0 {
			carried := model.SmoothedFocus{Focus: model.CenterFocus}
			if i > 0 {
				carried.Focus = out[i-1].Focus
			}
			carried.TimestampSeconds = obs.TimestampSeconds
			carried.Carried = true
			out[i] = carried
			continue
		}

		if contributors == 1 {
			// Copied so that w = 1 reproduces the input bit for bit.
			out[i] = model.SmoothedFocus{TimestampSeconds: obs.TimestampSeconds, Focus: only.Focus, Confidence: only.Confidence}
			continue
		}

		out[i] = model.SmoothedFocus{
			TimestampSeconds: obs.TimestampSeconds,
			Focus: model.Focus{
				X:      sumX / sumW,
				Y:      sumY / sumW,
				Width:  sumWidth / sumW,
				Height: sumHeight / sumW,
			},
			Confidence: sumConf / sumW,
		}
	}
	return out
}
