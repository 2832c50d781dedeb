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

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// CropSize returns the largest even-sized crop of the target ratio that fits
// the source. Narrower targets keep the full source height; wider or equal
// targets keep the full width. Both dimensions are even for any source,
// since yuv420p encodes reject odd sizes.
func CropSize(sourceWidth int, sourceHeight int, aspect model.AspectRatio) (int, int) {
	r := aspect.Ratio()
	if sourceHeight <= 0 || sourceWidth <= 0 || r <= 0 {
		return 0, 0
	}
	sourceRatio := float64(sourceWidth) / float64(sourceHeight)
	if r < sourceRatio {
		h := evenFloor(sourceHeight, sourceHeight)
		return evenFloor(roundEven(float64(h)*r), sourceWidth), h
	}
	w := evenFloor(sourceWidth, sourceWidth)
	return w, evenFloor(roundEven(float64(w)/r), sourceHeight)
}

// roundEven rounds v to the nearest even integer.
func roundEven(v float64) int {
	return 2 * int(math.Round(v/2))
}

// evenFloor caps v at limit and rounds it down to an even value, never
// below 2 unless the limit itself is smaller.
func evenFloor(v int, limit int) int {
	v = min(v, limit)
	v -= v % 2
	if v < 2 {
		v = min(2, limit)
	}
	return v
}

// PlaceCrop centers a width by height box on the focus center and clamps it
// into the source frame.
func PlaceCrop(focus model.Focus, info model.VideoInfo, width int, height int) model.CropRect {
	cx := focus.X * float64(info.Width)
	cy := focus.Y * float64(info.Height)
	return model.CropRect{
		X:      clamp(int(math.Round(cx-float64(width)/2)), 0, info.Width-width),
		Y:      clamp(int(math.Round(cy-float64(height)/2)), 0, info.Height-height),
		Width:  width,
		Height: height,
	}
}

func clamp(v int, lo int, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

// CenterCrop is the analysis-free rectangle used by the last render tier.
func CenterCrop(info model.VideoInfo, aspect model.AspectRatio) model.CropRect {
	w, h := CropSize(info.Width, info.Height, aspect)
	return PlaceCrop(model.CenterFocus, info, w, h)
}

// WeightedFocus averages the smoothed path with weight confidence/100. It
// returns the center default when the total weight is zero.
func WeightedFocus(path []model.SmoothedFocus) (model.Focus, float64) {
	var sumW, sumConf float64
	var acc model.Focus
	for _, p := range path {
		if p.Confidence <= 0 {
			continue
		}
		w := p.Confidence / 100
		sumW += w
		acc.X += w * p.X
		acc.Y += w * p.Y
		acc.Width += w * p.Width
		acc.Height += w * p.Height
		sumConf += w * p.Confidence
	}
	if sumW == 0 {
		return model.CenterFocus, 0
	}
	return model.Focus{X: acc.X / sumW, Y: acc.Y / sumW, Width: acc.Width / sumW, Height: acc.Height / sumW}, sumConf / sumW
}

// Plan turns the smoothed path into a crop plan. Dynamic mode emits one point
// per smoothed sample; static mode repeats the weighted rectangle. The plan
// always carries the static and center rectangles for the lower render tiers.
// Plan never fails: degenerate inputs still produce in-bounds rectangles.
func Plan(path []model.SmoothedFocus, info model.VideoInfo, aspect model.AspectRatio, mode model.Mode, hasAnalysis bool) model.CropPlan {
	w, h := CropSize(info.Width, info.Height, aspect)
	staticFocus, staticConf := WeightedFocus(path)

	plan := model.CropPlan{
		Mode:        mode,
		Aspect:      aspect,
		Source:      info,
		Static:      PlaceCrop(staticFocus, info, w, h),
		Center:      PlaceCrop(model.CenterFocus, info, w, h),
		HasAnalysis: hasAnalysis,
		Points:      make([]model.CropPathPoint, len(path)),
	}

	for i, p := range path {
		point := model.CropPathPoint{TimestampSeconds: p.TimestampSeconds}
		if mode == model.ModeStatic {
			point.CropRect = plan.Static
			point.Confidence = staticConf
		} else {
			point.CropRect = PlaceCrop(p.Focus, info, w, h)
			point.Confidence = p.Confidence
		}
		plan.Points[i] = point
	}
	return plan
}
