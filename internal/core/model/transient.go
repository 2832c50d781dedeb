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

package model

import (
	"errors"
	"fmt"
)

// VideoInfo is the probed metadata of a source container. It is immutable once
// attached to a job.
type VideoInfo struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"durationSeconds"`
	FPS             float64 `json:"fps"`
	HasAudio        bool    `json:"hasAudio"`
	VideoCodec      string  `json:"videoCodec,omitempty"`
	AudioCodec      string  `json:"audioCodec,omitempty"`
	FormatName      string  `json:"formatName,omitempty"`
}

// FrameSample is one extracted still. ImageRef points into the job workspace.
type FrameSample struct {
	Index            int     `json:"index"`
	TimestampSeconds float64 `json:"timestampSeconds"`
	ImageRef         string  `json:"imageRef"`
}

// Focus is a normalized focus region. X and Y are the region's center; all
// four values lie in [0,1].
type Focus struct {
	X      float64 `json:"focusX"`
	Y      float64 `json:"focusY"`
	Width  float64 `json:"focusWidth"`
	Height float64 `json:"focusHeight"`
}

// CenterFocus is the fixed default used whenever no usable estimate exists.
var CenterFocus = Focus{X: 0.5, Y: 0.5, Width: 0.5, Height: 0.5}

func (f Focus) Validate() error {
	names := [4]string{"focusX", "focusY", "focusWidth", "focusHeight"}
	for i, v := range [4]float64{f.X, f.Y, f.Width, f.Height} {
		if v < 0 || v > 1 || v != v {
			return fmt.Errorf("%s out of range: %v", names[i], v)
		}
	}
	return nil
}

// SalienceObservation is the per-frame analysis output. Degraded marks a
// heuristic substitute rather than a real inference result.
type SalienceObservation struct {
	Index            int     `json:"index"`
	TimestampSeconds float64 `json:"timestampSeconds"`
	Focus
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded"`
}

// Usable reports whether the observation may seed a fallback or the smoother.
func (o SalienceObservation) Usable(threshold int) bool {
	return !o.Degraded && o.Confidence >= float64(threshold)
}

// SmoothedFocus is one point of the smoothed focus path. Carried marks a point
// copied forward because its window held no eligible observation.
type SmoothedFocus struct {
	TimestampSeconds float64 `json:"timestampSeconds"`
	Focus
	Confidence float64 `json:"confidence"`
	Carried    bool    `json:"carried,omitempty"`
}

// CropRect is a crop rectangle in source pixel space.
type CropRect struct {
	X      int `json:"cropX"`
	Y      int `json:"cropY"`
	Width  int `json:"cropWidth"`
	Height int `json:"cropHeight"`
}

// Contains reports whether the rectangle lies fully inside a w by h frame.
func (r CropRect) Contains(w int, h int) bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0 && r.X+r.Width <= w && r.Y+r.Height <= h
}

// CropPathPoint is one timestamped crop rectangle.
type CropPathPoint struct {
	TimestampSeconds float64 `json:"timestampSeconds"`
	CropRect
	Confidence float64 `json:"confidence"`
}

// CropPlan is the planner output consumed by the render pipeline.
type CropPlan struct {
	Mode   Mode            `json:"mode"`
	Aspect AspectRatio     `json:"aspect"`
	Source VideoInfo       `json:"source"`
	Points []CropPathPoint `json:"points"`
	// Static is the confidence-weighted rectangle used by the static tiers.
	Static CropRect `json:"static"`
	// Center ignores analysis entirely.
	Center CropRect `json:"center"`
	// HasAnalysis is false when every observation was a heuristic fallback.
	HasAnalysis bool `json:"hasAnalysis"`
}

// IsStaticPath reports whether every point carries the same rectangle.
func (p CropPlan) IsStaticPath() bool {
	for i := 1; i < len(p.Points); i++ {
		if p.Points[i].CropRect != p.Points[0].CropRect {
			return false
		}
	}
	return true
}

// FocusEstimate is the JSON document requested from the vision model. Box is
// [ymin, xmin, ymax, xmax] on a 0-1000 scale; an empty box means no subject.
type FocusEstimate struct {
	Box        []float64 `json:"box_2d"`
	Confidence float64   `json:"confidence"`
	Label      string    `json:"label,omitempty"`
}

const focusBoxScale = 1000.0

var ErrMalformedEstimate = errors.New("malformed focus estimate")

// ToFocus validates the estimate and converts it to a normalized center focus.
func (e *FocusEstimate) ToFocus() (Focus, float64, error) {
	if e.Confidence < 0 || e.Confidence > 100 || e.Confidence != e.Confidence {
		return Focus{}, 0, fmt.Errorf("%w: confidence %v", ErrMalformedEstimate, e.Confidence)
	}
	if len(e.Box) == 0 {
		return CenterFocus, 0, nil
	}
	if len(e.Box) != 4 {
		return Focus{}, 0, fmt.Errorf("%w: box_2d has %d values", ErrMalformedEstimate, len(e.Box))
	}
	yMin, xMin, yMax, xMax := e.Box[0], e.Box[1], e.Box[2], e.Box[3]
	for _, v := range e.Box {
		if v < 0 || v > focusBoxScale || v != v {
			return Focus{}, 0, fmt.Errorf("%w: box_2d value %v", ErrMalformedEstimate, v)
		}
	}
	if xMin > xMax || yMin > yMax {
		return Focus{}, 0, fmt.Errorf("%w: inverted box %v", ErrMalformedEstimate, e.Box)
	}
	focus := Focus{
		X:      (xMin + xMax) / 2 / focusBoxScale,
		Y:      (yMin + yMax) / 2 / focusBoxScale,
		Width:  (xMax - xMin) / focusBoxScale,
		Height: (yMax - yMin) / focusBoxScale,
	}
	return focus, e.Confidence, nil
}
