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
	"fmt"
	"math"
)

// QualityTier selects how aggressively the render pipeline trades quality for speed.
type QualityTier string

const (
	QualityAuto QualityTier = "auto"
	QualityHigh QualityTier = "high"
	QualityLow  QualityTier = "low"
)

// Mode selects between a moving crop path and one fixed rectangle.
type Mode string

const (
	ModeDynamic Mode = "dynamic"
	ModeStatic  Mode = "static"
)

const (
	DefaultSamplingRateHz      = 1.0
	DefaultSmoothingFactor     = 0.5
	DefaultConfidenceThreshold = 60
)

// Options are the caller-tunable parameters of a reframe job.
type Options struct {
	SamplingRateHz      float64     `json:"samplingRateHz" toml:"sampling_rate_hz"`
	SmoothingFactor     float64     `json:"smoothingFactor" toml:"smoothing_factor"`
	ConfidenceThreshold int         `json:"confidenceThreshold" toml:"confidence_threshold"`
	QualityTier         QualityTier `json:"qualityTier" toml:"quality_tier"`
	Mode                Mode        `json:"mode" toml:"mode"`
}

// DefaultOptions returns the options used when a caller supplies none.
func DefaultOptions() Options {
	return Options{
		SamplingRateHz:      DefaultSamplingRateHz,
		SmoothingFactor:     DefaultSmoothingFactor,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		QualityTier:         QualityAuto,
		Mode:                ModeDynamic,
	}
}

// Validate checks every field and returns an error wrapping ErrInvalidOptions
// for the first field out of range.
func (o Options) Validate() error {
	if math.IsNaN(o.SamplingRateHz) || math.IsInf(o.SamplingRateHz, 0) || o.SamplingRateHz <= 0 {
		return fmt.Errorf("%w: samplingRateHz must be a positive number, got %v", ErrInvalidOptions, o.SamplingRateHz)
	}
	if math.IsNaN(o.SmoothingFactor) || o.SmoothingFactor < 0 || o.SmoothingFactor > 1 {
		return fmt.Errorf("%w: smoothingFactor must be within [0,1], got %v", ErrInvalidOptions, o.SmoothingFactor)
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 100 {
		return fmt.Errorf("%w: confidenceThreshold must be within [0,100], got %d", ErrInvalidOptions, o.ConfidenceThreshold)
	}
	switch o.QualityTier {
	case QualityAuto, QualityHigh, QualityLow:
	default:
		return fmt.Errorf("%w: unknown qualityTier %q", ErrInvalidOptions, o.QualityTier)
	}
	switch o.Mode {
	case ModeDynamic, ModeStatic:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, o.Mode)
	}
	return nil
}
