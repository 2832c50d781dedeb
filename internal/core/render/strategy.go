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

// Package render turns a crop plan into an output file through an ordered list
// of strategies. Each strategy trades quality for robustness; the last one
// ignores analysis entirely and is the floor every job can fall back to.
package render

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/media"
)

// Input is shared by every strategy of one pipeline run.
type Input struct {
	Source         string
	Plan           model.CropPlan
	Quality        model.QualityTier
	WorkDir        string // Scratch directory for partial outputs and sendcmd scripts.
	OutputPath     string // Where the winning output is published.
	MinOutputBytes int64
	Timeout        time.Duration // Per attempt.

	// AudioFailed is set once an attempt fails with an audio-classified error.
	AudioFailed bool
}

// Strategy is one tier of the pipeline.
type Strategy interface {
	Tier() int
	Name() string
	// Applicable reports whether the strategy should run, with a reason
	// when it should not.
	Applicable(in *Input) (bool, string)
	// Attempt encodes into in.WorkDir. A successful attempt's OutputPath
	// names the partial file for the pipeline to publish.
	Attempt(ctx context.Context, in *Input) model.RenderAttempt
}

// audioErrorPattern matches ffmpeg stderr lines blaming the audio stream.
var audioErrorPattern = regexp.MustCompile(`(?i)(\baudio\b|\baac\b|stream #0:[1-9]|0:a:0|channel layout|sample rate|Error while decoding stream #0:[1-9])`)

// IsAudioError reports whether ffmpeg stderr points at the audio stream.
func IsAudioError(stderr string) bool {
	return audioErrorPattern.MatchString(stderr)
}

// encodeStrategy is the shared shape of every tier: a rectangle (static or
// driven by the plan's path), an x264 preset and an audio policy.
type encodeStrategy struct {
	tier       int
	name       string
	encoder    media.Encoder
	needsPlan  bool
	dynamic    bool
	preset     func(in *Input) (string, int)
	audio      func(in *Input) media.AudioMode
	rect       func(in *Input) model.CropRect
	precheck   func(in *Input) (bool, string)
	commandsHz float64
}

func (s *encodeStrategy) Tier() int    { return s.tier }
func (s *encodeStrategy) Name() string { return s.name }

func (s *encodeStrategy) Applicable(in *Input) (bool, string) {
	if s.needsPlan && !in.Plan.HasAnalysis {
		return false, "no usable salience analysis"
	}
	if s.precheck != nil {
		return s.precheck(in)
	}
	return true, ""
}

func (s *encodeStrategy) Attempt(ctx context.Context, in *Input) model.RenderAttempt {
	partial := PartialPath(in.WorkDir, s.tier, s.name)
	preset, crf := s.preset(in)
	spec := media.EncodeSpec{
		Source: in.Source,
		Output: partial,
		Crop:   s.rect(in),
		Preset: preset,
		CRF:    crf,
		Audio:  media.AudioDrop,
	}
	if s.audio != nil && in.Plan.Source.HasAudio {
		spec.Audio = s.audio(in)
	}

	if s.dynamic && !in.Plan.IsStaticPath() {
		script := ScriptPath(in.WorkDir, s.tier)
		if err := WriteCropCommands(script, in.Plan.Points, s.commandsHz); err != nil {
			return model.RenderAttempt{
				Tier:         s.tier,
				StrategyName: s.name,
				ExitStatus:   -1,
				Reason:       fmt.Sprintf("write crop commands: %v", err),
			}
		}
		spec.Crop = in.Plan.Points[0].CropRect
		spec.CommandsFile = script
	}

	return encode(ctx, s.encoder, in, s.tier, s.name, spec)
}

// The x264 settings per tier.
const (
	presetHigh     = "slow"
	crfHigh        = 17
	presetStandard = "medium"
	crfStandard    = 20
	presetReduced  = "veryfast"
	crfReduced     = 28
	presetStatic   = "ultrafast"
	crfStatic      = 26
	presetCenter   = "ultrafast"
	crfCenter      = 28
)

// DefaultCommandHz is the rate at which the crop path is sampled into sendcmd
// commands between plan points.
const DefaultCommandHz = 10.0

// NewDynamicHighQuality follows the smoothed crop path at full quality and
// keeps the audio.
func NewDynamicHighQuality(encoder media.Encoder) Strategy {
	return &encodeStrategy{
		tier:      1,
		name:      "dynamic_high_quality",
		encoder:   encoder,
		needsPlan: true,
		dynamic:   true,
		preset: func(in *Input) (string, int) {
			if in.Quality == model.QualityHigh {
				return presetHigh, crfHigh
			}
			return presetStandard, crfStandard
		},
		audio: func(*Input) media.AudioMode { return media.AudioAAC },
		rect:  func(in *Input) model.CropRect { return in.Plan.Static },
		precheck: func(in *Input) (bool, string) {
			if in.Quality == model.QualityLow {
				return false, "quality tier low starts at tier 2"
			}
			return true, ""
		},
		commandsHz: DefaultCommandHz,
	}
}

// NewDynamicReduced follows the same path with a faster preset. Audio is
// dropped once an earlier tier failed on it.
func NewDynamicReduced(encoder media.Encoder) Strategy {
	return &encodeStrategy{
		tier:      2,
		name:      "dynamic_reduced",
		encoder:   encoder,
		needsPlan: true,
		dynamic:   true,
		preset:    func(*Input) (string, int) { return presetReduced, crfReduced },
		audio: func(in *Input) media.AudioMode {
			if in.AudioFailed {
				return media.AudioDrop
			}
			return media.AudioAAC
		},
		rect:       func(in *Input) model.CropRect { return in.Plan.Static },
		commandsHz: DefaultCommandHz,
	}
}

// NewStaticNoAudio renders the plan's single weighted rectangle without audio.
func NewStaticNoAudio(encoder media.Encoder) Strategy {
	return &encodeStrategy{
		tier:      3,
		name:      "static_no_audio",
		encoder:   encoder,
		needsPlan: true,
		preset:    func(*Input) (string, int) { return presetStatic, crfStatic },
		rect:      func(in *Input) model.CropRect { return in.Plan.Static },
	}
}

// NewCenterCrop renders the geometric center crop, ignoring analysis.
func NewCenterCrop(encoder media.Encoder) Strategy {
	return &encodeStrategy{
		tier:    4,
		name:    "center_crop",
		encoder: encoder,
		preset:  func(*Input) (string, int) { return presetCenter, crfCenter },
		rect:    func(in *Input) model.CropRect { return in.Plan.Center },
	}
}

// DefaultStrategies returns the four tiers in order.
func DefaultStrategies(encoder media.Encoder) []Strategy {
	return []Strategy{
		NewDynamicHighQuality(encoder),
		NewDynamicReduced(encoder),
		NewStaticNoAudio(encoder),
		NewCenterCrop(encoder),
	}
}
