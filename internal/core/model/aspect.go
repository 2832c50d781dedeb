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

// Package model defines the data structures that flow through the reframing
// engine: the job itself, the per-stage intermediate values produced while a
// job runs, and the result handed back to callers.
//
// Files in this package:
//   - aspect.go: the supported target aspect ratios.
//   - options.go: caller-tunable reframing options and their validation.
//   - job.go: the job record and its status state machine.
//   - transient.go: values produced and consumed between pipeline stages.
//   - result.go: the render attempts, diagnostics and final result.
//   - errors.go: the stage error taxonomy.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedAspectRatio is returned when a ratio outside the supported set
// is requested.
var ErrUnsupportedAspectRatio = errors.New("unsupported aspect ratio")

// AspectRatio is a target width:height ratio expressed in whole units.
type AspectRatio struct {
	Width  int
	Height int
}

var (
	AspectPortrait  = AspectRatio{Width: 9, Height: 16}
	AspectLandscape = AspectRatio{Width: 16, Height: 9}
	AspectSquare    = AspectRatio{Width: 1, Height: 1}
	AspectClassic   = AspectRatio{Width: 4, Height: 3}
)

// SupportedAspectRatios lists every ratio the engine can target, in the order
// they are presented to users.
var SupportedAspectRatios = []AspectRatio{AspectPortrait, AspectLandscape, AspectSquare, AspectClassic}

// DefaultAspectRatio is used when a trigger does not name a target.
var DefaultAspectRatio = AspectPortrait

// ParseAspectRatio parses a "W:H" string and checks it against the supported set.
func ParseAspectRatio(in string) (AspectRatio, error) {
	parts := strings.Split(strings.TrimSpace(in), ":")
	if len(parts) != 2 {
		return AspectRatio{}, fmt.Errorf("%w: %q", ErrUnsupportedAspectRatio, in)
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil {
		return AspectRatio{}, fmt.Errorf("%w: %q", ErrUnsupportedAspectRatio, in)
	}
	candidate := AspectRatio{Width: w, Height: h}
	for _, supported := range SupportedAspectRatios {
		if supported == candidate {
			return candidate, nil
		}
	}
	return AspectRatio{}, fmt.Errorf("%w: %q", ErrUnsupportedAspectRatio, in)
}

// Ratio returns width divided by height.
func (a AspectRatio) Ratio() float64 {
	if a.Height == 0 {
		return 0
	}
	return float64(a.Width) / float64(a.Height)
}

func (a AspectRatio) String() string {
	return fmt.Sprintf("%d:%d", a.Width, a.Height)
}

// IsZero reports whether the ratio was never set.
func (a AspectRatio) IsZero() bool {
	return a.Width == 0 && a.Height == 0
}

func (a AspectRatio) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AspectRatio) UnmarshalText(text []byte) error {
	parsed, err := ParseAspectRatio(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
