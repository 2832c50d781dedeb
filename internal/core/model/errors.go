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

// ErrInvalidOptions is wrapped by every Options validation failure.
var ErrInvalidOptions = errors.New("invalid reframe options")

// ProbeError means the source could not be read as a video. It is fatal and
// never retried.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// SamplingError means a still frame could not be extracted. It is fatal.
type SamplingError struct {
	Index            int
	TimestampSeconds float64
	Err              error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("sample frame %d at %.3fs: %v", e.Index, e.TimestampSeconds, e.Err)
}

func (e *SamplingError) Unwrap() error { return e.Err }

// InferenceError describes a failed focus estimate for one frame. The analyzer
// recovers from it locally, so it only ever reaches logs and metrics.
type InferenceError struct {
	Index            int
	TimestampSeconds float64
	Err              error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference for frame %d at %.3fs: %v", e.Index, e.TimestampSeconds, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// RenderError describes a failed render tier. Only a tier 4 failure fails the job.
type RenderError struct {
	Tier     int
	Strategy string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render tier %d (%s): %v", e.Tier, e.Strategy, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
