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

// Package salience estimates where the visually important subject of each
// sampled frame is.
//
// A FocusDetector turns one still into a FocusEstimate. The Analyzer runs a
// detector over every sampled frame with a bounded pool of workers, puts the
// answers back into timestamp order and replaces every failed frame with a
// deterministic fallback, so analysis as a whole never fails.
package salience

import (
	"context"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// FocusRequest is one frame submitted for focus detection.
type FocusRequest struct {
	Index            int
	TimestampSeconds float64
	Image            []byte
	MIMEType         string
	Aspect           model.AspectRatio // Target ratio; a hint for framing.
}

// FocusDetector returns the focus estimate for a single frame.
type FocusDetector interface {
	DetectFocus(ctx context.Context, req FocusRequest) (*model.FocusEstimate, error)
}

// FocusDetectorFunc adapts a function to the FocusDetector interface.
type FocusDetectorFunc func(ctx context.Context, req FocusRequest) (*model.FocusEstimate, error)

func (f FocusDetectorFunc) DetectFocus(ctx context.Context, req FocusRequest) (*model.FocusEstimate, error) {
	return f(ctx, req)
}
