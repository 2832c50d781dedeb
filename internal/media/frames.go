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

package media

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// ErrSequenceConsumed is yielded when a FrameSampler's sequence is iterated a
// second time.
var ErrSequenceConsumed = errors.New("frame sequence already consumed")

// DefaultFrameWidth is the width stills are scaled to before analysis.
const DefaultFrameWidth = 512

// FrameExtractor writes the frame at a timestamp of source to dest.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, source string, timestampSeconds float64, dest string) error
}

// FFmpegFrameExtractor extracts JPEG stills with ffmpeg, seeking on the input.
type FFmpegFrameExtractor struct {
	Binary string
	Runner Runner
	Width  int
}

func NewFFmpegFrameExtractor(binary string, runner Runner, width int) *FFmpegFrameExtractor {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if width <= 0 {
		width = DefaultFrameWidth
	}
	return &FFmpegFrameExtractor{Binary: binary, Runner: runner, Width: width}
}

func (e *FFmpegFrameExtractor) ExtractFrame(ctx context.Context, source string, timestampSeconds float64, dest string) error {
	res := e.Runner.Run(ctx, e.Binary,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(timestampSeconds, 'f', 3, 64),
		"-i", source,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", e.Width),
		"-q:v", "3",
		dest)
	if res.Err != nil {
		return fmt.Errorf("ffmpeg exited %d: %w: %s", res.ExitCode, res.Err, res.Stderr)
	}

	head := make([]byte, 32)
	f, err := os.Open(dest)
	if err != nil {
		return fmt.Errorf("frame not written: %w", err)
	}
	defer f.Close()
	n, _ := f.Read(head)
	if n == 0 {
		return errors.New("frame file is empty")
	}
	if !filetype.IsImage(head[:n]) {
		return errors.New("frame file is not an image")
	}
	return nil
}

// SampleTimestamps returns t_i = i/rate for i in [0, n), n = max(1,
// ceil(duration*rate)). When maxFrames is positive and n exceeds it, n is
// capped and the rate lowered to n/duration so the samples still span the
// whole source.
func SampleTimestamps(durationSeconds float64, rateHz float64, maxFrames int) []float64 {
	n := 1
	if durationSeconds > 0 && rateHz > 0 {
		n = int(math.Ceil(durationSeconds*rateHz - 1e-9))
		if n < 1 {
			n = 1
		}
	}
	if maxFrames > 0 && n > maxFrames {
		n = maxFrames
		rateHz = float64(n) / durationSeconds
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) / rateHz
	}
	if n == 1 {
		out[0] = 0
	}
	return out
}

// FrameSampler produces a job's stills lazily and only once.
type FrameSampler struct {
	extractor  FrameExtractor
	source     string
	dir        string
	seekLimit  float64
	timestamps []float64
	consumed   atomic.Bool
}

// NewFrameSampler plans the timestamps for info and writes frames under dir.
func NewFrameSampler(extractor FrameExtractor, source string, info model.VideoInfo, rateHz float64, maxFrames int, dir string) *FrameSampler {
	seekLimit := info.DurationSeconds
	if info.FPS > 0 && seekLimit > 1/info.FPS {
		seekLimit -= 1 / info.FPS
	}
	return &FrameSampler{
		extractor:  extractor,
		source:     source,
		dir:        dir,
		seekLimit:  seekLimit,
		timestamps: SampleTimestamps(info.DurationSeconds, rateHz, maxFrames),
	}
}

// Count is the number of frames the sequence will yield.
func (s *FrameSampler) Count() int {
	return len(s.timestamps)
}

// Frames returns the sample sequence. Iteration stops at the first
// extraction failure, which is yielded as a *model.SamplingError. A second
// call yields ErrSequenceConsumed.
func (s *FrameSampler) Frames(ctx context.Context) iter.Seq2[model.FrameSample, error] {
	return func(yield func(model.FrameSample, error) bool) {
		if s.consumed.Swap(true) {
			yield(model.FrameSample{}, ErrSequenceConsumed)
			return
		}
		for i, ts := range s.timestamps {
			if err := ctx.Err(); err != nil {
				yield(model.FrameSample{}, err)
				return
			}
			seek := ts
			if s.seekLimit > 0 && seek > s.seekLimit {
				seek = s.seekLimit
			}
			dest := filepath.Join(s.dir, fmt.Sprintf("frame-%05d.jpg", i))
			if err := s.extractor.ExtractFrame(ctx, s.source, seek, dest); err != nil {
				yield(model.FrameSample{}, &model.SamplingError{Index: i, TimestampSeconds: ts, Err: err})
				return
			}
			if !yield(model.FrameSample{Index: i, TimestampSeconds: ts, ImageRef: dest}, nil) {
				return
			}
		}
	}
}
