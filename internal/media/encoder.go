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
	"fmt"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// CropFilterName labels the crop filter instance that sendcmd scripts target.
const CropFilterName = "crop@reframe"

// AudioMode selects how the encoder treats the source audio.
type AudioMode int

const (
	AudioDrop AudioMode = iota
	AudioAAC
)

// EncodeSpec describes one ffmpeg encode of a cropped output.
type EncodeSpec struct {
	Source string
	Output string
	// Crop is the initial rectangle; it is the only one unless CommandsFile
	// moves it over time.
	Crop         model.CropRect
	CommandsFile string
	Preset       string
	CRF          int
	Audio        AudioMode
	AudioBitrate string
}

// Encoder renders an EncodeSpec.
type Encoder interface {
	Encode(ctx context.Context, spec EncodeSpec) ExecResult
}

// FFmpegEncoder is an Encoder backed by the ffmpeg binary.
type FFmpegEncoder struct {
	Binary string
	Runner Runner
}

func NewFFmpegEncoder(binary string, runner Runner) *FFmpegEncoder {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpegEncoder{Binary: binary, Runner: runner}
}

func (e *FFmpegEncoder) Encode(ctx context.Context, spec EncodeSpec) ExecResult {
	return e.Runner.Run(ctx, e.Binary, BuildEncodeArgs(spec)...)
}

// BuildEncodeArgs returns the ffmpeg arguments for spec, without the binary.
func BuildEncodeArgs(spec EncodeSpec) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", spec.Source}
	args = append(args, "-filter:v", CropFilter(spec.Crop, spec.CommandsFile))
	args = append(args, "-map", "0:v:0")

	preset := spec.Preset
	if preset == "" {
		preset = "medium"
	}
	args = append(args, "-c:v", "libx264", "-preset", preset, "-crf", strconv.Itoa(spec.CRF), "-pix_fmt", "yuv420p")

	switch spec.Audio {
	case AudioAAC:
		bitrate := spec.AudioBitrate
		if bitrate == "" {
			bitrate = "128k"
		}
		args = append(args, "-map", "0:a:0?", "-c:a", "aac", "-b:a", bitrate)
	default:
		args = append(args, "-an")
	}

	args = append(args, "-movflags", "+faststart", "-f", "mp4", spec.Output)
	return args
}

// CropFilter builds the video filter graph for a fixed crop, or for a crop
// driven by a sendcmd script when commandsFile is set.
func CropFilter(rect model.CropRect, commandsFile string) string {
	params := fmt.Sprintf("w=%d:h=%d:x=%d:y=%d", rect.Width, rect.Height, rect.X, rect.Y)
	if commandsFile == "" {
		return "crop=" + params
	}
	return fmt.Sprintf("sendcmd=f='%s',%s=%s", escapeFilterPath(commandsFile), CropFilterName, params)
}

func escapeFilterPath(path string) string {
	return strings.ReplaceAll(path, `'`, `'\''`)
}
