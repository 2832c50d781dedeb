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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// Prober reads container metadata from a source file.
type Prober interface {
	Probe(ctx context.Context, path string) (*model.VideoInfo, error)
}

// FFProbe is a Prober backed by the ffprobe binary.
type FFProbe struct {
	Binary string
	Runner Runner
}

func NewFFProbe(binary string, runner Runner) *FFProbe {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFProbe{Binary: binary, Runner: runner}
}

// Probe returns a *model.ProbeError for every failure: missing or unreadable
// file, a header that sniffs as a known non-video type, a tool failure,
// malformed output or a container without a usable video stream.
func (p *FFProbe) Probe(ctx context.Context, path string) (*model.VideoInfo, error) {
	if err := sniffVideo(path); err != nil {
		return nil, &model.ProbeError{Path: path, Err: err}
	}

	res := p.Runner.Run(ctx, p.Binary,
		"-v", "error", "-hide_banner", "-print_format", "json", "-show_format", "-show_streams", "--", path)
	if res.Err != nil {
		return nil, &model.ProbeError{Path: path, Err: fmt.Errorf("ffprobe exited %d: %w: %s", res.ExitCode, res.Err, res.Stderr)}
	}

	info, err := ParseJSON(res.Stdout)
	if err != nil {
		return nil, &model.ProbeError{Path: path, Err: err}
	}
	return info, nil
}

// sniffVideo rejects files whose magic bytes identify a known non-video type.
// Unknown headers pass through so ffprobe can make the final decision.
func sniffVideo(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 262)
	n, err := f.Read(head)
	if n == 0 {
		if err == nil {
			err = errors.New("empty file")
		}
		return err
	}
	head = head[:n]

	kind, _ := filetype.Match(head)
	if kind == filetype.Unknown || filetype.IsVideo(head) {
		return nil
	}
	return fmt.Errorf("source is %s, not a video", kind.MIME.Value)
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
	Disposition  struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// ParseJSON converts ffprobe's JSON document into a VideoInfo. Cover art
// streams are ignored when choosing the video stream.
func ParseJSON(data []byte) (*model.VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}

	var video *probeStream
	info := &model.VideoInfo{FormatName: out.Format.FormatName}
	for i := range out.Streams {
		s := &out.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "video":
			if video == nil && s.Disposition.AttachedPic == 0 {
				video = s
			}
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = s.CodecName
			}
		}
	}
	if video == nil {
		return nil, errors.New("no video stream")
	}
	if video.Width <= 0 || video.Height <= 0 {
		return nil, fmt.Errorf("invalid video dimensions %dx%d", video.Width, video.Height)
	}

	info.Width = video.Width
	info.Height = video.Height
	info.VideoCodec = video.CodecName
	info.FPS = parseRational(video.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRational(video.RFrameRate)
	}
	info.DurationSeconds = parseSeconds(out.Format.Duration)
	if info.DurationSeconds <= 0 {
		info.DurationSeconds = parseSeconds(video.Duration)
	}
	return info, nil
}

// parseRational parses "30000/1001" or "25". Unparseable input yields 0.
func parseRational(in string) float64 {
	in = strings.TrimSpace(in)
	if in == "" {
		return 0
	}
	num, den, found := strings.Cut(in, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(in string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(in), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
