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

package media_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeFixture = `{
  "streams": [
    {"index": 0, "codec_name": "mjpeg", "codec_type": "video", "width": 300, "height": 300,
     "avg_frame_rate": "0/0", "disposition": {"attached_pic": 1}},
    {"index": 1, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
     "avg_frame_rate": "30000/1001", "r_frame_rate": "30000/1001", "duration": "12.012000",
     "disposition": {"attached_pic": 0}},
    {"index": 2, "codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.045000"}
}`

// scriptedRunner returns a fixed result and optionally writes a file named by
// the final argument.
type scriptedRunner struct {
	result    media.ExecResult
	writeLast []byte
	calls     [][]string
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) media.ExecResult {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.writeLast != nil && len(args) > 0 {
		_ = os.WriteFile(args[len(args)-1], r.writeLast, 0o644)
	}
	return r.result
}

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01}

func TestParseJSON(t *testing.T) {
	info, err := media.ParseJSON([]byte(probeFixture))
	require.NoError(t, err)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.InDelta(t, 12.045, info.DurationSeconds, 1e-9)
	assert.True(t, info.HasAudio)
	assert.Equal(t, "h264", info.VideoCodec)
}

func TestParseJSONRejectsAudioOnly(t *testing.T) {
	_, err := media.ParseJSON([]byte(`{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"3.0"}}`))
	assert.Error(t, err)

	_, err = media.ParseJSON([]byte(`{"streams":[{"codec_type":"video","width":0,"height":720}]}`))
	assert.Error(t, err)

	_, err = media.ParseJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestProbeWrapsFailuresAsProbeError(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "still.png")
	require.NoError(t, os.WriteFile(png, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}, 0o644))

	runner := &scriptedRunner{result: media.ExecResult{Stdout: []byte(probeFixture)}}
	prober := media.NewFFProbe("ffprobe", runner)

	var probeErr *model.ProbeError
	_, err := prober.Probe(context.Background(), png)
	require.ErrorAs(t, err, &probeErr)
	assert.Empty(t, runner.calls, "ffprobe must not run for a sniffed non-video file")

	_, err = prober.Probe(context.Background(), filepath.Join(dir, "missing.mp4"))
	assert.ErrorAs(t, err, &probeErr)

	clip := filepath.Join(dir, "clip.bin")
	require.NoError(t, os.WriteFile(clip, []byte("opaque container bytes"), 0o644))
	info, err := prober.Probe(context.Background(), clip)
	require.NoError(t, err)
	assert.Equal(t, 1080, info.Height)

	runner.result = media.ExecResult{ExitCode: 1, Err: errors.New("exit status 1"), Stderr: "Invalid data found"}
	_, err = prober.Probe(context.Background(), clip)
	assert.ErrorAs(t, err, &probeErr)
}

func TestSampleTimestamps(t *testing.T) {
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, media.SampleTimestamps(10, 1, 0))
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2}, media.SampleTimestamps(2.2, 2, 0))
	assert.Equal(t, []float64{0}, media.SampleTimestamps(0.2, 1, 0))
	assert.Equal(t, []float64{0}, media.SampleTimestamps(0, 1, 0))

	capped := media.SampleTimestamps(100, 10, 50)
	require.Len(t, capped, 50)
	assert.InDelta(t, 2.0, capped[1], 1e-9)
	assert.Less(t, capped[49], 100.0)
}

type fakeExtractor struct {
	failAt int
	seeks  []float64
}

func (f *fakeExtractor) ExtractFrame(_ context.Context, _ string, ts float64, dest string) error {
	f.seeks = append(f.seeks, ts)
	if f.failAt >= 0 && len(f.seeks)-1 == f.failAt {
		return errors.New("decode error")
	}
	return os.WriteFile(dest, jpegHeader, 0o644)
}

func TestFrameSamplerIsOrderedAndSingleUse(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{failAt: -1}
	info := model.VideoInfo{Width: 1280, Height: 720, DurationSeconds: 4, FPS: 25}
	sampler := media.NewFrameSampler(extractor, "in.mp4", info, 1, 0, dir)
	require.Equal(t, 4, sampler.Count())

	var got []model.FrameSample
	for frame, err := range sampler.Frames(context.Background()) {
		require.NoError(t, err)
		got = append(got, frame)
	}
	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].TimestampSeconds, got[i-1].TimestampSeconds)
		assert.Equal(t, i, got[i].Index)
	}
	assert.FileExists(t, got[3].ImageRef)

	for _, err := range sampler.Frames(context.Background()) {
		assert.ErrorIs(t, err, media.ErrSequenceConsumed)
	}
}

func TestFrameSamplerSurfacesSamplingError(t *testing.T) {
	extractor := &fakeExtractor{failAt: 2}
	info := model.VideoInfo{Width: 1280, Height: 720, DurationSeconds: 5}
	sampler := media.NewFrameSampler(extractor, "in.mp4", info, 1, 0, t.TempDir())

	var samplingErr *model.SamplingError
	count := 0
	for _, err := range sampler.Frames(context.Background()) {
		if err != nil {
			require.ErrorAs(t, err, &samplingErr)
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, samplingErr.Index)
}

func TestFFmpegFrameExtractorValidatesOutput(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{writeLast: jpegHeader}
	extractor := media.NewFFmpegFrameExtractor("ffmpeg", runner, 0)
	dest := filepath.Join(dir, "f.jpg")
	require.NoError(t, extractor.ExtractFrame(context.Background(), "in.mp4", 1.5, dest))
	assert.Contains(t, runner.calls[0], "scale=512:-2")
	assert.Contains(t, runner.calls[0], "1.500")

	runner.writeLast = []byte{}
	assert.Error(t, extractor.ExtractFrame(context.Background(), "in.mp4", 1.5, filepath.Join(dir, "empty.jpg")))

	runner.writeLast = nil
	runner.result = media.ExecResult{ExitCode: 1, Err: errors.New("exit status 1")}
	assert.Error(t, extractor.ExtractFrame(context.Background(), "in.mp4", 1.5, filepath.Join(dir, "g.jpg")))
}

func TestBuildEncodeArgs(t *testing.T) {
	rect := model.CropRect{X: 656, Y: 0, Width: 608, Height: 1080}
	args := media.BuildEncodeArgs(media.EncodeSpec{
		Source: "in.mp4", Output: "out.mp4", Crop: rect, Preset: "slow", CRF: 17, Audio: media.AudioAAC,
	})
	assert.Contains(t, args, "crop=w=608:h=1080:x=656:y=0")
	assert.Contains(t, args, "0:a:0?")
	assert.Equal(t, "out.mp4", args[len(args)-1])

	args = media.BuildEncodeArgs(media.EncodeSpec{
		Source: "in.mp4", Output: "out.mp4", Crop: rect, CommandsFile: "/tmp/job/crop.cmd", CRF: 28,
	})
	assert.Contains(t, args, "sendcmd=f='/tmp/job/crop.cmd',crop@reframe=w=608:h=1080:x=656:y=0")
	assert.Contains(t, args, "-an")
	assert.Contains(t, args, "medium")
}
