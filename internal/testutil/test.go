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

// Package test provides configuration helpers, sample messages and fake
// collaborators shared by the test suites.
package test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/media"
)

// StateManager caches the test configuration across a test binary.
type StateManager struct {
	once   sync.Once
	config *cloud.Config
}

var state = &StateManager{}

// JPEGHeader is enough of a JPEG for content sniffing.
var JPEGHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01}

// GetTestReframeMessageText is a GCS finalize notification for an upload to
// the reframe input bucket that asks for a square, static reframe.
func GetTestReframeMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "media_reframe_input/uploads/test-trailer-001.mp4/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/media_reframe_input/o/uploads%2Ftest-trailer-001.mp4",
  "name": "uploads/test-trailer-001.mp4",
  "bucket": "media_reframe_input",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "timeStorageClassUpdated": "2024-10-11T03:04:08.672Z",
  "size": "259348037",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "mediaLink": "https://storage.googleapis.com/download/storage/v1/b/media_reframe_input/o/uploads%2Ftest-trailer-001.mp4?generation=1728615848664286&alt=media",
  "metadata": { "aspect_ratio": "1:1", "mode": "static", "confidence_threshold": 50 },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}
`
}

// ConfigDir returns the repository's configs directory.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs")
}

// SetupOS points the configuration loader at the repository's configs
// directory and the "test" runtime.
func SetupOS() (err error) {
	if err = os.Setenv(cloud.EnvConfigFilePrefix, ConfigDir()); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and caches it.
func GetConfig() *cloud.Config {
	state.once.Do(func() {
		if err := SetupOS(); err != nil {
			slog.Error("failed to setup environment for test", "error", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			slog.Error("failed to load test configuration", "error", err)
		}
		state.config = config
	})
	return state.config
}

// FakeProber returns Info, or Err when set.
type FakeProber struct {
	Info model.VideoInfo
	Err  error
}

func (p *FakeProber) Probe(_ context.Context, path string) (*model.VideoInfo, error) {
	if p.Err != nil {
		return nil, &model.ProbeError{Path: path, Err: p.Err}
	}
	info := p.Info
	return &info, nil
}

// FakeExtractor writes JPEGHeader for every frame, failing from FailAt on
// when FailAt is positive.
type FakeExtractor struct {
	FailAt int
	calls  atomic.Int32
}

func (e *FakeExtractor) ExtractFrame(ctx context.Context, _ string, _ float64, dest string) error {
	n := int(e.calls.Add(1))
	if e.FailAt > 0 && n >= e.FailAt {
		return os.ErrPermission
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(dest, JPEGHeader, 0o600)
}

// FakeEncoder writes Size bytes (64 KiB when zero) and exits 0, or fails
// every call when FailAll is set. It tracks peak concurrency.
type FakeEncoder struct {
	Size      int
	FailAll   bool
	mu        sync.Mutex
	Specs     []media.EncodeSpec
	active    atomic.Int32
	MaxActive atomic.Int32
	Hold      chan struct{} // When set, each encode waits on it or ctx.
}

func (e *FakeEncoder) Encode(ctx context.Context, spec media.EncodeSpec) media.ExecResult {
	e.mu.Lock()
	e.Specs = append(e.Specs, spec)
	e.mu.Unlock()

	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		peak := e.MaxActive.Load()
		if n <= peak || e.MaxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	if e.Hold != nil {
		select {
		case <-e.Hold:
		case <-ctx.Done():
			return media.ExecResult{ExitCode: -1, Err: ctx.Err()}
		}
	}
	if e.FailAll {
		return media.ExecResult{ExitCode: 1, Stderr: "Conversion failed!"}
	}
	size := e.Size
	if size == 0 {
		size = 64 * 1024
	}
	if err := os.WriteFile(spec.Output, make([]byte, size), 0o600); err != nil {
		return media.ExecResult{ExitCode: 1, Err: err}
	}
	return media.ExecResult{}
}

// Calls returns a copy of the recorded encode specs.
func (e *FakeEncoder) Calls() []media.EncodeSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]media.EncodeSpec(nil), e.Specs...)
}

// FocusEstimateAt builds an estimate centred on normalized (x, y).
func FocusEstimateAt(x float64, y float64, confidence float64) *model.FocusEstimate {
	return &model.FocusEstimate{
		Box:        []float64{y*1000 - 100, x*1000 - 100, y*1000 + 100, x*1000 + 100},
		Confidence: confidence,
	}
}
