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

// Package media wraps the external ffprobe and ffmpeg tools the reframing
// engine depends on: probing a source container, extracting still frames and
// encoding the cropped output. Every tool invocation goes through a Runner so
// tests can substitute scripted results.
package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// stderrTailBytes bounds how much ffmpeg chatter is kept on an ExecResult.
const stderrTailBytes = 4096

// ExecResult holds the outcome of a single tool invocation.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
	Err      error
	Duration time.Duration
}

// Runner executes an external program.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ExecResult
}

// ExecRunner runs programs with os/exec. The process is killed when ctx is
// done.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ExecResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   Tail(stderr.String(), stderrTailBytes),
		Err:      err,
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Err = errors.Join(err, ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}
	return res
}

// Tail returns at most the last n bytes of s, trimmed of surrounding space.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
