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

package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/media"
)

// PartialPath is where a tier writes its output before it is validated.
func PartialPath(workDir string, tier int, name string) string {
	return filepath.Join(workDir, fmt.Sprintf("tier%d-%s.mp4", tier, name))
}

// ScriptPath is the sendcmd script a dynamic tier writes.
func ScriptPath(workDir string, tier int) string {
	return filepath.Join(workDir, fmt.Sprintf("tier%d-crop.cmd", tier))
}

// encode runs one encode under in.Timeout and validates the output. Failed
// outputs are removed.
func encode(ctx context.Context, encoder media.Encoder, in *Input, tier int, name string, spec media.EncodeSpec) model.RenderAttempt {
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	res := encoder.Encode(ctx, spec)
	attempt := model.RenderAttempt{
		Tier:         tier,
		StrategyName: name,
		ExitStatus:   res.ExitCode,
		DurationMs:   res.Duration.Milliseconds(),
	}

	if spec.Audio == media.AudioAAC && res.ExitCode != 0 && IsAudioError(res.Stderr) {
		in.AudioFailed = true
	}

	switch info, statErr := os.Stat(spec.Output); {
	case res.ExitCode != 0 || res.Err != nil:
		attempt.Reason = failureReason(res)
	case statErr != nil:
		attempt.Reason = fmt.Sprintf("output missing: %v", statErr)
	case info.Size() < in.MinOutputBytes:
		attempt.SizeBytes = info.Size()
		attempt.Reason = fmt.Sprintf("output too small: %d bytes, want at least %d", info.Size(), in.MinOutputBytes)
	default:
		attempt.SizeBytes = info.Size()
		attempt.Success = true
		attempt.OutputPath = spec.Output
		return attempt
	}

	if err := os.Remove(spec.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "failed to remove partial output", "path", spec.Output, "error", err)
	}
	return attempt
}

func failureReason(res media.ExecResult) string {
	var parts []string
	if res.Err != nil {
		parts = append(parts, res.Err.Error())
	} else {
		parts = append(parts, fmt.Sprintf("exit status %d", res.ExitCode))
	}
	if tail := media.Tail(res.Stderr, 512); tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ": ")
}

// WriteCropCommands writes a sendcmd script moving the crop window along
// points. Positions are linearly interpolated at hz between plan points, and
// the file is replaced atomically.
func WriteCropCommands(path string, points []model.CropPathPoint, hz float64) error {
	if len(points) == 0 {
		return errors.New("empty crop path")
	}
	if hz <= 0 {
		hz = DefaultCommandHz
	}
	var sb strings.Builder
	emit := func(ts float64, x int, y int) {
		fmt.Fprintf(&sb, "%.3f %s x %d, %s y %d;\n", ts, media.CropFilterName, x, media.CropFilterName, y)
	}

	step := 1 / hz
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		span := b.TimestampSeconds - a.TimestampSeconds
		emit(a.TimestampSeconds, a.X, a.Y)
		if span <= 0 {
			continue
		}
		for t := a.TimestampSeconds + step; t < b.TimestampSeconds-step/2; t += step {
			f := (t - a.TimestampSeconds) / span
			emit(t, lerp(a.X, b.X, f), lerp(a.Y, b.Y, f))
		}
	}
	last := points[len(points)-1]
	emit(last.TimestampSeconds, last.X, last.Y)

	return renameio.WriteFile(path, []byte(sb.String()), 0o644)
}

func lerp(a int, b int, f float64) int {
	return int(math.Round(float64(a) + float64(b-a)*f))
}

// publish copies a validated partial output to dest atomically, so readers
// never observe a half-written file.
func publish(src string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, in); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// Pipeline runs strategies in tier order until one succeeds.
type Pipeline struct {
	strategies []Strategy
	onTier     func(tier int)
}

func NewPipeline(strategies ...Strategy) *Pipeline {
	ordered := slices.Clone(strategies)
	slices.SortStableFunc(ordered, func(a, b Strategy) int { return a.Tier() - b.Tier() })
	return &Pipeline{strategies: ordered}
}

// OnTier registers a callback invoked before each strategy is attempted.
func (p *Pipeline) OnTier(fn func(tier int)) *Pipeline {
	p.onTier = fn
	return p
}

// Strategies returns the strategies in the order they are tried.
func (p *Pipeline) Strategies() []Strategy {
	return slices.Clone(p.strategies)
}

// Run tries each strategy in turn and publishes the first valid output to
// in.OutputPath. It returns the winning attempt and every attempt made,
// skipped ones included. When every tier fails the error is a
// *model.RenderError for the last tier; a cancelled ctx returns ctx's error.
func (p *Pipeline) Run(ctx context.Context, in *Input) (*model.RenderAttempt, []model.RenderAttempt, error) {
	attempts := make([]model.RenderAttempt, 0, len(p.strategies))
	if len(p.strategies) == 0 {
		return nil, attempts, &model.RenderError{Err: errors.New("no render strategies")}
	}
	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return nil, attempts, &model.RenderError{Err: fmt.Errorf("create render directory: %w", err)}
	}

	for _, s := range p.strategies {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		if ok, reason := s.Applicable(in); !ok {
			slog.InfoContext(ctx, "skipping render tier", "tier", s.Tier(), "strategy", s.Name(), "reason", reason)
			attempts = append(attempts, model.RenderAttempt{
				Tier:         s.Tier(),
				StrategyName: s.Name(),
				Skipped:      true,
				Reason:       reason,
			})
			continue
		}

		if p.onTier != nil {
			p.onTier(s.Tier())
		}
		attempt := s.Attempt(ctx, in)
		if !attempt.Success {
			slog.WarnContext(ctx, "render tier failed", "tier", s.Tier(), "strategy", s.Name(),
				"exit_status", attempt.ExitStatus, "reason", attempt.Reason)
			attempts = append(attempts, attempt)
			continue
		}

		partial := attempt.OutputPath
		if err := publish(partial, in.OutputPath); err != nil {
			attempt.Success = false
			attempt.Reason = fmt.Sprintf("publish output: %v", err)
			attempts = append(attempts, attempt)
			return nil, attempts, &model.RenderError{Tier: s.Tier(), Strategy: s.Name(), Err: err}
		}
		_ = os.Remove(partial)
		attempt.OutputPath = in.OutputPath
		attempts = append(attempts, attempt)
		slog.InfoContext(ctx, "render tier succeeded", "tier", s.Tier(), "strategy", s.Name(), "size_bytes", attempt.SizeBytes)
		return &attempts[len(attempts)-1], attempts, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, attempts, err
	}
	last := attempts[len(attempts)-1]
	return nil, attempts, &model.RenderError{Tier: last.Tier, Strategy: last.StrategyName, Err: errors.New(last.Reason)}
}
