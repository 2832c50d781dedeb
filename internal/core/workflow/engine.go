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

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var (
	ErrUnknownJob   = errors.New("unknown reframe job")
	ErrEngineClosed = errors.New("reframe engine closed")
)

// JobHandle identifies a submitted job. It is the job's ID.
type JobHandle string

// EngineStats is a snapshot of the engine's counters.
type EngineStats struct {
	Submitted int64 `json:"submitted"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Tracked   int   `json:"tracked"`
}

type jobEntry struct {
	job    *model.ReframeJob
	cancel context.CancelFunc
	events chan model.ProgressEvent
	done   chan struct{}
	result *model.ReframeResult // Written once before done is closed.

	subsMu sync.Mutex
	subs   map[chan model.ProgressEvent]struct{}
	final  *model.ProgressEvent // Set by finish; late subscribers get only this.
}

// send delivers event to the primary channel and every subscriber without
// blocking the job.
func (entry *jobEntry) send(ctx context.Context, event model.ProgressEvent) {
	select {
	case entry.events <- event:
	default:
		slog.DebugContext(ctx, "progress event dropped", "job_id", entry.job.ID, "status", event.Status)
	}
	entry.subsMu.Lock()
	defer entry.subsMu.Unlock()
	for ch := range entry.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// finalize delivers the terminal event everywhere and closes every channel.
func (entry *jobEntry) finalize(event model.ProgressEvent) {
	deliverFinal(entry.events, event)
	close(entry.events)

	entry.subsMu.Lock()
	defer entry.subsMu.Unlock()
	entry.final = &event
	for ch := range entry.subs {
		deliverFinal(ch, event)
		close(ch)
	}
	entry.subs = nil
}

// Engine runs reframe jobs. Each job gets its own goroutine, workspace and
// progress channel; a weighted semaphore bounds how many run at once.
// Jobs stay tracked until Release.
type Engine struct {
	workflow cor.Command
	config   cloud.Reframe
	sem      *semaphore.Weighted
	tracer   trace.Tracer

	mu     sync.Mutex
	jobs   map[JobHandle]*jobEntry
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// NewEngine runs jobs through workflow, normally a *ReframeWorkflow.
func NewEngine(workflow cor.Command, config cloud.Reframe) *Engine {
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = 1
	}
	if config.ProgressBuffer <= 0 {
		config.ProgressBuffer = 64
	}
	if config.TempRoot == "" {
		config.TempRoot = os.TempDir()
	}
	return &Engine{
		workflow: workflow,
		config:   config,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrentJobs)),
		tracer:   otel.Tracer("reframe-engine"),
		jobs:     make(map[JobHandle]*jobEntry),
	}
}

// WorkspaceDir is the directory holding a job's intermediate files.
func (e *Engine) WorkspaceDir(handle JobHandle) string {
	return filepath.Join(e.config.TempRoot, "reframe-"+string(handle))
}

// Submit validates the request and starts the job. Invalid aspect ratios or
// options are returned immediately; everything after that is reported
// through the job's result. ctx only contributes values such as the trace;
// cancelling it does not cancel the job.
func (e *Engine) Submit(ctx context.Context, sourcePath string, aspect model.AspectRatio, options model.Options) (JobHandle, error) {
	if !slices.Contains(model.SupportedAspectRatios, aspect) {
		return "", fmt.Errorf("%w: %q", model.ErrUnsupportedAspectRatio, aspect.String())
	}
	if err := options.Validate(); err != nil {
		return "", err
	}
	if sourcePath == "" {
		return "", fmt.Errorf("%w: source path is required", model.ErrInvalidOptions)
	}

	job := model.NewReframeJob(uuid.NewString(), sourcePath, aspect, options)
	handle := JobHandle(job.ID)
	workspace := e.WorkspaceDir(handle)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", fmt.Errorf("create job workspace: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &jobEntry{
		job:    job,
		cancel: cancel,
		events: make(chan model.ProgressEvent, e.config.ProgressBuffer),
		done:   make(chan struct{}),
		subs:   make(map[chan model.ProgressEvent]struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		_ = os.RemoveAll(workspace)
		return "", ErrEngineClosed
	}
	e.jobs[handle] = entry
	e.wg.Add(1)
	e.mu.Unlock()

	e.submitted.Add(1)
	slog.InfoContext(ctx, "reframe job submitted", "job_id", job.ID, "source", sourcePath, "aspect", aspect.String(),
		"mode", options.Mode, "quality", options.QualityTier)

	go func() {
		defer e.wg.Done()
		defer cancel()
		e.run(jobCtx, entry, workspace)
	}()
	return handle, nil
}

func (e *Engine) run(ctx context.Context, entry *jobEntry, workspace string) {
	job := entry.job
	ctx, span := e.tracer.Start(ctx, "reframe_job")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("job.aspect", job.TargetAspectRatio.String()))

	chCtx := cor.NewBaseContext()
	defer chCtx.Close()
	chCtx.SetWorkspace(workspace)
	chCtx.SetContext(ctx)
	chCtx.Add(commands.GetJobParameterName(), job)
	chCtx.Add(commands.GetStartedParameterName(), time.Now())
	chCtx.Add(commands.GetProgressParameterName(), commands.ProgressSink(func(event model.ProgressEvent) {
		entry.send(ctx, event)
	}))
	chCtx.Add(cor.CtxIn, job.SourcePath)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.finish(chCtx, entry, nil)
		return
	}
	e.running.Add(1)
	e.workflow.Execute(chCtx)
	e.running.Add(-1)
	e.sem.Release(1)

	var result *model.ReframeResult
	if !chCtx.HasErrors() {
		result, _ = chCtx.Get(commands.GetResultParameterName()).(*model.ReframeResult)
	}
	e.finish(chCtx, entry, result)
}

// finish moves the job to its terminal status, records the result, and
// closes the progress channel.
func (e *Engine) finish(chCtx cor.Context, entry *jobEntry, result *model.ReframeResult) {
	job := entry.job
	ctx := chCtx.GetContext()

	switch {
	case result != nil && job.Transition(model.StatusCompleted) == nil:
		e.completed.Add(1)
	case result != nil:
		// Cancelled after the output was published.
		_ = os.Remove(result.OutputPath)
		result = commands.AssembleFromContext(chCtx, nil, cancelReason(job))
		e.cancelled.Add(1)
	case job.Status() == model.StatusCancelled || ctx.Err() != nil:
		_ = job.Cancel("cancelled")
		result = commands.AssembleFromContext(chCtx, nil, cancelReason(job))
		e.cancelled.Add(1)
	default:
		reason := "reframe failed"
		if err := chCtx.Err(); err != nil {
			reason = err.Error()
		}
		if err := job.Fail(reason); err != nil {
			slog.ErrorContext(ctx, "job failed outside a fatal stage", "job_id", job.ID, "status", job.Status(), "error", err)
			_ = job.Cancel(reason)
		}
		result = commands.AssembleFromContext(chCtx, nil, reason)
		e.failed.Add(1)
	}

	status := job.Status()
	slog.InfoContext(ctx, "reframe job finished", "job_id", job.ID, "status", status,
		"success", result.Success, "tier", result.Diagnostics.TierUsed, "reason", result.FailureReason)

	entry.result = result
	entry.finalize(model.ProgressEvent{
		JobID:   job.ID,
		Status:  status,
		Tier:    result.Diagnostics.TierUsed,
		Message: result.FailureReason,
		Time:    time.Now(),
	})
	close(entry.done)
}

// deliverFinal sends the terminal event, discarding the oldest buffered
// events if the channel is full. Only the job goroutine sends on events.
func deliverFinal(events chan model.ProgressEvent, event model.ProgressEvent) {
	for {
		select {
		case events <- event:
			return
		default:
		}
		select {
		case <-events:
		default:
		}
	}
}

func cancelReason(job *model.ReframeJob) string {
	if reason := job.FailureReason(); reason != "" {
		return reason
	}
	return "cancelled"
}

func (e *Engine) entry(handle JobHandle) (*jobEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.jobs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, handle)
	}
	return entry, nil
}

// Result blocks until the job finishes or ctx is done.
func (e *Engine) Result(ctx context.Context, handle JobHandle) (*model.ReframeResult, error) {
	entry, err := e.entry(handle)
	if err != nil {
		return nil, err
	}
	select {
	case <-entry.done:
		return entry.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll returns the job's status and, once it has finished, its result. An
// unknown handle reports an empty status.
func (e *Engine) Poll(handle JobHandle) (model.Status, *model.ReframeResult, bool) {
	entry, err := e.entry(handle)
	if err != nil {
		return "", nil, false
	}
	select {
	case <-entry.done:
		return entry.job.Status(), entry.result, true
	default:
		return entry.job.Status(), nil, false
	}
}

// Job returns the tracked job for handle.
func (e *Engine) Job(handle JobHandle) (*model.ReframeJob, error) {
	entry, err := e.entry(handle)
	if err != nil {
		return nil, err
	}
	return entry.job, nil
}

// Progress returns the job's primary event channel. It is closed after the
// terminal event. Events are dropped rather than block the job when nobody
// reads. The channel has a single consumer: concurrent readers split the
// events between them, so use Subscribe for more than one reader.
func (e *Engine) Progress(handle JobHandle) (<-chan model.ProgressEvent, error) {
	entry, err := e.entry(handle)
	if err != nil {
		return nil, err
	}
	return entry.events, nil
}

// Subscribe returns a private copy of the job's progress stream, so any
// number of readers can follow one job. Each subscriber sees the terminal
// event before its channel closes; a subscriber arriving after the job
// finished gets only the terminal event. Call the returned function to stop
// early.
func (e *Engine) Subscribe(handle JobHandle) (<-chan model.ProgressEvent, func(), error) {
	entry, err := e.entry(handle)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan model.ProgressEvent, e.config.ProgressBuffer)

	entry.subsMu.Lock()
	defer entry.subsMu.Unlock()
	if entry.final != nil {
		ch <- *entry.final
		close(ch)
		return ch, func() {}, nil
	}
	entry.subs[ch] = struct{}{}
	unsubscribe := func() {
		entry.subsMu.Lock()
		defer entry.subsMu.Unlock()
		if _, ok := entry.subs[ch]; ok {
			delete(entry.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

// Cancel stops a running or queued job. In-flight inference and encoder
// processes are killed, and the job's workspace is removed.
func (e *Engine) Cancel(handle JobHandle) error {
	entry, err := e.entry(handle)
	if err != nil {
		return err
	}
	if err := entry.job.Cancel("cancelled by request"); err != nil {
		return err
	}
	entry.cancel()
	slog.Info("reframe job cancelled", "job_id", entry.job.ID)
	return nil
}

// Release forgets a job, cancelling it first if it is still running.
func (e *Engine) Release(handle JobHandle) {
	e.mu.Lock()
	entry, ok := e.jobs[handle]
	delete(e.jobs, handle)
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-entry.done:
	default:
		_ = entry.job.Cancel("released")
		entry.cancel()
	}
}

// Reframe submits a job, waits for it and releases it. If ctx ends first the
// job is cancelled.
func (e *Engine) Reframe(ctx context.Context, sourcePath string, aspect model.AspectRatio, options model.Options) (*model.ReframeJob, *model.ReframeResult, error) {
	handle, err := e.Submit(ctx, sourcePath, aspect, options)
	if err != nil {
		return nil, nil, err
	}
	defer e.Release(handle)

	job, err := e.Job(handle)
	if err != nil {
		return nil, nil, err
	}
	result, err := e.Result(ctx, handle)
	if err != nil {
		_ = e.Cancel(handle)
		return job, nil, err
	}
	return job, result, nil
}

func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	tracked := len(e.jobs)
	e.mu.Unlock()
	return EngineStats{
		Submitted: e.submitted.Load(),
		Running:   e.running.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Cancelled: e.cancelled.Load(),
		Tracked:   tracked,
	}
}

// Close cancels every unfinished job and waits for all job goroutines.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	entries := make([]*jobEntry, 0, len(e.jobs))
	for _, entry := range e.jobs {
		entries = append(entries, entry)
	}
	e.mu.Unlock()

	for _, entry := range entries {
		select {
		case <-entry.done:
		default:
			_ = entry.job.Cancel("engine closed")
			entry.cancel()
		}
	}
	e.wg.Wait()
}
