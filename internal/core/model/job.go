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
	"sync"
	"time"
)

// ErrInvalidTransition is returned when a job is asked to move to a status
// that its current status does not lead to.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Status is the lifecycle state of a ReframeJob.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProbing   Status = "probing"
	StatusSampling  Status = "sampling"
	StatusAnalyzing Status = "analyzing"
	StatusSmoothing Status = "smoothing"
	StatusPlanning  Status = "planning"
	StatusRendering Status = "rendering"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// transitions holds the forward edges of the job state machine. Cancellation
// is handled separately since every non-terminal status can be cancelled.
var transitions = map[Status][]Status{
	StatusPending:   {StatusProbing},
	StatusProbing:   {StatusSampling, StatusFailed},
	StatusSampling:  {StatusAnalyzing, StatusFailed},
	StatusAnalyzing: {StatusSmoothing},
	StatusSmoothing: {StatusPlanning},
	StatusPlanning:  {StatusRendering},
	StatusRendering: {StatusCompleted, StatusFailed},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ReframeJob is the engine's record of a single reframe request. The
// immutable request fields are exported; status fields are guarded and only
// change through Transition.
type ReframeJob struct {
	ID                string
	SourcePath        string
	TargetAspectRatio AspectRatio
	Options           Options
	CreatedAt         time.Time

	mu            sync.RWMutex
	status        Status
	tier          int
	failureReason string
	updatedAt     time.Time
}

func NewReframeJob(id string, sourcePath string, aspect AspectRatio, options Options) *ReframeJob {
	now := time.Now()
	return &ReframeJob{
		ID:                id,
		SourcePath:        sourcePath,
		TargetAspectRatio: aspect,
		Options:           options,
		CreatedAt:         now,
		status:            StatusPending,
		updatedAt:         now,
	}
}

func (j *ReframeJob) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Tier returns the render tier currently being attempted, or 0 before rendering.
func (j *ReframeJob) Tier() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tier
}

func (j *ReframeJob) FailureReason() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.failureReason
}

func (j *ReframeJob) UpdatedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.updatedAt
}

// Transition moves the job to next, or returns ErrInvalidTransition.
func (j *ReframeJob) Transition(next Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(next)
}

func (j *ReframeJob) transitionLocked(next Status) error {
	if !j.status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, next)
	}
	j.status = next
	j.updatedAt = time.Now()
	return nil
}

// Fail moves the job to StatusFailed and records the reason.
func (j *ReframeJob) Fail(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.failureReason = reason
	return nil
}

// Cancel moves the job to StatusCancelled unless it already finished.
func (j *ReframeJob) Cancel(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCancelled); err != nil {
		return err
	}
	j.failureReason = reason
	return nil
}

// SetRenderingTier records which tier the render stage is attempting.
func (j *ReframeJob) SetRenderingTier(tier int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tier = tier
	j.updatedAt = time.Now()
}
