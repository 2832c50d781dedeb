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

// Package api exposes the reframe engine and the persisted results over HTTP.
//
// Routes, relative to the group passed to Register:
//
//	POST   /reframe             submit a job
//	GET    /reframe/:id         job status and, once finished, its result
//	GET    /reframe/:id/events  progress as server-sent events
//	DELETE /reframe/:id         cancel a running job or release a finished one
//	GET    /results/:id         persisted result row
//	GET    /results/:id/stream  signed URL for the rendered output
//	GET    /stats               engine counters
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/workflow"
)

// DefaultSignedURLExpiry is how long a stream URL stays valid.
const DefaultSignedURLExpiry = 15 * time.Minute

// Engine is the part of *workflow.Engine the handlers use.
type Engine interface {
	Submit(ctx context.Context, sourcePath string, aspect model.AspectRatio, options model.Options) (workflow.JobHandle, error)
	Poll(handle workflow.JobHandle) (model.Status, *model.ReframeResult, bool)
	Job(handle workflow.JobHandle) (*model.ReframeJob, error)
	Subscribe(handle workflow.JobHandle) (<-chan model.ProgressEvent, func(), error)
	Cancel(handle workflow.JobHandle) error
	Release(handle workflow.JobHandle)
	Stats() workflow.EngineStats
}

// ResultStore is the part of *services.ResultService the handlers use.
type ResultStore interface {
	Get(ctx context.Context, jobID string) (*model.ResultRecord, error)
	GenerateSignedURL(ctx context.Context, gcsURI string, expires time.Duration) (string, error)
}

// Handlers serves the HTTP API. Results may be nil, in which case the
// /results routes answer 503. Submitted source paths must resolve inside
// InputRoot; with no InputRoot, POST /reframe is refused.
type Handlers struct {
	Engine          Engine
	Results         ResultStore
	InputRoot       string
	DefaultAspect   model.AspectRatio
	Defaults        model.Options
	SignedURLExpiry time.Duration
}

// Register adds every route to r.
func (h *Handlers) Register(r *gin.RouterGroup) {
	ReframeRouter(r, h)
	ResultsRouter(r, h)
	Dashboard(r, h)
}

func errorBody(err error) gin.H {
	return gin.H{"error": err.Error()}
}
