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

package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/workflow"
)

// ReframeRequest is the body of POST /reframe. SourcePath is absolute or
// relative to the configured input root. Options fields that are omitted
// keep their configured defaults.
type ReframeRequest struct {
	SourcePath  string        `json:"sourcePath" binding:"required"`
	AspectRatio string        `json:"aspectRatio"`
	Options     model.Options `json:"options"`
}

// JobView is the JSON form of a tracked job.
type JobView struct {
	JobID         string               `json:"jobId"`
	Status        model.Status         `json:"status"`
	SourcePath    string               `json:"sourcePath"`
	AspectRatio   string               `json:"aspectRatio"`
	Options       model.Options        `json:"options"`
	Tier          int                  `json:"tier,omitempty"`
	FailureReason string               `json:"failureReason,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	Result        *model.ReframeResult `json:"result,omitempty"`
}

func newJobView(job *model.ReframeJob, result *model.ReframeResult) *JobView {
	return &JobView{
		JobID:         job.ID,
		Status:        job.Status(),
		SourcePath:    job.SourcePath,
		AspectRatio:   job.TargetAspectRatio.String(),
		Options:       job.Options,
		Tier:          job.Tier(),
		FailureReason: job.FailureReason(),
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt(),
		Result:        result,
	}
}

// ReframeRouter registers the job routes.
func ReframeRouter(r *gin.RouterGroup, h *Handlers) {
	jobs := r.Group("/reframe")
	{
		jobs.POST("", h.submit)
		jobs.GET("/:id", h.status)
		jobs.GET("/:id/events", h.events)
		jobs.DELETE("/:id", h.cancel)
	}
}

func (h *Handlers) submit(c *gin.Context) {
	req := ReframeRequest{Options: h.Defaults}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}

	source, err := ResolveSource(h.InputRoot, req.SourcePath)
	if err != nil {
		c.JSON(http.StatusForbidden, errorBody(err))
		return
	}

	aspect := h.DefaultAspect
	if req.AspectRatio != "" {
		parsed, err := model.ParseAspectRatio(req.AspectRatio)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(err))
			return
		}
		aspect = parsed
	}

	handle, err := h.Engine.Submit(c.Request.Context(), source, aspect, req.Options)
	switch {
	case errors.Is(err, model.ErrInvalidOptions), errors.Is(err, model.ErrUnsupportedAspectRatio):
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	case errors.Is(err, workflow.ErrEngineClosed):
		c.JSON(http.StatusServiceUnavailable, errorBody(err))
		return
	case err != nil:
		slog.ErrorContext(c.Request.Context(), "failed to submit reframe job", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody(err))
		return
	}

	c.Header("Location", c.Request.URL.Path+"/"+string(handle))
	c.JSON(http.StatusAccepted, gin.H{"jobId": string(handle), "status": model.StatusPending})
}

func (h *Handlers) status(c *gin.Context) {
	handle := workflow.JobHandle(c.Param("id"))
	job, err := h.Engine.Job(handle)
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody(err))
		return
	}
	_, result, _ := h.Engine.Poll(handle)
	c.JSON(http.StatusOK, newJobView(job, result))
}

// events streams the job's progress until its terminal event or until the
// client goes away. Each client holds its own subscription.
func (h *Handlers) events(c *gin.Context) {
	events, unsubscribe, err := h.Engine.Subscribe(workflow.JobHandle(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody(err))
		return
	}
	defer unsubscribe()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("progress", event)
			return !event.Status.Terminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handlers) cancel(c *gin.Context) {
	handle := workflow.JobHandle(c.Param("id"))
	status, _, done := h.Engine.Poll(handle)
	if status == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown reframe job"})
		return
	}
	if done {
		h.Engine.Release(handle)
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.Engine.Cancel(handle); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, errorBody(err))
			return
		}
		c.JSON(http.StatusNotFound, errorBody(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": string(handle), "status": model.StatusCancelled})
}
