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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/services"
)

// ResultsRouter registers the routes backed by the BigQuery result table.
func ResultsRouter(r *gin.RouterGroup, h *Handlers) {
	results := r.Group("/results")
	{
		results.GET("/:id", h.result)
		results.GET("/:id/stream", h.stream)
	}
}

func (h *Handlers) result(c *gin.Context) {
	if h.Results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store not configured"})
		return
	}
	record, err := h.Results.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.lookupFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// stream returns a signed URL for the job's uploaded output.
func (h *Handlers) stream(c *gin.Context) {
	if h.Results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store not configured"})
		return
	}
	ctx := c.Request.Context()
	record, err := h.Results.Get(ctx, c.Param("id"))
	if err != nil {
		h.lookupFailed(c, err)
		return
	}
	if !record.Success || record.OutputURI == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "job produced no output"})
		return
	}

	expiry := h.SignedURLExpiry
	if expiry <= 0 {
		expiry = DefaultSignedURLExpiry
	}
	signedURL, err := h.Results.GenerateSignedURL(ctx, record.OutputURI, expiry)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sign output URL", "job_id", record.JobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate streaming URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

func (h *Handlers) lookupFailed(c *gin.Context, err error) {
	if errors.Is(err, services.ErrResultNotFound) {
		c.JSON(http.StatusNotFound, errorBody(err))
		return
	}
	slog.ErrorContext(c.Request.Context(), "result lookup failed", "id", c.Param("id"), "error", err)
	c.JSON(http.StatusInternalServerError, errorBody(err))
}
