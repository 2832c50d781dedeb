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

import "time"

// RenderAttempt records one tier of the render pipeline.
type RenderAttempt struct {
	Tier         int    `json:"tier"`
	StrategyName string `json:"strategyName"`
	ExitStatus   int    `json:"exitStatus"`
	OutputPath   string `json:"outputPath,omitempty"`
	SizeBytes    int64  `json:"sizeBytes"`
	Success      bool   `json:"success"`
	Skipped      bool   `json:"skipped,omitempty"`
	Reason       string `json:"reason,omitempty"`
	DurationMs   int64  `json:"durationMs"`
}

type Diagnostics struct {
	FramesAnalyzed    int             `json:"framesAnalyzed"`
	AverageConfidence float64         `json:"averageConfidence"`
	StabilityScore    float64         `json:"stabilityScore"`
	TierUsed          int             `json:"tierUsed"`
	ProcessingTimeMs  int64           `json:"processingTimeMs"`
	DegradedFrames    int             `json:"degradedFrames"`
	RenderAttempts    []RenderAttempt `json:"renderAttempts,omitempty"`
}

// ReframeResult is what callers receive for a finished job.
type ReframeResult struct {
	JobID         string      `json:"jobId,omitempty"`
	Success       bool        `json:"success"`
	OutputPath    string      `json:"outputPath"`
	FailureReason string      `json:"failureReason,omitempty"`
	Diagnostics   Diagnostics `json:"diagnostics"`
}

// ProgressEvent is published on a job's progress channel at every status
// change and after each analyzed frame.
type ProgressEvent struct {
	JobID     string    `json:"jobId"`
	Status    Status    `json:"status"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Tier      int       `json:"tier,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// ResultRecord is the BigQuery row persisted for every finished job.
type ResultRecord struct {
	JobID             string    `json:"job_id" bigquery:"job_id"`
	SourceURI         string    `json:"source_uri" bigquery:"source_uri"`
	OutputURI         string    `json:"output_uri" bigquery:"output_uri"`
	TargetAspectRatio string    `json:"target_aspect_ratio" bigquery:"target_aspect_ratio"`
	Mode              string    `json:"mode" bigquery:"mode"`
	QualityTier       string    `json:"quality_tier" bigquery:"quality_tier"`
	Success           bool      `json:"success" bigquery:"success"`
	FailureReason     string    `json:"failure_reason" bigquery:"failure_reason"`
	FramesAnalyzed    int       `json:"frames_analyzed" bigquery:"frames_analyzed"`
	DegradedFrames    int       `json:"degraded_frames" bigquery:"degraded_frames"`
	AverageConfidence float64   `json:"average_confidence" bigquery:"average_confidence"`
	StabilityScore    float64   `json:"stability_score" bigquery:"stability_score"`
	TierUsed          int       `json:"tier_used" bigquery:"tier_used"`
	ProcessingTimeMs  int64     `json:"processing_time_ms" bigquery:"processing_time_ms"`
	CreateDate        time.Time `json:"create_date" bigquery:"create_date"`
}

// NewResultRecord flattens a result into its persisted form.
func NewResultRecord(job *ReframeJob, sourceURI string, outputURI string, result *ReframeResult) *ResultRecord {
	return &ResultRecord{
		JobID:             job.ID,
		SourceURI:         sourceURI,
		OutputURI:         outputURI,
		TargetAspectRatio: job.TargetAspectRatio.String(),
		Mode:              string(job.Options.Mode),
		QualityTier:       string(job.Options.QualityTier),
		Success:           result.Success,
		FailureReason:     result.FailureReason,
		FramesAnalyzed:    result.Diagnostics.FramesAnalyzed,
		DegradedFrames:    result.Diagnostics.DegradedFrames,
		AverageConfidence: result.Diagnostics.AverageConfidence,
		StabilityScore:    result.Diagnostics.StabilityScore,
		TierUsed:          result.Diagnostics.TierUsed,
		ProcessingTimeMs:  result.Diagnostics.ProcessingTimeMs,
		CreateDate:        time.Now(),
	}
}
