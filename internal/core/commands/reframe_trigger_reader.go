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

package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// Object metadata keys a caller can set on an uploaded source to tune its
// reframe job.
const (
	MetadataAspectRatio         = "aspect_ratio"
	MetadataMode                = "mode"
	MetadataQualityTier         = "quality_tier"
	MetadataSamplingRateHz      = "sampling_rate_hz"
	MetadataSmoothingFactor     = "smoothing_factor"
	MetadataConfidenceThreshold = "confidence_threshold"
)

// ReframeTriggerToGCSObject parses a GCS Pub/Sub notification into a
// cloud.GCSObject, keeping the object's custom metadata.
type ReframeTriggerToGCSObject struct {
	cor.BaseCommand
}

func NewReframeTriggerToGCSObject(name string) *ReframeTriggerToGCSObject {
	return &ReframeTriggerToGCSObject{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *ReframeTriggerToGCSObject) Execute(context cor.Context) {
	in := context.Get(c.GetInputParam()).(string)

	var out cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		c.Fail(context, fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}
	if out.Bucket == "" || out.Name == "" {
		c.Fail(context, fmt.Errorf("GCS notification is missing bucket or name"))
		return
	}

	metadata := make(map[string]string, len(out.MetaData))
	for k, v := range out.MetaData {
		metadata[k] = fmt.Sprint(v)
	}
	msg := &cloud.GCSObject{Bucket: out.Bucket, Name: out.Name, MIMEType: out.ContentType, Metadata: metadata}
	slog.InfoContext(context.GetContext(), "reframe triggered", "object", msg.URI(), "content_type", msg.MIMEType)

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(cloud.GetGCSObjectName(), msg)
	context.Add(c.GetOutputParam(), msg)
}

// OptionsFromMetadata overlays any reframe settings found in object metadata
// onto the defaults and validates the result.
func OptionsFromMetadata(metadata map[string]string, defaultAspect model.AspectRatio, defaults model.Options) (model.AspectRatio, model.Options, error) {
	aspect, options := defaultAspect, defaults
	if v, ok := metadata[MetadataAspectRatio]; ok {
		parsed, err := model.ParseAspectRatio(v)
		if err != nil {
			return aspect, options, err
		}
		aspect = parsed
	}
	if v, ok := metadata[MetadataMode]; ok {
		options.Mode = model.Mode(v)
	}
	if v, ok := metadata[MetadataQualityTier]; ok {
		options.QualityTier = model.QualityTier(v)
	}
	if v, ok := metadata[MetadataSamplingRateHz]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return aspect, options, fmt.Errorf("%w: %s: %v", model.ErrInvalidOptions, MetadataSamplingRateHz, err)
		}
		options.SamplingRateHz = f
	}
	if v, ok := metadata[MetadataSmoothingFactor]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return aspect, options, fmt.Errorf("%w: %s: %v", model.ErrInvalidOptions, MetadataSmoothingFactor, err)
		}
		options.SmoothingFactor = f
	}
	if v, ok := metadata[MetadataConfidenceThreshold]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return aspect, options, fmt.Errorf("%w: %s: %v", model.ErrInvalidOptions, MetadataConfidenceThreshold, err)
		}
		options.ConfidenceThreshold = n
	}
	return aspect, options, options.Validate()
}
