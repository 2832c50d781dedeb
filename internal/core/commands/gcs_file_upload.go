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
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// GCSFileUpload uploads a successful reframe output to the output bucket,
// named after the object that triggered the workflow. It outputs the gs://
// URI of the upload. Failed results are not executable and pass through.
type GCSFileUpload struct {
	cor.BaseCommand
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSFileUpload(name string, client *storage.Client, bucket string, prefix string) *GCSFileUpload {
	return &GCSFileUpload{BaseCommand: *cor.NewBaseCommand(name), client: client, bucket: bucket, prefix: prefix}
}

func (c *GCSFileUpload) IsExecutable(context cor.Context) bool {
	result, ok := context.Get(c.GetInputParam()).(*model.ReframeResult)
	return ok && result.Success && context.Get(cloud.GetGCSObjectName()) != nil
}

// OutputObjectName maps a source object and result to the uploaded object's
// name, e.g. "reframed/clip-9x16.mp4" for "uploads/clip.mov".
func OutputObjectName(prefix string, source string, outputPath string) string {
	base := strings.TrimSuffix(path.Base(source), path.Ext(source))
	suffix := path.Base(outputPath)
	if i := strings.LastIndex(suffix, "-"); i >= 0 {
		suffix = suffix[i:]
	} else {
		suffix = path.Ext(suffix)
	}
	return path.Join(prefix, base+suffix)
}

func (c *GCSFileUpload) Execute(context cor.Context) {
	result := context.Get(c.GetInputParam()).(*model.ReframeResult)
	original := context.Get(cloud.GetGCSObjectName()).(*cloud.GCSObject)
	// The published render is local scratch here; drop it with the context
	// whether or not the upload succeeds.
	context.AddTempFile(result.OutputPath)

	dat, err := os.Open(result.OutputPath)
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to open file %s: %w", result.OutputPath, err))
		return
	}
	defer dat.Close()

	obj := c.client.Bucket(c.bucket).Object(OutputObjectName(c.prefix, original.Name, result.OutputPath))
	writer := obj.NewWriter(context.GetContext())
	writer.ContentType = "video/mp4"
	writer.Metadata = map[string]string{
		"source":       original.URI(),
		"job_id":       result.JobID,
		"tier_used":    fmt.Sprint(result.Diagnostics.TierUsed),
		"aspect_ratio": original.Metadata[MetadataAspectRatio],
	}

	if written, err := io.Copy(writer, dat); err != nil {
		_ = writer.Close()
		slog.ErrorContext(context.GetContext(), "failed to copy to GCS or partial write", "written", written, "error", err)
		c.Fail(context, err)
		return
	}
	// Close finalizes the upload; its error is the upload's error.
	if err := writer.Close(); err != nil {
		c.Fail(context, fmt.Errorf("failed to finalize upload of %s: %w", result.OutputPath, err))
		return
	}

	uri := cloud.GCSURI(c.bucket, obj.ObjectName())
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "uploaded output", "job_id", result.JobID, "object", uri)
	context.Add(outputURIParam, uri)
	context.Add(c.GetOutputParam(), result)
}
