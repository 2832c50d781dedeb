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

// Package services contains the read side of the reframe service: looking up
// persisted results in BigQuery and handing out time-limited URLs for the
// rendered outputs in Cloud Storage.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"google.golang.org/api/iterator"
)

// ErrResultNotFound is returned when no row exists for a job ID.
var ErrResultNotFound = errors.New("result not found")

// ResultService reads reframe results and signs output URLs.
type ResultService struct {
	BigqueryClient *bigquery.Client
	StorageClient  *storage.Client
	IAMClient      *credentials.IamCredentialsClient // Optional; signs via IAM when set.
	SignerEmail    string                            // Service account that signs URLs.
	DatasetName    string
	ResultTable    string
}

// GetFQN returns the result table's name in standard SQL form,
// e.g. `project.media_ds.reframe_results`.
func (s *ResultService) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.ResultTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", 1)
}

// Get returns the most recent result row for jobID.
func (s *ResultService) Get(ctx context.Context, jobID string) (*model.ResultRecord, error) {
	q := s.BigqueryClient.Query(fmt.Sprintf(QryFindResultByJobId, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "job_id", Value: jobID}}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}
	record := &model.ResultRecord{}
	err = itr.Next(record)
	if errors.Is(err, iterator.Done) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Recent returns up to limit result rows, newest first.
func (s *ResultService) Recent(ctx context.Context, limit int) ([]*model.ResultRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.BigqueryClient.Query(fmt.Sprintf(QryRecentResults, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: limit}}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.ResultRecord, 0, limit)
	for {
		record := &model.ResultRecord{}
		err := itr.Next(record)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, record)
	}
	return out, nil
}

// GenerateSignedURL returns a V4 GET URL for a gs://bucket/object URI, valid
// for expires. When an IAM client is configured the URL is signed through the
// IAM Credentials API as SignerEmail, so no local key is needed.
func (s *ResultService) GenerateSignedURL(ctx context.Context, gcsURI string, expires time.Duration) (string, error) {
	bucketName, objectName, err := cloud.ParseGCSURI(gcsURI)
	if err != nil {
		return "", err
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expires),
	}
	if s.SignerEmail != "" {
		opts.GoogleAccessID = s.SignerEmail
	}
	if s.IAMClient != nil && s.SignerEmail != "" {
		opts.SignBytes = func(b []byte) ([]byte, error) {
			resp, err := s.IAMClient.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.SignerEmail),
				Payload: b,
			})
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		}
	}

	u, err := s.StorageClient.Bucket(bucketName).SignedURL(objectName, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", bucketName, objectName, err)
	}
	slog.DebugContext(ctx, "generated signed URL", "bucket", bucketName, "object", objectName, "expires", expires)
	return u, nil
}
