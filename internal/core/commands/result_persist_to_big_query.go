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
	"log/slog"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// ResultPersistToBigQuery streams one model.ResultRecord per finished job
// into the results table, failed jobs included.
type ResultPersistToBigQuery struct {
	cor.BaseCommand
	client  *bigquery.Client
	dataset string
	table   string
}

func NewResultPersistToBigQuery(name string, client *bigquery.Client, dataset string, table string) *ResultPersistToBigQuery {
	return &ResultPersistToBigQuery{BaseCommand: *cor.NewBaseCommand(name), client: client, dataset: dataset, table: table}
}

func (s *ResultPersistToBigQuery) IsExecutable(context cor.Context) bool {
	return context != nil && context.Get(resultParam) != nil && context.Get(jobParam) != nil
}

// RecordFromContext builds the row for the context's job and result.
func RecordFromContext(context cor.Context) *model.ResultRecord {
	result := context.Get(resultParam).(*model.ReframeResult)
	job := JobFrom(context)
	sourceURI := job.SourcePath
	if obj, ok := context.Get(cloud.GetGCSObjectName()).(*cloud.GCSObject); ok {
		sourceURI = obj.URI()
	}
	outputURI, _ := context.Get(outputURIParam).(string)
	if outputURI == "" {
		outputURI = result.OutputPath
	}
	return model.NewResultRecord(job, sourceURI, outputURI, result)
}

func (s *ResultPersistToBigQuery) Execute(context cor.Context) {
	record := RecordFromContext(context)

	i := s.client.Dataset(s.dataset).Table(s.table).Inserter()
	if err := i.Put(context.GetContext(), record); err != nil {
		slog.ErrorContext(context.GetContext(), "failed to write result to database", "job_id", record.JobID, "error", err)
		s.Fail(context, fmt.Errorf("bigquery insert failed for job %s: %w", record.JobID, err))
		return
	}

	s.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "persisted result", "job_id", record.JobID, "success", record.Success)
}
