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
	"log/slog"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
)

// ReframeTriggerWorkflow handles a GCS finalize notification for the input
// bucket: it downloads the object, reframes it with the settings in the
// object's metadata, uploads a successful output to the output bucket and
// records the result in BigQuery.
type ReframeTriggerWorkflow struct {
	cor.BaseCommand
	config         *cloud.Config
	storageClient  *storage.Client
	bigqueryClient *bigquery.Client
	reframer       commands.Reframer
	chain          cor.Chain
}

func NewReframeTriggerWorkflow(config *cloud.Config, serviceClients *cloud.ServiceClients, reframer commands.Reframer) *ReframeTriggerWorkflow {
	out := &ReframeTriggerWorkflow{
		BaseCommand:    *cor.NewBaseCommand("reframe-trigger-workflow"),
		config:         config,
		storageClient:  serviceClients.StorageClient,
		bigqueryClient: serviceClients.BiqQueryClient,
		reframer:       reframer,
	}
	out.initializeChain()
	return out
}

func (w *ReframeTriggerWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

func (w *ReframeTriggerWorkflow) initializeChain() {
	defaultAspect, err := model.ParseAspectRatio(w.config.Reframe.DefaultAspectRatio)
	if err != nil {
		slog.Warn("invalid default aspect ratio, using 9:16", "value", w.config.Reframe.DefaultAspectRatio, "error", err)
		defaultAspect = model.DefaultAspectRatio
	}

	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewReframeTriggerToGCSObject("reframe-trigger-to-gcs-object"))
	out.AddCommand(commands.NewGCSToTempFile("gcs-to-temp-file", w.storageClient, "reframe-source-"))
	out.AddCommand(commands.NewReframeSubmit("reframe-submit", w.reframer, defaultAspect, w.config.Reframe.Defaults))
	out.AddCommand(commands.NewGCSFileUpload("gcs-file-upload", w.storageClient, w.config.Storage.OutputBucket, w.config.Storage.OutputPrefix))
	out.AddCommand(commands.NewResultPersistToBigQuery(
		"write-result-to-bigquery",
		w.bigqueryClient,
		w.config.BigQueryDataSource.DatasetName,
		w.config.BigQueryDataSource.ResultTable))
	w.chain = out
}
