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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"github.com/jaycherian/gcp-go-media-reframe/internal/api"
	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/services"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/workflow"
)

type StateManager struct {
	config        *cloud.Config
	cloud         *cloud.ServiceClients
	engine        *workflow.Engine
	resultService *services.ResultService
	handlers      *api.Handlers
}

var state = &StateManager{}

// SetupOS defaults the configuration location to ./configs and the runtime
// to "local" unless the environment already names them.
func SetupOS() error {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		return os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return nil
}

func GetConfig() (*cloud.Config, error) {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			return nil, err
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			return nil, err
		}
		state.config = config
	}
	return state.config, nil
}

// InitState creates the cloud clients, the reframing engine, the result
// service and the HTTP handlers, and starts the Pub/Sub listeners.
func InitState(ctx context.Context) error {
	config, err := GetConfig()
	if err != nil {
		return err
	}

	defaultAspect, err := model.ParseAspectRatio(config.Reframe.DefaultAspectRatio)
	if err != nil {
		return fmt.Errorf("reframe.default_aspect_ratio: %w", err)
	}
	if err := config.Reframe.Defaults.Validate(); err != nil {
		return fmt.Errorf("reframe.defaults: %w", err)
	}

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}

	if config.Application.SignerServiceAccountEmail != "" {
		iamClient, err := credentials.NewIamCredentialsClient(ctx)
		if err != nil {
			cloudClients.Close()
			return err
		}
		cloudClients.IAMClient = iamClient
	}
	state.cloud = cloudClients

	collaborators, err := workflow.NewCollaborators(config, cloudClients)
	if err != nil {
		cloudClients.Close()
		return err
	}
	state.engine = workflow.NewEngine(workflow.NewReframeWorkflow(config.Reframe, collaborators), config.Reframe)

	state.resultService = &services.ResultService{
		BigqueryClient: cloudClients.BiqQueryClient,
		StorageClient:  cloudClients.StorageClient,
		IAMClient:      cloudClients.IAMClient,
		SignerEmail:    config.Application.SignerServiceAccountEmail,
		DatasetName:    config.BigQueryDataSource.DatasetName,
		ResultTable:    config.BigQueryDataSource.ResultTable,
	}

	state.handlers = &api.Handlers{
		Engine:        state.engine,
		Results:       state.resultService,
		InputRoot:     config.Reframe.InputRoot,
		DefaultAspect: defaultAspect,
		Defaults:      config.Reframe.Defaults,
	}

	SetupListeners(ctx, config, cloudClients, state.engine)
	slog.Info("reframe engine ready",
		"max_concurrent_jobs", config.Reframe.MaxConcurrentJobs,
		"default_aspect", defaultAspect.String())
	return nil
}

// CloseState cancels outstanding jobs and closes the cloud clients.
func CloseState() {
	if state.engine != nil {
		state.engine.Close()
	}
	state.cloud.Close()
}
