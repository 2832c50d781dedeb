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
	"log/slog"

	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/workflow"
)

// ReframeTopic is the topic_subscriptions key for input bucket notifications.
const ReframeTopic = "ReframeTopic"

// SetupListeners attaches the trigger workflow to the reframe subscription and
// starts listening. Without a configured subscription only the HTTP API
// accepts work.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients, reframer commands.Reframer) {
	listener, ok := cloudClients.PubSubListeners[ReframeTopic]
	if !ok {
		slog.Warn("no reframe subscription configured; Pub/Sub triggers disabled", "topic", ReframeTopic)
		return
	}
	listener.SetCommand(workflow.NewReframeTriggerWorkflow(config, cloudClients, reframer))
	listener.Listen(ctx)
}
