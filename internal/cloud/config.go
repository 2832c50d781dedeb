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

// Package cloud defines the application configuration, loaded from TOML files,
// and the Google Cloud clients the reframing service talks to.
//
// Structs:
//   - BigQueryDataSource: dataset and table that receive reframe results.
//   - PromptTemplates: text templates for prompts sent to GenAI models.
//   - VertexAiLLMModel: configuration for a Vertex AI model.
//   - TopicSubscription: configuration for a Pub/Sub subscription.
//   - Storage: input and output buckets.
//   - Reframe: engine tuning (tools, workspace, concurrency, timeouts, defaults).
//   - Telemetry: log level, log file and exporter selection.
//   - Config: the top-level struct aggregating all of the above.
package cloud

import (
	"time"

	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"google.golang.org/genai"
)

// DefaultSafetySettings disables content blocking for focus detection; frames
// are analysed for composition only.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// BigQueryDataSource names the dataset and table reframe results are written to.
type BigQueryDataSource struct {
	DatasetName string `toml:"dataset"`
	ResultTable string `toml:"result_table"`
}

// PromptTemplates holds Go text/template prompts.
type PromptTemplates struct {
	FocusPrompt string `toml:"focus"` // Rendered once per analysed frame.
}

// VertexAiLLMModel configures one generative model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"`
	RateLimit          int     `toml:"rate_limit"` // Requests per second.
}

// TopicSubscription configures one Pub/Sub subscription.
type TopicSubscription struct {
	Name                   string `toml:"name"`
	DeadLetterTopic        string `toml:"dead_letter_topic"`
	TimeoutInSeconds       int    `toml:"timeout_in_seconds"`
	MaxOutstandingMessages int    `toml:"max_outstanding_messages"`
}

// Storage names the buckets sources arrive in and outputs are written to.
type Storage struct {
	InputBucket  string `toml:"input_bucket"`
	OutputBucket string `toml:"output_bucket"`
	OutputPrefix string `toml:"output_prefix"`
}

// Reframe tunes the reframing engine.
type Reframe struct {
	FFMpegCommand           string        `toml:"ffmpeg_command"`
	FFProbeCommand          string        `toml:"ffprobe_command"`
	InputRoot               string        `toml:"input_root"` // HTTP submissions may only name files under this directory.
	TempRoot                string        `toml:"temp_root"`  // Parent of every job workspace.
	OutputDir               string        `toml:"output_dir"` // Where finished renders are published.
	MaxConcurrentJobs       int           `toml:"max_concurrent_jobs"`
	AnalysisWorkers         int           `toml:"analysis_workers"`
	InferenceTimeoutSeconds int           `toml:"inference_timeout_seconds"`
	EncodeTimeoutSeconds    int           `toml:"encode_timeout_seconds"`
	MinOutputBytes          int64         `toml:"min_output_bytes"`
	FrameWidth              int           `toml:"frame_width"`
	MaxFrames               int           `toml:"max_frames"`
	ProgressBuffer          int           `toml:"progress_buffer"`
	AgentModel              string        `toml:"agent_model"` // Key into Config.AgentModels.
	DefaultAspectRatio      string        `toml:"default_aspect_ratio"`
	Defaults                model.Options `toml:"defaults"`
}

func (r Reframe) InferenceTimeout() time.Duration {
	return time.Duration(r.InferenceTimeoutSeconds) * time.Second
}

func (r Reframe) EncodeTimeout() time.Duration {
	return time.Duration(r.EncodeTimeoutSeconds) * time.Second
}

// Telemetry controls logging and the OpenTelemetry exporters.
type Telemetry struct {
	Exporter string `toml:"exporter"`  // "gcp" or "none".
	LogLevel string `toml:"log_level"` // debug, info, warn or error.
	LogFile  string `toml:"log_file"`  // Optional; logs also go to stdout.
}

// Config is the top-level application configuration.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`
		GoogleProjectId           string `toml:"google_project_id"`
		GoogleLocation            string `toml:"location"`
		HTTPAddress               string `toml:"http_address"`
		SignerServiceAccountEmail string `toml:"signer_service_account_email"`
	} `toml:"application"`
	Storage            Storage                     `toml:"storage"`
	BigQueryDataSource BigQueryDataSource          `toml:"big_query_data_source"`
	PromptTemplates    PromptTemplates             `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Keyed by logical name, e.g. "ReframeTopic".
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`        // Keyed by logical name, e.g. "focus-flash".
	Reframe            Reframe                     `toml:"reframe"`
	Telemetry          Telemetry                   `toml:"telemetry"`
}

// NewConfig returns a Config populated with defaults. Values decoded from the
// TOML files override them.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
		Reframe: Reframe{
			FFMpegCommand:           "ffmpeg",
			FFProbeCommand:          "ffprobe",
			MaxConcurrentJobs:       2,
			AnalysisWorkers:         4,
			InferenceTimeoutSeconds: 30,
			EncodeTimeoutSeconds:    600,
			MinOutputBytes:          10 * 1024,
			FrameWidth:              512,
			MaxFrames:               600,
			ProgressBuffer:          64,
			AgentModel:              "focus-flash",
			DefaultAspectRatio:      model.DefaultAspectRatio.String(),
			Defaults:                model.DefaultOptions(),
		},
		Telemetry: Telemetry{Exporter: "gcp", LogLevel: "info"},
	}
	c.Application.Name = "media-reframe"
	c.Application.HTTPAddress = ":8080"
	return c
}
