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

// Package workflow assembles commands into the reframe pipeline and runs
// reframe jobs through it.
package workflow

import (
	"fmt"

	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/render"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/salience"
	"github.com/jaycherian/gcp-go-media-reframe/internal/media"
)

// Collaborators are the external systems a reframe job talks to.
type Collaborators struct {
	Prober    media.Prober
	Extractor media.FrameExtractor
	Detector  salience.FocusDetector
	Encoder   media.Encoder
}

// NewCollaborators wires the ffprobe/ffmpeg tools and the configured Gemini
// agent model.
func NewCollaborators(config *cloud.Config, serviceClients *cloud.ServiceClients) (Collaborators, error) {
	agent, ok := serviceClients.AgentModels[config.Reframe.AgentModel]
	if !ok {
		return Collaborators{}, fmt.Errorf("agent model %q is not configured", config.Reframe.AgentModel)
	}
	detector, err := salience.NewGeminiDetector("focus-detector", agent, config.PromptTemplates.FocusPrompt)
	if err != nil {
		return Collaborators{}, err
	}
	runner := media.ExecRunner{}
	return Collaborators{
		Prober:    media.NewFFProbe(config.Reframe.FFProbeCommand, runner),
		Extractor: media.NewFFmpegFrameExtractor(config.Reframe.FFMpegCommand, runner, config.Reframe.FrameWidth),
		Detector:  detector,
		Encoder:   media.NewFFmpegEncoder(config.Reframe.FFMpegCommand, runner),
	}, nil
}

// ReframeWorkflow is the per-job chain: probe, sample, analyze, smooth, plan,
// render and assemble. Its input is the local source path and the job must be
// on the context under commands.GetJobParameterName().
type ReframeWorkflow struct {
	cor.BaseCommand
	config        cloud.Reframe
	collaborators Collaborators
	chain         cor.Chain
}

func NewReframeWorkflow(config cloud.Reframe, collaborators Collaborators) *ReframeWorkflow {
	out := &ReframeWorkflow{
		BaseCommand:   *cor.NewBaseCommand("reframe-workflow"),
		config:        config,
		collaborators: collaborators,
	}
	out.initializeChain()
	return out
}

func (w *ReframeWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

func (w *ReframeWorkflow) IsExecutable(context cor.Context) bool {
	return w.chain.IsExecutable(context)
}

func (w *ReframeWorkflow) initializeChain() {
	out := cor.NewBaseChain(w.GetName())

	out.AddCommand(commands.NewVideoProbe("video-probe", w.collaborators.Prober))
	out.AddCommand(commands.NewFrameSampler("frame-sampler", w.collaborators.Extractor, w.config.MaxFrames))

	analyzer := salience.NewAnalyzer(w.collaborators.Detector, w.config.AnalysisWorkers, w.config.InferenceTimeout())
	out.AddCommand(commands.NewSalienceAnalyzer("salience-analyzer", analyzer))

	out.AddCommand(commands.NewPathSmoother("path-smoother"))
	out.AddCommand(commands.NewCropPlanner("crop-planner"))
	out.AddCommand(commands.NewRenderPipeline(
		"render-pipeline",
		render.DefaultStrategies(w.collaborators.Encoder),
		w.config.OutputDir,
		w.config.MinOutputBytes,
		w.config.EncodeTimeout()))
	out.AddCommand(commands.NewResultAssembler("result-assembler"))

	w.chain = out
}
