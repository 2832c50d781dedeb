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

package salience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/jaycherian/gcp-go-media-reframe/internal/cloud"
	"github.com/jaycherian/gcp-go-media-reframe/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

// DefaultFocusPrompt is used when the configuration supplies no focus prompt.
const DefaultFocusPrompt = `You are framing a shot for a {{ .ASPECT_RATIO }} crop of a wider video.
The attached image is the frame at {{ .TIMESTAMP }} seconds.
Find the single most important subject a viewer would want to keep in frame.
Return only JSON, with no markdown, in this exact shape:
{{ .EXAMPLE_JSON }}
box_2d is [ymin, xmin, ymax, xmax] scaled to 0-1000 around the subject.
confidence is 0-100 and says how sure you are that this subject is the focus.
If there is no clear subject return an empty box_2d and confidence 0.`

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("empty model response")

// GeminiDetector asks a Gemini model for the focus box of a frame.
type GeminiDetector struct {
	model                    *cloud.QuotaAwareGenerativeAIModel
	prompt                   *template.Template
	exampleJSON              string
	tracer                   trace.Tracer
	geminiInputTokenCounter  metric.Int64Counter
	geminiOutputTokenCounter metric.Int64Counter
	geminiRetryCounter       metric.Int64Counter
}

// NewGeminiDetector parses promptText (DefaultFocusPrompt when empty) and
// creates the detector's token and retry counters under name.
func NewGeminiDetector(name string, generativeModel *cloud.QuotaAwareGenerativeAIModel, promptText string) (*GeminiDetector, error) {
	if strings.TrimSpace(promptText) == "" {
		promptText = DefaultFocusPrompt
	}
	prompt, err := template.New(name).Parse(promptText)
	if err != nil {
		return nil, fmt.Errorf("parse focus prompt: %w", err)
	}
	example, err := json.Marshal(model.GetExampleFocusEstimate())
	if err != nil {
		return nil, err
	}

	meter := otel.Meter(name)
	out := &GeminiDetector{
		model:       generativeModel,
		prompt:      prompt,
		exampleJSON: string(example),
		tracer:      otel.Tracer(name),
	}
	out.geminiInputTokenCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.input", name))
	out.geminiOutputTokenCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.output", name))
	out.geminiRetryCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.retry", name))
	return out, nil
}

// RenderPrompt fills the prompt template for req.
func (d *GeminiDetector) RenderPrompt(req FocusRequest) (string, error) {
	vocabulary := map[string]string{
		"ASPECT_RATIO": req.Aspect.String(),
		"TIMESTAMP":    fmt.Sprintf("%.2f", req.TimestampSeconds),
		"EXAMPLE_JSON": d.exampleJSON,
	}
	var doc bytes.Buffer
	if err := d.prompt.Execute(&doc, vocabulary); err != nil {
		return "", err
	}
	return doc.String(), nil
}

func (d *GeminiDetector) DetectFocus(ctx context.Context, req FocusRequest) (*model.FocusEstimate, error) {
	ctx, span := d.tracer.Start(ctx, "gemini_focus")
	defer span.End()
	span.SetAttributes(
		attribute.Int("frame", req.Index),
		attribute.Float64("timestamp", req.TimestampSeconds),
	)

	prompt, err := d.RenderPrompt(req)
	if err != nil {
		span.SetStatus(codes.Error, "prompt")
		return nil, err
	}

	contents := []*genai.Content{
		{Parts: []*genai.Part{
			cloud.NewInlineDataPart(req.Image, req.MIMEType),
			cloud.NewTextPart(prompt),
		},
			Role: "user"},
	}

	out, err := cloud.GenerateMultiModalResponse(ctx, d.geminiInputTokenCounter, d.geminiOutputTokenCounter, d.geminiRetryCounter, 0, d.model, contents)
	if err != nil {
		span.SetStatus(codes.Error, "generate")
		return nil, err
	}
	if out == "" || out == "{}" {
		span.SetStatus(codes.Error, "empty")
		return nil, ErrEmptyResponse
	}

	estimate := &model.FocusEstimate{}
	if err := json.Unmarshal([]byte(out), estimate); err != nil {
		span.SetStatus(codes.Error, "unmarshal")
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedEstimate, err)
	}
	span.SetStatus(codes.Ok, "detected")
	return estimate, nil
}
