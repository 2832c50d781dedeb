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

// Package cor (Chain of Responsibility) provides the building blocks every
// reframe workflow is assembled from: commands that each perform one stage,
// chains that run commands in order, and a context that carries data, errors
// and the job-scoped workspace between them.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys the BaseChain pipes between commands. The
// value a command stores under CtxOut becomes the next command's CtxIn.
const (
	CtxIn  = "__IN__"
	CtxOut = "__OUT__"
)

// Context is the shared state of one workflow execution.
type Context interface {
	// SetContext sets the Go context used for cancellation and tracing.
	SetContext(context context.Context)

	GetContext() context.Context

	// Add stores a value under key and returns the Context for chaining.
	Add(key string, value any) Context

	// AddError records a failure. The key is usually the command name.
	AddError(key string, err error)

	GetErrors() map[string]error

	// Err joins every recorded error, or returns nil when there are none.
	Err() error

	Get(key string) any

	Remove(key string)

	HasErrors() bool

	// AddTempFile tracks a file created outside the workspace so Close can
	// remove it.
	AddTempFile(file string)

	GetTempFiles() []string

	// SetWorkspace assigns the directory that holds every intermediate
	// artifact of the execution. Close removes it as a unit.
	SetWorkspace(dir string)

	GetWorkspace() string

	// Close releases tracked temp files and the workspace. Callers defer it
	// right after creating the context.
	Close()
}

// Executable is anything that can run against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is a single named, instrumented workflow step.
type Command interface {
	Executable

	GetName() string

	// GetInputParam returns the context key the command reads its input from.
	GetInputParam() string

	// GetOutputParam returns the context key the command writes its output to.
	GetOutputParam() string

	// IsExecutable checks the command's preconditions against the context.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer

	GetMeter() metric.Meter

	GetSuccessCounter() metric.Int64Counter

	GetErrorCounter() metric.Int64Counter
}

// Chain is a Command that runs an ordered list of commands.
type Chain interface {
	Command

	// ContinueOnFailure controls whether later commands still run after one
	// records an error.
	ContinueOnFailure(bool) Chain

	AddCommand(command Command) Chain
}
