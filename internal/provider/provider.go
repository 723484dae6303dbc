// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the LLM backend contract for stepflow.
//
// A Provider turns a prompt into proposed steps, executes instruction
// steps that carry no concrete command, and offers one-shot recovery
// advice after failures. Implementations live elsewhere (see the
// ollama package); the engine depends only on this interface.
package provider

import "context"

// ProposedStep is a step suggestion from the provider, before the
// engine assigns IDs and normalizes it into the task model. Only
// Description is required; decomposition output that is a bare string
// maps to a ProposedStep with just a description.
type ProposedStep struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Command      string   `json:"command"`
	Dependencies []string `json:"dependencies"`
}

// Provider is the LLM backend used by the execution engine.
type Provider interface {
	// DecomposeTask splits a natural-language prompt into ordered
	// step proposals.
	DecomposeTask(ctx context.Context, prompt string) ([]ProposedStep, error)

	// Execute asks the model to carry out an instruction that has no
	// concrete shell command, reporting the outcome with the literal
	// markers understood by Classify.
	Execute(ctx context.Context, instruction string) (string, error)

	// HandleError asks the model for recovery advice after a step
	// failure. The response is auxiliary context only; it never
	// changes the step outcome.
	HandleError(ctx context.Context, instruction, errText string) (string, error)
}
