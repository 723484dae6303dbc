// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/stepflow/internal/provider"
)

// =============================================================================
// PLAN LIMITS
// =============================================================================

const (
	// maxResponseBytes caps model output before any parsing.
	maxResponseBytes = 1 << 20
	// maxPlanSteps is the largest plan a decomposition may produce.
	maxPlanSteps = 50
)

// =============================================================================
// PROMPTS
// =============================================================================

const decomposeSystemPrompt = `You are a task planner for a command-line automation tool.
Break the user's request into a short sequence of concrete steps.

Respond with ONLY a JSON array, no prose before or after. Each element:
{
  "name": "short imperative label",
  "description": "one sentence describing the step",
  "command": "a non-interactive bash command, or empty string if the step needs reasoning instead of a command",
  "dependencies": ["1"]
}

Rules:
- Use between 1 and 50 steps, ordered so prerequisites come first.
- "dependencies" lists the 1-based numbers of steps that must complete first. Use [] when there are none.
- Prefer simple, portable bash. Never use interactive programs.
- Include the word "critical" in the name of any step whose failure must abort the whole task.`

var executeSystemPrompt = `You are carrying out one step of an automated task plan.
Do what the instruction asks, then report the outcome on the final line using exactly one of these markers:

` + provider.MarkerSuccess + ` when the step was carried out successfully
` + provider.MarkerFailure + ` when the step was attempted and failed
` + provider.MarkerTimeout + ` when the step could not finish in time
` + provider.MarkerException + ` when something unexpected prevented the attempt

Keep the report short. The marker line is mandatory.`

const recoverSystemPrompt = `A step in an automated task plan failed. Analyze the error output, explain the likely cause in one or two sentences, and when possible suggest a corrected bash command. Be brief.`

// =============================================================================
// PROVIDER
// =============================================================================

// Provider implements the engine's LLM backend on top of a local
// Ollama server.
type Provider struct {
	client      *Client
	model       string
	temperature float64
	maxTokens   int
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates a Provider that plans and executes through the
// given client. An empty model falls back to the client's default.
func NewProvider(client *Client, model string, temperature float64, maxTokens int) *Provider {
	if model == "" {
		model = client.GetDefaultModel()
	}
	return &Provider{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Model returns the model this provider plans with.
func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) options() *Options {
	opts := &Options{}
	if p.temperature > 0 {
		opts.Temperature = p.temperature
	}
	if p.maxTokens > 0 {
		opts.NumPredict = p.maxTokens
	}
	if opts.Temperature == 0 && opts.NumPredict == 0 {
		return nil
	}
	return opts
}

// DecomposeTask asks the model to split a prompt into ordered step
// proposals. The response must be a JSON array; a plain string array is
// accepted and mapped to description-only steps.
func (p *Provider) DecomposeTask(ctx context.Context, prompt string) ([]provider.ProposedStep, error) {
	messages := []Message{
		NewSystemMessage(decomposeSystemPrompt),
		NewUserMessage(prompt),
	}

	resp, err := p.client.Chat(ctx, p.model, messages, p.options())
	if err != nil {
		return nil, fmt.Errorf("decomposition request failed: %w", err)
	}

	content := resp.Message.Content
	if len(content) > maxResponseBytes {
		return nil, fmt.Errorf("decomposition response too large (%d bytes)", len(content))
	}

	steps, err := parsePlan(content)
	if err != nil {
		return nil, err
	}

	return steps, nil
}

// Execute asks the model to carry out an instruction step. The raw
// response is returned for marker classification.
func (p *Provider) Execute(ctx context.Context, instruction string) (string, error) {
	messages := []Message{
		NewSystemMessage(executeSystemPrompt),
		NewUserMessage(instruction),
	}

	resp, err := p.client.Chat(ctx, p.model, messages, p.options())
	if err != nil {
		return "", fmt.Errorf("execution request failed: %w", err)
	}

	content := resp.Message.Content
	if len(content) > maxResponseBytes {
		return "", fmt.Errorf("execution response too large (%d bytes)", len(content))
	}

	return content, nil
}

// HandleError asks the model for recovery advice after a failure. The
// advice is informational; callers must not let it change outcomes.
func (p *Provider) HandleError(ctx context.Context, instruction, errText string) (string, error) {
	messages := []Message{
		NewSystemMessage(recoverSystemPrompt),
		NewUserMessage("Step: " + instruction + "\n\nError output:\n" + errText),
	}

	resp, err := p.client.Chat(ctx, p.model, messages, p.options())
	if err != nil {
		return "", fmt.Errorf("recovery request failed: %w", err)
	}

	content := resp.Message.Content
	if len(content) > maxResponseBytes {
		return "", fmt.Errorf("recovery response too large (%d bytes)", len(content))
	}

	return content, nil
}

// =============================================================================
// PLAN PARSING
// =============================================================================

// wireStep tolerates the loose JSON models actually emit: dependencies
// may be numbers or strings.
type wireStep struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Command      string        `json:"command"`
	Dependencies []interface{} `json:"dependencies"`
}

// parsePlan turns a model response into step proposals.
func parsePlan(content string) ([]provider.ProposedStep, error) {
	raw := extractJSONArray(content)

	var wire []wireStep
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		// Some models reply with a bare array of step descriptions.
		var descriptions []string
		if err2 := json.Unmarshal([]byte(raw), &descriptions); err2 != nil {
			return nil, fmt.Errorf("model output is not a step array: %w", err)
		}
		for _, d := range descriptions {
			wire = append(wire, wireStep{Description: d})
		}
	}

	steps := make([]provider.ProposedStep, 0, len(wire))
	for _, w := range wire {
		name := strings.TrimSpace(w.Name)
		desc := strings.TrimSpace(w.Description)
		cmd := strings.TrimSpace(w.Command)
		if name == "" && desc == "" && cmd == "" {
			continue
		}
		if desc == "" {
			if name != "" {
				desc = name
			} else {
				desc = cmd
			}
		}

		var deps []string
		for _, d := range w.Dependencies {
			if s := depString(d); s != "" {
				deps = append(deps, s)
			}
		}

		steps = append(steps, provider.ProposedStep{
			Name:         name,
			Description:  desc,
			Command:      cmd,
			Dependencies: deps,
		})
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("decomposition produced no steps")
	}
	if len(steps) > maxPlanSteps {
		return nil, fmt.Errorf("decomposition produced %d steps, limit is %d", len(steps), maxPlanSteps)
	}

	return steps, nil
}

// depString renders one dependency reference as a string. Numbers are
// 1-based step positions; anything else is kept verbatim for the engine
// to resolve.
func depString(v interface{}) string {
	switch d := v.(type) {
	case string:
		return strings.TrimSpace(d)
	case float64:
		return strconv.Itoa(int(d))
	default:
		return ""
	}
}

// extractJSONArray strips markdown fences and prose around the JSON
// array a model was asked for.
func extractJSONArray(s string) string {
	s = strings.TrimSpace(s)

	// Prefer the contents of the first fenced block, if any.
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		// Drop a language tag like "json" on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		} else {
			s = rest
		}
	}

	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
