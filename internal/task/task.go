// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package task defines the step and task context model for stepflow.
//
// A Context is the unit of persistence: the original prompt, the ordered
// steps derived from it, a forward-only cursor, and a metadata bag used
// for retry counters and pause flags. Contexts are serialized as JSON by
// the session store, so every field carries a stable tag.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STATUS TYPES
// =============================================================================

// StepStatus represents the lifecycle state of a single step.
type StepStatus string

const (
	// StepPending - not yet attempted (or reopened by the retry policy)
	StepPending StepStatus = "pending"
	// StepInProgress - currently executing
	StepInProgress StepStatus = "in_progress"
	// StepCompleted - finished successfully
	StepCompleted StepStatus = "completed"
	// StepFailed - finished unsuccessfully
	StepFailed StepStatus = "failed"
	// StepSkipped - deliberately not executed (escalation or cancel)
	StepSkipped StepStatus = "skipped"
)

// String returns the human-readable status name.
func (s StepStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is a final state for a step.
// Note that a failed step can still be reopened to pending, but only
// through the retry policy.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Status represents the lifecycle state of a whole task.
// Pause is deliberately not a status; paused tasks stay in_progress
// with a metadata flag so resuming never has to guess the prior state.
type Status string

const (
	// StatusPending - created, not yet executed
	StatusPending Status = "pending"
	// StatusInProgress - execution has started
	StatusInProgress Status = "in_progress"
	// StatusCompleted - execution finished with at least one completed step
	StatusCompleted Status = "completed"
	// StatusFailed - execution finished with nothing completed, or aborted
	StatusFailed Status = "failed"
	// StatusCancelled - execution was cancelled by the user
	StatusCancelled Status = "cancelled"
)

// String returns the human-readable status name.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the task can no longer change state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// =============================================================================
// STEP
// =============================================================================

// Step is a single unit of work within a task.
//
// A step either carries a concrete shell command, or leaves Command empty
// to signal that the provider should be asked to act on the description.
type Step struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Command      string     `json:"command,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Status       StepStatus `json:"status"`

	// Result holds a human-readable outcome summary after a terminal
	// transition; Error holds the failure detail (stderr, truncated).
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewStep creates a pending step with a fresh ID.
func NewStep(name, description, command string, dependencies []string) Step {
	return Step{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  description,
		Command:      command,
		Dependencies: dependencies,
		Status:       StepPending,
		CreatedAt:    time.Now(),
	}
}

// Duration returns how long the step ran, or 0 if it never started.
// Still-running steps report elapsed time so far.
func (s *Step) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.CompletedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// criticalMarkers flag a step whose failure must abort the whole task
// once retries are exhausted. Matched case-insensitively against Name.
var criticalMarkers = []string{"critical", "关键"}

// IsCritical reports whether the step name carries a critical marker.
func (s *Step) IsCritical() bool {
	name := strings.ToLower(s.Name)
	for _, marker := range criticalMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// Reopen resets a step to pending for another attempt, clearing the
// prior outcome. Only the retry policy should call this on failed steps.
func (s *Step) Reopen() {
	s.Status = StepPending
	s.Result = ""
	s.Error = ""
	s.StartedAt = time.Time{}
	s.CompletedAt = time.Time{}
}

// =============================================================================
// TASK CONTEXT
// =============================================================================

// Metadata keys managed by the engine. Everything else in the metadata
// bag belongs to callers.
const (
	// MetaPaused - "true" while the task is paused
	MetaPaused = "paused"
	// MetaPauseReason - optional human-readable pause reason
	MetaPauseReason = "pause_reason"
	// MetaError - top-level execution error recorded on guard failures
	MetaError = "error"
)

// RetryKey returns the metadata key tracking retry attempts for a step.
func RetryKey(stepID string) string {
	return "retry_" + stepID
}

// Context is the full state of one task: the prompt it came from, its
// steps in execution order, and the cursor into them.
type Context struct {
	ID               string            `json:"id"`
	Prompt           string            `json:"prompt"`
	Steps            []Step            `json:"steps"`
	Status           Status            `json:"status"`
	CurrentStepIndex int               `json:"current_step_index"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Metadata         map[string]string `json:"metadata"`
}

// NewContext creates a pending task context for a prompt.
func NewContext(prompt string) *Context {
	now := time.Now()
	return &Context{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		Steps:     []Step{},
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  make(map[string]string),
	}
}

// Touch refreshes the updated timestamp. Call before persisting.
func (c *Context) Touch() {
	c.UpdatedAt = time.Now()
}

// Step returns a pointer to the step with the given ID, or nil.
// The pointer aliases the context's slice so mutations stick.
func (c *Context) Step(id string) *Step {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i]
		}
	}
	return nil
}

// StepAt returns a pointer to the step at index i, or nil if out of range.
func (c *Context) StepAt(i int) *Step {
	if i < 0 || i >= len(c.Steps) {
		return nil
	}
	return &c.Steps[i]
}

// ClampCursor forces the cursor back into [0, len(Steps)].
func (c *Context) ClampCursor() {
	if c.CurrentStepIndex < 0 {
		c.CurrentStepIndex = 0
	}
	if c.CurrentStepIndex > len(c.Steps) {
		c.CurrentStepIndex = len(c.Steps)
	}
}

// CountStepStatus returns how many steps are in the given status.
func (c *Context) CountStepStatus(status StepStatus) int {
	n := 0
	for i := range c.Steps {
		if c.Steps[i].Status == status {
			n++
		}
	}
	return n
}

// =============================================================================
// PAUSE FLAGS
// =============================================================================

// Pause marks the context paused. The task status is untouched.
func (c *Context) Pause(reason string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[MetaPaused] = "true"
	if reason != "" {
		c.Metadata[MetaPauseReason] = reason
	}
}

// Unpause clears the pause flags.
func (c *Context) Unpause() {
	delete(c.Metadata, MetaPaused)
	delete(c.Metadata, MetaPauseReason)
}

// Paused reports whether the pause flag is set.
func (c *Context) Paused() bool {
	return c.Metadata[MetaPaused] == "true"
}

// =============================================================================
// RETRY COUNTERS
// =============================================================================

// RetryCount returns the recorded retry attempts for a step.
// Unparseable or absent counters read as zero.
func (c *Context) RetryCount(stepID string) int {
	n := 0
	fmt.Sscanf(c.Metadata[RetryKey(stepID)], "%d", &n)
	if n < 0 {
		n = 0
	}
	return n
}

// IncrementRetry bumps the retry counter for a step and returns the
// new count.
func (c *Context) IncrementRetry(stepID string) int {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	n := c.RetryCount(stepID) + 1
	c.Metadata[RetryKey(stepID)] = fmt.Sprintf("%d", n)
	return n
}

// =============================================================================
// COPYING
// =============================================================================

// Clone returns a deep copy of the context. Stores hand out clones so
// callers can never mutate persisted state through aliased slices.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Steps = make([]Step, len(c.Steps))
	copy(clone.Steps, c.Steps)
	for i := range clone.Steps {
		if deps := c.Steps[i].Dependencies; deps != nil {
			clone.Steps[i].Dependencies = make([]string, len(deps))
			copy(clone.Steps[i].Dependencies, deps)
		}
	}
	clone.Metadata = make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}
