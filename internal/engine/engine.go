// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine drives multi-step task execution for stepflow.
//
// The engine turns a prompt into steps (via the provider), then runs
// them one at a time: dependency gating, a bounded retry budget with
// skip-or-abort escalation, pause/resume through context metadata, and
// cancellation. Every transition is persisted through the session store
// and appended to the audit trail; both are best-effort so a disk or
// audit failure never kills a run.
//
// Execution is single-threaded and cooperative. Callers that want live
// updates register a ProgressFunc or drive ExecuteNextStep themselves.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jeranaias/stepflow/internal/audit"
	"github.com/jeranaias/stepflow/internal/provider"
	"github.com/jeranaias/stepflow/internal/session"
	"github.com/jeranaias/stepflow/internal/shell"
	"github.com/jeranaias/stepflow/internal/task"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultMaxRetries is the failed-step reopen budget before
	// escalation (skip, or abort for critical steps).
	DefaultMaxRetries = 3

	// maxErrorRunes caps the failure detail stored on a step (stderr,
	// provider error text).
	maxErrorRunes = 2000

	// timestampLayout formats created/updated times for display.
	timestampLayout = "2006-01-02 15:04:05"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// CommandRunner executes one shell command with bounded time and
// captured output. *shell.Runner satisfies it; tests substitute fakes.
type CommandRunner interface {
	Execute(ctx context.Context, command string) (*shell.Result, error)
}

// ProgressFunc is called after step transitions with the number of
// steps in a terminal state, the total step count, and a short status
// line. It runs on the executing goroutine; keep it fast.
type ProgressFunc func(done, total int, status string)

// =============================================================================
// ENGINE
// =============================================================================

// Options configures engine behavior.
type Options struct {
	// MaxRetries is the reopen budget per failed step (<=0 = default).
	MaxRetries int

	// DryRun previews commands without spawning subprocesses.
	DryRun bool

	// AutoSave persists the context after every step transition.
	// Terminal task transitions are persisted regardless.
	AutoSave bool
}

// Engine executes task contexts step by step.
type Engine struct {
	store    session.Store
	provider provider.Provider
	runner   CommandRunner
	audit    *audit.Sink

	maxRetries int
	dryRun     bool
	autoSave   bool

	// mu protects onProgress
	mu         sync.RWMutex
	onProgress ProgressFunc
}

// New wires an engine. store may be nil for ephemeral runs (nothing is
// persisted) and sink may be nil to disable auditing; provider and
// runner are required for the paths that use them.
func New(store session.Store, prov provider.Provider, runner CommandRunner, sink *audit.Sink, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Engine{
		store:      store,
		provider:   prov,
		runner:     runner,
		audit:      sink,
		maxRetries: opts.MaxRetries,
		dryRun:     opts.DryRun,
		autoSave:   opts.AutoSave,
	}
}

// MaxRetries returns the configured retry budget.
func (e *Engine) MaxRetries() int {
	return e.maxRetries
}

// DryRun reports whether the engine previews commands instead of
// executing them.
func (e *Engine) DryRun() bool {
	return e.dryRun
}

// SetProgressFunc registers the progress callback.
func (e *Engine) SetProgressFunc(fn ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = fn
}

// notify calls the progress callback if one is registered.
func (e *Engine) notify(tctx *task.Context, status string) {
	e.mu.RLock()
	cb := e.onProgress
	e.mu.RUnlock()
	if cb == nil {
		return
	}

	done := 0
	for i := range tctx.Steps {
		if tctx.Steps[i].Status.IsTerminal() {
			done++
		}
	}
	cb(done, len(tctx.Steps), status)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// checkpoint persists mid-execution state when auto-save is on. Saves
// are best-effort: the in-memory context stays authoritative for the
// rest of the run.
func (e *Engine) checkpoint(tctx *task.Context) {
	if !e.autoSave {
		return
	}
	e.persist(tctx)
}

// persist always saves the context, logging failures instead of
// propagating them.
func (e *Engine) persist(tctx *task.Context) {
	tctx.Touch()
	if e.store == nil {
		return
	}
	if err := e.store.Save(tctx); err != nil {
		log.Printf("session save failed for %s: %v", tctx.ID, err)
	}
}

// =============================================================================
// PROGRESS SNAPSHOT
// =============================================================================

// Progress summarizes execution state for display.
type Progress struct {
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Skipped    int

	// Percent is completed/total*100, 0.0 for an empty task.
	Percent float64

	Cursor    int
	CreatedAt string
	UpdatedAt string
}

// String renders a one-line summary, e.g. "3/5 steps (60%)".
func (p Progress) String() string {
	return fmt.Sprintf("%d/%d steps (%.0f%%)", p.Completed, p.Total, p.Percent)
}

// Progress computes the progress snapshot for a context.
func (e *Engine) Progress(tctx *task.Context) Progress {
	p := Progress{
		Total:      len(tctx.Steps),
		Pending:    tctx.CountStepStatus(task.StepPending),
		InProgress: tctx.CountStepStatus(task.StepInProgress),
		Completed:  tctx.CountStepStatus(task.StepCompleted),
		Failed:     tctx.CountStepStatus(task.StepFailed),
		Skipped:    tctx.CountStepStatus(task.StepSkipped),
		Cursor:     tctx.CurrentStepIndex,
		CreatedAt:  tctx.CreatedAt.Format(timestampLayout),
		UpdatedAt:  tctx.UpdatedAt.Format(timestampLayout),
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed) / float64(p.Total) * 100
	}
	return p
}
