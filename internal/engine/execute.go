// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine drives multi-step task execution for stepflow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/stepflow/internal/audit"
	"github.com/jeranaias/stepflow/internal/provider"
	"github.com/jeranaias/stepflow/internal/task"
	"github.com/jeranaias/stepflow/internal/util"
)

// =============================================================================
// TASK LOOP
// =============================================================================

// ExecuteTask runs the task to a settled state: every step executed,
// skipped, or blocked. The returned error is non-nil only when the task
// could not run at all, the context was cancelled, or execution
// panicked; step and task failures are normal outcomes recorded on the
// context, not errors.
func (e *Engine) ExecuteTask(ctx context.Context, tctx *task.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			tctx.Metadata[task.MetaError] = fmt.Sprintf("panic: %v", r)
			tctx.Status = task.StatusFailed
			e.persist(tctx)
			e.audit.TaskEvent(tctx.ID, audit.EventTaskFailed, fmt.Sprintf("panic: %v", r))
			err = fmt.Errorf("task execution panicked: %v", r)
		}
	}()

	if tctx.Status.IsTerminal() {
		return fmt.Errorf("task %s is already %s", tctx.ID, tctx.Status)
	}
	if len(tctx.Steps) == 0 {
		return errors.New("task has no steps")
	}
	if tctx.Metadata == nil {
		tctx.Metadata = make(map[string]string)
	}

	// A step left in_progress by an interrupted run never finished;
	// give it another attempt.
	for i := range tctx.Steps {
		if tctx.Steps[i].Status == task.StepInProgress {
			tctx.Steps[i].Reopen()
		}
	}

	tctx.ClampCursor()
	tctx.Status = task.StatusInProgress
	e.persist(tctx)

	for {
		select {
		case <-ctx.Done():
			e.CancelTask(tctx)
			return ctx.Err()
		default:
		}

		if tctx.Paused() {
			e.persist(tctx)
			e.notify(tctx, "paused")
			return nil
		}

		idx := e.nextRunnable(tctx)
		if idx < 0 {
			break
		}

		step := tctx.StepAt(idx)
		if err := e.ExecuteStep(ctx, tctx, step); err != nil {
			e.CancelTask(tctx)
			return err
		}

		if step.Status == task.StepFailed && !e.HandleStepFailure(tctx, step) {
			reason := fmt.Sprintf("critical step %q failed: %s", step.Name, step.Error)
			tctx.Metadata[task.MetaError] = reason
			tctx.Status = task.StatusFailed
			e.persist(tctx)
			e.audit.TaskEvent(tctx.ID, audit.EventTaskFailed, reason)
			e.notify(tctx, "aborted: "+step.Name)
			return nil
		}
	}

	e.FinalizeTask(tctx)
	return nil
}

// ExecuteNextStep runs exactly one step: the first dependency-satisfied
// pending step at or after the cursor. It returns the step it ran, or
// nil when nothing was runnable; callers detect the settled or stuck
// state from a nil step plus the remaining statuses.
func (e *Engine) ExecuteNextStep(ctx context.Context, tctx *task.Context) (*task.Step, error) {
	if tctx.Status.IsTerminal() {
		return nil, fmt.Errorf("task %s is already %s", tctx.ID, tctx.Status)
	}

	before := tctx.CurrentStepIndex
	idx := e.nextRunnable(tctx)
	if idx < 0 {
		if tctx.CurrentStepIndex != before {
			e.checkpoint(tctx)
		}
		return nil, nil
	}

	if tctx.Status == task.StatusPending {
		tctx.Status = task.StatusInProgress
	}
	step := tctx.StepAt(idx)
	if err := e.ExecuteStep(ctx, tctx, step); err != nil {
		return step, err
	}
	return step, nil
}

// nextRunnable advances the cursor past terminal steps, then forward-
// scans for the first pending step whose dependencies are satisfied.
// Returns -1 when nothing is runnable. The cursor never moves backward.
func (e *Engine) nextRunnable(tctx *task.Context) int {
	tctx.ClampCursor()
	for tctx.CurrentStepIndex < len(tctx.Steps) && tctx.Steps[tctx.CurrentStepIndex].Status.IsTerminal() {
		tctx.CurrentStepIndex++
	}
	for i := tctx.CurrentStepIndex; i < len(tctx.Steps); i++ {
		s := &tctx.Steps[i]
		if s.Status == task.StepPending && e.CanExecuteStep(tctx, s) {
			return i
		}
	}
	return -1
}

// CanExecuteStep reports whether every dependency of the step is
// completed. References to unknown step IDs are never satisfied.
func (e *Engine) CanExecuteStep(tctx *task.Context, step *task.Step) bool {
	for _, depID := range step.Dependencies {
		dep := tctx.Step(depID)
		if dep == nil || dep.Status != task.StepCompleted {
			return false
		}
	}
	return true
}

// =============================================================================
// SINGLE STEP
// =============================================================================

// ExecuteStep runs one step to a terminal status. Failures are recorded
// on the step; the returned error is non-nil only when the context was
// cancelled mid-step, in which case the step is left in_progress for
// CancelTask to sweep.
func (e *Engine) ExecuteStep(ctx context.Context, tctx *task.Context, step *task.Step) error {
	step.Status = task.StepInProgress
	step.StartedAt = time.Now()
	e.checkpoint(tctx)
	e.notify(tctx, "running: "+step.Name)

	var err error
	switch {
	case e.dryRun:
		step.Status = task.StepCompleted
		step.Result = provider.MarkerDryRun + ": " + stepCommand(step)
	case step.Command != "":
		err = e.runCommand(ctx, step)
	default:
		err = e.runInstruction(ctx, step)
	}
	if err != nil {
		return err
	}

	step.CompletedAt = time.Now()
	e.checkpoint(tctx)
	e.recordStep(ctx, tctx, step)
	e.notify(tctx, step.Status.String()+": "+step.Name)
	return nil
}

// runCommand executes the step's shell command and records the outcome.
func (e *Engine) runCommand(ctx context.Context, step *task.Step) error {
	if e.runner == nil {
		failStep(step, "no command runner configured")
		return nil
	}

	res, err := e.runner.Execute(ctx, step.Command)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The command never ran: validation refusal or spawn failure.
		failStep(step, "command did not run: "+err.Error())
		e.consultRecovery(ctx, step, err.Error())
		return nil
	}

	switch {
	case res.TimedOut:
		failStep(step, fmt.Sprintf("command timed out after %s", res.Duration.Round(time.Second)))
	case res.ExitCode == 0:
		step.Status = task.StepCompleted
		step.Result = summarizeResult(res.ExitCode, res.Output)
	default:
		step.Status = task.StepFailed
		step.Result = fmt.Sprintf("exit code %d", res.ExitCode)
		detail := res.Stderr
		if strings.TrimSpace(detail) == "" {
			detail = res.Output
		}
		step.Error = util.TruncateRunes(detail, maxErrorRunes)
	}
	return nil
}

// runInstruction executes a command-less step by asking the provider to
// act on the description and classifying the reported outcome.
func (e *Engine) runInstruction(ctx context.Context, step *task.Step) error {
	if e.provider == nil {
		failStep(step, "step has no command and no provider is configured")
		return nil
	}

	text, err := e.provider.Execute(ctx, instructionFor(step))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		failStep(step, "provider execution failed: "+err.Error())
		e.consultRecovery(ctx, step, err.Error())
		return nil
	}

	outcome := provider.Classify(text)
	switch {
	case outcome.Succeeded():
		step.Status = task.StepCompleted
		step.Result = text
	case outcome == provider.OutcomeUnknown:
		failStep(step, "no actionable command returned")
	default:
		failStep(step, text)
	}
	return nil
}

// failStep records a terminal failure on the step.
func failStep(step *task.Step, detail string) {
	step.Status = task.StepFailed
	step.Error = util.TruncateRunes(detail, maxErrorRunes)
}

// consultRecovery asks the provider for recovery advice once after an
// unexpected failure. The advice is appended to the step result as
// auxiliary context; it never changes the outcome.
func (e *Engine) consultRecovery(ctx context.Context, step *task.Step, errText string) {
	if e.provider == nil {
		return
	}
	advice, err := e.provider.HandleError(ctx, instructionFor(step), errText)
	if err != nil {
		log.Printf("recovery consult failed for step %s: %v", step.ID, err)
		return
	}
	advice = strings.TrimSpace(advice)
	if advice == "" {
		return
	}
	if step.Result != "" {
		step.Result += "\n\n"
	}
	step.Result += "recovery advice: " + util.TruncateRunes(advice, maxErrorRunes)
}

// recordStep appends the step outcome to the audit trail.
func (e *Engine) recordStep(ctx context.Context, tctx *task.Context, step *task.Step) {
	detail := step.Result
	if step.Status == task.StepFailed && step.Error != "" {
		detail = step.Error
	}
	e.audit.StepExecuted(ctx, tctx.ID, step.ID, stepCommand(step), step.Status.String(), detail)
}

// stepCommand returns what the step executes for display and auditing:
// the shell command, or the description for provider-run steps.
func stepCommand(step *task.Step) string {
	if step.Command != "" {
		return step.Command
	}
	return step.Description
}

// instructionFor returns the instruction text handed to the provider.
func instructionFor(step *task.Step) string {
	if step.Description != "" {
		return step.Description
	}
	return step.Name
}

// summarizeResult builds the human-readable result for a successful
// command.
func summarizeResult(exitCode int, output string) string {
	summary := fmt.Sprintf("exit code %d", exitCode)
	out := strings.TrimSpace(output)
	if out != "" && out != "(no output)" {
		summary += "\n" + out
	}
	return summary
}

// =============================================================================
// FAILURE ESCALATION
// =============================================================================

// HandleStepFailure applies the retry policy to a failed step. While
// the retry budget lasts, the step is reopened for another attempt.
// Once exhausted, non-critical steps are skipped and execution
// continues; a critical step returns false to abort the task.
func (e *Engine) HandleStepFailure(tctx *task.Context, step *task.Step) bool {
	if tctx.RetryCount(step.ID) < e.maxRetries {
		attempt := tctx.IncrementRetry(step.ID)
		step.Reopen()
		e.checkpoint(tctx)
		e.audit.TaskEvent(tctx.ID, audit.EventStepRetried,
			fmt.Sprintf("step %q retry %d/%d", step.Name, attempt, e.maxRetries))
		e.notify(tctx, fmt.Sprintf("retrying %s (%d/%d)", step.Name, attempt, e.maxRetries))
		return true
	}

	if step.IsCritical() {
		return false
	}

	step.Status = task.StepSkipped
	step.Result = fmt.Sprintf("skipped after %d failed attempts", e.maxRetries+1)
	e.checkpoint(tctx)
	e.audit.TaskEvent(tctx.ID, audit.EventStepSkipped,
		fmt.Sprintf("step %q skipped after %d failed attempts", step.Name, e.maxRetries+1))
	e.notify(tctx, "skipped: "+step.Name)
	return true
}

// RetryStep reopens a failed step for another attempt regardless of the
// retry budget. Interactive runs use this when the operator chooses to
// retry instead of letting the automatic policy decide.
func (e *Engine) RetryStep(tctx *task.Context, step *task.Step) {
	if step.Status != task.StepFailed {
		return
	}
	attempt := tctx.IncrementRetry(step.ID)
	step.Reopen()
	e.checkpoint(tctx)
	e.audit.TaskEvent(tctx.ID, audit.EventStepRetried,
		fmt.Sprintf("step %q retried by operator (attempt %d)", step.Name, attempt))
	e.notify(tctx, "retrying: "+step.Name)
}

// SkipStep marks a failed step skipped so execution can move past it.
// Interactive runs use this when the operator chooses to skip.
func (e *Engine) SkipStep(tctx *task.Context, step *task.Step) {
	if step.Status != task.StepFailed {
		return
	}
	step.Status = task.StepSkipped
	if step.Result == "" {
		step.Result = "skipped by operator"
	}
	e.checkpoint(tctx)
	e.audit.TaskEvent(tctx.ID, audit.EventStepSkipped,
		fmt.Sprintf("step %q skipped by operator", step.Name))
	e.notify(tctx, "skipped: "+step.Name)
}

// =============================================================================
// TASK CONTROL
// =============================================================================

// FinalizeTask settles the task status once nothing remains runnable:
// COMPLETED when at least one step completed (partial completion
// counts), FAILED otherwise. Steps left pending behind unsatisfiable
// dependencies are noted in the metadata.
func (e *Engine) FinalizeTask(tctx *task.Context) {
	if tctx.Status.IsTerminal() {
		return
	}

	if pending := tctx.CountStepStatus(task.StepPending); pending > 0 {
		if tctx.Metadata == nil {
			tctx.Metadata = make(map[string]string)
		}
		tctx.Metadata[task.MetaError] = fmt.Sprintf(
			"%d steps never became runnable (unsatisfied or unknown dependencies)", pending)
	}

	completed := tctx.CountStepStatus(task.StepCompleted)
	if completed > 0 {
		tctx.Status = task.StatusCompleted
		e.audit.TaskEvent(tctx.ID, audit.EventTaskCompleted,
			fmt.Sprintf("%d/%d steps completed", completed, len(tctx.Steps)))
	} else {
		tctx.Status = task.StatusFailed
		e.audit.TaskEvent(tctx.ID, audit.EventTaskFailed, "no steps completed")
	}
	e.persist(tctx)
	e.notify(tctx, "finished: "+tctx.Status.String())
}

// PauseTask flags the context paused and persists it. The task status
// is untouched so resuming never has to reconstruct prior state.
func (e *Engine) PauseTask(tctx *task.Context, reason string) {
	tctx.Pause(reason)
	e.persist(tctx)
	e.audit.TaskEvent(tctx.ID, audit.EventTaskPaused, reason)
	e.notify(tctx, "paused")
}

// UnpauseTask clears the pause flag and persists without executing
// anything. Single-stepping callers resume by continuing to step;
// ResumeTask wraps this for blocking runs.
func (e *Engine) UnpauseTask(tctx *task.Context) {
	if !tctx.Paused() {
		return
	}
	tctx.Unpause()
	e.persist(tctx)
	e.audit.TaskEvent(tctx.ID, audit.EventTaskResumed, "")
	e.notify(tctx, "resumed")
}

// ResumeTask clears the pause flag and continues execution from the
// cursor.
func (e *Engine) ResumeTask(ctx context.Context, tctx *task.Context) error {
	if tctx.Status.IsTerminal() {
		return fmt.Errorf("task %s is %s and cannot be resumed", tctx.ID, tctx.Status)
	}
	e.UnpauseTask(tctx)
	return e.ExecuteTask(ctx, tctx)
}

// CancelTask marks the task cancelled and skips every step that has not
// reached a terminal state.
func (e *Engine) CancelTask(tctx *task.Context) {
	if tctx.Status.IsTerminal() {
		return
	}
	for i := range tctx.Steps {
		switch tctx.Steps[i].Status {
		case task.StepPending, task.StepInProgress:
			tctx.Steps[i].Status = task.StepSkipped
		}
	}
	tctx.Unpause()
	tctx.Status = task.StatusCancelled
	e.persist(tctx)
	e.audit.TaskEvent(tctx.ID, audit.EventTaskCancelled, "")
	e.notify(tctx, "cancelled")
}
