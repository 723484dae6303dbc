// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/stepflow/internal/task"
)

// =============================================================================
// MESSAGES
// =============================================================================

// planReadyMsg reports that decomposition finished.
type planReadyMsg struct {
	err error
}

// stepDoneMsg reports that a step command returned. A nil step with a
// nil error means nothing was runnable and the task should settle.
type stepDoneMsg struct {
	step *task.Step
	err  error
}

// progressMsg carries an engine progress callback into the UI loop.
type progressMsg struct {
	done   int
	total  int
	status string
}

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// decomposeCmd asks the provider for a plan.
func (m Model) decomposeCmd() tea.Cmd {
	eng, ctx, tctx := m.engine, m.ctx, m.tctx
	return func() tea.Msg {
		return planReadyMsg{err: eng.DecomposeTask(ctx, tctx)}
	}
}

// stepCmd executes the next runnable step. The model treats the task
// as off limits until the resulting stepDoneMsg arrives.
func (m Model) stepCmd() tea.Cmd {
	eng, ctx, tctx := m.engine, m.ctx, m.tctx
	return func() tea.Msg {
		step, err := eng.ExecuteNextStep(ctx, tctx)
		return stepDoneMsg{step: step, err: err}
	}
}
