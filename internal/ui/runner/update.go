// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/stepflow/internal/task"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages for the run view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if !m.spinning() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		m.done, m.total = msg.done, msg.total
		m.statusLine = msg.status
		if name, ok := strings.CutPrefix(msg.status, "running: "); ok {
			m.runningName = name
		} else {
			m.runningName = ""
		}
		return m, nil

	case planReadyMsg:
		return m.handlePlanReady(msg)

	case stepDoneMsg:
		return m.handleStepDone(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

func (m Model) handlePlanReady(msg planReadyMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		if m.cancelRequested && errors.Is(msg.err, context.Canceled) {
			m.engine.CancelTask(m.tctx)
		} else {
			m.err = msg.err
		}
		m.snapshot = m.tctx.Clone()
		m.phase = phaseDone
		return m, tea.Quit
	}

	m.snapshot = m.tctx.Clone()
	m.total = len(m.snapshot.Steps)
	if m.skipConfirm {
		return m.startStepping()
	}
	m.phase = phaseConfirm
	return m, nil
}

func (m Model) handleStepDone(msg stepDoneMsg) (tea.Model, tea.Cmd) {
	m.inFlight = false
	m.runningName = ""
	m.snapshot = m.tctx.Clone()

	// A step error means the run context was cancelled mid-command.
	if msg.err != nil {
		m.engine.CancelTask(m.tctx)
		m.snapshot = m.tctx.Clone()
		if !m.cancelRequested && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
		}
		m.phase = phaseDone
		return m, tea.Quit
	}

	if m.cancelRequested {
		m.engine.CancelTask(m.tctx)
		m.snapshot = m.tctx.Clone()
		m.phase = phaseDone
		return m, tea.Quit
	}

	// Nothing runnable: settle the final status.
	if msg.step == nil {
		m.engine.FinalizeTask(m.tctx)
		m.snapshot = m.tctx.Clone()
		m.phase = phaseDone
		return m, tea.Quit
	}

	if msg.step.Status == task.StepFailed {
		m.failedStep = msg.step
		m.phase = phaseEscalate
		return m, nil
	}

	if m.pauseRequested {
		return m.pauseNow()
	}
	return m.startStepping()
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.phase {
	case phasePlanning:
		if key.Matches(msg, m.keys.Quit) || key.Matches(msg, m.keys.Decline) {
			m.cancelRequested = true
			m.cancel()
		}
		return m, nil

	case phaseConfirm:
		switch {
		case key.Matches(msg, m.keys.Confirm):
			return m.startStepping()
		case key.Matches(msg, m.keys.Decline), key.Matches(msg, m.keys.Quit):
			return m.abort()
		}

	case phaseRunning:
		switch {
		case key.Matches(msg, m.keys.Pause):
			m.pauseRequested = !m.pauseRequested
			return m, nil
		case key.Matches(msg, m.keys.Abort), key.Matches(msg, m.keys.Quit):
			// Kill the in-flight command; the sweep happens when its
			// stepDoneMsg lands.
			m.cancelRequested = true
			m.cancel()
			return m, nil
		}

	case phaseEscalate:
		switch {
		case key.Matches(msg, m.keys.Retry):
			m.engine.RetryStep(m.tctx, m.failedStep)
			m.failedStep = nil
			m.snapshot = m.tctx.Clone()
			return m.continueAfterEscalation()
		case key.Matches(msg, m.keys.Skip):
			m.engine.SkipStep(m.tctx, m.failedStep)
			m.failedStep = nil
			m.snapshot = m.tctx.Clone()
			return m.continueAfterEscalation()
		case key.Matches(msg, m.keys.Abort), key.Matches(msg, m.keys.Quit):
			return m.abort()
		}

	case phasePaused:
		switch {
		case key.Matches(msg, m.keys.Resume):
			m.engine.UnpauseTask(m.tctx)
			m.snapshot = m.tctx.Clone()
			return m.startStepping()
		case key.Matches(msg, m.keys.Abort), key.Matches(msg, m.keys.Quit):
			return m.abort()
		}
	}
	return m, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// startStepping launches the next step command.
func (m Model) startStepping() (tea.Model, tea.Cmd) {
	m.phase = phaseRunning
	m.inFlight = true
	m.runningName = ""
	m.stepStarted = time.Now()
	return m, tea.Batch(m.spinner.Tick, m.stepCmd())
}

// continueAfterEscalation honors a pause queued while the failure
// prompt was open, otherwise keeps stepping.
func (m Model) continueAfterEscalation() (tea.Model, tea.Cmd) {
	if m.pauseRequested {
		return m.pauseNow()
	}
	return m.startStepping()
}

func (m Model) pauseNow() (tea.Model, tea.Cmd) {
	m.pauseRequested = false
	m.engine.PauseTask(m.tctx, "paused by operator")
	m.snapshot = m.tctx.Clone()
	m.phase = phasePaused
	return m, nil
}

// abort cancels the task between steps and ends the run.
func (m Model) abort() (tea.Model, tea.Cmd) {
	m.engine.CancelTask(m.tctx)
	m.snapshot = m.tctx.Clone()
	m.phase = phaseDone
	return m, tea.Quit
}
