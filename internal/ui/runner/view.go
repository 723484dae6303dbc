// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"

	"github.com/jeranaias/stepflow/internal/task"
	"github.com/jeranaias/stepflow/internal/ui/styles"
	"github.com/jeranaias/stepflow/internal/util"
)

const (
	promptPreviewRunes = 64
	progressBarWidth   = 24
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the current phase. The terminal state renders the run
// summary, so it stays on screen after the program exits.
func (m Model) View() string {
	switch m.phase {
	case phasePlanning:
		return m.viewPlanning()
	case phaseConfirm:
		return m.viewConfirm()
	case phaseRunning, phaseEscalate, phasePaused:
		return m.viewRun()
	case phaseDone:
		return m.viewDone()
	}
	return ""
}

func (m Model) viewPlanning() string {
	var b strings.Builder
	b.WriteString(m.spinner.View() + " " +
		m.theme.ProgressLabel.Render("planning steps") + " " +
		m.theme.Elapsed.Render("("+elapsed(m.startedAt)+")") + "\n")
	b.WriteString("  " + m.theme.Prompt.Render(util.TruncateRunes(m.snapshot.Prompt, promptPreviewRunes)) + "\n\n")
	b.WriteString(m.helpLine(m.keys.Quit) + "\n")
	return b.String()
}

func (m Model) viewConfirm() string {
	var b strings.Builder
	b.WriteString(m.renderer.Plan(m.snapshot))
	b.WriteString("\n" + m.theme.Subtitle.Render("Run this plan?") + "\n")
	b.WriteString(m.helpLine(m.keys.Confirm, m.keys.Decline) + "\n")
	return b.String()
}

func (m Model) viewRun() string {
	var b strings.Builder

	b.WriteString(m.theme.Title.Render("Task") + " " +
		m.theme.Prompt.Render(util.TruncateRunes(m.snapshot.Prompt, promptPreviewRunes)) + "\n\n")

	for i := range m.snapshot.Steps {
		b.WriteString("  " + m.stepRow(&m.snapshot.Steps[i]) + "\n")
	}
	b.WriteString("\n")

	switch m.phase {
	case phaseRunning:
		line := m.statusLine
		if line == "" {
			line = "working"
		}
		b.WriteString(m.spinner.View() + " " +
			m.theme.ProgressLabel.Render(line) + " " +
			m.theme.Elapsed.Render("("+elapsed(m.stepStarted)+")") + "\n")
		if m.pauseRequested {
			b.WriteString(m.theme.PausedBanner.Render("pausing after this step") + "\n")
		}
		if m.cancelRequested {
			b.WriteString(m.theme.ErrorBox.Render("aborting") + "\n")
		}
	case phaseEscalate:
		if m.failedStep != nil {
			b.WriteString(m.renderer.FailureDetail(m.failedStep))
			if m.failedStep.IsCritical() {
				b.WriteString(m.theme.ErrorBox.Render("critical step") + "\n")
			}
		}
	case phasePaused:
		banner := "paused"
		if reason := m.snapshot.Metadata[task.MetaPauseReason]; reason != "" {
			banner += ": " + reason
		}
		b.WriteString(m.theme.PausedBanner.Render(banner) + "\n")
	}

	b.WriteString("\n" + m.progressLine() + "\n")
	b.WriteString(m.helpLine(m.phaseKeys()...) + "\n")
	return b.String()
}

func (m Model) viewDone() string {
	if m.err != nil {
		return m.theme.ErrorBox.Render("run failed: "+m.err.Error()) + "\n"
	}
	return m.renderer.Summary(m.snapshot)
}

// =============================================================================
// PIECES
// =============================================================================

// stepRow renders one step line, substituting the spinner for the
// status icon while that step is executing.
func (m Model) stepRow(step *task.Step) string {
	status := step.Status.String()
	icon := m.theme.StepIcon(status)
	if m.inFlight && m.runningName != "" && step.Name == m.runningName {
		icon = m.spinner.View()
		status = task.StepInProgress.String()
	}

	line := icon + " " + m.theme.StepStyle(status).Render(step.Name)
	switch step.Status {
	case task.StepCompleted:
		if d := step.Duration(); d > 0 {
			line += " " + m.theme.Elapsed.Render(d.Round(time.Millisecond).String())
		}
	case task.StepFailed:
		if step.Error != "" {
			line += " " + m.theme.StepFailed.Render(util.TruncateRunes(firstLine(step.Error), 60))
		}
	}
	return line
}

func (m Model) progressLine() string {
	total := m.total
	if total == 0 {
		total = len(m.snapshot.Steps)
	}
	var pct float64
	if total > 0 {
		pct = float64(m.done) / float64(total) * 100
	}

	barWidth := progressBarWidth
	if m.width > 0 && m.width-20 < barWidth {
		barWidth = m.width - 20
		if barWidth < 10 {
			barWidth = 10
		}
	}
	bar := styles.RenderProgressBar(barWidth, pct)
	return m.theme.ProgressLabel.Render(fmt.Sprintf("[%s] %d/%d steps", bar, m.done, total))
}

// phaseKeys returns the bindings live in the current phase.
func (m Model) phaseKeys() []key.Binding {
	switch m.phase {
	case phaseRunning:
		return []key.Binding{m.keys.Pause, m.keys.Abort}
	case phaseEscalate:
		return []key.Binding{m.keys.Retry, m.keys.Skip, m.keys.Abort}
	case phasePaused:
		return []key.Binding{m.keys.Resume, m.keys.Abort}
	}
	return nil
}

// helpLine renders "key description" pairs for the active bindings.
func (m Model) helpLine(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, m.theme.HelpKey.Render(h.Key)+" "+m.theme.HelpDesc.Render(h.Desc))
	}
	return strings.Join(parts, m.theme.HelpDesc.Render("  "))
}

func elapsed(since time.Time) string {
	return time.Since(since).Round(time.Second).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
