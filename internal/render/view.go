// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/stepflow/internal/task"
	"github.com/jeranaias/stepflow/internal/util"
)

// timeLayout is the timestamp format used in transcripts.
const timeLayout = "2006-01-02 15:04"

// =============================================================================
// PLAN PREVIEW
// =============================================================================

// Plan renders a numbered preview of the decomposed steps, including
// shell commands and dependency references, before anything runs.
func (r *Renderer) Plan(tctx *task.Context) string {
	var b strings.Builder

	b.WriteString(r.theme.Title.Render("Plan"))
	b.WriteString(" ")
	b.WriteString(r.theme.Elapsed.Render(fmt.Sprintf("(%d steps)", len(tctx.Steps))))
	b.WriteString("\n\n")

	positions := stepPositions(tctx)
	for i := range tctx.Steps {
		step := &tctx.Steps[i]
		b.WriteString(fmt.Sprintf("  %2d. %s %s\n", i+1,
			r.theme.StepIcon(step.Status.String()),
			r.theme.StepName.Render(step.Name)))
		if step.Description != "" && step.Description != step.Name {
			b.WriteString("      " + r.theme.HelpDesc.Render(step.Description) + "\n")
		}
		if step.Command != "" {
			b.WriteString("      " + r.theme.Command.Render("$") + " " + r.Shell(step.Command) + "\n")
		}
		if note := dependencyNote(step, positions); note != "" {
			b.WriteString("      " + r.theme.Elapsed.Render(note) + "\n")
		}
	}
	return b.String()
}

// stepPositions maps step IDs to their 1-based display position.
func stepPositions(tctx *task.Context) map[string]int {
	positions := make(map[string]int, len(tctx.Steps))
	for i := range tctx.Steps {
		positions[tctx.Steps[i].ID] = i + 1
	}
	return positions
}

// dependencyNote formats a step's dependencies as display positions.
// References that never resolved to a known step are shown as-is.
func dependencyNote(step *task.Step, positions map[string]int) string {
	if len(step.Dependencies) == 0 {
		return ""
	}
	refs := make([]string, 0, len(step.Dependencies))
	for _, dep := range step.Dependencies {
		if pos, ok := positions[dep]; ok {
			refs = append(refs, fmt.Sprintf("%d", pos))
		} else {
			refs = append(refs, fmt.Sprintf("%q (unresolved)", dep))
		}
	}
	return "needs: " + strings.Join(refs, ", ")
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// Summary renders the per-step outcome list and final status after a
// run finishes or stops.
func (r *Renderer) Summary(tctx *task.Context) string {
	var b strings.Builder

	b.WriteString(r.badge(tctx))
	b.WriteString("\n\n")

	for i := range tctx.Steps {
		b.WriteString("  " + r.stepLine(&tctx.Steps[i]) + "\n")
	}

	completed := tctx.CountStepStatus(task.StepCompleted)
	total := len(tctx.Steps)
	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	b.WriteString("\n")
	b.WriteString(r.theme.ProgressLabel.Render(
		fmt.Sprintf("%d/%d steps completed (%.0f%%)", completed, total, pct)))
	b.WriteString("\n")

	if msg := tctx.Metadata[task.MetaError]; msg != "" {
		b.WriteString(r.theme.ErrorBox.Render(msg) + "\n")
	}
	return b.String()
}

// badge renders the task status badge, with a pause banner when set.
func (r *Renderer) badge(tctx *task.Context) string {
	out := r.theme.TaskBadge(tctx.Status.String()).Render(strings.ToUpper(tctx.Status.String()))
	if tctx.Paused() {
		banner := "paused"
		if reason := tctx.Metadata[task.MetaPauseReason]; reason != "" {
			banner = "paused: " + reason
		}
		out += " " + r.theme.PausedBanner.Render(banner)
	}
	return out
}

// stepLine renders a one-line outcome for a step.
func (r *Renderer) stepLine(step *task.Step) string {
	status := step.Status.String()
	line := r.theme.StepIcon(status) + " " + r.theme.StepStyle(status).Render(step.Name)

	switch step.Status {
	case task.StepCompleted:
		if d := step.Duration(); d > 0 {
			line += " " + r.theme.Elapsed.Render(d.Round(time.Millisecond).String())
		}
	case task.StepFailed:
		if step.Error != "" {
			line += " " + r.theme.Elapsed.Render(firstLine(step.Error))
		}
	case task.StepSkipped:
		if step.Result != "" {
			line += " " + r.theme.Elapsed.Render(firstLine(step.Result))
		}
	}
	return line
}

// firstLine returns the first line of s, truncated for inline display.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return util.TruncateRunes(s, 100)
}

// =============================================================================
// SESSION TRANSCRIPT
// =============================================================================

// Transcript renders the full session record: prompt, every step with
// its command and output, and the final task status.
func (r *Renderer) Transcript(tctx *task.Context) string {
	var b strings.Builder

	b.WriteString(r.theme.Title.Render("Task") + " " + r.theme.Elapsed.Render(tctx.ID) + "\n")
	b.WriteString(r.theme.Prompt.Render(tctx.Prompt) + "\n")
	b.WriteString(r.theme.Elapsed.Render(fmt.Sprintf("created %s, updated %s",
		tctx.CreatedAt.Format(timeLayout), tctx.UpdatedAt.Format(timeLayout))) + "\n")
	b.WriteString(r.badge(tctx) + "\n\n")

	positions := stepPositions(tctx)
	for i := range tctx.Steps {
		step := &tctx.Steps[i]
		b.WriteString(fmt.Sprintf("%2d. %s\n", i+1, r.stepLine(step)))
		if step.Command != "" {
			b.WriteString("    " + r.theme.Command.Render("$") + " " + r.Shell(step.Command) + "\n")
		}
		if note := dependencyNote(step, positions); note != "" {
			b.WriteString("    " + r.theme.Elapsed.Render(note) + "\n")
		}
		b.WriteString(r.stepOutput(step))
	}

	if msg := tctx.Metadata[task.MetaError]; msg != "" {
		b.WriteString("\n" + r.theme.ErrorBox.Render(msg) + "\n")
	}
	return b.String()
}

// stepOutput renders a step's result or error block, clipped so one
// noisy step does not swamp the transcript.
func (r *Renderer) stepOutput(step *task.Step) string {
	if step.Error != "" {
		return r.theme.ErrorBox.Render(clipResult(step.Error)) + "\n"
	}
	if step.Result == "" {
		return ""
	}
	body := clipResult(step.Result)
	if step.Command == "" {
		// Instruction results come from the model and may be markdown.
		// Command output is shown verbatim.
		md := r.Markdown(body)
		if !strings.HasSuffix(md, "\n") {
			md += "\n"
		}
		return md
	}
	return r.theme.Detail.Render(body) + "\n"
}

// clipResult bounds step output for display.
func clipResult(s string) string {
	s = util.TruncateRunes(strings.TrimSpace(s), maxResultRunes)
	lines := strings.Split(s, "\n")
	if len(lines) > maxResultLines {
		omitted := len(lines) - maxResultLines
		lines = append(lines[:maxResultLines], fmt.Sprintf("... (%d more lines)", omitted))
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// FAILURE DETAIL
// =============================================================================

// FailureDetail renders a failed step with its command and error text,
// used by the escalation prompt between retries.
func (r *Renderer) FailureDetail(step *task.Step) string {
	var b strings.Builder
	b.WriteString(r.theme.StepIcon("failed") + " " + r.theme.StepFailed.Render(step.Name) + "\n")
	if step.Command != "" {
		b.WriteString(r.theme.Command.Render("$") + " " + r.Shell(step.Command) + "\n")
	}
	if step.Error != "" {
		b.WriteString(r.theme.ErrorBox.Render(clipResult(step.Error)) + "\n")
	}
	return b.String()
}
