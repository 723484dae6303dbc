// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for stepflow.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the run view and the plain CLI
// output. It detects the terminal's color capability once at startup.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	// Layout
	Width int

	// ==========================================================================
	// HEADER AND PROMPT
	// ==========================================================================

	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Prompt   lipgloss.Style

	// ==========================================================================
	// STEP LIST
	// ==========================================================================

	StepPending   lipgloss.Style
	StepRunning   lipgloss.Style
	StepCompleted lipgloss.Style
	StepFailed    lipgloss.Style
	StepSkipped   lipgloss.Style

	StepName lipgloss.Style
	Command  lipgloss.Style
	Detail   lipgloss.Style

	// ==========================================================================
	// PROGRESS AND SPINNER
	// ==========================================================================

	Spinner       lipgloss.Style
	ProgressLabel lipgloss.Style
	Elapsed       lipgloss.Style

	// ==========================================================================
	// TASK STATUS BADGES
	// ==========================================================================

	BadgePending    lipgloss.Style
	BadgeInProgress lipgloss.Style
	BadgeCompleted  lipgloss.Style
	BadgeFailed     lipgloss.Style
	BadgeCancelled  lipgloss.Style
	BadgePaused     lipgloss.Style

	// ==========================================================================
	// SESSION TABLE
	// ==========================================================================

	TableHeader lipgloss.Style
	TableRow    lipgloss.Style
	TableRowDim lipgloss.Style

	// ==========================================================================
	// MESSAGES AND HELP
	// ==========================================================================

	ErrorBox     lipgloss.Style
	PausedBanner lipgloss.Style
	HelpKey      lipgloss.Style
	HelpDesc     lipgloss.Style
}

// NewTheme creates a theme with all styles configured.
func NewTheme() *Theme {
	colorProfile := termenv.ColorProfile()
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		HasTrueColor: colorProfile == termenv.TrueColor,
		ColorProfile: colorProfile,
	}
	t.initStyles()
	return t
}

// SetWidth records the terminal width for styles that wrap or align.
func (t *Theme) SetWidth(w int) {
	t.Width = w
}

// initStyles initializes all the lip gloss styles.
func (t *Theme) initStyles() {
	// Header and prompt
	t.Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.Subtitle = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)

	t.Prompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	// Step list
	t.StepPending = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.StepRunning = lipgloss.NewStyle().
		Foreground(Purple).
		Bold(true)

	t.StepCompleted = lipgloss.NewStyle().
		Foreground(Emerald)

	t.StepFailed = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)

	t.StepSkipped = lipgloss.NewStyle().
		Foreground(Amber)

	t.StepName = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.Command = lipgloss.NewStyle().
		Foreground(Cyan)

	t.Detail = lipgloss.NewStyle().
		Foreground(TextMuted).
		PaddingLeft(5)

	// Progress
	t.Spinner = lipgloss.NewStyle().
		Foreground(Purple)

	t.ProgressLabel = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.Elapsed = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Task badges
	badge := lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Foreground(TextInverse)

	t.BadgePending = badge.Background(Overlay).Foreground(TextPrimary)
	t.BadgeInProgress = badge.Background(Purple)
	t.BadgeCompleted = badge.Background(Emerald)
	t.BadgeFailed = badge.Background(Rose)
	t.BadgeCancelled = badge.Background(Overlay).Foreground(TextPrimary)
	t.BadgePaused = badge.Background(Amber)

	// Session table
	t.TableHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(Overlay)

	t.TableRow = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.TableRowDim = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Messages and help
	t.ErrorBox = lipgloss.NewStyle().
		Foreground(Rose).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(Rose).
		PaddingLeft(2)

	t.PausedBanner = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)

	t.HelpKey = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.HelpDesc = lipgloss.NewStyle().
		Foreground(TextMuted)
}

// StepStyle returns the list style for a step status string.
func (t *Theme) StepStyle(status string) lipgloss.Style {
	switch status {
	case "in_progress":
		return t.StepRunning
	case "completed":
		return t.StepCompleted
	case "failed":
		return t.StepFailed
	case "skipped":
		return t.StepSkipped
	default:
		return t.StepPending
	}
}

// StepIcon returns the shape indicator for a step status string.
func (t *Theme) StepIcon(status string) string {
	switch status {
	case "in_progress":
		return StatusIndicators.Active
	case "completed":
		return StatusIndicators.Success
	case "failed":
		return StatusIndicators.Error
	case "skipped":
		return StatusIndicators.Warning
	default:
		return StatusIndicators.Pending
	}
}

// TaskBadge returns the badge style for a task status string.
func (t *Theme) TaskBadge(status string) lipgloss.Style {
	switch status {
	case "in_progress":
		return t.BadgeInProgress
	case "completed":
		return t.BadgeCompleted
	case "failed":
		return t.BadgeFailed
	case "cancelled":
		return t.BadgeCancelled
	default:
		return t.BadgePending
	}
}
