// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render formats plans, step outcomes, and session transcripts
// for terminal display. Markdown goes through glamour and shell commands
// through chroma when color is enabled; both degrade to plain text so
// piped output stays clean.
package render

import (
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/stepflow/internal/ui/styles"
)

// =============================================================================
// RENDERER
// =============================================================================

const (
	// DefaultWidth is the wrap width used when the terminal width is unknown.
	DefaultWidth = 80

	// maxResultLines caps how many lines of step output a transcript shows.
	maxResultLines = 12

	// maxResultRunes caps the size of a single rendered step result.
	maxResultRunes = 4000
)

// Renderer formats task data for a terminal of a known width. Color and
// width come from the caller rather than being sniffed from the
// environment, so the same renderer works for TTY and piped output.
type Renderer struct {
	theme *styles.Theme
	md    *glamour.TermRenderer
	color bool
	width int
}

// New creates a renderer. When color is false, markdown rendering and
// shell highlighting are skipped entirely.
func New(theme *styles.Theme, width int, color bool) *Renderer {
	if theme == nil {
		theme = styles.NewTheme()
	}
	if width <= 0 {
		width = DefaultWidth
	}
	r := &Renderer{theme: theme, color: color, width: width}
	if color {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			r.md = md
		}
	}
	return r
}

// Width returns the wrap width the renderer was built with.
func (r *Renderer) Width() int { return r.width }

// Color reports whether the renderer emits ANSI styling.
func (r *Renderer) Color() bool { return r.color }

// Markdown renders markdown content for terminal display. The original
// content is returned when color is off, rendering fails, or the
// renderer could not be initialized.
func (r *Renderer) Markdown(content string) string {
	if r.md == nil {
		return content
	}
	rendered, err := r.md.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
