// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for stepflow.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection; every status style is paired with an ASCII shape indicator so
outcomes stay readable without color.

# Color System (colors.go)

Accent colors:

  - Cyan - brand color, headers, commands
  - Emerald - completed steps
  - Rose - failed steps, errors
  - Amber - skipped steps, paused tasks
  - Purple - the running step

Hierarchical text colors (TextPrimary, TextSecondary, TextMuted,
TextInverse) and layered surfaces (Surface, SurfaceDim, Overlay).

# Theme System (theme.go)

The Theme struct detects terminal capability once and exposes the styles
used by the interactive run view and the plain CLI output:

	theme := styles.NewTheme()
	line := theme.StepStyle(step.Status.String()).
		Render(theme.StepIcon(step.Status.String()) + " " + step.Name)

# Status Render Helpers

RenderSuccess, RenderError, RenderWarning, RenderInfo and RenderStatus
produce one-line status messages with indicator and color applied, for
code paths that do not hold a Theme.
*/
package styles
