// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// =============================================================================
// SHELL HIGHLIGHTING
// =============================================================================

// Shell applies bash syntax highlighting to a command line. The command
// is returned unchanged when color is off or highlighting fails.
func (r *Renderer) Shell(command string) string {
	if !r.color {
		return command
	}
	return highlight(command, "bash")
}

// highlight runs code through chroma with a terminal-safe formatter.
// Any failure falls back to the original text.
func highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}

	// The formatter appends a newline; strip it so single-line commands
	// stay inline with their prefix.
	return strings.TrimRight(buf.String(), "\n")
}
