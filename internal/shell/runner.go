// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package shell executes step commands as shell subprocesses.
//
// Commands come from an LLM, so every one passes validation before it
// runs: unicode normalization, a destructive-operation blocklist, and
// rejection of commands that cannot work under captured, non-TTY
// execution (interactive editors, backgrounding).
package shell

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultTimeout bounds a single step command.
	DefaultTimeout = 300 * time.Second

	// DefaultMaxOutputSize caps captured output per command.
	DefaultMaxOutputSize = 100000
)

// DefaultBlockedCommands are always rejected. Matched against the
// first token and as a normalized substring, so both bare commands
// ("mkfs") and argument shapes ("rm -rf /") are covered.
var DefaultBlockedCommands = []string{
	// filesystem destruction
	"rm -rf /", "rm -rf /*", "rm -fr /", "rm -fr /*",
	"rm -rf ~", "rm -rf ~/", "rm -rf $home",
	"rm --no-preserve-root",
	// disk and partition operations
	"mkfs", "mke2fs", "mkswap", "wipefs", "shred",
	"fdisk", "gdisk", "parted", "sfdisk",
	// system state
	"shutdown", "reboot", "halt", "poweroff",
	// fork bombs
	":(){:|:&};:", ":(){ :|:& };:",
	// permission bombs
	"chmod -r 777 /", "chmod 777 /",
}

// DefaultBlockedPatterns are rejected wherever they appear in the
// normalized command.
var DefaultBlockedPatterns = []string{
	"> /dev/sd", ">/dev/sd",
	"> /dev/nvme", ">/dev/nvme",
	"of=/dev/",
	"; rm -rf", "&& rm -rf", "|| rm -rf",
	"| bash", "|bash", "| sh", "|sh",
}

// interactiveCommands hang forever without a TTY, so they are refused
// up front instead of burning the full step timeout.
var interactiveCommands = []string{
	"vim", "vi", "nano", "emacs",
	"less", "more",
	"top", "htop",
	"ssh", "telnet", "ftp",
	"mysql", "psql", "sqlite3",
}

// dangerousEnvPrefixes are stripped from the subprocess environment.
var dangerousEnvPrefixes = []string{"LD_", "DYLD_", "BASH_FUNC_"}

// dangerousEnvVars are stripped from the subprocess environment.
var dangerousEnvVars = []string{
	"BASH_ENV", "ENV", "PROMPT_COMMAND", "PS4",
	"SHELLOPTS", "GLOBIGNORE", "IFS",
	"PERL5OPT", "PYTHONSTARTUP",
}

// =============================================================================
// RESULT AND ERRORS
// =============================================================================

// Result captures one command execution.
type Result struct {
	Command   string
	ExitCode  int
	Stdout    string
	Stderr    string
	Output    string // stdout and stderr combined for display
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
}

// Success reports whether the command ran and exited zero.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// SecurityError is returned when validation refuses to run a command.
type SecurityError struct {
	Command string
	Reason  string
}

func (e *SecurityError) Error() string {
	return "command blocked: " + e.Reason
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes validated commands through the platform shell with
// bounded time and captured output. The zero value is not usable; use
// NewRunner.
type Runner struct {
	// WorkDir is the working directory for commands ("" = inherit).
	WorkDir string

	// Timeout bounds each command unless Execute's context is tighter.
	Timeout time.Duration

	// MaxOutputSize caps combined captured output in bytes.
	MaxOutputSize int

	// AllowedCommands, when non-empty, switches to whitelist mode:
	// only listed base commands may run.
	AllowedCommands []string

	// BlockedCommands and BlockedPatterns extend or replace the
	// defaults (nil = defaults).
	BlockedCommands []string
	BlockedPatterns []string
}

// NewRunner creates a runner with the default safety lists.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		Timeout:         timeout,
		MaxOutputSize:   DefaultMaxOutputSize,
		BlockedCommands: DefaultBlockedCommands,
		BlockedPatterns: DefaultBlockedPatterns,
	}
}

// Execute validates and runs one command. It returns a Result for
// anything the command itself did (including nonzero exits and
// timeouts); it returns an error only when the command never ran:
// validation refusal, spawn failure, or context cancellation.
func (r *Runner) Execute(ctx context.Context, command string) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &SecurityError{Command: command, Reason: "empty command"}
	}

	if err := r.validate(command); err != nil {
		return nil, err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cmdCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(cmdCtx, "bash", "-c", command)
	}

	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	cmd.Env = sanitizeEnvironment()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	result.Output, result.Truncated = r.buildOutput(&stdout, &stderr)

	// Distinguish "the deadline killed it" from "the caller gave up".
	if cmdCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// The command never started (bad shell, fork failure).
		return nil, runErr
	}

	result.ExitCode = 0
	return result, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// validate refuses commands that are destructive or cannot work under
// captured execution. The command is NFKC-normalized first so unicode
// homoglyphs cannot slip past the string checks.
func (r *Runner) validate(command string) error {
	command = norm.NFKC.String(command)
	normalized := strings.ToLower(strings.TrimSpace(command))
	normalized = strings.ReplaceAll(normalized, "\t", " ")

	baseCmd := firstToken(normalized)

	if len(r.AllowedCommands) > 0 {
		allowed := false
		for _, allow := range r.AllowedCommands {
			if baseCmd == strings.ToLower(allow) {
				allowed = true
				break
			}
		}
		if !allowed {
			return &SecurityError{Command: command, Reason: "command not in allowed list"}
		}
	}

	blocked := r.BlockedCommands
	if blocked == nil {
		blocked = DefaultBlockedCommands
	}
	for _, b := range blocked {
		bl := strings.ToLower(b)
		if baseCmd == bl || strings.Contains(normalized, bl) {
			return &SecurityError{Command: command, Reason: "blocked operation: " + b}
		}
	}

	patterns := r.BlockedPatterns
	if patterns == nil {
		patterns = DefaultBlockedPatterns
	}
	for _, p := range patterns {
		if strings.Contains(normalized, strings.ToLower(p)) {
			return &SecurityError{Command: command, Reason: "dangerous pattern: " + p}
		}
	}

	for _, interactive := range interactiveCommands {
		if baseCmd == interactive ||
			strings.Contains(normalized, "| "+interactive) ||
			strings.Contains(normalized, "|"+interactive+" ") ||
			strings.Contains(normalized, "; "+interactive+" ") {
			return &SecurityError{
				Command: command,
				Reason:  "interactive command '" + interactive + "' cannot run without a TTY",
			}
		}
	}

	if containsBackgroundOperator(command) {
		return &SecurityError{Command: command, Reason: "backgrounding with '&' is not allowed"}
	}

	return nil
}

// firstToken returns the base name of the first whitespace-separated
// token, lowercased. "sudo" is transparent so "sudo mkfs" still
// resolves to "mkfs".
func firstToken(normalized string) string {
	fields := strings.Fields(normalized)
	for _, f := range fields {
		if f == "sudo" {
			continue
		}
		if strings.Contains(f, "=") && !strings.HasPrefix(f, "/") {
			// skip leading VAR=value assignments
			continue
		}
		return strings.ToLower(filepath.Base(f))
	}
	return ""
}

// containsBackgroundOperator finds a standalone & outside quotes,
// allowing && chaining.
func containsBackgroundOperator(command string) bool {
	chars := []rune(command)
	inSingle := false
	inDouble := false

	for i := 0; i < len(chars); i++ {
		c := chars[i]
		if c == '\'' && !inDouble {
			inSingle = !inSingle
			continue
		}
		if c == '"' && !inSingle {
			inDouble = !inDouble
			continue
		}
		if inSingle || inDouble {
			continue
		}
		if c == '&' {
			var prev, next rune
			if i > 0 {
				prev = chars[i-1]
			}
			if i < len(chars)-1 {
				next = chars[i+1]
			}
			if prev == '&' || next == '&' {
				continue
			}
			if prev == '>' || next == '>' {
				// redirections: 2>&1, &>file
				continue
			}
			return true
		}
	}
	return false
}

// =============================================================================
// OUTPUT AND ENVIRONMENT
// =============================================================================

// buildOutput combines stdout and stderr for display, capped at
// MaxOutputSize with a truncation note.
func (r *Runner) buildOutput(stdout, stderr *bytes.Buffer) (string, bool) {
	maxSize := r.MaxOutputSize
	if maxSize <= 0 {
		maxSize = DefaultMaxOutputSize
	}

	var output strings.Builder
	truncated := false

	if stdout.Len() > 0 {
		outStr := stdout.String()
		if len(outStr) > maxSize {
			outStr = outStr[:maxSize]
			truncated = true
		}
		output.WriteString(outStr)
	}

	if stderr.Len() > 0 {
		if output.Len() > 0 {
			output.WriteString("\n\nSTDERR:\n")
		}
		errStr := stderr.String()
		remaining := maxSize - output.Len()
		if remaining > 0 {
			if len(errStr) > remaining {
				errStr = errStr[:remaining]
				truncated = true
			}
			output.WriteString(errStr)
		} else {
			truncated = true
		}
	}

	result := output.String()
	if result == "" {
		result = "(no output)"
	}
	if truncated {
		result += "\n\n[Output truncated at " + strconv.Itoa(maxSize) + " bytes]"
	}
	return result, truncated
}

// sanitizeEnvironment drops variables that change how the shell parses
// or loads code before the command even runs.
func sanitizeEnvironment() []string {
	dangerous := make(map[string]bool, len(dangerousEnvVars))
	for _, v := range dangerousEnvVars {
		dangerous[v] = true
	}

	current := getEnviron()
	result := make([]string, 0, len(current))

	for _, env := range current {
		idx := strings.Index(env, "=")
		if idx <= 0 {
			continue
		}
		key := strings.ToUpper(env[:idx])

		if dangerous[key] {
			continue
		}
		skip := false
		for _, prefix := range dangerousEnvPrefixes {
			if strings.HasPrefix(key, prefix) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		result = append(result, env)
	}
	return result
}

// getEnviron is a variable so tests can inject environments.
var getEnviron = func() []string {
	return os.Environ()
}
