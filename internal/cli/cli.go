// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and the help/version handlers for stepflow.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Version information (overridden at build time via -ldflags).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdRun Command = iota
	CmdSessions
	CmdAudit
	CmdConfig
	CmdStatus
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Subcommand is the first positional after the command word,
	// e.g. "list" in "stepflow sessions list".
	Subcommand string

	// Config command positionals.
	ConfigKey string
	ConfigVal string

	// Run command options.
	Prompt      string
	SessionID   string
	DryRun      bool
	Interactive bool
	Preview     bool
	Yes         bool
	TimeoutSecs int

	// Raw args remaining after the command word, for handlers that
	// run their own ArgParser.
	Raw []string
}

const usageText = `stepflow - natural-language task runner for the terminal

Stepflow turns a plain-English task into an ordered plan of shell
steps, runs the steps one at a time, and keeps a resumable record of
the run.

It provides:
  - Local LLM planning with Ollama (no cloud calls)
  - Dependency-ordered execution with retry and skip
  - Pause, resume, and cancel for long runs
  - Persisted sessions you can pick up later
  - Tamper-evident audit logging

Usage:
  stepflow [prompt]               Plan and run a task (prompts if omitted)
  stepflow run [flags] [prompt]   Same, with explicit flags
  stepflow sessions [subcommand]  Saved session management
  stepflow audit [subcommand]     Audit log inspection
  stepflow config [subcommand]    Configuration
  stepflow status, s              Show system status
  stepflow version                Show version information
  stepflow help                   Show this help

Run Flags:
  -n, --dry-run                   Print each command instead of running it
  -i, --interactive               Full-screen run view (watch, pause, retry)
      --preview                   Show the plan and exit without running
  -y, --yes                       Skip the plan confirmation
      --session <id>              Resume a saved session
      --timeout <sec>             Per-step timeout override

Session Commands:
  stepflow sessions list          List saved sessions
  stepflow sessions show <id>     Show a session transcript
  stepflow sessions resume <id>   Resume an unfinished session
  stepflow sessions delete <id>   Delete a session
    --confirm                     Skip the confirmation prompt
  stepflow sessions cleanup       Delete sessions past the retention age
    --days N                      Age cutoff in days (default: config)
  stepflow sessions watch         Live view of the session directory

Audit Commands:
  stepflow audit show             Show recent command history (default: 50)
    --limit N                     Show last N entries
  stepflow audit verify           Verify audit log integrity

Config Commands:
  stepflow config show            Show current configuration
  stepflow config get <key>       Get one value (dot notation)
  stepflow config set <key> <val> Set one value
  stepflow config path            Print the config file path

Examples:
  stepflow "update all system packages"
  stepflow run --dry-run "set up a python venv and install requests"
  stepflow run --interactive "build and deploy the docs site"
  stepflow sessions resume 4f2a9c1e
  stepflow config set ollama.model llama3.1:8b

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("stepflow version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
	fmt.Printf("  Go version: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	raw := os.Args[1:]

	// Bare invocation plans a task interactively, like an explicit
	// "run" with no prompt.
	if len(raw) == 0 {
		return CmdRun, Args{}
	}

	cmd := strings.ToLower(raw[0])
	remaining := raw[1:]

	var args Args
	args.Raw = remaining

	switch cmd {
	case "run":
		parseRunArgs(&args, remaining)
		return CmdRun, args

	case "sessions", "session":
		if len(remaining) > 0 {
			args.Subcommand = remaining[0]
		}
		return CmdSessions, args

	case "audit":
		if len(remaining) > 0 {
			args.Subcommand = remaining[0]
		}
		return CmdAudit, args

	case "config":
		parseConfigArgs(&args, remaining)
		return CmdConfig, args

	case "status", "s":
		return CmdStatus, args

	case "version", "-v", "--version":
		return CmdVersion, args

	case "help", "-h", "--help":
		return CmdHelp, args

	default:
		// Unknown command: treat the whole argument list as a run
		// prompt so `stepflow "update all packages"` works.
		args.Raw = raw
		parseRunArgs(&args, raw)
		return CmdRun, args
	}
}

// parseRunArgs parses run command specific arguments. The prompt is
// every positional joined with spaces, so quoting the task is
// optional.
func parseRunArgs(args *Args, remaining []string) {
	var prompt []string

	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "-n", "--dry-run":
			args.DryRun = true
		case "-i", "--interactive":
			args.Interactive = true
		case "--preview":
			args.Preview = true
		case "-y", "--yes":
			args.Yes = true
		case "--session":
			if i+1 < len(remaining) {
				i++
				args.SessionID = remaining[i]
			}
		case "--timeout":
			if i+1 < len(remaining) {
				i++
				if n, err := strconv.Atoi(remaining[i]); err == nil && n > 0 {
					args.TimeoutSecs = n
				}
			}
		default:
			// Check for --session=value and --timeout=value formats
			if strings.HasPrefix(arg, "--session=") {
				args.SessionID = strings.TrimPrefix(arg, "--session=")
			} else if strings.HasPrefix(arg, "--timeout=") {
				if n, err := strconv.Atoi(strings.TrimPrefix(arg, "--timeout=")); err == nil && n > 0 {
					args.TimeoutSecs = n
				}
			} else if !strings.HasPrefix(arg, "-") {
				prompt = append(prompt, arg)
			}
		}
	}

	args.Prompt = strings.Join(prompt, " ")
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = remaining[0]
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = remaining[2]
		}
	}
}

// HandleVersion handles the "version" command.
func HandleVersion() {
	PrintVersion()
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}
