// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and command handlers.
//
// This test file covers the argument parser and command dispatch,
// the surface every invocation passes through.
package cli

import (
	"os"
	"strings"
	"testing"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"list"},
			wantSub: "list",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"show", "--limit", "50"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("limit") != "50" {
					t.Errorf("Flag(limit) = %q, want %q", p.Flag("limit"), "50")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"cleanup", "--days=14"},
			wantSub: "cleanup",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("days") != "14" {
					t.Errorf("Flag(days) = %q, want %q", p.Flag("days"), "14")
				}
			},
		},
		{
			name:    "boolean flag",
			args:    []string{"delete", "4f2a9c1e", "--confirm"},
			wantSub: "delete",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("confirm") {
					t.Error("BoolFlag(confirm) should be true")
				}
				if p.Positional(1) != "4f2a9c1e" {
					t.Errorf("Positional(1) = %q, want %q", p.Positional(1), "4f2a9c1e")
				}
			},
		},
		{
			name:    "explicit boolean value",
			args:    []string{"delete", "4f2a9c1e", "--confirm=true"},
			wantSub: "delete",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("confirm") {
					t.Error("BoolFlag(confirm) should be true")
				}
			},
		},
		{
			name:    "multiple positional args",
			args:    []string{"set", "ollama.model", "llama3.1:8b"},
			wantSub: "set",
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 3 {
					t.Errorf("PositionalCount() = %d, want 3", p.PositionalCount())
				}
				joined := strings.Join(p.PositionalFrom(1), " ")
				if joined != "ollama.model llama3.1:8b" {
					t.Errorf("PositionalFrom(1) joined = %q, want %q", joined, "ollama.model llama3.1:8b")
				}
			},
		},
		{
			name:    "mixed flags and positional",
			args:    []string{"show", "--limit", "20", "4f2a9c1e"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("limit") != "20" {
					t.Errorf("Flag(limit) = %q, want %q", p.Flag("limit"), "20")
				}
				if p.Positional(1) != "4f2a9c1e" {
					t.Errorf("Positional(1) = %q, want %q", p.Positional(1), "4f2a9c1e")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewArgParser(tt.args)
			if parser.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", parser.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, parser)
			}
		})
	}
}

func TestArgParser_FlagIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		flagName   string
		defaultVal int
		want       int
	}{
		{
			name:       "flag present",
			args:       []string{"cleanup", "--days", "14"},
			flagName:   "days",
			defaultVal: 30,
			want:       14,
		},
		{
			name:       "flag missing uses default",
			args:       []string{"cleanup"},
			flagName:   "days",
			defaultVal: 30,
			want:       30,
		},
		{
			name:       "invalid int uses default",
			args:       []string{"cleanup", "--days", "soon"},
			flagName:   "days",
			defaultVal: 30,
			want:       30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewArgParser(tt.args)
			got := parser.FlagIntOrDefault(tt.flagName, tt.defaultVal)
			if got != tt.want {
				t.Errorf("FlagIntOrDefault(%q, %d) = %d, want %d", tt.flagName, tt.defaultVal, got, tt.want)
			}
		})
	}
}

func TestArgParser_HasFlag(t *testing.T) {
	parser := NewArgParser([]string{"show", "--confirm", "--limit", "50"})

	if !parser.HasFlag("confirm") {
		t.Error("HasFlag(confirm) should be true")
	}
	if !parser.HasFlag("limit") {
		t.Error("HasFlag(limit) should be true")
	}
	if parser.HasFlag("nonexistent") {
		t.Error("HasFlag(nonexistent) should be false")
	}
}

// =============================================================================
// RUN ARGUMENT TESTS (cli.go)
// =============================================================================

func TestParseRunArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want Args
	}{
		{
			name: "plain prompt",
			raw:  []string{"update", "all", "packages"},
			want: Args{Prompt: "update all packages"},
		},
		{
			name: "dry run short flag",
			raw:  []string{"-n", "list", "files"},
			want: Args{DryRun: true, Prompt: "list files"},
		},
		{
			name: "dry run and yes",
			raw:  []string{"--dry-run", "--yes", "free", "disk", "space"},
			want: Args{DryRun: true, Yes: true, Prompt: "free disk space"},
		},
		{
			name: "interactive flag",
			raw:  []string{"-i", "install", "docker"},
			want: Args{Interactive: true, Prompt: "install docker"},
		},
		{
			name: "preview flag",
			raw:  []string{"--preview", "rotate", "the", "logs"},
			want: Args{Preview: true, Prompt: "rotate the logs"},
		},
		{
			name: "session flag with value",
			raw:  []string{"--session", "4f2a9c1e"},
			want: Args{SessionID: "4f2a9c1e"},
		},
		{
			name: "session equals form",
			raw:  []string{"--session=4f2a9c1e"},
			want: Args{SessionID: "4f2a9c1e"},
		},
		{
			name: "timeout flag",
			raw:  []string{"--timeout", "90", "build", "the", "project"},
			want: Args{TimeoutSecs: 90, Prompt: "build the project"},
		},
		{
			name: "timeout equals form",
			raw:  []string{"--timeout=45", "ping", "the", "gateway"},
			want: Args{TimeoutSecs: 45, Prompt: "ping the gateway"},
		},
		{
			name: "invalid timeout ignored",
			raw:  []string{"--timeout", "soon", "check", "disk"},
			want: Args{Prompt: "check disk"},
		},
		{
			name: "unknown dash flags ignored",
			raw:  []string{"--verbose", "check", "network"},
			want: Args{Prompt: "check network"},
		},
		{
			name: "flag between prompt words",
			raw:  []string{"update", "-y", "packages"},
			want: Args{Yes: true, Prompt: "update packages"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Args
			got.Raw = tt.raw
			parseRunArgs(&got, tt.raw)

			if got.Prompt != tt.want.Prompt {
				t.Errorf("Prompt = %q, want %q", got.Prompt, tt.want.Prompt)
			}
			if got.DryRun != tt.want.DryRun {
				t.Errorf("DryRun = %v, want %v", got.DryRun, tt.want.DryRun)
			}
			if got.Interactive != tt.want.Interactive {
				t.Errorf("Interactive = %v, want %v", got.Interactive, tt.want.Interactive)
			}
			if got.Preview != tt.want.Preview {
				t.Errorf("Preview = %v, want %v", got.Preview, tt.want.Preview)
			}
			if got.Yes != tt.want.Yes {
				t.Errorf("Yes = %v, want %v", got.Yes, tt.want.Yes)
			}
			if got.SessionID != tt.want.SessionID {
				t.Errorf("SessionID = %q, want %q", got.SessionID, tt.want.SessionID)
			}
			if got.TimeoutSecs != tt.want.TimeoutSecs {
				t.Errorf("TimeoutSecs = %d, want %d", got.TimeoutSecs, tt.want.TimeoutSecs)
			}
		})
	}
}

// =============================================================================
// INTEGRATION-STYLE TESTS (testing Parse() with os.Args simulation)
// =============================================================================

// TestParse_Integration tests the actual Parse() function by temporarily
// modifying os.Args. This is an integration test of the full CLI parsing.
func TestParse_Integration(t *testing.T) {
	// Save original args
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	tests := []struct {
		name        string
		args        []string
		wantCommand Command
		validate    func(*testing.T, Args)
	}{
		{
			name:        "run command",
			args:        []string{"stepflow", "run", "deploy", "the", "app"},
			wantCommand: CmdRun,
			validate: func(t *testing.T, a Args) {
				if a.Prompt != "deploy the app" {
					t.Errorf("Prompt = %q, want %q", a.Prompt, "deploy the app")
				}
			},
		},
		{
			name:        "run with dry-run flag",
			args:        []string{"stepflow", "run", "--dry-run", "list", "files"},
			wantCommand: CmdRun,
			validate: func(t *testing.T, a Args) {
				if !a.DryRun {
					t.Error("DryRun should be true")
				}
			},
		},
		{
			name:        "run resuming a session",
			args:        []string{"stepflow", "run", "--session", "4f2a9c1e"},
			wantCommand: CmdRun,
			validate: func(t *testing.T, a Args) {
				if a.SessionID != "4f2a9c1e" {
					t.Errorf("SessionID = %q, want %q", a.SessionID, "4f2a9c1e")
				}
				if a.Prompt != "" {
					t.Errorf("Prompt = %q, want empty", a.Prompt)
				}
			},
		},
		{
			name:        "run with yes and timeout",
			args:        []string{"stepflow", "run", "-y", "--timeout", "90", "reboot", "the", "router"},
			wantCommand: CmdRun,
			validate: func(t *testing.T, a Args) {
				if !a.Yes {
					t.Error("Yes should be true")
				}
				if a.TimeoutSecs != 90 {
					t.Errorf("TimeoutSecs = %d, want 90", a.TimeoutSecs)
				}
				if a.Prompt != "reboot the router" {
					t.Errorf("Prompt = %q, want %q", a.Prompt, "reboot the router")
				}
			},
		},
		{
			name:        "run interactive",
			args:        []string{"stepflow", "run", "--interactive", "install", "docker"},
			wantCommand: CmdRun,
			validate: func(t *testing.T, a Args) {
				if !a.Interactive {
					t.Error("Interactive should be true")
				}
			},
		},
		{
			name:        "run preview",
			args:        []string{"stepflow", "run", "--preview", "rotate", "logs"},
			wantCommand: CmdRun,
			validate: func(t *testing.T, a Args) {
				if !a.Preview {
					t.Error("Preview should be true")
				}
			},
		},
		{
			name:        "bare prompt without run keyword",
			args:        []string{"stepflow", "update", "all", "packages"},
			wantCommand: CmdRun,
			validate: func(t *testing.T, a Args) {
				if a.Prompt != "update all packages" {
					t.Errorf("Prompt = %q, want %q", a.Prompt, "update all packages")
				}
			},
		},
		{
			name:        "no arguments",
			args:        []string{"stepflow"},
			wantCommand: CmdRun,
			validate: func(t *testing.T, a Args) {
				if a.Prompt != "" {
					t.Errorf("Prompt = %q, want empty", a.Prompt)
				}
			},
		},
		{
			name:        "sessions list",
			args:        []string{"stepflow", "sessions", "list"},
			wantCommand: CmdSessions,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "list" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "list")
				}
			},
		},
		{
			name:        "session alias",
			args:        []string{"stepflow", "session", "show", "4f2a9c1e"},
			wantCommand: CmdSessions,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "show" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "show")
				}
			},
		},
		{
			name:        "audit verify",
			args:        []string{"stepflow", "audit", "verify"},
			wantCommand: CmdAudit,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "verify" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "verify")
				}
			},
		},
		{
			name:        "config get",
			args:        []string{"stepflow", "config", "get", "ollama.model"},
			wantCommand: CmdConfig,
			validate: func(t *testing.T, a Args) {
				if a.Subcommand != "get" {
					t.Errorf("Subcommand = %q, want %q", a.Subcommand, "get")
				}
				if a.ConfigKey != "ollama.model" {
					t.Errorf("ConfigKey = %q, want %q", a.ConfigKey, "ollama.model")
				}
			},
		},
		{
			name:        "config set",
			args:        []string{"stepflow", "config", "set", "ollama.model", "llama3.1:8b"},
			wantCommand: CmdConfig,
			validate: func(t *testing.T, a Args) {
				if a.ConfigKey != "ollama.model" {
					t.Errorf("ConfigKey = %q, want %q", a.ConfigKey, "ollama.model")
				}
				if a.ConfigVal != "llama3.1:8b" {
					t.Errorf("ConfigVal = %q, want %q", a.ConfigVal, "llama3.1:8b")
				}
			},
		},
		{
			name:        "status command",
			args:        []string{"stepflow", "status"},
			wantCommand: CmdStatus,
		},
		{
			name:        "status short alias",
			args:        []string{"stepflow", "s"},
			wantCommand: CmdStatus,
		},
		{
			name:        "version flag",
			args:        []string{"stepflow", "--version"},
			wantCommand: CmdVersion,
		},
		{
			name:        "help command",
			args:        []string{"stepflow", "help"},
			wantCommand: CmdHelp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			cmd, args := Parse()

			if cmd != tt.wantCommand {
				t.Errorf("Command = %v, want %v", cmd, tt.wantCommand)
			}

			if tt.validate != nil {
				tt.validate(t, args)
			}
		})
	}
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestArgParser_EmptyArgs(t *testing.T) {
	parser := NewArgParser([]string{})
	if parser.Subcommand() != "" {
		t.Errorf("Subcommand() = %q, want empty", parser.Subcommand())
	}
	if parser.PositionalCount() != 0 {
		t.Errorf("PositionalCount() = %d, want 0", parser.PositionalCount())
	}
}

func TestArgParser_OnlyFlags(t *testing.T) {
	parser := NewArgParser([]string{"--confirm", "--redact"})
	if parser.Subcommand() != "" {
		t.Errorf("Subcommand() = %q, want empty", parser.Subcommand())
	}
	if !parser.BoolFlag("confirm") {
		t.Error("BoolFlag(confirm) should be true")
	}
	if !parser.BoolFlag("redact") {
		t.Error("BoolFlag(redact) should be true")
	}
}

func TestArgParser_FlagOrDefault(t *testing.T) {
	parser := NewArgParser([]string{"show", "--present", "value"})

	if parser.FlagOrDefault("present", "default") != "value" {
		t.Error("FlagOrDefault should return actual value when present")
	}
	if parser.FlagOrDefault("missing", "default") != "default" {
		t.Error("FlagOrDefault should return default when missing")
	}
}

// =============================================================================
// BENCHMARKS
// =============================================================================

func BenchmarkArgParser_Simple(b *testing.B) {
	args := []string{"show", "--limit", "50"}
	for i := 0; i < b.N; i++ {
		NewArgParser(args)
	}
}

func BenchmarkArgParser_ManyFlags(b *testing.B) {
	args := []string{
		"cmd",
		"--flag1", "value1",
		"--flag2", "value2",
		"--flag3", "value3",
		"--bool1",
		"--bool2",
		"positional1",
		"positional2",
	}
	for i := 0; i < b.N; i++ {
		NewArgParser(args)
	}
}

func BenchmarkParseRunArgs(b *testing.B) {
	raw := []string{"--dry-run", "-y", "--timeout", "90", "update", "all", "system", "packages"}
	for i := 0; i < b.N; i++ {
		var a Args
		parseRunArgs(&a, raw)
	}
}
