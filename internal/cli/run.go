// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// run.go - Run command implementation for stepflow.
//
// Command: run (also the default when the first argument is not a
// known command)
//
// Examples:
//   stepflow "update all system packages"
//   stepflow run --dry-run "set up a python venv"
//   stepflow run --interactive "build and deploy the docs site"
//   stepflow run --session 4f2a9c1e
//   stepflow run --preview "migrate the database"
//
// Flow:
//   1. Load config, open the session store, wire the engine.
//   2. Get the task: --session loads a saved one, a prompt creates a
//      new one, and with neither the user is asked on a TTY.
//   3. Plan with the local model when the task has no steps yet.
//   4. --preview prints the plan and stops; --interactive hands off to
//      the full-screen run view; otherwise the plan is confirmed and
//      executed inline with progress lines.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/stepflow/internal/audit"
	"github.com/jeranaias/stepflow/internal/config"
	"github.com/jeranaias/stepflow/internal/engine"
	"github.com/jeranaias/stepflow/internal/ollama"
	"github.com/jeranaias/stepflow/internal/render"
	"github.com/jeranaias/stepflow/internal/session"
	"github.com/jeranaias/stepflow/internal/shell"
	"github.com/jeranaias/stepflow/internal/task"
	"github.com/jeranaias/stepflow/internal/ui/runner"
	uistyles "github.com/jeranaias/stepflow/internal/ui/styles"
)

// =============================================================================
// HANDLE RUN
// =============================================================================

// HandleRun handles the "run" command.
func HandleRun(args Args) error {
	if args.SessionID != "" && args.Prompt != "" {
		return &ValidationError{
			Field:   "prompt",
			Value:   args.Prompt,
			Reason:  "cannot combine --session with a new prompt",
			Example: "stepflow run --session " + args.SessionID,
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if args.TimeoutSecs > 0 {
		cfg.Execution.StepTimeoutSecs = args.TimeoutSecs
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	eng, sink, err := buildEngine(cfg, store, args.DryRun)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get the task context: resume a saved session or start fresh.
	var tctx *task.Context
	resuming := args.SessionID != ""
	if resuming {
		tctx, err = loadSession(store, args.SessionID)
		if err != nil {
			return err
		}
		if tctx.Status.IsTerminal() {
			return fmt.Errorf("session %s is already %s; start a new run", shortID(tctx.ID), tctx.Status)
		}
	} else {
		prompt := strings.TrimSpace(args.Prompt)
		if prompt == "" {
			prompt, err = promptForTask()
			if err != nil {
				return err
			}
		}
		tctx, err = store.Create(prompt)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	}

	theme, rend := newRenderer(cfg)

	// Planning needs the model; executing an existing plan usually
	// does not, so only gate on Ollama when decomposition is pending.
	if len(tctx.Steps) == 0 {
		if err := ensureOllama(ctx, cfg); err != nil {
			return err
		}
	}

	if args.Preview {
		if err := planInline(ctx, eng, tctx); err != nil {
			return err
		}
		fmt.Println(rend.Plan(tctx))
		fmt.Println(DimStyle.Render("Plan saved. Run it with: stepflow run --session " + shortID(tctx.ID)))
		return nil
	}

	if args.Interactive {
		if err := RequiresTTY("use the interactive run view"); err != nil {
			return err
		}
		// The run view plans, confirms, and steps on its own; it
		// also renders the final summary before exiting.
		return runner.Run(ctx, eng, tctx, theme, rend, runner.Options{SkipConfirm: args.Yes || resuming})
	}

	return runInline(ctx, eng, tctx, rend, args.Yes, resuming)
}

// planInline decomposes the task when it has no plan yet.
func planInline(ctx context.Context, eng *engine.Engine, tctx *task.Context) error {
	if len(tctx.Steps) > 0 {
		return nil
	}
	fmt.Println(DimStyle.Render("Planning steps..."))
	if err := eng.DecomposeTask(ctx, tctx); err != nil {
		return fmt.Errorf("plan task: %w", err)
	}
	return nil
}

// runInline executes the task in plain line-oriented mode: plan,
// confirm, progress lines, summary.
func runInline(ctx context.Context, eng *engine.Engine, tctx *task.Context, rend *render.Renderer, yes, resuming bool) error {
	if err := planInline(ctx, eng, tctx); err != nil {
		return err
	}

	if resuming {
		fmt.Printf("Resuming session %s: %s\n", shortID(tctx.ID), tctx.Prompt)
	} else {
		fmt.Println(rend.Plan(tctx))

		if !yes {
			if !CanPrompt() {
				return &ValidationError{
					Field:   "confirmation",
					Reason:  "stdin is not a terminal; pass --yes to run without confirming",
					Example: "stepflow run --yes \"" + tctx.Prompt + "\"",
				}
			}
			ok, err := promptYesNo("Run this plan?")
			if err != nil {
				return err
			}
			if !ok {
				eng.CancelTask(tctx)
				fmt.Println("Cancelled.")
				return nil
			}
		}
	}

	eng.SetProgressFunc(func(done, total int, status string) {
		fmt.Printf("  [%d/%d] %s\n", done, total, status)
	})
	defer eng.SetProgressFunc(nil)

	var runErr error
	if resuming {
		runErr = eng.ResumeTask(ctx, tctx)
	} else {
		runErr = eng.ExecuteTask(ctx, tctx)
	}

	fmt.Println()
	fmt.Println(rend.Summary(tctx))

	if runErr != nil {
		// An interrupt lands here after the engine has recorded the
		// cancellation; the summary above already says so.
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	}

	if tctx.Status == task.StatusFailed {
		if reason := tctx.Metadata[task.MetaError]; reason != "" {
			return errors.New(reason)
		}
		return errors.New("task failed")
	}
	return nil
}

// =============================================================================
// PROMPT INPUT
// =============================================================================

// promptForTask reads the task prompt interactively with history and
// line editing.
func promptForTask() (string, error) {
	if !CanPrompt() {
		return "", &ValidationError{
			Field:   "prompt",
			Reason:  "no task given and stdin is not a terminal",
			Example: "stepflow run \"update all system packages\"",
		}
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := promptHistoryPath()
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("Describe the task to run (arrow keys navigate history):")
	input, err := line.Prompt("task> ")
	if err != nil {
		if err == liner.ErrPromptAborted {
			return "", errors.New("cancelled")
		}
		return "", fmt.Errorf("read prompt: %w", err)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return "", &ValidationError{Field: "prompt", Reason: "task cannot be empty"}
	}

	line.AppendHistory(input)
	saveHistory(line, historyFile)
	return input, nil
}

// promptHistoryPath returns the prompt history file, falling back to
// the temp directory when the config directory is unavailable.
func promptHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "prompt_history")
}

// saveHistory persists prompt history with owner-only permissions.
func saveHistory(line *liner.State, path string) {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

// =============================================================================
// WIRING HELPERS (shared by run, sessions, status)
// =============================================================================

// openStore opens the file-backed session store at the configured
// directory.
func openStore(cfg *config.Config) (*session.FileStore, error) {
	if cfg.Sessions.Dir != "" {
		return session.NewFileStoreWithDir(cfg.Sessions.Dir)
	}
	return session.NewFileStore()
}

// buildOllamaClient maps the stepflow config onto an Ollama client.
func buildOllamaClient(cfg *config.Config) *ollama.Client {
	cc := ollama.DefaultConfig()
	if cfg.Ollama.Host != "" {
		cc.BaseURL = cfg.Ollama.Host
	}
	if cfg.Ollama.Model != "" {
		cc.DefaultModel = cfg.Ollama.Model
	}
	if cfg.Ollama.TimeoutSecs > 0 {
		cc.Timeout = time.Duration(cfg.Ollama.TimeoutSecs) * time.Second
	}
	cc.RequestsPerSecond = cfg.Ollama.RequestsPerSecond
	return ollama.NewClientWithConfig(cc)
}

// ensureOllama verifies the Ollama server is reachable, starting it
// first when auto-start is configured.
func ensureOllama(ctx context.Context, cfg *config.Config) error {
	client := buildOllamaClient(cfg)

	var err error
	if cfg.Ollama.AutoStart {
		err = client.EnsureRunning(ctx)
	} else {
		err = client.CheckRunning(ctx)
	}
	if err != nil {
		return fmt.Errorf("ollama is not reachable at %s (start it with 'ollama serve' or set ollama.auto_start): %w",
			cfg.Ollama.Host, err)
	}
	return nil
}

// buildEngine wires the execution engine: shell runner, model
// provider, and audit sink. The caller owns closing the sink.
func buildEngine(cfg *config.Config, store session.Store, dryRun bool) (*engine.Engine, *audit.Sink, error) {
	sh := shell.NewRunner(time.Duration(cfg.Execution.StepTimeoutSecs) * time.Second)
	sh.WorkDir = cfg.Execution.WorkDir
	if cfg.Execution.MaxOutputBytes > 0 {
		sh.MaxOutputSize = cfg.Execution.MaxOutputBytes
	}

	client := buildOllamaClient(cfg)
	prov := ollama.NewProvider(client, cfg.Ollama.Model, cfg.Ollama.Temperature, cfg.Ollama.MaxTokens)

	sink, err := audit.OpenSink(audit.SinkOptions{
		Enabled:      cfg.Audit.Enabled,
		LogPath:      cfg.Audit.LogPath,
		DBPath:       cfg.Audit.DBPath,
		KeyPath:      cfg.Audit.KeyPath,
		MaxSizeBytes: int64(cfg.Audit.MaxSizeMB) * 1024 * 1024,
		Redact:       cfg.Audit.Redact,
	})
	if err != nil {
		// Auditing must not block execution; run without it but say so.
		fmt.Fprintf(os.Stderr, "%s audit disabled: %v\n", WarningStyle.Render("Warning:"), err)
		sink = nil
	}

	eng := engine.New(store, prov, sh, sink, engine.Options{
		MaxRetries: cfg.Execution.MaxRetries,
		DryRun:     dryRun || cfg.Execution.DryRun,
		AutoSave:   cfg.Sessions.AutoSave,
	})
	return eng, sink, nil
}

// newRenderer builds the theme and renderer for CLI output, honoring
// the ui.color setting on top of terminal detection.
func newRenderer(cfg *config.Config) (*uistyles.Theme, *render.Renderer) {
	color := ColorsEnabled()
	switch cfg.UI.Color {
	case "always":
		color = true
	case "never":
		color = false
	}

	width := GetTerminalWidth()
	if width > render.DefaultWidth {
		width = render.DefaultWidth
	}

	theme := uistyles.NewTheme()
	return theme, render.New(theme, width, color)
}

// shortID returns the first eight characters of a session ID, enough
// to identify it in tables and hints.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
