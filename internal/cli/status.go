// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Status command implementation for stepflow.
//
// Command: status
// Aliases: s
//
// Examples:
//   stepflow status               Show system status
//   stepflow s                    Show status (short alias)
//
// Status Sections:
//   System:    Ollama reachability and version, configured model
//   Execution: Working directory, step timeout, retries, dry run
//   Sessions:  Saved and unfinished session counts, storage directory
//   Audit:     Logging state, recorded entry count, log location

package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jeranaias/stepflow/internal/audit"
	"github.com/jeranaias/stepflow/internal/config"
	"github.com/jeranaias/stepflow/internal/task"
)

// statusCheckTimeout bounds each network or database probe so a dead
// Ollama or a locked database cannot hang the command.
const statusCheckTimeout = 3 * time.Second

// =============================================================================
// HANDLE STATUS
// =============================================================================

// HandleStatus handles the "status" command.
func HandleStatus(args Args) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s (using defaults)\n", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("stepflow Status"))
	fmt.Println(RenderSeparator(41))
	fmt.Println()

	fmt.Println(SectionStyle.Render("System"))
	fmt.Println(formatOllamaStatus(cfg))
	fmt.Println(formatModelStatus(cfg))
	fmt.Println()

	fmt.Println(SectionStyle.Render("Execution"))
	fmt.Println(formatExecutionStatus(cfg))
	fmt.Println()

	fmt.Println(SectionStyle.Render("Sessions"))
	fmt.Println(formatSessionStatus(cfg))
	fmt.Println()

	fmt.Println(SectionStyle.Render("Audit"))
	fmt.Println(formatAuditStatus(cfg))
	fmt.Println()

	return nil
}

// =============================================================================
// SECTION FORMATTERS
// =============================================================================

// formatOllamaStatus reports whether the configured Ollama host answers.
func formatOllamaStatus(cfg *config.Config) string {
	client := buildOllamaClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), statusCheckTimeout)
	defer cancel()

	var lines []string
	if err := client.CheckRunning(ctx); err != nil {
		lines = append(lines, fmt.Sprintf("  %s%s",
			RenderLabel("Ollama:", 14),
			ErrorStyle.Render("Not running")))
		lines = append(lines, "  "+DimStyle.Render(
			fmt.Sprintf("start it with 'ollama serve' (host: %s)", cfg.Ollama.Host)))
		return strings.Join(lines, "\n")
	}

	status := "Running"
	if v := getOllamaVersion(); v != "" {
		status = fmt.Sprintf("Running (v%s)", v)
	}
	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Ollama:", 14),
		SuccessStyle.Render(status)))
	return strings.Join(lines, "\n")
}

// formatModelStatus reports whether the configured model is downloaded.
func formatModelStatus(cfg *config.Config) string {
	client := buildOllamaClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), statusCheckTimeout)
	defer cancel()

	model := cfg.Ollama.Model

	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Sprintf("  %s%s",
			RenderLabel("Model:", 14),
			ValueStyle.Render(model))
	}

	available := false
	for _, m := range models {
		if m.Name == model || strings.HasPrefix(m.Name, model+":") {
			available = true
			break
		}
	}

	if !available {
		var lines []string
		lines = append(lines, fmt.Sprintf("  %s%s",
			RenderLabel("Model:", 14),
			WarningStyle.Render(fmt.Sprintf("%s (not downloaded)", model))))
		lines = append(lines, "  "+DimStyle.Render(fmt.Sprintf("fetch it with 'ollama pull %s'", model)))
		return strings.Join(lines, "\n")
	}

	return fmt.Sprintf("  %s%s",
		RenderLabel("Model:", 14),
		ValueStyle.Render(fmt.Sprintf("%s (available)", model)))
}

// formatExecutionStatus reports the executor settings.
func formatExecutionStatus(cfg *config.Config) string {
	var lines []string

	workDir := cfg.Execution.WorkDir
	if workDir == "" {
		workDir = "(current directory)"
	}
	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Work Dir:", 14),
		ValueStyle.Render(workDir)))

	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Step Timeout:", 14),
		ValueStyle.Render(fmt.Sprintf("%ds", cfg.Execution.StepTimeoutSecs))))

	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Max Retries:", 14),
		ValueStyle.Render(fmt.Sprintf("%d", cfg.Execution.MaxRetries))))

	dryRun := "No"
	if cfg.Execution.DryRun {
		dryRun = WarningStyle.Render("Yes")
	}
	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Dry Run:", 14),
		ValueStyle.Render(dryRun)))

	return strings.Join(lines, "\n")
}

// formatSessionStatus reports saved session counts and storage location.
func formatSessionStatus(cfg *config.Config) string {
	var lines []string

	store, err := openStore(cfg)
	if err != nil {
		lines = append(lines, fmt.Sprintf("  %s%s",
			RenderLabel("Saved:", 14),
			DimStyle.Render("unavailable")))
		return strings.Join(lines, "\n")
	}

	summaries, err := store.List()
	if err != nil {
		lines = append(lines, fmt.Sprintf("  %s%s",
			RenderLabel("Saved:", 14),
			DimStyle.Render("unavailable")))
		return strings.Join(lines, "\n")
	}

	unfinished := 0
	for _, s := range summaries {
		if s.Status == task.StatusInProgress || s.Status == task.StatusPending {
			unfinished++
		}
	}

	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Saved:", 14),
		ValueStyle.Render(fmt.Sprintf("%d", len(summaries)))))

	unfinishedStr := fmt.Sprintf("%d", unfinished)
	if unfinished > 0 {
		unfinishedStr = WarningStyle.Render(fmt.Sprintf("%d (resume with 'stepflow sessions resume <id>')", unfinished))
	}
	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Unfinished:", 14),
		ValueStyle.Render(unfinishedStr)))

	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Retention:", 14),
		ValueStyle.Render(fmt.Sprintf("%d days", cfg.Sessions.RetentionDays))))

	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Dir:", 14),
		DimStyle.Render(store.BaseDir)))

	return strings.Join(lines, "\n")
}

// formatAuditStatus reports audit logging state and entry count.
func formatAuditStatus(cfg *config.Config) string {
	var lines []string

	if !cfg.Audit.Enabled {
		lines = append(lines, fmt.Sprintf("  %s%s",
			RenderLabel("Enabled:", 14),
			DimStyle.Render("No")))
		return strings.Join(lines, "\n")
	}

	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Enabled:", 14),
		SuccessStyle.Render("Yes")))

	hist, err := audit.OpenHistory(cfg.Audit.DBPath)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), statusCheckTimeout)
		if count, countErr := hist.Count(ctx); countErr == nil {
			lines = append(lines, fmt.Sprintf("  %s%s",
				RenderLabel("Entries:", 14),
				ValueStyle.Render(fmt.Sprintf("%d", count))))
		}
		cancel()
		hist.Close()
	}

	lines = append(lines, fmt.Sprintf("  %s%s",
		RenderLabel("Log:", 14),
		DimStyle.Render(cfg.Audit.LogPath)))

	return strings.Join(lines, "\n")
}

// getOllamaVersion attempts to get the Ollama version from the CLI.
func getOllamaVersion() string {
	out, err := exec.Command("ollama", "--version").Output()
	if err != nil {
		return ""
	}

	// Output is typically "ollama version is 0.5.4".
	parts := strings.Fields(string(out))
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-1])
}
