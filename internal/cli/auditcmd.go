// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auditcmd.go - Audit trail commands for stepflow.
//
// Command: audit
//
// Examples:
//   stepflow audit                  Show recent executed commands
//   stepflow audit show --limit 20  Show the last 20 entries
//   stepflow audit verify           Check the audit log hash chain

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/stepflow/internal/audit"
	"github.com/jeranaias/stepflow/internal/config"
)

// =============================================================================
// HANDLE AUDIT
// =============================================================================

// HandleAudit handles the "audit" command.
func HandleAudit(args Args) error {
	parser := NewArgParser(args.Raw)

	sub := parser.Subcommand()
	if sub == "" {
		sub = "show"
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch sub {
	case "show":
		limit := parser.FlagIntOrDefault("limit", 50)
		if limit <= 0 {
			return &ValidationError{
				Field:  "limit",
				Value:  parser.Flag("limit"),
				Reason: "must be a positive number",
			}
		}
		return auditShow(cfg, limit)

	case "verify":
		return auditVerify(cfg)

	default:
		return &ValidationError{
			Field:   "subcommand",
			Value:   sub,
			Reason:  "unknown audit subcommand",
			Example: "stepflow audit [show|verify]",
		}
	}
}

// =============================================================================
// SUBCOMMANDS
// =============================================================================

// auditShow prints recent command history from the audit database.
func auditShow(cfg *config.Config, limit int) error {
	if !cfg.Audit.Enabled {
		fmt.Println("Audit logging is disabled.")
		fmt.Println(DimStyle.Render("Enable it with: stepflow config set audit.enabled true"))
		return nil
	}

	hist, err := audit.OpenHistory(cfg.Audit.DBPath)
	if err != nil {
		return fmt.Errorf("open audit history: %w", err)
	}
	defer hist.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, err := hist.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("read audit history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No recorded commands.")
		return nil
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Command History"))
	fmt.Println(RenderSeparator(90))
	fmt.Printf("%-17s %-10s %-11s %s\n", "TIME", "TASK", "OUTCOME", "COMMAND")

	for _, e := range entries {
		fmt.Printf("%-17s %-10s %s %s\n",
			e.CreatedAt.Format("2006-01-02 15:04"),
			shortID(e.TaskID),
			outcomeCell(e.Outcome, 11),
			runewidth.Truncate(e.Command, 48, "..."))
	}

	total, err := hist.Count(ctx)
	if err != nil {
		return nil
	}
	fmt.Println()
	fmt.Println(DimStyle.Render(fmt.Sprintf("Showing %d of %d entries.", len(entries), total)))
	return nil
}

// auditVerify recomputes the audit log hash chain against the signing
// key and reports whether it is intact.
func auditVerify(cfg *config.Config) error {
	key, err := audit.LoadSigningKey(cfg.Audit.KeyPath)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	n, err := audit.Verify(cfg.Audit.LogPath, key)
	if err != nil {
		return fmt.Errorf("verify audit log: %w", err)
	}

	fmt.Println(SuccessStyle.Render(fmt.Sprintf("OK: %d entries verified, hash chain intact.", n)))
	return nil
}

// outcomeCell pads the outcome to a fixed width before styling so ANSI
// escape codes do not break column alignment.
func outcomeCell(outcome string, width int) string {
	cell := runewidth.FillRight(outcome, width)
	switch outcome {
	case "completed":
		return SuccessStyle.Render(cell)
	case "failed":
		return ErrorStyle.Render(cell)
	case "skipped":
		return DimStyle.Render(cell)
	default:
		return ValueStyle.Render(cell)
	}
}
