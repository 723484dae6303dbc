// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - Session management commands for stepflow.
//
// Command: sessions
// Aliases: session
//
// Examples:
//   stepflow sessions                      List saved sessions
//   stepflow sessions show 4f2a9c1e        Show a session transcript
//   stepflow sessions resume 4f2a9c1e      Continue an unfinished run
//   stepflow sessions delete 4f2a9c1e      Delete (prompts unless --confirm)
//   stepflow sessions cleanup --days 14    Drop sessions older than 14 days
//   stepflow sessions watch                Live view of the session directory
//
// Session IDs may be abbreviated to any unambiguous prefix; the list
// view shows the first eight characters.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/stepflow/internal/config"
	"github.com/jeranaias/stepflow/internal/session"
	"github.com/jeranaias/stepflow/internal/task"
)

// =============================================================================
// HANDLE SESSIONS
// =============================================================================

// HandleSessions handles the "sessions" command.
func HandleSessions(args Args) error {
	parser := NewArgParser(args.Raw)

	sub := parser.Subcommand()
	if sub == "" {
		sub = "list"
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	switch sub {
	case "list", "ls":
		return sessionsList(store)

	case "show":
		id := parser.Positional(1)
		if id == "" {
			return ErrMissingArgument("session id", "stepflow sessions show <id>")
		}
		return sessionsShow(cfg, store, id)

	case "resume":
		id := parser.Positional(1)
		if id == "" {
			return ErrMissingArgument("session id", "stepflow sessions resume <id>")
		}
		return sessionsResume(cfg, store, id)

	case "delete", "rm":
		id := parser.Positional(1)
		if id == "" {
			return ErrMissingArgument("session id", "stepflow sessions delete <id>")
		}
		return sessionsDelete(store, id, parser.BoolFlag("confirm"))

	case "cleanup":
		days := parser.FlagIntOrDefault("days", cfg.Sessions.RetentionDays)
		return sessionsCleanup(store, days)

	case "watch":
		return sessionsWatch(store)

	default:
		return &ValidationError{
			Field:   "subcommand",
			Value:   sub,
			Reason:  "unknown sessions subcommand",
			Example: "stepflow sessions [list|show|resume|delete|cleanup|watch]",
		}
	}
}

// =============================================================================
// SUBCOMMANDS
// =============================================================================

// sessionsList prints the session table, most recently updated first.
func sessionsList(store *session.FileStore) error {
	summaries, err := store.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	printSessionTable(summaries)
	if len(summaries) > 0 {
		fmt.Println()
		fmt.Println(DimStyle.Render("Use 'stepflow sessions show <id>' for a transcript, 'resume <id>' to continue."))
	}
	return nil
}

// sessionsShow renders the full transcript of one session.
func sessionsShow(cfg *config.Config, store *session.FileStore, id string) error {
	tctx, err := loadSession(store, id)
	if err != nil {
		return err
	}

	_, rend := newRenderer(cfg)
	fmt.Println(rend.Transcript(tctx))
	return nil
}

// sessionsResume continues an unfinished session in plain mode.
func sessionsResume(cfg *config.Config, store *session.FileStore, id string) error {
	tctx, err := loadSession(store, id)
	if err != nil {
		return err
	}
	if tctx.Status.IsTerminal() {
		return fmt.Errorf("session %s is already %s; start a new run", shortID(tctx.ID), tctx.Status)
	}

	eng, sink, err := buildEngine(cfg, store, cfg.Execution.DryRun)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, rend := newRenderer(cfg)
	return runInline(ctx, eng, tctx, rend, true, true)
}

// sessionsDelete removes one session after confirmation.
func sessionsDelete(store *session.FileStore, id string, confirmFlag bool) error {
	tctx, err := loadSession(store, id)
	if err != nil {
		return err
	}

	action := fmt.Sprintf("delete session %s (%q)",
		shortID(tctx.ID), runewidth.Truncate(tctx.Prompt, 40, "..."))
	ok, err := RequireConfirmation(confirmFlag, action)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Cancelled.")
		return nil
	}

	if _, err := store.Delete(tctx.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	fmt.Printf("Deleted session %s.\n", shortID(tctx.ID))
	return nil
}

// sessionsCleanup removes sessions whose last update is older than the
// cutoff.
func sessionsCleanup(store *session.FileStore, days int) error {
	if days <= 0 {
		return &ValidationError{
			Field:  "days",
			Value:  strconv.Itoa(days),
			Reason: "must be a positive number of days",
		}
	}

	n, err := store.CleanupOldSessions(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}

	if n == 0 {
		fmt.Printf("No sessions older than %d days.\n", days)
	} else {
		fmt.Printf("Removed %d session(s) older than %d days.\n", n, days)
	}
	return nil
}

// sessionsWatch reprints the session table whenever the directory
// changes, until interrupted.
func sessionsWatch(store *session.FileStore) error {
	redraw := func() {
		summaries, err := store.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list sessions: %v\n", err)
			return
		}
		fmt.Println()
		printSessionTable(summaries)
	}

	w, err := session.NewWatcher(store.BaseDir, 500*time.Millisecond, redraw)
	if err != nil {
		return fmt.Errorf("watch sessions: %w", err)
	}
	defer w.Close()

	if err := w.Watch(); err != nil {
		return fmt.Errorf("watch sessions: %w", err)
	}

	fmt.Printf("Watching %s (ctrl-c to stop)\n", store.BaseDir)
	redraw()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println()
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// loadSession loads a session by ID, accepting any unambiguous prefix
// of the full ID.
func loadSession(store *session.FileStore, id string) (*task.Context, error) {
	tctx, err := store.Load(id)
	if err == nil {
		return tctx, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	summaries, listErr := store.List()
	if listErr != nil {
		return nil, &NotFoundError{Resource: "session", ID: id}
	}

	var match string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, id) {
			if match != "" {
				return nil, &ValidationError{
					Field:  "session id",
					Value:  id,
					Reason: "prefix matches more than one session",
				}
			}
			match = s.ID
		}
	}
	if match == "" {
		return nil, &NotFoundError{Resource: "session", ID: id}
	}

	tctx, err = store.Load(match)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return tctx, nil
}

// printSessionTable renders session summaries as a fixed-width table.
func printSessionTable(summaries []session.Summary) {
	if len(summaries) == 0 {
		fmt.Println("No saved sessions.")
		fmt.Println(DimStyle.Render(`Run 'stepflow "some task"' to create one.`))
		return
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Saved Sessions"))
	fmt.Println(RenderSeparator(76))
	fmt.Printf("%-10s %-32s %-12s %-7s %s\n", "ID", "PROMPT", "STATUS", "STEPS", "UPDATED")

	for _, s := range summaries {
		prompt := runewidth.FillRight(runewidth.Truncate(s.Prompt, 32, "..."), 32)
		steps := fmt.Sprintf("%d/%d", s.CompletedSteps, s.StepCount)
		fmt.Printf("%-10s %s %s %-7s %s\n",
			shortID(s.ID),
			prompt,
			statusCell(s.Status, 12),
			steps,
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

// statusCell pads the status to a fixed width before styling so ANSI
// escape codes do not break column alignment.
func statusCell(status task.Status, width int) string {
	cell := runewidth.FillRight(string(status), width)
	switch status {
	case task.StatusCompleted:
		return SuccessStyle.Render(cell)
	case task.StatusFailed:
		return ErrorStyle.Render(cell)
	case task.StatusInProgress:
		return WarningStyle.Render(cell)
	case task.StatusCancelled:
		return DimStyle.Render(cell)
	default:
		return ValueStyle.Render(cell)
	}
}
