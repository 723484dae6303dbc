// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestHistory_RecordAndRecent(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	commands := []string{"git clone repo", "make build", "make test"}
	for i, cmd := range commands {
		err := h.Record(ctx, HistoryEntry{
			TaskID:  "task-1",
			StepID:  string(rune('a' + i)),
			Command: cmd,
			Outcome: "completed",
		})
		if err != nil {
			t.Fatalf("Record(%q) error = %v", cmd, err)
		}
	}

	recent, err := h.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(recent))
	}
	if recent[0].Command != "make test" {
		t.Errorf("newest entry = %q, want 'make test'", recent[0].Command)
	}
	if recent[1].Command != "make build" {
		t.Errorf("second entry = %q, want 'make build'", recent[1].Command)
	}
	if recent[0].CreatedAt.IsZero() {
		t.Error("CreatedAt was not stamped")
	}
}

func TestHistory_ForTask(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	for _, taskID := range []string{"task-a", "task-b", "task-a"} {
		err := h.Record(ctx, HistoryEntry{TaskID: taskID, Command: "true", Outcome: "completed"})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := h.ForTask(ctx, "task-a")
	if err != nil {
		t.Fatalf("ForTask() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ForTask() returned %d entries, want 2", len(entries))
	}
	if entries[0].ID >= entries[1].ID {
		t.Error("ForTask() entries are not oldest first")
	}
	for _, e := range entries {
		if e.TaskID != "task-a" {
			t.Errorf("entry task = %q, want task-a", e.TaskID)
		}
	}
}

func TestHistory_Count(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	count, err := h.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("empty count = %d", count)
	}

	if err := h.Record(ctx, HistoryEntry{TaskID: "t", Command: "ls", Outcome: "failed"}); err != nil {
		t.Fatal(err)
	}

	count, err = h.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestHistory_RecentDefaultLimit(t *testing.T) {
	h := newTestHistory(t)

	if _, err := h.Recent(context.Background(), 0); err != nil {
		t.Errorf("Recent(0) error = %v", err)
	}
}

func TestOpenHistory_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")

	h, err := OpenHistory(path)
	if err != nil {
		t.Fatalf("OpenHistory() error = %v", err)
	}
	defer h.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}

// =============================================================================
// SINK TESTS
// =============================================================================

func TestSink_NilIsSafe(t *testing.T) {
	var s *Sink
	s.StepExecuted(context.Background(), "t", "s", "ls", "completed", "")
	s.TaskEvent("t", EventTaskCreated, "")
	if err := s.Close(); err != nil {
		t.Errorf("nil sink Close() error = %v", err)
	}
}

func TestOpenSink_Disabled(t *testing.T) {
	s, err := OpenSink(SinkOptions{Enabled: false})
	if err != nil {
		t.Fatalf("OpenSink() error = %v", err)
	}
	if s != nil {
		t.Error("disabled sink should be nil")
	}
}

func TestOpenSink_RecordsToBothOutputs(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSink(SinkOptions{
		Enabled: true,
		LogPath: filepath.Join(dir, "audit.jsonl"),
		DBPath:  filepath.Join(dir, "history.db"),
		KeyPath: filepath.Join(dir, "audit.key"),
		Redact:  true,
	})
	if err != nil {
		t.Fatalf("OpenSink() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	s.StepExecuted(ctx, "task-1", "step-1", "echo done", "completed", "done")
	s.TaskEvent("task-1", EventTaskCompleted, "")

	lines := readLines(t, filepath.Join(dir, "audit.jsonl"))
	if len(lines) != 2 {
		t.Errorf("audit log lines = %d, want 2", len(lines))
	}

	entries, err := s.history.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	if entries[0].Command != "echo done" {
		t.Errorf("history command = %q", entries[0].Command)
	}
}
