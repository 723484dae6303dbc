// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session persists task contexts between runs.
//
// A session is one task context stored under its ID. The package ships
// two stores with identical semantics: FileStore (one JSON document per
// session, atomic writes) and MemoryStore (tests, ephemeral runs).
// There is deliberately no file locking; concurrent writers are
// last-write-wins, matching the single-user CLI deployment model.
package session

import (
	"errors"
	"time"

	"github.com/jeranaias/stepflow/internal/task"
)

// ErrNotFound is returned when a session does not exist. Corrupted
// session records also resolve to ErrNotFound (with a diagnostic
// wrapped around it) so callers never have to handle partial data.
var ErrNotFound = errors.New("session not found")

// Summary is the listing view of a stored session.
type Summary struct {
	ID             string    `json:"id"`
	Prompt         string    `json:"prompt"`
	Status         task.Status `json:"status"`
	StepCount      int       `json:"step_count"`
	CompletedSteps int       `json:"completed_steps"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store is the persistence contract for task contexts.
//
// Save is an idempotent full overwrite. Load returns ErrNotFound for
// missing and for malformed records. List is most-recent-first and
// skips unreadable entries. Delete reports whether anything was
// removed. CleanupOldSessions removes sessions unmodified for longer
// than maxAge, best-effort, and returns how many went away.
type Store interface {
	Create(prompt string) (*task.Context, error)
	Save(tctx *task.Context) error
	Load(id string) (*task.Context, error)
	List() ([]Summary, error)
	Delete(id string) (bool, error)
	CleanupOldSessions(maxAge time.Duration) (int, error)
}

// summarize builds the listing view for one context.
func summarize(tctx *task.Context) Summary {
	return Summary{
		ID:             tctx.ID,
		Prompt:         tctx.Prompt,
		Status:         tctx.Status,
		StepCount:      len(tctx.Steps),
		CompletedSteps: tctx.CountStepStatus(task.StepCompleted),
		CreatedAt:      tctx.CreatedAt,
		UpdatedAt:      tctx.UpdatedAt,
	}
}
