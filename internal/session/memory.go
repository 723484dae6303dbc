// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/stepflow/internal/task"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps sessions in a mutex-guarded map. It deep-copies on
// every boundary so callers can never mutate stored state through
// aliased slices or maps. Used by tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*task.Context
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*task.Context)}
}

// Create makes a new pending context for the prompt and stores it.
func (s *MemoryStore) Create(prompt string) (*task.Context, error) {
	tctx := task.NewContext(prompt)
	if err := s.Save(tctx); err != nil {
		return nil, err
	}
	return tctx, nil
}

// Save stores a deep copy of the context, overwriting any previous
// record for the same ID.
func (s *MemoryStore) Save(tctx *task.Context) error {
	if tctx.ID == "" {
		return fmt.Errorf("cannot save session without an ID")
	}

	tctx.Touch()
	if tctx.CreatedAt.IsZero() {
		tctx.CreatedAt = tctx.UpdatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tctx.ID] = tctx.Clone()
	return nil
}

// Load returns a deep copy of the stored context, or ErrNotFound.
func (s *MemoryStore) Load(id string) (*task.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tctx, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return tctx.Clone(), nil
}

// List returns summaries most recently updated first.
func (s *MemoryStore) List() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]Summary, 0, len(s.sessions))
	for _, tctx := range s.sessions {
		summaries = append(summaries, summarize(tctx))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

// Delete removes a session, reporting whether it existed.
func (s *MemoryStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

// CleanupOldSessions removes sessions not updated for longer than
// maxAge. The update timestamp stands in for file modification time.
func (s *MemoryStore) CleanupOldSessions(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, tctx := range s.sessions {
		if tctx.UpdatedAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	return removed, nil
}
