// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/stepflow/internal/task"
	"github.com/jeranaias/stepflow/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore persists each session as one JSON document under BaseDir.
// Writes are atomic (temp file + fsync + rename) so a crash mid-save
// never leaves a torn session on disk.
type FileStore struct {
	// BaseDir is the sessions directory, default ~/.stepflow/sessions.
	BaseDir string
}

// NewFileStore creates a file store rooted at the default sessions
// directory under the user's home.
func NewFileStore() (*FileStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewFileStoreWithDir(filepath.Join(homeDir, ".stepflow", "sessions"))
}

// NewFileStoreWithDir creates a file store rooted at a custom directory.
func NewFileStoreWithDir(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Create makes a new pending context for the prompt and persists it.
func (s *FileStore) Create(prompt string) (*task.Context, error) {
	tctx := task.NewContext(prompt)
	if err := s.Save(tctx); err != nil {
		return nil, err
	}
	return tctx, nil
}

// Save writes the full context to disk, overwriting any previous
// record for the same ID. The updated timestamp is refreshed here so
// every persisted mutation bumps it.
func (s *FileStore) Save(tctx *task.Context) error {
	if tctx.ID == "" {
		return fmt.Errorf("cannot save session without an ID")
	}
	if err := validateID(tctx.ID); err != nil {
		return err
	}

	tctx.Touch()
	if tctx.CreatedAt.IsZero() {
		tctx.CreatedAt = tctx.UpdatedAt
	}

	data, err := json.MarshalIndent(tctx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", tctx.ID, err)
	}

	if err := util.AtomicWriteFile(s.filePath(tctx.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write session %s: %w", tctx.ID, err)
	}
	return nil
}

// Load reads a session by ID. Missing and malformed records both
// resolve to ErrNotFound; the malformed case keeps the parse error in
// the message as a diagnostic.
func (s *FileStore) Load(id string) (*task.Context, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}

	var tctx task.Context
	if err := json.Unmarshal(data, &tctx); err != nil {
		return nil, fmt.Errorf("session %s is corrupted (%v): %w", id, err, ErrNotFound)
	}
	if tctx.Metadata == nil {
		tctx.Metadata = make(map[string]string)
	}
	tctx.ClampCursor()
	return &tctx, nil
}

// List returns summaries of all stored sessions, most recently updated
// first. Corrupted files are skipped, not fatal.
func (s *FileStore) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, err
	}

	var summaries []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		tctx, err := s.Load(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, summarize(tctx))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}

// Delete removes a session file. The bool reports whether a session
// actually existed.
func (s *FileStore) Delete(id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CleanupOldSessions removes session files whose modification time is
// older than maxAge. Individual failures are skipped so one bad file
// cannot stall the sweep. Returns the number of sessions removed.
func (s *FileStore) CleanupOldSessions(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.BaseDir, entry.Name())); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// filePath maps a session ID to its JSON file.
func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// validateID rejects IDs that could escape the sessions directory.
// Session IDs are UUIDs; anything with a path separator is hostile.
func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid session id %q: %w", id, ErrNotFound)
	}
	return nil
}
