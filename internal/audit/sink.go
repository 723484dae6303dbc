// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records executed commands with tamper-evident logging.
package audit

import (
	"context"
	"log"
)

// =============================================================================
// SINK OPTIONS
// =============================================================================

// SinkOptions configures the audit sink. Zero-value paths disable the
// corresponding output.
type SinkOptions struct {
	// Enabled gates the whole sink; a disabled sink records nothing.
	Enabled bool
	// LogPath is the JSONL audit log file.
	LogPath string
	// DBPath is the SQLite command history database.
	DBPath string
	// KeyPath is the HMAC master key file for log signing.
	KeyPath string
	// MaxSizeBytes rotates the JSONL log past this size (0 = default).
	MaxSizeBytes int64
	// Redact strips secrets from commands and detail text.
	Redact bool
}

// =============================================================================
// SINK
// =============================================================================

// Sink fans audit events out to the JSONL log and the history database.
// Every method is best-effort: failures are logged to stderr and
// swallowed, so auditing never changes an execution outcome. A nil
// *Sink is valid and records nothing.
type Sink struct {
	logger  *Logger
	history *History
}

// NewSink wraps an existing logger and history store. Either may be nil.
func NewSink(logger *Logger, history *History) *Sink {
	return &Sink{logger: logger, history: history}
}

// OpenSink builds a sink from options: loads the signing key, opens the
// JSONL log, and opens the history database. A disabled sink is nil.
func OpenSink(opts SinkOptions) (*Sink, error) {
	if !opts.Enabled {
		return nil, nil
	}

	key, err := LoadSigningKey(opts.KeyPath)
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(opts.LogPath, key)
	if err != nil {
		return nil, err
	}
	if opts.MaxSizeBytes > 0 {
		logger.SetMaxSize(opts.MaxSizeBytes)
	}
	logger.SetRedactEnabled(opts.Redact)

	history, err := OpenHistory(opts.DBPath)
	if err != nil {
		logger.Close()
		return nil, err
	}

	return &Sink{logger: logger, history: history}, nil
}

// =============================================================================
// RECORDING
// =============================================================================

// StepExecuted records a step's terminal outcome in both outputs.
func (s *Sink) StepExecuted(ctx context.Context, taskID, stepID, command, outcome, detail string) {
	if s == nil {
		return
	}
	if s.logger != nil {
		if err := s.logger.LogStep(taskID, stepID, command, outcome, detail); err != nil {
			log.Printf("audit: step log failed: %v", err)
		}
	}
	if s.history != nil {
		err := s.history.Record(ctx, HistoryEntry{
			TaskID:  taskID,
			StepID:  stepID,
			Command: command,
			Outcome: outcome,
			Detail:  detail,
		})
		if err != nil {
			log.Printf("audit: history record failed: %v", err)
		}
	}
}

// TaskEvent records a task lifecycle event in the JSONL log.
func (s *Sink) TaskEvent(taskID, eventType, detail string) {
	if s == nil || s.logger == nil {
		return
	}
	if err := s.logger.LogTask(taskID, eventType, detail); err != nil {
		log.Printf("audit: task event log failed: %v", err)
	}
}

// Close releases both outputs. Safe on a nil sink.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.logger != nil {
		if err := s.logger.Close(); err != nil {
			firstErr = err
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
