// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records executed commands with tamper-evident logging.
package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/stepflow/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// MaxFieldLength caps the command and detail fields of a logged event.
const MaxFieldLength = 2000

// DefaultMaxFileSize is the default log size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Event types written by the engine.
const (
	EventTaskCreated   = "task_created"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskCancelled = "task_cancelled"
	EventTaskPaused    = "task_paused"
	EventTaskResumed   = "task_resumed"
	EventStepExecuted  = "step_executed"
	EventStepRetried   = "step_retried"
	EventStepSkipped   = "step_skipped"
)

// =============================================================================
// AUDIT EVENT
// =============================================================================

// Event is one audit log line. Hash is an HMAC-SHA-256 over the event
// with Hash itself empty; PrevHash links to the preceding line so
// removed or reordered lines break verification.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	TaskID    string    `json:"task_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Command   string    `json:"command,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	PrevHash  string    `json:"prev_hash,omitempty"`
	Hash      string    `json:"hash,omitempty"`
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger appends signed JSONL audit events to a file. It is safe for
// concurrent use. Logging is best-effort for callers: a Logger error
// must never abort the operation being audited.
type Logger struct {
	path      string
	file      *os.File
	mu        sync.Mutex
	enabled   bool
	maxSize   int64
	redact    bool
	redactors []Redactor
	key       []byte
	lastHash  string
}

// NewLogger opens (or creates) the audit log at path, signing lines
// with key. The previous chain tip is recovered from the existing file
// so the chain continues across process runs.
func NewLogger(path string, key []byte) (*Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	lastHash, err := readChainTip(path)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Logger{
		path:      path,
		file:      file,
		enabled:   true,
		maxSize:   DefaultMaxFileSize,
		redact:    true,
		redactors: defaultRedactors(),
		key:       key,
		lastHash:  lastHash,
	}, nil
}

// readChainTip returns the Hash of the last line in an existing log.
func readChainTip(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open audit log for chain recovery: %w", err)
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to scan audit log: %w", err)
	}
	if lastLine == "" {
		return "", nil
	}

	var e Event
	if err := json.Unmarshal([]byte(lastLine), &e); err != nil {
		// A corrupt tail should not brick logging; the verify command
		// will surface it.
		return "", nil
	}
	return e.Hash, nil
}

// =============================================================================
// LOGGING
// =============================================================================

// Log signs and appends one event. The Timestamp is stamped if unset,
// Command and Detail are redacted and truncated, and the chain fields
// are filled by the logger.
func (l *Logger) Log(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.file == nil {
		return nil
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if l.redact {
		e.Command = l.redactLocked(e.Command)
		e.Detail = l.redactLocked(e.Detail)
	}
	e.Command = util.TruncateRunes(e.Command, MaxFieldLength)
	e.Detail = util.TruncateRunes(e.Detail, MaxFieldLength)

	if err := l.checkRotationLocked(); err != nil {
		return fmt.Errorf("audit rotation failed: %w", err)
	}

	e.PrevHash = l.lastHash
	e.Hash = ""
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	e.Hash = computeHMAC(payload, l.key)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := fmt.Fprintln(l.file, string(line)); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	l.lastHash = e.Hash
	return nil
}

// LogStep records a step's terminal outcome.
func (l *Logger) LogStep(taskID, stepID, command, outcome, detail string) error {
	return l.Log(Event{
		EventType: EventStepExecuted,
		TaskID:    taskID,
		StepID:    stepID,
		Command:   command,
		Outcome:   outcome,
		Detail:    detail,
	})
}

// LogTask records a task lifecycle event.
func (l *Logger) LogTask(taskID, eventType, detail string) error {
	return l.Log(Event{
		EventType: eventType,
		TaskID:    taskID,
		Detail:    detail,
	})
}

// =============================================================================
// REDACTION
// =============================================================================

// Redact applies all redactors to the input.
func (l *Logger) Redact(input string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redactLocked(input)
}

func (l *Logger) redactLocked(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range l.redactors {
		result = r.Redact(result)
	}
	return result
}

// AddRedactor adds a custom redactor.
func (l *Logger) AddRedactor(r Redactor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redactors = append(l.redactors, r)
}

// SetRedactEnabled toggles redaction of command and detail fields.
func (l *Logger) SetRedactEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redact = enabled
}

// =============================================================================
// ROTATION
// =============================================================================

// Rotate renames the current log with a timestamp suffix and starts a
// fresh file. The hash chain carries over into the new file.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

func (l *Logger) rotateLocked() error {
	if l.file == nil {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotatedPath := fmt.Sprintf("%s_%s%s", base, timestamp, ext)

	if err := os.Rename(l.path, rotatedPath); err != nil {
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create audit log after rotation: %w", err)
	}
	l.file = file

	return nil
}

func (l *Logger) checkRotationLocked() error {
	if l.maxSize <= 0 {
		return nil
	}

	info, err := l.file.Stat()
	if err != nil {
		return nil
	}
	if info.Size() >= l.maxSize {
		return l.rotateLocked()
	}
	return nil
}

// SetMaxSize sets the file size that triggers rotation. Zero disables
// rotation.
func (l *Logger) SetMaxSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// =============================================================================
// STATE
// =============================================================================

// SetEnabled enables or disables logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// IsEnabled returns whether logging is enabled.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the audit log file path.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Verify recomputes the signature of every line in the log at path and
// checks the chain links between consecutive lines. It returns the
// number of verified lines; any mismatch is reported with its line
// number. The first line's PrevHash is accepted as-is since it may
// anchor to a rotated-out predecessor file.
func Verify(path string, key []byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		lineNo   int
		checked  int
		prevHash string
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return checked, fmt.Errorf("line %d: not a valid audit event: %w", lineNo, err)
		}
		if e.Hash == "" {
			return checked, fmt.Errorf("line %d: missing signature", lineNo)
		}

		sig := e.Hash
		e.Hash = ""
		payload, err := json.Marshal(e)
		if err != nil {
			return checked, fmt.Errorf("line %d: failed to marshal for verification: %w", lineNo, err)
		}
		if !hmacEqual(computeHMAC(payload, key), sig) {
			return checked, fmt.Errorf("line %d: signature mismatch", lineNo)
		}

		if checked > 0 && e.PrevHash != prevHash {
			return checked, fmt.Errorf("line %d: chain break, prev_hash does not match preceding line", lineNo)
		}

		prevHash = sig
		checked++
	}
	if err := scanner.Err(); err != nil {
		return checked, fmt.Errorf("failed to scan audit log: %w", err)
	}

	return checked, nil
}

// computeHMAC computes a hex HMAC-SHA-256 of data.
func computeHMAC(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// hmacEqual compares two hex signatures in constant time.
func hmacEqual(a, b string) bool {
	da, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	db, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	return hmac.Equal(da, db)
}
