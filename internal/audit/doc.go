// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records executed commands with tamper-evident logging.
//
// Two outputs back the audit trail:
//
//   - A JSONL log of signed events. Each line carries an HMAC-SHA-256
//     signature and the hash of the preceding line, so edits, removals,
//     and reordering are detectable with Verify. The signing key is
//     derived (PBKDF2-SHA-256) from master material in a 0600 key file
//     or the STEPFLOW_AUDIT_KEY environment variable.
//   - A SQLite command history (command_audit table) that the audit
//     show command queries.
//
// The engine records through Sink, which is best-effort by contract:
// audit failures are logged and swallowed, never surfaced into step or
// task outcomes. Secrets are redacted from commands and detail text
// before anything is written.
//
// Usage:
//
//	sink, err := audit.OpenSink(audit.SinkOptions{
//	    Enabled: true,
//	    LogPath: cfg.Audit.LogPath,
//	    DBPath:  cfg.Audit.DBPath,
//	    KeyPath: cfg.Audit.KeyPath,
//	    Redact:  cfg.Audit.Redact,
//	})
//	if err != nil {
//	    log.Printf("audit disabled: %v", err)
//	}
//	defer sink.Close()
//	sink.StepExecuted(ctx, taskID, stepID, cmd, "completed", output)
package audit
