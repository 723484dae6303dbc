// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows
// +build !windows

// Package audit records executed commands with tamper-evident logging.
package audit

// verifyKeyFileACL is the Windows ACL check. On Unix the mode-bit check
// in checkKeyFilePermissions covers it and the runtime.GOOS guard keeps
// this from being called.
func verifyKeyFileACL(path string) error {
	panic("verifyKeyFileACL called on non-Windows platform")
}
