// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Interactive confirmation prompts.
//
// One pattern for every command that gates an action on the user:
//   1. If the skip flag is present (--confirm, --yes), proceed.
//   2. If stdin is not a TTY, fail with a pointer to the flag.
//   3. Otherwise prompt with [y/N], defaulting to no.

package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// RequireConfirmation gates a destructive action behind an explicit
// flag or an interactive [y/N] prompt.
func RequireConfirmation(confirmFlag bool, action string) (bool, error) {
	if confirmFlag {
		return true, nil
	}

	if !IsTTY() {
		return false, fmt.Errorf("confirmation required but stdin is not a terminal; use --confirm")
	}

	return promptYesNo(fmt.Sprintf("Are you sure you want to %s?", action))
}

// promptYesNo asks a single [y/N] question on stdin. Anything other
// than y/yes counts as no.
func promptYesNo(question string) (bool, error) {
	fmt.Printf("%s [y/N]: ", question)

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
