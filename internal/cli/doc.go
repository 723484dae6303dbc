// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the stepflow command-line interface.
//
// The package owns argument parsing and the command handlers behind
// each verb:
//
//	run       plan a task with the local model and execute the steps
//	sessions  list, inspect, resume, delete, and watch saved sessions
//	audit     inspect and verify the tamper-evident command log
//	config    read and write the TOML configuration
//	status    report Ollama health, model availability, and data paths
//
// Parsing is hand-rolled: Parse reads os.Args and returns a Command
// plus an Args snapshot; handlers that take subcommand flags run an
// ArgParser over the remaining arguments themselves. Handlers always
// return errors instead of exiting so main keeps control of exit
// codes (see GetExitCode).
package cli
