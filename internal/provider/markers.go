// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "strings"

// =============================================================================
// OUTCOME MARKERS
// =============================================================================

// Provider responses report what happened with literal marker strings.
// The markers, including their original-language forms, exist only in
// this file; everything else in the codebase branches on Outcome.

const (
	// MarkerSuccess - the instruction was carried out
	MarkerSuccess = "命令执行成功"
	// MarkerFailure - the instruction was attempted and failed
	MarkerFailure = "命令执行失败"
	// MarkerTimeout - the instruction timed out
	MarkerTimeout = "命令执行超时"
	// MarkerException - the attempt blew up before producing a result
	MarkerException = "命令执行异常"
	// MarkerDryRun - nothing was executed, the command was only echoed
	MarkerDryRun = "DRY-RUN"
)

// Outcome is the classified result of a provider execution response.
type Outcome int

const (
	// OutcomeUnknown - no marker found in the response
	OutcomeUnknown Outcome = iota
	// OutcomeSuccess - success marker present
	OutcomeSuccess
	// OutcomeFailure - failure marker present
	OutcomeFailure
	// OutcomeTimeout - timeout marker present
	OutcomeTimeout
	// OutcomeException - exception marker present
	OutcomeException
	// OutcomeDryRun - dry-run marker present
	OutcomeDryRun
)

// String returns the outcome name for logs and audit records.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeException:
		return "exception"
	case OutcomeDryRun:
		return "dry-run"
	default:
		return "unknown"
	}
}

// Succeeded reports whether the outcome counts as a completed step.
// Dry-run responses count: nothing ran, but nothing failed either.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSuccess || o == OutcomeDryRun
}

// Classify scans a provider response for outcome markers. Negative
// markers take precedence over positive ones, so a response that
// narrates both a failure and a success reads as the failure.
func Classify(text string) Outcome {
	switch {
	case strings.Contains(text, MarkerException):
		return OutcomeException
	case strings.Contains(text, MarkerTimeout):
		return OutcomeTimeout
	case strings.Contains(text, MarkerFailure):
		return OutcomeFailure
	case strings.Contains(text, MarkerDryRun):
		return OutcomeDryRun
	case strings.Contains(text, MarkerSuccess):
		return OutcomeSuccess
	default:
		return OutcomeUnknown
	}
}
