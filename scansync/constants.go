// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

// Defaults applied to incoming upserts when the client leaves a field blank
const (
	DefaultGrade  = "UNKNOWN"
	DefaultSource = "unknown"
	SourceMobile  = "mobile_app"
)

// Error codes used in ErrorResponse
const (
	CodeInvalidRequest   = "invalid_request"
	CodeNotFound         = "not_found"
	CodeAuthFailed       = "authentication_failed"
	CodeUpsertFailed     = "upsert_failed"
	CodeDeleteFailed     = "delete_failed"
	CodeListFailed       = "list_failed"
	CodeStatsFailed      = "stats_failed"
	CodeMethodNotAllowed = "method_not_allowed"
)

// Limits for list requests
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// gradeRank orders grades from best to worst for the "best" statistic
var gradeRank = []string{"A", "B", "C", "D"}
