// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import (
	"time"
)

// ServerScanDocument represents a row in the scans table. It doubles as the
// JSON document returned by the HTTP API.
type ServerScanDocument struct {
	ID            string    `json:"id" db:"id"`
	Grade         string    `json:"grade" db:"grade"`
	Details       string    `json:"details" db:"details"`
	ImageURL      string    `json:"imageUrl,omitempty" db:"image_url"`
	Location      string    `json:"location,omitempty" db:"location"`
	Timestamp     time.Time `json:"timestamp" db:"ts"`
	UserID        string    `json:"userId,omitempty" db:"user_id"` // Linked principal, if any
	OperatorName  string    `json:"operatorName,omitempty" db:"operator_name"`
	OperatorEmail string    `json:"operatorEmail,omitempty" db:"operator_email"`
	FruitType     string    `json:"fruitType,omitempty" db:"fruit_type"`
	LocalScanID   string    `json:"localScanId" db:"local_scan_id"` // Client-generated idempotency anchor
	IdentityKey   string    `json:"-" db:"identity_key"`            // IdentityHint.Key() at write time
	Source        string    `json:"source" db:"source"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// GradeCount is one bucket of the per-grade aggregation
type GradeCount struct {
	Grade string `json:"grade"`
	Count int64  `json:"count"`
}

// PeriodCount is one bucket of a creation-date histogram. Period is a UTC
// day ("2006-01-02") or month ("2006-01").
type PeriodCount struct {
	Period string `json:"period"`
	Count  int64  `json:"count"`
}
