// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import (
	"context"
	"time"
)

// DocumentStore persists ServerScanDocuments keyed by (LocalScanID, IdentityKey).
//
// Implementations must make Upsert and Delete atomic with respect to concurrent
// callers: two overlapping upserts for the same key converge on one document.
type DocumentStore interface {
	// Upsert updates the document matching (doc.LocalScanID, doc.IdentityKey) or
	// inserts it. created reports whether a new document was inserted.
	Upsert(ctx context.Context, doc ServerScanDocument) (stored ServerScanDocument, created bool, err error)

	// Delete removes the matching document and returns its ID, or ErrNotFound.
	Delete(ctx context.Context, localScanID, identityKey string) (id string, err error)

	// List returns documents newest first. Empty identityKey lists all.
	List(ctx context.Context, identityKey string, limit int) ([]ServerScanDocument, error)

	// GradeCounts aggregates documents by grade.
	GradeCounts(ctx context.Context) ([]GradeCount, error)

	// DailyCounts and MonthlyCounts bucket documents created at or after since
	// by UTC day or month, in ascending order.
	DailyCounts(ctx context.Context, since time.Time) ([]PeriodCount, error)
	MonthlyCounts(ctx context.Context, since time.Time) ([]PeriodCount, error)
}
