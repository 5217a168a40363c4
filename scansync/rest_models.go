// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import (
	"strings"
	"time"
)

// REST/JSON models for HTTP API requests and responses

// UpsertRequest is the body of POST /scans
type UpsertRequest struct {
	Grade         string     `json:"grade"`
	Details       string     `json:"details"`
	ImageURL      string     `json:"imageUrl,omitempty"`
	Location      string     `json:"location,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"` // ISO-8601; server time when omitted
	UserID        string     `json:"userId,omitempty"`
	OperatorName  string     `json:"operatorName,omitempty"`
	OperatorEmail string     `json:"operatorEmail,omitempty"`
	FruitType     string     `json:"fruitType,omitempty"`
	LocalScanID   string     `json:"localScanId"` // Idempotency key (required)
	Source        string     `json:"source,omitempty"`
}

// Hint resolves the identity hint carried by the request
func (r *UpsertRequest) Hint() IdentityHint {
	return ResolveIdentityHint(r.OperatorEmail, r.UserID)
}

// UpsertResult is what the service returns for an upsert
type UpsertResult struct {
	Document ServerScanDocument
	Created  bool // false means an existing document was updated
}

// DeleteResponse is the body of a successful DELETE /scans/{localScanId}
type DeleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// ListFilter narrows GET /scans
type ListFilter struct {
	Hint  IdentityHint
	Limit int
}

// StatsResponse is the body of GET /scans/stats
type StatsResponse struct {
	Total       int64         `json:"total"`
	Best        string        `json:"best"`
	GradeStats  []GradeCount  `json:"gradeStats"`
	Last7Days   []PeriodCount `json:"last7Days"`
	Last6Months []PeriodCount `json:"last6Months"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// toDocument builds the document to persist; defaults are applied by the service
func (r *UpsertRequest) toDocument(hint IdentityHint) ServerScanDocument {
	doc := ServerScanDocument{
		Grade:         strings.TrimSpace(r.Grade),
		Details:       strings.TrimSpace(r.Details),
		ImageURL:      strings.TrimSpace(r.ImageURL),
		Location:      strings.TrimSpace(r.Location),
		UserID:        strings.TrimSpace(r.UserID),
		OperatorName:  strings.TrimSpace(r.OperatorName),
		OperatorEmail: normalizeEmail(r.OperatorEmail),
		FruitType:     strings.TrimSpace(r.FruitType),
		LocalScanID:   strings.TrimSpace(r.LocalScanID),
		IdentityKey:   hint.Key(),
		Source:        strings.TrimSpace(r.Source),
	}
	if r.Timestamp != nil {
		doc.Timestamp = r.Timestamp.UTC()
	}
	return doc
}
