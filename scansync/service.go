// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrNotFound reports that no document matches (localScanId, identity hint).
	// For deletes it is a convergence signal, not a failure.
	ErrNotFound = errors.New("scan not found")

	// ErrValidation wraps malformed requests
	ErrValidation = errors.New("invalid scan request")
)

// Service is the reconciliation service: idempotent upsert and delete keyed by
// the client's localScanId plus an identity hint.
type Service struct {
	store  DocumentStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a reconciliation service over the given store
func NewService(store DocumentStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Upsert applies req exactly-once in effect: repeated calls with the same
// (LocalScanID, hint) update a single document to the latest payload.
func (s *Service) Upsert(ctx context.Context, req *UpsertRequest) (*UpsertResult, error) {
	if req == nil {
		upsertsTotal.WithLabelValues(MetricsResultInvalid).Inc()
		return nil, fmt.Errorf("%w: empty request", ErrValidation)
	}
	req.LocalScanID = strings.TrimSpace(req.LocalScanID)
	if req.LocalScanID == "" {
		upsertsTotal.WithLabelValues(MetricsResultInvalid).Inc()
		return nil, fmt.Errorf("%w: localScanId is required", ErrValidation)
	}

	hint := req.Hint()
	doc := req.toDocument(hint)
	if doc.Grade == "" {
		doc.Grade = DefaultGrade
	}
	if doc.Source == "" {
		doc.Source = DefaultSource
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = s.now().UTC()
	}

	start := time.Now()
	stored, created, err := s.store.Upsert(ctx, doc)
	storeDuration.WithLabelValues("upsert").Observe(time.Since(start).Seconds())
	if err != nil {
		upsertsTotal.WithLabelValues(MetricsResultError).Inc()
		return nil, err
	}

	result := MetricsResultUpdated
	if created {
		result = MetricsResultCreated
	}
	upsertsTotal.WithLabelValues(result).Inc()
	s.logger.Debug("Scan upserted",
		"local_scan_id", stored.LocalScanID,
		"identity", hint.String(),
		"id", stored.ID,
		"result", result)

	return &UpsertResult{Document: stored, Created: created}, nil
}

// Delete removes the document for (localScanID, hint). It returns ErrNotFound
// when nothing matches so callers can treat the state as already converged.
func (s *Service) Delete(ctx context.Context, localScanID string, hint IdentityHint) (string, error) {
	localScanID = strings.TrimSpace(localScanID)
	if localScanID == "" {
		deletesTotal.WithLabelValues(MetricsResultInvalid).Inc()
		return "", fmt.Errorf("%w: localScanId is required", ErrValidation)
	}

	start := time.Now()
	id, err := s.store.Delete(ctx, localScanID, hint.Key())
	storeDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, ErrNotFound):
		deletesTotal.WithLabelValues(MetricsResultNotFound).Inc()
		return "", ErrNotFound
	case err != nil:
		deletesTotal.WithLabelValues(MetricsResultError).Inc()
		return "", err
	}

	deletesTotal.WithLabelValues(MetricsResultDeleted).Inc()
	s.logger.Debug("Scan deleted", "local_scan_id", localScanID, "identity", hint.String(), "id", id)
	return id, nil
}

// List returns documents newest first, optionally restricted to one identity
func (s *Service) List(ctx context.Context, filter ListFilter) ([]ServerScanDocument, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	docs, err := s.store.List(ctx, filter.Hint.Key(), limit)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []ServerScanDocument{}
	}
	return docs, nil
}

// Stats aggregates documents by grade, picks the best grade present and adds
// per-day counts for the last 7 days and per-month counts for the last 6 months.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	counts, err := s.store.GradeCounts(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	days, err := s.store.DailyCounts(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	months, err := s.store.MonthlyCounts(ctx, now.AddDate(0, -6, 0))
	if err != nil {
		return nil, err
	}
	resp := &StatsResponse{Best: "-", GradeStats: counts, Last7Days: days, Last6Months: months}
	present := make(map[string]bool, len(counts))
	for _, c := range counts {
		resp.Total += c.Count
		present[c.Grade] = true
	}
	for _, g := range gradeRank {
		if present[g] {
			resp.Best = g
			break
		}
	}
	if resp.GradeStats == nil {
		resp.GradeStats = []GradeCount{}
	}
	if resp.Last7Days == nil {
		resp.Last7Days = []PeriodCount{}
	}
	if resp.Last6Months == nil {
		resp.Last6Months = []PeriodCount{}
	}
	return resp, nil
}
