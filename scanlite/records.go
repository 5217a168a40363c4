// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScanRecord is a locally captured scan. Records are immutable except for deletion.
type ScanRecord struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"createdAt"`
	Grade        string          `json:"grade"`
	Notes        string          `json:"notes,omitempty"`
	Location     string          `json:"location,omitempty"`
	FruitType    string          `json:"fruitType,omitempty"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	ArtifactPath string          `json:"artifactPath,omitempty"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
}

// LocalStats summarizes the records of one namespace.
type LocalStats struct {
	Total      int    `json:"total"`
	Best       string `json:"best"`
	AvgPercent int    `json:"avgPercent"`
}

// RecordStore persists ScanRecords per namespace in SQLite.
type RecordStore struct {
	db        *sql.DB
	artifacts *ArtifactStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewRecordStore creates a record store over an already migrated database.
func NewRecordStore(db *sql.DB, artifacts *ArtifactStore, logger *slog.Logger) *RecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordStore{db: db, artifacts: artifacts, logger: logger, now: time.Now}
}

const recordColumns = `id, created_at, grade, notes, location, fruit_type, image_url, artifact_path, analysis`

// List returns the namespace's records, newest first.
func (s *RecordStore) List(ctx context.Context, ns Namespace) ([]ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM scan_records
		WHERE collection = ?
		ORDER BY created_at DESC, id DESC`, StorageKey(RecordsBase, ns))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	out := []ScanRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}

// Get returns a single record or ErrRecordNotFound.
func (s *RecordStore) Get(ctx context.Context, ns Namespace, id string) (ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM scan_records WHERE collection = ? AND id = ?`,
		StorageKey(RecordsBase, ns), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScanRecord{}, ErrRecordNotFound
	}
	return rec, err
}

// Add stores rec in ns, assigning ID and CreatedAt when absent. A non-empty
// ArtifactPath is copied into the namespace's artifact directory first; when the
// copy fails the record is stored without an artifact. It reports whether a
// record with the same ID was replaced.
func (s *RecordStore) Add(ctx context.Context, ns Namespace, rec ScanRecord) (ScanRecord, bool, error) {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return ScanRecord{}, false, fmt.Errorf("failed to generate record id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	if rec.ArtifactPath != "" {
		dst, err := s.artifacts.Import(ns, rec.ID, rec.ArtifactPath)
		if err != nil {
			s.logger.Warn("Failed to copy scan artifact", "error", err, "namespace", ns, "id", rec.ID)
			dst = ""
		}
		rec.ArtifactPath = dst
	}

	collection := StorageKey(RecordsBase, ns)
	var previous sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT artifact_path FROM scan_records WHERE collection = ? AND id = ?`,
		collection, rec.ID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return ScanRecord{}, false, fmt.Errorf("failed to look up record %s: %w", rec.ID, err)
	}
	replaced := err == nil

	var analysis any
	if len(rec.Analysis) > 0 {
		analysis = string(rec.Analysis)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scan_records (collection, `+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		collection, rec.ID, rec.CreatedAt.UnixNano(), rec.Grade, rec.Notes, rec.Location,
		rec.FruitType, rec.ImageURL, rec.ArtifactPath, analysis)
	if err != nil {
		return ScanRecord{}, false, fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}

	if previous.Valid && previous.String != "" && previous.String != rec.ArtifactPath {
		s.removeArtifact(ns, rec.ID, previous.String)
	}
	return rec, replaced, nil
}

// Remove deletes the record and its owned artifact. Removing an absent record
// returns false and no error.
func (s *RecordStore) Remove(ctx context.Context, ns Namespace, id string) (bool, error) {
	var artifact string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM scan_records WHERE collection = ? AND id = ? RETURNING artifact_path`,
		StorageKey(RecordsBase, ns), id).Scan(&artifact)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	s.removeArtifact(ns, id, artifact)
	return true, nil
}

// Clear deletes every record in ns, and its artifact directory when deleteArtifacts is set.
func (s *RecordStore) Clear(ctx context.Context, ns Namespace, deleteArtifacts bool) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scan_records WHERE collection = ?`,
		StorageKey(RecordsBase, ns)); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	if deleteArtifacts {
		if err := s.artifacts.RemoveNamespace(ns); err != nil {
			s.logger.Warn("Failed to remove artifacts", "error", err, "namespace", ns)
		}
	}
	return nil
}

// Stats returns total, best grade and the average grade as a percentage.
func (s *RecordStore) Stats(ctx context.Context, ns Namespace) (LocalStats, error) {
	recs, err := s.List(ctx, ns)
	if err != nil {
		return LocalStats{}, err
	}
	return computeLocalStats(recs), nil
}

func (s *RecordStore) removeArtifact(ns Namespace, id, path string) {
	if path == "" {
		return
	}
	if err := s.artifacts.Remove(path); err != nil {
		s.logger.Warn("Failed to remove scan artifact", "error", err, "namespace", ns, "id", id)
	}
}

// gradePoints maps letter grades to a 0..4 scale; unknown grades score 0.
var gradePoints = map[string]int{"A": 4, "B": 3, "C": 2, "D": 1, "F": 0}

// bestGrades are the grades reported as "best", highest first. A namespace
// holding only lower grades reports "-".
var bestGrades = []string{"A", "B", "C"}

func computeLocalStats(recs []ScanRecord) LocalStats {
	st := LocalStats{Total: len(recs), Best: "-"}
	if len(recs) == 0 {
		return st
	}
	sum := 0
	present := make(map[string]bool, len(bestGrades))
	for _, r := range recs {
		g := strings.ToUpper(strings.TrimSpace(r.Grade))
		sum += gradePoints[g]
		present[g] = true
	}
	for _, g := range bestGrades {
		if present[g] {
			st.Best = g
			break
		}
	}
	st.AvgPercent = int(math.Round(float64(sum) / float64(4*len(recs)) * 100))
	return st
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ScanRecord, error) {
	var (
		rec       ScanRecord
		createdAt int64
		analysis  sql.NullString
	)
	err := row.Scan(&rec.ID, &createdAt, &rec.Grade, &rec.Notes, &rec.Location, &rec.FruitType,
		&rec.ImageURL, &rec.ArtifactPath, &analysis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScanRecord{}, err
		}
		return ScanRecord{}, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	if analysis.Valid && analysis.String != "" {
		rec.Analysis = json.RawMessage(analysis.String)
	}
	return rec, nil
}
