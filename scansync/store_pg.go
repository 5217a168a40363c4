// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL DocumentStore. Upsert and Delete are single
// statements, so overlapping retries never observe a read-then-write gap.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore creates the store and ensures its schema exists.
// The caller owns the pool lifecycle.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStore{pool: pool, logger: logger}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scans schema: %w", err)
	}
	logger.Debug("Scans schema initialized")
	return s, nil
}

// Pool returns the underlying connection pool
func (s *PGStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PGStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS scans (
			id             TEXT        PRIMARY KEY,
			grade          TEXT        NOT NULL DEFAULT 'UNKNOWN',
			details        TEXT        NOT NULL DEFAULT '',
			image_url      TEXT        NOT NULL DEFAULT '',
			location       TEXT        NOT NULL DEFAULT '',
			ts             TIMESTAMPTZ NOT NULL DEFAULT now(),
			user_id        TEXT        NOT NULL DEFAULT '',
			operator_name  TEXT        NOT NULL DEFAULT '',
			operator_email TEXT        NOT NULL DEFAULT '',
			fruit_type     TEXT        NOT NULL DEFAULT '',
			local_scan_id  TEXT        NOT NULL,
			identity_key   TEXT        NOT NULL DEFAULT '',
			source         TEXT        NOT NULL DEFAULT 'unknown',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		// Reconciliation key: at most one document per (localScanId, identity hint)
		`CREATE UNIQUE INDEX IF NOT EXISTS scans_local_identity_uidx ON scans(local_scan_id, identity_key)`,
		`CREATE INDEX IF NOT EXISTS scans_ts_idx ON scans(ts DESC)`,
		`CREATE INDEX IF NOT EXISTS scans_user_ts_idx ON scans(user_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS scans_operator_ts_idx ON scans(operator_email, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS scans_identity_ts_idx ON scans(identity_key, ts DESC)`,
	}
	for _, m := range migrations {
		if _, err := tx.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

const scanColumns = `id, grade, details, image_url, location, ts, user_id, operator_name,
	operator_email, fruit_type, local_scan_id, identity_key, source, created_at, updated_at`

// xmax is zero only for a freshly inserted tuple, which distinguishes the
// insert arm of ON CONFLICT from the update arm within the same statement.
const upsertSQL = `
INSERT INTO scans (id, grade, details, image_url, location, ts, user_id, operator_name,
	operator_email, fruit_type, local_scan_id, identity_key, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (local_scan_id, identity_key) DO UPDATE SET
	grade          = EXCLUDED.grade,
	details        = EXCLUDED.details,
	image_url      = EXCLUDED.image_url,
	location       = EXCLUDED.location,
	ts             = EXCLUDED.ts,
	user_id        = EXCLUDED.user_id,
	operator_name  = EXCLUDED.operator_name,
	operator_email = EXCLUDED.operator_email,
	fruit_type     = EXCLUDED.fruit_type,
	source         = EXCLUDED.source,
	updated_at     = now()
RETURNING ` + scanColumns + `, (xmax = 0) AS inserted`

func (s *PGStore) Upsert(ctx context.Context, doc ServerScanDocument) (ServerScanDocument, bool, error) {
	var (
		out      ServerScanDocument
		inserted bool
	)
	err := withTxRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, upsertSQL,
			uuid.NewString(), doc.Grade, doc.Details, doc.ImageURL, doc.Location, doc.Timestamp,
			doc.UserID, doc.OperatorName, doc.OperatorEmail, doc.FruitType, doc.LocalScanID,
			doc.IdentityKey, doc.Source)
		return row.Scan(append(scanTargets(&out), &inserted)...)
	})
	if err != nil {
		return ServerScanDocument{}, false, fmt.Errorf("failed to upsert scan %s: %w", doc.LocalScanID, err)
	}
	return out, inserted, nil
}

func (s *PGStore) Delete(ctx context.Context, localScanID, identityKey string) (string, error) {
	var id string
	err := withTxRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`DELETE FROM scans WHERE local_scan_id = $1 AND identity_key = $2 RETURNING id`,
			localScanID, identityKey).Scan(&id)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to delete scan %s: %w", localScanID, err)
	}
	return id, nil
}

func (s *PGStore) List(ctx context.Context, identityKey string, limit int) ([]ServerScanDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scanColumns+`
		FROM scans
		WHERE ($1 = '' OR identity_key = $1)
		ORDER BY ts DESC, created_at DESC
		LIMIT $2`, identityKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var out []ServerScanDocument
	for rows.Next() {
		var d ServerScanDocument
		if err := rows.Scan(scanTargets(&d)...); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scans: %w", err)
	}
	return out, nil
}

func (s *PGStore) GradeCounts(ctx context.Context) ([]GradeCount, error) {
	rows, err := s.pool.Query(ctx, `SELECT grade, count(*) FROM scans GROUP BY grade ORDER BY grade`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate grades: %w", err)
	}
	defer rows.Close()

	var out []GradeCount
	for rows.Next() {
		var gc GradeCount
		if err := rows.Scan(&gc.Grade, &gc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan grade count: %w", err)
		}
		out = append(out, gc)
	}
	return out, rows.Err()
}

func (s *PGStore) DailyCounts(ctx context.Context, since time.Time) ([]PeriodCount, error) {
	return s.periodCounts(ctx, since, "YYYY-MM-DD")
}

func (s *PGStore) MonthlyCounts(ctx context.Context, since time.Time) ([]PeriodCount, error) {
	return s.periodCounts(ctx, since, "YYYY-MM")
}

func (s *PGStore) periodCounts(ctx context.Context, since time.Time, format string) ([]PeriodCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', $2) AS period, count(*)
		FROM scans
		WHERE created_at >= $1
		GROUP BY period
		ORDER BY period`, since, format)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate scans by %s: %w", format, err)
	}
	defer rows.Close()

	var out []PeriodCount
	for rows.Next() {
		var pc PeriodCount
		if err := rows.Scan(&pc.Period, &pc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan period count: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

func scanTargets(d *ServerScanDocument) []any {
	return []any{
		&d.ID, &d.Grade, &d.Details, &d.ImageURL, &d.Location, &d.Timestamp, &d.UserID,
		&d.OperatorName, &d.OperatorEmail, &d.FruitType, &d.LocalScanID, &d.IdentityKey,
		&d.Source, &d.CreatedAt, &d.UpdatedAt,
	}
}
