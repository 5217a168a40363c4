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
	"time"

	"github.com/intronerd12/draconis-eyes/scansync"
)

// OpType is the kind of pending server mutation.
type OpType string

const (
	OpUpsert OpType = "upsert"
	OpDelete OpType = "delete"
)

// PendingOperation is a server mutation not yet confirmed. The queue holds at
// most one per LocalScanID and namespace.
type PendingOperation struct {
	Type        OpType
	LocalScanID string
	Payload     *scansync.UpsertRequest // upsert only
	// Identity the delete is addressed to; upserts carry it in Payload.
	OperatorEmail string
	UserID        string
	QueuedAt      time.Time
	Seq           int64
	Attempts      int
	// RemoteSeen is set when an earlier version of this id may exist on the
	// server. Callers set it when nothing pending tracks that version; otherwise
	// the queue derives it from the op being replaced.
	RemoteSeen bool
}

// Hint is the identity hint the server will resolve for this operation.
func (op *PendingOperation) Hint() scansync.IdentityHint {
	if op.Payload != nil {
		return op.Payload.Hint()
	}
	return scansync.ResolveIdentityHint(op.OperatorEmail, op.UserID)
}

// neverSent reports whether no version of this id can exist on the server.
func (op *PendingOperation) neverSent() bool {
	return op.Type == OpUpsert && op.Attempts == 0 && !op.RemoteSeen
}

// Queue is the durable per-namespace pending operation queue.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewQueue creates a queue over an already migrated database.
func NewQueue(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger, now: time.Now}
}

const opColumns = `local_scan_id, op, payload, hint_email, hint_user, queued_at, seq, attempts, remote_seen`

// Enqueue replaces any pending op for op.LocalScanID with op at the tail of the
// queue. A delete over an upsert that was never sent cancels both, leaving no
// entry. It reports whether an entry was written.
func (q *Queue) Enqueue(ctx context.Context, ns Namespace, op PendingOperation) (bool, error) {
	if op.LocalScanID == "" {
		return false, fmt.Errorf("pending operation without local scan id")
	}
	if op.Type != OpUpsert && op.Type != OpDelete {
		return false, fmt.Errorf("unknown pending operation type %q", op.Type)
	}
	if op.Type == OpUpsert && op.Payload == nil {
		return false, fmt.Errorf("upsert for %s has no payload", op.LocalScanID)
	}
	if op.QueuedAt.IsZero() {
		op.QueuedAt = q.now()
	}

	collection := StorageKey(QueueBase, ns)
	written := true
	err := q.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getOpTx(ctx, tx, collection, op.LocalScanID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		hasExisting := err == nil

		if hasExisting {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pending_ops WHERE collection = ? AND local_scan_id = ?`,
				collection, op.LocalScanID); err != nil {
				return fmt.Errorf("failed to remove superseded op: %w", err)
			}
			if op.Type == OpDelete && existing.neverSent() {
				written = false
				return nil
			}
			op.RemoteSeen = existing.RemoteSeen || existing.Attempts > 0 || existing.Type == OpDelete
		}

		seq, err := nextSeqTx(ctx, tx, collection)
		if err != nil {
			return err
		}
		op.Seq = seq
		op.Attempts = 0
		return insertOpTx(ctx, tx, collection, op)
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s %s: %w", op.Type, op.LocalScanID, err)
	}
	if !written {
		cancelledOpsTotal.Inc()
		q.logger.Debug("Delete cancelled unsent upsert", "namespace", ns, "local_scan_id", op.LocalScanID)
	}
	return written, nil
}

// Drainable returns a snapshot of the queue in order.
func (q *Queue) Drainable(ctx context.Context, ns Namespace) ([]PendingOperation, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+opColumns+` FROM pending_ops WHERE collection = ? ORDER BY seq`,
		StorageKey(QueueBase, ns))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending ops: %w", err)
	}
	defer rows.Close()

	var out []PendingOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending ops: %w", err)
	}
	return out, nil
}

// Remove drops the pending op for localScanID, if any.
func (q *Queue) Remove(ctx context.Context, ns Namespace, localScanID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE collection = ? AND local_scan_id = ?`,
		StorageKey(QueueBase, ns), localScanID); err != nil {
		return fmt.Errorf("failed to remove pending op %s: %w", localScanID, err)
	}
	return nil
}

// Replace overwrites the namespace's queue with remaining, in the given order.
// Duplicate ids keep the last occurrence.
func (q *Queue) Replace(ctx context.Context, ns Namespace, remaining []PendingOperation) error {
	collection := StorageKey(QueueBase, ns)
	err := q.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_ops WHERE collection = ?`, collection); err != nil {
			return fmt.Errorf("failed to clear pending ops: %w", err)
		}
		for _, op := range remaining {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pending_ops WHERE collection = ? AND local_scan_id = ?`,
				collection, op.LocalScanID); err != nil {
				return fmt.Errorf("failed to remove duplicate op: %w", err)
			}
			seq, err := nextSeqTx(ctx, tx, collection)
			if err != nil {
				return err
			}
			op.Seq = seq
			if op.QueuedAt.IsZero() {
				op.QueuedAt = q.now()
			}
			if err := insertOpTx(ctx, tx, collection, op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace queue: %w", err)
	}
	return nil
}

// Ack removes op if the queue still holds the same version of it. An op
// superseded while in flight is left in place.
func (q *Queue) Ack(ctx context.Context, ns Namespace, op PendingOperation) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE collection = ? AND local_scan_id = ? AND seq = ?`,
		StorageKey(QueueBase, ns), op.LocalScanID, op.Seq)
	if err != nil {
		return false, fmt.Errorf("failed to ack pending op %s: %w", op.LocalScanID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkAttempted records that op is about to be sent, under the same version
// condition as Ack. It returns false when op was superseded or cancelled, in
// which case it must not be sent.
func (q *Queue) MarkAttempted(ctx context.Context, ns Namespace, op PendingOperation) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE pending_ops SET attempts = attempts + 1
		WHERE collection = ? AND local_scan_id = ? AND seq = ?`,
		StorageKey(QueueBase, ns), op.LocalScanID, op.Seq)
	if err != nil {
		return false, fmt.Errorf("failed to mark pending op %s attempted: %w", op.LocalScanID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Len returns the number of pending ops in ns.
func (q *Queue) Len(ctx context.Context, ns Namespace) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops WHERE collection = ?`,
		StorageKey(QueueBase, ns)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending ops: %w", err)
	}
	return n, nil
}

// Clear drops every pending op in ns.
func (q *Queue) Clear(ctx context.Context, ns Namespace) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE collection = ?`,
		StorageKey(QueueBase, ns)); err != nil {
		return fmt.Errorf("failed to clear pending ops: %w", err)
	}
	return nil
}

func (q *Queue) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nextSeqTx(ctx context.Context, tx *sql.Tx, collection string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO queue_counters (collection, next_seq) VALUES (?, 1)
		ON CONFLICT(collection) DO UPDATE SET next_seq = next_seq + 1`, collection); err != nil {
		return 0, fmt.Errorf("failed to advance queue counter: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT next_seq FROM queue_counters WHERE collection = ?`,
		collection).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read queue counter: %w", err)
	}
	return seq, nil
}

func getOpTx(ctx context.Context, tx *sql.Tx, collection, localScanID string) (PendingOperation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+opColumns+` FROM pending_ops WHERE collection = ? AND local_scan_id = ?`,
		collection, localScanID)
	return scanOp(row)
}

func insertOpTx(ctx context.Context, tx *sql.Tx, collection string, op PendingOperation) error {
	var payload any
	if op.Payload != nil {
		b, err := json.Marshal(op.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		payload = string(b)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pending_ops (collection, `+opColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		collection, op.LocalScanID, string(op.Type), payload, op.OperatorEmail, op.UserID,
		op.QueuedAt.UnixNano(), op.Seq, op.Attempts, op.RemoteSeen); err != nil {
		return fmt.Errorf("failed to insert pending op: %w", err)
	}
	return nil
}

func scanOp(row rowScanner) (PendingOperation, error) {
	var (
		op       PendingOperation
		typ      string
		payload  sql.NullString
		queuedAt int64
	)
	err := row.Scan(&op.LocalScanID, &typ, &payload, &op.OperatorEmail, &op.UserID,
		&queuedAt, &op.Seq, &op.Attempts, &op.RemoteSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingOperation{}, err
		}
		return PendingOperation{}, fmt.Errorf("failed to scan pending op: %w", err)
	}
	op.Type = OpType(typ)
	op.QueuedAt = time.Unix(0, queuedAt).UTC()
	if payload.Valid && payload.String != "" {
		var req scansync.UpsertRequest
		if err := json.Unmarshal([]byte(payload.String), &req); err != nil {
			return PendingOperation{}, fmt.Errorf("failed to decode payload of %s: %w", op.LocalScanID, err)
		}
		op.Payload = &req
	}
	return op, nil
}
