// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FlushResult reports one flush pass.
type FlushResult struct {
	Synced    int // ops the server confirmed
	Remaining int // ops still queued after the pass
	Dropped   int // ops discarded after a terminal server rejection
}

// Engine drains a namespace's queue against a Remote.
type Engine struct {
	queue  *Queue
	remote Remote
	coord  *Coordinator
	logger *slog.Logger
}

// NewEngine wires the engine. coord must be shared by all engines over the
// same queue; a nil coord gets a private one.
func NewEngine(queue *Queue, remote Remote, coord *Coordinator, logger *slog.Logger) *Engine {
	if coord == nil {
		coord = NewCoordinator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{queue: queue, remote: remote, coord: coord, logger: logger}
}

// Flush sends every pending op of ns in queue order. Only one pass per
// namespace runs at a time; concurrent callers share its result.
func (e *Engine) Flush(ctx context.Context, ns Namespace) (FlushResult, error) {
	res, _, err := e.coord.Do(ctx, ns, func(ctx context.Context) (FlushResult, error) {
		return e.flushOnce(ctx, ns)
	})
	return res, err
}

func (e *Engine) flushOnce(ctx context.Context, ns Namespace) (FlushResult, error) {
	flushRunsTotal.Inc()

	ops, err := e.queue.Drainable(ctx, ns)
	if err != nil {
		return FlushResult{}, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(ops) == 0 {
		return FlushResult{}, nil
	}

	var res FlushResult
	for _, op := range ops {
		// Counted before sending: a lost response may still have reached the server.
		current, err := e.queue.MarkAttempted(ctx, ns, op)
		if err != nil {
			e.logger.Warn("Failed to mark op attempted", "error", err, "namespace", ns, "local_scan_id", op.LocalScanID)
			continue
		}
		if !current {
			e.logger.Debug("Pending op superseded before send", "namespace", ns, "local_scan_id", op.LocalScanID)
			continue
		}

		err = e.send(ctx, op)
		switch {
		case err == nil:
			res.Synced++
			flushOpsTotal.WithLabelValues(string(op.Type), metricsOutcomeSynced).Inc()
			e.ack(ctx, ns, op)
		case IsTerminal(err):
			res.Dropped++
			flushOpsTotal.WithLabelValues(string(op.Type), metricsOutcomeDropped).Inc()
			e.logger.Warn("Server rejected pending op, dropping",
				"error", err, "namespace", ns, "op", op.Type, "local_scan_id", op.LocalScanID)
			e.ack(ctx, ns, op)
		default:
			flushOpsTotal.WithLabelValues(string(op.Type), metricsOutcomeFailed).Inc()
			e.logger.Debug("Pending op failed, keeping for retry",
				"error", err, "namespace", ns, "op", op.Type, "local_scan_id", op.LocalScanID, "attempts", op.Attempts+1)
		}
	}

	remaining, err := e.queue.Len(ctx, ns)
	if err != nil {
		return res, fmt.Errorf("failed to count remaining ops: %w", err)
	}
	res.Remaining = remaining

	e.logger.Debug("Flush completed", "namespace", ns, "synced", res.Synced,
		"remaining", res.Remaining, "dropped", res.Dropped)
	return res, nil
}

func (e *Engine) send(ctx context.Context, op PendingOperation) error {
	switch op.Type {
	case OpDelete:
		err := e.remote.Delete(ctx, op.LocalScanID, op.Hint())
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	case OpUpsert:
		if op.Payload == nil {
			return fmt.Errorf("%w: upsert without payload", errInvalidOp)
		}
		_, err := e.remote.Upsert(ctx, op.Payload)
		return err
	default:
		return fmt.Errorf("%w: unknown type %q", errInvalidOp, op.Type)
	}
}

// ack removes a settled op. A failed ack leaves it queued; resending is idempotent.
func (e *Engine) ack(ctx context.Context, ns Namespace, op PendingOperation) {
	removed, err := e.queue.Ack(ctx, ns, op)
	if err != nil {
		e.logger.Warn("Failed to ack pending op", "error", err, "namespace", ns, "local_scan_id", op.LocalScanID)
		return
	}
	if !removed {
		e.logger.Debug("Pending op superseded during flush", "namespace", ns, "local_scan_id", op.LocalScanID)
	}
}
