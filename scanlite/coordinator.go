// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Coordinator allows at most one flush per namespace at a time. Callers that
// arrive while a flush is running receive that flush's result.
// One Coordinator is shared by every engine that writes to the same queue.
type Coordinator struct {
	group singleflight.Group
}

// NewCoordinator returns an idle coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Do runs fn for ns unless a run is already in flight, in which case it waits
// for that run. fn receives a context detached from the caller's cancellation
// so one impatient caller cannot abort a result others are sharing. shared is
// true when the result was delivered to more than one caller.
func (c *Coordinator) Do(ctx context.Context, ns Namespace, fn func(context.Context) (FlushResult, error)) (res FlushResult, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(ns), func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return FlushResult{}, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return FlushResult{}, r.Shared, r.Err
		}
		return r.Val.(FlushResult), r.Shared, nil
	}
}
