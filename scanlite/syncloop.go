// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Start runs the background flush loop until ctx is done or the client is closed.
func (c *Client) Start(ctx context.Context) {
	c.goBackground(func() { c.syncLoop(ctx) })
}

// syncLoop flushes the current namespace every FlushInterval while the queue
// is empty, and with exponential backoff while ops keep failing.
func (c *Client) syncLoop(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.BackoffMin
	b.MaxInterval = c.config.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()

	wait := c.config.FlushInterval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.bgCtx.Done():
			return
		case <-timer.C:
		case <-c.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		res, err := c.Engine.Flush(ctx, c.Namespace())
		switch {
		case err != nil:
			c.logger.Warn("Sync loop flush failed", "error", err)
			wait = b.NextBackOff()
		case res.Remaining > 0:
			wait = b.NextBackOff()
		default:
			b.Reset()
			wait = c.config.FlushInterval
		}
		timer.Reset(wait)
	}
}

// wakeLoop nudges the sync loop to start its retry schedule now.
func (c *Client) wakeLoop() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
