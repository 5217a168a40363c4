// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by a Remote when the server has no matching
	// document. A delete that fails with it has already converged.
	ErrNotFound = errors.New("scan not found on server")

	// ErrRecordNotFound is returned when a local record does not exist.
	ErrRecordNotFound = errors.New("scan record not found")

	errInvalidOp = errors.New("invalid pending operation")
)

// RemoteError is a non-success HTTP answer from the reconciliation server.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether resending the same request may succeed.
func (e *RemoteError) Retryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooEarly,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether err means the operation can never succeed as is.
// Transport errors and anything that is not a RemoteError are retryable.
func IsTerminal(err error) bool {
	if errors.Is(err, errInvalidOp) {
		return true
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return !re.Retryable()
	}
	return false
}
