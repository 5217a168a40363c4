// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"context"
	"encoding/json"
	"sync"
)

// SessionProvider reports the currently signed-in principal; nil when signed out.
type SessionProvider interface {
	CurrentPrincipal() *Principal
}

// Analysis is the grading engine's verdict for one image.
type Analysis struct {
	Grade     string
	FruitType string
	Notes     string
	Raw       json.RawMessage // stored verbatim on the record
}

// Analyzer grades a captured image.
type Analyzer interface {
	Analyze(ctx context.Context, artifactPath string) (Analysis, error)
}

// StaticSession is a SessionProvider holding a principal set by the caller.
type StaticSession struct {
	mu sync.RWMutex
	p  *Principal
}

// NewStaticSession returns a session signed in as p (nil for signed out).
func NewStaticSession(p *Principal) *StaticSession {
	return &StaticSession{p: clonePrincipal(p)}
}

func (s *StaticSession) CurrentPrincipal() *Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePrincipal(s.p)
}

// SetPrincipal switches the signed-in principal.
func (s *StaticSession) SetPrincipal(p *Principal) {
	s.mu.Lock()
	s.p = clonePrincipal(p)
	s.mu.Unlock()
}

func clonePrincipal(p *Principal) *Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
