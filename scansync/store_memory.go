// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process DocumentStore for tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[memoryKey]*ServerScanDocument
	now  func() time.Time
}

type memoryKey struct {
	localScanID string
	identityKey string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[memoryKey]*ServerScanDocument),
		now:  time.Now,
	}
}

func (m *MemoryStore) Upsert(_ context.Context, doc ServerScanDocument) (ServerScanDocument, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{localScanID: doc.LocalScanID, identityKey: doc.IdentityKey}
	now := m.now().UTC()
	if existing, ok := m.docs[key]; ok {
		doc.ID = existing.ID
		doc.CreatedAt = existing.CreatedAt
		doc.UpdatedAt = now
		m.docs[key] = &doc
		return doc, false, nil
	}

	doc.ID = uuid.NewString()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	m.docs[key] = &doc
	return doc, true, nil
}

func (m *MemoryStore) Delete(_ context.Context, localScanID, identityKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{localScanID: localScanID, identityKey: identityKey}
	existing, ok := m.docs[key]
	if !ok {
		return "", ErrNotFound
	}
	delete(m.docs, key)
	return existing.ID, nil
}

func (m *MemoryStore) List(_ context.Context, identityKey string, limit int) ([]ServerScanDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerScanDocument, 0, len(m.docs))
	for _, d := range m.docs {
		if identityKey != "" && d.IdentityKey != identityKey {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GradeCounts(_ context.Context) ([]GradeCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int64)
	for _, d := range m.docs {
		counts[d.Grade]++
	}
	out := make([]GradeCount, 0, len(counts))
	for g, n := range counts {
		out = append(out, GradeCount{Grade: g, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Grade < out[j].Grade })
	return out, nil
}

func (m *MemoryStore) DailyCounts(_ context.Context, since time.Time) ([]PeriodCount, error) {
	return m.periodCounts(since, "2006-01-02"), nil
}

func (m *MemoryStore) MonthlyCounts(_ context.Context, since time.Time) ([]PeriodCount, error) {
	return m.periodCounts(since, "2006-01"), nil
}

func (m *MemoryStore) periodCounts(since time.Time, layout string) []PeriodCount {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int64)
	for _, d := range m.docs {
		if d.CreatedAt.Before(since) {
			continue
		}
		counts[d.CreatedAt.UTC().Format(layout)]++
	}
	out := make([]PeriodCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, PeriodCount{Period: p, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// Len returns the number of stored documents
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
