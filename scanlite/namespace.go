// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"regexp"
	"strings"
)

// Namespace partitions all locally persisted state by signed-in principal.
type Namespace string

// AnonymousNamespace is used when no principal (or no usable identifier) is present.
const AnonymousNamespace Namespace = "anon"

const maxNamespaceLen = 80

// Storage base names; each namespace gets its own collection "<base>:<ns>".
const (
	RecordsBase = "dragon_scans_v1"
	QueueBase   = "dragon_scan_queue_v1"
)

// Principal is the signed-in identity as reported by the session provider.
// Any field may be empty.
type Principal struct {
	ID       string
	MongoID  string
	UserID   string
	UID      string
	Email    string
	Username string
	Name     string
}

// ServerUserID is the identifier sent to the server as userId.
func (p *Principal) ServerUserID() string {
	if p == nil {
		return ""
	}
	for _, v := range []string{p.ID, p.MongoID, p.UserID, p.UID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// ResolveNamespace derives the namespace from the first non-blank identifier in
// priority order ID, MongoID, UserID, UID, Email, Username.
func ResolveNamespace(p *Principal) Namespace {
	if p == nil {
		return AnonymousNamespace
	}
	for _, raw := range []string{p.ID, p.MongoID, p.UserID, p.UID, p.Email, p.Username} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		return Namespace(sanitizeForKey(raw))
	}
	return AnonymousNamespace
}

// StorageKey composes the collection name for base within ns.
func StorageKey(base string, ns Namespace) string {
	return base + ":" + string(ns)
}

func sanitizeForKey(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = unsafeKeyChars.ReplaceAllString(s, "_")
	if len(s) > maxNamespaceLen {
		s = s[:maxNamespaceLen]
	}
	// "." and ".." are path components, not directory names.
	if strings.Trim(s, ".") == "" {
		s = "_" + s
		if len(s) > maxNamespaceLen {
			s = s[:maxNamespaceLen]
		}
	}
	return s
}
