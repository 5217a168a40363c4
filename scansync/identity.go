// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import "strings"

// HintKind tags which identity field anchors a scan document.
type HintKind int

const (
	HintNone HintKind = iota
	HintEmail
	HintUserID
)

func (k HintKind) String() string {
	switch k {
	case HintEmail:
		return "email"
	case HintUserID:
		return "user"
	default:
		return "none"
	}
}

// IdentityHint is the second half of the reconciliation key (localScanId, hint).
// It is resolved once per request: operator email when present, else the linked
// user ID, else none. With HintNone the dedupe key degrades to localScanId alone.
type IdentityHint struct {
	Kind  HintKind
	Value string
}

// ResolveIdentityHint picks the hint from the optional email and user ID.
// Email is trimmed and lower-cased to match how documents store it.
func ResolveIdentityHint(operatorEmail, userID string) IdentityHint {
	if email := normalizeEmail(operatorEmail); email != "" {
		return IdentityHint{Kind: HintEmail, Value: email}
	}
	if uid := strings.TrimSpace(userID); uid != "" {
		return IdentityHint{Kind: HintUserID, Value: uid}
	}
	return IdentityHint{Kind: HintNone}
}

// EmailHint returns an email-anchored hint.
func EmailHint(email string) IdentityHint { return ResolveIdentityHint(email, "") }

// UserHint returns a user-anchored hint.
func UserHint(userID string) IdentityHint { return ResolveIdentityHint("", userID) }

// Key is the stored form of the hint; empty for HintNone.
func (h IdentityHint) Key() string {
	if h.Kind == HintNone {
		return ""
	}
	return h.Kind.String() + ":" + h.Value
}

func (h IdentityHint) IsNone() bool { return h.Kind == HintNone }

func (h IdentityHint) String() string {
	if h.Kind == HintNone {
		return "none"
	}
	return h.Key()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
