// Package session owns the per-conversation request registry: session keys
// scoped by tab (optionally subdivided into branches), at-most-one in-flight
// request per key, and cooperative cancellation.
package session

import (
	"strings"
)

// Key identifies one conversation thread: a tab, optionally subdivided by a
// branch. Its string form is "tab" or "tab:branch". Keys are opaque to the
// registry and state store but structured for cross-branch aggregation.
type Key struct {
	TabID    string
	BranchID string
}

// NewKey builds a key from its parts. branchID may be empty.
func NewKey(tabID, branchID string) Key {
	return Key{TabID: tabID, BranchID: branchID}
}

// ParseKey splits a key string on the first ":". "T1" and "T1:B2" are both
// valid; anything after the first colon is the branch id.
func ParseKey(s string) Key {
	tab, branch, _ := strings.Cut(s, ":")
	return Key{TabID: tab, BranchID: branch}
}

func (k Key) String() string {
	if k.BranchID == "" {
		return k.TabID
	}
	return k.TabID + ":" + k.BranchID
}

// BelongsTo reports whether the key is the tab itself or one of its
// branches.
func (k Key) BelongsTo(tabID string) bool {
	return k.TabID == tabID
}

// KeyBelongsTo is the string-form check: exact tab match or branch-prefixed
// match ("tab:...").
func KeyBelongsTo(key, tabID string) bool {
	return key == tabID || strings.HasPrefix(key, tabID+":")
}

// NormalizeURL produces the comparison form used for aggregation and
// interest matching: trimmed and lowercased.
func NormalizeURL(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}
