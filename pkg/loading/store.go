// Package loading records the lifecycle of each streaming request so
// observers can query it after the fact: one entry per session key, a
// single guarded transition out of "loading", and best-effort aggregation
// across a tab's branches.
package loading

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bitop-dev/sidechat/pkg/session"
)

// Status is the lifecycle state of one entry. Loading is the only
// non-terminal status; a new request under the same key creates a fresh
// entry rather than resurrecting the old one.
type Status string

const (
	StatusLoading   Status = "loading"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool { return s != StatusLoading }

// State is one entry's snapshot. Copies are returned everywhere; callers
// never see the store's internal value.
type State struct {
	ID        string    `json:"id"` // ulid, monotonic per store
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Result       string `json:"result,omitempty"`        // set on completed
	Error        string `json:"error,omitempty"`         // set on error
	FinishReason string `json:"finish_reason,omitempty"` // set on completed when the backend said
}

// Store is the keyed state machine. Safe for concurrent use.
type Store struct {
	// OnTransition, when set, is invoked (outside the lock) for every state
	// change, including the initial loading entry. The fan-out hangs off it.
	OnTransition func(State)

	mu      sync.Mutex
	entries map[string]*State
	entropy *ulid.MonotonicEntropy
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]*State),
		entropy: ulid.Monotonic(ulid.DefaultEntropy(), 0),
	}
}

// Start inserts a fresh loading entry for key, overwriting any prior
// (terminal or not) entry under the same key.
func (s *Store) Start(key session.Key, url string) State {
	now := time.Now()
	s.mu.Lock()
	st := &State{
		ID:        ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		Key:       key.String(),
		URL:       url,
		Status:    StatusLoading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.entries[st.Key] = st
	snap := *st
	s.mu.Unlock()

	s.notify(snap)
	return snap
}

// Complete transitions loading -> completed. Returns false without mutation
// when the entry is absent or already terminal — the guard against a late
// success callback overwriting a cancellation.
func (s *Store) Complete(key session.Key, result, finishReason string) bool {
	return s.transition(key, func(st *State) {
		st.Status = StatusCompleted
		st.Result = result
		st.FinishReason = finishReason
	})
}

// Fail transitions loading -> error under the same guard.
func (s *Store) Fail(key session.Key, errMsg string) bool {
	return s.transition(key, func(st *State) {
		st.Status = StatusError
		st.Error = errMsg
	})
}

// Cancel transitions loading -> cancelled under the same guard.
func (s *Store) Cancel(key session.Key) bool {
	return s.transition(key, func(st *State) {
		st.Status = StatusCancelled
	})
}

// Expire transitions loading -> timeout under the same guard; fired by the
// registry sweeper for requests that outlived the staleness threshold.
func (s *Store) Expire(key session.Key) bool {
	return s.transition(key, func(st *State) {
		st.Status = StatusTimeout
	})
}

// Entry-matched variants: the stream that called Start resolves its own
// entry by ID, so a terminal arriving after the key was re-registered never
// touches the successor's entry.

// CompleteEntry is Complete guarded by entry identity.
func (s *Store) CompleteEntry(key session.Key, id, result, finishReason string) bool {
	return s.transitionEntry(key, id, func(st *State) {
		st.Status = StatusCompleted
		st.Result = result
		st.FinishReason = finishReason
	})
}

// FailEntry is Fail guarded by entry identity.
func (s *Store) FailEntry(key session.Key, id, errMsg string) bool {
	return s.transitionEntry(key, id, func(st *State) {
		st.Status = StatusError
		st.Error = errMsg
	})
}

// CancelEntry is Cancel guarded by entry identity.
func (s *Store) CancelEntry(key session.Key, id string) bool {
	return s.transitionEntry(key, id, func(st *State) {
		st.Status = StatusCancelled
	})
}

func (s *Store) transition(key session.Key, apply func(*State)) bool {
	return s.transitionEntry(key, "", apply)
}

func (s *Store) transitionEntry(key session.Key, id string, apply func(*State)) bool {
	s.mu.Lock()
	st, ok := s.entries[key.String()]
	if !ok || st.Status != StatusLoading || (id != "" && st.ID != id) {
		s.mu.Unlock()
		return false
	}
	apply(st)
	st.UpdatedAt = time.Now()
	snap := *st
	s.mu.Unlock()

	s.notify(snap)
	return true
}

// Get returns the entry for key, if any.
func (s *Store) Get(key session.Key) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[key.String()]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// ListActive returns every loading entry in a deterministic order
// (oldest update first, key as tie-break).
func (s *Store) ListActive() []State {
	s.mu.Lock()
	out := make([]State, 0, len(s.entries))
	for _, st := range s.entries {
		if st.Status == StatusLoading {
			out = append(out, *st)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// AggregateForTab answers "is anything loading for this tab and URL?"
// without the caller knowing branch ids:
//
//  1. a loading entry under the exact tab key wins;
//  2. otherwise the most recently updated loading entry whose URL matches
//     (case-insensitive, trimmed) and whose key belongs to the tab;
//  3. otherwise the direct (possibly terminal) entry, if present.
func (s *Store) AggregateForTab(tabID, url string) (State, bool) {
	direct, hasDirect := s.Get(session.NewKey(tabID, ""))
	if hasDirect && direct.Status == StatusLoading {
		return direct, true
	}

	wantURL := session.NormalizeURL(url)
	var best State
	found := false
	for _, st := range s.ListActive() {
		if session.NormalizeURL(st.URL) != wantURL {
			continue
		}
		if !session.KeyBelongsTo(st.Key, tabID) {
			continue
		}
		// Strictly-later wins; ties keep the first encountered.
		if !found || st.UpdatedAt.After(best.UpdatedAt) {
			best = st
			found = true
		}
	}
	if found {
		return best, true
	}
	return direct, hasDirect
}

// Clear removes the entry for key unconditionally.
func (s *Store) Clear(key session.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := key.String()
	if _, ok := s.entries[ks]; !ok {
		return false
	}
	delete(s.entries, ks)
	return true
}

// ClearURL removes every entry whose URL matches (case-insensitive,
// trimmed); used by data-deletion workflows. Returns how many were removed.
func (s *Store) ClearURL(url string) int {
	want := session.NormalizeURL(url)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ks, st := range s.entries {
		if session.NormalizeURL(st.URL) == want {
			delete(s.entries, ks)
			n++
		}
	}
	return n
}

// Len reports the total number of entries, any status.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) notify(st State) {
	if s.OnTransition != nil {
		s.OnTransition(st)
	}
}
