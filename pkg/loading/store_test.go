package loading

import (
	"testing"
	"time"

	"github.com/bitop-dev/sidechat/pkg/session"
)

func k(s string) session.Key { return session.ParseKey(s) }

func TestStart_OverwritesTerminalEntry(t *testing.T) {
	s := NewStore()
	s.Start(k("T1"), "https://x/")
	if !s.Complete(k("T1"), "first", "stop") {
		t.Fatal("complete failed")
	}

	st := s.Start(k("T1"), "https://x/")
	if st.Status != StatusLoading || st.Result != "" {
		t.Errorf("fresh entry = %+v", st)
	}
	got, _ := s.Get(k("T1"))
	if got.Status != StatusLoading {
		t.Errorf("status = %s, want loading", got.Status)
	}
}

func TestTransitionGuard(t *testing.T) {
	s := NewStore()
	s.Start(k("T1"), "https://x/")

	if !s.Cancel(k("T1")) {
		t.Fatal("cancel failed")
	}
	// Late-arriving completion after cancellation must not win.
	if s.Complete(k("T1"), "late result", "stop") {
		t.Error("complete succeeded on cancelled entry")
	}
	st, _ := s.Get(k("T1"))
	if st.Status != StatusCancelled || st.Result != "" {
		t.Errorf("entry = %+v, want cancelled with no result", st)
	}

	// Same guard in every direction.
	if s.Fail(k("T1"), "boom") || s.Cancel(k("T1")) || s.Expire(k("T1")) {
		t.Error("terminal entry transitioned again")
	}
}

func TestTransitionEntry_IDMatched(t *testing.T) {
	s := NewStore()
	old := s.Start(k("T1"), "https://x/")
	fresh := s.Start(k("T1"), "https://x/") // re-register under the same key

	// The superseded stream's terminal must not touch the new entry.
	if s.CompleteEntry(k("T1"), old.ID, "stale", "stop") {
		t.Error("stale CompleteEntry succeeded")
	}
	if s.CancelEntry(k("T1"), old.ID) {
		t.Error("stale CancelEntry succeeded")
	}
	st, _ := s.Get(k("T1"))
	if st.Status != StatusLoading {
		t.Fatalf("fresh entry disturbed: %+v", st)
	}

	if !s.CompleteEntry(k("T1"), fresh.ID, "real", "stop") {
		t.Error("current CompleteEntry failed")
	}
	if s.FailEntry(k("T1"), fresh.ID, "late") {
		t.Error("FailEntry succeeded on terminal entry")
	}
}

func TestTransition_AbsentKey(t *testing.T) {
	s := NewStore()
	if s.Complete(k("nope"), "r", "") || s.Fail(k("nope"), "e") || s.Cancel(k("nope")) {
		t.Error("transition on absent key succeeded")
	}
}

func TestComplete_RecordsResult(t *testing.T) {
	s := NewStore()
	s.Start(k("T1"), "https://x/")
	if !s.Complete(k("T1"), "Hello", "stop") {
		t.Fatal("complete failed")
	}
	st, _ := s.Get(k("T1"))
	if st.Status != StatusCompleted || st.Result != "Hello" || st.FinishReason != "stop" {
		t.Errorf("entry = %+v", st)
	}
	if !st.Status.Terminal() {
		t.Error("completed not terminal")
	}
}

func TestListActive_OnlyLoading(t *testing.T) {
	s := NewStore()
	s.Start(k("T1"), "https://x/")
	s.Start(k("T2"), "https://y/")
	s.Complete(k("T2"), "done", "")

	active := s.ListActive()
	if len(active) != 1 || active[0].Key != "T1" {
		t.Errorf("active = %+v", active)
	}
}

func TestAggregateForTab_TieBreakLatest(t *testing.T) {
	s := NewStore()
	s.Start(k("T1:B1"), "https://x/")
	time.Sleep(2 * time.Millisecond)
	s.Start(k("T1:B2"), "https://x/")

	st, ok := s.AggregateForTab("T1", "https://x/")
	if !ok {
		t.Fatal("no aggregate found")
	}
	if st.Key != "T1:B2" {
		t.Errorf("aggregate picked %s, want T1:B2", st.Key)
	}
}

func TestAggregateForTab_DirectLoadingWins(t *testing.T) {
	s := NewStore()
	s.Start(k("T1:B1"), "https://x/")
	time.Sleep(2 * time.Millisecond)
	s.Start(k("T1"), "https://x/")

	st, _ := s.AggregateForTab("T1", "https://x/")
	if st.Key != "T1" {
		t.Errorf("aggregate picked %s, want direct key", st.Key)
	}
}

func TestAggregateForTab_URLNormalized(t *testing.T) {
	s := NewStore()
	s.Start(k("T1:B1"), "https://X/  ")

	st, ok := s.AggregateForTab("T1", "  https://x/")
	if !ok || st.Key != "T1:B1" {
		t.Errorf("aggregate = %+v, ok=%v", st, ok)
	}
}

func TestAggregateForTab_FallsBackToTerminal(t *testing.T) {
	s := NewStore()
	s.Start(k("T1"), "https://x/")
	s.Complete(k("T1"), "done", "stop")

	st, ok := s.AggregateForTab("T1", "https://x/")
	if !ok || st.Status != StatusCompleted {
		t.Errorf("aggregate = %+v, ok=%v", st, ok)
	}
}

func TestAggregateForTab_OtherTabExcluded(t *testing.T) {
	s := NewStore()
	s.Start(k("T2:B1"), "https://x/")
	s.Start(k("T10"), "https://x/")

	if _, ok := s.AggregateForTab("T1", "https://x/"); ok {
		t.Error("aggregate matched another tab's branches")
	}
}

func TestClearOperations(t *testing.T) {
	s := NewStore()
	s.Start(k("T1"), "https://x/")
	s.Start(k("T2"), "https://X/")
	s.Start(k("T3"), "https://y/")

	if !s.Clear(k("T1")) {
		t.Error("clear failed")
	}
	if s.Clear(k("T1")) {
		t.Error("second clear returned true")
	}
	if n := s.ClearURL("https://x/"); n != 1 {
		t.Errorf("ClearURL = %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Errorf("%d entries remain, want 1", s.Len())
	}
}

func TestOnTransition_FiresForEveryChange(t *testing.T) {
	s := NewStore()
	var seen []Status
	s.OnTransition = func(st State) { seen = append(seen, st.Status) }

	s.Start(k("T1"), "https://x/")
	s.Complete(k("T1"), "r", "stop")
	s.Start(k("T2"), "https://y/")
	s.Cancel(k("T2"))
	s.Complete(k("T2"), "late", "") // guarded — no notification

	want := []Status{StatusLoading, StatusCompleted, StatusLoading, StatusCancelled}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestIDsMonotonic(t *testing.T) {
	s := NewStore()
	a := s.Start(k("T1"), "https://x/")
	b := s.Start(k("T2"), "https://x/")
	if a.ID >= b.ID {
		t.Errorf("ids not increasing: %s then %s", a.ID, b.ID)
	}
}
