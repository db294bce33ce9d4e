package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bitop-dev/sidechat/pkg/loading"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector gathers delivered events and lets tests wait for a count.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) fn(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.events)
		snap := append([]Event(nil), c.events...)
		c.mu.Unlock()
		if got >= n {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d events, want %d", got, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPublish_ExactURLMatch(t *testing.T) {
	h := NewHub(nil)
	var c collector
	defer h.Subscribe("https://x/", c.fn)()

	h.Publish(Event{URL: "  https://X/", Status: loading.StatusLoading})
	h.Publish(Event{URL: "https://y/", Status: loading.StatusLoading})

	evs := c.waitFor(t, 1)
	time.Sleep(10 * time.Millisecond)
	evs = c.waitFor(t, 1)
	if len(evs) != 1 {
		t.Fatalf("delivered %d events, want 1", len(evs))
	}
	if evs[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestPublish_HostSuffixMatch(t *testing.T) {
	h := NewHub(nil)
	var c collector
	defer h.Subscribe("example.com", c.fn)()

	h.Publish(Event{URL: "https://docs.example.com/page"})
	h.Publish(Event{URL: "https://example.com/"})
	h.Publish(Event{URL: "https://notexample.com/"}) // suffix of the string, not the host

	evs := c.waitFor(t, 2)
	time.Sleep(10 * time.Millisecond)
	evs = c.waitFor(t, 2)
	if len(evs) != 2 {
		t.Fatalf("delivered %d events, want 2", len(evs))
	}
}

func TestPublish_EmptyInterestMatchesAll(t *testing.T) {
	h := NewHub(nil)
	var c collector
	defer h.Subscribe("", c.fn)()

	h.Publish(Event{URL: "https://a/"})
	h.Publish(Event{URL: "https://b/"})
	c.waitFor(t, 2)
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	var c collector
	unsub := h.Subscribe("", c.fn)

	h.Publish(Event{URL: "https://a/"})
	c.waitFor(t, 1)

	unsub()
	unsub() // second call is a no-op
	if h.Len() != 0 {
		t.Fatalf("hub has %d subs after unsubscribe", h.Len())
	}

	h.Publish(Event{URL: "https://a/"})
	time.Sleep(10 * time.Millisecond)
	if evs := c.waitFor(t, 1); len(evs) != 1 {
		t.Errorf("delivered %d events, want 1", len(evs))
	}
}

func TestPublish_OrderedPerSubscriber(t *testing.T) {
	h := NewHub(nil)
	var c collector
	defer h.Subscribe("", c.fn)()

	const n = 200
	for i := 0; i < n; i++ {
		h.Publish(Event{URL: "https://x/", Key: fmt.Sprintf("%d", i)})
	}

	evs := c.waitFor(t, n)
	for i, ev := range evs {
		if ev.Key != fmt.Sprintf("%d", i) {
			t.Fatalf("event %d has key %s; delivery out of publish order", i, ev.Key)
		}
	}
}

func TestPublish_StatusSequencePreserved(t *testing.T) {
	h := NewHub(nil)
	var c collector
	defer h.Subscribe("https://x/", c.fn)()

	// A key's lifecycle must never be observed reordered: an observer that
	// sees "completed" before "loading" believes the key is still in flight.
	h.Publish(Event{URL: "https://x/", Key: "T1", Status: loading.StatusLoading})
	h.Publish(Event{URL: "https://x/", Key: "T1", Status: loading.StatusCompleted})

	evs := c.waitFor(t, 2)
	if evs[0].Status != loading.StatusLoading || evs[1].Status != loading.StatusCompleted {
		t.Errorf("statuses = [%s %s], want [loading completed]", evs[0].Status, evs[1].Status)
	}
}

func TestPublish_PanickingObserverIsolated(t *testing.T) {
	h := NewHub(nil)
	var c collector
	defer h.Subscribe("", func(Event) { panic("observer bug") })()
	defer h.Subscribe("", c.fn)()

	h.Publish(Event{URL: "https://a/"})
	c.waitFor(t, 1)
}

func TestPublishState_CarriesSnapshot(t *testing.T) {
	h := NewHub(nil)
	var c collector
	defer h.Subscribe("", c.fn)()

	h.PublishState(loading.State{
		Key:          "T1",
		URL:          "https://x/",
		Status:       loading.StatusCompleted,
		Result:       "Hello",
		FinishReason: "stop",
		UpdatedAt:    time.Unix(100, 0),
	})

	evs := c.waitFor(t, 1)
	ev := evs[0]
	if ev.Key != "T1" || ev.Status != loading.StatusCompleted || ev.Result != "Hello" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Unix(100, 0)) {
		t.Errorf("timestamp = %v, want store UpdatedAt", ev.Timestamp)
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		interest, url string
		want          bool
	}{
		{"", "https://anything/", true},
		{"https://x/", "https://x/", true},
		{"https://x/", "https://X/ ", true},
		{"https://x/", "https://x/page", false},
		{"example.com", "https://example.com/a", true},
		{"example.com", "https://sub.example.com/a", true},
		{"example.com", "https://badexample.com/a", false},
		{"example.com", "not a url", false},
	}
	for _, tc := range cases {
		if got := Matches(tc.interest, tc.url); got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tc.interest, tc.url, got, tc.want)
		}
	}
}
