// Package notify fans loading-state transitions out to interested
// observers. Delivery is best effort and never blocks the publisher: each
// subscriber owns a FIFO queue drained by one long-lived goroutine, so an
// observer sees its events in publish order, a panicking observer is
// isolated, and a slow observer only delays itself.
package notify

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bitop-dev/sidechat/pkg/loading"
	"github.com/bitop-dev/sidechat/pkg/session"
)

// Event is what observers receive: the entry snapshot plus the publish
// timestamp.
type Event struct {
	Key          string
	URL          string
	Status       loading.Status
	Result       string
	Error        string
	FinishReason string
	Timestamp    time.Time
}

// subscriber serializes delivery for one observer: Publish appends to the
// queue, the drain goroutine works it off in order.
type subscriber struct {
	interest string // normalized; "" matches everything
	fn       func(Event)

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{} // buffered 1; closed on unsubscribe
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain(logger *slog.Logger) {
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.deliver(ev, logger)
		}
	}
}

func (s *subscriber) deliver(ev Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("notify: observer panicked", "interest", s.interest, "panic", r)
		}
	}()
	s.fn(ev)
}

// Hub is the fan-out point. Safe for concurrent use.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscriber
}

// NewHub returns an empty hub. logger may be nil.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{logger: logger, subs: make(map[uint64]*subscriber)}
}

// Subscribe registers fn for events whose URL matches interest: an exact
// (normalized) URL, a host suffix such as "example.com", or "" for all
// events. fn is called from a single goroutine, in publish order. The
// returned function removes the subscription and stops its drain goroutine;
// calling it more than once is harmless.
func (h *Hub) Subscribe(interest string, fn func(Event)) func() {
	sub := &subscriber{
		interest: session.NormalizeURL(interest),
		fn:       fn,
		wake:     make(chan struct{}, 1),
	}
	go sub.drain(h.logger)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()

			sub.mu.Lock()
			sub.closed = true
			close(sub.wake)
			sub.mu.Unlock()
		})
	}
}

// Publish appends ev to every matching subscriber's queue. Publish itself
// never blocks on observers and never fails.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.Lock()
	matched := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if Matches(sub.interest, ev.URL) {
			matched = append(matched, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range matched {
		sub.enqueue(ev)
	}
}

// PublishState adapts a loading-state snapshot into an Event; hand it to
// Store.OnTransition.
func (h *Hub) PublishState(st loading.State) {
	h.Publish(Event{
		Key:          st.Key,
		URL:          st.URL,
		Status:       st.Status,
		Result:       st.Result,
		Error:        st.Error,
		FinishReason: st.FinishReason,
		Timestamp:    st.UpdatedAt,
	})
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Matches reports whether a normalized interest covers eventURL. Empty
// interest matches everything; a full URL must match exactly after
// normalization; anything else is treated as a host pattern matching the
// event URL's host or any subdomain of it.
func Matches(interest, eventURL string) bool {
	if interest == "" {
		return true
	}
	evNorm := session.NormalizeURL(eventURL)
	if interest == evNorm {
		return true
	}
	if strings.Contains(interest, "://") {
		return false
	}
	u, err := url.Parse(evNorm)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	return host == interest || strings.HasSuffix(host, "."+interest)
}
