package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxAge is how old a registered request may get before the
	// sweeper cancels it — bounds leakage from callers that never release.
	DefaultMaxAge = 30 * time.Minute

	// DefaultSweepInterval is how often the sweeper runs.
	DefaultSweepInterval = 10 * time.Minute
)

// ActiveRequest is the diagnostic view of one in-flight request.
type ActiveRequest struct {
	Key       string        `json:"key"`
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	CreatedAt time.Time     `json:"created_at"`
	Age       time.Duration `json:"age"`
}

// Handle is returned by Register and owns the cancellation scope of one
// request. The registry cancels Context() when the key is re-registered,
// cancelled, or swept.
type Handle struct {
	Key       string
	ID        string
	URL       string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is the cancellation token for this request; adapters observe it
// at read boundaries.
func (h *Handle) Context() context.Context { return h.ctx }

type entry struct {
	id        string
	url       string
	createdAt time.Time
	cancel    context.CancelFunc
}

// Registry enforces at-most-one in-flight request per session key. All
// methods are safe for concurrent use; sweep, query and completion paths
// all touch the same map.
type Registry struct {
	// MaxAge and OnExpire must be set before Start.
	MaxAge   time.Duration
	OnExpire func(key, url string) // called outside the lock when the sweeper evicts

	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	stop chan struct{}
	done chan struct{}
}

// NewRegistry returns an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		MaxAge:  DefaultMaxAge,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register atomically replaces any prior request for key: the old entry's
// token is cancelled and evicted, then the new one is inserted. There is no
// window in which two requests for the same key are both active.
func (r *Registry) Register(parent context.Context, key Key, url string) (*Handle, error) {
	ks := key.String()
	if ks == "" || key.TabID == "" {
		return nil, fmt.Errorf("session: register: empty key")
	}
	if url == "" {
		return nil, fmt.Errorf("session: register: empty url")
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		Key:       ks,
		ID:        uuid.New().String(),
		URL:       url,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	r.mu.Lock()
	if prior, ok := r.entries[ks]; ok {
		prior.cancel()
		r.logger.Debug("session: cascading cancel", "key", ks, "prior_id", prior.id)
	}
	r.entries[ks] = &entry{id: h.ID, url: url, createdAt: h.CreatedAt, cancel: cancel}
	r.mu.Unlock()

	return h, nil
}

// Cancel cancels and evicts the request for key. Absent key is a no-op
// returning false.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks := key.String()
	e, ok := r.entries[ks]
	if !ok {
		return false
	}
	e.cancel()
	delete(r.entries, ks)
	return true
}

// CancelTab cancels every request belonging to tabID (the tab key itself
// and all its branches) and returns how many were cancelled.
func (r *Registry) CancelTab(tabID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for ks, e := range r.entries {
		if KeyBelongsTo(ks, tabID) {
			e.cancel()
			delete(r.entries, ks)
			n++
		}
	}
	return n
}

// CancelAll cancels and evicts everything; used for shutdown/reset.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for ks, e := range r.entries {
		e.cancel()
		delete(r.entries, ks)
	}
	return n
}

// Release evicts the entry for key without cancelling, and only when id
// still matches — a finished request never evicts a successor registered
// under the same key.
func (r *Registry) Release(key Key, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks := key.String()
	e, ok := r.entries[ks]
	if !ok || e.id != id {
		return false
	}
	delete(r.entries, ks)
	return true
}

// Snapshot lists all in-flight requests with computed age.
func (r *Registry) Snapshot() []ActiveRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	out := make([]ActiveRequest, 0, len(r.entries))
	for ks, e := range r.entries {
		out = append(out, ActiveRequest{
			Key:       ks,
			ID:        e.id,
			URL:       e.url,
			CreatedAt: e.createdAt,
			Age:       now.Sub(e.createdAt),
		})
	}
	return out
}

// Len reports the number of in-flight requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Start launches the background sweeper. interval <= 0 uses
// DefaultSweepInterval. Call Close to stop it.
func (r *Registry) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-r.stop:
				return
			}
		}
	}()
}

// Sweep cancels and evicts entries older than MaxAge and reports them to
// OnExpire. Exposed so tests and manual maintenance can trigger it directly.
func (r *Registry) Sweep() int {
	type expired struct{ key, url string }
	cutoff := time.Now().Add(-r.MaxAge)

	r.mu.Lock()
	var victims []expired
	for ks, e := range r.entries {
		if e.createdAt.Before(cutoff) {
			e.cancel()
			delete(r.entries, ks)
			victims = append(victims, expired{key: ks, url: e.url})
		}
	}
	r.mu.Unlock()

	for _, v := range victims {
		r.logger.Info("session: swept stale request", "key", v.key, "url", v.url)
		if r.OnExpire != nil {
			r.OnExpire(v.key, v.url)
		}
	}
	return len(victims)
}

// Close stops the sweeper (if started) and cancels everything still
// in flight.
func (r *Registry) Close() {
	if r.stop != nil {
		close(r.stop)
		<-r.done
		r.stop = nil
	}
	r.CancelAll()
}
