// Package chat ties the pieces together: one Service owns the request
// registry, the loading-state store, the notification hub, and provider
// dispatch, and drives a single streaming call from registration to its
// terminal state transition.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitop-dev/sidechat/pkg/llm"
	"github.com/bitop-dev/sidechat/pkg/llm/providers"
	"github.com/bitop-dev/sidechat/pkg/loading"
	"github.com/bitop-dev/sidechat/pkg/notify"
	"github.com/bitop-dev/sidechat/pkg/session"
	"github.com/bitop-dev/sidechat/pkg/transcript"
)

// Options configures a Service. Zero values get sensible defaults.
type Options struct {
	Logger      *slog.Logger
	Transcripts *transcript.Store // optional; completed results are saved when set

	// Provider resolves a kind to an adapter. Defaults to providers.ForKind;
	// tests substitute stubs here.
	Provider func(llm.Kind) (llm.Provider, error)

	// Sweep tuning for the registry. Zero values use the registry defaults.
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// Outcome is the terminal result of one Send call.
type Outcome struct {
	Key          string
	Status       loading.Status
	Result       string
	FinishReason string
	Err          error // set when Status is error or cancelled
}

// Service orchestrates streaming requests. All methods are safe for
// concurrent use.
type Service struct {
	registry    *session.Registry
	store       *loading.Store
	hub         *notify.Hub
	transcripts *transcript.Store
	provider    func(llm.Kind) (llm.Provider, error)
	logger      *slog.Logger

	// startMu keeps Register and Start a single step: without it, two
	// concurrent Sends for one key could interleave so the superseded
	// request's Start lands after its successor's and overwrites the fresh
	// entry.
	startMu sync.Mutex
}

// NewService wires registry, store, and hub together: every state
// transition is published, and swept requests are recorded as timeouts.
// The sweeper starts immediately; call Shutdown to stop it.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	provider := opts.Provider
	if provider == nil {
		provider = providers.ForKind
	}

	s := &Service{
		registry:    session.NewRegistry(logger),
		store:       loading.NewStore(),
		hub:         notify.NewHub(logger),
		transcripts: opts.Transcripts,
		provider:    provider,
		logger:      logger,
	}
	if opts.MaxAge > 0 {
		s.registry.MaxAge = opts.MaxAge
	}
	s.store.OnTransition = s.hub.PublishState
	s.registry.OnExpire = func(key, url string) {
		s.store.Expire(session.ParseKey(key))
	}
	s.registry.Start(opts.SweepInterval)
	return s
}

// Subscribe registers an observer on the notification hub. See
// notify.Hub.Subscribe for interest matching.
func (s *Service) Subscribe(interest string, fn func(notify.Event)) func() {
	return s.hub.Subscribe(interest, fn)
}

// Send runs one streaming request under key. Any prior request for the
// same key is cancelled by registration. onDelta, when non-nil, receives
// each text fragment as it arrives. The returned error covers pre-flight
// failures only (invalid key, bad configuration); stream failures land in
// the Outcome and the state store.
func (s *Service) Send(ctx context.Context, key session.Key, url string, req llm.Request, onDelta func(string)) (Outcome, error) {
	p, err := s.provider(req.Config.Kind)
	if err != nil {
		return Outcome{}, err
	}

	s.startMu.Lock()
	h, err := s.registry.Register(ctx, key, url)
	if err != nil {
		s.startMu.Unlock()
		return Outcome{}, err
	}
	entry := s.store.Start(key, url)
	s.startMu.Unlock()

	ch, err := p.Stream(h.Context(), req)
	if err != nil {
		// Configuration rejected before any I/O.
		s.store.FailEntry(key, entry.ID, err.Error())
		s.registry.Release(key, h.ID)
		return Outcome{}, err
	}

	out := Outcome{Key: key.String()}
	terminal := false
	for ev := range ch {
		switch ev.Type {
		case llm.EventTextDelta:
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		case llm.EventDone:
			terminal = true
			out.Status = loading.StatusCompleted
			out.Result = ev.FullText
			out.FinishReason = ev.FinishReason
			s.store.CompleteEntry(key, entry.ID, ev.FullText, ev.FinishReason)
			s.saveTranscript(url, ev)
		case llm.EventError:
			terminal = true
			out.Err = ev.Err
			if llm.IsCanceled(ev.Err) {
				out.Status = loading.StatusCancelled
				s.store.CancelEntry(key, entry.ID)
			} else {
				out.Status = loading.StatusError
				s.store.FailEntry(key, entry.ID, ev.Err.Error())
				s.logger.Warn("chat: stream failed", "key", out.Key, "url", url, "err", ev.Err)
			}
		}
	}
	if !terminal {
		out.Status = loading.StatusError
		out.Err = fmt.Errorf("chat: stream closed without terminal event")
		s.store.FailEntry(key, entry.ID, out.Err.Error())
	}

	s.registry.Release(key, h.ID)
	return out, nil
}

func (s *Service) saveTranscript(url string, ev llm.StreamEvent) {
	if s.transcripts == nil {
		return
	}
	rec := transcript.Record{Result: ev.FullText, FinishReason: ev.FinishReason}
	if err := s.transcripts.Save(url, rec); err != nil {
		s.logger.Warn("chat: transcript save failed", "url", url, "err", err)
	}
}

// Cancel aborts the in-flight request for key, if any, and records the
// cancelled state immediately rather than waiting for the adapter to
// observe its token.
func (s *Service) Cancel(key session.Key) bool {
	cancelled := s.registry.Cancel(key)
	s.store.Cancel(key)
	return cancelled
}

// CancelTab aborts every request belonging to tabID and returns how many
// were in flight.
func (s *Service) CancelTab(tabID string) int {
	n := s.registry.CancelTab(tabID)
	for _, st := range s.store.ListActive() {
		if session.KeyBelongsTo(st.Key, tabID) {
			s.store.Cancel(session.ParseKey(st.Key))
		}
	}
	return n
}

// Forget removes all recorded state and any saved transcript for url.
func (s *Service) Forget(url string) error {
	s.store.ClearURL(url)
	if s.transcripts != nil {
		if err := s.transcripts.Delete(url); err != nil {
			return err
		}
	}
	return nil
}

// ForgetKey removes the state entry for a single key.
func (s *Service) ForgetKey(key session.Key) bool {
	return s.store.Clear(key)
}

// Aggregate answers the tab-level loading question; see
// loading.Store.AggregateForTab.
func (s *Service) Aggregate(tabID, url string) (loading.State, bool) {
	return s.store.AggregateForTab(tabID, url)
}

// State returns the entry for one key.
func (s *Service) State(key session.Key) (loading.State, bool) {
	return s.store.Get(key)
}

// Active lists every loading entry.
func (s *Service) Active() []loading.State {
	return s.store.ListActive()
}

// Requests lists in-flight registry entries for diagnostics.
func (s *Service) Requests() []session.ActiveRequest {
	return s.registry.Snapshot()
}

// Shutdown stops the sweeper and cancels everything still in flight,
// recording each as cancelled.
func (s *Service) Shutdown() {
	for _, st := range s.store.ListActive() {
		s.store.Cancel(session.ParseKey(st.Key))
	}
	s.registry.Close()
}
