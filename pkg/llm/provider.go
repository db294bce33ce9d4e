package llm

import "context"

// Provider streams one LLM response for a request.
//
// Stream returns an error only for configuration problems detected before
// any I/O. Once a channel is returned, every other failure — transport,
// non-2xx, stall, cancellation — arrives as the terminal EventError.
//
// Implementations must send exactly one terminal event (EventDone or
// EventError) and then close the channel, even when ctx is cancelled, so
// callers can always range over it safely.
type Provider interface {
	// Kind returns the wire-format variant this adapter speaks.
	Kind() Kind

	// Stream starts the call. Cancellation is cooperative: the adapter
	// observes ctx at read boundaries, so one more chunk may be delivered
	// after ctx is cancelled.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}
