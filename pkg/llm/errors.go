package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Error taxonomy. ConfigError is the only kind reported synchronously from
// Stream; everything else arrives through the terminal EventError.

// ConfigError means the request was rejected before any network call.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("llm: config %s: %s", e.Field, e.Reason)
}

// TransportError wraps a network or connection failure.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is a non-2xx response from the backend. The raw body is
// always kept; Message/Code are filled when the body parses as a known
// error envelope.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Code       string
	RawBody    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.RawBody)
}

// StallError means the stream delivered too many consecutive empty reads —
// the connection is neither closing nor producing data.
type StallError struct {
	Provider  string
	ZeroReads int
}

func (e *StallError) Error() string {
	return fmt.Sprintf("%s: stream stalled after %d empty reads", e.Provider, e.ZeroReads)
}

// EmptyStreamError means the stream closed without a terminal frame and
// without any accumulated text.
type EmptyStreamError struct {
	Provider string
}

func (e *EmptyStreamError) Error() string {
	return e.Provider + ": stream ended without content"
}

// CanceledError marks cooperative cancellation observed at a read boundary.
// Callers use IsCanceled to suppress failure handling for deliberate cancels.
type CanceledError struct {
	Err error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("llm: canceled by caller: %v", e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }

// IsCanceled reports whether err is (or wraps) a cooperative cancellation.
func IsCanceled(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}

// ClassifyStreamErr maps a raw read/transport error into the taxonomy.
// Context cancellation always wins, even when the transport reports it as
// its own error type.
func ClassifyStreamErr(ctx context.Context, provider string, err error) error {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return &CanceledError{Err: err}
	case isTaxonomy(err):
		return err
	default:
		return &TransportError{Provider: provider, Err: err}
	}
}

func isTaxonomy(err error) bool {
	var (
		se *StallError
		ce *CanceledError
		pe *ProviderError
	)
	return errors.As(err, &se) || errors.As(err, &ce) || errors.As(err, &pe)
}

// NewProviderError builds a ProviderError from a non-2xx response body.
// It understands both {"error": {"message": ..., "code": ...}} and
// {"error": "..."} envelopes and falls back to the raw text.
func NewProviderError(provider string, status int, body []byte) *ProviderError {
	pe := &ProviderError{Provider: provider, StatusCode: status, RawBody: string(body)}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil || len(envelope.Error) == 0 {
		return pe
	}

	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
		Status  string `json:"status"`
	}
	if json.Unmarshal(envelope.Error, &obj) == nil && (obj.Message != "" || obj.Type != "") {
		pe.Message = obj.Message
		switch {
		case obj.Type != "":
			pe.Code = obj.Type
		case obj.Status != "":
			pe.Code = obj.Status
		case obj.Code != nil:
			pe.Code = fmt.Sprintf("%v", obj.Code)
		}
		return pe
	}

	var msg string
	if json.Unmarshal(envelope.Error, &msg) == nil {
		pe.Message = msg
	}
	return pe
}
