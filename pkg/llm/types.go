// Package llm defines the core types for streaming LLM calls: messages,
// per-request provider configuration, the uniform stream event protocol,
// and the provider interface.
package llm

import "fmt"

// ---------------------------------------------------------------------------
// Provider kinds
// ---------------------------------------------------------------------------

// Kind identifies one of the supported backend wire formats. The set is
// closed: dispatch switches over these four values exhaustively.
type Kind string

const (
	KindOpenAICompatible Kind = "openai_compatible"
	KindAzureOpenAI      Kind = "azure_openai"
	KindAnthropic        Kind = "anthropic"
	KindGemini           Kind = "gemini"
)

// ParseKind maps a provider-kind string (and a few common aliases) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "openai_compatible", "openai", "openai-compatible":
		return KindOpenAICompatible, nil
	case "azure_openai", "azure", "azure-openai":
		return KindAzureOpenAI, nil
	case "anthropic":
		return KindAnthropic, nil
	case "gemini", "google":
		return KindGemini, nil
	}
	return "", &ConfigError{Field: "provider", Reason: fmt.Sprintf("unknown provider kind %q", s)}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn. Content is plain text; an optional
// image rides on the request, not on individual messages.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Image is an optional base64-encoded attachment sent with the request.
type Image struct {
	Data     string `json:"data"`      // base64
	MIMEType string `json:"mime_type"` // e.g. "image/png"
}

// ---------------------------------------------------------------------------
// Per-request provider configuration
// ---------------------------------------------------------------------------

// Config carries everything an adapter needs to reach one backend. It is
// resolved by the caller (config file, UI, …) before the stream starts.
type Config struct {
	Kind        Kind     `json:"kind"`
	APIKey      string   `json:"api_key"`
	BaseURL     string   `json:"base_url,omitempty"` // empty = provider default
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`

	// APIVersion is used by Azure OpenAI (e.g. "2024-12-01-preview").
	APIVersion string `json:"api_version,omitempty"`
}

// Validate fails fast on missing fields before any network I/O.
func (c Config) Validate() error {
	switch c.Kind {
	case KindOpenAICompatible, KindAnthropic, KindGemini:
		// Model and key are always required; BaseURL has a default.
	case KindAzureOpenAI:
		if c.BaseURL == "" {
			return &ConfigError{Field: "base_url", Reason: "azure_openai requires the deployment endpoint"}
		}
	default:
		return &ConfigError{Field: "kind", Reason: fmt.Sprintf("unknown provider kind %q", string(c.Kind))}
	}
	if c.APIKey == "" {
		return &ConfigError{Field: "api_key", Reason: "missing API key"}
	}
	if c.Model == "" && c.Kind != KindAzureOpenAI {
		// Azure encodes the deployment (model) in the endpoint URL.
		return &ConfigError{Field: "model", Reason: "missing model"}
	}
	return nil
}

// Request is the full input for one streaming call.
type Request struct {
	System   string
	Messages []Message
	Image    *Image
	Config   Config
}

// ---------------------------------------------------------------------------
// Stream events
// ---------------------------------------------------------------------------

type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// StreamEvent is the provider-agnostic union emitted by every adapter.
// A stream carries zero or more EventTextDelta events followed by exactly
// one terminal event (EventDone or EventError), after which the channel is
// closed.
type StreamEvent struct {
	Type EventType

	// EventTextDelta
	Delta string

	// EventDone
	FullText     string
	FinishReason string // normalized; empty when the backend never said

	// EventError
	Err error
}

// Canonical finish reasons. Providers map their native values onto these;
// unrecognized values pass through raw.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
)
