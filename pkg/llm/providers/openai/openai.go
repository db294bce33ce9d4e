// Package openai implements llm.Provider for the OpenAI Chat Completions
// API (streaming via SSE). It also serves any OpenAI-compatible endpoint
// (Groq, OpenRouter, local gateways, …) via Config.BaseURL, and is reused
// by the azure package through the Endpoint/Authorize hooks.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitop-dev/sidechat/pkg/llm"
	"github.com/bitop-dev/sidechat/pkg/llm/sse"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider is the OpenAI-compatible streaming adapter.
type Provider struct {
	HTTPClient *http.Client

	// Variant is the kind this instance reports; the azure package overrides
	// it. Zero value means llm.KindOpenAICompatible.
	Variant llm.Kind

	// Label names the provider in errors ("openai" by default).
	Label string

	// Endpoint builds the full request URL from the config. Nil uses
	// {BaseURL}/chat/completions.
	Endpoint func(cfg llm.Config) string

	// Authorize sets auth headers. Nil uses "Authorization: Bearer {key}".
	Authorize func(h http.Header, cfg llm.Config)
}

// New creates a Provider for the plain OpenAI-compatible wire format.
func New() *Provider {
	return &Provider{
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
		Variant:    llm.KindOpenAICompatible,
		Label:      "openai",
	}
}

func (p *Provider) Kind() llm.Kind {
	if p.Variant == "" {
		return llm.KindOpenAICompatible
	}
	return p.Variant
}

func (p *Provider) label() string {
	if p.Label == "" {
		return "openai"
	}
	return p.Label
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string | []wirePart
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chunkChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamChunk struct {
	Choices []chunkChoice `json:"choices"`
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}

	events := make(chan llm.StreamEvent, 64)
	go func() {
		defer close(events)
		p.stream(ctx, req, events)
	}()
	return events, nil
}

func (p *Provider) stream(ctx context.Context, req llm.Request, events chan<- llm.StreamEvent) {
	fail := func(err error) {
		events <- llm.StreamEvent{Type: llm.EventError, Err: err}
	}

	body, _ := json.Marshal(buildRequest(req))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(req.Config), bytes.NewReader(body))
	if err != nil {
		fail(&llm.TransportError{Provider: p.label(), Err: err})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	p.authorize(httpReq.Header, req.Config)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		fail(llm.ClassifyStreamErr(ctx, p.label(), err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		fail(llm.NewProviderError(p.label(), resp.StatusCode, raw))
		return
	}

	var full bytes.Buffer
	finishReason := ""
	sawDone := false

	reader := sse.NewReader(llm.NewGuardedReader(ctx, resp.Body, p.label(), llm.DefaultStallLimit))
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(llm.ClassifyStreamErr(ctx, p.label(), err))
			return
		}
		if ev.Data == "[DONE]" {
			sawDone = true
			break
		}
		if ev.Data == "" {
			continue
		}

		var chunk streamChunk
		if json.Unmarshal([]byte(ev.Data), &chunk) != nil {
			// Unknown frame (usage-only chunks land here too) — skip.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			full.WriteString(choice.Delta.Content)
			events <- llm.StreamEvent{Type: llm.EventTextDelta, Delta: choice.Delta.Content}
		}
		if choice.FinishReason != "" {
			finishReason = mapFinishReason(choice.FinishReason)
		}
	}

	// No explicit terminal frame but text arrived: best-effort completion.
	if !sawDone && finishReason == "" && full.Len() == 0 {
		fail(&llm.EmptyStreamError{Provider: p.label()})
		return
	}
	events <- llm.StreamEvent{Type: llm.EventDone, FullText: full.String(), FinishReason: finishReason}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (p *Provider) endpoint(cfg llm.Config) string {
	if p.Endpoint != nil {
		return p.Endpoint(cfg)
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/chat/completions"
}

func (p *Provider) authorize(h http.Header, cfg llm.Config) {
	if p.Authorize != nil {
		p.Authorize(h, cfg)
		return
	}
	h.Set("Authorization", "Bearer "+cfg.APIKey)
}

func buildRequest(req llm.Request) wireRequest {
	wr := wireRequest{
		Model:       req.Config.Model,
		Stream:      true,
		MaxTokens:   req.Config.MaxTokens,
		Temperature: req.Config.Temperature,
	}

	if req.System != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: req.System})
	}

	for i, m := range req.Messages {
		// The optional image attaches to the last user message.
		if req.Image != nil && m.Role == llm.RoleUser && i == lastUserIdx(req.Messages) {
			url := fmt.Sprintf("data:%s;base64,%s", req.Image.MIMEType, req.Image.Data)
			wr.Messages = append(wr.Messages, wireMessage{
				Role: string(m.Role),
				Content: []wirePart{
					{Type: "text", Text: m.Content},
					{Type: "image_url", ImageURL: &wireImageURL{URL: url}},
				},
			})
			continue
		}
		wr.Messages = append(wr.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return wr
}

func lastUserIdx(msgs []llm.Message) int {
	last := -1
	for i, m := range msgs {
		if m.Role == llm.RoleUser {
			last = i
		}
	}
	return last
}

func mapFinishReason(s string) string {
	switch s {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "content_filter":
		return llm.FinishContentFilter
	default:
		return s
	}
}
