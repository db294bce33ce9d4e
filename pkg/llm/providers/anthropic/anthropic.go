// Package anthropic implements llm.Provider for the Anthropic Messages API
// (streaming via event-typed SSE: explicit "event:"/"data:" framing).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/bitop-dev/sidechat/pkg/llm"
	"github.com/bitop-dev/sidechat/pkg/llm/sse"
)

const defaultBaseURL = "https://api.anthropic.com/v1"
const anthropicVersion = "2023-06-01"
const defaultMaxTokens = 8192

// Provider is the Anthropic streaming adapter.
type Provider struct {
	HTTPClient *http.Client
}

func New() *Provider {
	return &Provider{HTTPClient: &http.Client{Timeout: 10 * time.Minute}}
}

func (p *Provider) Kind() llm.Kind { return llm.KindAnthropic }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *wireImageSource `json:"source,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"`       // "base64"
	MediaType string `json:"media_type"` // e.g. "image/png"
	Data      string `json:"data"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// SSE event payloads
type evContentBlockDelta struct {
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type evMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

type evError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
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
	base := req.Config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/messages", bytes.NewReader(body))
	if err != nil {
		fail(&llm.TransportError{Provider: "anthropic", Err: err})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.Config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		fail(llm.ClassifyStreamErr(ctx, "anthropic", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		fail(llm.NewProviderError("anthropic", resp.StatusCode, raw))
		return
	}

	var full bytes.Buffer
	finishReason := ""
	sawStop := false

	reader := sse.NewReader(llm.NewGuardedReader(ctx, resp.Body, "anthropic", llm.DefaultStallLimit))
	for !sawStop {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(llm.ClassifyStreamErr(ctx, "anthropic", err))
			return
		}

		switch ev.Type {
		case "content_block_delta":
			var cbd evContentBlockDelta
			if json.Unmarshal([]byte(ev.Data), &cbd) != nil {
				continue
			}
			if cbd.Delta.Type == "text_delta" && cbd.Delta.Text != "" {
				full.WriteString(cbd.Delta.Text)
				events <- llm.StreamEvent{Type: llm.EventTextDelta, Delta: cbd.Delta.Text}
			}

		case "message_delta":
			var md evMessageDelta
			if json.Unmarshal([]byte(ev.Data), &md) == nil && md.Delta.StopReason != "" {
				finishReason = mapStopReason(md.Delta.StopReason)
			}

		case "message_stop":
			sawStop = true

		case "error":
			var ee evError
			msg := ev.Data
			code := ""
			if json.Unmarshal([]byte(ev.Data), &ee) == nil && ee.Error.Message != "" {
				msg = ee.Error.Message
				code = ee.Error.Type
			}
			fail(&llm.ProviderError{Provider: "anthropic", StatusCode: resp.StatusCode, Message: msg, Code: code, RawBody: ev.Data})
			return

			// message_start, content_block_start, content_block_stop and ping
			// frames carry nothing we surface — skipped.
		}
	}

	if !sawStop && finishReason == "" && full.Len() == 0 {
		fail(&llm.EmptyStreamError{Provider: "anthropic"})
		return
	}
	events <- llm.StreamEvent{Type: llm.EventDone, FullText: full.String(), FinishReason: finishReason}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func buildRequest(req llm.Request) wireRequest {
	maxTokens := req.Config.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	wr := wireRequest{
		Model:       req.Config.Model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Stream:      true,
		Temperature: req.Config.Temperature,
	}

	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == llm.RoleUser {
			lastUser = i
		}
	}

	for i, m := range req.Messages {
		content := []wireContent{{Type: "text", Text: m.Content}}
		if req.Image != nil && i == lastUser {
			content = append(content, wireContent{
				Type:   "image",
				Source: &wireImageSource{Type: "base64", MediaType: req.Image.MIMEType, Data: req.Image.Data},
			})
		}
		wr.Messages = append(wr.Messages, wireMessage{Role: string(m.Role), Content: content})
	}
	return wr
}

func mapStopReason(s string) string {
	switch s {
	case "end_turn", "stop_sequence":
		return llm.FinishStop
	case "max_tokens":
		return llm.FinishLength
	default:
		return s
	}
}
