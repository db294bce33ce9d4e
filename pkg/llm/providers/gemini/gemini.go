// Package gemini implements llm.Provider for the Google Gemini
// streamGenerateContent REST API. The stream is plain JSON per chunk: each
// line carries one response object (array punctuation between chunks is
// tolerated and skipped). No Google SDK dependency — pure HTTP.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bitop-dev/sidechat/pkg/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini streaming adapter.
type Provider struct {
	HTTPClient *http.Client
}

func New() *Provider {
	return &Provider{HTTPClient: &http.Client{Timeout: 10 * time.Minute}}
}

func (p *Provider) Kind() llm.Kind { return llm.KindGemini }

// ---------------------------------------------------------------------------
// Wire types — Gemini REST API
// ---------------------------------------------------------------------------

type wirePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *wireInline `json:"inlineData,omitempty"`
}

type wireInline struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wireGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type wireSystemInstruction struct {
	Parts []wirePart `json:"parts"`
}

type wireRequest struct {
	SystemInstruction *wireSystemInstruction `json:"systemInstruction,omitempty"`
	Contents          []wireContent          `json:"contents"`
	GenerationConfig  wireGenConfig          `json:"generationConfig,omitempty"`
}

type wireChunk struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
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
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s", base, req.Config.Model, req.Config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		fail(&llm.TransportError{Provider: "gemini", Err: err})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		fail(llm.ClassifyStreamErr(ctx, "gemini", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		fail(llm.NewProviderError("gemini", resp.StatusCode, raw))
		return
	}

	var full bytes.Buffer
	finishReason := ""

	br := bufio.NewReaderSize(llm.NewGuardedReader(ctx, resp.Body, "gemini", llm.DefaultStallLimit), 64<<10)
	for finishReason == "" {
		line, err := br.ReadString('\n')
		if chunkJSON := trimFrame(line); chunkJSON != "" {
			var chunk wireChunk
			if json.Unmarshal([]byte(chunkJSON), &chunk) == nil && len(chunk.Candidates) > 0 {
				cand := chunk.Candidates[0]
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					full.WriteString(part.Text)
					events <- llm.StreamEvent{Type: llm.EventTextDelta, Delta: part.Text}
				}
				if cand.FinishReason != "" {
					// Terminal frame — stop reading further.
					finishReason = mapFinishReason(cand.FinishReason)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(llm.ClassifyStreamErr(ctx, "gemini", err))
			return
		}
	}

	if finishReason == "" && full.Len() == 0 {
		fail(&llm.EmptyStreamError{Provider: "gemini"})
		return
	}
	events <- llm.StreamEvent{Type: llm.EventDone, FullText: full.String(), FinishReason: finishReason}
}

// trimFrame strips array punctuation the REST stream wraps chunks in,
// returning the bare JSON object for the line (or "" for punctuation-only
// and blank lines).
func trimFrame(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, ",")
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, ",")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	if s == "" || !strings.HasPrefix(s, "{") {
		return ""
	}
	return s
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func buildRequest(req llm.Request) wireRequest {
	wr := wireRequest{
		GenerationConfig: wireGenConfig{
			Temperature:     req.Config.Temperature,
			MaxOutputTokens: req.Config.MaxTokens,
		},
	}

	if req.System != "" {
		wr.SystemInstruction = &wireSystemInstruction{Parts: []wirePart{{Text: req.System}}}
	}

	lastUser := -1
	for i, m := range req.Messages {
		if m.Role == llm.RoleUser {
			lastUser = i
		}
	}

	for i, m := range req.Messages {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		parts := []wirePart{{Text: m.Content}}
		if req.Image != nil && i == lastUser {
			parts = append(parts, wirePart{InlineData: &wireInline{MIMEType: req.Image.MIMEType, Data: req.Image.Data}})
		}
		wr.Contents = append(wr.Contents, wireContent{Role: role, Parts: parts})
	}
	return wr
}

func mapFinishReason(r string) string {
	switch r {
	case "STOP":
		return llm.FinishStop
	case "MAX_TOKENS":
		return llm.FinishLength
	case "SAFETY", "RECITATION":
		return llm.FinishContentFilter
	default:
		return r
	}
}
