// Package server exposes the chat service over HTTP.
//
// # Wire format
//
// Request (POST /v1/chat, Content-Type: application/json):
//
//	{ "key": "T1:B2", "url": "https://page/", "provider": "default",
//	  "system": "...", "messages": [{"role":"user","content":"hi"}],
//	  "image": {"data":"...","mime_type":"image/png"} }
//
// Response (SSE, Content-Type: text/event-stream):
//
//	data: {"type":"text_delta","delta":"Hello"}
//	data: {"type":"done","full_text":"Hello","finish_reason":"stop"}
//	data: [DONE]
//
// A failed stream ends with {"type":"error","kind":"provider",...} instead
// of "done". Control endpoints (/v1/cancel, /v1/cancel-tab, /v1/status,
// /v1/requests, /v1/state) speak plain JSON.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bitop-dev/sidechat/pkg/chat"
	"github.com/bitop-dev/sidechat/pkg/llm"
	"github.com/bitop-dev/sidechat/pkg/session"
)

// chatSchema validates the /v1/chat request body before any work starts.
const chatSchema = `{
  "type": "object",
  "required": ["key", "url", "messages"],
  "properties": {
    "key":      {"type": "string", "minLength": 1},
    "url":      {"type": "string", "minLength": 1},
    "provider": {"type": "string"},
    "system":   {"type": "string"},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role":    {"type": "string", "enum": ["user", "assistant"]},
          "content": {"type": "string"}
        }
      }
    },
    "image": {
      "type": "object",
      "required": ["data", "mime_type"],
      "properties": {
        "data":      {"type": "string", "minLength": 1},
        "mime_type": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type chatRequest struct {
	Key      string        `json:"key"`
	URL      string        `json:"url"`
	Provider string        `json:"provider,omitempty"`
	System   string        `json:"system,omitempty"`
	Messages []wireMessage `json:"messages"`
	Image    *wireImage    `json:"image,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireImage struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

type wireEvent struct {
	Type         string `json:"type"`
	Delta        string `json:"delta,omitempty"`
	FullText     string `json:"full_text,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Message      string `json:"message,omitempty"`
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

// Handler serves the HTTP surface over a chat.Service.
type Handler struct {
	svc    *chat.Service
	token  string // if non-empty, require Authorization: Bearer <token>
	schema *jsonschema.Schema
	logger *slog.Logger

	// Profile resolves a provider profile name ("" = default) to a backend
	// configuration; usually config.FileConfig.Profile.
	profile func(name string) (llm.Config, error)

	mux *http.ServeMux
}

// NewHandler wires the routes. profile is required; authToken and logger are
// optional.
func NewHandler(svc *chat.Service, profile func(string) (llm.Config, error), authToken string, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	schema, err := compileSchema(chatSchema)
	if err != nil {
		return nil, fmt.Errorf("server: chat schema: %w", err)
	}

	h := &Handler{svc: svc, token: authToken, schema: schema, logger: logger, profile: profile}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", h.handleChat)
	mux.HandleFunc("POST /v1/cancel", h.handleCancel)
	mux.HandleFunc("POST /v1/cancel-tab", h.handleCancelTab)
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/requests", h.handleRequests)
	mux.HandleFunc("DELETE /v1/state", h.handleDeleteState)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if bearer != h.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	h.mux.ServeHTTP(w, r)
}

// compileSchema follows the jsonschema/v6 dance: unmarshal, add as a
// resource, compile.
func compileSchema(raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	const url = "mem://server/chat-request"
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func (h *Handler) validateBody(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return h.schema.Validate(inst)
}

// ---------------------------------------------------------------------------
// POST /v1/chat — streaming
// ---------------------------------------------------------------------------

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validateBody(body); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := h.profile(req.Provider)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	llmReq := llm.Request{System: req.System, Config: cfg}
	for _, m := range req.Messages {
		llmReq.Messages = append(llmReq.Messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	if req.Image != nil {
		llmReq.Image = &llm.Image{Data: req.Image.Data, MIMEType: req.Image.MIMEType}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, canFlush := w.(http.Flusher)

	writeEvent := func(ev wireEvent) {
		data, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if canFlush {
			flusher.Flush()
		}
	}

	key := session.ParseKey(req.Key)
	out, err := h.svc.Send(r.Context(), key, req.URL, llmReq, func(delta string) {
		writeEvent(wireEvent{Type: "text_delta", Delta: delta})
	})
	switch {
	case err != nil:
		writeEvent(wireEvent{Type: "error", Kind: errKind(err), Message: err.Error()})
	case out.Err != nil:
		writeEvent(wireEvent{Type: "error", Kind: errKind(out.Err), Message: out.Err.Error()})
	default:
		writeEvent(wireEvent{Type: "done", FullText: out.Result, FinishReason: out.FinishReason})
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}

// errKind labels an error with its taxonomy kind for the wire.
func errKind(err error) string {
	var (
		ce *llm.ConfigError
		pe *llm.ProviderError
		te *llm.TransportError
		se *llm.StallError
		ee *llm.EmptyStreamError
	)
	switch {
	case llm.IsCanceled(err):
		return "cancelled"
	case errors.As(err, &ce):
		return "config"
	case errors.As(err, &pe):
		return "provider"
	case errors.As(err, &se):
		return "stall"
	case errors.As(err, &ee):
		return "empty_stream"
	case errors.As(err, &te):
		return "transport"
	}
	return "internal"
}

// ---------------------------------------------------------------------------
// Control endpoints
// ---------------------------------------------------------------------------

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Key == "" {
		http.Error(w, "bad request: key is required", http.StatusBadRequest)
		return
	}
	cancelled := h.svc.Cancel(session.ParseKey(req.Key))
	writeJSON(w, map[string]any{"cancelled": cancelled})
}

func (h *Handler) handleCancelTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tab string `json:"tab"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Tab == "" {
		http.Error(w, "bad request: tab is required", http.StatusBadRequest)
		return
	}
	n := h.svc.CancelTab(req.Tab)
	writeJSON(w, map[string]any{"cancelled": n})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("tab")
	url := r.URL.Query().Get("url")
	if tab == "" {
		http.Error(w, "bad request: tab is required", http.StatusBadRequest)
		return
	}
	st, ok := h.svc.Aggregate(tab, url)
	if !ok {
		http.Error(w, "no state for tab", http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

func (h *Handler) handleRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Requests())
}

// handleDeleteState removes recorded state (and any transcript) for a URL,
// or the single entry for a key.
func (h *Handler) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("url") != "":
		if err := h.svc.Forget(q.Get("url")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	case q.Get("key") != "":
		writeJSON(w, map[string]any{"ok": h.svc.ForgetKey(session.ParseKey(q.Get("key")))})
	default:
		http.Error(w, "bad request: url or key is required", http.StatusBadRequest)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func readBody(r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(nil, r.Body, 10<<20)); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
