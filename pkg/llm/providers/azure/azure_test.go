package azure_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bitop-dev/sidechat/pkg/llm"
	"github.com/bitop-dev/sidechat/pkg/llm/providers/azure"
)

func TestStream_AzureURLAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "az-key" {
			t.Errorf("api-key = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization header leaked: %q", got)
		}
		if got := r.URL.Query().Get("api-version"); got != "2024-12-01-preview" {
			t.Errorf("api-version = %q", got)
		}
		if r.URL.Path != "/openai/deployments/gpt-4o/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	req := llm.Request{
		Config: llm.Config{
			Kind:    llm.KindAzureOpenAI,
			APIKey:  "az-key",
			BaseURL: srv.URL + "/openai/deployments/gpt-4o",
		},
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}

	p := azure.New()
	if p.Kind() != llm.KindAzureOpenAI {
		t.Errorf("Kind = %q", p.Kind())
	}
	events, err := p.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var last llm.StreamEvent
	for ev := range events {
		last = ev
	}
	if last.Type != llm.EventDone || last.FullText != "ok" {
		t.Errorf("terminal = %+v", last)
	}
}

func TestStream_RequiresDeploymentEndpoint(t *testing.T) {
	req := llm.Request{
		Config:   llm.Config{Kind: llm.KindAzureOpenAI, APIKey: "az-key"},
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}
	_, err := azure.New().Stream(context.Background(), req)
	var ce *llm.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
}

func TestDeploymentURL(t *testing.T) {
	got := azure.DeploymentURL("myres", "gpt-4o")
	want := "https://myres.openai.azure.com/openai/deployments/gpt-4o"
	if got != want {
		t.Errorf("DeploymentURL = %q, want %q", got, want)
	}
}
