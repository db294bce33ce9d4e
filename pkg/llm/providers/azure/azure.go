// Package azure implements llm.Provider for Azure OpenAI.
//
// Azure speaks the same wire format as the OpenAI Chat Completions API but:
//   - URL:  {deployment endpoint}/chat/completions?api-version={version}
//   - Auth: "api-key: {key}" header instead of "Authorization: Bearer {key}"
//
// The deployment endpoint goes in Config.BaseURL, e.g.
// https://myresource.openai.azure.com/openai/deployments/gpt-4o
package azure

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bitop-dev/sidechat/pkg/llm"
	"github.com/bitop-dev/sidechat/pkg/llm/providers/openai"
)

const defaultAPIVersion = "2024-12-01-preview"

// Provider adapts the OpenAI wire codec to Azure's URL and auth scheme.
type Provider struct {
	inner *openai.Provider
}

func New() *Provider {
	inner := &openai.Provider{
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
		Variant:    llm.KindAzureOpenAI,
		Label:      "azure",
		Endpoint:   endpoint,
		Authorize: func(h http.Header, cfg llm.Config) {
			h.Set("api-key", cfg.APIKey)
		},
	}
	return &Provider{inner: inner}
}

func (p *Provider) Kind() llm.Kind { return llm.KindAzureOpenAI }

func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	return p.inner.Stream(ctx, req)
}

func endpoint(cfg llm.Config) string {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(base, "/chat/completions") {
		base += "/chat/completions"
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	return base + "?api-version=" + version
}

// DeploymentURL builds the Azure deployment endpoint from its parts —
// useful when callers have them separately.
func DeploymentURL(resource, deployment string) string {
	return fmt.Sprintf("https://%s.openai.azure.com/openai/deployments/%s", resource, deployment)
}
