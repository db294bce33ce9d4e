// Package providers resolves the closed set of provider kinds to their
// stream adapters.
package providers

import (
	"fmt"

	"github.com/bitop-dev/sidechat/pkg/llm"
	"github.com/bitop-dev/sidechat/pkg/llm/providers/anthropic"
	"github.com/bitop-dev/sidechat/pkg/llm/providers/azure"
	"github.com/bitop-dev/sidechat/pkg/llm/providers/gemini"
	"github.com/bitop-dev/sidechat/pkg/llm/providers/openai"
)

// ForKind returns the adapter for one of the four supported wire formats.
// The switch is exhaustive over llm.Kind; an unknown kind is a configuration
// error, never a silent fallback.
func ForKind(kind llm.Kind) (llm.Provider, error) {
	switch kind {
	case llm.KindOpenAICompatible:
		return openai.New(), nil
	case llm.KindAzureOpenAI:
		return azure.New(), nil
	case llm.KindAnthropic:
		return anthropic.New(), nil
	case llm.KindGemini:
		return gemini.New(), nil
	default:
		return nil, &llm.ConfigError{Field: "kind", Reason: fmt.Sprintf("unknown provider kind %q", string(kind))}
	}
}

// Table builds one adapter per kind; useful for long-lived callers that
// want to share HTTP clients across requests.
func Table() map[llm.Kind]llm.Provider {
	return map[llm.Kind]llm.Provider{
		llm.KindOpenAICompatible: openai.New(),
		llm.KindAzureOpenAI:      azure.New(),
		llm.KindAnthropic:        anthropic.New(),
		llm.KindGemini:           gemini.New(),
	}
}
