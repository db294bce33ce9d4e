package providers_test

import (
	"errors"
	"testing"

	"github.com/bitop-dev/sidechat/pkg/llm"
	"github.com/bitop-dev/sidechat/pkg/llm/providers"
)

func TestForKind_AllFourVariants(t *testing.T) {
	kinds := []llm.Kind{
		llm.KindOpenAICompatible,
		llm.KindAzureOpenAI,
		llm.KindAnthropic,
		llm.KindGemini,
	}
	for _, k := range kinds {
		p, err := providers.ForKind(k)
		if err != nil {
			t.Fatalf("ForKind(%s): %v", k, err)
		}
		if p.Kind() != k {
			t.Errorf("ForKind(%s).Kind() = %s", k, p.Kind())
		}
	}
}

func TestForKind_UnknownKind(t *testing.T) {
	_, err := providers.ForKind("bedrock")
	var ce *llm.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
}

func TestTable_CoversEveryKind(t *testing.T) {
	table := providers.Table()
	if len(table) != 4 {
		t.Fatalf("table has %d entries", len(table))
	}
	for k, p := range table {
		if p.Kind() != k {
			t.Errorf("table[%s].Kind() = %s", k, p.Kind())
		}
	}
}
