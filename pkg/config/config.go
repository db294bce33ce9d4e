// Package config loads the YAML server configuration: listen address,
// auth, sweep tuning, transcript directory, and a map of named provider
// profiles.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/bitop-dev/sidechat/pkg/llm"
)

// FileConfig is the YAML structure of the config file.
type FileConfig struct {
	// Listen is the HTTP listen address (default ":8484").
	Listen string `yaml:"listen"`

	// AuthToken, when set, requires "Authorization: Bearer <token>" on every
	// request. Can be a literal or "${ENV_VAR}".
	AuthToken string `yaml:"auth_token"`

	// TranscriptDir enables transcript persistence when set.
	TranscriptDir string `yaml:"transcript_dir"`

	// LogLevel: "debug" | "info" | "warn" | "error" (default "info").
	LogLevel string `yaml:"log_level"`

	// Sweep tuning for the request registry (0 = defaults).
	RequestMaxAge time.Duration `yaml:"request_max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Providers maps a profile name to a backend configuration. The profile
	// named "default" is used when a request names none.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one backend profile.
type ProviderConfig struct {
	// Kind: "openai_compatible" | "azure_openai" | "anthropic" | "gemini"
	// (plus common aliases like "openai", "azure", "google").
	Kind string `yaml:"kind"`

	// APIKey can be a literal key or "${ENV_VAR}".
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default endpoint. Required for azure_openai
	// (the deployment URL); optional elsewhere.
	BaseURL string `yaml:"base_url"`

	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	// APIVersion is used by Azure OpenAI (e.g. "2024-12-01-preview").
	APIVersion string `yaml:"api_version"`
}

// Load reads and parses a YAML config file, expanding ${ENV_VAR} references
// before parsing, and validates every provider profile.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse parses raw YAML config bytes. name is used in error messages.
func Parse(data []byte, name string) (*FileConfig, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", name, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *FileConfig) error {
	if cfg.Listen == "" {
		cfg.Listen = ":8484"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", cfg.LogLevel)
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("config: at least one provider profile is required")
	}
	for name, pc := range cfg.Providers {
		if _, err := llm.ParseKind(strings.ToLower(strings.TrimSpace(pc.Kind))); err != nil {
			return fmt.Errorf("config: provider %q: %w", name, err)
		}
		resolved, err := pc.Resolve()
		if err != nil {
			return fmt.Errorf("config: provider %q: %w", name, err)
		}
		if err := resolved.Validate(); err != nil {
			return fmt.Errorf("config: provider %q: %w", name, err)
		}
	}
	return nil
}

// Resolve converts the YAML profile into a per-request llm.Config.
func (pc ProviderConfig) Resolve() (llm.Config, error) {
	kind, err := llm.ParseKind(strings.ToLower(strings.TrimSpace(pc.Kind)))
	if err != nil {
		return llm.Config{}, err
	}
	return llm.Config{
		Kind:        kind,
		APIKey:      pc.APIKey,
		BaseURL:     pc.BaseURL,
		Model:       pc.Model,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		APIVersion:  pc.APIVersion,
	}, nil
}

// Profile returns the resolved llm.Config for name ("" means "default").
func (c *FileConfig) Profile(name string) (llm.Config, error) {
	if name == "" {
		name = "default"
	}
	pc, ok := c.Providers[name]
	if !ok {
		return llm.Config{}, fmt.Errorf("config: unknown provider profile %q", name)
	}
	return pc.Resolve()
}
