package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tep-monitor/tep-monitor/monitor/llm"
)

// ProvidersConfig is the providers.yaml document.
type ProvidersConfig struct {
	Providers []ProviderEntry `yaml:"providers"`
	Version   string          `yaml:"version"`
}

// ProviderEntry configures one LLM adapter. APIKeyEnv names the environment
// variable holding the credential so keys never live in the file.
type ProviderEntry struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // openai | anthropic | ollama
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// LoadProviders reads providers.yaml and builds the adapter set. A missing
// file is not an error; the monitor then runs detection-only.
func LoadProviders(path string) ([]llm.Provider, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg ProvidersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var providers []llm.Provider
	for _, e := range cfg.Providers {
		if e.Name == "" || e.Model == "" {
			return nil, fmt.Errorf("provider entries need name and model (got name=%q model=%q)", e.Name, e.Model)
		}
		apiKey := ""
		if e.APIKeyEnv != "" {
			apiKey = os.Getenv(e.APIKeyEnv)
			if apiKey == "" && e.Kind != "ollama" {
				return nil, fmt.Errorf("provider %s: environment variable %s is empty", e.Name, e.APIKeyEnv)
			}
		}
		switch e.Kind {
		case "openai":
			providers = append(providers, llm.NewOpenAIProvider(e.Name, e.BaseURL, apiKey, e.Model))
		case "anthropic":
			providers = append(providers, llm.NewAnthropicProvider(e.Name, e.BaseURL, apiKey, e.Model))
		case "ollama":
			providers = append(providers, llm.NewOllamaProvider(e.Name, e.BaseURL, e.Model))
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", e.Name, e.Kind)
		}
	}
	return providers, nil
}
