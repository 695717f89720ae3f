package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProvidersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProvidersBuildsAdapters(t *testing.T) {
	// GIVEN a config with all three adapter kinds
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	t.Setenv("TEST_ANTHROPIC_KEY", "ak-test")
	path := writeProvidersFile(t, `
version: "1"
providers:
  - name: cloud-a
    kind: openai
    base_url: https://api.openai.com
    model: gpt-test
    api_key_env: TEST_OPENAI_KEY
  - name: cloud-b
    kind: anthropic
    model: claude-test
    api_key_env: TEST_ANTHROPIC_KEY
  - name: local
    kind: ollama
    model: llama-test
`)

	// WHEN loaded
	providers, err := LoadProviders(path)
	require.NoError(t, err)

	// THEN all adapters are built with their configured names
	require.Len(t, providers, 3)
	assert.Equal(t, "cloud-a", providers[0].Name())
	assert.Equal(t, "cloud-b", providers[1].Name())
	assert.Equal(t, "local", providers[2].Name())
}

func TestLoadProvidersMissingFileIsDetectionOnly(t *testing.T) {
	providers, err := LoadProviders(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestLoadProvidersRejectsMissingCredential(t *testing.T) {
	// GIVEN a cloud provider whose key variable is unset
	t.Setenv("TEST_EMPTY_KEY", "")
	path := writeProvidersFile(t, `
providers:
  - name: cloud-a
    kind: openai
    model: gpt-test
    api_key_env: TEST_EMPTY_KEY
`)
	_, err := LoadProviders(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_EMPTY_KEY")
}

func TestLoadProvidersRejectsUnknownKindAndMissingFields(t *testing.T) {
	path := writeProvidersFile(t, `
providers:
  - name: mystery
    kind: bard
    model: m
`)
	_, err := LoadProviders(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")

	path = writeProvidersFile(t, `
providers:
  - kind: ollama
`)
	_, err = LoadProviders(path)
	assert.Error(t, err)
}
