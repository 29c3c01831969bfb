package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":8090", cfg.Server.Addr)
	require.Equal(t, 2*time.Second, cfg.Broadcast.GracePeriod)
	require.Equal(t, 30*time.Second, cfg.Convex.Timeout)
	require.NotEmpty(t, cfg.SettingsPath)
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  allowed_origins: ["http://localhost:1420"]
convex:
  url: "https://example.convex.cloud"
  api_key: "ck-123"
  timeout_seconds: 10
broadcast:
  endpoint: "http://localhost:9000/api/broadcasts/stream"
  grace_period_ms: 500
settings_path: "/tmp/nexus-settings.json"
providers:
  openai:
    base_url: "https://api.openai.com/v1"
    api_key: "sk-abc"
    timeout_seconds: 60
destinations:
  - id: "gpt"
    provider: "openai"
    model: "gpt-test"
    display_name: "GPT Test"
    tier: "premium"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, "https://example.convex.cloud", cfg.Convex.URL)
	require.Equal(t, 10*time.Second, cfg.Convex.Timeout)
	require.Equal(t, 500*time.Millisecond, cfg.Broadcast.GracePeriod)
	require.Equal(t, "/tmp/nexus-settings.json", cfg.SettingsPath)

	provider, ok := cfg.Providers["openai"]
	require.True(t, ok)
	require.Equal(t, 60*time.Second, provider.Timeout)

	catalog := cfg.Catalog()
	require.Len(t, catalog, 1)
	require.Equal(t, "gpt", catalog[0].ID)
	require.Equal(t, "openai", catalog[0].ProviderID)
	require.Equal(t, "premium", catalog[0].Tier)
}

func TestLoadMissingExplicitFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NEXUS_SERVER_ADDR", ":7777")

	path := writeConfig(t, "{}\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Server.Addr)
}
