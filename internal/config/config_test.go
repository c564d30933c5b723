package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
		for _, a := range s.aliases {
			t.Setenv(a, "")
		}
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "gemini", cfg.Engine.Backend)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 610*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 0.3, cfg.Generation.Temperature)
	assert.False(t, cfg.Retrieval.StrictSourceMatch)
	assert.False(t, cfg.Pipeline.ManualGuide)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestTOMLParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
[server]
port = 5000

[engine]
backend = "ollama"

[ollama]
model = "qwen2.5"

[retrieval]
strict_source_match = true

[pipeline]
manual_guide = "true"

[tools]
listener_url = "http://10.0.0.5:5000"
timeout = "2m"
`)

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.Engine.Backend)
	assert.Equal(t, "qwen2.5", cfg.Ollama.Model)
	assert.True(t, cfg.Retrieval.StrictSourceMatch)
	assert.True(t, cfg.Pipeline.ManualGuide)
	assert.Equal(t, "http://10.0.0.5:5000", cfg.Tools.ListenerURL)
	assert.Equal(t, 2*time.Minute, cfg.Tools.Timeout)
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
[server]
port = 5000
`)
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("CYBERMENTOR_SERVER_PORT", "6000")
	t.Setenv("KALI_LISTENER_URL", "http://kali.local:5000")

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "env-key", cfg.Gemini.APIKey)
	assert.Equal(t, "http://kali.local:5000", cfg.Tools.ListenerURL)
}

func TestEnvPrimaryNameBeatsAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "alias")
	t.Setenv("CYBERMENTOR_GEMINI_API_KEY", "primary")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Gemini.APIKey)
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("CYBERMENTOR_GENERATION_TIMEOUT", "soon")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Generation.Timeout)
}

func TestMissingGeminiKey(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestOllamaBackendNeedsNoKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("CYBERMENTOR_ENGINE_BACKEND", "Ollama")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Engine.Backend)
}

func TestValidationRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("CYBERMENTOR_ENGINE_BACKEND", "openai")

	_, err := loadWith(newFileBackend(writeTempConfig(t, "")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestSetKeyRoundTrip(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, setKeyWith(newFileBackend(path), "server.port", "4200"))
	require.NoError(t, setKeyWith(newFileBackend(path), "retrieval.strict_source_match", "true"))
	require.NoError(t, setKeyWith(newFileBackend(path), "generation.timeout", "45s"))

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)
	assert.Equal(t, 4200, cfg.Server.Port)
	assert.True(t, cfg.Retrieval.StrictSourceMatch)
	assert.Equal(t, 45*time.Second, cfg.Generation.Timeout)
}

func TestSetKeyRejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.toml"))

	assert.Error(t, setKeyWith(b, "gemini.api_key", "x"), "secrets are env-only")
	assert.Error(t, setKeyWith(b, "server.port", "abc"))
	assert.Error(t, setKeyWith(b, "pipeline.manual_guide", "maybe"))
	assert.Error(t, setKeyWith(b, "no.such.key", "1"))
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Gemini.APIKey = "super-secret"

	for _, k := range ShowAll(cfg) {
		assert.NotEqual(t, "gemini.api_key", k.Key)
		assert.NotEqual(t, "super-secret", k.Value)
	}
	assert.Contains(t, ValidKeys(), "retrieval.strict_source_match")
	assert.NotContains(t, ValidKeys(), "server.api_token")
}

func TestAPIToken(t *testing.T) {
	cfg := defaults()
	cfg.Storage.DataDir = t.TempDir()

	first, err := APIToken(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := APIToken(cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second, "token must be persisted")

	cfg.Server.APIToken = "explicit"
	tok, err := APIToken(cfg)
	require.NoError(t, err)
	assert.Equal(t, "explicit", tok)
}

func TestSetKeyStoresCanonicalForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	b := newFileBackend(path)

	require.NoError(t, setKeyWith(b, "tools.timeout", "90s"))
	require.NoError(t, setKeyWith(b, "pipeline.manual_guide", "1"))

	reread := newFileBackend(path)
	v, ok, err := reread.GetString("tools.timeout")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1m30s", v)

	v, _, _ = reread.GetString("pipeline.manual_guide")
	assert.Equal(t, "true", v)
}
