package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

const sampleConfig = `
model: openai:gpt-4-turbo-preview
temperature: 0.2
log:
  level: debug
clients:
  - type: openai
    api_key: "${TEST_OPENAI_KEY:-sk-default}"
    extra:
      proxy: socks5://127.0.0.1:1080
      connect_timeout: 5
  - type: claude
  - type: openai-compatible
    name: groq
    models:
      - name: llama3-70b-8192
        max_input_tokens: 8192
  - type: ollama
    api_base: http://localhost:11434
    extra:
      proxy: ""
    models:
      - name: llava
        capabilities: text,vision
        extra_fields:
          keep_alive: 5m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Sample(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "")
	t.Setenv("CLAUDE_API_KEY", "sk-ant-env")
	t.Setenv("GROQ_API_KEY", "gsk-env")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "openai:gpt-4-turbo-preview", cfg.Model)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-9)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Clients, 4)
	assert.Equal(t, "sk-default", cfg.Clients[0].APIKey)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.Clients[0].Extra.ProxySetting())
	assert.Equal(t, 5, cfg.Clients[0].Extra.ConnectTimeoutSeconds())

	assert.Equal(t, "claude", cfg.Clients[1].ResolvedName())
	assert.Equal(t, "sk-ant-env", cfg.Clients[1].APIKey)
	assert.Equal(t, "", cfg.Clients[1].Extra.ProxySetting())

	assert.Equal(t, "groq", cfg.Clients[2].ResolvedName())
	assert.Equal(t, "gsk-env", cfg.Clients[2].APIKey)

	assert.Equal(t, "-", cfg.Clients[3].Extra.ProxySetting(), "empty proxy disables proxying")
	models, err := cfg.Clients[3].ModelList("ollama")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.True(t, models[0].Supports(core.CapabilityVision))
	assert.Equal(t, "5m", models[0].ExtraFields["keep_alive"])
}

func TestLoad_EnvExpansionIntoTypedFields(t *testing.T) {
	t.Setenv("TEST_TIMEOUT", "45")
	t.Setenv("TEST_METRICS", "true")
	t.Setenv("HTTP_TIMEOUT", "")
	t.Setenv("METRICS_ENABLED", "")

	cfg, err := Load(writeConfig(t, `
http:
  timeout: ${TEST_TIMEOUT}
metrics:
  enabled: "${TEST_METRICS:-false}"
`))
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.HTTP.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("DOTENV_OPENAI_KEY", "")
	require.NoError(t, os.Unsetenv("DOTENV_OPENAI_KEY"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DOTENV_OPENAI_KEY=sk-from-dotenv\n"), 0o644))

	cfg, err := Load(writeConfig(t, `
clients:
  - type: openai
    api_key: ${DOTENV_OPENAI_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-dotenv", cfg.Clients[0].APIKey)
}

func TestLoad_EnvOverridesDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=warn\n"), 0o644))
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing type",
			content: "clients:\n  - name: x\n",
			wantErr: "type is required",
		},
		{
			name:    "duplicate names",
			content: "clients:\n  - type: openai\n  - type: openai\n",
			wantErr: "duplicate client name",
		},
		{
			name:    "bad capability",
			content: "clients:\n  - type: ollama\n    models:\n      - name: m\n        capabilities: smell\n",
			wantErr: "unknown capability",
		},
		{
			name:    "clients not a list",
			content: "clients: 42\n",
			wantErr: "clients: invalid value",
		},
		{
			name:    "redis without url",
			content: "cache:\n  type: redis\n",
			wantErr: "cache.redis.url",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "local", cfg.Cache.Type)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
	assert.Empty(t, cfg.Clients)
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "AZURE_OPENAI", EnvPrefix("azure-openai"))
	assert.Equal(t, "QIANWEN", EnvPrefix("qianwen"))
}

func TestLoad_ModelDataSource(t *testing.T) {
	t.Setenv("MODEL_LIST_URL", "")
	cfg, err := Load(writeConfig(t, "model_data:\n  url: ./models.json\n"))
	require.NoError(t, err)
	assert.Equal(t, "./models.json", cfg.ModelData.URL)

	t.Setenv("MODEL_LIST_URL", "https://example.com/models.json")
	cfg, err = Load(writeConfig(t, "model_data:\n  url: ./models.json\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/models.json", cfg.ModelData.URL)
}
