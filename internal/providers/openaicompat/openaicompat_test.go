package openaicompat

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/openai"
)

func TestNew_PlatformBaseURL(t *testing.T) {
	a, err := New(config.ProviderConfig{
		Type:   "openai-compatible",
		Name:   "groq",
		APIKey: "gsk-test",
		Models: []config.ModelConfig{{Name: "llama3-70b-8192", MaxInputTokens: 8192}},
	})
	require.NoError(t, err)

	assert.Equal(t, "groq", a.Name())
	assert.Equal(t, "openai-compatible", a.Type())

	models := a.Models()
	require.Len(t, models, 1)
	assert.Equal(t, "groq:llama3-70b-8192", models[0].ID())
	assert.Equal(t, openai.TokensCountFactors, models[0].TokensCountFactors)

	req, err := a.BuildRequest(&core.Request{Messages: []core.Message{core.User("hi")}}, models[0])
	require.NoError(t, err)
	assert.Equal(t, "https://api.groq.com/openai/v1/chat/completions", req.Endpoint)

	h := http.Header{}
	require.NoError(t, a.Authenticate(h))
	assert.Equal(t, "Bearer gsk-test", h.Get("Authorization"))

	_, ok := a.(providers.ModelDiscoverer)
	assert.True(t, ok, "compatible platforms list models")
}

func TestNew_ExplicitBaseAndEndpoint(t *testing.T) {
	a, err := New(config.ProviderConfig{
		Type:         "openai-compatible",
		Name:         "localai",
		APIBase:      "http://localhost:8080/v1/",
		ChatEndpoint: "/chat",
	})
	require.NoError(t, err)

	req, err := a.BuildRequest(&core.Request{Messages: []core.Message{core.User("hi")}}, core.NewModel("localai", "phi"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1/chat", req.Endpoint)

	h := http.Header{}
	require.NoError(t, a.Authenticate(h), "key is optional")
	assert.Empty(t, h.Get("Authorization"))
}

func TestNew_UnknownPlatform(t *testing.T) {
	_, err := New(config.ProviderConfig{Type: "openai-compatible", Name: "mystery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_base is required")
}

func TestNew_UnnamedNeedsBase(t *testing.T) {
	_, err := New(config.ProviderConfig{Type: "openai-compatible"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `client "openai-compatible"`)

	a, err := New(config.ProviderConfig{Type: "openai-compatible", APIBase: "http://localhost:1234/v1"})
	require.NoError(t, err)
	assert.Equal(t, "openai-compatible", a.Name())
}

func TestPlatformsTable(t *testing.T) {
	for _, name := range []string{
		"anyscale", "deepinfra", "deepseek", "fireworks", "groq", "mistral",
		"moonshot", "openrouter", "octoai", "perplexity", "together", "zhipuai",
	} {
		assert.NotEmpty(t, Platforms[name], name)
	}
}

func TestRegistration(t *testing.T) {
	assert.Equal(t, "openai-compatible", Registration.Type)
	a, err := Registration.New(config.ProviderConfig{Type: "openai-compatible", Name: "groq"})
	require.NoError(t, err)
	assert.Equal(t, Registration.Type, a.Type())
}
