// Package openaicompat serves third-party platforms that speak the OpenAI
// chat completions protocol.
package openaicompat

import (
	"fmt"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/openai"
)

const providerType = "openai-compatible"

// Registration provides factory registration for OpenAI-compatible platforms.
var Registration = providers.Registration{
	Type: providerType,
	New:  New,
}

// Platforms maps well-known platform names to their API base.
var Platforms = map[string]string{
	"anyscale":   "https://api.endpoints.anyscale.com/v1",
	"deepinfra":  "https://api.deepinfra.com/v1/openai",
	"deepseek":   "https://api.deepseek.com",
	"fireworks":  "https://api.fireworks.ai/inference/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"moonshot":   "https://api.moonshot.cn/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"octoai":     "https://text.octoai.run/v1",
	"perplexity": "https://api.perplexity.ai",
	"together":   "https://api.together.xyz/v1",
	"zhipuai":    "https://open.bigmodel.cn/api/paas/v4",
}

// Adapter is an OpenAI adapter whose base URL and models come from config.
// Embedding gives it model discovery through GET /models.
type Adapter struct {
	*openai.Adapter
}

// New creates the adapter. The client name selects a platform when api_base
// is not set. An API key is optional, for self-hosted servers.
func New(cfg config.ProviderConfig) (providers.Adapter, error) {
	name := cfg.ResolvedName()

	baseURL := cfg.APIBase
	if baseURL == "" {
		baseURL = Platforms[name]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("client %q: api_base is required for unknown platform", name)
	}

	models, err := openai.DeclaredModels(cfg, name)
	if err != nil {
		return nil, err
	}

	return &Adapter{Adapter: openai.NewAdapter(openai.Options{
		Name:         name,
		Type:         providerType,
		BaseURL:      baseURL,
		APIKey:       cfg.APIKey,
		Organization: cfg.OrganizationID,
		ChatEndpoint: cfg.ChatEndpoint,
		Models:       models,
	})}, nil
}
