// Package azureopenai serves Azure OpenAI deployments. The wire format is
// OpenAI's; only addressing and authentication differ.
package azureopenai

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/llmclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/openai"
)

const providerType = "azure-openai"

// Registration provides factory registration for Azure OpenAI.
var Registration = providers.Registration{
	Type: providerType,
	New:  New,
}

const defaultAPIVersion = "2024-02-01"

// Adapter addresses a model as an Azure deployment of the same name.
type Adapter struct {
	*openai.Adapter
	apiKey     string
	apiVersion string
}

// New creates the adapter. api_base is the resource endpoint, for example
// https://my-resource.openai.azure.com.
func New(cfg config.ProviderConfig) (providers.Adapter, error) {
	name := cfg.ResolvedName()
	if cfg.APIBase == "" {
		return nil, fmt.Errorf("client %q: api_base is required", name)
	}

	models, err := openai.DeclaredModels(cfg, name)
	if err != nil {
		return nil, err
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	return &Adapter{
		Adapter: openai.NewAdapter(openai.Options{
			Name:    name,
			Type:    providerType,
			BaseURL: cfg.APIBase,
			Models:  models,
		}),
		apiKey:     cfg.APIKey,
		apiVersion: apiVersion,
	}, nil
}

// Authenticate sets the api-key header.
func (a *Adapter) Authenticate(h http.Header) error {
	if a.apiKey == "" {
		return core.NewMissingCredentialError(a.Name(), "api_key")
	}
	h.Set("api-key", a.apiKey)
	return nil
}

// BuildRequest renders the OpenAI body and targets the deployment URL.
func (a *Adapter) BuildRequest(req *core.Request, model core.Model) (*llmclient.Request, error) {
	r, err := a.Adapter.BuildRequest(req, model)
	if err != nil {
		return nil, err
	}
	r.Endpoint = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(a.BaseURL(), "/"),
		url.PathEscape(model.Name),
		url.QueryEscape(a.apiVersion),
	)
	return r, nil
}

// ModelsRequest lists the resource's deployments.
func (a *Adapter) ModelsRequest() llmclient.Request {
	return llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: fmt.Sprintf("%s/openai/deployments?api-version=%s", a.BaseURL(), url.QueryEscape(a.apiVersion)),
	}
}
