package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/cache"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/httpclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/llmclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/modeldata"
	"github.com/IncredibleDevHQ/agent-panel/internal/streaming"
)

// ProviderOptions carries the shared transport and observability settings
// applied to every configured client.
type ProviderOptions struct {
	// HTTPClient, when set, is used by every client and per-client proxy and
	// connect timeout settings are ignored.
	HTTPClient *http.Client
	// HTTP is the base transport configuration; zero uses httpclient.DefaultConfig.
	HTTP *httpclient.ClientConfig
	// Hooks observe every upstream call.
	Hooks llmclient.Hooks
	// OnSignal observes every classified stream signal.
	OnSignal func(provider string, sig streaming.Signal)
	Logger   *slog.Logger
}

// Provider is a configured client: its adapter and the transport that
// carries its requests.
type Provider struct {
	Adapter   Adapter
	Transport *llmclient.Client
	Config    config.ProviderConfig
}

// Registry holds the configured clients in declaration order and resolves
// model IDs against their catalogues.
type Registry struct {
	providers []*Provider
	byName    map[string]*Provider
	logger    *slog.Logger

	mu         sync.RWMutex
	discovered map[string][]core.Model
	cache      cache.Cache
	metadata   *modeldata.ModelList
}

// NewRegistry creates an adapter and a transport for every client. Any
// construction failure, including an unknown vendor type, is fatal.
func NewRegistry(factory *Factory, clients []config.ProviderConfig, opts ProviderOptions) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		byName:     make(map[string]*Provider, len(clients)),
		logger:     logger,
		discovered: make(map[string][]core.Model),
	}

	for _, cfg := range clients {
		adapter, err := factory.Create(cfg)
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", cfg.ResolvedName(), err)
		}
		if _, dup := r.byName[adapter.Name()]; dup {
			return nil, fmt.Errorf("duplicate client name %q", adapter.Name())
		}

		httpClient, err := buildHTTPClient(cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", adapter.Name(), err)
		}

		transport := llmclient.NewWithHTTPClient(httpClient, llmclient.Config{
			ProviderName: adapter.Name(),
			Hooks:        opts.Hooks,
			ErrorParser:  adapter.ParseError,
			Logger:       logger,
		}, authenticator(adapter))

		p := &Provider{Adapter: adapter, Transport: transport, Config: cfg}
		r.providers = append(r.providers, p)
		r.byName[adapter.Name()] = p

		logger.Debug("client initialized", "name", adapter.Name(), "type", adapter.Type(), "models", len(adapter.Models()))
	}

	return r, nil
}

func authenticator(a Adapter) llmclient.HeaderSetter {
	return func(req *http.Request) error {
		return a.Authenticate(req.Header)
	}
}

func buildHTTPClient(cfg config.ProviderConfig, opts ProviderOptions) (*http.Client, error) {
	if opts.HTTPClient != nil {
		return opts.HTTPClient, nil
	}
	var httpCfg httpclient.ClientConfig
	if opts.HTTP != nil {
		httpCfg = *opts.HTTP
	} else {
		httpCfg = httpclient.DefaultConfig()
	}
	httpCfg.Proxy = cfg.Extra.ProxySetting()
	if secs := cfg.Extra.ConnectTimeoutSeconds(); secs > 0 {
		httpCfg.DialTimeout = time.Duration(secs) * time.Second
	}
	return httpclient.NewHTTPClient(&httpCfg)
}

// SetMetadata attaches the registry used to fill in limits and capabilities
// of discovered models.
func (r *Registry) SetMetadata(list *modeldata.ModelList) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = list
}

// SetCache attaches the store used by Refresh and LoadFromCache.
func (r *Registry) SetCache(c cache.Cache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = c
}

// Providers returns the configured clients in declaration order.
func (r *Registry) Providers() []*Provider {
	out := make([]*Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Provider returns the client with the given name.
func (r *Registry) Provider(name string) (*Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// ListModels returns every model in client declaration order. Within a
// client the built-in catalogue comes first, then discovered models it does
// not already list.
func (r *Registry) ListModels() []core.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []core.Model
	for _, p := range r.providers {
		models = append(models, r.modelsOf(p)...)
	}
	return models
}

func (r *Registry) modelsOf(p *Provider) []core.Model {
	declared := p.Adapter.Models()
	extra := r.discovered[p.Adapter.Name()]
	if len(extra) == 0 {
		return declared
	}

	seen := make(map[string]struct{}, len(declared))
	out := make([]core.Model, 0, len(declared)+len(extra))
	for _, m := range declared {
		seen[m.Name] = struct{}{}
		out = append(out, m)
	}
	for _, m := range extra {
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Resolve finds a model by "client:name" or bare name; the first match in
// ListModels order wins. An empty id selects the first model.
func (r *Registry) Resolve(id string) (core.Model, error) {
	models := r.ListModels()
	if id == "" {
		if len(models) == 0 {
			return core.Model{}, core.NewUnknownModelError(id)
		}
		return models[0], nil
	}
	if m, ok := core.FindModel(models, id); ok {
		return m, nil
	}
	return core.Model{}, core.NewUnknownModelError(id)
}

// EnsureCapabilities returns model when it has caps, otherwise the first
// model of the same client that does.
func (r *Registry) EnsureCapabilities(model core.Model, caps core.Capability) (core.Model, error) {
	if model.Supports(caps) {
		return model, nil
	}

	p, ok := r.byName[model.Provider]
	if !ok {
		return core.Model{}, core.NewUnknownModelError(model.ID())
	}

	r.mu.RLock()
	candidates := r.modelsOf(p)
	r.mu.RUnlock()

	for _, m := range candidates {
		if m.Supports(caps) {
			r.logger.Info("switching model for required capabilities",
				"from", model.ID(),
				"to", m.ID(),
				"capabilities", caps.String(),
			)
			return m, nil
		}
	}
	return core.Model{}, core.NewCapabilityUnavailableError(model.Provider, caps)
}

// Adapter returns the adapter serving model.
func (r *Registry) Adapter(model core.Model) (Adapter, error) {
	p, err := r.providerFor(model)
	if err != nil {
		return nil, err
	}
	return p.Adapter, nil
}

func (r *Registry) providerFor(model core.Model) (*Provider, error) {
	p, ok := r.byName[model.Provider]
	if !ok {
		return nil, core.NewUnknownModelError(model.ID())
	}
	return p, nil
}

// LoadFromCache restores discovered models from the attached cache. It
// returns the number of models restored.
func (r *Registry) LoadFromCache(ctx context.Context) (int, error) {
	r.mu.RLock()
	c := r.cache
	r.mu.RUnlock()
	if c == nil {
		return 0, nil
	}

	snapshot, err := c.Get(ctx)
	if err != nil {
		return 0, err
	}
	if snapshot == nil {
		return 0, nil
	}

	discovered := make(map[string][]core.Model)
	total := 0
	for _, p := range r.providers {
		name := p.Adapter.Name()
		if models := snapshot.ModelsFor(name); len(models) > 0 {
			discovered[name] = models
			total += len(models)
		}
	}

	r.mu.Lock()
	r.discovered = discovered
	r.mu.Unlock()

	r.logger.Info("loaded models from cache", "models", total, "cache_updated_at", snapshot.UpdatedAt)
	return total, nil
}

// Refresh queries every client with discovery enabled whose vendor can list
// models, then stores the combined result in the cache. Clients that fail
// keep their previous discovered models. It fails only when every
// discovering client fails.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	discovered := make(map[string][]core.Model, len(r.discovered))
	for k, v := range r.discovered {
		discovered[k] = v
	}
	r.mu.RUnlock()

	var attempted, failed int
	for _, p := range r.providers {
		d, ok := p.Adapter.(ModelDiscoverer)
		if !ok || !p.Config.Discover {
			continue
		}
		attempted++

		models, err := r.discover(ctx, p, d)
		if err != nil {
			failed++
			r.logger.Warn("failed to fetch models from client", "client", p.Adapter.Name(), "error", err)
			continue
		}
		discovered[p.Adapter.Name()] = models
	}

	if attempted > 0 && failed == attempted {
		return fmt.Errorf("failed to fetch models from any client")
	}

	r.mu.Lock()
	r.discovered = discovered
	c := r.cache
	r.mu.Unlock()

	var all []core.Model
	for _, p := range r.providers {
		all = append(all, discovered[p.Adapter.Name()]...)
	}

	r.logger.Info("model registry refreshed", "discovered_models", len(all), "clients", attempted, "failed_clients", failed)

	if c == nil || attempted == 0 {
		return nil
	}
	if err := c.Set(ctx, cache.FromModels(all)); err != nil {
		return fmt.Errorf("failed to save models to cache: %w", err)
	}
	return nil
}

// hasDiscovery reports whether any client can list its models.
func (r *Registry) hasDiscovery() bool {
	for _, p := range r.providers {
		if _, ok := p.Adapter.(ModelDiscoverer); ok && p.Config.Discover {
			return true
		}
	}
	return false
}

func (r *Registry) discover(ctx context.Context, p *Provider, d ModelDiscoverer) ([]core.Model, error) {
	resp, err := p.Transport.DoRaw(ctx, d.ModelsRequest())
	if err != nil {
		return nil, err
	}
	models, err := d.ParseModels(resp.Body)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	list := r.metadata
	r.mu.RUnlock()
	return modeldata.Enrich(models, p.Adapter.Type(), list), nil
}

// StartBackgroundRefresh refreshes the registry every interval until the
// returned stop function is called.
func (r *Registry) StartBackgroundRefresh(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				if err := r.Refresh(refreshCtx); err != nil {
					r.logger.Warn("background model refresh failed", "error", err)
				}
				refreshCancel()
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
