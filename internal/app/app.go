// Package app wires configuration, logging, metrics, the model registry and
// the chat client, and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/httpclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/observability"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/anthropic"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/azureopenai"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/ollama"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/openai"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/openaicompat"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/qianwen"
)

// App represents the application with all its dependencies.
type App struct {
	config    *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	providers *providers.InitResult
	client    *providers.Client

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the options for creating an App.
type Config struct {
	// AppConfig is the loaded configuration. Required.
	AppConfig *config.Config

	// Factory is the vendor table. Nil uses DefaultFactory.
	Factory *providers.Factory

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// TokenCounter enables the pre-flight input budget check. Nil uses
	// core.ApproxTokenCounter.
	TokenCounter core.TokenCounter

	// BackgroundRefresh keeps discovered catalogues fresh. Long-running
	// consumers turn it on.
	BackgroundRefresh bool
}

// DefaultFactory returns a factory with every built-in vendor registered.
func DefaultFactory() *providers.Factory {
	return providers.NewFactory(
		openai.Registration,
		openaicompat.Registration,
		azureopenai.Registration,
		anthropic.Registration,
		qianwen.Registration,
		ollama.Registration,
	)
}

// New creates an App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	factory := cfg.Factory
	if factory == nil {
		factory = DefaultFactory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counter := cfg.TokenCounter
	if counter == nil {
		counter = core.ApproxTokenCounter
	}

	appCfg := cfg.AppConfig
	app := &App{config: appCfg, logger: logger}

	httpCfg := httpConfig(appCfg.HTTP)
	opts := providers.ProviderOptions{HTTP: &httpCfg, Logger: logger}
	if appCfg.Metrics.Enabled {
		app.metrics = observability.NewMetrics()
		opts.Hooks = app.metrics.Hooks()
	}

	providerResult, err := providers.Init(ctx, appCfg, providers.InitConfig{
		Factory:           factory,
		Options:           opts,
		BackgroundRefresh: cfg.BackgroundRefresh,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	app.providers = providerResult

	clientOpts := []providers.ClientOption{
		providers.WithTokenCounter(counter),
		providers.WithLogger(logger),
	}
	if app.metrics != nil {
		clientOpts = append(clientOpts, providers.WithSignalObserver(app.metrics.OnSignal))
	}
	app.client = providers.NewClient(providerResult.Registry, clientOpts...)

	app.logStartupInfo()
	return app, nil
}

// httpConfig overlays the configured timeouts, in seconds, on the transport
// defaults.
func httpConfig(cfg config.HTTPConfig) httpclient.ClientConfig {
	c := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		c.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	if cfg.ResponseHeaderTimeout > 0 {
		c.ResponseHeaderTimeout = time.Duration(cfg.ResponseHeaderTimeout) * time.Second
	}
	return c
}

// Client returns the chat client.
func (a *App) Client() *providers.Client {
	return a.client
}

// Registry returns the model registry.
func (a *App) Registry() *providers.Registry {
	if a.providers == nil {
		return nil
	}
	return a.providers.Registry
}

// Metrics returns the collectors, or nil when metrics are disabled.
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// ServeMetrics exposes the metrics endpoint until ctx is cancelled. It
// returns immediately when metrics are disabled.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.metrics == nil {
		return nil
	}
	a.logger.Info("serving metrics", "address", a.config.Metrics.Address, "endpoint", a.config.Metrics.Endpoint)
	return a.metrics.Serve(ctx, a.config.Metrics.Address, a.config.Metrics.Endpoint)
}

// ResolveModel picks the model for req: id, else the configured default,
// else the first model. When the pick lacks the capabilities req needs, a
// sibling model from the same client is chosen.
func (a *App) ResolveModel(id string, req *core.Request) (core.Model, error) {
	if id == "" {
		id = a.config.Model
	}
	model, err := a.Registry().Resolve(id)
	if err != nil {
		return core.Model{}, err
	}
	if req == nil {
		return model, nil
	}
	return a.Registry().EnsureCapabilities(model, req.RequiredCapabilities())
}

// NewRequest builds a request carrying the configured sampling defaults.
func (a *App) NewRequest(messages []core.Message, functions []core.FunctionDeclaration) *core.Request {
	return &core.Request{
		Messages:    messages,
		Functions:   functions,
		Temperature: a.config.Temperature,
		TopP:        a.config.TopP,
	}
}

// Shutdown releases the provider subsystem (background refresh, cache
// connection). It is idempotent.
func (a *App) Shutdown(_ context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	var errs []error
	if a.providers != nil {
		if err := a.providers.Close(); err != nil {
			a.logger.Error("providers close error", "error", err)
			errs = append(errs, fmt.Errorf("providers close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (a *App) logStartupInfo() {
	cfg := a.config

	names := make([]string, 0, len(cfg.Clients))
	for _, c := range cfg.Clients {
		names = append(names, c.ResolvedName())
	}
	a.logger.Debug("clients configured", "clients", names, "models", len(a.Registry().ListModels()))

	if cfg.Metrics.Enabled {
		a.logger.Debug("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}
	a.logger.Debug("model cache configured", "type", cfg.Cache.Type)
}
