package providers

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/cache"
	"github.com/IncredibleDevHQ/agent-panel/internal/httpclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/modeldata"
)

// InitResult holds the initialized provider infrastructure and cleanup functions.
type InitResult struct {
	Registry *Registry
	Cache    cache.Cache

	// stopRefresh stops the background refresh goroutine
	stopRefresh func()
}

// Close releases all resources and stops background goroutines.
// Safe to call multiple times.
func (r *InitResult) Close() error {
	if r.stopRefresh != nil {
		r.stopRefresh()
		r.stopRefresh = nil
	}
	if r.Cache != nil {
		c := r.Cache
		r.Cache = nil
		return c.Close()
	}
	return nil
}

// InitConfig holds options for provider initialization.
type InitConfig struct {
	// Factory is the vendor table. Required.
	Factory *Factory
	// Options are applied to every configured client.
	Options ProviderOptions
	// BackgroundRefresh re-runs discovery every cache.refresh_interval
	// seconds. One-shot commands leave it off.
	BackgroundRefresh bool
}

// Init builds the registry for cfg.Clients and attaches the model cache.
//
// Discovered models are restored from the cache first. When the cache is
// empty, discovery runs once before Init returns. A failed discovery is
// logged, not fatal: declared models stay usable.
//
// The caller must call InitResult.Close() during shutdown.
func Init(ctx context.Context, cfg *config.Config, initCfg InitConfig) (*InitResult, error) {
	if initCfg.Factory == nil {
		return nil, fmt.Errorf("InitConfig.Factory is required")
	}
	logger := initCfg.Options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Clients) == 0 {
		return nil, fmt.Errorf("no clients configured")
	}

	registry, err := NewRegistry(initCfg.Factory, cfg.Clients, initCfg.Options)
	if err != nil {
		return nil, err
	}

	modelCache, err := initCache(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	result := &InitResult{Registry: registry, Cache: modelCache}
	if modelCache != nil {
		registry.SetCache(modelCache)
	}

	if cfg.ModelData.URL != "" {
		list, err := fetchModelData(ctx, cfg.ModelData.URL, initCfg.Options)
		if err != nil {
			logger.Warn("failed to load model metadata", "source", cfg.ModelData.URL, "error", err)
		} else {
			registry.SetMetadata(list)
			logger.Debug("model metadata loaded", "source", cfg.ModelData.URL, "models", len(list.Models))
		}
	}

	loaded, err := registry.LoadFromCache(ctx)
	if err != nil {
		logger.Warn("failed to load model cache", "error", err)
	}
	if loaded == 0 && registry.hasDiscovery() {
		if err := registry.Refresh(ctx); err != nil {
			logger.Warn("initial model discovery failed", "error", err)
		}
	}

	logger.Debug("model registry configured",
		"clients", len(registry.Providers()),
		"models", len(registry.ListModels()),
	)

	interval := time.Duration(cfg.Cache.RefreshInterval) * time.Second
	if initCfg.BackgroundRefresh && interval > 0 && registry.hasDiscovery() {
		result.stopRefresh = registry.StartBackgroundRefresh(interval)
	}
	return result, nil
}

// initCache initializes the cache backend named by cfg.Type. "none" returns
// a nil cache.
func initCache(cfg config.CacheConfig, logger *slog.Logger) (cache.Cache, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "redis":
		ttl := time.Duration(cfg.Redis.TTL) * time.Second
		if ttl == 0 {
			ttl = cache.DefaultRedisTTL
		}
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			URL: cfg.Redis.URL,
			Key: cfg.Redis.Key,
			TTL: ttl,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("using redis cache", "key", cfg.Redis.Key)
		return redisCache, nil
	default:
		dir := cfg.CacheDir
		if dir == "" {
			dir = ".cache"
		}
		cacheFile := filepath.Join(dir, "models.json")
		logger.Debug("using local file cache", "path", cacheFile)
		return cache.NewLocalCache(cacheFile), nil
	}
}

func fetchModelData(ctx context.Context, source string, opts ProviderOptions) (*modeldata.ModelList, error) {
	client := opts.HTTPClient
	if client == nil {
		var err error
		if client, err = httpclient.NewHTTPClient(opts.HTTP); err != nil {
			return nil, err
		}
	}
	return modeldata.Fetch(ctx, source, client)
}
