package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

func TestLocalCache(t *testing.T) {
	t.Run("GetSetRoundTrip", func(t *testing.T) {
		tmpDir := t.TempDir()
		cacheFile := filepath.Join(tmpDir, "models.json")

		cache := NewLocalCache(cacheFile)
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatalf("expected nil result for empty cache, got %v", result)
		}

		data := &ModelCache{
			Version:   CurrentVersion,
			UpdatedAt: time.Now().UTC(),
			Models: []CachedModel{
				{Provider: "local", Name: "llama3", Capabilities: "text"},
			},
		}
		if err := cache.Set(ctx, data); err != nil {
			t.Fatalf("unexpected error on set: %v", err)
		}

		result, err = cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error on get: %v", err)
		}
		if result == nil {
			t.Fatal("expected result, got nil")
		}
		if len(result.Models) != 1 || result.Models[0].Name != "llama3" {
			t.Errorf("unexpected models: %+v", result.Models)
		}

		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("expected only the cache file, found %d entries", len(entries))
		}
	})

	t.Run("CreateDirectoryIfNeeded", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "nested", "dir", "models.json")
		cache := NewLocalCache(cacheFile)

		if err := cache.Set(context.Background(), &ModelCache{Version: CurrentVersion}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(cacheFile); os.IsNotExist(err) {
			t.Fatal("cache file was not created")
		}
	})

	t.Run("EmptyFilePath", func(t *testing.T) {
		cache := NewLocalCache("")
		ctx := context.Background()

		result, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatal("expected nil result for empty path")
		}
		if err := cache.Set(ctx, &ModelCache{Version: CurrentVersion}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("StaleVersionIgnored", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "models.json")
		if err := os.WriteFile(cacheFile, []byte(`{"version":0,"models":[{"provider":"x","name":"y"}]}`), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		result, err := NewLocalCache(cacheFile).Get(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != nil {
			t.Fatalf("expected stale cache to be ignored, got %+v", result)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		cacheFile := filepath.Join(t.TempDir(), "models.json")
		if err := os.WriteFile(cacheFile, []byte("not valid json"), 0o644); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		if _, err := NewLocalCache(cacheFile).Get(context.Background()); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestFromModelsAndModelsFor(t *testing.T) {
	vision := core.NewModel("local", "llava")
	vision.Capabilities = core.CapabilityText | core.CapabilityVision
	vision.MaxInputTokens = 4096

	snapshot := FromModels([]core.Model{
		core.NewModel("local", "llama3"),
		vision,
		core.NewModel("groq", "mixtral"),
	})
	if snapshot.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", snapshot.Version, CurrentVersion)
	}

	local := snapshot.ModelsFor("local")
	if len(local) != 2 {
		t.Fatalf("expected 2 local models, got %d", len(local))
	}
	if local[0].Name != "llama3" || local[1].Name != "llava" {
		t.Errorf("order not preserved: %v, %v", local[0].Name, local[1].Name)
	}
	if !local[1].Supports(core.CapabilityVision) {
		t.Error("vision capability lost")
	}
	if local[1].MaxInputTokens != 4096 {
		t.Errorf("MaxInputTokens = %d, want 4096", local[1].MaxInputTokens)
	}

	if got := snapshot.ModelsFor("missing"); len(got) != 0 {
		t.Errorf("expected no models, got %d", len(got))
	}

	var nilCache *ModelCache
	if got := nilCache.ModelsFor("local"); got != nil {
		t.Errorf("nil cache returned %v", got)
	}
}

func TestModelsFor_BadCapabilitiesFallBackToText(t *testing.T) {
	snapshot := &ModelCache{Models: []CachedModel{{Provider: "p", Name: "m", Capabilities: "telepathy"}}}
	models := snapshot.ModelsFor("p")
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
	if models[0].Capabilities != core.CapabilityText {
		t.Errorf("capabilities = %v, want text", models[0].Capabilities)
	}
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache(RedisConfig{URL: "not-a-redis-url"}); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestByProvider(t *testing.T) {
	snapshot := FromModels([]core.Model{
		core.NewModel("local", "llama3"),
		core.NewModel("groq", "mixtral"),
		core.NewModel("local", "llava"),
	})
	groups := snapshot.byProvider()
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	local := groups["local"]
	if len(local) != 2 || local[0].Name != "llama3" || local[1].Name != "llava" {
		t.Errorf("unexpected local group: %+v", local)
	}
}

func TestNewRedisCache_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	c := newRedisCache(client, RedisConfig{})
	defer c.Close()

	if c.key != DefaultRedisKey {
		t.Errorf("key = %q, want %q", c.key, DefaultRedisKey)
	}
	if c.ttl != DefaultRedisTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultRedisTTL)
	}

	custom := newRedisCache(client, RedisConfig{Key: "team:models", TTL: time.Minute})
	if custom.key != "team:models" || custom.ttl != time.Minute {
		t.Errorf("unexpected custom settings: %q %v", custom.key, custom.ttl)
	}
}
