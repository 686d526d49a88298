package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKey is the hash holding the shared catalogue.
	DefaultRedisKey = "agentpanel:models"

	// DefaultRedisTTL lets a catalogue expire once no host refreshes it.
	DefaultRedisTTL = 24 * time.Hour

	// Reserved hash fields. Client names cannot start with "_" in practice,
	// every other field is one client's model list.
	versionField   = "_version"
	updatedAtField = "_updated_at"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL, e.g. "redis://:password@host:6379/0".
	URL string
	// Key is the hash key, DefaultRedisKey when empty.
	Key string
	// TTL is refreshed on every Set, DefaultRedisTTL when zero.
	TTL time.Duration
}

// RedisCache stores the catalogue as a Redis hash with one field per client.
// Hosts configured with different clients can share a key: Set only
// overwrites the fields of the clients in the snapshot.
type RedisCache struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisCache connects and pings the server.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisCache(client, cfg), nil
}

func newRedisCache(client redis.UniversalClient, cfg RedisConfig) *RedisCache {
	c := &RedisCache{client: client, key: cfg.Key, ttl: cfg.TTL}
	if c.key == "" {
		c.key = DefaultRedisKey
	}
	if c.ttl == 0 {
		c.ttl = DefaultRedisTTL
	}
	slog.Debug("redis model cache ready", "key", c.key, "ttl", c.ttl)
	return c
}

// Get assembles the snapshot from every client field of the hash. A missing
// key or a hash written by another cache version yields nil, nil.
func (c *RedisCache) Get(ctx context.Context) (*ModelCache, error) {
	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	if v, err := strconv.Atoi(fields[versionField]); err != nil || v != CurrentVersion {
		return nil, nil
	}

	snapshot := &ModelCache{Version: CurrentVersion}
	if ts, err := time.Parse(time.RFC3339Nano, fields[updatedAtField]); err == nil {
		snapshot.UpdatedAt = ts
	}

	providers := make([]string, 0, len(fields))
	for name := range fields {
		if name != versionField && name != updatedAtField {
			providers = append(providers, name)
		}
	}
	sort.Strings(providers)

	for _, name := range providers {
		var models []CachedModel
		if err := json.Unmarshal([]byte(fields[name]), &models); err != nil {
			return nil, fmt.Errorf("failed to parse cached models of %q: %w", name, err)
		}
		snapshot.Models = append(snapshot.Models, models...)
	}
	return snapshot, nil
}

// Set writes one field per client in snapshot and refreshes the TTL, in a
// single transaction.
func (c *RedisCache) Set(ctx context.Context, snapshot *ModelCache) error {
	values := map[string]any{
		versionField:   strconv.Itoa(CurrentVersion),
		updatedAtField: snapshot.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for provider, models := range snapshot.byProvider() {
		data, err := json.Marshal(models)
		if err != nil {
			return fmt.Errorf("failed to marshal models of %q: %w", provider, err)
		}
		values[provider] = data
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key, values)
		pipe.Expire(ctx, c.key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write cache to redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
