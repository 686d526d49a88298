// Package cache stores model catalogues discovered from providers so the
// next start can list them without a network round trip.
// Supports a local file backend and a Redis backend shared by several hosts.
package cache

import (
	"context"
	"time"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

// CurrentVersion is written into every ModelCache.
const CurrentVersion = 1

// ModelCache is the stored catalogue snapshot.
type ModelCache struct {
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
	Models    []CachedModel `json:"models"`
}

// CachedModel is one discovered model. Provider is the configured client
// name, not the vendor type.
type CachedModel struct {
	Provider        string `json:"provider"`
	Name            string `json:"name"`
	Capabilities    string `json:"capabilities,omitempty"`
	MaxInputTokens  int    `json:"max_input_tokens,omitempty"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
}

// FromModels builds a snapshot from discovered models.
func FromModels(models []core.Model) *ModelCache {
	cached := make([]CachedModel, 0, len(models))
	for _, m := range models {
		cached = append(cached, CachedModel{
			Provider:        m.Provider,
			Name:            m.Name,
			Capabilities:    m.Capabilities.String(),
			MaxInputTokens:  m.MaxInputTokens,
			MaxOutputTokens: m.MaxOutputTokens,
		})
	}
	return &ModelCache{
		Version:   CurrentVersion,
		UpdatedAt: time.Now().UTC(),
		Models:    cached,
	}
}

// ModelsFor returns the cached models of one provider in stored order.
// Entries with unparseable capabilities fall back to text only.
func (c *ModelCache) ModelsFor(provider string) []core.Model {
	if c == nil {
		return nil
	}
	var out []core.Model
	for _, cm := range c.Models {
		if cm.Provider != provider {
			continue
		}
		caps, err := core.ParseCapabilities(cm.Capabilities)
		if err != nil {
			caps = core.CapabilityText
		}
		m := core.NewModel(cm.Provider, cm.Name)
		m.Capabilities = caps
		m.MaxInputTokens = cm.MaxInputTokens
		m.MaxOutputTokens = cm.MaxOutputTokens
		out = append(out, m)
	}
	return out
}

// byProvider groups entries by client name, keeping stored order within a
// client.
func (c *ModelCache) byProvider() map[string][]CachedModel {
	groups := make(map[string][]CachedModel)
	for _, cm := range c.Models {
		groups[cm.Provider] = append(groups[cm.Provider], cm)
	}
	return groups
}

// Cache defines the interface for model cache storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the model cache data.
	// Returns nil, nil if no cache exists yet.
	Get(ctx context.Context) (*ModelCache, error)

	// Set stores the model cache data.
	Set(ctx context.Context, cache *ModelCache) error

	// Close releases any resources held by the cache.
	Close() error
}
