// Package modeldata reads an external model metadata registry (models.json)
// and uses it to fill in limits and capabilities that model discovery
// endpoints do not report.
package modeldata

import (
	"slices"
	"strings"
)

// ModelList represents the top-level structure of models.json.
type ModelList struct {
	Version        int                           `json:"version"`
	UpdatedAt      string                        `json:"updated_at"`
	Models         map[string]ModelEntry         `json:"models"`
	ProviderModels map[string]ProviderModelEntry `json:"provider_models"`

	// providerModelByActualID maps "providerType/actualModelID" to the
	// composite key in ProviderModels, so a vendor-specific model name
	// (e.g. "openai/gpt-4o-2024-08-06") resolves to its registry entry.
	providerModelByActualID map[string]string
}

// buildReverseIndex populates providerModelByActualID from ProviderModels
// entries whose custom_model_id differs from the key's model portion.
func (l *ModelList) buildReverseIndex() {
	l.providerModelByActualID = make(map[string]string)
	for compositeKey, pm := range l.ProviderModels {
		if pm.CustomModelID == nil {
			continue
		}
		providerType, _, ok := strings.Cut(compositeKey, "/")
		if !ok {
			continue
		}
		reverseKey := providerType + "/" + *pm.CustomModelID
		if reverseKey != compositeKey {
			l.providerModelByActualID[reverseKey] = compositeKey
		}
	}
}

// ModelEntry represents a model in the registry.
type ModelEntry struct {
	DisplayName     string          `json:"display_name"`
	Family          *string         `json:"family"`
	Modes           []string        `json:"modes"`
	Modalities      *Modalities     `json:"modalities"`
	Capabilities    map[string]bool `json:"capabilities"`
	ContextWindow   *int            `json:"context_window"`
	MaxOutputTokens *int            `json:"max_output_tokens"`
}

// ProviderModelEntry represents a provider-specific model override.
type ProviderModelEntry struct {
	ModelRef        string          `json:"model_ref"`
	CustomModelID   *string         `json:"custom_model_id"`
	Enabled         bool            `json:"enabled"`
	ContextWindow   *int            `json:"context_window"`
	MaxOutputTokens *int            `json:"max_output_tokens"`
	Capabilities    map[string]bool `json:"capabilities"`
}

// Modalities describes input/output modality support.
type Modalities struct {
	Input  []string `json:"input"`
	Output []string `json:"output"`
}

// Metadata is the resolved view of one model.
type Metadata struct {
	DisplayName     string
	ContextWindow   *int
	MaxOutputTokens *int
	Vision          bool
}

func acceptsImages(m *Modalities, caps map[string]bool) bool {
	if caps["vision"] {
		return true
	}
	return m != nil && slices.Contains(m.Input, "image")
}
