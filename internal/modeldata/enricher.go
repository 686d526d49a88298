package modeldata

import (
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

// Enrich fills unset limits of models from the registry and adds the vision
// capability where the registry reports image input. Values already set are
// kept. Models not found in the list are returned unchanged.
func Enrich(models []core.Model, providerType string, list *ModelList) []core.Model {
	if list == nil || len(models) == 0 {
		return models
	}

	out := make([]core.Model, len(models))
	for i, m := range models {
		meta := Resolve(list, providerType, m.Name)
		if meta == nil {
			out[i] = m
			continue
		}
		if m.MaxInputTokens == 0 && meta.ContextWindow != nil {
			m.MaxInputTokens = *meta.ContextWindow
		}
		if m.MaxOutputTokens == 0 && meta.MaxOutputTokens != nil {
			m.MaxOutputTokens = *meta.MaxOutputTokens
		}
		if meta.Vision {
			m.Capabilities |= core.CapabilityVision
		}
		out[i] = m
	}
	return out
}
