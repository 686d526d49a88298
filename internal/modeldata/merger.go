package modeldata

// registryProvider maps client types to the provider keys models.json uses.
var registryProvider = map[string]string{
	"claude":       "anthropic",
	"azure-openai": "azure",
}

// Resolve merges the registry entries for a provider type and model name. It
// looks up provider_models[provider/name] first, then models[name].
// Provider-model fields override base model fields where set.
// Returns nil if no match is found in the registry.
func Resolve(list *ModelList, providerType string, modelID string) *Metadata {
	if list == nil {
		return nil
	}
	if mapped, ok := registryProvider[providerType]; ok {
		providerType = mapped
	}

	var pm *ProviderModelEntry
	key := providerType + "/" + modelID
	if entry, ok := list.ProviderModels[key]; ok {
		pm = &entry
	}

	var model *ModelEntry
	if pm != nil {
		if entry, ok := list.Models[pm.ModelRef]; ok {
			model = &entry
		}
	} else if entry, ok := list.Models[modelID]; ok {
		model = &entry
	}

	if model == nil && pm == nil {
		if compositeKey, ok := list.providerModelByActualID[key]; ok {
			return Resolve(list, providerType, compositeKey[len(providerType)+1:])
		}
		return nil
	}

	meta := &Metadata{}
	if model != nil {
		meta.DisplayName = model.DisplayName
		meta.ContextWindow = model.ContextWindow
		meta.MaxOutputTokens = model.MaxOutputTokens
		meta.Vision = acceptsImages(model.Modalities, model.Capabilities)
	}

	if pm != nil {
		if pm.ContextWindow != nil {
			meta.ContextWindow = pm.ContextWindow
		}
		if pm.MaxOutputTokens != nil {
			meta.MaxOutputTokens = pm.MaxOutputTokens
		}
		if v, ok := pm.Capabilities["vision"]; ok {
			meta.Vision = v
		}
	}

	return meta
}
