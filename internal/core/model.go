package core

import (
	"fmt"
	"strings"
)

// Capability is a declared model feature used for fallback selection.
type Capability uint8

const (
	CapabilityText Capability = 1 << iota
	CapabilityVision
)

// ParseCapabilities parses a comma-separated list such as "text,vision".
// Unknown names are rejected. An empty string means text only.
func ParseCapabilities(s string) (Capability, error) {
	var caps Capability
	for _, name := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "text":
			caps |= CapabilityText
		case "vision":
			caps |= CapabilityVision
		default:
			return 0, fmt.Errorf("unknown capability %q", name)
		}
	}
	if caps == 0 {
		caps = CapabilityText
	}
	return caps, nil
}

// MustParseCapabilities is ParseCapabilities for static catalogues.
func MustParseCapabilities(s string) Capability {
	caps, err := ParseCapabilities(s)
	if err != nil {
		panic(err)
	}
	return caps
}

// Has reports whether c contains every capability in other.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	var names []string
	if c.Has(CapabilityText) {
		names = append(names, "text")
	}
	if c.Has(CapabilityVision) {
		names = append(names, "vision")
	}
	return strings.Join(names, ",")
}

// TokensCountFactors are the per-message prompt overhead and the fixed
// completion overhead added when estimating a request's input size.
type TokensCountFactors struct {
	Prompt     int
	Completion int
}

// Model is an immutable catalogue entry. Callers hold copies, never pointers
// into the registry.
type Model struct {
	Provider           string
	Name               string
	Capabilities       Capability
	MaxInputTokens     int // 0 means no limit
	MaxOutputTokens    int // 0 means vendor default
	TokensCountFactors TokensCountFactors
	// ExtraFields are merged into the request body by vendors that support it.
	ExtraFields map[string]any
}

// NewModel creates a text model.
func NewModel(provider, name string) Model {
	return Model{Provider: provider, Name: name, Capabilities: CapabilityText}
}

// ID returns the "provider:name" identifier.
func (m Model) ID() string {
	return m.Provider + ":" + m.Name
}

// IsZero reports whether m is the zero Model.
func (m Model) IsZero() bool {
	return m.Provider == "" && m.Name == ""
}

// Supports reports whether the model has every capability in caps.
func (m Model) Supports(caps Capability) bool {
	return m.Capabilities.Has(caps)
}

// ParseModelID splits "provider:name" into its parts. A bare name returns an
// empty provider.
func ParseModelID(id string) (provider, name string) {
	id = strings.TrimSpace(id)
	if p, n, ok := strings.Cut(id, ":"); ok && p != "" && n != "" {
		return p, n
	}
	return "", id
}

// FindModel returns the first model whose ID equals id, or failing that the
// first model whose bare name equals id.
func FindModel(models []Model, id string) (Model, bool) {
	for _, m := range models {
		if m.ID() == id {
			return m, true
		}
	}
	for _, m := range models {
		if m.Name == id {
			return m, true
		}
	}
	return Model{}, false
}

// MergeExtraFields copies the model's extra fields into body without
// overwriting keys the body already sets. Nested objects are merged one
// level deep.
func (m Model) MergeExtraFields(body map[string]any) {
	for k, v := range m.ExtraFields {
		existing, ok := body[k]
		if !ok {
			body[k] = v
			continue
		}
		dst, dstOK := existing.(map[string]any)
		src, srcOK := v.(map[string]any)
		if !dstOK || !srcOK {
			continue
		}
		for ik, iv := range src {
			if _, set := dst[ik]; !set {
				dst[ik] = iv
			}
		}
	}
}
