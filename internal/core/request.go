package core

import "encoding/json"

// JSONSchema is a JSON Schema document describing function parameters.
type JSONSchema = json.RawMessage

// FunctionDeclaration describes a function the model may call.
type FunctionDeclaration struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Parameters  JSONSchema `json:"parameters" yaml:"-"`
}

// ParametersOrEmpty returns Parameters or an empty object schema.
func (f FunctionDeclaration) ParametersOrEmpty() json.RawMessage {
	if len(f.Parameters) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return f.Parameters
}

// Request is the vendor-neutral chat request. It is built fresh per call.
type Request struct {
	Messages    []Message             `json:"messages"`
	Temperature *float64              `json:"temperature,omitempty"`
	TopP        *float64              `json:"top_p,omitempty"`
	MaxTokens   *int                  `json:"max_tokens,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
	Functions   []FunctionDeclaration `json:"functions,omitempty"`
}

// WithStreaming returns a shallow copy of the request with Stream set to true.
func (r *Request) WithStreaming() *Request {
	cp := *r
	cp.Stream = true
	return &cp
}

// RequiredCapabilities returns the capabilities a model needs to serve r.
func (r *Request) RequiredCapabilities() Capability {
	caps := CapabilityText
	for _, m := range r.Messages {
		if m.HasImages() {
			caps |= CapabilityVision
			break
		}
	}
	return caps
}

// SplitSystem separates system text messages from the rest, preserving order
// within both groups.
func SplitSystem(messages []Message) (system []string, rest []Message) {
	rest = make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Kind == MessageText && m.Role.IsSystem() {
			system = append(system, m.Text())
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
