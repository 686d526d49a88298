package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
	RoleTool      Role = "tool"
)

// IsSystem reports whether r is the system role.
func (r Role) IsSystem() bool { return r == RoleSystem }

// MessageKind discriminates the Message variants.
type MessageKind int

const (
	// MessageText is a plain text (or multimodal) message.
	MessageText MessageKind = iota
	// MessageFunctionCall is a model-issued function/tool call.
	MessageFunctionCall
	// MessageFunctionResult carries the stringified output of a function call.
	MessageFunctionResult
)

// String returns the wire name of the kind.
func (k MessageKind) String() string {
	switch k {
	case MessageFunctionCall:
		return "function_call"
	case MessageFunctionResult:
		return "function_result"
	default:
		return "text"
	}
}

// ImageURL references an image either by network URL or as an inline
// data URL (data:<mime>;base64,<payload>).
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Message is the neutral conversation entry. Which fields are meaningful
// depends on Kind:
//
//	MessageText:           Role, Content, Parts
//	MessageFunctionCall:   ID, Role, Name, Arguments
//	MessageFunctionResult: ID, Role, Name, Content
//
// An empty ID means the vendor does not correlate calls and results.
type Message struct {
	Kind      MessageKind
	Role      Role
	Content   string
	Parts     []ContentPart
	ID        string
	Name      string
	Arguments json.RawMessage
}

// NewText creates a plain text message.
func NewText(role Role, content string) Message {
	return Message{Kind: MessageText, Role: role, Content: content}
}

// System creates a system message.
func System(content string) Message { return NewText(RoleSystem, content) }

// User creates a user message.
func User(content string) Message { return NewText(RoleUser, content) }

// Assistant creates an assistant message.
func Assistant(content string) Message { return NewText(RoleAssistant, content) }

// UserWithImages creates a multimodal user message. Each image is a URL,
// either a network address or an inline data URL.
func UserWithImages(text string, images ...string) Message {
	parts := make([]ContentPart, 0, len(images)+1)
	if text != "" {
		parts = append(parts, ContentPart{Type: "text", Text: text})
	}
	for _, url := range images {
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
	}
	return Message{Kind: MessageText, Role: RoleUser, Parts: parts}
}

// NewFunctionCall creates an assistant message recording a tool call.
func NewFunctionCall(call ToolCall) Message {
	return Message{
		Kind:      MessageFunctionCall,
		Role:      RoleAssistant,
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.normalizedArguments(),
	}
}

// NewFunctionResult creates a message carrying a tool's output.
func NewFunctionResult(id, name, content string) Message {
	return Message{
		Kind:    MessageFunctionResult,
		Role:    RoleFunction,
		ID:      id,
		Name:    name,
		Content: content,
	}
}

// HasImages reports whether the message carries at least one image part.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.ImageURL != nil {
			return true
		}
	}
	return false
}

// Text flattens the message into a single string. Image parts are dropped.
// It is used for token accounting and for vendors without multimodal input.
func (m Message) Text() string {
	switch m.Kind {
	case MessageFunctionCall:
		return fmt.Sprintf("%s(%s)", m.Name, string(m.Arguments))
	case MessageFunctionResult:
		return m.Content
	}
	if len(m.Parts) == 0 {
		return m.Content
	}
	var buf bytes.Buffer
	for _, p := range m.Parts {
		if p.Text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(p.Text)
	}
	return buf.String()
}

// ToolCall returns the call recorded by a MessageFunctionCall.
func (m Message) ToolCall() ToolCall {
	return ToolCall{ID: m.ID, Name: m.Name, Arguments: m.Arguments}
}

func (m Message) String() string {
	switch m.Kind {
	case MessageFunctionCall:
		return fmt.Sprintf("[%s] function call id=%q %s(%s)", m.Role, m.ID, m.Name, string(m.Arguments))
	case MessageFunctionResult:
		return fmt.Sprintf("[%s] function result id=%q name=%s: %s", m.Role, m.ID, m.Name, m.Content)
	default:
		return fmt.Sprintf("[%s] %s", m.Role, m.Text())
	}
}

type wireFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type wireMessage struct {
	Type         string            `json:"type,omitempty"`
	ID           string            `json:"id,omitempty"`
	Role         Role              `json:"role"`
	Name         string            `json:"name,omitempty"`
	Content      json.RawMessage   `json:"content,omitempty"`
	FunctionCall *wireFunctionCall `json:"function_call,omitempty"`
}

// MarshalJSON encodes the message with an explicit "type" discriminator.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Type: m.Kind.String(), Role: m.Role, ID: m.ID}
	var err error
	switch m.Kind {
	case MessageFunctionCall:
		w.FunctionCall = &wireFunctionCall{Name: m.Name, Arguments: m.ToolCall().normalizedArguments()}
	case MessageFunctionResult:
		w.Name = m.Name
		w.Content, err = json.Marshal(m.Content)
	default:
		if len(m.Parts) > 0 {
			w.Content, err = json.Marshal(m.Parts)
		} else {
			w.Content, err = json.Marshal(m.Content)
		}
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a message. An explicit "type" field wins. Without it
// the most specific shape is tried first: a function_call object makes a
// function call, a name together with string content under the function or
// tool role (or no role) makes a function result, and anything else is
// plain text.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	kind := MessageText
	switch w.Type {
	case "function_call":
		kind = MessageFunctionCall
	case "function_result":
		kind = MessageFunctionResult
	case "text":
	case "":
		if w.FunctionCall != nil {
			kind = MessageFunctionCall
		} else if w.Name != "" && isJSONString(w.Content) && isResultRole(w.Role) {
			kind = MessageFunctionResult
		}
	default:
		return fmt.Errorf("unknown message type %q", w.Type)
	}

	*m = Message{Kind: kind, Role: w.Role, ID: w.ID}
	switch kind {
	case MessageFunctionCall:
		if w.FunctionCall == nil {
			return fmt.Errorf("function_call message without function_call body")
		}
		m.Name = w.FunctionCall.Name
		m.Arguments = decodeArguments(w.FunctionCall.Arguments)
		if m.Role == "" {
			m.Role = RoleAssistant
		}
	case MessageFunctionResult:
		m.Name = w.Name
		if len(w.Content) > 0 {
			if err := json.Unmarshal(w.Content, &m.Content); err != nil {
				return fmt.Errorf("function result content: %w", err)
			}
		}
		if m.Role == "" {
			m.Role = RoleFunction
		}
	default:
		if err := decodeTextContent(w.Content, m); err != nil {
			return err
		}
	}
	return nil
}

func isResultRole(r Role) bool {
	return r == "" || r == RoleFunction || r == RoleTool
}

func decodeTextContent(raw json.RawMessage, m *Message) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		return json.Unmarshal(raw, &m.Parts)
	}
	return json.Unmarshal(raw, &m.Content)
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

// decodeArguments accepts arguments either as a JSON value or as a string
// holding JSON (the OpenAI convention). A string that is not valid JSON is
// kept as a JSON string value.
func decodeArguments(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	if raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return raw
}
