package core

// Output is the aggregated result of one chat call.
type Output struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls"`
	ResponseID   string     `json:"response_id,omitempty"`
	InputTokens  *int       `json:"input_tokens,omitempty"`
	OutputTokens *int       `json:"output_tokens,omitempty"`
}

// Validate fails with InvalidResponse when the output carries neither text
// nor tool calls.
func (o *Output) Validate(provider string) error {
	if o.Text == "" && len(o.ToolCalls) == 0 {
		return NewInvalidResponseError(provider, "response has no text and no tool calls", nil)
	}
	return nil
}

// Messages converts the output into conversation history: tool calls first,
// then the assistant text.
func (o *Output) Messages() []Message {
	msgs := make([]Message, 0, len(o.ToolCalls)+1)
	for _, call := range o.ToolCalls {
		msgs = append(msgs, NewFunctionCall(call))
	}
	if o.Text != "" {
		msgs = append(msgs, Assistant(o.Text))
	}
	return msgs
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
