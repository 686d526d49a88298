package core

import (
	"bytes"
	"encoding/json"
)

// ToolCall is a model-requested invocation of a caller-supplied function.
// ID is empty for vendors that do not correlate calls and results.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// NewToolCall creates a tool call.
func NewToolCall(name string, arguments json.RawMessage, id string) ToolCall {
	return ToolCall{ID: id, Name: name, Arguments: arguments}
}

// ArgumentsString returns the arguments as compact JSON text.
func (c ToolCall) ArgumentsString() string {
	args := c.normalizedArguments()
	var buf bytes.Buffer
	if err := json.Compact(&buf, args); err != nil {
		return string(args)
	}
	return buf.String()
}

func (c ToolCall) normalizedArguments() json.RawMessage {
	if len(bytes.TrimSpace(c.Arguments)) == 0 {
		return json.RawMessage("{}")
	}
	return c.Arguments
}

// DedupToolCalls removes calls that share an ID, keeping the last occurrence
// of each ID. Calls without an ID are always kept. Survivors keep their
// original relative order.
func DedupToolCalls(calls []ToolCall) []ToolCall {
	seen := make(map[string]struct{}, len(calls))
	kept := make([]bool, len(calls))
	for i := len(calls) - 1; i >= 0; i-- {
		id := calls[i].ID
		if id == "" {
			kept[i] = true
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		kept[i] = true
	}

	out := make([]ToolCall, 0, len(seen))
	for i, call := range calls {
		if kept[i] {
			out = append(out, call)
		}
	}
	return out
}

// ToolCallResult pairs a call with the output of running it. A nil or
// JSON null Output means the tool produced nothing worth reporting.
type ToolCallResult struct {
	Call   ToolCall        `json:"call"`
	Output json.RawMessage `json:"output"`
}

// NewToolCallResult creates a tool call result.
func NewToolCallResult(call ToolCall, output json.RawMessage) ToolCallResult {
	return ToolCallResult{Call: call, Output: output}
}

// HasOutput reports whether the result carries a non-null output.
func (r ToolCallResult) HasOutput() bool {
	out := bytes.TrimSpace(r.Output)
	return len(out) > 0 && !bytes.Equal(out, []byte("null"))
}

// NeedSendCallResults reports whether at least one result has output that
// must be sent back to the model.
func NeedSendCallResults(results []ToolCallResult) bool {
	for _, r := range results {
		if r.HasOutput() {
			return true
		}
	}
	return false
}

// ToolResultMessages renders a batch of results as the message pairs a
// follow-up request needs: the recorded call, then its output.
func ToolResultMessages(results []ToolCallResult) []Message {
	msgs := make([]Message, 0, len(results)*2)
	for _, r := range results {
		msgs = append(msgs, NewFunctionCall(r.Call))
		content := string(bytes.TrimSpace(r.Output))
		var s string
		if err := json.Unmarshal(r.Output, &s); err == nil {
			content = s
		}
		msgs = append(msgs, NewFunctionResult(r.Call.ID, r.Call.Name, content))
	}
	return msgs
}
