package streaming

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

// Assembler rebuilds tool calls from delta signals. Only the current call is
// buffered; opening a new call completes the previous one.
type Assembler struct {
	provider string

	open  bool
	index int
	id    string
	name  string
	args  strings.Builder
}

// NewAssembler creates an assembler. provider labels MalformedToolArguments errors.
func NewAssembler(provider string) *Assembler {
	return &Assembler{provider: provider}
}

// Add feeds one SignalToolCallDelta. It returns the previous call when sig
// opens a new one. A fragment with no open call is dropped.
func (a *Assembler) Add(sig Signal) (*core.ToolCall, error) {
	var done *core.ToolCall

	if a.startsNewCall(sig) {
		if a.open {
			call, err := a.flush()
			if err != nil {
				return nil, err
			}
			done = call
		}
		a.open = true
		a.index = sig.Index
		a.id = sig.ID
		a.name = sig.Name
	} else if a.open {
		if a.id == "" && sig.ID != "" {
			a.id = sig.ID
		}
		if a.name == "" && sig.Name != "" {
			a.name = sig.Name
		}
	}

	if a.open && sig.Fragment != "" {
		a.args.WriteString(sig.Fragment)
	}
	return done, nil
}

func (a *Assembler) startsNewCall(sig Signal) bool {
	if sig.Start {
		return true
	}
	if !a.open {
		return sig.ID != "" || sig.Name != ""
	}
	if sig.Index >= 0 && a.index >= 0 && sig.Index != a.index {
		return true
	}
	return sig.ID != "" && a.id != "" && sig.ID != a.id
}

// Close completes the open call, if any. Calling it again returns nil.
func (a *Assembler) Close() (*core.ToolCall, error) {
	if !a.open {
		return nil, nil
	}
	return a.flush()
}

// Pending reports whether a call is buffered.
func (a *Assembler) Pending() bool { return a.open }

func (a *Assembler) flush() (*core.ToolCall, error) {
	raw := strings.TrimSpace(a.args.String())
	name := a.name
	call := &core.ToolCall{ID: a.id, Name: name}

	a.open = false
	a.index = 0
	a.id = ""
	a.name = ""
	a.args.Reset()

	if raw == "" {
		call.Arguments = json.RawMessage("{}")
		return call, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(raw)); err != nil {
		return nil, core.NewMalformedToolArgumentsError(a.provider, name, err)
	}
	call.Arguments = json.RawMessage(compact.Bytes())
	return call, nil
}
