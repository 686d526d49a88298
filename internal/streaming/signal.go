// Package streaming drives vendor event streams: it decodes frames, asks the
// provider adapter to classify them, reassembles fragmented tool calls and
// forwards normalized events to a Handler.
package streaming

// Format is the framing of a vendor stream.
type Format int

const (
	// FormatSSE is text/event-stream, one JSON payload per event.
	FormatSSE Format = iota
	// FormatNDJSON is one JSON object per line.
	FormatNDJSON
)

func (f Format) String() string {
	if f == FormatNDJSON {
		return "ndjson"
	}
	return "sse"
}

// SignalKind discriminates Signal.
type SignalKind int

const (
	SignalIgnore SignalKind = iota
	SignalText
	SignalToolCallDelta
	SignalToolCallClosed
	SignalError
	SignalDone
)

var signalKindNames = [...]string{"ignore", "text", "tool_call_delta", "tool_call_closed", "error", "done"}

func (k SignalKind) String() string {
	if int(k) < len(signalKindNames) {
		return signalKindNames[k]
	}
	return "unknown"
}

// Signal is the classification of one stream frame.
type Signal struct {
	Kind SignalKind

	// SignalText
	Text string

	// SignalToolCallDelta. Start marks the first event of a call. Index is
	// the vendor's call slot, or -1 when the vendor does not number calls.
	Index    int
	ID       string
	Name     string
	Fragment string
	Start    bool

	// SignalError
	Code    string
	Message string
}

// Text returns a text delta signal.
func Text(s string) Signal { return Signal{Kind: SignalText, Text: s} }

// ToolCallStart returns the opening signal of a tool call.
func ToolCallStart(index int, id, name string) Signal {
	return Signal{Kind: SignalToolCallDelta, Index: index, ID: id, Name: name, Start: true}
}

// ToolCallFragment returns an argument fragment for the open call.
func ToolCallFragment(index int, fragment string) Signal {
	return Signal{Kind: SignalToolCallDelta, Index: index, Fragment: fragment}
}

// ToolCallClosed returns the signal that completes the open call.
func ToolCallClosed() Signal { return Signal{Kind: SignalToolCallClosed} }

// Error returns an in-stream error signal.
func Error(code, message string) Signal {
	return Signal{Kind: SignalError, Code: code, Message: message}
}

// Done returns the terminal signal.
func Done() Signal { return Signal{Kind: SignalDone} }

// Ignore returns a signal for frames with no effect.
func Ignore() Signal { return Signal{Kind: SignalIgnore} }
