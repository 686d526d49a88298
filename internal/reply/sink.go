package reply

import (
	"errors"
	"strings"
	"sync"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

var (
	// ErrSinkClosed is returned when forwarding after Done.
	ErrSinkClosed = errors.New("reply sink is closed")
	// ErrAlreadyConsumed is returned by a second call to Take.
	ErrAlreadyConsumed = errors.New("reply already consumed")

	errAborted = errors.New("reply aborted")
)

// EventKind discriminates Event.
type EventKind int

const (
	EventText EventKind = iota
	EventToolCall
	EventDone
)

// Event is one increment forwarded to the caller.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall core.ToolCall
}

// Sink receives normalized stream events from one streaming call. It is
// safe for one producer and one consumer of Events running concurrently.
// The consumer must drain Events until it is closed, or abort.
type Sink struct {
	abort  *AbortSignal
	events chan Event

	mu       sync.Mutex
	text     strings.Builder
	calls    []core.ToolCall
	closed   bool
	consumed bool
	doneOnce sync.Once
}

// NewSink creates a sink that forwards to an Events channel with the given
// buffer size. abort may be nil.
func NewSink(buffer int, abort *AbortSignal) *Sink {
	if buffer < 0 {
		buffer = 0
	}
	return &Sink{
		abort:  abort,
		events: make(chan Event, buffer),
	}
}

// Events returns the channel of forwarded increments. It is closed after the
// EventDone event.
func (s *Sink) Events() <-chan Event {
	return s.events
}

// Text appends delta and forwards it. Empty deltas are ignored.
func (s *Sink) Text(delta string) error {
	if delta == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.text.WriteString(delta)
	return swallowAbort(s.forward(Event{Kind: EventText, Text: delta}))
}

// ToolCall appends a completed call and forwards it. No dedup happens here.
func (s *Sink) ToolCall(call core.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.calls = append(s.calls, call)
	return swallowAbort(s.forward(Event{Kind: EventToolCall, ToolCall: call}))
}

// Done emits the terminal event and closes Events. Only the first call has
// any effect.
func (s *Sink) Done() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		_ = s.forward(Event{Kind: EventDone})
		close(s.events)
	})
}

// Take returns the accumulated text and tool calls. It succeeds once.
func (s *Sink) Take() (string, []core.ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return "", nil, ErrAlreadyConsumed
	}
	s.consumed = true
	text := s.text.String()
	calls := s.calls
	s.text.Reset()
	s.calls = nil
	return text, calls, nil
}

// Output returns the accumulated reply as an Output. Like Take it succeeds once.
func (s *Sink) Output() (*core.Output, error) {
	text, calls, err := s.Take()
	if err != nil {
		return nil, err
	}
	return &core.Output{Text: text, ToolCalls: calls}, nil
}

func (s *Sink) forward(ev Event) error {
	if s.abort.Aborted() {
		return errAborted
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.abort.Done():
		return errAborted
	}
}

func swallowAbort(err error) error {
	if errors.Is(err, errAborted) {
		return nil
	}
	return err
}
