package reply

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(s *Sink) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func TestSink_ForwardsInOrder(t *testing.T) {
	s := NewSink(0, nil)

	var events []Event
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		events = drain(s)
	}()

	require.NoError(t, s.Text("Hel"))
	require.NoError(t, s.Text(""))
	require.NoError(t, s.Text("lo"))
	call := core.ToolCall{ID: "1", Name: "f", Arguments: json.RawMessage(`{}`)}
	require.NoError(t, s.ToolCall(call))
	require.NoError(t, s.ToolCall(call))
	s.Done()
	s.Done()
	wg.Wait()

	require.Len(t, events, 5)
	assert.Equal(t, Event{Kind: EventText, Text: "Hel"}, events[0])
	assert.Equal(t, Event{Kind: EventText, Text: "lo"}, events[1])
	assert.Equal(t, EventToolCall, events[2].Kind)
	assert.Equal(t, EventToolCall, events[3].Kind)
	assert.Equal(t, EventDone, events[4].Kind)

	text, calls, err := s.Take()
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Len(t, calls, 2, "sink must not dedup")

	_, _, err = s.Take()
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestSink_ClosedAfterDone(t *testing.T) {
	s := NewSink(4, nil)
	s.Done()
	assert.ErrorIs(t, s.Text("late"), ErrSinkClosed)
	assert.ErrorIs(t, s.ToolCall(core.ToolCall{Name: "f"}), ErrSinkClosed)

	events := drain(s)
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Kind)
}

func TestSink_AbortSwallowsForwarding(t *testing.T) {
	abort := NewAbortSignal()
	s := NewSink(0, abort)

	errCh := make(chan error, 1)
	go func() {
		// Blocks: nobody reads Events until abort fires.
		errCh <- s.Text("stuck")
	}()

	time.Sleep(20 * time.Millisecond)
	abort.Abort()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Text did not return after abort")
	}

	assert.NoError(t, s.Text("after"))
	s.Done()
	assert.Empty(t, drain(s))

	out, err := s.Output()
	require.NoError(t, err)
	assert.Equal(t, "stuckafter", out.Text)
}

func TestAbortSignal(t *testing.T) {
	var nilSignal *AbortSignal
	assert.False(t, nilSignal.Aborted())
	assert.Nil(t, nilSignal.Done())
	nilSignal.Abort()

	a := NewAbortSignal()
	assert.False(t, a.Aborted())
	a.Abort()
	a.Abort()
	assert.True(t, a.Aborted())
	select {
	case <-a.Done():
	default:
		t.Fatal("Done channel not closed")
	}
}
