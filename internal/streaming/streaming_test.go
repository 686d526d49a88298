package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	events []string
	calls  []core.ToolCall
	failOn string
}

func (r *recorder) Text(delta string) error {
	if r.failOn != "" && delta == r.failOn {
		return errors.New("sink closed")
	}
	r.events = append(r.events, "text:"+delta)
	return nil
}

func (r *recorder) ToolCall(call core.ToolCall) error {
	r.events = append(r.events, "call:"+call.Name)
	r.calls = append(r.calls, call)
	return nil
}

// scripted replays frames whose payload names the signal to produce.
type scripted struct {
	frames []string
	err    error
}

func (s *scripted) Next() ([]byte, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return []byte(f), nil
}

type testFrame struct {
	Op    string `json:"op"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Frag  string `json:"frag"`
	Text  string `json:"text"`
	Index *int   `json:"index"`
}

func testClassifier(frame []byte) ([]Signal, error) {
	var f testFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, core.NewInvalidResponseError("test", "bad frame", err)
	}
	idx := -1
	if f.Index != nil {
		idx = *f.Index
	}
	switch f.Op {
	case "text":
		return []Signal{Text(f.Text)}, nil
	case "start":
		return []Signal{ToolCallStart(idx, f.ID, f.Name)}, nil
	case "delta":
		return []Signal{ToolCallFragment(idx, f.Frag)}, nil
	case "stop":
		return []Signal{ToolCallClosed()}, nil
	case "error":
		return []Signal{Error("overloaded", f.Text)}, nil
	case "done":
		return []Signal{Done()}, nil
	default:
		return []Signal{Ignore()}, nil
	}
}

func run(t *testing.T, frames ...string) (*recorder, error) {
	t.Helper()
	rec := &recorder{}
	p := &Pump{Provider: "test"}
	err := p.Run(context.Background(), &scripted{frames: frames}, testClassifier, rec)
	return rec, err
}

func TestPump_ToolCallReconstruction(t *testing.T) {
	rec, err := run(t,
		`{"op":"start","name":"f","id":"1"}`,
		`{"op":"delta","frag":"{\"a\":"}`,
		`{"op":"delta","frag":"1}"}`,
		`{"op":"stop"}`,
	)
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "f", rec.calls[0].Name)
	assert.Equal(t, "1", rec.calls[0].ID)
	assert.JSONEq(t, `{"a":1}`, string(rec.calls[0].Arguments))
}

func TestPump_StartFlushesPreviousCall(t *testing.T) {
	rec, err := run(t,
		`{"op":"start","name":"f1","id":"a"}`,
		`{"op":"delta","frag":"{}"}`,
		`{"op":"start","name":"f2","id":"b"}`,
		`{"op":"delta","frag":"{\"x\":true}"}`,
	)
	require.NoError(t, err)
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "f1", rec.calls[0].Name)
	assert.Equal(t, "f2", rec.calls[1].Name)
	assert.JSONEq(t, `{"x":true}`, string(rec.calls[1].Arguments))
}

func TestPump_MalformedArguments(t *testing.T) {
	rec, err := run(t,
		`{"op":"start","name":"broken","id":"1"}`,
		`{"op":"delta","frag":"{\"a\":"}`,
		`{"op":"stop"}`,
	)
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeMalformedToolArguments))
	assert.Contains(t, err.Error(), "broken")
	assert.Empty(t, rec.calls)
}

func TestPump_EmptyArgumentsBecomeObject(t *testing.T) {
	rec, err := run(t, `{"op":"start","name":"noargs"}`, `{"op":"done"}`)
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "{}", string(rec.calls[0].Arguments))
}

func TestPump_TextBeforeToolCall(t *testing.T) {
	rec, err := run(t,
		`{"op":"text","text":"Let me check."}`,
		`{"op":"start","name":"lookup","id":"1"}`,
		`{"op":"text","text":" still typing"}`,
		`{"op":"delta","frag":"{}"}`,
		`{"op":"stop"}`,
		`{"op":"text","text":"done"}`,
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"text:Let me check.", "text: still typing", "call:lookup", "text:done"}, rec.events)
}

func TestPump_ErrorFrame(t *testing.T) {
	rec, err := run(t,
		`{"op":"text","text":"partial"}`,
		`{"op":"start","name":"f","id":"1"}`,
		`{"op":"error","text":"Overloaded"}`,
		`{"op":"text","text":"never"}`,
	)
	require.Error(t, err)
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.ErrorTypeUpstream, gwErr.Type)
	assert.Equal(t, "overloaded", gwErr.Code)
	assert.Equal(t, []string{"text:partial"}, rec.events)
}

func TestPump_DoneSentinelStopsReading(t *testing.T) {
	rec, err := run(t, `{"op":"text","text":"a"}`, `[DONE]`, `{"op":"text","text":"b"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"text:a"}, rec.events)
}

func TestPump_UnknownFramesIgnored(t *testing.T) {
	rec, err := run(t, `{"op":"ping"}`, `{"op":"text","text":"ok"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"text:ok"}, rec.events)
}

func TestPump_TransportErrors(t *testing.T) {
	p := &Pump{Provider: "test"}

	err := p.Run(context.Background(), &scripted{err: errors.New("connection reset by peer")}, testClassifier, &recorder{})
	assert.True(t, core.IsType(err, core.ErrorTypeTransport))

	err = p.Run(context.Background(), &scripted{err: errors.New("http: read on closed response body")}, testClassifier, &recorder{})
	assert.NoError(t, err)

	err = p.Run(context.Background(), &scripted{err: io.ErrUnexpectedEOF}, testClassifier, &recorder{})
	assert.True(t, core.IsType(err, core.ErrorTypeTransport))
}

func TestPump_TruncatedBody(t *testing.T) {
	body := io.MultiReader(
		strings.NewReader("data: {\"op\":\"text\",\"text\":\"partial\"}\n\n"),
		iotest.ErrReader(io.ErrUnexpectedEOF),
	)
	rec := &recorder{}
	p := &Pump{Provider: "openai"}

	err := p.Run(context.Background(), NewSSEDecoder(body), testClassifier, rec)
	require.Error(t, err)
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.ErrorTypeTransport, gwErr.Type)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []string{"text:partial"}, rec.events)
}

func TestPump_HandlerErrorSurfaces(t *testing.T) {
	rec := &recorder{failOn: "boom"}
	p := &Pump{Provider: "test"}
	err := p.Run(context.Background(), &scripted{frames: []string{`{"op":"text","text":"boom"}`}}, testClassifier, rec)
	assert.EqualError(t, err, "sink closed")
}

func TestPump_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pump{Provider: "test"}
	err := p.Run(ctx, &scripted{frames: []string{`{"op":"text","text":"x"}`}}, testClassifier, &recorder{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPump_OnSignal(t *testing.T) {
	var kinds []SignalKind
	p := &Pump{Provider: "test", OnSignal: func(s Signal) { kinds = append(kinds, s.Kind) }}
	err := p.Run(context.Background(), &scripted{frames: []string{`{"op":"text","text":"x"}`, `{"op":"done"}`}}, testClassifier, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, []SignalKind{SignalText, SignalDone}, kinds)
}

func TestAssembler_IndexedDeltas(t *testing.T) {
	asm := NewAssembler("openai")

	call, err := asm.Add(Signal{Kind: SignalToolCallDelta, Index: 0, ID: "c0", Name: "a", Fragment: `{"q":`})
	require.NoError(t, err)
	assert.Nil(t, call)

	call, err = asm.Add(Signal{Kind: SignalToolCallDelta, Index: 0, Fragment: `"x"}`})
	require.NoError(t, err)
	assert.Nil(t, call)

	call, err = asm.Add(Signal{Kind: SignalToolCallDelta, Index: 1, ID: "c1", Name: "b"})
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "a", call.Name)
	assert.JSONEq(t, `{"q":"x"}`, string(call.Arguments))

	call, err = asm.Close()
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, "b", call.Name)

	call, err = asm.Close()
	require.NoError(t, err)
	assert.Nil(t, call, "second close must not emit")
}

func TestAssembler_OrphanFragmentDropped(t *testing.T) {
	asm := NewAssembler("test")
	call, err := asm.Add(ToolCallFragment(-1, `{"a":1}`))
	require.NoError(t, err)
	assert.Nil(t, call)
	assert.False(t, asm.Pending())
}

func TestSSEDecoder(t *testing.T) {
	input := strings.Join([]string{
		": keep-alive",
		"event: message_start",
		"data: {\"a\":1}",
		"",
		"id: 7",
		"data: line one",
		"data: line two",
		"",
		"",
		"data: {\"tail\":true}",
	}, "\r\n")

	dec := NewSSEDecoder(strings.NewReader(input))

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(frame))

	frame, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(frame))

	frame, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"tail":true}`, string(frame))

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEDecoder_LineTooLong(t *testing.T) {
	long := "data: " + strings.Repeat("x", maxFrameSize) + "\n\n"
	dec := NewSSEDecoder(strings.NewReader("data: ok\n\n" + long))

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(frame))

	_, err = dec.Next()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}

func TestSSEDecoder_LargeFrame(t *testing.T) {
	payload := strings.Repeat("y", 256*1024)
	dec := NewSSEDecoder(strings.NewReader("data: " + payload + "\n\n"))

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Len(t, frame, len(payload))
}

func TestNDJSONDecoder(t *testing.T) {
	dec := NewNDJSONDecoder(strings.NewReader("{\"a\":1}\n\n  {\"b\":2}  \n{\"c\":3}"))

	var got []string
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(frame))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, got)
}

func TestNewDecoder(t *testing.T) {
	assert.IsType(t, &NDJSONDecoder{}, NewDecoder(FormatNDJSON, strings.NewReader("")))
	assert.IsType(t, &SSEDecoder{}, NewDecoder(FormatSSE, strings.NewReader("")))
}
