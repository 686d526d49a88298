package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

var doneSentinel = []byte("[DONE]")

// Handler receives normalized stream events in transport order.
type Handler interface {
	Text(delta string) error
	ToolCall(call core.ToolCall) error
}

// Classifier turns one frame into zero or more signals. It is supplied by
// the provider adapter.
type Classifier func(frame []byte) ([]Signal, error)

// Pump drives one streaming call.
type Pump struct {
	// Provider labels errors raised by the pump.
	Provider string
	// OnSignal, when set, observes every classified signal.
	OnSignal func(Signal)
	Logger   *slog.Logger
}

// Run pulls frames from dec until the stream ends. Text is forwarded as it
// arrives; a tool call is forwarded once fully assembled. A stream end or
// Done signal is success. An in-stream error frame fails with UpstreamError
// and read failures with TransportError. When ctx is cancelled Run returns
// ctx.Err().
func (p *Pump) Run(ctx context.Context, dec Decoder, classify Classifier, h Handler) error {
	asm := NewAssembler(p.Provider)

	finish := func() error {
		call, err := asm.Close()
		if err != nil {
			return err
		}
		if call != nil {
			return h.ToolCall(*call)
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := dec.Next()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if isStreamEnd(err) {
				return finish()
			}
			return core.NewTransportError(p.Provider, 0, "stream read failed: "+err.Error(), err)
		}

		frame = bytes.TrimSpace(frame)
		if len(frame) == 0 {
			continue
		}
		if bytes.Equal(frame, doneSentinel) {
			return finish()
		}

		signals, err := classify(frame)
		if err != nil {
			return err
		}

		for _, sig := range signals {
			if p.OnSignal != nil {
				p.OnSignal(sig)
			}

			switch sig.Kind {
			case SignalText:
				if err := h.Text(sig.Text); err != nil {
					return err
				}
			case SignalToolCallDelta:
				call, err := asm.Add(sig)
				if err != nil {
					return err
				}
				if call != nil {
					if err := h.ToolCall(*call); err != nil {
						return err
					}
				}
			case SignalToolCallClosed:
				call, err := asm.Close()
				if err != nil {
					return err
				}
				if call != nil {
					if err := h.ToolCall(*call); err != nil {
						return err
					}
				}
			case SignalError:
				return core.NewUpstreamError(p.Provider, 0, sig.Code, sig.Message)
			case SignalDone:
				return finish()
			default:
				p.logger().Debug("ignoring stream frame", "provider", p.Provider, "frame", string(frame))
			}
		}
	}
}

func (p *Pump) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// isStreamEnd reports whether a read error means the stream already ended.
// A body cut short (io.ErrUnexpectedEOF) is not an end.
func isStreamEnd(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	return strings.Contains(err.Error(), "read on closed response body")
}
