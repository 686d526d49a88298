package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/reply"
	"github.com/IncredibleDevHQ/agent-panel/internal/streaming"
)

// Client runs chat calls against the models of a Registry. Every call is a
// single upstream attempt.
type Client struct {
	registry *Registry
	counter  core.TokenCounter
	onSignal func(provider string, sig streaming.Signal)
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTokenCounter enables the pre-flight input budget check.
func WithTokenCounter(counter core.TokenCounter) ClientOption {
	return func(c *Client) { c.counter = counter }
}

// WithSignalObserver observes every classified stream signal.
func WithSignalObserver(fn func(provider string, sig streaming.Signal)) ClientOption {
	return func(c *Client) { c.onSignal = fn }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client over registry.
func NewClient(registry *Registry, opts ...ClientOption) *Client {
	c := &Client{registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry the client dispatches to.
func (c *Client) Registry() *Registry {
	return c.registry
}

// SendOnce performs a unary call and returns the aggregated output.
func (c *Client) SendOnce(ctx context.Context, model core.Model, req *core.Request) (*core.Output, error) {
	p, err := c.prepare(model, req)
	if err != nil {
		return nil, err
	}
	ctx = ensureRequestID(ctx)

	unary := *req
	unary.Stream = false
	httpReq, err := p.Adapter.BuildRequest(&unary, model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.Transport.DoRaw(ctx, *httpReq)
	if err != nil {
		return nil, err
	}

	out, err := p.Adapter.ParseResponse(resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("chat completed",
		"model", model.ID(),
		"request_id", core.RequestID(ctx),
		"duration", time.Since(start),
		"tool_calls", len(out.ToolCalls),
	)
	return out, nil
}

// SendStreaming performs a streaming call, forwarding increments to sink.
// sink.Done is always called. When abort fires the call stops without an
// error and whatever was already forwarded stays forwarded.
func (c *Client) SendStreaming(ctx context.Context, model core.Model, req *core.Request, sink *reply.Sink, abort *reply.AbortSignal) error {
	defer sink.Done()

	p, err := c.prepare(model, req)
	if err != nil {
		return err
	}

	ctx = ensureRequestID(ctx)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-abort.Done():
			cancel()
		case <-streamCtx.Done():
		}
	}()

	httpReq, err := p.Adapter.BuildRequest(req.WithStreaming(), model)
	if err != nil {
		return err
	}

	body, err := p.Transport.DoStream(streamCtx, *httpReq)
	if err != nil {
		return c.streamResult(ctx, abort, err)
	}
	defer func() {
		_ = body.Close()
	}()

	pump := &streaming.Pump{
		Provider: p.Adapter.Name(),
		Logger:   c.logger,
	}
	if c.onSignal != nil {
		provider := p.Adapter.Name()
		pump.OnSignal = func(sig streaming.Signal) { c.onSignal(provider, sig) }
	}

	dec := streaming.NewDecoder(p.Adapter.StreamFormat(), body)
	err = pump.Run(streamCtx, dec, p.Adapter.ParseFrame, sink)
	return c.streamResult(ctx, abort, err)
}

// streamResult maps the pump outcome: anything after an abort is success,
// and cancellation of the caller's context is reported as such.
func (c *Client) streamResult(ctx context.Context, abort *reply.AbortSignal, err error) error {
	if err == nil {
		return nil
	}
	if abort.Aborted() {
		c.logger.Debug("stream aborted", "request_id", core.RequestID(ctx))
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *Client) prepare(model core.Model, req *core.Request) (*Provider, error) {
	p, err := c.registry.providerFor(model)
	if err != nil {
		return nil, err
	}
	if err := core.CheckInputTokens(c.counter, model, req.Messages); err != nil {
		return nil, err
	}
	return p, nil
}

func ensureRequestID(ctx context.Context) context.Context {
	if core.RequestID(ctx) != "" {
		return ctx
	}
	return core.WithRequestID(ctx, uuid.NewString())
}
