// Package llmclient provides the base HTTP client shared by provider adapters:
// - JSON request marshaling and response decoding
// - vendor error envelope parsing
// - request lifecycle hooks for metrics
//
// Every call is a single attempt. Callers decide whether to re-invoke.
package llmclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"

	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/httpclient"
)

// ErrorParser converts a non-2xx response into an error. It returns nil when
// the body does not carry the vendor's error envelope.
type ErrorParser func(statusCode int, body []byte) error

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages and metrics
	ProviderName string

	// BaseURL is prepended to relative endpoints
	BaseURL string

	// Hooks observe every upstream call
	Hooks Hooks

	// ErrorParser decodes the vendor error envelope; nil uses ParseProviderError
	ErrorParser ErrorParser

	// Logger receives debug output; nil uses slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName: providerName,
		BaseURL:      baseURL,
	}
}

// HeaderSetter sets provider headers on an outgoing request. Returning an
// error aborts the call before it reaches the network.
type HeaderSetter func(req *http.Request) error

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient   *http.Client
	config       Config
	headerSetter HeaderSetter
}

// New creates a new LLM client with the given configuration
func New(config Config, headerSetter HeaderSetter) *Client {
	return NewWithHTTPClient(httpclient.NewDefaultHTTPClient(), config, headerSetter)
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// ProviderName returns the provider name used in errors and metrics
func (c *Client) ProviderName() string {
	return c.config.ProviderName
}

// Request represents an HTTP request to be made
type Request struct {
	Method string
	// Endpoint is appended to BaseURL, or used as is when it is an absolute URL
	Endpoint string
	Body     any // Will be JSON marshaled if not nil
	Headers  map[string]string
	// Model is reported to hooks only
	Model string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Do executes a request, then unmarshals the response
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return core.NewInvalidResponseError(c.config.ProviderName, "failed to unmarshal response: "+err.Error(), err)
		}
	}

	return nil
}

// DoRaw executes a single request and returns the buffered body. Non-2xx
// responses are converted with the configured ErrorParser.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	ctx, info := c.startRequest(ctx, req, false)
	start := time.Now()

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		c.endRequest(ctx, info, 0, start, err)
		return nil, err
	}

	if !isSuccess(resp.StatusCode) {
		err := c.parseError(resp.StatusCode, resp.Body)
		c.endRequest(ctx, info, resp.StatusCode, start, err)
		return nil, err
	}

	c.endRequest(ctx, info, resp.StatusCode, start, nil)
	return resp, nil
}

// DoStream executes a streaming request, returning the decoded body stream.
// The caller must close it.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	ctx, info := c.startRequest(ctx, req, true)
	start := time.Now()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		c.endRequest(ctx, info, 0, start, err)
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		gwErr := core.NewTransportError(c.config.ProviderName, 0, "failed to send request: "+err.Error(), err)
		c.endRequest(ctx, info, 0, start, gwErr)
		return nil, gwErr
	}

	body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = resp.Body.Close()
		gwErr := core.NewTransportError(c.config.ProviderName, resp.StatusCode, "failed to decode response: "+err.Error(), err)
		c.endRequest(ctx, info, resp.StatusCode, start, gwErr)
		return nil, gwErr
	}

	if !isSuccess(resp.StatusCode) {
		respBody, readErr := io.ReadAll(body)
		if readErr != nil {
			respBody = nil
		}
		_ = body.Close()

		err := c.parseError(resp.StatusCode, respBody)
		c.endRequest(ctx, info, resp.StatusCode, start, err)
		return nil, err
	}

	c.endRequest(ctx, info, resp.StatusCode, start, nil)
	return body, nil
}

// doRequest executes a single HTTP request and buffers the body
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransportError(c.config.ProviderName, 0, "failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	reader, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, core.NewTransportError(c.config.ProviderName, resp.StatusCode, "failed to decode response: "+err.Error(), err)
	}
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, core.NewTransportError(c.config.ProviderName, resp.StatusCode, "failed to read response: "+err.Error(), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := req.Endpoint
	if !isAbsoluteURL(url) {
		url = c.config.BaseURL + req.Endpoint
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewMalformedInputError(c.config.ProviderName, "failed to marshal request: "+err.Error())
		}
		c.logger().Debug("upstream request",
			"provider", c.config.ProviderName,
			"url", url,
			"body", string(bodyBytes),
		)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewMalformedInputError(c.config.ProviderName, "failed to create request: "+err.Error())
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.headerSetter != nil {
		if err := c.headerSetter(httpReq); err != nil {
			return nil, err
		}
	}

	if requestID := core.RequestID(ctx); requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func (c *Client) parseError(statusCode int, body []byte) error {
	if c.config.ErrorParser != nil {
		if err := c.config.ErrorParser(statusCode, body); err != nil {
			return err
		}
	}
	return ParseProviderError(c.config.ProviderName, statusCode, body)
}

func (c *Client) logger() *slog.Logger {
	if c.config.Logger != nil {
		return c.config.Logger
	}
	return slog.Default()
}

func (c *Client) startRequest(ctx context.Context, req Request, stream bool) (context.Context, RequestInfo) {
	info := RequestInfo{
		Provider: c.config.ProviderName,
		Model:    req.Model,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Stream:   stream,
	}
	if c.config.Hooks.OnRequestStart != nil {
		if next := c.config.Hooks.OnRequestStart(ctx, info); next != nil {
			ctx = next
		}
	}
	return ctx, info
}

func (c *Client) endRequest(ctx context.Context, info RequestInfo, status int, start time.Time, err error) {
	if c.config.Hooks.OnRequestEnd == nil {
		return
	}
	c.config.Hooks.OnRequestEnd(ctx, ResponseInfo{
		RequestInfo: info,
		StatusCode:  status,
		Duration:    time.Since(start),
		Err:         err,
	})
}

// ParseProviderError extracts an error envelope from a failed response. It
// understands the common shapes: {"error":{"message","type","code"}},
// {"error":"..."} and top-level {"code","message"}. Bodies with no envelope
// become a TransportError carrying the status.
func ParseProviderError(provider string, statusCode int, body []byte) error {
	if len(body) > 0 && gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		errField := parsed.Get("error")
		switch {
		case errField.IsObject() && errField.Get("message").String() != "":
			code := errField.Get("code").String()
			if code == "" {
				code = errField.Get("type").String()
			}
			return core.NewUpstreamError(provider, statusCode, code, errField.Get("message").String())
		case errField.Type == gjson.String && errField.String() != "":
			return core.NewUpstreamError(provider, statusCode, "", errField.String())
		case parsed.Get("message").String() != "":
			return core.NewUpstreamError(provider, statusCode, parsed.Get("code").String(), parsed.Get("message").String())
		}
	}

	message := fmt.Sprintf("HTTP Error %d", statusCode)
	if text := strings.TrimSpace(string(body)); text != "" {
		message = fmt.Sprintf("HTTP Error %d: %s", statusCode, text)
	}
	return core.NewTransportError(provider, statusCode, message, nil)
}

// decodeBody wraps body according to Content-Encoding. gzip, deflate and
// brotli (br) are supported. Unknown encodings pass through unchanged.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))

	switch encoding {
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
	case "deflate":
		fr := flate.NewReader(body)
		return &decodedBody{Reader: fr, closers: []io.Closer{fr, body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []io.Closer{body}}, nil
	default:
		return body, nil
	}
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
