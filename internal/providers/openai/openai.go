// Package openai implements the OpenAI chat completions wire format. The
// openaicompat and azureopenai adapters reuse it.
package openai

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/llmclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers"
	"github.com/IncredibleDevHQ/agent-panel/internal/streaming"
)

const providerType = "openai"

// Registration provides factory registration for the OpenAI provider.
var Registration = providers.Registration{
	Type: providerType,
	New:  New,
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
	chatEndpoint   = "/chat/completions"
)

// TokensCountFactors is the per-message and completion overhead of the
// OpenAI chat format.
var TokensCountFactors = core.TokensCountFactors{Prompt: 5, Completion: 2}

var catalogue = []struct {
	name           string
	maxInputTokens int
	capabilities   string
}{
	{"gpt-4-turbo-preview", 128000, "text"},
	{"gpt-4-vision-preview", 128000, "text,vision"},
	{"gpt-4-1106-preview", 128000, "text"},
	{"gpt-3.5-turbo", 16385, "text"},
	{"gpt-3.5-turbo-1106", 16385, "text"},
}

// Options configures an Adapter.
type Options struct {
	Name         string
	Type         string
	BaseURL      string
	APIKey       string
	Organization string
	// ChatEndpoint overrides /chat/completions.
	ChatEndpoint string
	// KeyRequired makes Authenticate fail with MissingCredential when APIKey is empty.
	KeyRequired bool
	Models      []core.Model
}

// Adapter speaks the OpenAI chat completions protocol.
type Adapter struct {
	opts Options
}

// NewAdapter creates an adapter from explicit options.
func NewAdapter(opts Options) *Adapter {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ChatEndpoint == "" {
		opts.ChatEndpoint = chatEndpoint
	}
	return &Adapter{opts: opts}
}

// New creates the OpenAI adapter with the built-in catalogue. Models declared
// in config are appended.
func New(cfg config.ProviderConfig) (providers.Adapter, error) {
	name := cfg.ResolvedName()
	models := make([]core.Model, 0, len(catalogue)+len(cfg.Models))
	for _, entry := range catalogue {
		m := core.NewModel(name, entry.name)
		m.Capabilities = core.MustParseCapabilities(entry.capabilities)
		m.MaxInputTokens = entry.maxInputTokens
		m.TokensCountFactors = TokensCountFactors
		models = append(models, m)
	}
	declared, err := DeclaredModels(cfg, name)
	if err != nil {
		return nil, err
	}
	models = append(models, declared...)

	baseURL := cfg.APIBase
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return NewAdapter(Options{
		Name:         name,
		Type:         providerType,
		BaseURL:      baseURL,
		APIKey:       cfg.APIKey,
		Organization: cfg.OrganizationID,
		ChatEndpoint: cfg.ChatEndpoint,
		KeyRequired:  true,
		Models:       models,
	}), nil
}

// DeclaredModels converts config-declared models, applying the OpenAI token
// factors.
func DeclaredModels(cfg config.ProviderConfig, name string) ([]core.Model, error) {
	models, err := cfg.ModelList(name)
	if err != nil {
		return nil, err
	}
	for i := range models {
		models[i].TokensCountFactors = TokensCountFactors
	}
	return models, nil
}

func (a *Adapter) Name() string { return a.opts.Name }

func (a *Adapter) Type() string { return a.opts.Type }

// BaseURL returns the URL that endpoints are appended to.
func (a *Adapter) BaseURL() string { return a.opts.BaseURL }

func (a *Adapter) Models() []core.Model {
	out := make([]core.Model, len(a.opts.Models))
	copy(out, a.opts.Models)
	return out
}

// Authenticate sets the bearer token and the optional organization header.
func (a *Adapter) Authenticate(h http.Header) error {
	if a.opts.APIKey == "" {
		if a.opts.KeyRequired {
			return core.NewMissingCredentialError(a.opts.Name, "api_key")
		}
	} else {
		h.Set("Authorization", "Bearer "+a.opts.APIKey)
	}
	if a.opts.Organization != "" {
		h.Set("OpenAI-Organization", a.opts.Organization)
	}
	return nil
}

// BuildRequest renders req as a chat completions call.
func (a *Adapter) BuildRequest(req *core.Request, model core.Model) (*llmclient.Request, error) {
	body, err := BuildBody(a.opts.Name, req, model)
	if err != nil {
		return nil, err
	}
	return &llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: a.opts.BaseURL + a.opts.ChatEndpoint,
		Body:     body,
		Model:    model.Name,
	}, nil
}

func (a *Adapter) ParseResponse(body []byte) (*core.Output, error) {
	return ParseResponse(a.opts.Name, body)
}

func (a *Adapter) ParseError(statusCode int, body []byte) error {
	return ParseError(a.opts.Name, statusCode, body)
}

func (a *Adapter) StreamFormat() streaming.Format { return streaming.FormatSSE }

func (a *Adapter) ParseFrame(frame []byte) ([]streaming.Signal, error) {
	return ParseFrame(a.opts.Name, frame)
}

// ModelsRequest lists the models the API key can use.
func (a *Adapter) ModelsRequest() llmclient.Request {
	return llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: a.opts.BaseURL + "/models",
	}
}

// ParseModels decodes a {"data":[{"id":...}]} listing into text models.
func (a *Adapter) ParseModels(body []byte) ([]core.Model, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewInvalidResponseError(a.opts.Name, "invalid models listing", nil)
	}
	var models []core.Model
	for _, entry := range gjson.GetBytes(body, "data").Array() {
		id := entry.Get("id").String()
		if id == "" {
			continue
		}
		m := core.NewModel(a.opts.Name, id)
		m.TokensCountFactors = TokensCountFactors
		models = append(models, m)
	}
	return models, nil
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []Tool        `json:"tools,omitempty"`
}

// ChatMessage is one entry of ChatRequest.Messages. Content is a string, a
// list of content parts, or null for assistant tool call messages.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is an assistant tool call in request history.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction holds the arguments as a JSON-encoded string.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool declares a callable function.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function part of Tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// BuildBody converts a neutral request into the chat completions body.
// Consecutive function calls are grouped into a single assistant message.
func BuildBody(provider string, req *core.Request, model core.Model) (*ChatRequest, error) {
	body := &ChatRequest{
		Model:       model.Name,
		Messages:    make([]ChatMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	if body.MaxTokens == nil && model.MaxOutputTokens > 0 {
		body.MaxTokens = core.IntPtr(model.MaxOutputTokens)
	}

	for _, msg := range req.Messages {
		switch msg.Kind {
		case core.MessageFunctionCall:
			if msg.ID == "" {
				return nil, core.NewMalformedInputError(provider, "function call "+msg.Name+" has no call id")
			}
			call := ToolCall{
				ID:   msg.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      msg.Name,
					Arguments: msg.ToolCall().ArgumentsString(),
				},
			}
			if n := len(body.Messages); n > 0 && len(body.Messages[n-1].ToolCalls) > 0 {
				body.Messages[n-1].ToolCalls = append(body.Messages[n-1].ToolCalls, call)
				continue
			}
			body.Messages = append(body.Messages, ChatMessage{
				Role:      string(core.RoleAssistant),
				ToolCalls: []ToolCall{call},
			})
		case core.MessageFunctionResult:
			if msg.ID == "" {
				return nil, core.NewMalformedInputError(provider, "function result "+msg.Name+" has no call id")
			}
			body.Messages = append(body.Messages, ChatMessage{
				Role:       string(core.RoleTool),
				Content:    msg.Content,
				ToolCallID: msg.ID,
			})
		default:
			cm := ChatMessage{Role: string(msg.Role), Content: msg.Content}
			if len(msg.Parts) > 0 {
				cm.Content = msg.Parts
			}
			body.Messages = append(body.Messages, cm)
		}
	}

	for _, fn := range req.Functions {
		body.Tools = append(body.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.ParametersOrEmpty(),
			},
		})
	}
	return body, nil
}

// ParseResponse decodes a unary chat completions body.
func ParseResponse(provider string, body []byte) (*core.Output, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewInvalidResponseError(provider, "response is not valid JSON", nil)
	}
	root := gjson.ParseBytes(body)
	if err := envelopeError(provider, 0, root); err != nil {
		return nil, err
	}

	message := root.Get("choices.0.message")
	out := &core.Output{
		Text:       message.Get("content").String(),
		ResponseID: root.Get("id").String(),
	}
	for _, tc := range message.Get("tool_calls").Array() {
		name := tc.Get("function.name").String()
		args, err := ArgumentsJSON(provider, name, tc.Get("function.arguments"))
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, core.NewToolCall(name, args, tc.Get("id").String()))
	}
	if v := root.Get("usage.prompt_tokens"); v.Exists() {
		out.InputTokens = core.IntPtr(int(v.Int()))
	}
	if v := root.Get("usage.completion_tokens"); v.Exists() {
		out.OutputTokens = core.IntPtr(int(v.Int()))
	}

	if err := out.Validate(provider); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseError decodes {"error":{"message","type","code"}}.
func ParseError(provider string, statusCode int, body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	return envelopeError(provider, statusCode, gjson.ParseBytes(body))
}

func envelopeError(provider string, statusCode int, root gjson.Result) error {
	errField := root.Get("error")
	if !errField.IsObject() {
		return nil
	}
	message := errField.Get("message").String()
	if message == "" {
		return nil
	}
	code := errField.Get("code").String()
	if code == "" {
		code = errField.Get("type").String()
	}
	return core.NewUpstreamError(provider, statusCode, code, message)
}

// ParseFrame classifies one SSE payload. Tool call deltas are forwarded
// without a start marker; the assembler opens a new call on a new index or id.
func ParseFrame(provider string, frame []byte) ([]streaming.Signal, error) {
	if !gjson.ValidBytes(frame) {
		return nil, core.NewInvalidResponseError(provider, "stream frame is not valid JSON: "+string(frame), nil)
	}
	root := gjson.ParseBytes(frame)

	if errField := root.Get("error"); errField.IsObject() {
		code := errField.Get("code").String()
		if code == "" {
			code = errField.Get("type").String()
		}
		return []streaming.Signal{streaming.Error(code, errField.Get("message").String())}, nil
	}

	choice := root.Get("choices.0")
	if !choice.Exists() {
		return []streaming.Signal{streaming.Ignore()}, nil
	}

	var signals []streaming.Signal
	if text := choice.Get("delta.content").String(); text != "" {
		signals = append(signals, streaming.Text(text))
	}
	for _, tc := range choice.Get("delta.tool_calls").Array() {
		index := -1
		if v := tc.Get("index"); v.Exists() {
			index = int(v.Int())
		}
		signals = append(signals, streaming.Signal{
			Kind:     streaming.SignalToolCallDelta,
			Index:    index,
			ID:       tc.Get("id").String(),
			Name:     tc.Get("function.name").String(),
			Fragment: tc.Get("function.arguments").String(),
		})
	}
	if reason := choice.Get("finish_reason"); reason.Type == gjson.String && reason.Str != "" {
		signals = append(signals, streaming.ToolCallClosed())
	}

	if len(signals) == 0 {
		return []streaming.Signal{streaming.Ignore()}, nil
	}
	return signals, nil
}

// ArgumentsJSON accepts tool call arguments either as a JSON-encoded string or as a
// JSON object.
func ArgumentsJSON(provider, name string, v gjson.Result) (json.RawMessage, error) {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return json.RawMessage("{}"), nil
	case v.Type == gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return json.RawMessage("{}"), nil
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(s)); err != nil {
			return nil, core.NewMalformedToolArgumentsError(provider, name, err)
		}
		return json.RawMessage(buf.Bytes()), nil
	default:
		return json.RawMessage(v.Raw), nil
	}
}
