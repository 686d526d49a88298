// Package qianwen provides the Aliyun DashScope text generation adapter.
package qianwen

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/llmclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/openai"
	"github.com/IncredibleDevHQ/agent-panel/internal/streaming"
)

const providerType = "qianwen"

// Registration provides factory registration for Qianwen.
var Registration = providers.Registration{
	Type: providerType,
	New:  New,
}

const apiURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"

// TokensCountFactors is the per-message and completion overhead of Qianwen.
var TokensCountFactors = core.TokensCountFactors{Prompt: 4, Completion: 14}

var catalogue = []struct {
	name           string
	maxInputTokens int
}{
	{"qwen-max", 6000},
	{"qwen-max-longcontext", 28000},
	{"qwen-plus", 30000},
	{"qwen-turbo", 6000},
}

// Adapter implements the DashScope generation protocol.
type Adapter struct {
	name   string
	apiKey string
	url    string
	models []core.Model
}

// New creates the adapter. Models declared in config replace the built-in
// catalogue. api_base overrides the generation URL.
func New(cfg config.ProviderConfig) (providers.Adapter, error) {
	name := cfg.ResolvedName()

	models, err := cfg.ModelList(name)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		for _, entry := range catalogue {
			m := core.NewModel(name, entry.name)
			m.MaxInputTokens = entry.maxInputTokens
			models = append(models, m)
		}
	}
	for i := range models {
		models[i].TokensCountFactors = TokensCountFactors
	}

	url := cfg.APIBase
	if url == "" {
		url = apiURL
	}
	return &Adapter{name: name, apiKey: cfg.APIKey, url: url, models: models}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Type() string { return providerType }

func (a *Adapter) Models() []core.Model {
	out := make([]core.Model, len(a.models))
	copy(out, a.models)
	return out
}

// Authenticate sets a bearer token.
func (a *Adapter) Authenticate(h http.Header) error {
	if a.apiKey == "" {
		return core.NewMissingCredentialError(a.name, "api_key")
	}
	h.Set("Authorization", "Bearer "+a.apiKey)
	return nil
}

type generationRequest struct {
	Model      string     `json:"model"`
	Input      input      `json:"input"`
	Parameters parameters `json:"parameters"`
}

type input struct {
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type parameters struct {
	Temperature       *float64      `json:"temperature,omitempty"`
	TopP              *float64      `json:"top_p,omitempty"`
	MaxTokens         *int          `json:"max_tokens,omitempty"`
	IncrementalOutput bool          `json:"incremental_output,omitempty"`
	ResultFormat      string        `json:"result_format,omitempty"`
	Tools             []openai.Tool `json:"tools,omitempty"`
}

// BuildRequest renders req as a generation call. DashScope has no structured
// tool call history, so calls are described in text and results are sent as
// plain messages.
func (a *Adapter) BuildRequest(req *core.Request, model core.Model) (*llmclient.Request, error) {
	if req.RequiredCapabilities().Has(core.CapabilityVision) {
		return nil, core.NewMalformedInputError(a.name, "image input is not supported")
	}

	body := &generationRequest{
		Model: model.Name,
		Parameters: parameters{
			Temperature:       req.Temperature,
			TopP:              req.TopP,
			MaxTokens:         req.MaxTokens,
			IncrementalOutput: req.Stream,
		},
	}

	body.Input.Messages = make([]message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Kind {
		case core.MessageFunctionCall:
			body.Input.Messages = append(body.Input.Messages, message{
				Role:    string(core.RoleAssistant),
				Content: fmt.Sprintf("Function call: %s with arguments: %s", msg.Name, msg.ToolCall().ArgumentsString()),
			})
		case core.MessageFunctionResult:
			body.Input.Messages = append(body.Input.Messages, message{
				Role:    string(msg.Role),
				Content: msg.Content,
				Name:    msg.Name,
			})
		default:
			body.Input.Messages = append(body.Input.Messages, message{Role: string(msg.Role), Content: msg.Text()})
		}
	}

	if len(req.Functions) > 0 {
		body.Parameters.ResultFormat = "message"
		for _, fn := range req.Functions {
			body.Parameters.Tools = append(body.Parameters.Tools, openai.Tool{
				Type: "function",
				Function: openai.ToolFunction{
					Name:        fn.Name,
					Description: fn.Description,
					Parameters:  fn.ParametersOrEmpty(),
				},
			})
		}
	}

	headers := map[string]string{}
	if req.Stream {
		headers["X-DashScope-SSE"] = "enable"
	}
	return &llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: a.url,
		Body:     body,
		Headers:  headers,
		Model:    model.Name,
	}, nil
}

// ParseResponse decodes a generation response in either the text or the
// message result format.
func (a *Adapter) ParseResponse(body []byte) (*core.Output, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewInvalidResponseError(a.name, "response is not valid JSON", nil)
	}
	root := gjson.ParseBytes(body)
	if err := a.envelopeError(0, root); err != nil {
		return nil, err
	}

	out := &core.Output{ResponseID: root.Get("request_id").String()}
	if text := root.Get("output.text"); text.Exists() {
		out.Text = text.String()
	} else {
		message := root.Get("output.choices.0.message")
		out.Text = message.Get("content").String()
		for _, tc := range message.Get("tool_calls").Array() {
			name := tc.Get("function.name").String()
			args, err := openai.ArgumentsJSON(a.name, name, tc.Get("function.arguments"))
			if err != nil {
				return nil, err
			}
			out.ToolCalls = append(out.ToolCalls, core.NewToolCall(name, args, tc.Get("id").String()))
		}
	}
	if v := root.Get("usage.input_tokens"); v.Exists() {
		out.InputTokens = core.IntPtr(int(v.Int()))
	}
	if v := root.Get("usage.output_tokens"); v.Exists() {
		out.OutputTokens = core.IntPtr(int(v.Int()))
	}

	if err := out.Validate(a.name); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseError decodes the top-level {"code","message"} envelope.
func (a *Adapter) ParseError(statusCode int, body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	return a.envelopeError(statusCode, gjson.ParseBytes(body))
}

func (a *Adapter) envelopeError(statusCode int, root gjson.Result) error {
	code, message := root.Get("code"), root.Get("message")
	if code.Type != gjson.String || code.Str == "" || message.Type != gjson.String {
		return nil
	}
	return core.NewUpstreamError(a.name, statusCode, code.Str, message.Str)
}

func (a *Adapter) StreamFormat() streaming.Format { return streaming.FormatSSE }

// ParseFrame classifies one incremental output event. Tool calls arrive
// as OpenAI-style deltas in the message result format.
func (a *Adapter) ParseFrame(frame []byte) ([]streaming.Signal, error) {
	if !gjson.ValidBytes(frame) {
		return nil, core.NewInvalidResponseError(a.name, "stream frame is not valid JSON: "+string(frame), nil)
	}
	root := gjson.ParseBytes(frame)

	if code, message := root.Get("code"), root.Get("message"); code.Type == gjson.String && code.Str != "" && message.Type == gjson.String {
		return []streaming.Signal{streaming.Error(code.Str, message.Str)}, nil
	}

	var signals []streaming.Signal
	message := root.Get("output.choices.0.message")
	if text := root.Get("output.text").String(); text != "" {
		signals = append(signals, streaming.Text(text))
	} else if text := message.Get("content").String(); text != "" {
		signals = append(signals, streaming.Text(text))
	}

	for _, tc := range message.Get("tool_calls").Array() {
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

	// In-progress frames carry finish_reason "null".
	finish := root.Get("output.finish_reason").String()
	if finish == "" {
		finish = root.Get("output.choices.0.finish_reason").String()
	}
	switch finish {
	case "tool_calls":
		signals = append(signals, streaming.ToolCallClosed(), streaming.Done())
	case "stop", "length":
		signals = append(signals, streaming.Done())
	}

	if len(signals) == 0 {
		return []streaming.Signal{streaming.Ignore()}, nil
	}
	return signals, nil
}
