// Package ollama provides the Ollama native chat API adapter.
package ollama

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/llmclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers"
	"github.com/IncredibleDevHQ/agent-panel/internal/providers/openai"
	"github.com/IncredibleDevHQ/agent-panel/internal/streaming"
)

const providerType = "ollama"

// Registration provides factory registration for the Ollama provider.
var Registration = providers.Registration{
	Type: providerType,
	New:  New,
}

const (
	defaultBaseURL      = "http://localhost:11434"
	defaultChatEndpoint = "/api/chat"
)

// TokensCountFactors is the per-message and completion overhead of Ollama.
var TokensCountFactors = core.TokensCountFactors{Prompt: 5, Completion: 2}

// Adapter implements the Ollama /api/chat protocol.
type Adapter struct {
	name         string
	apiKey       string
	baseURL      string
	chatEndpoint string
	models       []core.Model
}

// New creates the adapter. Models come from config only.
func New(cfg config.ProviderConfig) (providers.Adapter, error) {
	name := cfg.ResolvedName()
	models, err := cfg.ModelList(name)
	if err != nil {
		return nil, err
	}
	for i := range models {
		models[i].TokensCountFactors = TokensCountFactors
	}

	baseURL := cfg.APIBase
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	chatEndpoint := cfg.ChatEndpoint
	if chatEndpoint == "" {
		chatEndpoint = defaultChatEndpoint
	}
	return &Adapter{
		name:         name,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		chatEndpoint: chatEndpoint,
		models:       models,
	}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Type() string { return providerType }

func (a *Adapter) Models() []core.Model {
	out := make([]core.Model, len(a.models))
	copy(out, a.models)
	return out
}

// Authenticate passes the configured key through verbatim, so reverse
// proxies can use any scheme. No key is fine.
func (a *Adapter) Authenticate(h http.Header) error {
	if a.apiKey != "" {
		h.Set("Authorization", a.apiKey)
	}
	return nil
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Images    []string   `json:"images,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// BuildRequest renders req as an /api/chat call. The body is a map so model
// extra fields can be merged in.
func (a *Adapter) BuildRequest(req *core.Request, model core.Model) (*llmclient.Request, error) {
	messages := make([]chatMessage, 0, len(req.Messages))
	var networkImages []string

	for _, msg := range req.Messages {
		switch msg.Kind {
		case core.MessageFunctionCall:
			messages = append(messages, chatMessage{
				Role: string(core.RoleAssistant),
				ToolCalls: []toolCall{{Function: toolCallFunction{
					Name:      msg.Name,
					Arguments: json.RawMessage(msg.ToolCall().ArgumentsString()),
				}}},
			})
		case core.MessageFunctionResult:
			messages = append(messages, chatMessage{Role: string(core.RoleTool), Content: msg.Content})
		default:
			cm := chatMessage{Role: string(msg.Role), Content: msg.Text()}
			for _, part := range msg.Parts {
				if part.ImageURL == nil {
					continue
				}
				data, ok := stripDataURL(part.ImageURL.URL)
				if !ok {
					networkImages = append(networkImages, part.ImageURL.URL)
					continue
				}
				cm.Images = append(cm.Images, data)
			}
			messages = append(messages, cm)
		}
	}
	if len(networkImages) > 0 {
		return nil, core.NewNetworkImagesError(a.name, networkImages)
	}

	body := map[string]any{
		"model":    model.Name,
		"messages": messages,
		"stream":   req.Stream,
	}
	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if len(options) > 0 {
		body["options"] = options
	}
	if len(req.Functions) > 0 {
		tools := make([]openai.Tool, 0, len(req.Functions))
		for _, fn := range req.Functions {
			tools = append(tools, openai.Tool{
				Type: "function",
				Function: openai.ToolFunction{
					Name:        fn.Name,
					Description: fn.Description,
					Parameters:  fn.ParametersOrEmpty(),
				},
			})
		}
		body["tools"] = tools
	}
	model.MergeExtraFields(body)

	return &llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: a.baseURL + a.chatEndpoint,
		Body:     body,
		Model:    model.Name,
	}, nil
}

// stripDataURL returns the base64 payload of a data URL.
func stripDataURL(url string) (string, bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", false
	}
	_, data, ok := strings.Cut(url, ";base64,")
	return data, ok
}

// ParseResponse decodes a non-streaming /api/chat response.
func (a *Adapter) ParseResponse(body []byte) (*core.Output, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewInvalidResponseError(a.name, "response is not valid JSON", nil)
	}
	root := gjson.ParseBytes(body)
	if err := a.envelopeError(0, root); err != nil {
		return nil, err
	}

	message := root.Get("message")
	if !message.IsObject() {
		return nil, core.NewInvalidResponseError(a.name, "response has no message: "+string(body), nil)
	}
	out := &core.Output{Text: message.Get("content").String()}
	for _, tc := range message.Get("tool_calls").Array() {
		name := tc.Get("function.name").String()
		args, err := openai.ArgumentsJSON(a.name, name, tc.Get("function.arguments"))
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, core.NewToolCall(name, args, ""))
	}
	if v := root.Get("prompt_eval_count"); v.Exists() {
		out.InputTokens = core.IntPtr(int(v.Int()))
	}
	if v := root.Get("eval_count"); v.Exists() {
		out.OutputTokens = core.IntPtr(int(v.Int()))
	}

	if err := out.Validate(a.name); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseError decodes {"error":"..."}.
func (a *Adapter) ParseError(statusCode int, body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	return a.envelopeError(statusCode, gjson.ParseBytes(body))
}

func (a *Adapter) envelopeError(statusCode int, root gjson.Result) error {
	errField := root.Get("error")
	if errField.Type != gjson.String || errField.Str == "" {
		return nil
	}
	return core.NewUpstreamError(a.name, statusCode, "", errField.Str)
}

func (a *Adapter) StreamFormat() streaming.Format { return streaming.FormatNDJSON }

// ParseFrame classifies one NDJSON line. Every chunk carries a boolean done
// flag. Tool calls arrive whole, so each is emitted as start, fragment and
// close.
func (a *Adapter) ParseFrame(frame []byte) ([]streaming.Signal, error) {
	if !gjson.ValidBytes(frame) {
		return nil, core.NewInvalidResponseError(a.name, "stream frame is not valid JSON: "+string(frame), nil)
	}
	root := gjson.ParseBytes(frame)

	if errField := root.Get("error"); errField.Type == gjson.String {
		return []streaming.Signal{streaming.Error("", errField.Str)}, nil
	}
	done := root.Get("done")
	if done.Type != gjson.True && done.Type != gjson.False {
		return nil, core.NewInvalidResponseError(a.name, "invalid response data: "+string(frame), nil)
	}

	var signals []streaming.Signal
	if text := root.Get("message.content").String(); text != "" {
		signals = append(signals, streaming.Text(text))
	}
	for i, tc := range root.Get("message.tool_calls").Array() {
		args := tc.Get("function.arguments")
		fragment := args.Raw
		if args.Type == gjson.String {
			fragment = args.Str
		}
		signals = append(signals,
			streaming.ToolCallStart(i, "", tc.Get("function.name").String()),
			streaming.ToolCallFragment(i, fragment),
			streaming.ToolCallClosed(),
		)
	}
	if done.Bool() {
		signals = append(signals, streaming.Done())
	}

	if len(signals) == 0 {
		return []streaming.Signal{streaming.Ignore()}, nil
	}
	return signals, nil
}

// ModelsRequest lists locally pulled models.
func (a *Adapter) ModelsRequest() llmclient.Request {
	return llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: a.baseURL + "/api/tags",
	}
}

// ParseModels decodes {"models":[{"name":...}]}.
func (a *Adapter) ParseModels(body []byte) ([]core.Model, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewInvalidResponseError(a.name, "model list is not valid JSON", nil)
	}
	var models []core.Model
	for _, entry := range gjson.GetBytes(body, "models").Array() {
		name := entry.Get("name").String()
		if name == "" {
			continue
		}
		m := core.NewModel(a.name, name)
		m.TokensCountFactors = TokensCountFactors
		models = append(models, m)
	}
	return models, nil
}
