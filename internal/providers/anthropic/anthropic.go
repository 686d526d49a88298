// Package anthropic provides the Claude messages API adapter.
package anthropic

import (
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

const providerType = "claude"

// Registration provides factory registration for Claude.
var Registration = providers.Registration{
	Type: providerType,
	New:  New,
}

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	anthropicBeta       = "tools-2024-05-16"
	defaultMaxTokens    = 4096
)

var catalogue = []struct {
	name            string
	maxInputTokens  int
	maxOutputTokens int
	capabilities    string
}{
	{"claude-3-opus-20240229", 200000, 4096, "text,vision"},
	{"claude-3-sonnet-20240229", 200000, 4096, "text,vision"},
	{"claude-3-haiku-20240307", 200000, 4096, "text,vision"},
}

// Adapter implements the Claude messages protocol.
type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	models  []core.Model
}

// New creates the adapter. Models declared in config replace the built-in
// catalogue.
func New(cfg config.ProviderConfig) (providers.Adapter, error) {
	name := cfg.ResolvedName()

	models, err := cfg.ModelList(name)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		for _, entry := range catalogue {
			m := core.NewModel(name, entry.name)
			m.Capabilities = core.MustParseCapabilities(entry.capabilities)
			m.MaxInputTokens = entry.maxInputTokens
			m.MaxOutputTokens = entry.maxOutputTokens
			models = append(models, m)
		}
	}

	baseURL := cfg.APIBase
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		models:  models,
	}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Type() string { return providerType }

func (a *Adapter) Models() []core.Model {
	out := make([]core.Model, len(a.models))
	copy(out, a.models)
	return out
}

// Authenticate sets x-api-key.
func (a *Adapter) Authenticate(h http.Header) error {
	if a.apiKey == "" {
		return core.NewMissingCredentialError(a.name, "api_key")
	}
	h.Set("x-api-key", a.apiKey)
	return nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Tools       []tool    `json:"tools,omitempty"`
}

// message content is either a string or a list of blocks.
type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type block struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *imageSource `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// BuildRequest renders req as a messages call. System messages move to the
// top-level system field. Images must be inline base64 data URLs.
func (a *Adapter) BuildRequest(req *core.Request, model core.Model) (*llmclient.Request, error) {
	body, err := a.buildBody(req, model)
	if err != nil {
		return nil, err
	}
	return &llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: a.baseURL + "/messages",
		Body:     body,
		Headers: map[string]string{
			"anthropic-version": anthropicAPIVersion,
			"anthropic-beta":    anthropicBeta,
		},
		Model: model.Name,
	}, nil
}

func (a *Adapter) buildBody(req *core.Request, model core.Model) (*messagesRequest, error) {
	system, rest := core.SplitSystem(req.Messages)

	body := &messagesRequest{
		Model:       model.Name,
		System:      strings.Join(system, "\n\n"),
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	switch {
	case req.MaxTokens != nil:
		body.MaxTokens = *req.MaxTokens
	case model.MaxOutputTokens > 0:
		body.MaxTokens = model.MaxOutputTokens
	}

	b := &bodyBuilder{emitted: make(map[string]bool)}
	var networkImages []string

	for _, msg := range rest {
		switch msg.Kind {
		case core.MessageFunctionCall:
			b.appendBlocks("assistant", block{
				Type:  "tool_use",
				ID:    msg.ID,
				Name:  msg.Name,
				Input: json.RawMessage(msg.ToolCall().ArgumentsString()),
			})
			if msg.ID != "" {
				b.emitted[msg.ID] = true
			}
		case core.MessageFunctionResult:
			if msg.ID == "" {
				return nil, core.NewMalformedInputError(a.name, "tool result for "+msg.Name+" has no tool_use id")
			}
			if !b.emitted[msg.ID] {
				b.appendBlocks("assistant", block{Type: "tool_use", ID: msg.ID, Name: msg.Name, Input: json.RawMessage("{}")})
				b.emitted[msg.ID] = true
			}
			b.appendBlocks("user", block{Type: "tool_result", ToolUseID: msg.ID, Content: msg.Content})
		default:
			role := string(msg.Role)
			if msg.Role != core.RoleAssistant {
				role = "user"
			}
			if len(msg.Parts) == 0 {
				b.messages = append(b.messages, message{Role: role, Content: msg.Content})
				continue
			}
			blocks := make([]block, 0, len(msg.Parts))
			for _, part := range msg.Parts {
				if part.ImageURL == nil {
					blocks = append(blocks, block{Type: "text", Text: part.Text})
					continue
				}
				mediaType, data, ok := parseDataURL(part.ImageURL.URL)
				if !ok {
					networkImages = append(networkImages, part.ImageURL.URL)
					continue
				}
				blocks = append(blocks, block{
					Type:   "image",
					Source: &imageSource{Type: "base64", MediaType: mediaType, Data: data},
				})
			}
			b.messages = append(b.messages, message{Role: role, Content: blocks})
		}
	}

	if len(networkImages) > 0 {
		return nil, core.NewNetworkImagesError(a.name, networkImages)
	}
	body.Messages = b.messages

	for _, fn := range req.Functions {
		body.Tools = append(body.Tools, tool{
			Name:        fn.Name,
			Description: fn.Description,
			InputSchema: fn.ParametersOrEmpty(),
		})
	}
	return body, nil
}

// bodyBuilder merges consecutive tool blocks of the same role into one
// message so tool_use and tool_result turns alternate.
type bodyBuilder struct {
	messages []message
	emitted  map[string]bool
}

func (b *bodyBuilder) appendBlocks(role string, blocks ...block) {
	if n := len(b.messages); n > 0 && b.messages[n-1].Role == role {
		if existing, ok := b.messages[n-1].Content.([]block); ok && isToolBlocks(existing) {
			b.messages[n-1].Content = append(existing, blocks...)
			return
		}
	}
	b.messages = append(b.messages, message{Role: role, Content: blocks})
}

func isToolBlocks(blocks []block) bool {
	for _, bl := range blocks {
		if bl.Type != "tool_use" && bl.Type != "tool_result" {
			return false
		}
	}
	return true
}

// parseDataURL splits data:<mime>;base64,<payload>.
func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	return strings.Cut(rest, ";base64,")
}

// ParseResponse decodes a messages response. Text blocks are concatenated;
// tool_use blocks become tool calls.
func (a *Adapter) ParseResponse(body []byte) (*core.Output, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewInvalidResponseError(a.name, "response is not valid JSON", nil)
	}
	root := gjson.ParseBytes(body)
	if err := a.envelopeError(0, root); err != nil {
		return nil, err
	}

	out := &core.Output{ResponseID: root.Get("id").String()}
	var text strings.Builder
	for _, content := range root.Get("content").Array() {
		switch content.Get("type").String() {
		case "text":
			text.WriteString(content.Get("text").String())
		case "tool_use":
			name := content.Get("name").String()
			input := content.Get("input")
			if name == "" || !input.Exists() {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, core.NewToolCall(name, json.RawMessage(input.Raw), content.Get("id").String()))
		}
	}
	out.Text = text.String()

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

// ParseError decodes {"type":"error","error":{"type","message"}}.
func (a *Adapter) ParseError(statusCode int, body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	return a.envelopeError(statusCode, gjson.ParseBytes(body))
}

func (a *Adapter) envelopeError(statusCode int, root gjson.Result) error {
	errField := root.Get("error")
	if !errField.IsObject() {
		return nil
	}
	return core.NewUpstreamError(a.name, statusCode, errField.Get("type").String(), errField.Get("message").String())
}

func (a *Adapter) StreamFormat() streaming.Format { return streaming.FormatSSE }

// ParseFrame classifies one messages stream event.
func (a *Adapter) ParseFrame(frame []byte) ([]streaming.Signal, error) {
	if !gjson.ValidBytes(frame) {
		return nil, core.NewInvalidResponseError(a.name, "stream frame is not valid JSON: "+string(frame), nil)
	}
	event := gjson.ParseBytes(frame)
	index := int(event.Get("index").Int())

	switch event.Get("type").String() {
	case "content_block_start":
		cb := event.Get("content_block")
		switch cb.Get("type").String() {
		case "tool_use":
			return []streaming.Signal{streaming.ToolCallStart(index, cb.Get("id").String(), cb.Get("name").String())}, nil
		case "text":
			if text := cb.Get("text").String(); text != "" {
				return []streaming.Signal{streaming.Text(text)}, nil
			}
		}
	case "content_block_delta":
		delta := event.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return []streaming.Signal{streaming.Text(delta.Get("text").String())}, nil
		case "input_json_delta":
			return []streaming.Signal{streaming.ToolCallFragment(index, delta.Get("partial_json").String())}, nil
		}
	case "content_block_stop":
		return []streaming.Signal{streaming.ToolCallClosed()}, nil
	case "message_stop":
		return []streaming.Signal{streaming.Done()}, nil
	case "error":
		errField := event.Get("error")
		return []streaming.Signal{streaming.Error(errField.Get("type").String(), errField.Get("message").String())}, nil
	}
	return []streaming.Signal{streaming.Ignore()}, nil
}
