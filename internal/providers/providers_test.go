package providers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
	"github.com/IncredibleDevHQ/agent-panel/internal/llmclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/streaming"
)

// fakeAdapter speaks a minimal JSON protocol against httptest servers:
//
//	POST {base}/chat      {"messages":[...],"stream":bool}
//	unary response        {"text":"...","calls":[{"name","args","id"}],"input_tokens":n}
//	error envelope        {"error":"..."}
//	stream lines          {"text":"..."} | {"call":{...}} | {"done":true} | {"fail":"..."}
//	GET  {base}/models    {"models":["name",...]}
type fakeAdapter struct {
	name    string
	baseURL string
	apiKey  string
	models  []core.Model
}

var fakeRegistration = Registration{
	Type: "fake",
	New: func(cfg config.ProviderConfig) (Adapter, error) {
		name := cfg.ResolvedName()
		models, err := cfg.ModelList(name)
		if err != nil {
			return nil, err
		}
		return &fakeAdapter{name: name, baseURL: cfg.APIBase, apiKey: cfg.APIKey, models: models}, nil
	},
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Type() string { return "fake" }

func (a *fakeAdapter) Models() []core.Model { return append([]core.Model(nil), a.models...) }

func (a *fakeAdapter) Authenticate(h http.Header) error {
	if a.apiKey == "" {
		return core.NewMissingCredentialError(a.name, "api_key")
	}
	h.Set("Authorization", "Bearer "+a.apiKey)
	return nil
}

func (a *fakeAdapter) BuildRequest(req *core.Request, model core.Model) (*llmclient.Request, error) {
	texts := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		texts = append(texts, m.Text())
	}
	return &llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: a.baseURL + "/chat",
		Body:     map[string]any{"model": model.Name, "messages": texts, "stream": req.Stream},
		Model:    model.Name,
	}, nil
}

func (a *fakeAdapter) ParseResponse(body []byte) (*core.Output, error) {
	root := gjson.ParseBytes(body)
	out := &core.Output{Text: root.Get("text").String()}
	for _, c := range root.Get("calls").Array() {
		out.ToolCalls = append(out.ToolCalls, core.NewToolCall(c.Get("name").String(), json.RawMessage(c.Get("args").Raw), c.Get("id").String()))
	}
	if v := root.Get("input_tokens"); v.Exists() {
		out.InputTokens = core.IntPtr(int(v.Int()))
	}
	if err := out.Validate(a.name); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *fakeAdapter) ParseError(statusCode int, body []byte) error {
	if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String {
		return core.NewUpstreamError(a.name, statusCode, "fake_error", msg.Str)
	}
	return nil
}

func (a *fakeAdapter) StreamFormat() streaming.Format { return streaming.FormatNDJSON }

func (a *fakeAdapter) ParseFrame(frame []byte) ([]streaming.Signal, error) {
	root := gjson.ParseBytes(frame)
	switch {
	case root.Get("fail").Exists():
		return []streaming.Signal{streaming.Error("fake_error", root.Get("fail").String())}, nil
	case root.Get("done").Bool():
		return []streaming.Signal{streaming.Done()}, nil
	case root.Get("call").Exists():
		c := root.Get("call")
		return []streaming.Signal{
			streaming.ToolCallStart(int(c.Get("index").Int()), c.Get("id").String(), c.Get("name").String()),
			streaming.ToolCallFragment(int(c.Get("index").Int()), c.Get("args").String()),
		}, nil
	case root.Get("text").Exists():
		return []streaming.Signal{streaming.Text(root.Get("text").String())}, nil
	}
	return []streaming.Signal{streaming.Ignore()}, nil
}

// discoveringAdapter adds model listing to fakeAdapter.
type discoveringAdapter struct {
	*fakeAdapter
}

var discoveringRegistration = Registration{
	Type: "fake-discovering",
	New: func(cfg config.ProviderConfig) (Adapter, error) {
		a, err := fakeRegistration.New(cfg)
		if err != nil {
			return nil, err
		}
		return &discoveringAdapter{fakeAdapter: a.(*fakeAdapter)}, nil
	},
}

func (a *discoveringAdapter) Type() string { return "fake-discovering" }

func (a *discoveringAdapter) ModelsRequest() llmclient.Request {
	return llmclient.Request{Method: http.MethodGet, Endpoint: a.baseURL + "/models"}
}

func (a *discoveringAdapter) ParseModels(body []byte) ([]core.Model, error) {
	var models []core.Model
	for _, name := range gjson.GetBytes(body, "models").Array() {
		models = append(models, core.NewModel(a.name, name.String()))
	}
	return models, nil
}

func testFactory() *Factory {
	return NewFactory(fakeRegistration, discoveringRegistration)
}

func fakeClient(name, base string, models ...string) config.ProviderConfig {
	cfg := config.ProviderConfig{Type: "fake", Name: name, APIBase: base, APIKey: "test-key"}
	for _, m := range models {
		mc := config.ModelConfig{Name: m}
		if strings.HasSuffix(m, "-vision") {
			mc.Capabilities = "text,vision"
		}
		cfg.Models = append(cfg.Models, mc)
	}
	return cfg
}
