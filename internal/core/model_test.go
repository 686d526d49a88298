package core

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestParseCapabilities(t *testing.T) {
	tests := []struct {
		in      string
		want    Capability
		wantErr bool
	}{
		{"", CapabilityText, false},
		{"text", CapabilityText, false},
		{"text,vision", CapabilityText | CapabilityVision, false},
		{" Vision ", CapabilityVision, false},
		{"audio", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCapabilities(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindModel(t *testing.T) {
	models := []Model{
		NewModel("openai", "gpt-4"),
		NewModel("azure", "gpt-4"),
		NewModel("claude", "claude-3-opus"),
	}

	tests := []struct {
		id     string
		wantID string
		ok     bool
	}{
		{"azure:gpt-4", "azure:gpt-4", true},
		{"gpt-4", "openai:gpt-4", true},
		{"claude-3-opus", "claude:claude-3-opus", true},
		{"claude:gpt-4", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			m, ok := FindModel(models, tt.id)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && m.ID() != tt.wantID {
				t.Errorf("ID() = %q, want %q", m.ID(), tt.wantID)
			}
		})
	}
}

func TestParseModelID(t *testing.T) {
	p, n := ParseModelID("ollama:llama3:8b")
	if p != "ollama" || n != "llama3:8b" {
		t.Errorf("got %q %q", p, n)
	}
	p, n = ParseModelID("gpt-4")
	if p != "" || n != "gpt-4" {
		t.Errorf("got %q %q", p, n)
	}
}

func TestRequest_RequiredCapabilities(t *testing.T) {
	req := &Request{Messages: []Message{User("hi")}}
	if got := req.RequiredCapabilities(); got != CapabilityText {
		t.Errorf("got %v, want text", got)
	}
	req.Messages = append(req.Messages, UserWithImages("look", "https://example.com/cat.png"))
	if got := req.RequiredCapabilities(); !got.Has(CapabilityVision) {
		t.Errorf("got %v, want vision", got)
	}
}

func TestCheckInputTokens(t *testing.T) {
	counter := TokenCounterFunc(func(s string) int { return len(s) })
	model := Model{
		Provider:           "openai",
		Name:               "tiny",
		MaxInputTokens:     20,
		TokensCountFactors: TokensCountFactors{Prompt: 5, Completion: 2},
	}

	// 5+5 + 3+5 + 2 = 20
	ok := []Message{User("hello"), Assistant("hey")}
	if err := CheckInputTokens(counter, model, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	over := append(ok, User("x"))
	err := CheckInputTokens(counter, model, over)
	if !IsType(err, ErrorTypeInputTooLong) {
		t.Fatalf("err = %v, want input_too_long", err)
	}

	model.MaxInputTokens = 0
	if err := CheckInputTokens(counter, model, over); err != nil {
		t.Errorf("unlimited model failed: %v", err)
	}
}

func TestOutput_Validate(t *testing.T) {
	if err := (&Output{}).Validate("claude"); !IsType(err, ErrorTypeInvalidResponse) {
		t.Errorf("empty output err = %v", err)
	}
	if err := (&Output{Text: "hi"}).Validate("claude"); err != nil {
		t.Errorf("text output err = %v", err)
	}
	if err := (&Output{ToolCalls: []ToolCall{{Name: "f"}}}).Validate("claude"); err != nil {
		t.Errorf("tool output err = %v", err)
	}
}

func TestGatewayError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *GatewayError
		expected string
	}{
		{
			name:     "upstream with code",
			err:      NewUpstreamError("qianwen", http.StatusBadRequest, "InvalidParameter", "bad input"),
			expected: "[qianwen] upstream_error: InvalidParameter: bad input",
		},
		{
			name:     "without provider",
			err:      NewUnknownModelError("x:y"),
			expected: `unknown_model: unknown model "x:y"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGatewayError_HTTPStatusCode(t *testing.T) {
	if got := NewMalformedInputError("claude", "x").HTTPStatusCode(); got != http.StatusBadRequest {
		t.Errorf("malformed input status = %d", got)
	}
	if got := NewTransportError("openai", 0, "dial", nil).HTTPStatusCode(); got != http.StatusBadGateway {
		t.Errorf("transport status = %d", got)
	}
	if got := NewTransportError("openai", 503, "down", nil).HTTPStatusCode(); got != 503 {
		t.Errorf("explicit status = %d", got)
	}
}

func TestIsType_Wrapped(t *testing.T) {
	base := errors.New("boom")
	err := NewTransportError("openai", 0, "request failed", base)
	wrapped := errors.Join(errors.New("context"), err)
	if !IsType(wrapped, ErrorTypeTransport) {
		t.Error("IsType did not see through wrapping")
	}
	if !errors.Is(err, base) {
		t.Error("Unwrap lost the cause")
	}
	if IsType(base, ErrorTypeTransport) {
		t.Error("plain error matched")
	}
}

func TestNewNetworkImagesError(t *testing.T) {
	err := NewNetworkImagesError("claude", []string{"https://a/1.png", "https://b/2.png"})
	want := "the model does not support network images: https://a/1.png, https://b/2.png"
	if err.Message != want {
		t.Errorf("Message = %q, want %q", err.Message, want)
	}
}

func TestModel_MergeExtraFields(t *testing.T) {
	m := Model{ExtraFields: map[string]any{
		"keep_alive": "5m",
		"stream":     true,
		"options":    map[string]any{"num_ctx": 8192, "temperature": 0.1},
	}}
	body := map[string]any{
		"stream":  false,
		"options": map[string]any{"temperature": 0.7},
	}

	m.MergeExtraFields(body)

	if body["keep_alive"] != "5m" {
		t.Errorf("keep_alive = %v, want 5m", body["keep_alive"])
	}
	if body["stream"] != false {
		t.Errorf("stream = %v, want body value kept", body["stream"])
	}
	opts := body["options"].(map[string]any)
	if opts["num_ctx"] != 8192 || opts["temperature"] != 0.7 {
		t.Errorf("options = %v", opts)
	}
}

func TestRequestID(t *testing.T) {
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID(empty) = %q", got)
	}
	ctx := WithRequestID(context.Background(), "req-7")
	if got := RequestID(ctx); got != "req-7" {
		t.Errorf("RequestID = %q, want req-7", got)
	}
}
