package openai

import (
	"strings"
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{
		APIKey: "test-key",
		Models: []llm.ModelConfig{
			{ModelID: "gpt-4o-mini", Alias: "small-1", Tier: types.TierSmall, ContextWindow: 128000, MaxTokens: 4096},
			{ModelID: "o3", Alias: "reasoner", Tier: types.TierLarge, ContextWindow: 200000, MaxTokens: 8192, SupportsReasoning: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewRequiresAPIKeyAndModels(t *testing.T) {
	if _, err := New(Config{Models: []llm.ModelConfig{{ModelID: "m"}}}); err == nil {
		t.Error("missing api key accepted")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Error("empty model list accepted")
	}
}

func TestUseResponsesPath(t *testing.T) {
	reasoner := &llm.ModelConfig{SupportsReasoning: true}
	plain := &llm.ModelConfig{}

	cases := []struct {
		name  string
		model *llm.ModelConfig
		req   llm.Request
		want  bool
	}{
		{"complex reasoning", reasoner, llm.Request{ComplexityScore: 0.9}, true},
		{"below threshold", reasoner, llm.Request{ComplexityScore: 0.5}, false},
		{"no reasoning support", plain, llm.Request{ComplexityScore: 0.9}, false},
		{"tools force chat", reasoner, llm.Request{ComplexityScore: 0.9, Functions: []types.FunctionSchema{{Name: "f"}}}, false},
		{"json format forces chat", reasoner, llm.Request{ComplexityScore: 0.9, ResponseFormat: map[string]string{"type": "json_object"}}, false},
	}
	for _, tc := range cases {
		if got := useResponsesPath(tc.model, &tc.req); got != tc.want {
			t.Errorf("%s: useResponsesPath = %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestIsGPT5Chat(t *testing.T) {
	cases := []struct {
		model string
		want  bool
	}{
		{"gpt-5", true},
		{"GPT-5-mini", true},
		{"gpt-5-pro", false},
		{"gpt-4o", false},
	}
	for _, tc := range cases {
		if got := isGPT5Chat(tc.model); got != tc.want {
			t.Errorf("isGPT5Chat(%q) = %t, want %t", tc.model, got, tc.want)
		}
	}
}

func TestBuildChatParamsOmitsSamplingForGPT5(t *testing.T) {
	p := testProvider(t)
	temp := 0.7
	req := &llm.Request{
		Messages:    []types.Message{{Role: types.RoleUser, Content: types.TextContent("hi")}},
		Temperature: &temp,
	}

	gpt5 := &llm.ModelConfig{ModelID: "gpt-5-mini", MaxTokens: 1000, ContextWindow: 100000}
	params, err := p.buildChatParams(req, gpt5, 500)
	if err != nil {
		t.Fatal(err)
	}
	if params.Temperature.Valid() {
		t.Error("temperature sent to a gpt-5 chat model")
	}

	standard := &llm.ModelConfig{ModelID: "gpt-4o-mini", MaxTokens: 1000, ContextWindow: 100000}
	params, err = p.buildChatParams(req, standard, 500)
	if err != nil {
		t.Fatal(err)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.7 {
		t.Errorf("temperature = %+v, want 0.7", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 500 {
		t.Errorf("max completion tokens = %+v, want 500", params.MaxCompletionTokens)
	}
}

func TestConvertMessageRoles(t *testing.T) {
	for _, role := range []string{types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleTool, types.RoleFunction} {
		m := types.Message{Role: role, Content: types.TextContent("x"), ToolCallID: "c1"}
		if _, err := convertMessage(m); err != nil {
			t.Errorf("role %q: %v", role, err)
		}
	}
	if _, err := convertMessage(types.Message{Role: "narrator"}); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestConvertFunctionRoleWithoutCallID(t *testing.T) {
	m := types.Message{Role: types.RoleFunction, Content: types.TextContent("42")}
	got, err := convertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	// Degrades to a labelled user message when the originating call is unknown.
	if got.OfUser == nil {
		t.Fatal("expected a user message")
	}
	if text := got.OfUser.Content.OfString.Value; !strings.Contains(text, "Function result") {
		t.Errorf("content = %q", text)
	}
}

func TestFirstFunctionCall(t *testing.T) {
	if got := firstFunctionCall(nil); got != nil {
		t.Errorf("nil calls produced %v", got)
	}
	calls := []oai.ChatCompletionMessageToolCall{{
		ID: "call_1",
		Function: oai.ChatCompletionMessageToolCallFunction{
			Name:      "lookup",
			Arguments: `{"q":"x"}`,
		},
	}}
	got := firstFunctionCall(calls)
	if got == nil || got.Name != "lookup" || got.ID != "call_1" {
		t.Errorf("firstFunctionCall = %+v", got)
	}
}

func TestResolveThroughModelSet(t *testing.T) {
	p := testProvider(t)
	m, err := p.Resolve("openai:reasoner", "")
	if err != nil {
		t.Fatal(err)
	}
	if m.ModelID != "o3" {
		t.Errorf("model = %q, want o3", m.ModelID)
	}
}
