// Package anyllm provides LLM providers backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider client. One
// adapter serves every vendor family that does not need a dedicated dialect:
// Anthropic, Gemini, Groq, DeepSeek, Qwen and Ollama.
//
// Each family gets its own message shaper. Anthropic lifts system turns into
// a single leading system message and keeps temperature when both sampling
// knobs are set. Gemini folds system content into the first user turn and
// maps assistant turns to the "model" role. The OpenAI-compatible families
// (Groq, DeepSeek, Qwen, Ollama) pass conversations through unchanged apart
// from rewriting tool results into plain user turns.
package anyllm

import (
	"context"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// qwenBaseURL is the DashScope OpenAI-compatible endpoint used for the Qwen
// family, which any-llm-go serves through its OpenAI backend.
const qwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// shaper rewrites a conversation into the form a vendor family accepts.
type shaper func(messages []types.Message) []anyllmlib.Message

// families maps a supported family name to its backend constructor and shaper.
var families = map[string]struct {
	construct func(opts ...anyllmlib.Option) (anyllmlib.Provider, error)
	shape     shaper
}{
	"anthropic": {asProvider(anthropic.New), shapeAnthropic},
	"gemini":    {asProvider(gemini.New), shapeGemini},
	"groq":      {asProvider(groq.New), shapeOpenAICompatible},
	"deepseek":  {asProvider(deepseek.New), shapeOpenAICompatible},
	"qwen":      {asProvider(anyllmoai.New), shapeOpenAICompatible},
	"ollama":    {asProvider(ollama.New), shapeOpenAICompatible},
}

// asProvider adapts a backend constructor returning a concrete provider type
// to the interface-returning signature the families table expects.
func asProvider[P anyllmlib.Provider](construct func(opts ...anyllmlib.Option) (P, error)) func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := construct(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Provider implements llm.Provider for one any-llm-go vendor family.
type Provider struct {
	llm.ModelSet

	name    string
	family  string
	timeout time.Duration
	backend anyllmlib.Provider
	shape   shaper
}

var _ llm.Provider = (*Provider)(nil)

// Config holds construction parameters for an any-llm-go backed provider.
type Config struct {
	// Name is the provider name used in routing and metrics. Defaults to
	// Family.
	Name string

	// Family selects the vendor dialect: anthropic, gemini, groq, deepseek,
	// qwen or ollama.
	Family string

	// APIKey authenticates against the vendor. When empty the backend reads
	// its usual environment variable (ANTHROPIC_API_KEY, GEMINI_API_KEY, …).
	APIKey string

	// BaseURL overrides the vendor endpoint. Required for self-hosted Ollama
	// deployments that are not on localhost.
	BaseURL string

	Models  []llm.ModelConfig
	Timeout time.Duration
}

// New constructs a provider for cfg.Family.
func New(cfg Config) (*Provider, error) {
	family := strings.ToLower(cfg.Family)
	entry, ok := families[family]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported family %q; supported: anthropic, gemini, groq, deepseek, qwen, ollama", cfg.Family)
	}
	if cfg.Name == "" {
		cfg.Name = family
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if family == "qwen" && cfg.BaseURL == "" {
		cfg.BaseURL = qwenBaseURL
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}

	backend, err := entry.construct(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", family, err)
	}

	ms, err := llm.NewModelSet(cfg.Name, cfg.Models, false)
	if err != nil {
		return nil, err
	}

	return &Provider{
		ModelSet: ms,
		name:     cfg.Name,
		family:   family,
		timeout:  cfg.Timeout,
		backend:  backend,
		shape:    entry.shape,
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.name }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	model, err := p.Resolve(req.Model, req.ModelTier)
	if err != nil {
		return nil, err
	}

	promptTokens := p.CountTokens(req.Messages, req.Functions, model)
	maxOut, err := p.ClampMaxTokens(req.MaxTokens, model, promptTokens)
	if err != nil {
		return nil, err
	}

	timeout := p.timeout
	if model.Timeout > 0 {
		timeout = model.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := p.buildParams(req, model, maxOut)
	start := time.Now()

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, llm.WrapVendorError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.WrapVendorError(p.name, fmt.Errorf("empty choices in response"))
	}

	choice := resp.Choices[0]
	out := &llm.Response{
		Content:                choice.Message.ContentString(),
		Model:                  model.ModelID,
		Provider:               p.name,
		FinishReason:           string(choice.FinishReason),
		LatencyMs:              time.Since(start).Milliseconds(),
		EffectiveMaxCompletion: maxOut,
	}
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		out.FunctionCall = &types.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
	}

	if resp.Usage != nil {
		out.Usage = types.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	if out.Usage.InputTokens == 0 {
		out.Usage.InputTokens = promptTokens
	}
	if out.Usage.OutputTokens == 0 {
		out.Usage.OutputTokens = llm.EstimateTokens([]types.Message{{
			Role:    types.RoleAssistant,
			Content: types.TextContent(out.Content),
		}}, nil)
	}
	out.Usage.Normalize()
	out.Usage.EstimatedCost = llm.Cost(out.Usage, model)
	return out, nil
}

// StreamComplete implements llm.Provider. Vendors behind any-llm-go rarely
// report usage on streams, so the trailing usage chunk is estimated from the
// accumulated output.
func (p *Provider) StreamComplete(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	model, err := p.Resolve(req.Model, req.ModelTier)
	if err != nil {
		return nil, err
	}
	promptTokens := p.CountTokens(req.Messages, req.Functions, model)
	maxOut, err := p.ClampMaxTokens(req.MaxTokens, model, promptTokens)
	if err != nil {
		return nil, err
	}

	params := p.buildParams(req, model, maxOut)
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		var output strings.Builder
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			output.WriteString(delta)
			select {
			case ch <- llm.Chunk{Delta: delta}:
			case <-ctx.Done():
				return
			}
		}
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{Err: llm.WrapVendorError(p.name, err)}:
			case <-ctx.Done():
			}
			return
		}

		usage := types.TokenUsage{
			InputTokens:  promptTokens,
			OutputTokens: llm.EstimateTokens([]types.Message{{Role: types.RoleAssistant, Content: types.TextContent(output.String())}}, nil),
		}
		usage.Normalize()
		usage.EstimatedCost = llm.Cost(usage, model)
		select {
		case ch <- llm.Chunk{Usage: &usage}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// CountTokens implements llm.Provider using the shared heuristic.
func (p *Provider) CountTokens(messages []types.Message, functions []types.FunctionSchema, _ *llm.ModelConfig) int {
	return llm.EstimateTokens(messages, functions)
}

// EstimateCost implements llm.Provider.
func (p *Provider) EstimateCost(usage types.TokenUsage, model *llm.ModelConfig) float64 {
	return llm.Cost(usage, model)
}

// buildParams shapes the conversation for the family and carries over the
// sampling knobs the unified client exposes. When both temperature and top_p
// are set on an Anthropic request only temperature survives; the vendor
// rejects requests carrying both.
func (p *Provider) buildParams(req *llm.Request, model *llm.ModelConfig, maxOut int) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    model.ModelID,
		Messages: p.shape(req.Messages),
	}

	if req.Temperature != nil {
		t := *req.Temperature
		params.Temperature = &t
	}
	if maxOut > 0 {
		mt := maxOut
		params.MaxTokens = &mt
	}

	if model.SupportsFunctions {
		for _, fn := range req.Functions {
			params.Tools = append(params.Tools, anyllmlib.Tool{
				Type: "function",
				Function: anyllmlib.Function{
					Name:        fn.Name,
					Description: fn.Description,
					Parameters:  fn.Parameters,
				},
			})
		}
	}
	return params
}

// ── family shapers ──────────────────────────────────────────────────────────

// shapeAnthropic lifts every system turn into one leading system message and
// rewrites tool results into user turns, since Anthropic has no tool-result
// role on this path.
func shapeAnthropic(messages []types.Message) []anyllmlib.Message {
	var system []string
	var rest []anyllmlib.Message

	for _, m := range messages {
		text, _ := m.Content.AsText()
		switch m.Role {
		case types.RoleSystem:
			if text != "" {
				system = append(system, text)
			}
		case types.RoleFunction, types.RoleTool:
			rest = append(rest, anyllmlib.Message{
				Role:    anyllmlib.RoleUser,
				Content: "Function result: " + text,
			})
		default:
			if m.Role == types.RoleAssistant && text == "" && len(m.ToolCalls) == 0 {
				continue
			}
			rest = append(rest, anyllmlib.Message{Role: m.Role, Content: text})
		}
	}

	out := make([]anyllmlib.Message, 0, len(rest)+1)
	if len(system) > 0 {
		out = append(out, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: strings.Join(system, "\n\n"),
		})
	}
	return append(out, rest...)
}

// shapeGemini maps assistant turns to Gemini's "model" role and folds system
// content into the first user turn, separated by a blank line.
func shapeGemini(messages []types.Message) []anyllmlib.Message {
	var system []string
	var rest []anyllmlib.Message

	for _, m := range messages {
		text, _ := m.Content.AsText()
		switch m.Role {
		case types.RoleSystem:
			if text != "" {
				system = append(system, text)
			}
		case types.RoleAssistant:
			rest = append(rest, anyllmlib.Message{Role: "model", Content: text})
		case types.RoleFunction, types.RoleTool:
			rest = append(rest, anyllmlib.Message{
				Role:    anyllmlib.RoleUser,
				Content: "Function result: " + text,
			})
		default:
			rest = append(rest, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: text})
		}
	}

	if len(system) > 0 {
		prefix := strings.Join(system, "\n\n")
		folded := false
		for i := range rest {
			if rest[i].Role == anyllmlib.RoleUser {
				text, _ := rest[i].Content.(string)
				rest[i].Content = prefix + "\n\n" + text
				folded = true
				break
			}
		}
		if !folded {
			rest = append([]anyllmlib.Message{{Role: anyllmlib.RoleUser, Content: prefix}}, rest...)
		}
	}
	return rest
}

// shapeOpenAICompatible passes the conversation through for vendors speaking
// the OpenAI chat dialect, rewriting only tool results.
func shapeOpenAICompatible(messages []types.Message) []anyllmlib.Message {
	out := make([]anyllmlib.Message, 0, len(messages))
	for _, m := range messages {
		text, _ := m.Content.AsText()
		switch m.Role {
		case types.RoleFunction, types.RoleTool:
			if m.ToolCallID != "" {
				out = append(out, anyllmlib.Message{
					Role:       "tool",
					Content:    text,
					ToolCallID: m.ToolCallID,
				})
				continue
			}
			out = append(out, anyllmlib.Message{
				Role:    anyllmlib.RoleUser,
				Content: "Function result: " + text,
			})
		default:
			msg := anyllmlib.Message{Role: m.Role, Content: text, Name: m.Name}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: anyllmlib.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, msg)
		}
	}
	return out
}
