// Package xai provides an LLM provider for xAI Grok models.
//
// Grok exposes an OpenAI-compatible surface, so the provider reuses the
// OpenAI SDK against api.x.ai. Differences from the stock OpenAI dialect are
// handled here: message sanitisation (Grok rejects tool metadata and system
// roles on some paths), a permissive Responses-path fallback for reasoning
// models, and the Live Search surcharge reported via usage.num_sources_used.
package xai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// DefaultBaseURL is the xAI API endpoint.
const DefaultBaseURL = "https://api.x.ai/v1"

// liveSearchCostPerSource is the vendor surcharge per Live Search source.
const liveSearchCostPerSource = 0.025

// responsesEnvFlag can force the Responses path off for reasoning models.
// It can never force the path on for a model without reasoning support.
const responsesEnvFlag = "XAI_USE_RESPONSES"

// Provider implements llm.Provider for xAI Grok.
type Provider struct {
	llm.ModelSet

	name   string
	client oai.Client
}

var _ llm.Provider = (*Provider)(nil)

// Config holds construction parameters for the provider.
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Models  []llm.ModelConfig
	Timeout time.Duration
}

// New constructs a Grok provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("xai: apiKey must not be empty")
	}
	if cfg.Name == "" {
		cfg.Name = "xai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	ms, err := llm.NewModelSet(cfg.Name, cfg.Models, false)
	if err != nil {
		return nil, err
	}

	return &Provider{
		ModelSet: ms,
		name:     cfg.Name,
		client: oai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithMaxRetries(3),
			option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		),
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

	msgs := sanitizeMessages(req.Messages)
	promptTokens := llm.EstimateTokens(msgs, req.Functions)
	maxOut, err := p.ClampMaxTokens(req.MaxTokens, model, promptTokens)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, modelTimeout(model))
	defer cancel()

	start := time.Now()

	var resp *llm.Response
	if useResponses(model) && len(req.Functions) == 0 {
		resp, err = p.completeResponses(ctx, msgs, model, maxOut)
		if err != nil {
			// Permissive fallback: any Responses failure retries once over Chat.
			resp, err = p.completeChat(ctx, req, msgs, model, maxOut)
		}
	} else {
		resp, err = p.completeChat(ctx, req, msgs, model, maxOut)
	}
	if err != nil {
		return nil, llm.WrapVendorError(p.name, err)
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	resp.EffectiveMaxCompletion = maxOut
	return resp, nil
}

// useResponses gates the Responses path on model capability; the environment
// flag can only disable it.
func useResponses(model *llm.ModelConfig) bool {
	if !model.SupportsReasoning {
		return false
	}
	if v := os.Getenv(responsesEnvFlag); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err == nil && !enabled {
			return false
		}
	}
	return true
}

func (p *Provider) completeChat(ctx context.Context, req *llm.Request, msgs []types.Message, model *llm.ModelConfig, maxOut int) (*llm.Response, error) {
	var converted []oai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		text, _ := m.Content.AsText()
		switch m.Role {
		case types.RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(text)
			converted = append(converted, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			converted = append(converted, oai.UserMessage(text))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model.ModelID),
		Messages:            converted,
		MaxCompletionTokens: param.NewOpt(int64(maxOut)),
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(*req.TopP)
	}

	for _, fn := range req.Functions {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        fn.Name,
				Description: param.NewOpt(fn.Description),
				Parameters:  shared.FunctionParameters(fn.Parameters),
			},
		})
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("xai: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &llm.Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		Provider:     p.name,
		FinishReason: string(choice.FinishReason),
		RequestID:    resp.ID,
	}
	if out.Model == "" {
		out.Model = model.ModelID
	}
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		out.FunctionCall = &types.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
	}

	out.Usage = types.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	out.Usage.Normalize()
	out.Usage.EstimatedCost = llm.Cost(out.Usage, model) + liveSearchSurcharge(resp)
	return out, nil
}

func (p *Provider) completeResponses(ctx context.Context, msgs []types.Message, model *llm.ModelConfig, maxOut int) (*llm.Response, error) {
	var prompt strings.Builder
	for _, m := range msgs {
		if text, ok := m.Content.AsText(); ok {
			if prompt.Len() > 0 {
				prompt.WriteString("\n\n")
			}
			prompt.WriteString(text)
		}
	}

	resp, err := p.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           shared.ResponsesModel(model.ModelID),
		Input:           responses.ResponseNewParamsInputUnion{OfString: param.NewOpt(prompt.String())},
		MaxOutputTokens: param.NewOpt(int64(maxOut)),
	})
	if err != nil {
		return nil, err
	}

	out := &llm.Response{
		Content:      resp.OutputText(),
		Model:        string(resp.Model),
		Provider:     p.name,
		FinishReason: "stop",
		RequestID:    resp.ID,
		Usage: types.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	if out.Model == "" {
		out.Model = model.ModelID
	}
	out.Usage.Normalize()
	out.Usage.EstimatedCost = llm.Cost(out.Usage, model)
	return out, nil
}

// StreamComplete implements llm.Provider by draining a Chat stream.
func (p *Provider) StreamComplete(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	model, err := p.Resolve(req.Model, req.ModelTier)
	if err != nil {
		return nil, err
	}
	msgs := sanitizeMessages(req.Messages)
	promptTokens := llm.EstimateTokens(msgs, nil)
	maxOut, err := p.ClampMaxTokens(req.MaxTokens, model, promptTokens)
	if err != nil {
		return nil, err
	}

	var converted []oai.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		text, _ := m.Content.AsText()
		converted = append(converted, oai.UserMessage(text))
	}

	params := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model.ModelID),
		Messages:            converted,
		MaxCompletionTokens: param.NewOpt(int64(maxOut)),
		StreamOptions:       oai.ChatCompletionStreamOptionsParam{IncludeUsage: param.NewOpt(true)},
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, llm.WrapVendorError(p.name, err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var usage *types.TokenUsage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				u := types.TokenUsage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
				u.Normalize()
				u.EstimatedCost = llm.Cost(u, model)
				usage = &u
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case ch <- llm.Chunk{Delta: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{Err: llm.WrapVendorError(p.name, err)}:
			case <-ctx.Done():
			}
			return
		}
		if usage != nil {
			select {
			case ch <- llm.Chunk{Usage: usage}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// CountTokens implements llm.Provider using the shared heuristic over the
// sanitised message list (what actually goes on the wire).
func (p *Provider) CountTokens(messages []types.Message, functions []types.FunctionSchema, _ *llm.ModelConfig) int {
	return llm.EstimateTokens(sanitizeMessages(messages), functions)
}

// EstimateCost implements llm.Provider.
func (p *Provider) EstimateCost(usage types.TokenUsage, model *llm.ModelConfig) float64 {
	return llm.Cost(usage, model)
}

// sanitizeMessages rewrites a conversation into the subset Grok accepts:
// tool metadata is dropped, system turns become "System:"-prefixed user
// turns, and empty assistant turns disappear.
func sanitizeMessages(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		text, _ := m.Content.AsText()

		switch m.Role {
		case types.RoleSystem:
			out = append(out, types.Message{
				Role:    types.RoleUser,
				Content: types.TextContent("System: " + text),
			})
		case types.RoleAssistant:
			if text == "" {
				continue
			}
			out = append(out, types.Message{Role: types.RoleAssistant, Content: types.TextContent(text)})
		default:
			role := m.Role
			if role == types.RoleFunction || role == types.RoleTool {
				role = types.RoleUser
			}
			out = append(out, types.Message{Role: role, Content: types.TextContent(text)})
		}
	}
	return out
}

// liveSearchSurcharge reads usage.num_sources_used from the raw response and
// prices it at the Live Search per-source rate.
func liveSearchSurcharge(resp *oai.ChatCompletion) float64 {
	field, ok := resp.Usage.JSON.ExtraFields["num_sources_used"]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(field.Raw()))
	if err != nil || n <= 0 {
		return 0
	}
	return liveSearchCostPerSource * float64(n)
}

func modelTimeout(model *llm.ModelConfig) time.Duration {
	if model.Timeout > 0 {
		return model.Timeout
	}
	return 60 * time.Second
}
