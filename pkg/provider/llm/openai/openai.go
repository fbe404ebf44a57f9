// Package openai provides an LLM provider backed by the OpenAI API.
//
// The provider serves the whole OpenAI model catalogue configured for it and
// picks between two vendor surfaces per request: the Chat Completions API
// (default) and the Responses API, which is selected only for
// reasoning-capable models handling high-complexity requests with no tool
// schemas and no JSON response format.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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

// responsesComplexityThreshold is the minimum request complexity score at
// which a reasoning-capable model is routed to the Responses API.
const responsesComplexityThreshold = 0.7

// maxRetries is the SDK-level retry budget for transient vendor failures.
const maxRetries = 3

// tokenLimitMarker is synthesized when the vendor stops at the token limit
// without emitting any content, so callers see a partial-content marker
// instead of an opaque empty response.
const tokenLimitMarker = "[model hit token limit before producing output]"

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	llm.ModelSet

	name   string
	client oai.Client
}

// Compile-time interface assertions.
var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Embedder = (*Provider)(nil)
)

// Config holds construction parameters for the provider.
type Config struct {
	// Name is the registry name; defaults to "openai".
	Name string

	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the default endpoint (for proxies and compatible APIs).
	BaseURL string

	// Models is the model catalogue this provider serves. Must be non-empty.
	Models []llm.ModelConfig

	// Timeout is the default per-request deadline. Zero means 60s.
	Timeout time.Duration
}

// New constructs a Provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	ms, err := llm.NewModelSet(cfg.Name, cfg.Models, false)
	if err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(maxRetries),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		ModelSet: ms,
		name:     cfg.Name,
		client:   oai.NewClient(reqOpts...),
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

	ctx, cancel := context.WithTimeout(ctx, timeoutFor(model))
	defer cancel()

	start := time.Now()

	var resp *llm.Response
	if useResponsesPath(model, req) {
		resp, err = p.completeResponses(ctx, req, model, maxOut)
		if err != nil && llm.IsRetryable(llm.WrapVendorError(p.name, err)) {
			// Permissive fallback: a failing Responses call retries once over Chat.
			resp, err = p.completeChat(ctx, req, model, maxOut, promptTokens)
		}
	} else {
		resp, err = p.completeChat(ctx, req, model, maxOut, promptTokens)
	}
	if err != nil {
		return nil, llm.WrapVendorError(p.name, err)
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	resp.EffectiveMaxCompletion = maxOut
	return resp, nil
}

// useResponsesPath decides between the Responses API and Chat Completions.
func useResponsesPath(model *llm.ModelConfig, req *llm.Request) bool {
	if !model.SupportsReasoning || req.ComplexityScore < responsesComplexityThreshold {
		return false
	}
	if len(req.Functions) > 0 {
		return false
	}
	if req.ResponseFormat["type"] == "json_object" {
		return false
	}
	return true
}

// completeChat performs a Chat Completions request.
func (p *Provider) completeChat(ctx context.Context, req *llm.Request, model *llm.ModelConfig, maxOut, promptTokens int) (*llm.Response, error) {
	params, err := p.buildChatParams(req, model, maxOut)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &llm.Response{
		Content:      extractContent(choice.Message),
		Model:        resp.Model,
		Provider:     p.name,
		FinishReason: string(choice.FinishReason),
		RequestID:    resp.ID,
		FunctionCall: firstFunctionCall(choice.Message.ToolCalls),
	}
	if out.Model == "" {
		out.Model = model.ModelID
	}
	if out.Content == "" && out.FunctionCall == nil && out.FinishReason == "length" {
		out.Content = tokenLimitMarker
	}

	out.Usage = types.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if out.Usage.InputTokens == 0 {
		out.Usage.InputTokens = promptTokens
	}
	out.Usage.Normalize()
	out.Usage.EstimatedCost = llm.Cost(out.Usage, model)
	return out, nil
}

// completeResponses performs a Responses API request. Only text in/out: the
// path is never chosen when tools or a JSON response format are present.
func (p *Provider) completeResponses(ctx context.Context, req *llm.Request, model *llm.ModelConfig, maxOut int) (*llm.Response, error) {
	var prompt strings.Builder
	for _, m := range req.Messages {
		if text, ok := m.Content.AsText(); ok {
			if prompt.Len() > 0 {
				prompt.WriteString("\n\n")
			}
			if m.Role != types.RoleUser {
				prompt.WriteString(strings.ToUpper(m.Role[:1]) + m.Role[1:] + ": ")
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

// StreamComplete implements llm.Provider.
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

	params, err := p.buildChatParams(req, model, maxOut)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = oai.ChatCompletionStreamOptionsParam{
		IncludeUsage: param.NewOpt(true),
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

			// The usage-only chunk arrives last with no choices.
			if chunk.Usage.TotalTokens > 0 {
				u := types.TokenUsage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
				u.Normalize()
				u.EstimatedCost = llm.Cost(u, model)
				usage = &u
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- llm.Chunk{Delta: delta}:
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

// CountTokens implements llm.Provider using the shared heuristic.
func (p *Provider) CountTokens(messages []types.Message, functions []types.FunctionSchema, _ *llm.ModelConfig) int {
	return llm.EstimateTokens(messages, functions)
}

// EstimateCost implements llm.Provider.
func (p *Provider) EstimateCost(usage types.TokenUsage, model *llm.ModelConfig) float64 {
	return llm.Cost(usage, model)
}

// GenerateEmbedding implements llm.Embedder.
func (p *Provider) GenerateEmbedding(ctx context.Context, text string, model string) ([]float64, error) {
	if model == "" {
		model = string(oai.EmbeddingModelTextEmbedding3Small)
	}
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(model),
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		return nil, llm.WrapVendorError(p.name, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// isGPT5Chat reports whether modelID is a GPT-5 chat model (the gpt-5-pro
// line keeps standard sampling parameters and is excluded).
func isGPT5Chat(modelID string) bool {
	lower := strings.ToLower(modelID)
	return strings.HasPrefix(lower, "gpt-5") && !strings.HasPrefix(lower, "gpt-5-pro")
}

// buildChatParams converts a normalised request into Chat Completions params.
func (p *Provider) buildChatParams(req *llm.Request, model *llm.ModelConfig, maxOut int) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model.ModelID),
		Messages:            messages,
		MaxCompletionTokens: param.NewOpt(int64(maxOut)),
	}

	// GPT-5 chat models reject the standard sampling knobs.
	if !isGPT5Chat(model.ModelID) {
		if req.Temperature != nil {
			params.Temperature = param.NewOpt(*req.Temperature)
		}
		if req.TopP != nil {
			params.TopP = param.NewOpt(*req.TopP)
		}
		if req.FrequencyPenalty != nil {
			params.FrequencyPenalty = param.NewOpt(*req.FrequencyPenalty)
		}
		if req.PresencePenalty != nil {
			params.PresencePenalty = param.NewOpt(*req.PresencePenalty)
		}
	}

	if req.Seed != nil {
		params.Seed = param.NewOpt(int64(*req.Seed))
	}
	if len(req.Stop) == 1 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfString: param.NewOpt(req.Stop[0])}
	} else if len(req.Stop) > 1 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if req.ResponseFormat["type"] == "json_object" {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
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
	if req.FunctionCall != nil && len(req.Functions) > 0 {
		switch req.FunctionCall.Mode {
		case "none":
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: param.NewOpt("none"),
			}
		case "named":
			params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
					Function: oai.ChatCompletionNamedToolChoiceFunctionParam{
						Name: req.FunctionCall.Name,
					},
				},
			}
		}
	}

	return params, nil
}

// convertMessage converts a normalised message to an SDK message param.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	text, _ := m.Content.AsText()

	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(text), nil

	case types.RoleUser:
		return oai.UserMessage(text), nil

	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if text != "" {
			asst.Content.OfString = oai.String(text)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case types.RoleTool:
		return oai.ToolMessage(text, m.ToolCallID), nil

	case types.RoleFunction:
		// Legacy function-result messages: reattach to the originating call
		// when known, otherwise degrade to a labelled user message.
		if m.ToolCallID != "" {
			return oai.ToolMessage(text, m.ToolCallID), nil
		}
		return oai.UserMessage("Function result: " + text), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

// extractContent pulls assistant text out of a chat message, tolerating the
// three shapes vendors produce: a plain string, a list of typed parts, and
// reasoning/output fields on the message object (recovered from raw JSON as
// the last resort).
func extractContent(msg oai.ChatCompletionMessage) string {
	if msg.Content != "" {
		return msg.Content
	}

	raw := msg.RawJSON()
	if raw == "" {
		return ""
	}
	var probe struct {
		Content    types.MessageContent `json:"content"`
		OutputText string               `json:"output_text"`
		Reasoning  string               `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return ""
	}
	if text, ok := probe.Content.AsText(); ok {
		return text
	}
	if probe.OutputText != "" {
		return probe.OutputText
	}
	return probe.Reasoning
}

// firstFunctionCall normalises the first tool call, if any, into the
// gateway's {name, arguments} form.
func firstFunctionCall(calls []oai.ChatCompletionMessageToolCall) *types.FunctionCall {
	if len(calls) == 0 {
		return nil
	}
	tc := calls[0]
	return &types.FunctionCall{
		ID:        tc.ID,
		Name:      tc.Function.Name,
		Arguments: tc.Function.Arguments,
	}
}

// timeoutFor returns the model's configured timeout or the 60s default.
func timeoutFor(model *llm.ModelConfig) time.Duration {
	if model.Timeout > 0 {
		return model.Timeout
	}
	return 60 * time.Second
}
