package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// CompressionResult is the outcome of a context compression.
type CompressionResult struct {
	Messages         []types.Message `json:"messages"`
	OriginalTokens   int             `json:"original_tokens"`
	CompressedTokens int             `json:"compressed_tokens"`
	Source           string          `json:"source"`
}

const compressPrompt = `Summarise the following conversation so that all decisions, facts and open questions survive. Be dense; target at most %d tokens. Output the summary only.

Conversation:
%s`

// Compress reduces messages to at most targetTokens (estimated). When a
// model is available the conversation is summarised into a single system
// message; otherwise the most recent messages that fit are kept verbatim.
// System messages always survive truncation.
func (a *Analyzer) Compress(ctx context.Context, messages []types.Message, targetTokens int) CompressionResult {
	if targetTokens <= 0 {
		targetTokens = 2000
	}
	original := llm.EstimateTokens(messages, nil)
	if original <= targetTokens {
		return CompressionResult{
			Messages:         messages,
			OriginalTokens:   original,
			CompressedTokens: original,
			Source:           "passthrough",
		}
	}

	if a.completer != nil {
		if result, ok := a.modelCompress(ctx, messages, targetTokens, original); ok {
			return result
		}
	}
	return heuristicCompress(messages, targetTokens, original)
}

func (a *Analyzer) modelCompress(ctx context.Context, messages []types.Message, targetTokens, original int) (CompressionResult, bool) {
	var transcript strings.Builder
	for _, m := range messages {
		text, _ := m.Content.AsText()
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, text)
	}

	summary, err := a.completer.CompleteSimple(ctx,
		fmt.Sprintf(compressPrompt, targetTokens, transcript.String()), types.TierSmall)
	if err != nil || strings.TrimSpace(summary) == "" {
		return CompressionResult{}, false
	}

	compressed := []types.Message{{
		Role:    types.RoleSystem,
		Content: types.TextContent("Summary of prior conversation: " + summary),
	}}
	return CompressionResult{
		Messages:         compressed,
		OriginalTokens:   original,
		CompressedTokens: llm.EstimateTokens(compressed, nil),
		Source:           "llm",
	}, true
}

// heuristicCompress keeps system messages plus the newest messages that fit
// within the target.
func heuristicCompress(messages []types.Message, targetTokens, original int) CompressionResult {
	var system, rest []types.Message
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	kept := make([]types.Message, 0, len(rest))
	budget := targetTokens - llm.EstimateTokens(system, nil)
	for i := len(rest) - 1; i >= 0; i-- {
		candidate := append([]types.Message{rest[i]}, kept...)
		if llm.EstimateTokens(candidate, nil) > budget {
			break
		}
		kept = candidate
	}

	out := append(append([]types.Message(nil), system...), kept...)
	return CompressionResult{
		Messages:         out,
		OriginalTokens:   original,
		CompressedTokens: llm.EstimateTokens(out, nil),
		Source:           "heuristic",
	}
}
