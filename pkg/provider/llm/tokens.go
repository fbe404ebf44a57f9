package llm

import (
	"encoding/json"
	"math"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// charsPerToken is the character-to-token ratio used by the estimation
// heuristic, and perMessageOverhead the fixed per-message token cost (role
// and formatting tokens). Providers that lack a vendor tokenizer must use
// these exact values so that budget accounting stays comparable across
// backends.
const (
	charsPerToken      = 3.5
	perMessageOverhead = 4
)

// EstimateTokens approximates the prompt token count for messages plus any
// offered function schemas:
//
//	⌈Σ len(content)/3.5⌉ + 4·len(messages) + ⌈len(json(functions))/3.5⌉
func EstimateTokens(messages []types.Message, functions []types.FunctionSchema) int {
	chars := 0
	for _, m := range messages {
		if text, ok := m.Content.AsText(); ok {
			chars += len(text)
		}
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments)
		}
	}

	total := int(math.Ceil(float64(chars)/charsPerToken)) + perMessageOverhead*len(messages)

	if len(functions) > 0 {
		if data, err := json.Marshal(functions); err == nil {
			total += int(math.Ceil(float64(len(data)) / charsPerToken))
		}
	}
	return total
}
