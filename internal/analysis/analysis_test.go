package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// fakeCompleter returns a canned answer or error.
type fakeCompleter struct {
	answer string
	err    error
	calls  int
}

func (f *fakeCompleter) CompleteSimple(_ context.Context, _ string, _ types.ModelTier) (string, error) {
	f.calls++
	return f.answer, f.err
}

func TestCalculationQueriesAreNeverSimple(t *testing.T) {
	a := New(nil)

	result := a.AnalyzeComplexity(context.Background(), "Calculate 25*4+10")
	if result.RecommendedMode == ModeSimple {
		t.Fatalf("mode = %q, calculation tasks must not be simple", result.RecommendedMode)
	}
	wantCaps := map[string]bool{}
	for _, c := range result.RequiredCapabilities {
		wantCaps[c] = true
	}
	if !wantCaps["calculation"] || !wantCaps["tool_use"] {
		t.Fatalf("capabilities = %v, want calculation and tool_use", result.RequiredCapabilities)
	}
}

func TestCalculationFloorAppliesToModelAnswersToo(t *testing.T) {
	a := New(&fakeCompleter{answer: `{"complexity_score": 0.1, "recommended_mode": "simple"}`})

	result := a.AnalyzeComplexity(context.Background(), "compute the sum of 3 and 4")
	if result.RecommendedMode == ModeSimple {
		t.Fatal("model-answered simple must still be floored for calculation tasks")
	}
}

func TestComplexityModelPath(t *testing.T) {
	fc := &fakeCompleter{answer: "```json\n{\"complexity_score\": 0.85, \"recommended_mode\": \"complex\", \"estimated_agents\": 4, \"required_capabilities\": [\"research\"]}\n```"}
	a := New(fc)

	result := a.AnalyzeComplexity(context.Background(), "research the competitive landscape")
	if result.Source != "llm" {
		t.Fatalf("source = %q, want llm", result.Source)
	}
	if result.RecommendedMode != ModeComplex || result.EstimatedAgents != 4 {
		t.Fatalf("result = %+v", result)
	}
}

func TestComplexityFallsBackOnModelFailure(t *testing.T) {
	a := New(&fakeCompleter{err: errors.New("provider down")})

	result := a.AnalyzeComplexity(context.Background(), "hello")
	if result.Source != "heuristic" {
		t.Fatalf("source = %q, want heuristic", result.Source)
	}
	if result.RecommendedMode != ModeSimple {
		t.Fatalf("mode = %q, want simple for a trivial greeting", result.RecommendedMode)
	}
}

func TestComplexityFallsBackOnUnparseableAnswer(t *testing.T) {
	a := New(&fakeCompleter{answer: "Sure! This looks moderately complex to me."})

	result := a.AnalyzeComplexity(context.Background(), "hello")
	if result.Source != "heuristic" {
		t.Fatalf("source = %q, want heuristic", result.Source)
	}
}

func TestHeuristicComplexityScalesWithQuery(t *testing.T) {
	a := New(nil)

	long := "analyze and compare the architecture of twelve distributed systems, " +
		strings.Repeat("considering throughput latency consistency operability cost ", 12) +
		"and design a comprehensive migration strategy?"
	result := a.AnalyzeComplexity(context.Background(), long)
	if result.RecommendedMode != ModeComplex {
		t.Fatalf("mode = %q (score %.2f), want complex", result.RecommendedMode, result.ComplexityScore)
	}
}

func TestAnalyzeTaskHeuristicTypes(t *testing.T) {
	a := New(nil)
	cases := map[string]string{
		"What is the capital of France?":           "Query",
		"Analyze the quarterly revenue trends":     "Analysis",
		"Write a poem about autumn":                "Generation",
		"Convert this CSV to JSON":                 "Transformation",
		"Execute the deployment script":            "Execution",
	}
	for query, want := range cases {
		got := a.AnalyzeTask(context.Background(), query)
		if got.TaskType != want {
			t.Errorf("AnalyzeTask(%q).TaskType = %q, want %q", query, got.TaskType, want)
		}
		if got.Source != "heuristic" {
			t.Errorf("source = %q", got.Source)
		}
	}
}

func TestAnalyzeTaskRejectsInvalidModelTaskType(t *testing.T) {
	a := New(&fakeCompleter{answer: `{"task_type": "Sorcery", "complexity_score": 0.4}`})

	got := a.AnalyzeTask(context.Background(), "do the thing")
	if got.Source != "heuristic" {
		t.Fatalf("invalid task_type must fall back to heuristic, got source %q", got.Source)
	}
}

func TestEvaluateRules(t *testing.T) {
	a := New(nil)
	long := strings.Repeat("detailed findings ", 20)

	cases := []struct {
		name    string
		results []AgentResult
		want    bool
	}{
		{"no results", nil, true},
		{"failed agent", []AgentResult{{AgentID: "a", Response: long, Success: false}}, true},
		{"empty response", []AgentResult{{AgentID: "a", Response: "  ", Success: true}}, true},
		{"too short combined", []AgentResult{{AgentID: "a", Response: "ok", Success: true}}, true},
		{"sufficient", []AgentResult{{AgentID: "a", Response: long, Success: true}}, false},
	}
	for _, tc := range cases {
		if got := a.Evaluate(tc.results); got.ShouldReplan != tc.want {
			t.Errorf("%s: ShouldReplan = %v, want %v (%s)", tc.name, got.ShouldReplan, tc.want, got.Reason)
		}
	}
}

func TestCompressPassthroughWhenSmall(t *testing.T) {
	a := New(nil)
	msgs := []types.Message{{Role: types.RoleUser, Content: types.TextContent("hi")}}

	result := a.Compress(context.Background(), msgs, 1000)
	if result.Source != "passthrough" || len(result.Messages) != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestCompressHeuristicKeepsSystemAndRecent(t *testing.T) {
	a := New(nil)
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: types.TextContent("you are helpful")},
	}
	for i := 0; i < 50; i++ {
		msgs = append(msgs, types.Message{
			Role:    types.RoleUser,
			Content: types.TextContent(strings.Repeat("words and more words ", 20)),
		})
	}

	result := a.Compress(context.Background(), msgs, 300)
	if result.Source != "heuristic" {
		t.Fatalf("source = %q", result.Source)
	}
	if result.CompressedTokens > 300 {
		t.Fatalf("compressed to %d tokens, want <= 300", result.CompressedTokens)
	}
	if result.Messages[0].Role != types.RoleSystem {
		t.Fatal("system message must survive compression")
	}
	// The newest message must be the last kept one.
	last := result.Messages[len(result.Messages)-1]
	origLast := msgs[len(msgs)-1]
	lastText, _ := last.Content.AsText()
	origText, _ := origLast.Content.AsText()
	if lastText != origText {
		t.Fatal("most recent message not preserved")
	}
}

func TestCompressModelPath(t *testing.T) {
	a := New(&fakeCompleter{answer: "They discussed deployment strategy and chose blue-green."})
	var msgs []types.Message
	for i := 0; i < 40; i++ {
		msgs = append(msgs, types.Message{
			Role:    types.RoleUser,
			Content: types.TextContent(strings.Repeat("chatter ", 40)),
		})
	}

	result := a.Compress(context.Background(), msgs, 100)
	if result.Source != "llm" {
		t.Fatalf("source = %q, want llm", result.Source)
	}
	if len(result.Messages) != 1 || result.Messages[0].Role != types.RoleSystem {
		t.Fatalf("messages = %+v", result.Messages)
	}
}
