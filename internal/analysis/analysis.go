// Package analysis implements query complexity classification, structured
// task analysis, context compression and agent result evaluation.
//
// Each analysis prefers a small-tier model with a fixed JSON-only prompt and
// falls back to keyword and length heuristics when no provider is configured
// or the model's answer cannot be parsed. The heuristics are deterministic
// so the gateway degrades predictably without vendor access.
package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// Completer is the slice of the manager the analyzer needs: a small-tier
// completion. Implemented by internal/manager.
type Completer interface {
	CompleteSimple(ctx context.Context, prompt string, tier types.ModelTier) (string, error)
}

// Complexity labels.
const (
	ModeSimple   = "simple"
	ModeStandard = "standard"
	ModeComplex  = "complex"
)

// ComplexityResult is the answer to a complexity analysis.
type ComplexityResult struct {
	RecommendedMode      string   `json:"recommended_mode"`
	ComplexityScore      float64  `json:"complexity_score"`
	EstimatedAgents      int      `json:"estimated_agents"`
	EstimatedTokens      int      `json:"estimated_tokens"`
	EstimatedCostUSD     float64  `json:"estimated_cost_usd"`
	RequiredCapabilities []string `json:"required_capabilities"`
	Source               string   `json:"source"`
}

// TaskResult is the answer to a structured task analysis.
type TaskResult struct {
	TaskType             string   `json:"task_type"`
	ComplexityScore      float64  `json:"complexity_score"`
	KeyEntities          []string `json:"key_entities"`
	RequiredCapabilities []string `json:"required_capabilities"`
	Constraints          []string `json:"constraints"`
	SuccessCriteria      []string `json:"success_criteria"`
	Reasoning            string   `json:"reasoning"`
	Source               string   `json:"source"`
}

// AgentResult is one agent's output submitted for evaluation.
type AgentResult struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

// Evaluation is the replan decision.
type Evaluation struct {
	ShouldReplan bool   `json:"should_replan"`
	Reason       string `json:"reason"`
}

// Analyzer performs the four analyses. A nil Completer forces heuristics.
type Analyzer struct {
	completer Completer
}

// New creates an Analyzer. completer may be nil.
func New(completer Completer) *Analyzer {
	return &Analyzer{completer: completer}
}

// calculationPattern matches verbs and operators indicating arithmetic. A
// query matching it must never be classified simple: it needs tool access.
var calculationPattern = regexp.MustCompile(`(?i)\b(calculate|compute|sum|multiply|divide|subtract|average|total|count)\b|\d+\s*[-+*/^%]\s*\d+`)

var complexKeywords = []string{
	"analyze", "analyse", "compare", "design", "architect", "optimize", "optimise",
	"research", "investigate", "refactor", "comprehensive", "detailed", "multi-step",
	"strategy", "plan", "evaluate", "benchmark",
}

var toolKeywords = map[string]string{
	"search":    "web_search",
	"fetch":     "web_fetch",
	"download":  "web_fetch",
	"browse":    "web_fetch",
	"crawl":     "web_crawl",
	"file":      "file_access",
	"read":      "file_access",
	"write":     "file_access",
	"run":       "code_execution",
	"execute":   "code_execution",
	"script":    "code_execution",
	"scrape":    "web_fetch",
	"latest":    "web_search",
	"current":   "web_search",
	"news":      "web_search",
	"translate": "generation",
}

const complexityPrompt = `Classify the complexity of the following task. Respond with JSON only, no prose:
{"complexity_score": <0..1>, "recommended_mode": "simple"|"standard"|"complex", "estimated_agents": <int>, "required_capabilities": [<strings>]}

Task: `

// AnalyzeComplexity classifies query. Model answers that fail to parse fall
// back to the heuristic, and calculation tasks are floored at standard
// regardless of source.
func (a *Analyzer) AnalyzeComplexity(ctx context.Context, query string) ComplexityResult {
	result, ok := a.modelComplexity(ctx, query)
	if !ok {
		result = heuristicComplexity(query)
	}

	if calculationPattern.MatchString(query) {
		if result.RecommendedMode == ModeSimple {
			result.RecommendedMode = ModeStandard
		}
		if result.ComplexityScore < 0.3 {
			result.ComplexityScore = 0.3
		}
		result.RequiredCapabilities = appendMissing(result.RequiredCapabilities, "calculation", "tool_use")
	}

	if result.EstimatedAgents <= 0 {
		result.EstimatedAgents = estimatedAgents(result.RecommendedMode)
	}
	if result.EstimatedTokens <= 0 {
		result.EstimatedTokens = estimatedTokens(result.RecommendedMode)
	}
	if result.EstimatedCostUSD == 0 {
		// Priced at small-tier rates; the estimate is advisory.
		result.EstimatedCostUSD = float64(result.EstimatedTokens) / 1000 * 0.002
	}
	return result
}

func (a *Analyzer) modelComplexity(ctx context.Context, query string) (ComplexityResult, bool) {
	if a.completer == nil {
		return ComplexityResult{}, false
	}
	answer, err := a.completer.CompleteSimple(ctx, complexityPrompt+query, types.TierSmall)
	if err != nil {
		slog.Debug("complexity analysis: model unavailable, using heuristic", "err", err)
		return ComplexityResult{}, false
	}

	var result ComplexityResult
	if err := json.Unmarshal([]byte(extractJSON(answer)), &result); err != nil {
		slog.Debug("complexity analysis: unparseable model answer, using heuristic", "err", err)
		return ComplexityResult{}, false
	}
	if result.RecommendedMode == "" {
		result.RecommendedMode = modeForScore(result.ComplexityScore)
	}
	result.Source = "llm"
	return result, true
}

// heuristicComplexity is the keyword and length based fallback.
func heuristicComplexity(query string) ComplexityResult {
	lower := strings.ToLower(query)
	words := len(strings.Fields(query))

	score := 0.1
	if words > 20 {
		score += 0.2
	}
	if words > 60 {
		score += 0.2
	}
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			score += 0.15
		}
	}
	if strings.Count(query, "?") > 1 || strings.Contains(lower, " and ") {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}

	var caps []string
	for kw, capability := range toolKeywords {
		if strings.Contains(lower, kw) {
			caps = appendMissing(caps, capability, "tool_use")
		}
	}

	mode := modeForScore(score)
	return ComplexityResult{
		RecommendedMode:      mode,
		ComplexityScore:      score,
		RequiredCapabilities: caps,
		Source:               "heuristic",
	}
}

func modeForScore(score float64) string {
	switch {
	case score >= 0.7:
		return ModeComplex
	case score >= 0.3:
		return ModeStandard
	default:
		return ModeSimple
	}
}

func estimatedAgents(mode string) int {
	switch mode {
	case ModeComplex:
		return 3
	case ModeStandard:
		return 1
	default:
		return 1
	}
}

func estimatedTokens(mode string) int {
	switch mode {
	case ModeComplex:
		return 8000
	case ModeStandard:
		return 2000
	default:
		return 500
	}
}

// Task types for AnalyzeTask.
var taskTypes = []string{"Query", "Analysis", "Generation", "Transformation", "Execution", "Unknown"}

const taskPrompt = `Analyze the following task. Respond with JSON only, no prose:
{"task_type": "Query"|"Analysis"|"Generation"|"Transformation"|"Execution"|"Unknown", "complexity_score": <0..1>, "key_entities": [], "required_capabilities": [], "constraints": [], "success_criteria": [], "reasoning": ""}

Task: `

// AnalyzeTask produces a structured understanding of query.
func (a *Analyzer) AnalyzeTask(ctx context.Context, query string) TaskResult {
	if a.completer != nil {
		answer, err := a.completer.CompleteSimple(ctx, taskPrompt+query, types.TierSmall)
		if err == nil {
			var result TaskResult
			if json.Unmarshal([]byte(extractJSON(answer)), &result) == nil && validTaskType(result.TaskType) {
				result.Source = "llm"
				return result
			}
		}
	}
	return heuristicTask(query)
}

func validTaskType(t string) bool {
	for _, known := range taskTypes {
		if t == known {
			return true
		}
	}
	return false
}

func heuristicTask(query string) TaskResult {
	lower := strings.ToLower(query)
	complexity := heuristicComplexity(query)

	taskType := "Unknown"
	switch {
	case strings.HasPrefix(lower, "what"), strings.HasPrefix(lower, "who"),
		strings.HasPrefix(lower, "when"), strings.HasPrefix(lower, "where"),
		strings.HasPrefix(lower, "how many"), strings.Contains(lower, "?"):
		taskType = "Query"
	case containsAny(lower, "analyze", "analyse", "compare", "evaluate", "review", "assess"):
		taskType = "Analysis"
	case containsAny(lower, "write", "create", "generate", "draft", "compose", "build"):
		taskType = "Generation"
	case containsAny(lower, "convert", "translate", "transform", "reformat", "rewrite"):
		taskType = "Transformation"
	case containsAny(lower, "run", "execute", "deploy", "install", "calculate", "compute"):
		taskType = "Execution"
	}

	return TaskResult{
		TaskType:             taskType,
		ComplexityScore:      complexity.ComplexityScore,
		KeyEntities:          extractEntities(query),
		RequiredCapabilities: complexity.RequiredCapabilities,
		Reasoning:            "keyword heuristic",
		Source:               "heuristic",
	}
}

// extractEntities pulls capitalised tokens and quoted phrases out of query.
var quotedPattern = regexp.MustCompile(`"([^"]{2,64})"|'([^']{2,64})'`)

func extractEntities(query string) []string {
	var out []string
	for _, m := range quotedPattern.FindAllStringSubmatch(query, 8) {
		if m[1] != "" {
			out = appendMissing(out, m[1])
		} else if m[2] != "" {
			out = appendMissing(out, m[2])
		}
	}
	for _, word := range strings.Fields(query) {
		trimmed := strings.Trim(word, ".,!?;:()")
		if len(trimmed) > 2 && trimmed[0] >= 'A' && trimmed[0] <= 'Z' && strings.ToUpper(trimmed) != trimmed {
			out = appendMissing(out, trimmed)
		}
		if len(out) >= 10 {
			break
		}
	}
	return out
}

// Evaluate decides whether the orchestrator should replan, per fixed rules:
// no results, any failed or empty result, or under 200 combined characters.
func (a *Analyzer) Evaluate(results []AgentResult) Evaluation {
	if len(results) == 0 {
		return Evaluation{ShouldReplan: true, Reason: "no agent results"}
	}

	totalChars := 0
	for _, r := range results {
		if !r.Success {
			return Evaluation{ShouldReplan: true, Reason: "agent " + r.AgentID + " failed"}
		}
		if strings.TrimSpace(r.Response) == "" {
			return Evaluation{ShouldReplan: true, Reason: "agent " + r.AgentID + " returned an empty response"}
		}
		totalChars += len(r.Response)
	}
	if totalChars < 200 {
		return Evaluation{ShouldReplan: true, Reason: "combined results too short"}
	}
	return Evaluation{ShouldReplan: false, Reason: "results sufficient"}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func appendMissing(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

// extractJSON trims a model answer down to its outermost JSON object,
// tolerating markdown fences and prose around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
