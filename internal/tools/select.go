package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/analysis"
	"github.com/shannon-ai/llm-gateway/pkg/provider/embeddings"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// selectionCacheTTL bounds how long a selection answer is reused for an
// identical (task, exclude_dangerous, max_tools) triple.
const selectionCacheTTL = 5 * time.Minute

// DefaultMaxTools caps a selection when the caller does not.
const DefaultMaxTools = 5

// PlannedCall is one concrete call the selector proposes.
type PlannedCall struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Selection is the answer to a /tools/select request.
type Selection struct {
	SelectedTools []string      `json:"selected_tools"`
	Calls         []PlannedCall `json:"calls,omitempty"`
	Source        string        `json:"source"`
}

// Selector picks relevant tools for a task. A small-tier model is preferred;
// without one, tools are ranked by embedding similarity of the task against
// tool descriptions; without either, the selection is empty. Failures never
// fabricate calls.
type Selector struct {
	registry  *Registry
	completer analysis.Completer
	embedder  embeddings.Provider

	mu    sync.Mutex
	cache map[string]selectionEntry
	now   func() time.Time
}

type selectionEntry struct {
	selection Selection
	expiresAt time.Time
}

// NewSelector builds a Selector. completer and embedder may each be nil.
func NewSelector(registry *Registry, completer analysis.Completer, embedder embeddings.Provider) *Selector {
	return &Selector{
		registry:  registry,
		completer: completer,
		embedder:  embedder,
		cache:     make(map[string]selectionEntry),
		now:       time.Now,
	}
}

const selectionPrompt = `Select the tools needed for the task below. Respond with JSON only, no prose:
{"selected_tools": ["name", ...], "calls": [{"tool_name": "name", "parameters": {...}}]}
Select at most %d tools, only from this list:
%s

Task: %s`

// Select returns the tools relevant to task, clamped to the allowed set and
// maxTools. Results are cached for five minutes.
func (s *Selector) Select(ctx context.Context, task string, excludeDangerous bool, maxTools int) Selection {
	if maxTools <= 0 {
		maxTools = DefaultMaxTools
	}
	key := fmt.Sprintf("%s|%t|%d", task, excludeDangerous, maxTools)

	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && s.now().Before(entry.expiresAt) {
		s.mu.Unlock()
		return entry.selection
	}
	s.mu.Unlock()

	allowed := s.allowedTools(excludeDangerous)
	sel := s.selectUncached(ctx, task, allowed, maxTools)

	s.mu.Lock()
	s.cache[key] = selectionEntry{selection: sel, expiresAt: s.now().Add(selectionCacheTTL)}
	s.mu.Unlock()
	return sel
}

func (s *Selector) allowedTools(excludeDangerous bool) []*Metadata {
	var out []*Metadata
	for _, md := range s.registry.List() {
		if excludeDangerous && md.Dangerous {
			continue
		}
		out = append(out, md)
	}
	return out
}

func (s *Selector) selectUncached(ctx context.Context, task string, allowed []*Metadata, maxTools int) Selection {
	if len(allowed) == 0 {
		return Selection{SelectedTools: []string{}, Source: "empty"}
	}

	if s.completer != nil {
		if sel, ok := s.modelSelect(ctx, task, allowed, maxTools); ok {
			return sel
		}
	}
	if s.embedder != nil {
		if sel, ok := s.embeddingSelect(ctx, task, allowed, maxTools); ok {
			return sel
		}
	}
	return Selection{SelectedTools: []string{}, Source: "empty"}
}

// modelSelect asks a small-tier model for a JSON selection and clamps the
// answer to the allowed list.
func (s *Selector) modelSelect(ctx context.Context, task string, allowed []*Metadata, maxTools int) (Selection, bool) {
	var summaries []string
	for _, md := range allowed {
		var params []string
		for _, p := range md.Parameters {
			params = append(params, p.Name)
		}
		summaries = append(summaries, fmt.Sprintf("- %s: %s (parameters: %s)",
			md.Name, md.Description, strings.Join(params, ", ")))
	}

	prompt := fmt.Sprintf(selectionPrompt, maxTools, strings.Join(summaries, "\n"), task)
	answer, err := s.completer.CompleteSimple(ctx, prompt, types.TierSmall)
	if err != nil {
		slog.Debug("tool selection model call failed", "error", err)
		return Selection{}, false
	}

	var parsed struct {
		SelectedTools []string      `json:"selected_tools"`
		Calls         []PlannedCall `json:"calls"`
	}
	if err := json.Unmarshal([]byte(extractJSON(answer)), &parsed); err != nil {
		slog.Debug("tool selection answer unparseable", "error", err)
		return Selection{}, false
	}

	allowedNames := make(map[string]bool, len(allowed))
	for _, md := range allowed {
		allowedNames[md.Name] = true
	}

	sel := Selection{SelectedTools: []string{}, Source: "llm"}
	for _, name := range parsed.SelectedTools {
		if allowedNames[name] && len(sel.SelectedTools) < maxTools {
			sel.SelectedTools = append(sel.SelectedTools, name)
		}
	}
	selected := make(map[string]bool, len(sel.SelectedTools))
	for _, name := range sel.SelectedTools {
		selected[name] = true
	}
	for _, call := range parsed.Calls {
		if selected[call.ToolName] {
			sel.Calls = append(sel.Calls, call)
		}
	}
	return sel, true
}

// embeddingSelect ranks tools by cosine similarity between the task and each
// tool's name plus description.
func (s *Selector) embeddingSelect(ctx context.Context, task string, allowed []*Metadata, maxTools int) (Selection, bool) {
	taskVec, err := s.embedder.Embed(ctx, task)
	if err != nil {
		slog.Debug("tool selection embedding failed", "error", err)
		return Selection{}, false
	}

	texts := make([]string, len(allowed))
	for i, md := range allowed {
		texts[i] = md.Name + ": " + md.Description
	}
	toolVecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(toolVecs) != len(allowed) {
		slog.Debug("tool selection batch embedding failed", "error", err)
		return Selection{}, false
	}

	type ranked struct {
		name  string
		score float64
	}
	scores := make([]ranked, len(allowed))
	for i, md := range allowed {
		scores[i] = ranked{name: md.Name, score: embeddings.CosineSimilarity(taskVec, toolVecs[i])}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	sel := Selection{SelectedTools: []string{}, Source: "embedding"}
	for _, r := range scores {
		if len(sel.SelectedTools) >= maxTools {
			break
		}
		if r.score > 0 {
			sel.SelectedTools = append(sel.SelectedTools, r.name)
		}
	}
	return sel, true
}

// extractJSON strips markdown fences and leading prose around a JSON object.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
