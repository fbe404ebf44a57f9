package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/provider/embeddings/mock"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// fakeCompleter returns a fixed answer and counts calls.
type fakeCompleter struct {
	answer string
	err    error
	calls  int
}

func (f *fakeCompleter) CompleteSimple(_ context.Context, _ string, _ types.ModelTier) (string, error) {
	f.calls++
	return f.answer, f.err
}

func selectorRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, md := range []Metadata{
		{Name: "web_search", Description: "search the web"},
		{Name: "calculator", Description: "evaluate arithmetic expressions"},
		{Name: "bash", Description: "run shell commands", Dangerous: true},
	} {
		md := md
		if err := r.Register(&stubTool{md: md}, false); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestSelectClampsToAllowedList(t *testing.T) {
	r := selectorRegistry(t)
	c := &fakeCompleter{answer: `{"selected_tools": ["calculator", "made_up_tool"], "calls": [{"tool_name": "calculator", "parameters": {"expression": "2+2"}}, {"tool_name": "made_up_tool"}]}`}
	s := NewSelector(r, c, nil)

	sel := s.Select(context.Background(), "compute 2+2", false, 5)
	if len(sel.SelectedTools) != 1 || sel.SelectedTools[0] != "calculator" {
		t.Errorf("selected = %v", sel.SelectedTools)
	}
	if len(sel.Calls) != 1 || sel.Calls[0].ToolName != "calculator" {
		t.Errorf("calls = %+v", sel.Calls)
	}
	if sel.Source != "llm" {
		t.Errorf("source = %q", sel.Source)
	}
}

func TestSelectExcludesDangerous(t *testing.T) {
	r := selectorRegistry(t)
	c := &fakeCompleter{answer: `{"selected_tools": ["bash"]}`}
	s := NewSelector(r, c, nil)

	sel := s.Select(context.Background(), "delete everything", true, 5)
	if len(sel.SelectedTools) != 0 {
		t.Errorf("dangerous tool selected: %v", sel.SelectedTools)
	}
}

func TestSelectFailureReturnsEmpty(t *testing.T) {
	r := selectorRegistry(t)
	c := &fakeCompleter{err: errors.New("provider down")}
	s := NewSelector(r, c, nil)

	sel := s.Select(context.Background(), "anything", false, 5)
	if len(sel.SelectedTools) != 0 || len(sel.Calls) != 0 {
		t.Errorf("failure fabricated a selection: %+v", sel)
	}
}

func TestSelectCachesForFiveMinutes(t *testing.T) {
	r := selectorRegistry(t)
	c := &fakeCompleter{answer: `{"selected_tools": ["web_search"]}`}
	s := NewSelector(r, c, nil)

	now := time.Now()
	s.now = func() time.Time { return now }

	s.Select(context.Background(), "find news", false, 5)
	s.Select(context.Background(), "find news", false, 5)
	if c.calls != 1 {
		t.Errorf("model calls = %d, want 1 (second answer cached)", c.calls)
	}

	// Different max_tools is a different cache key.
	s.Select(context.Background(), "find news", false, 3)
	if c.calls != 2 {
		t.Errorf("model calls = %d, want 2", c.calls)
	}

	now = now.Add(selectionCacheTTL + time.Second)
	s.Select(context.Background(), "find news", false, 5)
	if c.calls != 3 {
		t.Errorf("model calls = %d, want 3 after TTL expiry", c.calls)
	}
}

func TestSelectEmbeddingFallback(t *testing.T) {
	r := selectorRegistry(t)
	emb := &mock.Provider{
		EmbedFunc: func(text string) ([]float32, error) {
			// The task vector aligns with the calculator description only.
			switch {
			case text == "compute a sum":
				return []float32{1, 0}, nil
			case text == "calculator: evaluate arithmetic expressions":
				return []float32{1, 0}, nil
			default:
				return []float32{0, 1}, nil
			}
		},
	}
	s := NewSelector(r, nil, emb)

	sel := s.Select(context.Background(), "compute a sum", false, 1)
	if len(sel.SelectedTools) != 1 || sel.SelectedTools[0] != "calculator" {
		t.Errorf("selected = %v", sel.SelectedTools)
	}
	if sel.Source != "embedding" {
		t.Errorf("source = %q", sel.Source)
	}
}

func TestSelectFencedJSONAccepted(t *testing.T) {
	r := selectorRegistry(t)
	c := &fakeCompleter{answer: "```json\n{\"selected_tools\": [\"web_search\"]}\n```"}
	s := NewSelector(r, c, nil)

	sel := s.Select(context.Background(), "look something up", false, 5)
	if len(sel.SelectedTools) != 1 || sel.SelectedTools[0] != "web_search" {
		t.Errorf("selected = %v", sel.SelectedTools)
	}
}
