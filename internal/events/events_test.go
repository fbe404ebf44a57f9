package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

func collectEvents(t *testing.T) (*httptest.Server, chan Event) {
	t.Helper()
	received := make(chan Event, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode event: %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		received <- ev
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func waitEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestEmitPromptTruncatesAndSanitizes(t *testing.T) {
	srv, received := collectEvents(t)
	e := New(srv.URL, "tok")

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	e.EmitPrompt("wf-1", "agent-1", []types.Message{
		{Role: types.RoleSystem, Content: types.TextContent("system")},
		{Role: types.RoleUser, Content: types.TextContent(string(long))},
	})

	ev := waitEvent(t, received)
	if ev.Type != TypePrompt || ev.WorkflowID != "wf-1" || ev.AgentID != "agent-1" {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.Message) != 500 {
		t.Fatalf("message length = %d, want 500", len(ev.Message))
	}
}

func TestEmitPromptUnwrapsEnvelope(t *testing.T) {
	srv, received := collectEvents(t)
	e := New(srv.URL, "tok")

	envelope := `{"query":"what is the weather","tools":[{"name":"web_search"}],"mode":"react"}`
	e.EmitPrompt("wf-1", "", []types.Message{
		{Role: types.RoleUser, Content: types.TextContent(envelope)},
	})

	ev := waitEvent(t, received)
	if ev.Message != "what is the weather" {
		t.Fatalf("message = %q, want the unwrapped query", ev.Message)
	}
}

func TestEmitOutputCarriesUsage(t *testing.T) {
	srv, received := collectEvents(t)
	e := New(srv.URL, "tok")

	e.EmitOutput("wf-1", "agent-1", "answer", "openai", "gpt-4o-mini",
		types.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, EstimatedCost: 0.002})

	ev := waitEvent(t, received)
	if ev.Type != TypeOutput || ev.Message != "answer" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Payload["provider"] != "openai" || ev.Payload["model"] != "gpt-4o-mini" {
		t.Fatalf("payload = %+v", ev.Payload)
	}
	usage, ok := ev.Payload["usage"].(map[string]any)
	if !ok || usage["total_tokens"].(float64) != 15 {
		t.Fatalf("usage payload = %+v", ev.Payload["usage"])
	}
}

func TestEmitPartialsChunking(t *testing.T) {
	srv, received := collectEvents(t)
	e := New(srv.URL, "tok", WithPartialChunkChars(4))

	e.EmitPartials("wf-1", "", "abcdefghij")

	var chunks []Event
	for i := 0; i < 3; i++ {
		chunks = append(chunks, waitEvent(t, received))
	}
	total := ""
	seen := make([]string, 3)
	for _, ev := range chunks {
		if ev.Type != TypePartial {
			t.Fatalf("type = %q", ev.Type)
		}
		if ev.Payload["total_chunks"].(float64) != 3 {
			t.Fatalf("total_chunks = %v", ev.Payload["total_chunks"])
		}
		seen[int(ev.Payload["chunk_index"].(float64))] = ev.Message
	}
	for _, s := range seen {
		total += s
	}
	if total != "abcdefghij" {
		t.Fatalf("reassembled = %q", total)
	}
}

func TestNilAndDisabledEmitterAreSafe(t *testing.T) {
	var e *Emitter
	e.EmitPrompt("wf", "", nil)
	e.EmitOutput("wf", "", "x", "p", "m", types.TokenUsage{})
	e.EmitPartials("wf", "", "x")

	if New("", "tok") != nil {
		t.Fatal("empty URL must disable the emitter")
	}
}

func TestEmitWithoutWorkflowIDIsDropped(t *testing.T) {
	srv, received := collectEvents(t)
	e := New(srv.URL, "tok")

	e.EmitOutput("", "", "x", "p", "m", types.TokenUsage{})
	select {
	case <-received:
		t.Fatal("event emitted without workflow_id")
	case <-time.After(100 * time.Millisecond):
	}
}
