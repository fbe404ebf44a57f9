package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/manager"
	"github.com/shannon-ai/llm-gateway/internal/observe"
	"github.com/shannon-ai/llm-gateway/internal/tools"
	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	llmmock "github.com/shannon-ai/llm-gateway/pkg/provider/llm/mock"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// newTestServer builds a server around a provider-less manager (mock
// completions) and an empty tool registry.
func newTestServer(t *testing.T) (*Server, *manager.Manager, *tools.Registry) {
	t.Helper()
	m, err := manager.New(&config.Config{
		Cache:  config.CacheConfig{Capacity: 100},
		Budget: config.BudgetConfig{SessionTokens: 100_000},
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := tools.NewRegistry()
	srv := New(Options{Manager: m, Tools: reg, Metrics: testMetrics(t)})
	return srv, m, reg
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCompletionsMockWhenNoProviders(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := postJSON(t, h, "/completions", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hello"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[llm.Response](t, rec)
	if resp.Provider != "mock" {
		t.Errorf("provider = %q", resp.Provider)
	}
	if resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Error("usage not normalised")
	}
}

func TestCompletionsRejectsEmptyMessages(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/completions", map[string]any{"messages": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCompletionsCacheHitFlag(t *testing.T) {
	srv, m, _ := newTestServer(t)
	p := &llmmock.Provider{NameValue: "alpha", ModelsValue: []llm.ModelConfig{{
		Provider: "alpha", ModelID: "alpha-model", Alias: "alpha-model",
		Tier: types.TierSmall, ContextWindow: 8192,
	}}}
	m.Registry().Install("alpha", p, 0)
	h := srv.Handler()

	body := map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "cache me"}},
	}
	first := decode[llm.Response](t, postJSON(t, h, "/completions", body))
	if first.Cached {
		t.Error("first response marked cached")
	}
	second := decode[llm.Response](t, postJSON(t, h, "/completions", body))
	if !second.Cached {
		t.Error("repeat request should hit the cache")
	}
	if p.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.CallCount())
	}
}

func TestCompletionsStreamSSE(t *testing.T) {
	srv, m, _ := newTestServer(t)
	p := &llmmock.Provider{
		NameValue:   "alpha",
		ModelsValue: []llm.ModelConfig{{Provider: "alpha", ModelID: "m", Alias: "m", Tier: types.TierSmall}},
		StreamChunks: []llm.Chunk{
			{Delta: "hel"},
			{Delta: "lo"},
			{Usage: &types.TokenUsage{InputTokens: 2, OutputTokens: 1, TotalTokens: 3}},
		},
	}
	m.Registry().Install("alpha", p, 0)

	rec := postJSON(t, srv.Handler(), "/completions", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"stream":   true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{`"delta":"hel"`, `"delta":"lo"`, `"usage"`, "data: [DONE]"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream body missing %q:\n%s", want, body)
		}
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/analyze", map[string]any{
		"query": "calculate 25 * 4 + 10",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	result := decode[map[string]any](t, rec)
	if result["recommended_mode"] == "simple" {
		t.Error("calculation query classified simple")
	}
}

func TestAnalyzeTaskEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/analyze_task", map[string]any{
		"query": "What is the capital of France?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	result := decode[map[string]any](t, rec)
	if result["task_type"] != "Query" {
		t.Errorf("task_type = %v", result["task_type"])
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/agent/evaluate", map[string]any{
		"results": []map[string]any{
			{"agent_id": "a1", "response": "done", "success": false},
		},
	})
	result := decode[map[string]any](t, rec)
	if result["should_replan"] != true {
		t.Errorf("should_replan = %v, want true after a failed agent", result["should_replan"])
	}
}

func TestCompressEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/context/compress", map[string]any{
		"messages": []map[string]any{
			{"role": "user", "content": "short conversation"},
		},
		"target_tokens": 1000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decode[map[string]any](t, rec)
	if result["source"] != "passthrough" {
		t.Errorf("source = %v, want passthrough for an already-small conversation", result["source"])
	}
}

func TestModelsEndpointFiltersByTier(t *testing.T) {
	srv, m, _ := newTestServer(t)
	p := &llmmock.Provider{NameValue: "alpha", ModelsValue: []llm.ModelConfig{
		{Provider: "alpha", ModelID: "s", Alias: "s", Tier: types.TierSmall},
		{Provider: "alpha", ModelID: "l", Alias: "l", Tier: types.TierLarge},
	}}
	m.Registry().Install("alpha", p, 0)
	h := srv.Handler()

	all := decode[map[string][]llm.ModelConfig](t, getPath(t, h, "/providers/models"))
	if len(all["models"]) != 2 {
		t.Errorf("unfiltered models = %d, want 2", len(all["models"]))
	}

	large := decode[map[string][]llm.ModelConfig](t, getPath(t, h, "/providers/models?tier=large"))
	if len(large["models"]) != 1 || large["models"][0].Alias != "l" {
		t.Errorf("large models = %v", large["models"])
	}

	if rec := getPath(t, h, "/providers/models?tier=huge"); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown tier status = %d, want 400", rec.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	postJSON(t, h, "/completions", map[string]any{
		"messages":   []map[string]any{{"role": "user", "content": "count my tokens"}},
		"session_id": "s1",
	})

	report := decode[map[string]any](t, getPath(t, h, "/usage"))
	sessions, ok := report["sessions"].(map[string]any)
	if !ok || sessions["s1"] == nil {
		t.Errorf("usage report missing session ledger: %v", report)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	if rec := getPath(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := getPath(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	rec := getPath(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}
