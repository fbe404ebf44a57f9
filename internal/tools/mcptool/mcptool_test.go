package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/resilience"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

func testFactory(client *http.Client, allowed ...string) *Factory {
	return &Factory{
		client:         client,
		checkURL:       func(string) error { return nil },
		allowedDomains: allowed,
		maxResponse:    defaultMaxResponse,
		retries:        1,
		breakers: resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			MaxFailures:  breakerMaxFailures,
			ResetTimeout: time.Hour,
		}),
	}
}

func TestToolsRequireAllowlistedDomain(t *testing.T) {
	f := testFactory(http.DefaultClient, "api.example.com")
	_, err := f.Tools(config.MCPToolConfig{
		Name:      "calc",
		URL:       "https://evil.example.org/mcp",
		Functions: []string{"add"},
	})
	if !errors.Is(err, ErrDomainNotAllowed) {
		t.Fatalf("err = %v, want ErrDomainNotAllowed", err)
	}

	if _, err := f.Tools(config.MCPToolConfig{
		Name:      "calc",
		URL:       "https://api.example.com/mcp",
		Functions: []string{"add"},
	}); err != nil {
		t.Fatalf("allowlisted domain rejected: %v", err)
	}
}

func TestToolsSuffixMatchAllowed(t *testing.T) {
	f := testFactory(http.DefaultClient, "example.com")
	if _, err := f.Tools(config.MCPToolConfig{
		Name:      "calc",
		URL:       "https://tools.example.com/mcp",
		Functions: []string{"add"},
	}); err != nil {
		t.Fatalf("subdomain of allowlisted domain rejected: %v", err)
	}
}

func TestExecutePostsFunctionEnvelope(t *testing.T) {
	var envelope map[string]any
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		json.NewDecoder(r.Body).Decode(&envelope)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sum": 5}`)
	}))
	defer srv.Close()

	t.Setenv("CALC_KEY", "secret-key")
	f := testFactory(srv.Client(), "127.0.0.1")
	ts, err := f.Tools(config.MCPToolConfig{
		Name:      "calc",
		URL:       srv.URL,
		Functions: []string{"add"},
		Headers:   map[string]string{"X-Api-Key": "$CALC_KEY"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 1 || ts[0].Metadata().Name != "calc_add" {
		t.Fatalf("tools = %v", ts)
	}

	res := ts[0].Execute(context.Background(), nil, map[string]any{"a": 2, "b": 3})
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}
	if envelope["function"] != "add" {
		t.Errorf("function = %v", envelope["function"])
	}
	args, _ := envelope["args"].(map[string]any)
	if args["a"] != float64(2) || args["b"] != float64(3) {
		t.Errorf("args = %v", args)
	}
	if got.Header.Get("X-Api-Key") != "secret-key" {
		t.Errorf("X-Api-Key = %q", got.Header.Get("X-Api-Key"))
	}
	out, _ := res.Output.(map[string]any)
	if out["sum"] != float64(5) {
		t.Errorf("output = %#v", res.Output)
	}
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `"ok"`)
	}))
	defer srv.Close()

	f := testFactory(srv.Client(), "127.0.0.1")
	f.retries = 3
	ts, err := f.Tools(config.MCPToolConfig{Name: "calc", URL: srv.URL, Functions: []string{"add"}})
	if err != nil {
		t.Fatal(err)
	}

	res := ts[0].Execute(context.Background(), nil, nil)
	if !res.Success {
		t.Fatalf("execute failed after retry: %s", res.Error)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestExecuteBreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := testFactory(srv.Client(), "127.0.0.1")
	ts, err := f.Tools(config.MCPToolConfig{Name: "calc", URL: srv.URL, Functions: []string{"add"}})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < breakerMaxFailures; i++ {
		ts[0].Execute(context.Background(), nil, nil)
	}
	before := calls
	res := ts[0].Execute(context.Background(), nil, nil)
	if res.Success || !strings.Contains(res.Error, "circuit open") {
		t.Errorf("result = %+v, want circuit open failure", res)
	}
	if calls != before {
		t.Error("open breaker still let a request through")
	}
}

func TestExecuteResponseCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := testFactory(srv.Client(), "127.0.0.1")
	f.maxResponse = 16
	ts, err := f.Tools(config.MCPToolConfig{Name: "calc", URL: srv.URL, Functions: []string{"add"}})
	if err != nil {
		t.Fatal(err)
	}

	res := ts[0].Execute(context.Background(), nil, nil)
	if res.Success || !strings.Contains(res.Error, "exceeds") {
		t.Errorf("result = %+v, want size cap failure", res)
	}
}

func TestExecuteRedactsTokens(t *testing.T) {
	const secret = "mcp0123456789abcdef0123456789abcdef"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied for "+secret, http.StatusForbidden)
	}))
	defer srv.Close()

	f := testFactory(srv.Client(), "127.0.0.1")
	ts, err := f.Tools(config.MCPToolConfig{Name: "calc", URL: srv.URL, Functions: []string{"add"}})
	if err != nil {
		t.Fatal(err)
	}

	res := ts[0].Execute(context.Background(), nil, nil)
	if res.Success {
		t.Fatal("4xx treated as success")
	}
	if strings.Contains(res.Error, secret) {
		t.Errorf("token leaked into error: %q", res.Error)
	}
}

func TestGeneratedToolCarriesDefaultRateLimit(t *testing.T) {
	f := testFactory(http.DefaultClient, "api.example.com")
	ts, err := f.Tools(config.MCPToolConfig{
		Name:      "calc",
		URL:       "https://api.example.com/mcp",
		Functions: []string{"add"},
	})
	if err != nil {
		t.Fatal(err)
	}
	md := ts[0].Metadata()
	if md.RateLimit != defaultRateLimit {
		t.Errorf("rate limit = %d, want %d", md.RateLimit, defaultRateLimit)
	}
	if !md.AllowUnknown {
		t.Error("remote function without a declared schema must pass arguments through")
	}

	reg := tools.NewRegistry()
	if err := reg.Register(ts[0], false); err != nil {
		t.Fatal(err)
	}
}
