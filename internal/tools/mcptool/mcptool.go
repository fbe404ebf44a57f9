// Package mcptool exposes remote MCP functions as gateway tools.
//
// Two flavours are supported. The stateless flavour POSTs a
// {"function": name, "args": {...}} envelope to a plain HTTP endpoint and is
// guarded by a hostname allowlist, a per-URL circuit breaker and a per-tool
// rate limit. The server flavour connects to a full MCP server through the
// official SDK (stdio or streamable HTTP) and imports its tool catalogue.
package mcptool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/netguard"
	"github.com/shannon-ai/llm-gateway/internal/resilience"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

const (
	defaultMaxResponse = 10 << 20
	defaultTimeout     = 30 * time.Second
	defaultRetries     = 3
	defaultRateLimit   = 60

	breakerMaxFailures  = 5
	breakerResetTimeout = 60 * time.Second
)

// ErrDomainNotAllowed rejects endpoints outside the configured allowlist.
var ErrDomainNotAllowed = errors.New("mcptool: domain not in allowlist")

// Factory generates stateless MCP tools. All tools from one Factory share
// circuit breaker state keyed by endpoint URL.
type Factory struct {
	client         *http.Client
	checkURL       func(string) error
	breakers       *resilience.BreakerSet
	allowedDomains []string
	maxResponse    int64
	retries        int
}

// NewFactory builds a Factory honouring the MCP_* environment knobs. The
// allowlist is the union of cfg.MCPAllowedDomains and MCP_ALLOWED_DOMAINS.
func NewFactory(cfg config.ToolsConfig) *Factory {
	allowed := append([]string(nil), cfg.MCPAllowedDomains...)
	if raw := os.Getenv("MCP_ALLOWED_DOMAINS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				allowed = append(allowed, part)
			}
		}
	}
	return &Factory{
		client:         netguard.Client(envDuration("MCP_TIMEOUT_SECONDS", defaultTimeout)),
		checkURL:       netguard.CheckURL,
		allowedDomains: allowed,
		maxResponse:    envInt64("MCP_MAX_RESPONSE_BYTES", defaultMaxResponse),
		retries:        int(envInt64("MCP_RETRIES", defaultRetries)),
		breakers: resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			MaxFailures:  int(envInt64("MCP_CB_FAILURES", breakerMaxFailures)),
			ResetTimeout: envDuration("MCP_CB_RECOVERY_SECONDS", breakerResetTimeout),
		}),
	}
}

// Tools generates one tool per configured function. The endpoint hostname
// must pass both the SSRF check and the domain allowlist before any tool is
// created.
func (f *Factory) Tools(cfg config.MCPToolConfig) ([]tools.Tool, error) {
	if cfg.Name == "" || cfg.URL == "" {
		return nil, fmt.Errorf("mcptool: %q: name and url are required", cfg.Name)
	}
	if err := f.checkURL(cfg.URL); err != nil {
		return nil, fmt.Errorf("mcptool: %s: endpoint refused: %w", cfg.Name, err)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("mcptool: %s: %w", cfg.Name, err)
	}
	if !netguard.AllowedDomain(u.Hostname(), f.allowedDomains) {
		return nil, fmt.Errorf("%w: %q", ErrDomainNotAllowed, u.Hostname())
	}
	if len(cfg.Functions) == 0 {
		return nil, fmt.Errorf("mcptool: %s: no functions declared", cfg.Name)
	}

	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = defaultRateLimit
	}

	out := make([]tools.Tool, 0, len(cfg.Functions))
	for _, fn := range cfg.Functions {
		out = append(out, &remoteTool{
			md: tools.Metadata{
				Name:         cfg.Name + "_" + fn,
				Description:  fmt.Sprintf("Remote MCP function %s served by %s", fn, cfg.Name),
				Category:     "mcp",
				Version:      "1.0.0",
				RateLimit:    rpm,
				AllowUnknown: true,
			},
			function:    fn,
			endpoint:    cfg.URL,
			headers:     cfg.Headers,
			client:      f.client,
			breaker:     f.breakers.Get(cfg.URL),
			retries:     f.retries,
			maxResponse: f.maxResponse,
		})
	}
	return out, nil
}

// remoteTool invokes one function on a stateless MCP endpoint.
type remoteTool struct {
	md          tools.Metadata
	function    string
	endpoint    string
	headers     map[string]string
	client      *http.Client
	breaker     *resilience.CircuitBreaker
	retries     int
	maxResponse int64
}

func (t *remoteTool) Metadata() *tools.Metadata { return &t.md }

func (t *remoteTool) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	payload, err := json.Marshal(map[string]any{
		"function": t.function,
		"args":     args,
	})
	if err != nil {
		return tools.Errorf("encode call: %v", err)
	}

	policy := resilience.RetryPolicy{
		MaxAttempts:    t.retries,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		Factor:         2,
		Retryable:      retryableCall,
	}

	result, err := resilience.Retry(ctx, policy, func() (*tools.Result, error) {
		var res *tools.Result
		execErr := t.breaker.Execute(func() error {
			var err error
			res, err = t.post(ctx, payload)
			return err
		})
		return res, execErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return tools.Errorf("service unavailable: circuit open for this endpoint")
		}
		return tools.Errorf("%s", netguard.Redact(err.Error()))
	}
	return result
}

func (t *remoteTool) post(ctx context.Context, payload []byte) (*tools.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for name, value := range t.headers {
		req.Header.Set(name, os.Expand(value, os.Getenv))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call failed: %s", netguard.Redact(err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %s", netguard.Redact(err.Error()))
	}
	if int64(len(data)) > t.maxResponse {
		return nil, fmt.Errorf("response exceeds %d bytes", t.maxResponse)
	}

	if resp.StatusCode >= 400 {
		return nil, &callError{code: resp.StatusCode, body: netguard.Redact(truncate(string(data), 512))}
	}

	var decoded any
	if json.Unmarshal(data, &decoded) != nil {
		decoded = string(data)
	}
	result := tools.Ok(decoded)
	result.Metadata = map[string]any{"status_code": resp.StatusCode, "function": t.function}
	return result, nil
}

// callError carries the HTTP status for the retry policy.
type callError struct {
	code int
	body string
}

func (e *callError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("endpoint returned status %d", e.code)
	}
	return fmt.Sprintf("endpoint returned status %d: %s", e.code, e.body)
}

func retryableCall(err error) bool {
	var ce *callError
	if errors.As(err, &ce) {
		return ce.code >= 500 || ce.code == http.StatusTooManyRequests
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func envInt64(name string, def int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDuration(name string, def time.Duration) time.Duration {
	secs := envInt64(name, 0)
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
