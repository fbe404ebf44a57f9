// Package openapi turns OpenAPI 3.x documents into executable tool bundles.
//
// Every operation in a loaded document becomes one [tools.Tool] whose execute
// composes the HTTP call from validated arguments. The loader refuses
// documents whose server URLs point at private or metadata addresses, and
// every generated tool shares a per-base-URL circuit breaker so a failing
// API cannot soak up the whole tool layer's retry budget.
package openapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/netguard"
	"github.com/shannon-ai/llm-gateway/internal/resilience"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

const (
	// maxOperations bounds how many tools a single document may generate.
	// Counted after the operations/tags filters are applied.
	maxOperations = 200

	defaultMaxSpecSize  = 10 << 20
	defaultMaxResponse  = 10 << 20
	defaultFetchTimeout = 30 * time.Second
	defaultRetries      = 3

	breakerMaxFailures  = 5
	breakerResetTimeout = 60 * time.Second
)

// Loader fetches, validates and compiles OpenAPI documents into tools.
// One Loader is shared by all configured bundles so that circuit breaker
// state survives across reloads of individual bundles.
type Loader struct {
	client   *http.Client
	checkURL func(string) error
	breakers *resilience.BreakerSet

	allowedDomains []string
	maxSpecSize    int64
	maxResponse    int64
	retries        int
}

// NewLoader builds a Loader honouring the OPENAPI_* environment knobs.
func NewLoader() *Loader {
	l := &Loader{
		client:      netguard.Client(envDuration("OPENAPI_FETCH_TIMEOUT", defaultFetchTimeout)),
		checkURL:    netguard.CheckURL,
		maxSpecSize: envInt64("OPENAPI_MAX_SPEC_SIZE", defaultMaxSpecSize),
		maxResponse: defaultMaxResponse,
		retries:     int(envInt64("OPENAPI_RETRIES", defaultRetries)),
		breakers: resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			MaxFailures:  breakerMaxFailures,
			ResetTimeout: breakerResetTimeout,
		}),
	}
	if raw := os.Getenv("OPENAPI_ALLOWED_DOMAINS"); raw != "" {
		l.allowedDomains = splitList(raw)
	}
	return l
}

// Load compiles one configured bundle into tools. On any error no tools are
// returned; a document is registered in full or not at all.
func (l *Loader) Load(ctx context.Context, cfg config.OpenAPIToolConfig) ([]tools.Tool, error) {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return nil, nil
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("openapi: bundle has no name")
	}
	if (cfg.SpecURL == "") == (cfg.SpecPath == "") {
		return nil, fmt.Errorf("openapi: %s: exactly one of spec_url and spec_path must be set", cfg.Name)
	}

	data, err := l.fetchSpec(ctx, cfg)
	if err != nil {
		return nil, err
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: %s: parse: %w", cfg.Name, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: %s: invalid document: %w", cfg.Name, err)
	}

	baseURL, err := l.resolveBaseURL(cfg, doc)
	if err != nil {
		return nil, err
	}

	ops, err := collectOperations(cfg, doc)
	if err != nil {
		return nil, err
	}

	out := make([]tools.Tool, 0, len(ops))
	for _, op := range ops {
		t, err := newOperationTool(l, cfg, baseURL, op)
		if err != nil {
			return nil, fmt.Errorf("openapi: %s: operation %s %s: %w", cfg.Name, op.method, op.path, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (l *Loader) fetchSpec(ctx context.Context, cfg config.OpenAPIToolConfig) ([]byte, error) {
	if cfg.SpecPath != "" {
		info, err := os.Stat(cfg.SpecPath)
		if err != nil {
			return nil, fmt.Errorf("openapi: %s: %w", cfg.Name, err)
		}
		if info.Size() > l.maxSpecSize {
			return nil, fmt.Errorf("openapi: %s: document exceeds %d bytes", cfg.Name, l.maxSpecSize)
		}
		return os.ReadFile(cfg.SpecPath)
	}

	if err := l.checkURL(cfg.SpecURL); err != nil {
		return nil, fmt.Errorf("openapi: %s: spec url refused: %w", cfg.Name, err)
	}
	if err := l.checkAllowlist(cfg.SpecURL); err != nil {
		return nil, fmt.Errorf("openapi: %s: %w", cfg.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.SpecURL, nil)
	if err != nil {
		return nil, fmt.Errorf("openapi: %s: %w", cfg.Name, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openapi: %s: fetch spec: %s", cfg.Name, netguard.Redact(err.Error()))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openapi: %s: fetch spec: status %d", cfg.Name, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSpecSize+1))
	if err != nil {
		return nil, fmt.Errorf("openapi: %s: read spec: %w", cfg.Name, err)
	}
	if int64(len(data)) > l.maxSpecSize {
		return nil, fmt.Errorf("openapi: %s: document exceeds %d bytes", cfg.Name, l.maxSpecSize)
	}
	return data, nil
}

// resolveBaseURL picks the effective server URL and refuses private or
// metadata targets before any tool from the document can be registered.
func (l *Loader) resolveBaseURL(cfg config.OpenAPIToolConfig, doc *openapi3.T) (string, error) {
	base := cfg.BaseURL
	if base == "" {
		if len(doc.Servers) == 0 || doc.Servers[0].URL == "" {
			return "", fmt.Errorf("openapi: %s: document declares no servers and no base_url override given", cfg.Name)
		}
		base = doc.Servers[0].URL
	}
	if err := l.checkURL(base); err != nil {
		return "", fmt.Errorf("openapi: %s: server url refused: %w", cfg.Name, err)
	}
	if err := l.checkAllowlist(base); err != nil {
		return "", fmt.Errorf("openapi: %s: %w", cfg.Name, err)
	}
	return strings.TrimRight(base, "/"), nil
}

func (l *Loader) checkAllowlist(raw string) error {
	if len(l.allowedDomains) == 0 {
		return nil
	}
	host := hostOf(raw)
	if !netguard.AllowedDomain(host, l.allowedDomains) {
		return fmt.Errorf("host %q not in OPENAPI_ALLOWED_DOMAINS", host)
	}
	return nil
}

// specOperation is one method+path pair surviving the filters.
type specOperation struct {
	method string
	path   string
	op     *openapi3.Operation
}

func collectOperations(cfg config.OpenAPIToolConfig, doc *openapi3.T) ([]specOperation, error) {
	wantOps := toSet(cfg.Operations)
	wantTags := toSet(cfg.Tags)

	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	var out []specOperation
	for _, p := range keys {
		item := paths[p]
		methods := item.Operations()
		mkeys := make([]string, 0, len(methods))
		for m := range methods {
			mkeys = append(mkeys, m)
		}
		sort.Strings(mkeys)

		for _, m := range mkeys {
			op := methods[m]
			if len(wantOps) > 0 && !wantOps[op.OperationID] {
				continue
			}
			if len(wantTags) > 0 && !anyIn(op.Tags, wantTags) {
				continue
			}
			out = append(out, specOperation{method: m, path: p, op: op})
		}
	}

	if len(out) > maxOperations {
		return nil, fmt.Errorf("openapi: %s: %d operations exceed the limit of %d; narrow with operations or tags filters",
			cfg.Name, len(out), maxOperations)
	}
	return out, nil
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}

func anyIn(vals []string, set map[string]bool) bool {
	for _, v := range vals {
		if set[v] {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
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
