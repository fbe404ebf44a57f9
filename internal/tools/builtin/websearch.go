package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/netguard"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

const (
	exaSearchURL       = "https://api.exa.ai/search"
	firecrawlSearchURL = "https://api.firecrawl.dev/v1/search"
	searchTimeout      = 20 * time.Second
)

// searchResult is one normalised hit.
type searchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

// searchBackend abstracts the upstream search API.
type searchBackend interface {
	search(ctx context.Context, query string, limit int) ([]searchResult, error)
	name() string
}

// WebSearch delegates queries to Exa or Firecrawl, whichever is configured.
// Exa wins when both keys are present.
type WebSearch struct {
	md      tools.Metadata
	backend searchBackend
}

// NewWebSearch returns the web_search tool, or an error when no search
// backend is configured.
func NewWebSearch() (*WebSearch, error) {
	var backend searchBackend
	switch {
	case os.Getenv("EXA_API_KEY") != "":
		backend = &exaBackend{apiKey: os.Getenv("EXA_API_KEY"), baseURL: exaSearchURL, client: &http.Client{Timeout: searchTimeout}}
	case os.Getenv("FIRECRAWL_API_KEY") != "":
		backend = &firecrawlBackend{apiKey: os.Getenv("FIRECRAWL_API_KEY"), baseURL: firecrawlSearchURL, client: &http.Client{Timeout: searchTimeout}}
	default:
		return nil, fmt.Errorf("builtin: web_search needs EXA_API_KEY or FIRECRAWL_API_KEY")
	}
	return newWebSearch(backend), nil
}

func newWebSearch(backend searchBackend) *WebSearch {
	return &WebSearch{
		backend: backend,
		md: tools.Metadata{
			Name:        "web_search",
			Description: "Searches the web and returns ranked results with snippets",
			Category:    "web",
			Version:     "1.0.0",
			RateLimit:   30,
			Parameters: []tools.Parameter{
				{Name: "query", Type: tools.TypeString, Required: true},
				{Name: "num_results", Type: tools.TypeInteger, Default: int64(5),
					MinValue: floatPtr(1), MaxValue: floatPtr(20)},
			},
		},
	}
}

func (t *WebSearch) Metadata() *tools.Metadata { return &t.md }

func (t *WebSearch) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	query, _ := args["query"].(string)
	limit := 5
	if n, ok := args["num_results"].(int64); ok && n > 0 {
		limit = int(n)
	}

	results, err := t.backend.search(ctx, query, limit)
	if err != nil {
		return tools.Errorf("search failed: %s", netguard.Redact(err.Error()))
	}

	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"title":   r.Title,
			"snippet": r.Snippet,
			"url":     r.URL,
			"source":  r.Source,
		})
	}
	result := tools.Ok(out)
	result.Metadata = map[string]any{"backend": t.backend.name(), "query": query}
	return result
}

type exaBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func (b *exaBackend) name() string { return "exa" }

func (b *exaBackend) search(ctx context.Context, query string, limit int) ([]searchResult, error) {
	payload, _ := json.Marshal(map[string]any{
		"query":      query,
		"numResults": limit,
		"contents":   map[string]any{"text": map[string]any{"maxCharacters": 500}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.apiKey)

	var decoded struct {
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
			Text  string `json:"text"`
		} `json:"results"`
	}
	if err := doJSON(b.client, req, &decoded); err != nil {
		return nil, err
	}

	out := make([]searchResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		out = append(out, searchResult{Title: r.Title, Snippet: r.Text, URL: r.URL, Source: "exa"})
	}
	return out, nil
}

type firecrawlBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func (b *firecrawlBackend) name() string { return "firecrawl" }

func (b *firecrawlBackend) search(ctx context.Context, query string, limit int) ([]searchResult, error) {
	payload, _ := json.Marshal(map[string]any{
		"query": query,
		"limit": limit,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	var decoded struct {
		Data []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"data"`
	}
	if err := doJSON(b.client, req, &decoded); err != nil {
		return nil, err
	}

	out := make([]searchResult, 0, len(decoded.Data))
	for _, r := range decoded.Data {
		out = append(out, searchResult{Title: r.Title, Snippet: r.Description, URL: r.URL, Source: "firecrawl"})
	}
	return out, nil
}

// doJSON runs req and decodes a JSON response into out, treating non-2xx
// statuses as errors with redacted bodies.
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s", netguard.Redact(err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %s", netguard.Redact(err.Error()))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, netguard.Redact(string(data[:min(len(data), 256)])))
	}
	return json.Unmarshal(data, out)
}

func floatPtr(f float64) *float64 { return &f }
