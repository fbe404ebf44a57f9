package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/netguard"
	"github.com/shannon-ai/llm-gateway/internal/tools"
)

const (
	firecrawlCrawlURL = "https://api.firecrawl.dev/v1/crawl"
	crawlPollInterval = 2 * time.Second
	crawlMaxPolls     = 60
	crawlPageBudget   = 5000
)

// WebCrawl starts an asynchronous Firecrawl crawl and polls it to
// completion. Results are merged under a per-page budget of max_length
// characters and a total budget of max_length times the page count.
type WebCrawl struct {
	md           tools.Metadata
	apiKey       string
	baseURL      string
	client       *http.Client
	checkURL     func(string) error
	pollInterval time.Duration
	maxPolls     int
}

// NewWebCrawl returns the web_crawl tool, or an error when Firecrawl is not
// configured.
func NewWebCrawl() (*WebCrawl, error) {
	apiKey := os.Getenv("FIRECRAWL_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("builtin: web_crawl needs FIRECRAWL_API_KEY")
	}
	return newWebCrawl(apiKey, firecrawlCrawlURL), nil
}

func newWebCrawl(apiKey, baseURL string) *WebCrawl {
	return &WebCrawl{
		apiKey:       apiKey,
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		checkURL:     netguard.CheckURL,
		pollInterval: crawlPollInterval,
		maxPolls:     crawlMaxPolls,
		md: tools.Metadata{
			Name:        "web_crawl",
			Description: "Crawls a site and returns the content of discovered pages",
			Category:    "web",
			Version:     "1.0.0",
			RateLimit:   10,
			Parameters: []tools.Parameter{
				{Name: "url", Type: tools.TypeString, Required: true},
				{Name: "pages", Type: tools.TypeInteger, Default: int64(5),
					MinValue: floatPtr(1), MaxValue: floatPtr(50),
					Description: "Maximum number of pages to crawl"},
				{Name: "max_length", Type: tools.TypeInteger, Default: int64(crawlPageBudget),
					Description: "Per-page content budget in characters"},
			},
		},
	}
}

func (t *WebCrawl) Metadata() *tools.Metadata { return &t.md }

type crawlPage struct {
	Markdown string `json:"markdown"`
	Metadata struct {
		Title     string `json:"title"`
		SourceURL string `json:"sourceURL"`
	} `json:"metadata"`
}

func (t *WebCrawl) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	target, _ := args["url"].(string)
	pages := int64(5)
	if n, ok := args["pages"].(int64); ok && n > 0 {
		pages = n
	}
	maxLength := int64(crawlPageBudget)
	if n, ok := args["max_length"].(int64); ok && n > 0 {
		maxLength = n
	}

	if err := t.checkURL(target); err != nil {
		return tools.Errorf("%v", err)
	}

	jobID, err := t.start(ctx, target, pages)
	if err != nil {
		return tools.Errorf("start crawl: %s", netguard.Redact(err.Error()))
	}

	crawled, err := t.poll(ctx, jobID)
	if err != nil {
		return tools.Errorf("crawl %s: %s", jobID, netguard.Redact(err.Error()))
	}

	totalBudget := maxLength * pages
	var used int64
	merged := make([]map[string]any, 0, len(crawled))
	for _, p := range crawled {
		if used >= totalBudget {
			break
		}
		content := p.Markdown
		budget := min(maxLength, totalBudget-used)
		if int64(len(content)) > budget {
			content = content[:budget]
		}
		used += int64(len(content))
		merged = append(merged, map[string]any{
			"url":     p.Metadata.SourceURL,
			"title":   p.Metadata.Title,
			"content": content,
		})
	}

	result := tools.Ok(map[string]any{"url": target, "pages": merged})
	result.Metadata = map[string]any{"job_id": jobID, "page_count": len(merged)}
	return result
}

func (t *WebCrawl) start(ctx context.Context, target string, pages int64) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"url":   target,
		"limit": pages,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	var decoded struct {
		ID string `json:"id"`
	}
	if err := doJSON(t.client, req, &decoded); err != nil {
		return "", err
	}
	if decoded.ID == "" {
		return "", fmt.Errorf("no job id in crawl response")
	}
	return decoded.ID, nil
}

func (t *WebCrawl) poll(ctx context.Context, jobID string) ([]crawlPage, error) {
	for attempt := 0; attempt < t.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/"+jobID, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+t.apiKey)

		var decoded struct {
			Status string      `json:"status"`
			Data   []crawlPage `json:"data"`
		}
		if err := doJSON(t.client, req, &decoded); err != nil {
			return nil, err
		}

		switch decoded.Status {
		case "completed":
			return decoded.Data, nil
		case "failed", "cancelled":
			return nil, fmt.Errorf("crawl ended with status %q", decoded.Status)
		}
	}
	return nil, fmt.Errorf("crawl did not complete within %d polls", t.maxPolls)
}
