package builtin

import (
	"context"
	"log/slog"

	"github.com/shannon-ai/llm-gateway/internal/tools"
)

// WebFetch retrieves a single page as plain text. Private addresses are
// blocked, responses are capped at 50 MiB and redirects at 10.
type WebFetch struct {
	md tools.Metadata
	f  *fetcher
}

// NewWebFetch returns the web_fetch tool.
func NewWebFetch() *WebFetch {
	return &WebFetch{
		f: newFetcher(),
		md: tools.Metadata{
			Name:        "web_fetch",
			Description: "Fetches a web page and returns its text content",
			Category:    "web",
			Version:     "1.0.0",
			RateLimit:   30,
			Parameters: []tools.Parameter{
				{Name: "url", Type: tools.TypeString, Required: true,
					Description: "Absolute http(s) URL to fetch"},
				{Name: "max_length", Type: tools.TypeInteger,
					Description: "Truncate the extracted text to this many characters"},
				// Accepted for callers still sending the old argument names.
				{Name: "extract_text", Type: tools.TypeBoolean},
				{Name: "use_readability", Type: tools.TypeBoolean},
			},
		},
	}
}

func (t *WebFetch) Metadata() *tools.Metadata { return &t.md }

func (t *WebFetch) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	for _, deprecated := range []string{"extract_text", "use_readability"} {
		if _, present := args[deprecated]; present {
			slog.Warn("web_fetch: deprecated parameter ignored", "parameter", deprecated)
		}
	}

	rawURL, _ := args["url"].(string)
	p, err := t.f.fetch(ctx, rawURL)
	if err != nil {
		return tools.Errorf("%v", err)
	}

	content := p.Content
	if maxLen, ok := args["max_length"].(int64); ok && maxLen > 0 && int64(len(content)) > maxLen {
		content = content[:maxLen]
	}

	return tools.Ok(map[string]any{
		"url":        p.URL,
		"title":      p.Title,
		"content":    content,
		"method":     "get",
		"word_count": wordCount(content),
		"char_count": len(content),
	})
}
