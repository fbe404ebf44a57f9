package builtin

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shannon-ai/llm-gateway/internal/tools"
)

const subpageConcurrency = 3

// keywordSynonyms expands query keywords so "docs" also matches
// "documentation" paths and the like.
var keywordSynonyms = map[string][]string{
	"docs":     {"documentation", "guide", "manual", "reference"},
	"price":    {"pricing", "cost", "plans", "billing"},
	"blog":     {"news", "articles", "posts"},
	"about":    {"company", "team", "mission"},
	"contact":  {"support", "help"},
	"download": {"install", "releases", "get"},
	"api":      {"developer", "developers", "reference"},
}

// highValuePaths get a score boost regardless of the query.
var highValuePaths = []string{"blog", "news", "press", "docs", "about", "products", "features"}

// WebSubpageFetch fetches the subpages of a site most relevant to a topic.
// The base page is fetched first; when it looks like an error shell the tool
// short-circuits instead of wasting fetches on a dead site.
type WebSubpageFetch struct {
	md tools.Metadata
	f  *fetcher
}

// NewWebSubpageFetch returns the web_subpage_fetch tool.
func NewWebSubpageFetch() *WebSubpageFetch {
	return &WebSubpageFetch{
		f: newFetcher(),
		md: tools.Metadata{
			Name:        "web_subpage_fetch",
			Description: "Finds and fetches the subpages of a site most relevant to a topic",
			Category:    "web",
			Version:     "1.0.0",
			RateLimit:   20,
			Parameters: []tools.Parameter{
				{Name: "url", Type: tools.TypeString, Required: true,
					Description: "Site base URL"},
				{Name: "topic", Type: tools.TypeString, Required: true,
					Description: "What to look for, used for relevance ranking"},
				{Name: "max_pages", Type: tools.TypeInteger, Default: int64(3),
					MinValue: floatPtr(1), MaxValue: floatPtr(10)},
			},
		},
	}
}

func (t *WebSubpageFetch) Metadata() *tools.Metadata { return &t.md }

func (t *WebSubpageFetch) Execute(ctx context.Context, _ *tools.SessionContext, args map[string]any) *tools.Result {
	baseURL, _ := args["url"].(string)
	topic, _ := args["topic"].(string)
	maxPages := 3
	if n, ok := args["max_pages"].(int64); ok && n > 0 {
		maxPages = int(n)
	}

	base, err := t.f.fetch(ctx, baseURL)
	if err != nil {
		return tools.Errorf("%v", err)
	}
	if looksLikeErrorPage(base.Content) {
		return tools.Errorf("base page looks like an error page, not fetching subpages")
	}

	links := extractLinks(baseURL, base.Content)
	ranked := rankLinks(links, topic)
	if len(ranked) > maxPages {
		ranked = ranked[:maxPages]
	}

	var mu sync.Mutex
	pages := make([]map[string]any, 0, len(ranked))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(subpageConcurrency)
	for _, link := range ranked {
		g.Go(func() error {
			p, err := t.f.fetch(gctx, link)
			if err != nil || looksLikeErrorPage(p.Content) {
				// Skip unreachable or empty subpages rather than failing
				// the whole call.
				return nil
			}
			mu.Lock()
			pages = append(pages, map[string]any{
				"url":     p.URL,
				"title":   p.Title,
				"content": p.Content,
			})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	result := tools.Ok(map[string]any{
		"base_url": base.URL,
		"topic":    topic,
		"pages":    pages,
	})
	result.Metadata = map[string]any{"candidates": len(links), "fetched": len(pages)}
	return result
}

// rankLinks orders candidate links by relevance to topic, best first, and
// drops links that score zero or below.
func rankLinks(links []string, topic string) []string {
	keywords := expandKeywords(topic)

	type scored struct {
		link  string
		score float64
	}
	ranked := make([]scored, 0, len(links))
	for _, link := range links {
		if s := scoreLink(link, keywords); s > 0 {
			ranked = append(ranked, scored{link: link, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.link
	}
	return out
}

func expandKeywords(topic string) []string {
	var out []string
	for _, word := range strings.Fields(strings.ToLower(topic)) {
		out = append(out, word)
		out = append(out, keywordSynonyms[word]...)
	}
	return out
}

// scoreLink weighs path-segment matches, keyword containment, high-value
// sections, depth and length.
func scoreLink(link string, keywords []string) float64 {
	u, err := url.Parse(link)
	if err != nil {
		return 0
	}
	path := strings.ToLower(strings.Trim(u.Path, "/"))
	if path == "" {
		return 0
	}
	segments := strings.Split(path, "/")

	var score float64
	for _, kw := range keywords {
		for _, seg := range segments {
			if seg == kw {
				score += 3
			} else if strings.Contains(seg, kw) {
				score += 2
			}
		}
	}
	for _, hv := range highValuePaths {
		for _, seg := range segments {
			if seg == hv {
				score += 1
				break
			}
		}
	}

	// Shallow, short paths are more likely to be navigable content.
	score -= 0.5 * float64(len(segments)-1)
	if len(path) > 80 {
		score -= 1
	}
	return score
}
