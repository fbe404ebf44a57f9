// Package builtin ships the reference tools agents get out of the box:
// web search, fetch, subpage fetch and crawl, a safe calculator, the
// session-workspace file tools, an allowlisted bash runner and the remote
// Python executor client.
package builtin

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/netguard"
)

const (
	defaultFetchMaxBytes = 50 << 20
	defaultMaxRedirects  = 10
	fetchTimeout         = 30 * time.Second
)

var (
	titlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptPattern = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern  = regexp.MustCompile(`[ \t\r\f]+`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
	hrefPattern   = regexp.MustCompile(`(?i)href\s*=\s*["']([^"'#]+)["']`)
	breakPattern  = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|br)>`)
)

// errorPhrases flag pages that are error shells rather than content.
var errorPhrases = []string{
	"404 not found", "page not found", "access denied", "permission denied",
	"403 forbidden", "500 internal server error", "service unavailable",
	"too many requests", "captcha",
}

// fetcher performs SSRF-guarded page fetches shared by the web tools.
type fetcher struct {
	client   *http.Client
	checkURL func(string) error
	maxBytes int64
}

func newFetcher() *fetcher {
	client := netguard.Client(fetchTimeout)
	maxRedirects := int(envInt("WEB_FETCH_MAX_REDIRECTS", defaultMaxRedirects))
	inner := client.CheckRedirect
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return inner(req, via)
	}
	return &fetcher{
		client:   client,
		checkURL: netguard.CheckURL,
		maxBytes: envInt("WEB_FETCH_MAX_RESPONSE_BYTES", defaultFetchMaxBytes),
	}
}

// page is a fetched and text-extracted document.
type page struct {
	URL     string
	Title   string
	Content string
}

func (f *fetcher) fetch(ctx context.Context, rawURL string) (*page, error) {
	if err := f.checkURL(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html, text/plain")
	req.Header.Set("User-Agent", "shannon-gateway/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %s", netguard.Redact(err.Error()))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %s", netguard.Redact(err.Error()))
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", f.maxBytes)
	}

	raw := string(body)
	return &page{
		URL:     rawURL,
		Title:   extractTitle(raw),
		Content: htmlToText(raw),
	}, nil
}

func extractTitle(doc string) string {
	if m := titlePattern.FindStringSubmatch(doc); m != nil {
		return strings.TrimSpace(html.UnescapeString(m[1]))
	}
	return ""
}

// htmlToText strips markup down to readable text. Not a real markdown
// conversion; paragraph breaks survive, which is enough for model input.
func htmlToText(doc string) string {
	doc = scriptPattern.ReplaceAllString(doc, " ")
	doc = breakPattern.ReplaceAllString(doc, "\n")
	doc = tagPattern.ReplaceAllString(doc, " ")
	doc = html.UnescapeString(doc)
	doc = spacePattern.ReplaceAllString(doc, " ")
	lines := strings.Split(doc, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	doc = strings.Join(lines, "\n")
	doc = blankPattern.ReplaceAllString(doc, "\n\n")
	return strings.TrimSpace(doc)
}

// looksLikeErrorPage applies the error-shell heuristic: a known error phrase
// anywhere, or a very short page that still mentions an error.
func looksLikeErrorPage(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range errorPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return len(content) < 500 && strings.Contains(lower, "error")
}

// extractLinks returns absolute same-host links found in a page body.
func extractLinks(baseURL, doc string) []string {
	base := strings.TrimRight(baseURL, "/")
	seen := make(map[string]bool)
	var out []string
	for _, m := range hrefPattern.FindAllStringSubmatch(doc, -1) {
		link := strings.TrimSpace(m[1])
		switch {
		case strings.HasPrefix(link, "/"):
			link = base + link
		case strings.HasPrefix(link, "http://"), strings.HasPrefix(link, "https://"):
			if !strings.HasPrefix(link, base) {
				continue
			}
		default:
			continue
		}
		if !seen[link] {
			seen[link] = true
			out = append(out, link)
		}
	}
	return out
}

func envInt(name string, def int64) int64 {
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

func wordCount(s string) int {
	return len(strings.Fields(s))
}
