package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func testFetcher(client *http.Client) *fetcher {
	return &fetcher{
		client:   client,
		checkURL: func(string) error { return nil },
		maxBytes: defaultFetchMaxBytes,
	}
}

func TestHTMLToText(t *testing.T) {
	doc := `<html><head><title>Docs &amp; Guides</title>
<script>var x = "never shown";</script>
<style>body { color: red }</style></head>
<body><h1>Welcome</h1><p>First paragraph.</p><p>Second &lt;b&gt;.</p></body></html>`

	text := htmlToText(doc)
	if strings.Contains(text, "never shown") || strings.Contains(text, "color: red") {
		t.Errorf("script or style survived: %q", text)
	}
	for _, want := range []string{"Welcome", "First paragraph.", "Second <b>."} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}

	if got := extractTitle(doc); got != "Docs & Guides" {
		t.Errorf("title = %q", got)
	}
}

func TestLooksLikeErrorPage(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"404 Not Found", true},
		{"Access Denied. Please sign in.", true},
		{"An error occurred", true},
		{"Welcome to our product documentation. " + strings.Repeat("Content. ", 100), false},
	}
	for _, tc := range cases {
		if got := looksLikeErrorPage(tc.content); got != tc.want {
			t.Errorf("looksLikeErrorPage(%.40q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestExtractLinks(t *testing.T) {
	doc := `<a href="/docs">docs</a>
<a href="https://site.example.com/pricing">pricing</a>
<a href="https://other.example.org/away">offsite</a>
<a href="mailto:x@example.com">mail</a>
<a href="/docs">dup</a>`

	got := extractLinks("https://site.example.com", doc)
	want := []string{"https://site.example.com/docs", "https://site.example.com/pricing"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("links = %v, want %v", got, want)
	}
}

func TestWebFetchReturnsPageText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Hello</title></head><body><p>one two three</p></body></html>"))
	}))
	defer srv.Close()

	wf := NewWebFetch()
	wf.f = testFetcher(srv.Client())

	res := wf.Execute(context.Background(), nil, map[string]any{"url": srv.URL})
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}
	out := res.Output.(map[string]any)
	if out["title"] != "Hello" {
		t.Errorf("title = %v", out["title"])
	}
	if out["content"] != "one two three" {
		t.Errorf("content = %q", out["content"])
	}
	if out["word_count"] != 3 {
		t.Errorf("word_count = %v", out["word_count"])
	}
}

func TestWebFetchMaxLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<body>" + strings.Repeat("abcd ", 100) + "</body>"))
	}))
	defer srv.Close()

	wf := NewWebFetch()
	wf.f = testFetcher(srv.Client())

	res := wf.Execute(context.Background(), nil, map[string]any{
		"url": srv.URL, "max_length": int64(10),
	})
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}
	if content := res.Output.(map[string]any)["content"].(string); len(content) != 10 {
		t.Errorf("content length = %d, want 10", len(content))
	}
}

func TestWebFetchResponseCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 200)))
	}))
	defer srv.Close()

	wf := NewWebFetch()
	f := testFetcher(srv.Client())
	f.maxBytes = 64
	wf.f = f

	res := wf.Execute(context.Background(), nil, map[string]any{"url": srv.URL})
	if res.Success || !strings.Contains(res.Error, "exceeds") {
		t.Errorf("result = %+v, want size cap failure", res)
	}
}

func TestWebFetchUpstreamStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	wf := NewWebFetch()
	wf.f = testFetcher(srv.Client())

	res := wf.Execute(context.Background(), nil, map[string]any{"url": srv.URL})
	if res.Success || !strings.Contains(res.Error, "403") {
		t.Errorf("result = %+v, want status failure", res)
	}
}

func TestWebFetchDeprecatedParamsAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<body>fine</body>"))
	}))
	defer srv.Close()

	wf := NewWebFetch()
	wf.f = testFetcher(srv.Client())

	res := wf.Execute(context.Background(), nil, map[string]any{
		"url": srv.URL, "extract_text": true, "use_readability": false,
	})
	if !res.Success {
		t.Fatalf("deprecated parameters broke the call: %s", res.Error)
	}
}
