package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestZZProbeSubpage(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	padding := strings.Repeat("Lots of real content here. ", 30)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>` + padding + `
<a href="/docs">docs</a>
<a href="/pricing">pricing</a>
<a href="/careers">careers</a>
</body></html>`))
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Docs</title></head><body>" + padding + "</body></html>"))
	})

	f := testFetcher(srv.Client())
	base, err := f.fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("base fetch: %v", err)
	}
	t.Logf("errorpage=%v", looksLikeErrorPage(base.Content))
	links := extractLinks(srv.URL, base.Content)
	t.Logf("links=%v", links)
	ranked := rankLinks(links, "docs")
	t.Logf("ranked=%v", ranked)
	for _, l := range ranked {
		p, err := f.fetch(context.Background(), l)
		if err != nil {
			t.Logf("fetch %s: err=%v", l, err)
			continue
		}
		t.Logf("fetch %s: title=%q errorpage=%v len=%d", l, p.Title, looksLikeErrorPage(p.Content), len(p.Content))
	}
}
