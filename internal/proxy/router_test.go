package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFactoryCachesProxyPerBaseURL(t *testing.T) {
	f := NewFactory(http.DefaultTransport, ForwardingConfig{})

	p1, err := f.For("https://upstream.example.com")
	if err != nil {
		t.Fatalf("for: %v", err)
	}
	p2, err := f.For("https://upstream.example.com")
	if err != nil {
		t.Fatalf("for: %v", err)
	}
	if p1 != p2 {
		t.Fatal("expected the same cached *ReverseProxy instance for the same base url")
	}
}

func TestFactoryRejectsInvalidBaseURL(t *testing.T) {
	f := NewFactory(http.DefaultTransport, ForwardingConfig{})
	if _, err := f.For("not-a-url"); err == nil {
		t.Fatal("expected an error for a relative/invalid base url")
	}
}

func TestFactoryInvalidateForcesRebuild(t *testing.T) {
	f := NewFactory(http.DefaultTransport, ForwardingConfig{})
	p1, _ := f.For("https://upstream.example.com")
	f.Invalidate("https://upstream.example.com")
	p2, _ := f.For("https://upstream.example.com")
	if p1 == p2 {
		t.Fatal("expected a fresh *ReverseProxy after Invalidate")
	}
}

func TestStripHopByHopHeadersRemovesConnectionListed(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom")
	h.Set("X-Custom", "should-be-removed")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("X-Regular", "kept")

	StripHopByHopHeaders(h)

	if h.Get("X-Custom") != "" || h.Get("Keep-Alive") != "" || h.Get("Connection") != "" {
		t.Fatalf("expected hop-by-hop headers removed, got %#v", h)
	}
	if h.Get("X-Regular") != "kept" {
		t.Fatal("expected unrelated header to survive")
	}
}

func TestStripCookieRemovesOnlyNamedCookie(t *testing.T) {
	h := http.Header{}
	h.Set("Cookie", "aussie_session=abc123; other=kept")
	stripCookie(h, "aussie_session")
	if h.Get("Cookie") != "other=kept" {
		t.Fatalf("expected only the session cookie stripped, got %q", h.Get("Cookie"))
	}
}

func TestStripCookieDeletesHeaderWhenEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("Cookie", "aussie_session=abc123")
	stripCookie(h, "aussie_session")
	if h.Get("Cookie") != "" {
		t.Fatalf("expected Cookie header removed entirely, got %q", h.Get("Cookie"))
	}
}

func TestRewriteTargetPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/svc/a/b", nil)
	RewriteTargetPath(req, "/b")
	if req.URL.Path != "/b" {
		t.Fatalf("expected rewritten path /b, got %q", req.URL.Path)
	}
}
