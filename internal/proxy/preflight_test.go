package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheckSizeRejectsOversizedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("hello"))
	req.ContentLength = 20 * 1024 * 1024
	w := httptest.NewRecorder()

	ok := CheckSize(w, req, SizeLimits{MaxBodySize: 10 * 1024 * 1024})
	if ok {
		t.Fatal("expected oversized body to fail preflight")
	}
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestCheckSizeRejectsOversizedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Big", strings.Repeat("a", 9000))
	w := httptest.NewRecorder()

	ok := CheckSize(w, req, SizeLimits{MaxHeaderSize: 8 * 1024})
	if ok {
		t.Fatal("expected oversized single header to fail preflight")
	}
	if w.Code != http.StatusRequestHeaderFieldsTooLarge {
		t.Fatalf("expected 431, got %d", w.Code)
	}
}

func TestCheckSizePassesWithinLimits(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()

	if !CheckSize(w, req, SizeLimits{MaxBodySize: 1024, MaxHeaderSize: 1024, MaxTotalHeadersSize: 4096}) {
		t.Fatal("expected small request to pass preflight")
	}
}
