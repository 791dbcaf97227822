package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aussie-gateway/aussie/internal/domain"
	"github.com/aussie-gateway/aussie/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(httptest.NewRecorder(), &slog.HandlerOptions{Level: slog.LevelError}))
}

func seededRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(nil)
	_, err := reg.Register(context.Background(), domain.ServiceRegistration{
		ServiceID:         "orders",
		DisplayName:       "Orders",
		BaseURL:           "http://orders.internal:8080",
		DefaultVisibility: domain.VisibilityPublic,
		Endpoints: []domain.EndpointConfig{
			{Path: "/orders/{id}", Methods: []string{"GET"}, Visibility: domain.VisibilityPublic},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	d := Deps{
		Logger:   testLogger(),
		Registry: seededRegistry(t),
		Metrics:  prometheus.NewRegistry(),
		AdminKey: "secret",
	}
	r := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdminRoutesRequiresAdminKey(t *testing.T) {
	d := Deps{
		Logger:   testLogger(),
		Registry: seededRegistry(t),
		Metrics:  prometheus.NewRegistry(),
		AdminKey: "secret",
	}
	r := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/-/routes", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without admin key", rec.Code)
	}
}

func TestAdminRoutesListsRegisteredServices(t *testing.T) {
	d := Deps{
		Logger:    testLogger(),
		Registry:  seededRegistry(t),
		Metrics:   prometheus.NewRegistry(),
		AdminKey:  "secret",
		StartedAt: time.Now(),
	}
	r := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/-/routes", nil)
	req.Header.Set("X-Admin-Key", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0]["service_id"] != "orders" {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestAdminStatusReportsUptimeAndServiceCount(t *testing.T) {
	d := Deps{
		Logger:    testLogger(),
		Registry:  seededRegistry(t),
		Metrics:   prometheus.NewRegistry(),
		AdminKey:  "secret",
		StartedAt: time.Now().Add(-5 * time.Second),
	}
	r := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/-/status", nil)
	req.Header.Set("X-Admin-Key", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["services"].(float64) != 1 {
		t.Fatalf("services = %v, want 1", out["services"])
	}
}

func TestAdminAuthUsesInjectedStatsReporter(t *testing.T) {
	d := Deps{
		Logger:   testLogger(),
		Registry: seededRegistry(t),
		Metrics:  prometheus.NewRegistry(),
		AdminKey: "secret",
		AuthStats: statsFunc(func() map[string]any {
			return map[string]any{"mode": "jwt"}
		}),
	}
	r := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/-/auth", nil)
	req.Header.Set("X-Admin-Key", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["mode"] != "jwt" {
		t.Fatalf("unexpected body: %v", out)
	}
}

type statsFunc func() map[string]any

func (f statsFunc) Stats() map[string]any { return f() }
