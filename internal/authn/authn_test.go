package authn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
)

type fakeApiKeyRepo struct {
	byHash map[string]domain.ApiKey
}

func (f fakeApiKeyRepo) FindByHash(ctx context.Context, hash string) (*domain.ApiKey, error) {
	if k, ok := f.byHash[hash]; ok {
		return &k, nil
	}
	return nil, nil
}
func (f fakeApiKeyRepo) Create(ctx context.Context, key domain.ApiKey) error  { return nil }
func (f fakeApiKeyRepo) Revoke(ctx context.Context, id string) error         { return nil }
func (f fakeApiKeyRepo) List(ctx context.Context) ([]domain.ApiKey, error)   { return nil, nil }

func TestAPIKeyMechanismSkipsWithoutPrefix(t *testing.T) {
	m := NewAPIKeyMechanism(fakeApiKeyRepo{byHash: map[string]domain.ApiKey{}})
	r := httptest.NewRequest(http.MethodGet, "/demo/things", nil)
	r.Header.Set("Authorization", "Bearer someOtherToken")

	res, err := m.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.(Skip); !ok {
		t.Fatalf("expected Skip for non-aussie_ token, got %#v", res)
	}
}

func TestAPIKeyMechanismAuthenticatesValidKey(t *testing.T) {
	plaintext := "aussie_TESTKEY"
	hash := domain.HashKey(plaintext)
	repo := fakeApiKeyRepo{byHash: map[string]domain.ApiKey{
		hash: {ID: "key1", KeyHash: hash, Name: "test-key", Permissions: []string{"things:read"}},
	}}
	m := NewAPIKeyMechanism(repo)

	r := httptest.NewRequest(http.MethodGet, "/demo/things", nil)
	r.Header.Set("Authorization", "Bearer "+plaintext)

	res, err := m.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	auth, ok := res.(Authenticated)
	if !ok {
		t.Fatalf("expected Authenticated, got %#v", res)
	}
	if auth.Identity.Name != "test-key" {
		t.Fatalf("unexpected identity: %#v", auth.Identity)
	}
}

func TestAPIKeyMechanismFailsRevokedKey(t *testing.T) {
	plaintext := "aussie_REVOKED"
	hash := domain.HashKey(plaintext)
	repo := fakeApiKeyRepo{byHash: map[string]domain.ApiKey{
		hash: {ID: "key2", KeyHash: hash, Name: "revoked-key", Revoked: true},
	}}
	m := NewAPIKeyMechanism(repo)

	r := httptest.NewRequest(http.MethodGet, "/demo/things", nil)
	r.Header.Set("Authorization", "Bearer "+plaintext)

	res, err := m.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.(Failed); !ok {
		t.Fatalf("expected Failed for revoked key, got %#v", res)
	}
}

type fakeSessionStore struct {
	sessions map[string]domain.Session
}

func (f fakeSessionStore) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	if s, ok := f.sessions[id]; ok {
		return &s, nil
	}
	return nil, nil
}
func (f fakeSessionStore) Touch(ctx context.Context, s domain.Session, now time.Time) (domain.Session, error) {
	s.LastAccessedAt = now
	return s, nil
}

type fakeCookieDecoder struct {
	id string
	ok bool
}

func (f fakeCookieDecoder) Decode(r *http.Request) (string, bool) { return f.id, f.ok }

func TestSessionMechanismSkipsOnMissingCookie(t *testing.T) {
	m := NewSessionMechanism(fakeCookieDecoder{ok: false}, fakeSessionStore{}, time.Hour)
	r := httptest.NewRequest(http.MethodGet, "/demo/things", nil)

	res, err := m.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.(Skip); !ok {
		t.Fatalf("expected Skip, got %#v", res)
	}
}

func TestSessionMechanismAuthenticatesValidSession(t *testing.T) {
	now := time.Now()
	store := fakeSessionStore{sessions: map[string]domain.Session{
		"sess1": {ID: "sess1", UserID: "user-1", Permissions: []string{"things:read"}, ExpiresAt: now.Add(time.Hour), LastAccessedAt: now},
	}}
	m := NewSessionMechanism(fakeCookieDecoder{id: "sess1", ok: true}, store, time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/demo/things", nil)
	res, err := m.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	auth, ok := res.(Authenticated)
	if !ok {
		t.Fatalf("expected Authenticated, got %#v", res)
	}
	if auth.Identity.ID != "user-1" {
		t.Fatalf("unexpected identity: %#v", auth.Identity)
	}
}

func TestSessionMechanismSkipsExpiredSession(t *testing.T) {
	now := time.Now()
	store := fakeSessionStore{sessions: map[string]domain.Session{
		"sess1": {ID: "sess1", UserID: "user-1", ExpiresAt: now.Add(-time.Hour), LastAccessedAt: now.Add(-2 * time.Hour)},
	}}
	m := NewSessionMechanism(fakeCookieDecoder{id: "sess1", ok: true}, store, time.Hour)

	r := httptest.NewRequest(http.MethodGet, "/demo/things", nil)
	res, err := m.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.(Skip); !ok {
		t.Fatalf("expected Skip for expired session, got %#v", res)
	}
}

func TestChainReturnsFirstNonSkip(t *testing.T) {
	plaintext := "aussie_TESTKEY"
	hash := domain.HashKey(plaintext)
	repo := fakeApiKeyRepo{byHash: map[string]domain.ApiKey{
		hash: {ID: "key1", KeyHash: hash, Name: "test-key"},
	}}
	apiKeyMech := NewAPIKeyMechanism(repo)
	sessionMech := NewSessionMechanism(fakeCookieDecoder{ok: false}, fakeSessionStore{}, time.Hour)
	chain := NewChain(apiKeyMech, sessionMech)

	r := httptest.NewRequest(http.MethodGet, "/demo/things", nil)
	r.Header.Set("Authorization", "Bearer "+plaintext)

	res, name := chain.Authenticate(context.Background(), r)
	if name != "apikey" {
		t.Fatalf("expected apikey mechanism to win, got %q", name)
	}
	if _, ok := res.(Authenticated); !ok {
		t.Fatalf("expected Authenticated, got %#v", res)
	}
}

func TestChainAllSkipYieldsSkip(t *testing.T) {
	apiKeyMech := NewAPIKeyMechanism(fakeApiKeyRepo{byHash: map[string]domain.ApiKey{}})
	sessionMech := NewSessionMechanism(fakeCookieDecoder{ok: false}, fakeSessionStore{}, time.Hour)
	chain := NewChain(apiKeyMech, sessionMech)

	r := httptest.NewRequest(http.MethodGet, "/demo/things", nil)
	res, _ := chain.Authenticate(context.Background(), r)
	if _, ok := res.(Skip); !ok {
		t.Fatalf("expected Skip when every mechanism skips, got %#v", res)
	}
}

func TestNoopMechanismRefusesInProduction(t *testing.T) {
	if _, err := NewNoopMechanism("production", nil); err == nil {
		t.Fatal("expected error constructing noop mechanism in production")
	}
	if _, err := NewNoopMechanism("development", nil); err != nil {
		t.Fatalf("expected no error in development, got %v", err)
	}
}
