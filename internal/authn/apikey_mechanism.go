package authn

import (
	"context"
	"net/http"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
)

const apiKeyPrefix = "aussie_"

// APIKeyMechanism is priority-1 in the chain: a bearer token prefixed with
// "aussie_" is hashed and looked up via ApiKeyRepository (spec.md §4.3).
type APIKeyMechanism struct {
	repo domain.ApiKeyRepository
	now  func() time.Time
}

func NewAPIKeyMechanism(repo domain.ApiKeyRepository) *APIKeyMechanism {
	return &APIKeyMechanism{repo: repo, now: time.Now}
}

func (m *APIKeyMechanism) Name() string { return "apikey" }

func (m *APIKeyMechanism) Authenticate(ctx context.Context, r *http.Request) (Result, error) {
	tokenStr, ok := bearerToken(r)
	if !ok || len(tokenStr) <= len(apiKeyPrefix) || tokenStr[:len(apiKeyPrefix)] != apiKeyPrefix {
		return Skip{}, nil
	}

	hash := domain.HashKey(tokenStr)
	key, err := m.repo.FindByHash(ctx, hash)
	if err != nil {
		return Failed{Reason: "api key lookup failed"}, nil
	}
	if key == nil {
		return Failed{Reason: "api key not found"}, nil
	}
	if !key.MatchesPlaintext(tokenStr) {
		return Failed{Reason: "api key hash mismatch"}, nil
	}
	if !key.IsValid(m.now()) {
		return Failed{Reason: "api key revoked or expired"}, nil
	}

	roles := domain.ExpandRoles(key.Permissions)
	return Authenticated{Identity: domain.Identity{
		ID:          key.ID,
		Name:        key.Name,
		Roles:       roles,
		Permissions: key.Permissions,
		Attributes:  map[string]any{"keyId": key.ID},
	}}, nil
}
