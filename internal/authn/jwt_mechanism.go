package authn

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// ClaimTranslator maps a validated JWT's claim set to a domain.Identity,
// letting each issuer define its own roles/permissions claim shape
// (spec.md §4.6 "optionally translate claims").
type ClaimTranslator func(issuer string, claims jwt.MapClaims) domain.Identity

// JWTMechanism is priority-3 in the chain: it only considers bearer tokens
// that do NOT carry the "aussie_" API-key prefix, and dispatches to
// whichever configured issuer's JWKSValidator matches the token's "iss"
// claim, generalizing the teacher's single-issuer mw.JWKSValidator to
// spec.md §4.3's multi-issuer requirement.
type JWTMechanism struct {
	validators map[string]*JWKSValidator // keyed by issuer
	translate  ClaimTranslator
}

func NewJWTMechanism(validators map[string]*JWKSValidator, translate ClaimTranslator) *JWTMechanism {
	if translate == nil {
		translate = DefaultClaimTranslator
	}
	return &JWTMechanism{validators: validators, translate: translate}
}

func (m *JWTMechanism) Name() string { return "jwt" }

func (m *JWTMechanism) Authenticate(ctx context.Context, r *http.Request) (Result, error) {
	tokenStr, ok := bearerToken(r)
	if !ok || strings.HasPrefix(tokenStr, apiKeyPrefix) {
		return Skip{}, nil
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return Failed{Reason: "malformed jwt"}, nil
	}
	claims, _ := unverified.Claims.(jwt.MapClaims)
	iss, _ := claims["iss"].(string)
	if iss == "" {
		return Failed{Reason: "jwt missing iss"}, nil
	}

	validator, ok := m.validators[iss]
	if !ok {
		return Failed{Reason: "unknown jwt issuer"}, nil
	}

	verified, err := validator.Validate(ctx, tokenStr)
	if err != nil {
		return Failed{Reason: err.Error()}, nil
	}

	identity := m.translate(iss, verified)
	return Authenticated{Identity: identity}, nil
}

// DefaultClaimTranslator builds an Identity straight from standard claims
// when an issuer has no custom translation: sub -> id, an optional "name"
// claim, "roles"/"permissions" array claims if present.
func DefaultClaimTranslator(issuer string, claims jwt.MapClaims) domain.Identity {
	id, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	if name == "" {
		name = id
	}
	return domain.Identity{
		ID:          id,
		Name:        name,
		Roles:       stringSliceClaim(claims["roles"]),
		Permissions: stringSliceClaim(claims["permissions"]),
		Attributes: map[string]any{
			"issuer": issuer,
			"claims": map[string]any(claims),
		},
	}
}

func stringSliceClaim(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	if tok == "" {
		return "", false
	}
	return tok, true
}
