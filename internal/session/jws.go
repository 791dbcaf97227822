package session

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// TokenMinter issues short-lived RS256 JWS tokens for downstream services on
// each proxied request, so they need not consult the session store
// (spec.md §4.7).
type TokenMinter struct {
	issuer        string
	keyID         string
	key           *rsa.PrivateKey
	ttl           time.Duration
	maxTTL        time.Duration
	audience      string
	includeClaims map[string]bool
	now           func() time.Time
}

// MinterOptions configures a TokenMinter.
type MinterOptions struct {
	Issuer        string
	KeyID         string
	PrivateKeyPEM []byte
	TTL           time.Duration
	MaxTTL        time.Duration
	Audience      string
	IncludeClaims []string
}

// NewTokenMinter parses the PEM-encoded RSA private key and builds a minter.
func NewTokenMinter(opts MinterOptions) (*TokenMinter, error) {
	key, err := parseRSAPrivateKey(opts.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("session: parse signing key: %w", err)
	}
	include := make(map[string]bool, len(opts.IncludeClaims))
	for _, c := range opts.IncludeClaims {
		include[c] = true
	}
	return &TokenMinter{
		issuer:        opts.Issuer,
		keyID:         opts.KeyID,
		key:           key,
		ttl:           opts.TTL,
		maxTTL:        opts.MaxTTL,
		audience:      opts.Audience,
		includeClaims: include,
		now:           time.Now,
	}, nil
}

// Mint signs a JWS over sess's claims, clamping the TTL to the smaller of
// (configured TTL, incomingExpiry-now, global max TTL). incomingExpiry is
// the expiry of whatever credential authenticated the request (the
// session's own expiresAt, or an upstream JWT's exp); pass the zero Time
// when there is none to clamp against.
func (m *TokenMinter) Mint(sess domain.Session, incomingExpiry time.Time) (string, error) {
	now := m.now()
	ttl := m.ttl
	if !incomingExpiry.IsZero() {
		if remaining := incomingExpiry.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > m.maxTTL {
		ttl = m.maxTTL
	}
	if ttl <= 0 {
		return "", errors.New("session: clamped token ttl is non-positive")
	}

	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"iss": m.issuer,
		"sub": sess.UserID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": jti,
		"sid": sess.ID,
	}
	if m.audience != "" {
		claims["aud"] = m.audience
	}
	m.mergeIncluded(claims, sess)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = m.keyID
	return tok.SignedString(m.key)
}

func (m *TokenMinter) mergeIncluded(claims jwt.MapClaims, sess domain.Session) {
	if len(m.includeClaims) == 0 {
		return
	}
	if m.includeClaims["roles"] {
		claims["roles"] = domain.ExpandRoles(sess.Permissions)
	}
	if m.includeClaims["permissions"] {
		claims["permissions"] = sess.Permissions
	}
	for _, field := range []string{"email", "name"} {
		if m.includeClaims[field] {
			if v, ok := sess.Claims[field]; ok {
				claims[field] = v
			}
		}
	}
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("PEM block does not contain an RSA private key")
	}
	return key, nil
}
