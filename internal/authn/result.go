// Package authn resolves the request's principal via a priority-ordered
// chain of mechanisms (API key, session cookie, JWT), per spec.md §4.3.
package authn

import "github.com/aussie-gateway/aussie/internal/domain"

// Result is the tagged outcome of one mechanism's Authenticate call
// (REDESIGN FLAGS: sum type, no nulls — a mechanism that found nothing to
// check returns Skip, never a nil identity).
type Result interface {
	isAuthnResult()
}

// Authenticated means the mechanism built an identity from valid
// credentials it found on the request.
type Authenticated struct {
	Identity domain.Identity
}

// Skip means the mechanism found no credential of its kind on the request
// at all (e.g. no cookie, or a bearer token with the wrong prefix) — the
// chain proceeds to the next mechanism.
type Skip struct{}

// Failed means the mechanism found a credential of its kind but it did not
// validate (bad signature, revoked key, expired session). The chain stops:
// a malformed credential of one kind should not silently fall through to
// another mechanism.
type Failed struct {
	Reason string
}

func (Authenticated) isAuthnResult() {}
func (Skip) isAuthnResult()          {}
func (Failed) isAuthnResult()        {}
