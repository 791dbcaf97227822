package authn

import "time"

// JWKSStats reports one issuer's validator cache state, kept in the same
// shape as the teacher's internal/mw.JWKSStats.
type JWKSStats struct {
	URL       string    `json:"url"`
	KeyCount  int       `json:"key_count"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (j *JWKSValidator) Stats() JWKSStats {
	if j == nil {
		return JWKSStats{}
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JWKSStats{
		URL:       j.url,
		KeyCount:  len(j.keys),
		FetchedAt: j.fetchedAt,
	}
}

// Stats reports per-issuer JWKS cache state, generalizing JWKSStats to the
// multi-issuer case for the admin /-/auth surface.
func (m *JWTMechanism) Stats() map[string]any {
	out := make(map[string]any, len(m.validators))
	for issuer, v := range m.validators {
		out[issuer] = v.Stats()
	}
	return map[string]any{"mode": "jwt", "issuers": out}
}
