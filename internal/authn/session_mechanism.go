package authn

import (
	"context"
	"net/http"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// CookieDecoder extracts and verifies the session id carried in the
// gateway's session cookie (secure-cookie signed, per internal/session),
// returning ok=false when the cookie is absent or fails verification.
type CookieDecoder interface {
	Decode(r *http.Request) (sessionID string, ok bool)
}

// SessionStore is the narrow slice of session persistence the mechanism
// needs: a lookup and a sliding-expiration refresh. internal/session's
// Manager implements this, kept as a consumer-defined interface here so
// authn never imports internal/session directly.
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	Touch(ctx context.Context, s domain.Session, now time.Time) (domain.Session, error)
}

// SessionMechanism is priority-2 in the chain: a missing or invalid cookie
// is Skip (not Failed), per spec.md §4.3, since an absent session cookie is
// the normal case for API-key/JWT callers.
type SessionMechanism struct {
	decoder     CookieDecoder
	store       SessionStore
	idleTimeout time.Duration
	now         func() time.Time
}

func NewSessionMechanism(decoder CookieDecoder, store SessionStore, idleTimeout time.Duration) *SessionMechanism {
	return &SessionMechanism{decoder: decoder, store: store, idleTimeout: idleTimeout, now: time.Now}
}

func (m *SessionMechanism) Name() string { return "session" }

func (m *SessionMechanism) Authenticate(ctx context.Context, r *http.Request) (Result, error) {
	sessionID, ok := m.decoder.Decode(r)
	if !ok {
		return Skip{}, nil
	}

	sess, err := m.store.FindByID(ctx, sessionID)
	if err != nil || sess == nil {
		return Skip{}, nil
	}
	now := m.now()
	if !sess.IsValid(now, m.idleTimeout) {
		return Skip{}, nil
	}

	refreshed, err := m.store.Touch(ctx, *sess, now)
	if err != nil {
		refreshed = *sess
	}

	roles := domain.ExpandRoles(refreshed.Permissions)
	return Authenticated{Identity: domain.Identity{
		ID:          refreshed.UserID,
		Name:        refreshed.UserID,
		Roles:       roles,
		Permissions: refreshed.Permissions,
		Attributes: map[string]any{
			"sessionId": refreshed.ID,
			"claims":    refreshed.Claims,
			"expiresAt": refreshed.ExpiresAt,
		},
	}}, nil
}
