// Package session implements session lifecycle management and downstream
// JWS token minting (spec.md §4.7): creation with collision retry, sliding
// expiration, invalidation with a subscriber registry, and per-request
// short-lived signed tokens for proxied requests.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// maxCreateRetries bounds how many times Create regenerates a session id
// after a saveIfAbsent collision before giving up.
const maxCreateRetries = 5

// InvalidationEvent is published by Manager whenever a session (or every
// session for a user) is removed, so collaborators such as the WebSocket
// bridge can drop dependent live connections.
type InvalidationEvent struct {
	SessionID string
	UserID    string
	All       bool // true when every session for UserID was invalidated
}

// Listener receives invalidation events synchronously, before the call that
// triggered them returns.
type Listener func(InvalidationEvent)

// Manager provides session management (create, touch, invalidate, subscribe)
// over a pluggable domain.SessionRepository.
type Manager struct {
	repo              domain.SessionRepository
	ttl               time.Duration
	idleTimeout       time.Duration
	slidingExpiration bool
	now               func() time.Time

	listeners []Listener
}

// New constructs a Manager. ttl and idleTimeout are the configured session
// lifetime and idle cutoff; slidingExpiration controls whether a successful
// validation advances expiresAt.
func New(repo domain.SessionRepository, ttl, idleTimeout time.Duration, slidingExpiration bool) *Manager {
	return &Manager{
		repo:              repo,
		ttl:               ttl,
		idleTimeout:       idleTimeout,
		slidingExpiration: slidingExpiration,
		now:               time.Now,
	}
}

// Subscribe registers a listener for invalidation events. Not safe for
// concurrent use with Create/Invalidate beyond Go's usual memory model —
// callers register listeners once at startup before serving traffic.
func (m *Manager) Subscribe(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Create mints a new session for userID, retrying on id collision.
func (m *Manager) Create(ctx context.Context, userID, issuer string, claims map[string]any, permissions []string, userAgent, ipAddress string) (domain.Session, error) {
	now := m.now()
	var lastErr error
	for attempt := 0; attempt < maxCreateRetries; attempt++ {
		id, err := newSessionID()
		if err != nil {
			return domain.Session{}, err
		}
		sess := domain.Session{
			ID:             id,
			UserID:         userID,
			Issuer:         issuer,
			Claims:         claims,
			Permissions:    permissions,
			CreatedAt:      now,
			ExpiresAt:      now.Add(m.ttl),
			LastAccessedAt: now,
			UserAgent:      userAgent,
			IPAddress:      ipAddress,
		}
		ok, err := m.repo.SaveIfAbsent(ctx, sess)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return sess, nil
		}
		// id collision: regenerate and retry.
	}
	if lastErr != nil {
		return domain.Session{}, fmt.Errorf("session: create failed after %d attempts: %w", maxCreateRetries, lastErr)
	}
	return domain.Session{}, fmt.Errorf("session: create failed after %d id collisions", maxCreateRetries)
}

// FindByID looks up a session without refreshing it.
func (m *Manager) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	return m.repo.FindByID(ctx, id)
}

// Touch records a successful validation: advances lastAccessedAt, and —
// when slidingExpiration is enabled — extends expiresAt to now+ttl.
func (m *Manager) Touch(ctx context.Context, s domain.Session, now time.Time) (domain.Session, error) {
	s.LastAccessedAt = now
	if m.slidingExpiration {
		s.ExpiresAt = now.Add(m.ttl)
	}
	return m.repo.Update(ctx, s)
}

// InvalidateSession removes a single session and notifies listeners.
func (m *Manager) InvalidateSession(ctx context.Context, id string) error {
	sess, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	userID := ""
	if sess != nil {
		userID = sess.UserID
	}
	m.publish(InvalidationEvent{SessionID: id, UserID: userID})
	return nil
}

// InvalidateAllUserSessions removes every session owned by userID and
// notifies listeners with All=true.
func (m *Manager) InvalidateAllUserSessions(ctx context.Context, userID string) error {
	if err := m.repo.DeleteByUserID(ctx, userID); err != nil {
		return err
	}
	m.publish(InvalidationEvent{UserID: userID, All: true})
	return nil
}

// IdleTimeout exposes the configured idle cutoff, used by authn's session
// mechanism to evaluate domain.Session.IsValid.
func (m *Manager) IdleTimeout() time.Duration { return m.idleTimeout }

func (m *Manager) publish(evt InvalidationEvent) {
	for _, l := range m.listeners {
		l(evt)
	}
}

// newSessionID generates a 256-bit URL-safe base64 session id (spec.md §3:
// 43 characters, no padding).
func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
