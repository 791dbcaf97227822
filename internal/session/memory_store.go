package session

import (
	"context"
	"sync"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// MemorySessionStore is an in-process domain.SessionRepository, the default
// single-instance backend (spec.md §4.7's "memory" session backend).
type MemorySessionStore struct {
	mu       sync.Mutex
	byID     map[string]domain.Session
	byUserID map[string]map[string]struct{}
}

// NewMemorySessionStore constructs an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		byID:     make(map[string]domain.Session),
		byUserID: make(map[string]map[string]struct{}),
	}
}

func (s *MemorySessionStore) SaveIfAbsent(_ context.Context, sess domain.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[sess.ID]; exists {
		return false, nil
	}
	s.byID[sess.ID] = sess
	s.indexUser(sess.UserID, sess.ID)
	return true, nil
}

func (s *MemorySessionStore) FindByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *MemorySessionStore) Update(_ context.Context, sess domain.Session) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sess.ID] = sess
	s.indexUser(sess.UserID, sess.ID)
	return sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	if ids := s.byUserID[sess.UserID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byUserID, sess.UserID)
		}
	}
	return nil
}

func (s *MemorySessionStore) DeleteByUserID(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.byUserID[userID] {
		delete(s.byID, id)
	}
	delete(s.byUserID, userID)
	return nil
}

func (s *MemorySessionStore) indexUser(userID, id string) {
	ids, ok := s.byUserID[userID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUserID[userID] = ids
	}
	ids[id] = struct{}{}
}

// PurgeExpired removes sessions whose expiresAt has elapsed and reports how
// many it removed. The store never calls it on its own, and cmd/gateway does
// not schedule it; expired sessions stay in memory until a caller runs it.
func (s *MemorySessionStore) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.byID {
		if now.After(sess.ExpiresAt) {
			delete(s.byID, id)
			if ids := s.byUserID[sess.UserID]; ids != nil {
				delete(ids, id)
				if len(ids) == 0 {
					delete(s.byUserID, sess.UserID)
				}
			}
			removed++
		}
	}
	return removed
}
