package authn

import (
	"context"
	"sync"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// MemoryApiKeyRepository is an in-process ApiKeyRepository reference
// implementation, grounded on the registry package's
// MemoryServiceRepository (map + sync.RWMutex, no persistence).
type MemoryApiKeyRepository struct {
	mu   sync.RWMutex
	keys map[string]domain.ApiKey // keyed by KeyHash
}

func NewMemoryApiKeyRepository() *MemoryApiKeyRepository {
	return &MemoryApiKeyRepository{keys: map[string]domain.ApiKey{}}
}

func (m *MemoryApiKeyRepository) FindByHash(ctx context.Context, keyHash string) (*domain.ApiKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[keyHash]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (m *MemoryApiKeyRepository) Create(ctx context.Context, key domain.ApiKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.KeyHash] = key
	return nil
}

func (m *MemoryApiKeyRepository) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, k := range m.keys {
		if k.ID == id {
			k.Revoked = true
			m.keys[hash] = k
			return nil
		}
	}
	return nil
}

func (m *MemoryApiKeyRepository) List(ctx context.Context) ([]domain.ApiKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ApiKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}
