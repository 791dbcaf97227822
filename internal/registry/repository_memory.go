package registry

import (
	"context"
	"sync"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// MemoryServiceRepository is an in-process ServiceRepository reference
// implementation, used when no distributed store is configured. Peer-
// instance invalidation has no effect since there are no peers.
type MemoryServiceRepository struct {
	mu        sync.RWMutex
	services  map[string]domain.ServiceRegistration
	listeners []func(serviceID string)
}

// NewMemoryServiceRepository constructs an empty repository.
func NewMemoryServiceRepository() *MemoryServiceRepository {
	return &MemoryServiceRepository{services: map[string]domain.ServiceRegistration{}}
}

func (m *MemoryServiceRepository) List(ctx context.Context) ([]domain.ServiceRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ServiceRegistration, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryServiceRepository) Upsert(ctx context.Context, reg domain.ServiceRegistration) error {
	m.mu.Lock()
	m.services[reg.ServiceID] = reg
	listeners := append([]func(string){}, m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(reg.ServiceID)
	}
	return nil
}

func (m *MemoryServiceRepository) Delete(ctx context.Context, serviceID string) (bool, error) {
	m.mu.Lock()
	_, existed := m.services[serviceID]
	delete(m.services, serviceID)
	listeners := append([]func(string){}, m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(serviceID)
	}
	return existed, nil
}

func (m *MemoryServiceRepository) Subscribe(ctx context.Context, onInvalidate func(serviceID string)) (func(), error) {
	m.mu.Lock()
	m.listeners = append(m.listeners, onInvalidate)
	idx := len(m.listeners) - 1
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = func(string) {}
		}
	}
	return unsubscribe, nil
}
