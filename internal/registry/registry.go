// Package registry maintains the authoritative in-memory catalog of
// registered backend services and resolves incoming request paths to
// routes. It generalizes the teacher's internal/proxy/router.go (a static
// longest-prefix matcher over a fixed route list) into a dynamically
// registered, pattern-matching, copy-on-write snapshot, per spec.md §4.1.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// compiledEndpoint pairs an EndpointConfig with its compiled path pattern.
type compiledEndpoint struct {
	serviceID string
	service   *domain.ServiceRegistration
	endpoint  *domain.EndpointConfig
	pattern   *domain.Pattern
}

// snapshot is the immutable, atomically-swapped view readers observe.
type snapshot struct {
	services map[string]*domain.ServiceRegistration
	// perService holds each service's compiled endpoints, pre-sorted by
	// specificity (most specific first).
	perService map[string][]compiledEndpoint
	// gatewayUnion holds every registered endpoint across all services,
	// for "/gateway/<path>" cross-service matching, pre-sorted.
	gatewayUnion []compiledEndpoint
}

// Registry is the service catalog. Reads are wait-free: they dereference
// an atomic pointer to an immutable snapshot. Writers build a new snapshot
// and swap the pointer.
type Registry struct {
	snap atomic.Pointer[snapshot]
	repo domain.ServiceRepository
}

// New constructs an empty Registry backed by repo. If repo is non-nil,
// Load should be called once at startup to seed the snapshot from it.
func New(repo domain.ServiceRepository) *Registry {
	r := &Registry{repo: repo}
	r.snap.Store(&snapshot{
		services:   map[string]*domain.ServiceRegistration{},
		perService: map[string][]compiledEndpoint{},
	})
	return r
}

// Load seeds the registry from the repository at startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	regs, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: load from repository: %w", err)
	}
	for i := range regs {
		if _, err := r.register(ctx, regs[i], false); err != nil {
			return err
		}
	}
	return nil
}

// Register atomically replaces any prior registration for the same id,
// validates it, writes through the repository, and publishes an
// invalidation event (spec.md §4.1). Returns the committed version.
func (r *Registry) Register(ctx context.Context, reg domain.ServiceRegistration) (int64, error) {
	return r.register(ctx, reg, true)
}

func (r *Registry) register(ctx context.Context, reg domain.ServiceRegistration, writeThrough bool) (int64, error) {
	if err := reg.Validate(); err != nil {
		return 0, err
	}

	cur := r.snap.Load()
	if existing, ok := cur.services[reg.ServiceID]; ok && reg.Version <= existing.Version {
		reg.Version = existing.Version + 1
	}

	if writeThrough && r.repo != nil {
		if err := r.repo.Upsert(ctx, reg); err != nil {
			// Invariant: persisted and live views agree at commit time —
			// do not update the in-memory snapshot on a write failure.
			return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}

	next := cloneSnapshot(cur)
	copyReg := reg
	next.services[reg.ServiceID] = &copyReg
	rebuildServiceIndex(next, &copyReg)
	rebuildGatewayUnion(next)
	r.snap.Store(next)
	return copyReg.Version, nil
}

// Unregister removes a service registration, reporting whether it existed.
func (r *Registry) Unregister(ctx context.Context, serviceID string) (bool, error) {
	cur := r.snap.Load()
	if _, ok := cur.services[serviceID]; !ok {
		return false, nil
	}

	if r.repo != nil {
		if _, err := r.repo.Delete(ctx, serviceID); err != nil {
			return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}

	next := cloneSnapshot(cur)
	delete(next.services, serviceID)
	delete(next.perService, serviceID)
	rebuildGatewayUnion(next)
	r.snap.Store(next)
	return true, nil
}

// GetService returns the most recently registered ServiceRegistration for
// serviceID, or nil if none exists (O(1) map lookup).
func (r *Registry) GetService(serviceID string) *domain.ServiceRegistration {
	return r.snap.Load().services[serviceID]
}

// Services returns a snapshot of every currently registered service, for
// the admin control-plane's route listing.
func (r *Registry) Services() []domain.ServiceRegistration {
	cur := r.snap.Load()
	out := make([]domain.ServiceRegistration, 0, len(cur.services))
	for _, svc := range cur.services {
		out = append(out, *svc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// OnInvalidate swaps in a fresh snapshot built from a peer-published
// invalidation event: it re-reads the named service (or all services, if
// serviceID is "") from the repository.
func (r *Registry) OnInvalidate(ctx context.Context, serviceID string) error {
	if r.repo == nil {
		return nil
	}
	if serviceID == "" {
		regs, err := r.repo.List(ctx)
		if err != nil {
			return err
		}
		next := &snapshot{
			services:   map[string]*domain.ServiceRegistration{},
			perService: map[string][]compiledEndpoint{},
		}
		for i := range regs {
			copyReg := regs[i]
			next.services[copyReg.ServiceID] = &copyReg
			rebuildServiceIndex(next, &copyReg)
		}
		rebuildGatewayUnion(next)
		r.snap.Store(next)
		return nil
	}

	regs, err := r.repo.List(ctx)
	if err != nil {
		return err
	}
	var found *domain.ServiceRegistration
	for i := range regs {
		if regs[i].ServiceID == serviceID {
			found = &regs[i]
			break
		}
	}
	cur := r.snap.Load()
	next := cloneSnapshot(cur)
	if found == nil {
		delete(next.services, serviceID)
		delete(next.perService, serviceID)
	} else {
		next.services[serviceID] = found
		rebuildServiceIndex(next, found)
	}
	rebuildGatewayUnion(next)
	r.snap.Store(next)
	return nil
}

func cloneSnapshot(cur *snapshot) *snapshot {
	next := &snapshot{
		services:   make(map[string]*domain.ServiceRegistration, len(cur.services)),
		perService: make(map[string][]compiledEndpoint, len(cur.perService)),
	}
	for k, v := range cur.services {
		next.services[k] = v
	}
	for k, v := range cur.perService {
		next.perService[k] = v
	}
	return next
}

func rebuildServiceIndex(s *snapshot, reg *domain.ServiceRegistration) {
	compiled := make([]compiledEndpoint, 0, len(reg.Endpoints))
	for i := range reg.Endpoints {
		ep := &reg.Endpoints[i]
		pat, err := domain.CompilePattern(ep.Path)
		if err != nil {
			continue // Validate() already rejected unparsable patterns at register time
		}
		compiled = append(compiled, compiledEndpoint{
			serviceID: reg.ServiceID,
			service:   reg,
			endpoint:  ep,
			pattern:   pat,
		})
	}
	sortBySpecificity(compiled)
	s.perService[reg.ServiceID] = compiled
}

func rebuildGatewayUnion(s *snapshot) {
	union := make([]compiledEndpoint, 0)
	for _, ces := range s.perService {
		union = append(union, ces...)
	}
	sortBySpecificity(union)
	s.gatewayUnion = union
}

func sortBySpecificity(ces []compiledEndpoint) {
	sort.SliceStable(ces, func(i, j int) bool {
		return ces[i].pattern.Specificity() > ces[j].pattern.Specificity()
	})
}

// ErrReservedPrefix is returned when a path's first segment is one of the
// reserved gateway surfaces (admin/gateway/q), which FindRoute never
// resolves to a service.
var ErrReservedPrefix = errors.New("registry: reserved first path segment")

// FindRoute resolves requestPath+method to a RouteLookupResult, per
// spec.md §4.1. The first path segment is treated as the serviceId, unless
// it is "gateway" (cross-service union matching) or another reserved
// surface (admin/q), which this function never routes to a service.
func (r *Registry) FindRoute(requestPath, method string) (domain.RouteLookupResult, error) {
	trimmed := strings.TrimPrefix(requestPath, "/")
	firstSlash := strings.IndexByte(trimmed, '/')
	var first, rest string
	if firstSlash < 0 {
		first = trimmed
	} else {
		first = trimmed[:firstSlash]
		rest = trimmed[firstSlash+1:]
	}

	if _, reserved := domain.ReservedServiceIDs[strings.ToLower(first)]; reserved {
		if strings.EqualFold(first, "gateway") {
			return r.matchGatewayUnion("/"+rest, method)
		}
		return nil, ErrReservedPrefix
	}

	cur := r.snap.Load()
	svc, ok := cur.services[first]
	if !ok {
		return nil, nil
	}

	for _, ce := range cur.perService[first] {
		if vars, ok := ce.pattern.Match("/" + rest); ok {
			if !domain.MethodMatches(ce.endpoint.Methods, method) {
				continue
			}
			return domain.RouteMatch{
				Service:       svc,
				Endpoint:      ce.endpoint,
				TargetPath:    resolveTargetPath(ce.endpoint, "/"+rest),
				PathVariables: vars,
			}, nil
		}
	}
	return domain.ServiceOnlyMatch{Service: svc, TargetPath: "/" + rest}, nil
}

func (r *Registry) matchGatewayUnion(path, method string) (domain.RouteLookupResult, error) {
	cur := r.snap.Load()
	for _, ce := range cur.gatewayUnion {
		if vars, ok := ce.pattern.Match(path); ok {
			if !domain.MethodMatches(ce.endpoint.Methods, method) {
				continue
			}
			return domain.RouteMatch{
				Service:       ce.service,
				Endpoint:      ce.endpoint,
				TargetPath:    resolveTargetPath(ce.endpoint, path),
				PathVariables: vars,
			}, nil
		}
	}
	return nil, nil
}

func resolveTargetPath(ep *domain.EndpointConfig, matchedPath string) string {
	if ep.PathRewrite != "" {
		return ep.PathRewrite
	}
	return matchedPath
}
