// Package pipeline orchestrates the gateway's per-request filter chain as
// a single ordered []Stage list, replacing the teacher's manually nested
// http.Handler wrapping (cmd/gateway/main.go's fn := mw.A(mw.B(mw.C(h)))
// composition) with one explicit list and short-circuit Abort semantics
// (spec.md §4.9, a REDESIGN FLAGS item).
package pipeline

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/authz"
	"github.com/aussie-gateway/aussie/internal/domain"
)

// RequestState threads request-scoped facts accumulated by earlier stages
// to later ones, avoiding context.Value's loss of type safety for the hot
// path (source identifier, route match, identity).
type RequestState struct {
	Source   authz.SourceIdentifier
	Route    domain.RouteLookupResult
	Identity *domain.Identity
	// AuthMechanism names which authn.Mechanism produced Identity, or "".
	AuthMechanism string
	// CredentialIdentifier is the auth-rate-limit stage's non-reversible
	// hash of whatever credential the request presented, threaded to the
	// authentication stage so it can report success/failure back.
	CredentialIdentifier string
}

// Outcome is a stage's verdict: either let the chain continue, or abort
// (the stage has already written the full response).
type Outcome struct {
	Abort bool
}

// Continue lets the pipeline proceed to the next stage.
func Continue() Outcome { return Outcome{} }

// Abort short-circuits the pipeline: subsequent stages are skipped, but
// response filters still run (spec.md §5 "Ordering guarantees").
func Abort() Outcome { return Outcome{Abort: true} }

// Stage is one filter in the ordered chain.
type Stage interface {
	Name() string
	Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome
}

// ResponseFilter runs after every stage has run (aborted or not), for
// header injection (rate-limit headers, lockout headers) that must appear
// on both successful and rejected responses.
type ResponseFilter interface {
	Apply(w http.ResponseWriter, r *http.Request, state *RequestState)
}

// StageFunc adapts a function to Stage.
type StageFunc struct {
	StageName string
	Fn        func(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome
}

func (f StageFunc) Name() string { return f.StageName }
func (f StageFunc) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	return f.Fn(w, r, state)
}

// ResponseFilterFunc adapts a function to ResponseFilter.
type ResponseFilterFunc func(w http.ResponseWriter, r *http.Request, state *RequestState)

func (f ResponseFilterFunc) Apply(w http.ResponseWriter, r *http.Request, state *RequestState) {
	f(w, r, state)
}

// Pipeline is the fixed, ordered filter chain built once at the
// composition root. Stage order for this gateway (spec.md §4.9):
// size-validation -> auth-rate-limit -> rate-limit -> route-resolution ->
// access-control -> authentication -> authorization -> proxy dispatch.
type Pipeline struct {
	stages          []Stage
	responseFilters []ResponseFilter
}

// New builds a Pipeline from stages, run in order, plus responseFilters,
// always run after the stage chain (whether it completed or aborted).
func New(stages []Stage, responseFilters []ResponseFilter) *Pipeline {
	return &Pipeline{stages: stages, responseFilters: responseFilters}
}

// ServeHTTP implements http.Handler: runs every stage until one aborts or
// the chain completes, then runs every response filter unconditionally.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := &RequestState{}
	for _, stage := range p.stages {
		if stage.Handle(w, r, state).Abort {
			break
		}
	}
	for _, f := range p.responseFilters {
		f.Apply(w, r, state)
	}
}
