package authn

import (
	"context"
	"net/http"
)

// Mechanism resolves a principal from one kind of credential on the
// request. It never blocks past ctx's deadline.
type Mechanism interface {
	// Name identifies the mechanism for logging/metrics (e.g. "apikey").
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (Result, error)
}

// Chain runs Mechanisms in priority order (index 0 = earliest) and returns
// the first non-Skip result, per spec.md §4.3. An error from a mechanism
// (e.g. a JWKS fetch failure) is itself surfaced as a Failed result rather
// than propagated, so callers only ever branch on Result's three variants.
type Chain struct {
	mechanisms []Mechanism
}

func NewChain(mechanisms ...Mechanism) *Chain {
	return &Chain{mechanisms: mechanisms}
}

// Authenticate tries each mechanism in order, returning the first non-Skip
// outcome, or Skip if every mechanism skipped (the request is anonymous).
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) (Result, string) {
	for _, m := range c.mechanisms {
		res, err := m.Authenticate(ctx, r)
		if err != nil {
			return Failed{Reason: err.Error()}, m.Name()
		}
		switch res.(type) {
		case Skip:
			continue
		default:
			return res, m.Name()
		}
	}
	return Skip{}, ""
}
