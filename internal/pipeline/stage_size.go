package pipeline

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/proxy"
)

// SizeValidationStage rejects oversized bodies/headers before any other
// work happens (spec.md §5's priority -100, first in the chain).
type SizeValidationStage struct {
	Limits proxy.SizeLimits
}

func (s SizeValidationStage) Name() string { return "size-validation" }

func (s SizeValidationStage) Handle(w http.ResponseWriter, r *http.Request, state *RequestState) Outcome {
	if !proxy.CheckSize(w, r, s.Limits) {
		return Abort()
	}
	return Continue()
}
