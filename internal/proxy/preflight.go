package proxy

import (
	"net/http"

	"github.com/aussie-gateway/aussie/internal/problem"
)

// SizeLimits mirrors config.LimitsConfig, kept as a plain struct here so
// this package does not import internal/config.
type SizeLimits struct {
	MaxBodySize         int64
	MaxHeaderSize       int
	MaxTotalHeadersSize int
}

// CheckSize runs the size-validation preflight (spec.md §4.5/§6): rejects
// requests whose declared Content-Length or cumulative header size exceeds
// the configured limits, before any proxying work begins. Returns true if
// the request passed and the handler chain should continue; on failure it
// has already written the RFC 7807 response.
func CheckSize(w http.ResponseWriter, r *http.Request, limits SizeLimits) bool {
	if limits.MaxBodySize > 0 && r.ContentLength > limits.MaxBodySize {
		problem.Write(w, problem.New(problem.TypePayloadTooLarge, http.StatusRequestEntityTooLarge,
			"Payload Too Large", "request body exceeds the configured limit", nil))
		return false
	}
	if limits.MaxHeaderSize > 0 {
		for name, values := range r.Header {
			for _, v := range values {
				if len(name)+len(v) > limits.MaxHeaderSize {
					writeHeaderTooLarge(w)
					return false
				}
			}
		}
	}
	if limits.MaxTotalHeadersSize > 0 {
		total := 0
		for name, values := range r.Header {
			for _, v := range values {
				total += len(name) + len(v)
			}
		}
		if total > limits.MaxTotalHeadersSize {
			writeHeaderTooLarge(w)
			return false
		}
	}
	if limits.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBodySize)
	}
	return true
}

func writeHeaderTooLarge(w http.ResponseWriter) {
	problem.Write(w, problem.New(problem.TypeHeaderFieldsTooLarge, http.StatusRequestHeaderFieldsTooLarge,
		"Request Header Fields Too Large", "header size exceeds the configured limit", nil))
}
