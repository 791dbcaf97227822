// Package problem renders RFC 7807 application/problem+json bodies. It
// unifies the ad hoc map[string]any JSON bodies the teacher's middlewares
// (mw.RateLimit, mw.CircuitBreak, mw.ConcurrencyLimit, mw.RequireAdminKey)
// each wrote independently into one shared encoder (spec.md §7).
package problem

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Type is one of the error taxonomy entries from spec.md §7.
type Type string

const (
	TypeBadRequest          Type = "bad_request"
	TypeConflictingAuth     Type = "conflicting_authentication"
	TypeUnauthorized        Type = "unauthorized"
	TypeForbidden           Type = "forbidden"
	TypeNotFound            Type = "not_found"
	TypePayloadTooLarge     Type = "payload_too_large"
	TypeHeaderFieldsTooLarge Type = "header_fields_too_large"
	TypeTooManyRequests     Type = "too_many_requests"
	TypeBadGateway          Type = "bad_gateway"
	TypeGatewayTimeout      Type = "gateway_timeout"
	TypeStoreUnavailable    Type = "store_unavailable"
	TypeServiceUnavailable  Type = "service_unavailable"
)

const baseURI = "https://aussie.gateway/problems/"

// Problem is the RFC 7807 body shape.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`

	// Extension members, flattened into the JSON body by MarshalJSON.
	Extensions map[string]any `json:"-"`
}

// MarshalJSON flattens Extensions alongside the standard members.
func (p Problem) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"type":   p.Type,
		"title":  p.Title,
		"status": p.Status,
	}
	if p.Detail != "" {
		m["detail"] = p.Detail
	}
	for k, v := range p.Extensions {
		m[k] = v
	}
	return json.Marshal(m)
}

// New builds a Problem for one of the taxonomy types.
func New(t Type, status int, title, detail string, ext map[string]any) Problem {
	return Problem{
		Type:       baseURI + string(t),
		Title:      title,
		Status:     status,
		Detail:     detail,
		Extensions: ext,
	}
}

// Write sets the problem+json content type, status code, and body.
func Write(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// BadRequest is a convenience constructor for the common 400 case.
func BadRequest(t Type, detail string) Problem {
	return New(t, http.StatusBadRequest, "Bad Request", detail, nil)
}

// Unauthorized is a convenience constructor for the common 401 case.
func Unauthorized(detail string) Problem {
	return New(TypeUnauthorized, http.StatusUnauthorized, "Unauthorized", detail, nil)
}

// Forbidden is a convenience constructor for the common 403 case.
func Forbidden(detail string) Problem {
	return New(TypeForbidden, http.StatusForbidden, "Forbidden", detail, nil)
}

// NotFound is a convenience constructor for the common 404 case.
func NotFound(detail string) Problem {
	return New(TypeNotFound, http.StatusNotFound, "Not Found", detail, nil)
}

// TooManyRequests builds a 429 with the Retry-After extension member and
// sets the matching HTTP header.
func TooManyRequests(w http.ResponseWriter, retryAfterSeconds int, ext map[string]any) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	p := New(TypeTooManyRequests, http.StatusTooManyRequests, "Too Many Requests", "", ext)
	Write(w, p)
}
