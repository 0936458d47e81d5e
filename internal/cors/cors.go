// Package cors holds the gateway's fixed cross-origin policy. The header set
// is not computed per request: every response carries the same values.
package cors

import "net/http"

const (
	AllowOrigin  = "*"
	AllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	AllowHeaders = "Content-Type, Authorization"
)

// Apply sets the policy headers on h, replacing any existing values.
func Apply(h http.Header) {
	h.Set("Access-Control-Allow-Origin", AllowOrigin)
	h.Set("Access-Control-Allow-Methods", AllowMethods)
	h.Set("Access-Control-Allow-Headers", AllowHeaders)
}

// Preflight answers an OPTIONS request: 200, policy headers, empty body.
func Preflight(w http.ResponseWriter) {
	h := w.Header()
	Apply(h)
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}
