package model

import "net/url"

// Service is one backend the gateway dispatches to, keyed by its logical name.
type Service struct {
	Name      string
	BaseURL   *url.URL   // absolute http(s), normalized
	Proto     string     // "http1" | "auto"
	RateLimit *RateLimit // optional
}

// RateLimit is a per-service token bucket.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// ValidName reports whether s can be used as a service name: one path segment
// of [A-Za-z0-9._-], excluding "." and "..".
func ValidName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
