package router

import (
	"errors"
	"strings"

	"github.com/fabian4/booking-gateway/internal/model"
)

// ErrNoMatch reports a path from which no service name can be derived.
var ErrNoMatch = errors.New("no route for path")

// Match is the result of splitting an inbound path.
type Match struct {
	Service   string
	Remainder string // always starts with "/"
}

// Matcher derives the service name from the first path segment under Prefix.
type Matcher struct {
	Prefix string // optional mount point, e.g. "/api"; no trailing slash
}

func NewMatcher(prefix string) Matcher {
	return Matcher{Prefix: strings.TrimRight(prefix, "/")}
}

// Match splits path, which should be the escaped form of the request path.
// Remainder keeps that escaping so encoded separators reach the upstream intact.
func (m Matcher) Match(path string) (Match, error) {
	if m.Prefix != "" {
		if !strings.HasPrefix(path, m.Prefix) {
			return Match{}, ErrNoMatch
		}
		path = path[len(m.Prefix):]
		// "/apix" must not match prefix "/api"
		if path != "" && path[0] != '/' {
			return Match{}, ErrNoMatch
		}
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return Match{}, ErrNoMatch
	}

	name, rest := path, ""
	if i := strings.IndexByte(path, '/'); i >= 0 {
		name, rest = path[:i], path[i:]
	}
	if !model.ValidName(name) {
		return Match{}, ErrNoMatch
	}
	if rest == "" {
		rest = "/"
	}
	return Match{Service: name, Remainder: rest}, nil
}
