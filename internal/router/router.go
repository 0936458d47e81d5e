package router

import (
	"errors"
	"net/url"
	"sort"

	"github.com/fabian4/booking-gateway/internal/model"
)

// ErrNotFound reports a service name that is absent from the table.
var ErrNotFound = errors.New("service not found")

// Table maps logical service names to upstream services. It is built once and
// never mutated, so concurrent lookups need no locking.
type Table struct {
	byName map[string]model.Service
	names  []string // sorted
}

func New(svcs []model.Service) *Table {
	t := &Table{byName: make(map[string]model.Service, len(svcs))}
	for _, s := range svcs {
		if _, dup := t.byName[s.Name]; dup {
			continue // first wins; the loader rejects duplicates
		}
		t.byName[s.Name] = s
		t.names = append(t.names, s.Name)
	}
	sort.Strings(t.names)
	return t
}

// Resolve returns a copy of the base URL registered for name.
func (t *Table) Resolve(name string) (*url.URL, error) {
	s, err := t.Lookup(name)
	if err != nil {
		return nil, err
	}
	return s.BaseURL, nil
}

// Lookup returns the service entry for name with its own copy of BaseURL.
func (t *Table) Lookup(name string) (model.Service, error) {
	s, ok := t.byName[name]
	if !ok || s.BaseURL == nil {
		return model.Service{}, ErrNotFound
	}
	u := *s.BaseURL
	s.BaseURL = &u
	return s, nil
}

// Service returns the full service entry for name.
func (t *Table) Service(name string) (model.Service, bool) {
	s, ok := t.byName[name]
	return s, ok
}

func (t *Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

func (t *Table) Len() int { return len(t.names) }
