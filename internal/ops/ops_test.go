package ops

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fabian4/booking-gateway/internal/metrics"
)

func TestHealthz(t *testing.T) {
	h := NewHandler(nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: got %d %q", rr.Code, rr.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.NewRegistry()
	m.IncRequest("booking", "GET", "200")

	h := NewHandler(m.Handler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "gateway_requests_total") {
		t.Fatalf("metrics body missing counter:\n%s", rr.Body.String())
	}
}

func TestUnknownAndWrongMethod(t *testing.T) {
	h := NewHandler(nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics without registry: got %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /healthz: got %d, want 405", rr.Code)
	}
}
