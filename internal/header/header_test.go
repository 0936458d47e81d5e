package header

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDropHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive, X-Hop")
	h.Set("X-Hop", "1")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "websocket")
	h.Set("Content-Type", "application/json")

	DropHopByHop(h)

	for _, k := range []string{"Connection", "X-Hop", "Transfer-Encoding", "Upgrade"} {
		if h.Get(k) != "" {
			t.Errorf("%s leaked: %q", k, h.Get(k))
		}
	}
	if h.Get("Content-Type") != "application/json" {
		t.Fatalf("end-to-end header dropped")
	}
}

func TestCloneIsDeep(t *testing.T) {
	src := http.Header{"A": {"1"}}
	dst := Clone(src)
	dst["A"][0] = "2"
	if src.Get("A") != "1" {
		t.Fatalf("clone shares backing arrays")
	}
}

func TestCopyReplaces(t *testing.T) {
	dst := http.Header{"A": {"old"}, "B": {"keep"}}
	Copy(dst, http.Header{"A": {"x", "y"}})
	if got := dst.Values("A"); len(got) != 2 || got[0] != "x" {
		t.Fatalf("A: got %v", got)
	}
	if dst.Get("B") != "keep" {
		t.Fatalf("B dropped")
	}
}

func TestForwardedHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "http://gw.local/booking/1", nil)
	r.RemoteAddr = "203.0.113.10:54321"
	r.TLS = &tls.ConnectionState{}

	h := http.Header{}
	h.Set("X-Forwarded-For", "198.51.100.1")
	AddXFF(h, r.RemoteAddr)
	SetXFProto(h, r)
	SetXFHost(h, r.Host)

	if got := h.Get("X-Forwarded-For"); got != "198.51.100.1, 203.0.113.10" {
		t.Errorf("XFF: got %q", got)
	}
	if got := h.Get("X-Forwarded-Proto"); got != "https" {
		t.Errorf("XFP: got %q", got)
	}
	if got := h.Get("X-Forwarded-Host"); got != "gw.local" {
		t.Errorf("XFH: got %q", got)
	}

	h2 := http.Header{}
	AddXFF(h2, "not-an-addr")
	if h2.Get("X-Forwarded-For") != "" {
		t.Errorf("XFF set for unparsable remote addr")
	}
}
