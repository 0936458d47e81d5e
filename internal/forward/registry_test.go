package forward

import (
	"crypto/x509"
	"net/http"
	"testing"
	"time"
)

func transport(t *testing.T, reg *Registry, name string) *http.Transport {
	t.Helper()
	tr, ok := reg.Get(name).(*http.Transport)
	if !ok {
		t.Fatalf("%s: expected *http.Transport, got %T", name, reg.Get(name))
	}
	return tr
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.DialTimeout != 5*time.Second {
		t.Errorf("DialTimeout: got %v, want %v", opts.DialTimeout, 5*time.Second)
	}
	if opts.MaxIdleConns != 512 || opts.MaxIdleConnsPerHost != 128 {
		t.Errorf("pool sizes: got %d/%d, want 512/128", opts.MaxIdleConns, opts.MaxIdleConnsPerHost)
	}
	if opts.IdleConnTimeout != 90*time.Second {
		t.Errorf("IdleConnTimeout: got %v", opts.IdleConnTimeout)
	}
	if opts.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should be false by default")
	}
	if opts.Wrap != nil {
		t.Error("Wrap should be nil by default")
	}
}

func TestOptions_WithUpstreamTimeout(t *testing.T) {
	opts := DefaultOptions().WithUpstreamTimeout(2 * time.Second)
	if opts.DialTimeout != 2*time.Second || opts.TLSHandshakeTimeout != 2*time.Second {
		t.Fatalf("capped: dial=%v tls=%v, want 2s", opts.DialTimeout, opts.TLSHandshakeTimeout)
	}

	opts = DefaultOptions().WithUpstreamTimeout(time.Minute)
	if opts.DialTimeout != 5*time.Second {
		t.Fatalf("longer upstream timeout must not raise dial timeout: got %v", opts.DialTimeout)
	}

	if got := DefaultOptions().WithUpstreamTimeout(0); got.DialTimeout != 5*time.Second {
		t.Fatalf("zero upstream timeout changed options: %v", got.DialTimeout)
	}
}

func TestNewRegistry_PreRegistersTransports(t *testing.T) {
	reg := NewDefaultRegistry()
	for _, name := range []string{ProtoHTTP1, ProtoAuto} {
		if _, ok := reg.store[name]; !ok {
			t.Errorf("%s transport not pre-registered", name)
		}
	}
}

func TestRegistry_GetFallsBackToHTTP1(t *testing.T) {
	reg := NewDefaultRegistry()
	if reg.Get("") != reg.Get(ProtoHTTP1) {
		t.Error("empty name should select http1")
	}
	if reg.Get("h3") != reg.Get(ProtoHTTP1) {
		t.Error("unknown name should select http1")
	}
	if reg.Get(ProtoAuto) == reg.Get(ProtoHTTP1) {
		t.Error("auto and http1 must be distinct transports")
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewDefaultRegistry()
	custom := &http.Transport{}

	reg.Register("custom", custom)
	if reg.Get("custom") != custom {
		t.Fatal("custom transport not returned")
	}

	reg.Register("", custom)
	reg.Register("nil", nil)
	if _, ok := reg.store[""]; ok {
		t.Error("empty name registered")
	}
	if _, ok := reg.store["nil"]; ok {
		t.Error("nil transport registered")
	}

	reg.Register(ProtoHTTP1, custom)
	if reg.Get(ProtoHTTP1) != custom {
		t.Error("http1 not replaced")
	}
	reg.CloseIdle()
}

func TestRegistry_TransportProtocols(t *testing.T) {
	opts := Options{
		DialTimeout:           3 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       time.Minute,
		ResponseHeaderTimeout: 10 * time.Second,
		InsecureSkipVerify:    true,
		RootCAs:               x509.NewCertPool(),
	}
	reg := NewRegistry(opts)

	h1 := transport(t, reg, ProtoHTTP1)
	if h1.ForceAttemptHTTP2 {
		t.Error("http1 must not attempt h2")
	}
	if len(h1.TLSClientConfig.NextProtos) != 1 || h1.TLSClientConfig.NextProtos[0] != "http/1.1" {
		t.Errorf("http1 ALPN: got %v", h1.TLSClientConfig.NextProtos)
	}

	auto := transport(t, reg, ProtoAuto)
	if !auto.ForceAttemptHTTP2 {
		t.Error("auto should attempt h2")
	}

	for name, tr := range map[string]*http.Transport{ProtoHTTP1: h1, ProtoAuto: auto} {
		if tr.MaxIdleConns != 50 || tr.MaxIdleConnsPerHost != 10 || tr.IdleConnTimeout != time.Minute {
			t.Errorf("%s pool: %d/%d/%v", name, tr.MaxIdleConns, tr.MaxIdleConnsPerHost, tr.IdleConnTimeout)
		}
		if tr.ResponseHeaderTimeout != 10*time.Second {
			t.Errorf("%s ResponseHeaderTimeout: got %v", name, tr.ResponseHeaderTimeout)
		}
		if !tr.TLSClientConfig.InsecureSkipVerify || tr.TLSClientConfig.RootCAs != opts.RootCAs {
			t.Errorf("%s TLS options not applied", name)
		}
	}
}

type countingRT struct {
	inner http.RoundTripper
}

func (c countingRT) RoundTrip(r *http.Request) (*http.Response, error) { return c.inner.RoundTrip(r) }

func TestRegistry_WrapDecoratesAllTransports(t *testing.T) {
	wraps := 0
	opts := DefaultOptions()
	opts.Wrap = func(rt http.RoundTripper) http.RoundTripper {
		wraps++
		return countingRT{inner: rt}
	}
	reg := NewRegistry(opts)
	if wraps != 2 {
		t.Fatalf("wraps after construction: got %d, want 2", wraps)
	}
	if _, ok := reg.Get(ProtoHTTP1).(countingRT); !ok {
		t.Fatalf("http1 transport not wrapped: %T", reg.Get(ProtoHTTP1))
	}

	reg.Register("custom", &http.Transport{})
	if wraps != 3 {
		t.Fatalf("wraps after Register: got %d, want 3", wraps)
	}
	if _, ok := reg.Get("custom").(countingRT); !ok {
		t.Fatalf("custom transport not wrapped")
	}
}
