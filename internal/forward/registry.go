package forward

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"sync"
	"time"
)

// Transport names a service may select with its proto key.
const (
	ProtoHTTP1 = "http1" // HTTP/1.1 only, also over TLS
	ProtoAuto  = "auto"  // h2 via ALPN on https upstreams, HTTP/1.1 otherwise
)

// Options tunes the upstream connection pools.
type Options struct {
	DialTimeout   time.Duration
	DialKeepAlive time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	MaxConnsPerHost     int // 0 = unlimited

	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration // 0 disables

	InsecureSkipVerify bool
	RootCAs            *x509.CertPool

	// Wrap, when set, decorates every registered transport (tracing).
	Wrap func(http.RoundTripper) http.RoundTripper
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:           5 * time.Second,
		DialKeepAlive:         60 * time.Second,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// WithUpstreamTimeout caps the connect-phase timeouts at the per-attempt
// upstream timeout, so a dial never outlives the attempt that started it.
func (o Options) WithUpstreamTimeout(d time.Duration) Options {
	if d <= 0 {
		return o
	}
	if o.DialTimeout == 0 || o.DialTimeout > d {
		o.DialTimeout = d
	}
	if o.TLSHandshakeTimeout == 0 || o.TLSHandshakeTimeout > d {
		o.TLSHandshakeTimeout = d
	}
	return o
}

// Factory returns a RoundTripper by transport name.
type Factory interface {
	Get(name string) http.RoundTripper
	Register(name string, rt http.RoundTripper)
	CloseIdle()
}

// Registry maps transport names to RoundTrippers shared by all services that
// select them. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	store map[string]http.RoundTripper
	opts  Options
}

func NewDefaultRegistry() *Registry { return NewRegistry(DefaultOptions()) }

// NewRegistry pre-registers the http1 and auto transports built from opts.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		store: make(map[string]http.RoundTripper),
		opts:  opts,
	}
	r.store[ProtoHTTP1] = r.wrap(r.newTransport(false))
	r.store[ProtoAuto] = r.wrap(r.newTransport(true))
	return r
}

// Get returns the named transport, or http1 for unknown names.
func (r *Registry) Get(name string) http.RoundTripper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.store[name]; ok && rt != nil {
		return rt
	}
	return r.store[ProtoHTTP1]
}

// Register adds or replaces a transport. The registry's Wrap applies to it.
func (r *Registry) Register(name string, rt http.RoundTripper) {
	if name == "" || rt == nil {
		return
	}
	r.mu.Lock()
	r.store[name] = r.wrap(rt)
	r.mu.Unlock()
}

type idleCloser interface{ CloseIdleConnections() }

// CloseIdle closes idle upstream connections on every transport that supports it.
func (r *Registry) CloseIdle() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.store {
		if t, ok := rt.(idleCloser); ok {
			t.CloseIdleConnections()
		}
	}
}

func (r *Registry) wrap(rt http.RoundTripper) http.RoundTripper {
	if r.opts.Wrap == nil {
		return rt
	}
	return r.opts.Wrap(rt)
}

func (r *Registry) newTransport(h2 bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   r.opts.DialTimeout,
		KeepAlive: r.opts.DialKeepAlive,
	}
	tlsConf := &tls.Config{InsecureSkipVerify: r.opts.InsecureSkipVerify, RootCAs: r.opts.RootCAs}
	if !h2 {
		tlsConf.NextProtos = []string{"http/1.1"}
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     h2,
		TLSClientConfig:       tlsConf,
		MaxIdleConns:          r.opts.MaxIdleConns,
		MaxIdleConnsPerHost:   r.opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       r.opts.IdleConnTimeout,
		MaxConnsPerHost:       r.opts.MaxConnsPerHost,
		TLSHandshakeTimeout:   r.opts.TLSHandshakeTimeout,
		ExpectContinueTimeout: r.opts.ExpectContinueTimeout,
		ResponseHeaderTimeout: r.opts.ResponseHeaderTimeout,
	}
}
