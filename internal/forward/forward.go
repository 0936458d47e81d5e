package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Failure kinds. Errors returned by Forward wrap exactly one of these.
var (
	ErrTimeout             = errors.New("upstream timeout")
	ErrConnectionRefused   = errors.New("upstream connection refused")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	// ErrCanceled means the inbound caller went away before the upstream answered.
	ErrCanceled = errors.New("request canceled by client")
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 2
	DefaultBackoff    = 50 * time.Millisecond

	// maxReplayBody bounds how much of a retryable request body is buffered.
	maxReplayBody = 1 << 20
)

// Request is the outbound view of an inbound call.
type Request struct {
	Method        string
	Path          string // escaped, appended to the base URL path
	RawQuery      string
	Header        http.Header // sent as-is; callers strip hop-by-hop first
	Body          io.Reader   // may be nil
	ContentLength int64
	Transport     string // registry name, "" selects http1
	Service       string // logical name, for observability only
}

// Result describes a finished Forward call. It is non-nil even when Forward
// fails, so callers can log the target and attempt count.
type Result struct {
	Response *http.Response // nil on failure; Body releases the attempt deadline on Close
	URL      *url.URL
	Attempts int
}

// Forwarder sends requests to upstreams with a per-attempt deadline and
// retries idempotent methods on connection-level failures.
type Forwarder struct {
	Transports Factory
	Timeout    time.Duration // per attempt; <= 0 means DefaultTimeout
	MaxRetries int           // extra attempts for GET/HEAD
	Backoff    time.Duration // constant delay between attempts
	// OnRetry, when set, is called before each retry with the failed attempt's error.
	OnRetry func(req *Request, err error, attempt int)
}

func NewForwarder(f Factory, timeout time.Duration, maxRetries int, delay time.Duration) *Forwarder {
	return &Forwarder{Transports: f, Timeout: timeout, MaxRetries: maxRetries, Backoff: delay}
}

// Idempotent reports whether method may be retried without duplicating side effects.
func Idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// Target joins base and the escaped request path, then sets the query.
// Escapes in path (such as %2F inside a segment) are kept on the wire.
func Target(base *url.URL, escapedPath, rawQuery string) *url.URL {
	u := new(url.URL)
	*u = *base
	raw := joinSlash(base.EscapedPath(), escapedPath)
	if p, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = p, raw
	} else {
		u.Path, u.RawPath = joinSlash(base.Path, escapedPath), ""
	}
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u
}

// Forward issues req against base. Cancelling ctx aborts the in-flight attempt.
func (f *Forwarder) Forward(ctx context.Context, base *url.URL, req *Request) (*Result, error) {
	target := Target(base, req.Path, req.RawQuery)
	res := &Result{URL: target}
	tr := f.Transports.Get(req.Transport)

	retry := Idempotent(req.Method) && f.MaxRetries > 0
	body := req.Body
	var replay []byte
	if retry && body != nil && body != http.NoBody {
		buf, err := io.ReadAll(io.LimitReader(body, maxReplayBody+1))
		if err != nil {
			return res, fmt.Errorf("%w: read request body: %v", ErrCanceled, err)
		}
		if len(buf) > maxReplayBody {
			retry = false
			body = io.MultiReader(bytes.NewReader(buf), body)
		} else {
			replay = buf
		}
	}

	attempt := func() (*http.Response, error) {
		res.Attempts++
		b := body
		if replay != nil {
			b = bytes.NewReader(replay)
		}
		return f.roundTrip(ctx, tr, target, req, b)
	}

	if !retry {
		resp, err := attempt()
		res.Response = resp
		return res, err
	}

	op := func() (*http.Response, error) {
		resp, err := attempt()
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrConnectionRefused) && !errors.Is(err, ErrUpstreamUnreachable) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(f.Backoff)),
		backoff.WithMaxTries(uint(f.MaxRetries + 1)),
	}
	if f.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, _ time.Duration) {
			f.OnRetry(req, err, res.Attempts)
		}))
	}
	resp, err := backoff.Retry(ctx, op, opts...)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if !isFailureKind(err) {
			err = classify(ctx, err)
		}
		return res, err
	}
	res.Response = resp
	return res, nil
}

func (f *Forwarder) roundTrip(ctx context.Context, tr http.RoundTripper, target *url.URL, req *Request, body io.Reader) (*http.Response, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)

	out, err := http.NewRequestWithContext(actx, req.Method, target.String(), body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstreamUnreachable, err)
	}
	if req.Header != nil {
		out.Header = req.Header.Clone()
	}
	if _, ok := body.(*bytes.Reader); !ok && body != nil && req.ContentLength > 0 {
		out.ContentLength = req.ContentLength
	}
	out.Host = target.Host

	resp, err := tr.RoundTrip(out)
	if err != nil {
		cancel()
		return nil, classify(ctx, err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// classify maps a transport error onto a failure kind. ctx is the caller's
// context, used to tell a client disconnect from an upstream timeout.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
}

func isFailureKind(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrUpstreamUnreachable) ||
		errors.Is(err, ErrCanceled)
}

// Kind returns a short label for a Forward error, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionRefused):
		return "connection_refused"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return "upstream_unreachable"
	}
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func joinSlash(a, b string) string {
	as := strings.HasSuffix(a, "/")
	bs := strings.HasPrefix(b, "/")
	switch {
	case as && bs:
		return a + b[1:]
	case !as && !bs:
		return a + "/" + b
	default:
		return a + b
	}
}
