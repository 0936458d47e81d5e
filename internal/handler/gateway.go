package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabian4/booking-gateway/internal/cors"
	fwd "github.com/fabian4/booking-gateway/internal/forward"
	"github.com/fabian4/booking-gateway/internal/header"
	"github.com/fabian4/booking-gateway/internal/metrics"
	"github.com/fabian4/booking-gateway/internal/ratelimit"
	"github.com/fabian4/booking-gateway/internal/relay"
	"github.com/fabian4/booking-gateway/internal/router"
	"github.com/fabian4/booking-gateway/internal/telemetry"
)

// Dispatch failure reasons, as logged.
const (
	ReasonNoMatch     = "no_match"
	ReasonNotFound    = "not_found"
	ReasonRateLimited = "rate_limited"
	ReasonPanic       = "panic"
)

// Gateway is the inbound HTTP handler. All fields are read-only after
// NewGateway returns.
type Gateway struct {
	Routes    *router.Table
	Matcher   router.Matcher
	Forwarder *fwd.Forwarder
	Limiter   *ratelimit.Limiter // nil disables rate limiting
	Log       *zap.Logger
	AccessLog *zap.Logger       // nil disables the access log
	Metrics   *metrics.Registry // may be nil
}

func NewGateway(rt *router.Table, m router.Matcher, f *fwd.Forwarder, lim *ratelimit.Limiter, logger, accessLog *zap.Logger, reg *metrics.Registry) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		Routes:    rt,
		Matcher:   m,
		Forwarder: f,
		Limiter:   lim,
		Log:       logger,
		AccessLog: accessLog,
		Metrics:   reg,
	}
	f.OnRetry = func(req *fwd.Request, err error, attempt int) {
		if reg != nil {
			reg.IncRetry(req.Service)
		}
		logger.Debug("retrying upstream",
			zap.String("service", req.Service),
			zap.String("method", req.Method),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return g
}

var _ http.Handler = (*Gateway)(nil)

// exchange is the per-request bookkeeping shared with the deferred access log.
type exchange struct {
	service   string
	upstream  string
	attempts  int
	requestID string
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := &loggingResponseWriter{ResponseWriter: w}
	ex := &exchange{requestID: r.Header.Get(header.RequestID)}
	if ex.requestID == "" {
		ex.requestID = uuid.NewString()
	}
	lw.Header().Set(header.RequestID, ex.requestID)

	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			g.Log.Error("dispatch panic",
				zap.String("reason", ReasonPanic),
				zap.String("request_id", ex.requestID),
				zap.String("panic", fmt.Sprint(v)),
				zap.Stack("stack"))
			if lw.statusCode == 0 {
				relay.WriteError(lw, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
		}
		g.record(r, lw, ex, time.Since(start))
	}()

	if r.Method == http.MethodOptions {
		cors.Preflight(lw)
		return
	}

	m, err := g.Matcher.Match(r.URL.EscapedPath())
	if err != nil {
		g.reject(lw, r, ex, ReasonNoMatch, http.StatusNotFound, "no route for path")
		return
	}
	ex.service = m.Service

	svc, err := g.Routes.Lookup(m.Service)
	if err != nil {
		g.reject(lw, r, ex, ReasonNotFound, http.StatusNotFound, "service not found: "+m.Service)
		return
	}

	if !g.Limiter.Allow(m.Service) {
		g.reject(lw, r, ex, ReasonRateLimited, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	hdr := header.Clone(r.Header)
	header.DropHopByHop(hdr)
	header.AddXFF(hdr, r.RemoteAddr)
	header.SetXFProto(hdr, r)
	header.SetXFHost(hdr, r.Host)
	hdr.Set(header.RequestID, ex.requestID)

	upStart := time.Now()
	res, err := g.Forwarder.Forward(r.Context(), svc.BaseURL, &fwd.Request{
		Method:        r.Method,
		Path:          m.Remainder,
		RawQuery:      r.URL.RawQuery,
		Header:        hdr,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Transport:     svc.Proto,
		Service:       m.Service,
	})
	if g.Metrics != nil {
		g.Metrics.ObserveLatency(m.Service, time.Since(upStart))
	}
	if res != nil {
		ex.attempts = res.Attempts
		if res.URL != nil {
			ex.upstream = res.URL.String()
		}
	}
	if err != nil {
		kind := fwd.Kind(err)
		if g.Metrics != nil {
			g.Metrics.IncUpstreamFailure(m.Service, kind)
		}
		status, msg := upstreamStatus(err)
		g.reject(lw, r, ex, kind, status, msg)
		return
	}

	body := res.Response.Body
	defer func() {
		if err := body.Close(); err != nil {
			g.Log.Debug("closing upstream body", zap.Error(err))
		}
	}()
	if _, err := relay.Relay(lw, res.Response); err != nil {
		g.Log.Debug("relay interrupted",
			zap.String("service", m.Service),
			zap.String("request_id", ex.requestID),
			zap.Error(err))
	}
}

// upstreamStatus maps a Forward failure onto the caller-facing status and message.
func upstreamStatus(err error) (int, string) {
	switch {
	case errors.Is(err, fwd.ErrTimeout):
		return http.StatusGatewayTimeout, "upstream timed out"
	case errors.Is(err, fwd.ErrConnectionRefused):
		return http.StatusBadGateway, "upstream refused connection"
	case errors.Is(err, fwd.ErrCanceled):
		return http.StatusBadGateway, "request canceled"
	default:
		return http.StatusBadGateway, "upstream unreachable"
	}
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, ex *exchange, reason string, status int, msg string) {
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", ex.requestID),
	}
	if ex.service != "" {
		fields = append(fields, zap.String("service", ex.service))
	}
	if ex.upstream != "" {
		fields = append(fields, zap.String("upstream", ex.upstream), zap.Int("attempts", ex.attempts))
	}
	fields = append(fields, telemetry.TraceFields(r.Context())...)
	if status >= 500 {
		g.Log.Warn("dispatch failed", fields...)
	} else {
		g.Log.Info("dispatch rejected", fields...)
	}
	relay.WriteError(w, status, msg)
}

func (g *Gateway) record(r *http.Request, lw *loggingResponseWriter, ex *exchange, d time.Duration) {
	status := lw.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	if g.Metrics != nil {
		// unknown names stay unlabelled so callers cannot grow the series set
		label := ex.service
		if _, ok := g.Routes.Service(label); !ok {
			label = ""
		}
		g.Metrics.IncRequest(label, r.Method, strconv.Itoa(status))
	}
	if g.AccessLog == nil {
		return
	}
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("protocol", r.Proto),
		zap.Int("status", status),
		zap.Duration("duration_ms", d),
		zap.String("remote_ip", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.String("request_id", ex.requestID),
		zap.Int64("bytes_written", lw.bytes),
	}
	if ex.service != "" {
		fields = append(fields, zap.String("service", ex.service))
	}
	if ex.upstream != "" {
		fields = append(fields, zap.String("upstream", ex.upstream), zap.Int("attempts", ex.attempts))
	}
	fields = append(fields, telemetry.TraceFields(r.Context())...)
	g.AccessLog.Info("", fields...)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	if w.statusCode == 0 {
		w.statusCode = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
