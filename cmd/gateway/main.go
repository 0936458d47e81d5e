package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	cfg "github.com/fabian4/booking-gateway/internal/config"
	fwd "github.com/fabian4/booking-gateway/internal/forward"
	"github.com/fabian4/booking-gateway/internal/handler"
	"github.com/fabian4/booking-gateway/internal/metrics"
	"github.com/fabian4/booking-gateway/internal/ops"
	"github.com/fabian4/booking-gateway/internal/ratelimit"
	"github.com/fabian4/booking-gateway/internal/router"
	"github.com/fabian4/booking-gateway/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config (built-in service table when empty)")
	flag.Parse()

	c, err := cfg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(c.Log.Level, c.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(c, logger); err != nil {
		logger.Error("gateway stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(c *cfg.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, c.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	opts := fwd.DefaultOptions().WithUpstreamTimeout(c.Timeouts.Upstream)
	if c.Tracing.Enabled {
		opts.Wrap = telemetry.WrapTransport
	}
	transports := fwd.NewRegistry(opts)
	defer transports.CloseIdle()

	m := metrics.NewRegistry()
	var accessLog *zap.Logger
	if c.Log.AccessLog {
		accessLog = telemetry.NewAccessLogger(os.Stdout)
	}
	routes := router.New(c.Services)
	limiter := ratelimit.New(c.Services)
	gw := handler.NewGateway(
		routes,
		router.NewMatcher(c.MatchPrefix),
		fwd.NewForwarder(transports, c.Timeouts.Upstream, c.Retry.Max, c.Retry.Backoff),
		limiter,
		logger.Named("gateway"),
		accessLog,
		m,
	)

	var h http.Handler = gw
	if c.Tracing.Enabled {
		h = telemetry.WrapHandler(gw, "gateway")
	}

	srv := &http.Server{
		Addr:              c.Listen,
		Handler:           h,
		ReadTimeout:       c.Timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      c.Timeouts.Write,
		IdleTimeout:       60 * time.Second,
	}
	opsSrv := &http.Server{
		Addr:              c.OpsListen,
		Handler:           ops.NewHandler(m.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logServices(logger, routes, limiter)
	logger.Info("booking-gateway listening",
		zap.String("version", version),
		zap.String("addr", c.Listen),
		zap.String("ops_addr", c.OpsListen),
		zap.Int("services", routes.Len()),
		zap.Bool("tracing", c.Tracing.Enabled))

	errc := make(chan error, 2)
	serve := func(name string, s *http.Server) {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("%s listener: %w", name, err)
		}
	}
	go serve("gateway", srv)
	if c.OpsListen != "" {
		go serve("ops", opsSrv)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", zap.Error(err))
	}
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops shutdown", zap.Error(err))
	}
	return nil
}

// logServices writes one startup line per configured service.
func logServices(logger *zap.Logger, routes *router.Table, limiter *ratelimit.Limiter) {
	for _, name := range routes.Names() {
		svc, _ := routes.Service(name)
		logger.Info("service registered",
			zap.String("service", name),
			zap.String("url", svc.BaseURL.String()),
			zap.String("proto", svc.Proto),
			zap.Bool("rate_limited", limiter.Limited(name)))
	}
}
