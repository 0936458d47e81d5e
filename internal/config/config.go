package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fabian4/booking-gateway/internal/model"
)

const (
	DefaultListen          = ":8080"
	DefaultOpsListen       = ":9090"
	DefaultUpstreamTimeout = 5 * time.Second
	DefaultRetryMax        = 2
	DefaultRetryBackoff    = 50 * time.Millisecond
	MaxRetry               = 5
)

// DefaultServices is the built-in table used when no config file is given.
var DefaultServices = map[string]string{
	"booking":  "http://localhost:8000",
	"property": "http://localhost:8001",
	"payment":  "http://localhost:8002",
	"review":   "http://localhost:8003",
	"search":   "http://localhost:8004",
	"user":     "http://localhost:8005",
}

// Load reads the YAML file at path. An empty path yields Default().
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		c := Default()
		applyEnv(c)
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	applyEnv(c)
	return c, nil
}

// Default returns the built-in configuration for the six services.
func Default() *Config {
	svcs := make([]model.Service, 0, len(DefaultServices))
	for name, raw := range DefaultServices {
		u, _ := url.Parse(raw)
		svcs = append(svcs, model.Service{Name: name, BaseURL: u, Proto: "http1"})
	}
	sort.Slice(svcs, func(i, j int) bool { return svcs[i].Name < svcs[j].Name })
	return &Config{
		Listen:    DefaultListen,
		OpsListen: DefaultOpsListen,
		Services:  svcs,
		Timeouts:  Timeouts{Upstream: DefaultUpstreamTimeout},
		Retry:     Retry{Max: DefaultRetryMax, Backoff: DefaultRetryBackoff},
		Log:       Log{Level: "info", Format: "json", AccessLog: true},
		Tracing:   Tracing{Endpoint: "localhost:4318", Insecure: true, ServiceName: "booking-gateway"},
	}
}

// Parse validates a YAML document and fills defaults for omitted keys.
func Parse(b []byte) (*Config, error) {
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	c := Default()

	// listeners
	if a := strings.TrimSpace(rc.EntryPoint.Address); a != "" {
		c.Listen = a
	}
	if a := strings.TrimSpace(rc.EntryPoint.OpsAddress); a != "" {
		c.OpsListen = a
	}

	// match
	pfx := strings.TrimRight(strings.TrimSpace(rc.Match.Prefix), "/")
	if pfx != "" && !strings.HasPrefix(pfx, "/") {
		return nil, fmt.Errorf("match.prefix: must start with '/'")
	}
	c.MatchPrefix = pfx

	// services
	if len(rc.Services) > 0 {
		seen := make(map[string]struct{}, len(rc.Services))
		bases := make(map[string]string, len(rc.Services))
		svcs := make([]model.Service, 0, len(rc.Services))
		for i, s := range rc.Services {
			name := strings.TrimSpace(s.Name)
			if name == "" {
				return nil, fmt.Errorf("services[%d]: name is required", i)
			}
			if !model.ValidName(name) {
				return nil, fmt.Errorf("services[%d]: name %q must be one path segment of [A-Za-z0-9._-]", i, name)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("services: duplicate name %q", name)
			}
			seen[name] = struct{}{}

			u, err := parseBaseURL(s.URL)
			if err != nil {
				return nil, fmt.Errorf("services[%d].url: %w", i, err)
			}
			key := strings.TrimRight(strings.ToLower(u.Scheme+"://"+u.Host)+u.Path, "/")
			if other, dup := bases[key]; dup {
				return nil, fmt.Errorf("services[%d].url: %q already used by service %q", i, u, other)
			}
			bases[key] = name

			proto := strings.ToLower(strings.TrimSpace(s.Proto))
			if proto == "" {
				proto = "http1"
			}
			switch proto {
			case "http1", "auto":
			default:
				return nil, fmt.Errorf("services[%d]: unknown proto %q", i, proto)
			}

			svc := model.Service{Name: name, BaseURL: u, Proto: proto}
			if rl := s.RateLimit; rl != nil {
				if rl.RequestsPerSecond <= 0 {
					return nil, fmt.Errorf("services[%d].rate_limit: requests_per_second must be > 0", i)
				}
				burst := rl.Burst
				if burst == 0 {
					burst = 1
				}
				if burst < 1 {
					return nil, fmt.Errorf("services[%d].rate_limit: burst must be >= 1", i)
				}
				svc.RateLimit = &model.RateLimit{RequestsPerSecond: rl.RequestsPerSecond, Burst: burst}
			}
			svcs = append(svcs, svc)
		}
		sort.Slice(svcs, func(i, j int) bool { return svcs[i].Name < svcs[j].Name })
		c.Services = svcs
	}

	// timeouts
	var err error
	if c.Timeouts.Read, err = parseDuration("timeouts.read", rc.Timeouts.Read, 0); err != nil {
		return nil, err
	}
	if c.Timeouts.Write, err = parseDuration("timeouts.write", rc.Timeouts.Write, 0); err != nil {
		return nil, err
	}
	if c.Timeouts.Upstream, err = parseDuration("timeouts.upstream", rc.Timeouts.Upstream, DefaultUpstreamTimeout); err != nil {
		return nil, err
	}
	if c.Timeouts.Upstream == 0 {
		return nil, fmt.Errorf("timeouts.upstream: must be > 0")
	}

	// retry
	if rc.Retry.Max != nil {
		if *rc.Retry.Max < 0 || *rc.Retry.Max > MaxRetry {
			return nil, fmt.Errorf("retry.max: must be within [0,%d]", MaxRetry)
		}
		c.Retry.Max = *rc.Retry.Max
	}
	if c.Retry.Backoff, err = parseDuration("retry.backoff", rc.Retry.Backoff, DefaultRetryBackoff); err != nil {
		return nil, err
	}

	// log
	if lvl := strings.ToLower(strings.TrimSpace(rc.Log.Level)); lvl != "" {
		switch lvl {
		case "debug", "info", "warn", "error":
		default:
			return nil, fmt.Errorf("log.level: unknown level %q", lvl)
		}
		c.Log.Level = lvl
	}
	if f := strings.ToLower(strings.TrimSpace(rc.Log.Format)); f != "" {
		if f != "json" && f != "console" {
			return nil, fmt.Errorf("log.format: unknown format %q", f)
		}
		c.Log.Format = f
	}
	if rc.Log.AccessLog != nil {
		c.Log.AccessLog = *rc.Log.AccessLog
	}

	// tracing
	c.Tracing.Enabled = rc.Tracing.Enabled
	if e := strings.TrimSpace(rc.Tracing.Endpoint); e != "" {
		c.Tracing.Endpoint = e
	}
	if rc.Tracing.Insecure != nil {
		c.Tracing.Insecure = *rc.Tracing.Insecure
	}
	if n := strings.TrimSpace(rc.Tracing.ServiceName); n != "" {
		c.Tracing.ServiceName = n
	}

	return c, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("must be http(s) URL with host, got %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}

func applyEnv(c *Config) {
	if v := strings.TrimSpace(os.Getenv("GATEWAY_ADDRESS")); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("GATEWAY_OPS_ADDRESS")); v != "" {
		c.OpsListen = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("GATEWAY_LOG_LEVEL"))); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Tracing.Endpoint, c.Tracing.Insecure = normalizeOTLPEndpoint(v)
	}
}

// normalizeOTLPEndpoint accepts host:port or http(s)://host:port.
func normalizeOTLPEndpoint(v string) (endpoint string, insecure bool) {
	if strings.Contains(v, "://") {
		u, err := url.Parse(v)
		if err == nil && u.Host != "" {
			return u.Host, u.Scheme != "https"
		}
	}
	return strings.TrimRight(v, "/"), true
}
