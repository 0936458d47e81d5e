package config

import (
	"time"

	"github.com/fabian4/booking-gateway/internal/model"
)

type Config struct {
	Listen      string
	OpsListen   string
	MatchPrefix string
	Services    []model.Service // sorted by name
	Timeouts    Timeouts
	Retry       Retry
	Log         Log
	Tracing     Tracing
}

type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Upstream time.Duration
}

// Retry applies to idempotent methods only.
type Retry struct {
	Max     int
	Backoff time.Duration
}

type Log struct {
	Level     string // debug | info | warn | error
	Format    string // json | console
	AccessLog bool
}

type Tracing struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// rawConfig mirrors the YAML document before validation.
type rawConfig struct {
	EntryPoint struct {
		Address    string `yaml:"address"`
		OpsAddress string `yaml:"ops_address"`
	} `yaml:"entrypoint"`
	Match struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"match"`
	Services []struct {
		Name      string `yaml:"name"`
		URL       string `yaml:"url"`
		Proto     string `yaml:"proto"`
		RateLimit *struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"services"`
	Timeouts struct {
		Read     string `yaml:"read"`
		Write    string `yaml:"write"`
		Upstream string `yaml:"upstream"`
	} `yaml:"timeouts"`
	Retry struct {
		Max     *int   `yaml:"max"`
		Backoff string `yaml:"backoff"`
	} `yaml:"retry"`
	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		AccessLog *bool  `yaml:"access_log"`
	} `yaml:"log"`
	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		Endpoint    string `yaml:"endpoint"`
		Insecure    *bool  `yaml:"insecure"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
}
