// Package config loads and validates the IMAP client's
// ConnectionConfig, the stable, public configuration surface consumers
// build by hand or load from the environment. Struct tags for
// github.com/caarlos0/env/v6 supply defaults and mark required fields,
// and github.com/go-playground/validator/v10 enforces range invariants
// env tags alone cannot express. Exported (not internal/) because
// ConnectionConfig is part of this library's public Connect entry
// point.
package config

import (
	"strconv"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"

	"github.com/mailkit/imapclient/errs"
)

// ConnectionConfig is the immutable connection configuration value. Zero-value
// fields are filled in by Defaults/FromEnv; Validate rejects anything
// still invalid afterwards.
type ConnectionConfig struct {
	Host     string `env:"IMAP_HOST,required" validate:"required,hostname_rfc1123|ip"`
	Port     int    `env:"IMAP_PORT" envDefault:"993" validate:"gt=0,lte=65535"`
	Username string `env:"IMAP_USER,required" validate:"required"`
	Password string `env:"IMAP_PASSWORD,required" validate:"required"`

	UseTLS bool `env:"IMAP_USE_TLS" envDefault:"true"`

	Timeout time.Duration `env:"IMAP_TIMEOUT" envDefault:"30s" validate:"gt=0"`

	MaxRetries              int           `env:"IMAP_MAX_RETRIES" envDefault:"3" validate:"gte=0"`
	RetryDelayInitial       time.Duration `env:"IMAP_RETRY_DELAY_INITIAL" envDefault:"1s" validate:"gt=0"`
	RetryExponentialBackoff bool          `env:"IMAP_RETRY_EXPONENTIAL_BACKOFF" envDefault:"true"`
	RetryDelayMax           time.Duration `env:"IMAP_RETRY_DELAY_MAX" envDefault:"30s" validate:"gt=0"`

	KeepaliveInterval   time.Duration `env:"IMAP_KEEPALIVE_INTERVAL" envDefault:"300s" validate:"gt=0"`
	HealthCheckInterval time.Duration `env:"IMAP_HEALTH_CHECK_INTERVAL" envDefault:"60s" validate:"gt=0"`

	PoolMaxPerKey    int  `env:"IMAP_POOL_MAX_PER_KEY" envDefault:"5" validate:"gt=0"`
	EnableMonitoring bool `env:"IMAP_ENABLE_MONITORING" envDefault:"true"`
}

// Key identifies the pool bucket this config maps to: (host, user).
func (c ConnectionConfig) Key() string {
	return c.Host + "\x00" + c.Username
}

// Addr is the host:port dial target.
func (c ConnectionConfig) Addr() string {
	if c.Port == 0 {
		if c.UseTLS {
			return c.Host + ":993"
		}
		return c.Host + ":143"
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Defaults applies standard defaults to zero-valued fields without
// touching the env process, so in-process callers building a
// ConnectionConfig literal get FromEnv's defaults for the zero-valued
// numeric and string fields. Boolean fields (UseTLS,
// RetryExponentialBackoff, EnableMonitoring) are left as given, so a
// false does not become FromEnv's true default.
func Defaults(c ConnectionConfig) ConnectionConfig {
	if c.Port == 0 {
		c.Port = 993
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelayInitial == 0 {
		c.RetryDelayInitial = time.Second
	}
	if c.RetryDelayMax == 0 {
		c.RetryDelayMax = 30 * time.Second
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 300 * time.Second
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 60 * time.Second
	}
	if c.PoolMaxPerKey == 0 {
		c.PoolMaxPerKey = 5
	}
	return c
}

// FromEnv loads a ConnectionConfig from the process environment.
func FromEnv() (ConnectionConfig, error) {
	var cfg ConnectionConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, errs.Configuration(err, "parsing IMAP connection config from environment")
	}
	return cfg, Validate(cfg)
}

var validate = validator.New()

// Validate enforces the range/required invariants FromEnv and callers
// constructing a ConnectionConfig by hand must both pass before a
// connection is attempted.
func Validate(c ConnectionConfig) error {
	if err := validate.Struct(c); err != nil {
		return errs.Configuration(err, "invalid connection config")
	}
	if c.RetryDelayInitial > c.RetryDelayMax {
		return errs.Configuration(nil, "retry_delay_initial (%s) exceeds retry_delay_max (%s)", c.RetryDelayInitial, c.RetryDelayMax)
	}
	return nil
}
