package server

import (
	"log/slog"

	"github.com/storacha/go-ucanto/principal"

	"github.com/relves/splitescrow/pkg/ledger"
)

// Config holds server configuration.
type Config struct {
	Signer    principal.Signer
	Ledger    *ledger.Ledger
	Validator RequestValidator
	Logger    *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithSigner sets the UCAN signer.
func WithSigner(s principal.Signer) Option {
	return func(c *Config) {
		c.Signer = s
	}
}

// WithLedger sets the ledger that executes instructions.
func WithLedger(l *ledger.Ledger) Option {
	return func(c *Config) {
		c.Ledger = l
	}
}

// WithValidator sets a request validator for account/rate-limit checks.
// If nil (default), no validation is performed.
func WithValidator(v RequestValidator) Option {
	return func(c *Config) {
		c.Validator = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
