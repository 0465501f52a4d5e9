// Package config loads the service configuration from the environment.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/escrow"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config describes the service configuration.
type Config struct {
	DataPath   string `env:"SPLITESCROW_DATA_PATH"   envDefault:"./data"`
	Store      string `env:"SPLITESCROW_STORE"       envDefault:"sqlite"`
	Addr       string `env:"SPLITESCROW_ADDR"        envDefault:":8080"`
	LogLevel   string `env:"SPLITESCROW_LOG_LEVEL"   envDefault:"info"`
	PrivateKey string `env:"SPLITESCROW_PRIVATE_KEY"`
	ProgramID  string `env:"SPLITESCROW_PROGRAM_ID"`
	Origin     string `env:"SPLITESCROW_ORIGIN"`
	// TlogPath enables the Tessera mirror when set.
	TlogPath string `env:"SPLITESCROW_TLOG_PATH"`
	Metrics  bool   `env:"SPLITESCROW_METRICS"      envDefault:"true"`
	// Funding exposes POST /v1/accounts.
	Funding bool `env:"SPLITESCROW_FUNDING"`

	GuardReplayedPayout     bool `env:"SPLITESCROW_GUARD_REPLAYED_PAYOUT"`
	RequireOwnerDestination bool `env:"SPLITESCROW_REQUIRE_OWNER_DESTINATION"`
	TrackMemberCount        bool `env:"SPLITESCROW_TRACK_MEMBER_COUNT"`
	RejectDuplicateInvites  bool `env:"SPLITESCROW_REJECT_DUPLICATE_INVITES"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("SPLITESCROW_STORE must be %q or %q, got %q", StoreSQLite, StoreMemory, c.Store)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Program(); err != nil {
		return err
	}
	if _, err := c.Key(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("SPLITESCROW_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// Program returns the escrow program identifier.
func (c Config) Program() (authority.ProgramID, error) {
	id := c.ProgramID
	if id == "" {
		id = authority.DefaultProgramID
	}
	p, err := authority.ParseProgramID(id)
	if err != nil {
		return authority.ProgramID{}, fmt.Errorf("SPLITESCROW_PROGRAM_ID: %w", err)
	}
	return p, nil
}

// Key returns the service private key, or nil when an ephemeral key should
// be generated.
func (c Config) Key() (ed25519.PrivateKey, error) {
	if c.PrivateKey == "" {
		return nil, nil
	}
	priv, err := base64.StdEncoding.DecodeString(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode SPLITESCROW_PRIVATE_KEY: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("SPLITESCROW_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.PrivateKey(priv), nil
}

// Policy returns the escrow policy switches.
func (c Config) Policy() escrow.Policy {
	return escrow.Policy{
		GuardReplayedPayout:     c.GuardReplayedPayout,
		RequireOwnerDestination: c.RequireOwnerDestination,
		TrackMemberCount:        c.TrackMemberCount,
		RejectDuplicateInvites:  c.RejectDuplicateInvites,
	}
}
