package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/escrow"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataPath)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.True(t, cfg.Metrics)
	assert.False(t, cfg.Funding)
	assert.Equal(t, escrow.Policy{}, cfg.Policy())

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	p, err := cfg.Program()
	require.NoError(t, err)
	assert.Equal(t, authority.DefaultProgramID, p.String())

	key, err := cfg.Key()
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestLoadOverrides(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	t.Setenv("SPLITESCROW_STORE", "memory")
	t.Setenv("SPLITESCROW_LOG_LEVEL", "debug")
	t.Setenv("SPLITESCROW_PRIVATE_KEY", base64.StdEncoding.EncodeToString(priv))
	t.Setenv("SPLITESCROW_GUARD_REPLAYED_PAYOUT", "true")
	t.Setenv("SPLITESCROW_TRACK_MEMBER_COUNT", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, escrow.Policy{GuardReplayedPayout: true, TrackMemberCount: true}, cfg.Policy())

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	key, err := cfg.Key()
	require.NoError(t, err)
	assert.Equal(t, priv, key)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"store", "SPLITESCROW_STORE", "postgres", "SPLITESCROW_STORE"},
		{"level", "SPLITESCROW_LOG_LEVEL", "loud", "SPLITESCROW_LOG_LEVEL"},
		{"program", "SPLITESCROW_PROGRAM_ID", "not-base58-0OIl", "SPLITESCROW_PROGRAM_ID"},
		{"key", "SPLITESCROW_PRIVATE_KEY", base64.StdEncoding.EncodeToString([]byte("short")), "must be 64 bytes"},
		{"bool", "SPLITESCROW_METRICS", "maybe", "parse env:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
