package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/stretchr/testify/require"

	"github.com/relves/splitescrow/internal/archive"
	"github.com/relves/splitescrow/internal/storage/sqlite"
	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/escrow"
	"github.com/relves/splitescrow/pkg/journal"
	"github.com/relves/splitescrow/pkg/ledger"
)

const testDue = int64(1_700_000_000)

func newTestLedger(t *testing.T) (*ledger.Ledger, *authority.FixedClock) {
	t.Helper()
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	id, err := authority.ParseProgramID(authority.DefaultProgramID)
	require.NoError(t, err)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	ns, err := journal.NewNoteSigner(priv, "test.splitescrow")
	require.NoError(t, err)

	clock := &authority.FixedClock{T: testDue - 100}
	l, err := ledger.New(ledger.Config{
		Store:   store,
		Program: escrow.NewProgram(authority.NewDeriver(id), escrow.Policy{}),
		Journal: journal.New(ns),
		Archive: archive.New(store.Datastore()),
		Clock:   clock,
	})
	require.NoError(t, err)
	return l, clock
}

func generate(t *testing.T) principal.Signer {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)
	return s
}

func fund(t *testing.T, l *ledger.Ledger, auth string, balance uint64) string {
	t.Helper()
	a, err := l.OpenAssetAccount(context.Background(), auth, "main", balance)
	require.NoError(t, err)
	return a.Address
}
