// Package storagetest holds a conformance suite every StateStore must pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/types"
)

// Run exercises a StateStore. open must return a fresh, empty store.
func Run(t *testing.T, open func(t *testing.T) storage.StateStore) {
	t.Run("records", func(t *testing.T) { testRecords(t, open(t)) })
	t.Run("kinds are disjoint", func(t *testing.T) { testKinds(t, open(t)) })
	t.Run("members by group", func(t *testing.T) { testMembers(t, open(t)) })
	t.Run("rollback discards writes", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("receipts", func(t *testing.T) { testReceipts(t, open(t)) })
	t.Run("tree state", func(t *testing.T) { testTreeState(t, open(t)) })
}

func testRecords(t *testing.T, s storage.StateStore) {
	ctx := context.Background()
	g := &types.Group{Address: "g1", Owner: "did:key:owner", Name: "family", TotalCost: 300, SubscriptionDue: 1000, IsActive: true}
	e := &types.Escrow{Address: "e1", Group: "g1", Bump: 253, Vault: "v1"}
	a := &types.AssetAccount{Address: "v1", Authority: "e1", Balance: 0}

	require.NoError(t, storage.Update(ctx, s, func(tx storage.Tx) error {
		require.NoError(t, tx.PutGroup(ctx, g))
		require.NoError(t, tx.PutEscrow(ctx, e))
		return tx.PutAccount(ctx, a)
	}))

	require.NoError(t, storage.View(ctx, s, func(tx storage.Tx) error {
		gotG, err := tx.GetGroup(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, g, gotG)

		gotE, err := tx.GetEscrow(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, e, gotE)

		gotA, err := tx.GetAccount(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, a, gotA)

		ok, err := tx.Exists(ctx, "g1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = tx.GetGroup(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))

	// Updates replace the stored record.
	require.NoError(t, storage.Update(ctx, s, func(tx storage.Tx) error {
		g.IsActive = false
		return tx.PutGroup(ctx, g)
	}))
	require.NoError(t, storage.View(ctx, s, func(tx storage.Tx) error {
		got, err := tx.GetGroup(ctx, "g1")
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		return nil
	}))
}

func testKinds(t *testing.T, s storage.StateStore) {
	ctx := context.Background()
	require.NoError(t, storage.Update(ctx, s, func(tx storage.Tx) error {
		return tx.PutGroup(ctx, &types.Group{Address: "shared", Name: "g"})
	}))

	err := storage.Update(ctx, s, func(tx storage.Tx) error {
		_, err := tx.GetMember(ctx, "shared")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return tx.PutMember(ctx, &types.Member{Address: "shared", Group: "g"})
	})
	assert.Error(t, err)
}

func testMembers(t *testing.T, s storage.StateStore) {
	ctx := context.Background()
	require.NoError(t, storage.Update(ctx, s, func(tx storage.Tx) error {
		require.NoError(t, tx.PutMember(ctx, &types.Member{Address: "m2", Group: "g1", Authority: "b"}))
		require.NoError(t, tx.PutMember(ctx, &types.Member{Address: "m1", Group: "g1", Authority: "a"}))
		return tx.PutMember(ctx, &types.Member{Address: "m3", Group: "g2", Authority: "c"})
	}))

	require.NoError(t, storage.Update(ctx, s, func(tx storage.Tx) error {
		// An uncommitted member is visible inside its own transaction.
		require.NoError(t, tx.PutMember(ctx, &types.Member{Address: "m0", Group: "g1", Authority: "d"}))

		members, err := tx.ListMembers(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, "m0", members[0].Address)
		assert.Equal(t, "m1", members[1].Address)
		assert.Equal(t, "m2", members[2].Address)

		members, err = tx.ListMembers(ctx, "g3")
		require.NoError(t, err)
		assert.Empty(t, members)
		return nil
	}))
}

func testRollback(t *testing.T, s storage.StateStore) {
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutAccount(ctx, &types.AssetAccount{Address: "acct", Authority: "x", Balance: 5}))
	require.NoError(t, tx.AppendReceipt(ctx, 0, "bafy-ins", []byte("r")))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "rollback is idempotent")

	require.NoError(t, storage.View(ctx, s, func(tx storage.Tx) error {
		_, err := tx.GetAccount(ctx, "acct")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		ok, err := tx.HasInstruction(ctx, "bafy-ins")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func testReceipts(t *testing.T, s storage.StateStore) {
	ctx := context.Background()
	require.NoError(t, storage.Update(ctx, s, func(tx storage.Tx) error {
		require.NoError(t, tx.AppendReceipt(ctx, 0, "ins-a", []byte("first")))
		return tx.AppendReceipt(ctx, 1, "ins-b", []byte("second"))
	}))

	require.NoError(t, storage.View(ctx, s, func(tx storage.Tx) error {
		data, err := tx.GetReceipt(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), data)

		_, err = tx.GetReceipt(ctx, 2)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		ok, err := tx.HasInstruction(ctx, "ins-a")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	err := storage.Update(ctx, s, func(tx storage.Tx) error {
		return tx.AppendReceipt(ctx, 1, "ins-c", []byte("dup"))
	})
	assert.Error(t, err, "sequence numbers are unique")
}

func testTreeState(t *testing.T, s storage.StateStore) {
	ctx := context.Background()
	require.NoError(t, storage.View(ctx, s, func(tx storage.Tx) error {
		st, err := tx.GetTreeState(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.Size)
		assert.Empty(t, st.Hashes)
		return nil
	}))

	h1 := make([]byte, 32)
	h2 := make([]byte, 32)
	h1[0], h2[0] = 1, 2
	want := &storage.TreeState{Size: 3, Root: h2, Hashes: [][]byte{h1, h2}}

	require.NoError(t, storage.Update(ctx, s, func(tx storage.Tx) error {
		return tx.SetTreeState(ctx, want)
	}))
	require.NoError(t, storage.View(ctx, s, func(tx storage.Tx) error {
		got, err := tx.GetTreeState(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		return nil
	}))
}
