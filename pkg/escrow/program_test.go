package escrow_test

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/internal/storage/memstore"
	"github.com/relves/splitescrow/pkg/asset"
	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/escrow"
	"github.com/relves/splitescrow/pkg/types"
)

const (
	owner = "did:key:owner"
	due   = int64(1_700_000_000)
)

type harness struct {
	t       *testing.T
	store   storage.StateStore
	program *escrow.Program
	seq     int
}

func newHarness(t *testing.T, policy escrow.Policy) *harness {
	t.Helper()
	id, err := authority.ParseProgramID(authority.DefaultProgramID)
	require.NoError(t, err)
	s := memstore.New()
	t.Cleanup(func() { s.Close() })
	return &harness{t: t, store: s, program: escrow.NewProgram(authority.NewDeriver(id), policy)}
}

// run executes fn as one instruction, committing only on success.
func (h *harness) run(now int64, signers []string, fn func(ctx context.Context, env *escrow.Env) error) error {
	h.seq++
	ctx := context.Background()
	return storage.Update(ctx, h.store, func(tx storage.Tx) error {
		env := &escrow.Env{
			Records: tx,
			Signers: authority.NewSigners(signers...),
			Now:     now,
			Seed:    []byte(fmt.Sprintf("instruction-%d", h.seq)),
		}
		return fn(ctx, env)
	})
}

func (h *harness) fund(auth string, balance uint64) string {
	addr := asset.AccountAddress(auth, "main")
	require.NoError(h.t, storage.Update(context.Background(), h.store, func(tx storage.Tx) error {
		_, err := asset.New(tx).Open(context.Background(), addr, auth, balance)
		return err
	}))
	return addr
}

func (h *harness) createGroup(name string, total uint64) *escrow.Created {
	var created *escrow.Created
	require.NoError(h.t, h.run(due-100, []string{owner}, func(ctx context.Context, env *escrow.Env) error {
		var err error
		created, err = h.program.CreateGroup(ctx, env, escrow.CreateGroupArgs{Owner: owner, Name: name, TotalCost: total, SubscriptionDue: due})
		return err
	}))
	return created
}

func (h *harness) invite(group, auth string) *types.Member {
	var created *escrow.Created
	require.NoError(h.t, h.run(due-50, []string{auth}, func(ctx context.Context, env *escrow.Env) error {
		var err error
		created, err = h.program.InviteMember(ctx, env, escrow.InviteMemberArgs{Group: group, Authority: auth})
		return err
	}))
	return created.Member
}

func (h *harness) deposit(now int64, c *escrow.Created, m *types.Member, source string, amount uint64) error {
	return h.run(now, []string{m.Authority}, func(ctx context.Context, env *escrow.Env) error {
		return h.program.DepositFunds(ctx, env, escrow.DepositArgs{
			Group:       c.Group.Address,
			Member:      m.Address,
			Authority:   m.Authority,
			Escrow:      c.Escrow.Address,
			Source:      source,
			Destination: c.Escrow.Vault,
			Amount:      amount,
		})
	})
}

func (h *harness) payout(now int64, c *escrow.Created, dest string) (uint64, error) {
	var paid uint64
	err := h.run(now, nil, func(ctx context.Context, env *escrow.Env) error {
		var err error
		paid, err = h.program.ExecutePayout(ctx, env, escrow.PayoutArgs{Group: c.Group.Address, Escrow: c.Escrow.Address, Destination: dest})
		return err
	})
	return paid, err
}

func (h *harness) view(fn func(ctx context.Context, tx storage.Tx)) {
	ctx := context.Background()
	require.NoError(h.t, storage.View(ctx, h.store, func(tx storage.Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

func (h *harness) balance(addr string) uint64 {
	var bal uint64
	h.view(func(ctx context.Context, tx storage.Tx) {
		var err error
		bal, err = asset.New(tx).Balance(ctx, addr)
		require.NoError(h.t, err)
	})
	return bal
}

func TestScenario(t *testing.T) {
	h := newHarness(t, escrow.Policy{})
	c := h.createGroup("streaming", 300)
	ownerAcct := h.fund(owner, 0)

	a := h.invite(c.Group.Address, "did:key:a")
	b := h.invite(c.Group.Address, "did:key:b")
	_ = h.invite(c.Group.Address, "did:key:c")
	aAcct := h.fund("did:key:a", 500)
	bAcct := h.fund("did:key:b", 500)
	h.fund("did:key:c", 500)

	require.NoError(t, h.deposit(due-10, c, a, aAcct, 100))

	err := h.deposit(due-9, c, a, aAcct, 100)
	assert.ErrorIs(t, err, escrow.ErrAlreadyPaid)

	require.NoError(t, h.deposit(due-5, c, b, bAcct, 100))

	_, err = h.payout(due-1, c, ownerAcct)
	assert.ErrorIs(t, err, escrow.ErrTooEarly)
	assert.Zero(t, h.balance(ownerAcct))

	paid, err := h.payout(due+1, c, ownerAcct)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), paid)
	assert.Equal(t, uint64(200), h.balance(ownerAcct))
	assert.Zero(t, h.balance(c.Escrow.Vault))
	assert.Equal(t, uint64(400), h.balance(aAcct))

	h.view(func(ctx context.Context, tx storage.Tx) {
		st, err := h.program.GroupStatus(ctx, tx, c.Group.Address)
		require.NoError(t, err)
		assert.False(t, st.Group.IsActive)
		assert.Equal(t, 2, st.Paid)
		assert.Equal(t, uint64(200), st.Escrow.TotalHeld, "total_held is not reset by payout")
		assert.True(t, st.Balanced)
		assert.Zero(t, st.Group.MemberCount)
		assert.Len(t, st.Members, 3)
	})

	t.Run("deposit after payout", func(t *testing.T) {
		late := h.invite(c.Group.Address, "did:key:late")
		lateAcct := h.fund("did:key:late", 10)
		err := h.deposit(due+2, c, late, lateAcct, 10)
		assert.ErrorIs(t, err, escrow.ErrInactiveGroup)
		assert.Equal(t, uint64(10), h.balance(lateAcct))
	})

	t.Run("replayed payout hits the asset ledger", func(t *testing.T) {
		_, err := h.payout(due+3, c, ownerAcct)
		assert.ErrorIs(t, err, asset.ErrInsufficientBalance)
		assert.Equal(t, uint64(200), h.balance(ownerAcct))
	})
}

func TestCreateGroup(t *testing.T) {
	h := newHarness(t, escrow.Policy{})

	t.Run("initial state", func(t *testing.T) {
		c := h.createGroup("family plan", 0)
		assert.True(t, c.Group.IsActive)
		assert.Zero(t, c.Group.MemberCount)
		assert.Equal(t, owner, c.Group.Owner)
		assert.Equal(t, c.Group.Address, c.Escrow.Group)
		assert.Equal(t, c.Escrow.Address, c.Vault.Authority)
		assert.Len(t, c.Addresses(), 3)

		addr, err := h.program.EscrowAddress(c.Group.Address)
		require.NoError(t, err)
		assert.Equal(t, c.Escrow.Address, addr)
	})

	t.Run("past due and zero cost are accepted", func(t *testing.T) {
		err := h.run(due, []string{owner}, func(ctx context.Context, env *escrow.Env) error {
			_, err := h.program.CreateGroup(ctx, env, escrow.CreateGroupArgs{Owner: owner, Name: "old", SubscriptionDue: 1})
			return err
		})
		assert.NoError(t, err)
	})

	t.Run("name at capacity", func(t *testing.T) {
		c := h.createGroup(strings.Repeat("n", types.MaxGroupNameLen), 1)
		assert.Len(t, c.Group.Name, types.MaxGroupNameLen)
		assert.Equal(t, types.GroupCapacity, c.Group.DataSize())
	})

	t.Run("name over capacity", func(t *testing.T) {
		err := h.run(due, []string{owner}, func(ctx context.Context, env *escrow.Env) error {
			_, err := h.program.CreateGroup(ctx, env, escrow.CreateGroupArgs{Owner: owner, Name: strings.Repeat("n", types.MaxGroupNameLen+1)})
			return err
		})
		assert.ErrorIs(t, err, escrow.ErrAllocation)
	})

	t.Run("owner must sign", func(t *testing.T) {
		err := h.run(due, []string{"did:key:someone"}, func(ctx context.Context, env *escrow.Env) error {
			_, err := h.program.CreateGroup(ctx, env, escrow.CreateGroupArgs{Owner: owner, Name: "x"})
			return err
		})
		assert.ErrorIs(t, err, escrow.ErrMissingSignature)
	})

	t.Run("address reuse", func(t *testing.T) {
		args := escrow.CreateGroupArgs{Owner: owner, Name: "dup"}
		ctx := context.Background()
		err := storage.Update(ctx, h.store, func(tx storage.Tx) error {
			env := &escrow.Env{Records: tx, Signers: authority.NewSigners(owner), Seed: []byte("same")}
			if _, err := h.program.CreateGroup(ctx, env, args); err != nil {
				return err
			}
			_, err := h.program.CreateGroup(ctx, env, args)
			return err
		})
		assert.ErrorIs(t, err, escrow.ErrAllocation)
	})
}

func TestInviteMember(t *testing.T) {
	t.Run("duplicates allowed by default", func(t *testing.T) {
		h := newHarness(t, escrow.Policy{})
		c := h.createGroup("g", 10)
		m1 := h.invite(c.Group.Address, "did:key:a")
		m2 := h.invite(c.Group.Address, "did:key:a")
		assert.NotEqual(t, m1.Address, m2.Address)
		assert.Zero(t, m1.Contributed)
		assert.False(t, m1.HasPaid)

		h.view(func(ctx context.Context, tx storage.Tx) {
			g, err := tx.GetGroup(ctx, c.Group.Address)
			require.NoError(t, err)
			assert.Zero(t, g.MemberCount)
		})
	})

	t.Run("policy rejects duplicates and counts members", func(t *testing.T) {
		h := newHarness(t, escrow.Policy{RejectDuplicateInvites: true, TrackMemberCount: true})
		c := h.createGroup("g", 10)
		h.invite(c.Group.Address, "did:key:a")
		h.invite(c.Group.Address, "did:key:b")

		err := h.run(due, []string{"did:key:a"}, func(ctx context.Context, env *escrow.Env) error {
			_, err := h.program.InviteMember(ctx, env, escrow.InviteMemberArgs{Group: c.Group.Address, Authority: "did:key:a"})
			return err
		})
		assert.ErrorIs(t, err, escrow.ErrAlreadyInvited)

		h.view(func(ctx context.Context, tx storage.Tx) {
			g, err := tx.GetGroup(ctx, c.Group.Address)
			require.NoError(t, err)
			assert.Equal(t, uint8(2), g.MemberCount)
		})
	})

	t.Run("unknown group", func(t *testing.T) {
		h := newHarness(t, escrow.Policy{})
		err := h.run(due, []string{"did:key:a"}, func(ctx context.Context, env *escrow.Env) error {
			_, err := h.program.InviteMember(ctx, env, escrow.InviteMemberArgs{Group: "missing", Authority: "did:key:a"})
			return err
		})
		assert.ErrorIs(t, err, escrow.ErrNotFound)
	})

	t.Run("invitee must sign", func(t *testing.T) {
		h := newHarness(t, escrow.Policy{})
		c := h.createGroup("g", 10)
		err := h.run(due, []string{owner}, func(ctx context.Context, env *escrow.Env) error {
			_, err := h.program.InviteMember(ctx, env, escrow.InviteMemberArgs{Group: c.Group.Address, Authority: "did:key:a"})
			return err
		})
		assert.ErrorIs(t, err, escrow.ErrMissingSignature)
	})
}

func TestDepositConstraints(t *testing.T) {
	h := newHarness(t, escrow.Policy{})
	c := h.createGroup("g", 100)
	other := h.createGroup("other", 100)
	m := h.invite(c.Group.Address, "did:key:a")
	acct := h.fund("did:key:a", 100)

	cases := []struct {
		name string
		args func() escrow.DepositArgs
		err  error
	}{
		{"member of another group", func() escrow.DepositArgs {
			return escrow.DepositArgs{Group: other.Group.Address, Member: m.Address, Authority: m.Authority, Source: acct, Destination: other.Escrow.Vault, Amount: 1}
		}, escrow.ErrConstraint},
		{"foreign escrow", func() escrow.DepositArgs {
			return escrow.DepositArgs{Group: c.Group.Address, Member: m.Address, Authority: m.Authority, Escrow: other.Escrow.Address, Source: acct, Destination: c.Escrow.Vault, Amount: 1}
		}, escrow.ErrConstraint},
		{"wrong destination", func() escrow.DepositArgs {
			return escrow.DepositArgs{Group: c.Group.Address, Member: m.Address, Authority: m.Authority, Source: acct, Destination: other.Escrow.Vault, Amount: 1}
		}, escrow.ErrConstraint},
		{"insufficient balance", func() escrow.DepositArgs {
			return escrow.DepositArgs{Group: c.Group.Address, Member: m.Address, Authority: m.Authority, Source: acct, Destination: c.Escrow.Vault, Amount: 101}
		}, asset.ErrInsufficientBalance},
		{"missing member", func() escrow.DepositArgs {
			return escrow.DepositArgs{Group: c.Group.Address, Member: "nope", Authority: m.Authority, Source: acct, Destination: c.Escrow.Vault, Amount: 1}
		}, escrow.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.run(due-1, []string{m.Authority}, func(ctx context.Context, env *escrow.Env) error {
				return h.program.DepositFunds(ctx, env, tc.args())
			})
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, uint64(100), h.balance(acct))
		})
	}

	t.Run("source owned by someone else", func(t *testing.T) {
		stolen := h.fund("did:key:victim", 50)
		err := h.deposit(due-1, c, m, stolen, 50)
		assert.ErrorIs(t, err, asset.ErrUnauthorized)
		assert.Equal(t, uint64(50), h.balance(stolen))
	})

	t.Run("zero amount counts as paid", func(t *testing.T) {
		require.NoError(t, h.deposit(due-1, c, m, acct, 0))
		h.view(func(ctx context.Context, tx storage.Tx) {
			got, err := tx.GetMember(ctx, m.Address)
			require.NoError(t, err)
			assert.True(t, got.HasPaid)
			assert.Zero(t, got.Contributed)
		})
		assert.ErrorIs(t, h.deposit(due-1, c, m, acct, 5), escrow.ErrAlreadyPaid)
	})
}

func TestPayoutPolicies(t *testing.T) {
	setup := func(t *testing.T, policy escrow.Policy) (*harness, *escrow.Created, string) {
		h := newHarness(t, policy)
		c := h.createGroup("g", 100)
		m := h.invite(c.Group.Address, "did:key:a")
		acct := h.fund("did:key:a", 100)
		require.NoError(t, h.deposit(due-1, c, m, acct, 60))
		return h, c, h.fund(owner, 0)
	}

	t.Run("exactly at due time", func(t *testing.T) {
		h, c, dst := setup(t, escrow.Policy{})
		paid, err := h.payout(due, c, dst)
		require.NoError(t, err)
		assert.Equal(t, uint64(60), paid)
	})

	t.Run("any destination by default", func(t *testing.T) {
		h, c, _ := setup(t, escrow.Policy{})
		thief := h.fund("did:key:thief", 0)
		_, err := h.payout(due, c, thief)
		require.NoError(t, err)
		assert.Equal(t, uint64(60), h.balance(thief))
	})

	t.Run("owner destination enforced", func(t *testing.T) {
		h, c, dst := setup(t, escrow.Policy{RequireOwnerDestination: true})
		thief := h.fund("did:key:thief", 0)
		_, err := h.payout(due, c, thief)
		assert.ErrorIs(t, err, escrow.ErrConstraint)
		_, err = h.payout(due, c, dst)
		assert.NoError(t, err)
	})

	t.Run("replay guarded", func(t *testing.T) {
		h, c, dst := setup(t, escrow.Policy{GuardReplayedPayout: true})
		_, err := h.payout(due, c, dst)
		require.NoError(t, err)
		_, err = h.payout(due+1, c, dst)
		assert.ErrorIs(t, err, escrow.ErrInactiveGroup)
	})

	t.Run("foreign escrow", func(t *testing.T) {
		h, c, dst := setup(t, escrow.Policy{})
		other := h.createGroup("other", 1)
		_, err := h.payout(due, &escrow.Created{Group: c.Group, Escrow: other.Escrow}, dst)
		assert.ErrorIs(t, err, escrow.ErrConstraint)
	})
}

// Random deposit sequences keep total_held equal to the paid contributions.
func TestTotalHeldMatchesContributions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		h := newHarness(t, escrow.Policy{})
		c := h.createGroup(fmt.Sprintf("round-%d", round), 1000)

		type participant struct {
			m    *types.Member
			acct string
		}
		var ps []participant
		for i := 0; i < 6; i++ {
			auth := fmt.Sprintf("did:key:p%d", i)
			ps = append(ps, participant{m: h.invite(c.Group.Address, auth), acct: h.fund(auth, 50)})
		}

		for step := 0; step < 20; step++ {
			p := ps[rng.Intn(len(ps))]
			_ = h.deposit(due-1, c, p.m, p.acct, uint64(rng.Intn(80)))

			h.view(func(ctx context.Context, tx storage.Tx) {
				st, err := h.program.GroupStatus(ctx, tx, c.Group.Address)
				require.NoError(t, err)
				assert.True(t, st.Balanced, "round %d step %d", round, step)
				vault, err := asset.New(tx).Balance(ctx, c.Escrow.Vault)
				require.NoError(t, err)
				assert.Equal(t, st.Escrow.TotalHeld, vault)
			})
		}
	}
}
