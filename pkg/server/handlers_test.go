package server

import (
	"context"
	"log/slog"
	"testing"

	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/splitescrow/pkg/capabilities"
	"github.com/relves/splitescrow/pkg/instruction"
)

func invoke(t *testing.T, h func(context.Context, ucan.Capability[capabilities.InstructionCaveats]) executeResult, with string, ins *instruction.Instruction, s principal.Signer) (capabilities.ExecuteSuccess, capabilities.ExecuteFailure) {
	t.Helper()
	if s != nil {
		require.NoError(t, ins.Sign(s))
	}
	encoded, err := ins.EncodeString()
	require.NoError(t, err)
	cap := ucan.NewCapability(ins.Ability, with, capabilities.InstructionCaveats{Instruction: encoded})
	return result.Unwrap(h(context.Background(), cap))
}

type denyAll struct{}

func (denyAll) ValidateRequest(context.Context, invocation.Invocation) error {
	return NewValidationError("RATE_LIMITED", "slow down")
}

func TestExecuteHandler(t *testing.T) {
	l, clock := newTestLedger(t)
	handler := executeHandler(l, nil, slog.Default())
	h := func(ctx context.Context, cap ucan.Capability[capabilities.InstructionCaveats]) executeResult {
		res, _, err := handler(ctx, cap, nil, nil)
		require.NoError(t, err)
		return res
	}

	owner, alice := generate(t), generate(t)

	ok, fail := invoke(t, h, owner.DID().String(), &instruction.Instruction{
		Ability:         instruction.AbilityCreate,
		Nonce:           "1",
		Name:            "Household",
		TotalCost:       100,
		SubscriptionDue: testDue,
	}, owner)
	require.Empty(t, fail.Name(), fail.Error())
	assert.Equal(t, uint64(0), ok.Seq)
	assert.Len(t, ok.Root, 64)
	require.Len(t, ok.Created, 3)
	group, escrowAddr, vault := ok.Created[0], ok.Created[1], ok.Created[2]

	t.Run("issuer must match resource", func(t *testing.T) {
		_, fail := invoke(t, h, owner.DID().String(), &instruction.Instruction{
			Ability: instruction.AbilityInvite,
			Nonce:   "2",
			Group:   group,
		}, alice)
		assert.Equal(t, ErrCodeIssuerMismatch, fail.Name())
	})

	t.Run("ability must match invocation", func(t *testing.T) {
		ins := &instruction.Instruction{Ability: instruction.AbilityInvite, Nonce: "3", Group: group}
		require.NoError(t, ins.Sign(alice))
		encoded, err := ins.EncodeString()
		require.NoError(t, err)
		cap := ucan.NewCapability(instruction.AbilityDeposit, alice.DID().String(), capabilities.InstructionCaveats{Instruction: encoded})
		_, fail := result.Unwrap(h(context.Background(), cap))
		assert.Equal(t, ErrCodeAbilityMismatch, fail.Name())
	})

	t.Run("garbage caveats", func(t *testing.T) {
		cap := ucan.NewCapability(instruction.AbilityCreate, owner.DID().String(), capabilities.InstructionCaveats{Instruction: "!!"})
		_, fail := result.Unwrap(h(context.Background(), cap))
		assert.Equal(t, ErrCodeInvalidInstruction, fail.Name())
	})

	ok, fail = invoke(t, h, alice.DID().String(), &instruction.Instruction{
		Ability: instruction.AbilityInvite,
		Nonce:   "4",
		Group:   group,
	}, alice)
	require.Empty(t, fail.Name(), fail.Error())
	member := ok.Created[0]
	source := fund(t, l, alice.DID().String(), 100)

	deposit := &instruction.Instruction{
		Ability:     instruction.AbilityDeposit,
		Nonce:       "5",
		Group:       group,
		Member:      member,
		Escrow:      escrowAddr,
		Source:      source,
		Destination: vault,
		Amount:      100,
	}
	_, fail = invoke(t, h, alice.DID().String(), deposit, alice)
	require.Empty(t, fail.Name(), fail.Error())

	deposit.Nonce = "6"
	_, fail = invoke(t, h, alice.DID().String(), deposit, alice)
	assert.Equal(t, "AlreadyPaid", fail.Name())
	assert.Equal(t, "Member has already paid.", fail.Error())

	ownerAcct := fund(t, l, owner.DID().String(), 0)
	payout := &instruction.Instruction{
		Ability:     instruction.AbilityPayout,
		Nonce:       "7",
		Group:       group,
		Escrow:      escrowAddr,
		Destination: ownerAcct,
	}
	_, fail = invoke(t, h, alice.DID().String(), payout, nil)
	assert.Equal(t, "TooEarly", fail.Name())

	clock.Set(testDue)
	payout.Nonce = "8"
	_, fail = invoke(t, h, alice.DID().String(), payout, nil)
	require.Empty(t, fail.Name(), fail.Error())

	_, fail = invoke(t, h, alice.DID().String(), payout, nil)
	assert.Equal(t, "DuplicateInstruction", fail.Name())
}

func TestExecuteHandlerValidator(t *testing.T) {
	l, _ := newTestLedger(t)
	owner := generate(t)
	ins := &instruction.Instruction{Ability: instruction.AbilityCreate, Nonce: "1", Name: "x"}
	require.NoError(t, ins.Sign(owner))
	encoded, err := ins.EncodeString()
	require.NoError(t, err)

	handler := executeHandler(l, denyAll{}, slog.Default())
	cap := ucan.NewCapability(ins.Ability, owner.DID().String(), capabilities.InstructionCaveats{Instruction: encoded})
	res, _, err := handler(context.Background(), cap, nil, nil)
	require.NoError(t, err)
	_, fail := result.Unwrap(res)
	assert.Equal(t, "RATE_LIMITED", fail.Name())
}
