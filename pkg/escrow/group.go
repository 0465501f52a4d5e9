package escrow

import (
	"context"

	"github.com/relves/splitescrow/pkg/asset"
	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/types"
)

// vaultLabel names the escrow's asset holding.
const vaultLabel = "vault"

// CreateGroupArgs are the inputs of CreateGroup.
type CreateGroupArgs struct {
	Owner           string
	Name            string
	TotalCost       uint64
	SubscriptionDue int64
}

// Created lists the records an operation allocated.
type Created struct {
	Group  *types.Group
	Member *types.Member
	Escrow *types.Escrow
	Vault  *types.AssetAccount
}

// Addresses returns the allocated addresses in allocation order.
func (c *Created) Addresses() []string {
	var out []string
	if c.Group != nil {
		out = append(out, c.Group.Address)
	}
	if c.Member != nil {
		out = append(out, c.Member.Address)
	}
	if c.Escrow != nil {
		out = append(out, c.Escrow.Address)
	}
	if c.Vault != nil {
		out = append(out, c.Vault.Address)
	}
	return out
}

// CreateGroup allocates a group owned by the signer together with its escrow
// and the escrow's vault. The due time and total cost are not validated.
func (p *Program) CreateGroup(ctx context.Context, env *Env, args CreateGroupArgs) (*Created, error) {
	if err := requireSigner(env, args.Owner); err != nil {
		return nil, err
	}
	if len(args.Name) > types.MaxGroupNameLen {
		return nil, fail(ErrAllocation, "(name is %d bytes, capacity allows %d)", len(args.Name), types.MaxGroupNameLen)
	}

	g := &types.Group{
		Address:         authority.RecordAddress(types.KindGroup, env.Seed),
		Owner:           args.Owner,
		Name:            args.Name,
		TotalCost:       args.TotalCost,
		SubscriptionDue: args.SubscriptionDue,
		MemberCount:     0,
		IsActive:        true,
	}
	if err := allocate(ctx, env, g.Address); err != nil {
		return nil, err
	}

	derived, err := p.escrowFor(g.Address)
	if err != nil {
		return nil, err
	}
	e := &types.Escrow{
		Address:   derived.Address,
		Group:     g.Address,
		TotalHeld: 0,
		Bump:      derived.Bump,
		Vault:     asset.AccountAddress(derived.Address, vaultLabel),
	}
	if err := allocate(ctx, env, e.Address); err != nil {
		return nil, err
	}

	if err := env.Records.PutGroup(ctx, g); err != nil {
		return nil, err
	}
	if err := env.Records.PutEscrow(ctx, e); err != nil {
		return nil, err
	}
	vault, err := asset.New(env.Records).Open(ctx, e.Vault, e.Address, 0)
	if err != nil {
		return nil, fail(ErrAllocation, "(vault: %v)", err)
	}
	return &Created{Group: g, Escrow: e, Vault: vault}, nil
}

func allocate(ctx context.Context, env *Env, addr string) error {
	ok, err := env.Records.Exists(ctx, addr)
	if err != nil {
		return err
	}
	if ok {
		return fail(ErrAllocation, "(address %s already in use)", addr)
	}
	return nil
}
