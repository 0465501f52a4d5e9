package escrow

import (
	"context"
	"fmt"
	"math"

	"github.com/relves/splitescrow/pkg/asset"
)

// DepositArgs are the inputs of DepositFunds. Escrow may be empty, in which
// case the group's derived escrow is used.
type DepositArgs struct {
	Group       string
	Member      string
	Authority   string
	Escrow      string
	Source      string
	Destination string
	Amount      uint64
}

// DepositFunds records a member's one and only contribution. The amount is
// moved from the member's account into the escrow vault and becomes the
// member's contribution regardless of the group's total cost.
func (p *Program) DepositFunds(ctx context.Context, env *Env, args DepositArgs) error {
	if err := requireSigner(env, args.Authority); err != nil {
		return err
	}

	g, err := env.Records.GetGroup(ctx, args.Group)
	if err := notFound(err, "group", args.Group); err != nil {
		return err
	}
	m, err := env.Records.GetMember(ctx, args.Member)
	if err := notFound(err, "member", args.Member); err != nil {
		return err
	}
	if m.Group != g.Address {
		return fail(ErrConstraint, "(member %s belongs to group %s)", m.Address, m.Group)
	}
	if m.Authority != args.Authority {
		return fail(ErrConstraint, "(member %s is bound to another authority)", m.Address)
	}

	escrowAddr, err := p.EscrowAddress(g.Address)
	if err != nil {
		return err
	}
	if args.Escrow != "" && args.Escrow != escrowAddr {
		return fail(ErrConstraint, "(escrow %s does not belong to group %s)", args.Escrow, g.Address)
	}
	if err := p.verifyEscrow(ctx, env, g.Address, escrowAddr); err != nil {
		return err
	}
	e, err := env.Records.GetEscrow(ctx, escrowAddr)
	if err != nil {
		return err
	}
	if args.Destination != e.Vault {
		return fail(ErrConstraint, "(destination %s is not the escrow vault)", args.Destination)
	}

	if !g.IsActive {
		return ErrInactiveGroup
	}
	if m.HasPaid {
		return ErrAlreadyPaid
	}
	if e.TotalHeld > math.MaxUint64-args.Amount {
		return ErrOverflow
	}

	if err := asset.New(env.Records).Transfer(ctx, args.Source, e.Vault, args.Authority, args.Amount, env.Signers); err != nil {
		return fmt.Errorf("deposit transfer: %w", err)
	}

	m.Contributed = args.Amount
	m.HasPaid = true
	e.TotalHeld += args.Amount

	if err := env.Records.PutMember(ctx, m); err != nil {
		return err
	}
	return env.Records.PutEscrow(ctx, e)
}
