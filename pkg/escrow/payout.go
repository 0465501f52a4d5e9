package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/asset"
	"github.com/relves/splitescrow/pkg/authority"
)

// PayoutArgs are the inputs of ExecutePayout.
type PayoutArgs struct {
	Group       string
	Escrow      string
	Destination string
}

// ExecutePayout releases the escrow's total to the destination once the due
// time is reached and deactivates the group. Nobody signs it; the transfer
// is authorized by the escrow's derived authority.
//
// total_held is left as is. Under the default policy a second payout tries
// to move the same figure again and fails only if the vault is short.
func (p *Program) ExecutePayout(ctx context.Context, env *Env, args PayoutArgs) (uint64, error) {
	g, err := env.Records.GetGroup(ctx, args.Group)
	if err := notFound(err, "group", args.Group); err != nil {
		return 0, err
	}
	if err := p.verifyEscrow(ctx, env, g.Address, args.Escrow); err != nil {
		return 0, err
	}
	e, err := env.Records.GetEscrow(ctx, args.Escrow)
	if err != nil {
		return 0, err
	}

	if !authority.Due(env.Now, g.SubscriptionDue) {
		return 0, fail(ErrTooEarly, "(now %d, due %d)", env.Now, g.SubscriptionDue)
	}
	if p.policy.GuardReplayedPayout && !g.IsActive {
		return 0, ErrInactiveGroup
	}
	if p.policy.RequireOwnerDestination {
		dst, err := env.Records.GetAccount(ctx, args.Destination)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", asset.ErrAccountNotFound, args.Destination)
		}
		if err != nil {
			return 0, err
		}
		if dst.Authority != g.Owner {
			return 0, fail(ErrConstraint, "(destination %s is not owned by the group owner)", args.Destination)
		}
	}

	signers := env.Signers.With(e.Address)
	if err := asset.New(env.Records).Transfer(ctx, e.Vault, args.Destination, e.Address, e.TotalHeld, signers); err != nil {
		return 0, fmt.Errorf("payout transfer: %w", err)
	}

	g.IsActive = false
	if err := env.Records.PutGroup(ctx, g); err != nil {
		return 0, err
	}
	return e.TotalHeld, nil
}
