package escrow

import (
	"context"
	"math"

	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/types"
)

// InviteMemberArgs are the inputs of InviteMember.
type InviteMemberArgs struct {
	Group     string
	Authority string
}

// InviteMember allocates a member record binding authority to group. The
// authority signs for itself. Unless the policy says otherwise the group's
// member count is left alone and repeat invitations are allowed.
func (p *Program) InviteMember(ctx context.Context, env *Env, args InviteMemberArgs) (*Created, error) {
	if err := requireSigner(env, args.Authority); err != nil {
		return nil, err
	}
	g, err := env.Records.GetGroup(ctx, args.Group)
	if err := notFound(err, "group", args.Group); err != nil {
		return nil, err
	}

	if p.policy.RejectDuplicateInvites {
		members, err := env.Records.ListMembers(ctx, g.Address)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.Authority == args.Authority {
				return nil, fail(ErrAlreadyInvited, "(%s)", m.Address)
			}
		}
	}

	m := &types.Member{
		Address:     authority.RecordAddress(types.KindMember, env.Seed),
		Group:       g.Address,
		Authority:   args.Authority,
		Contributed: 0,
		HasPaid:     false,
	}
	if err := allocate(ctx, env, m.Address); err != nil {
		return nil, err
	}

	if p.policy.TrackMemberCount {
		if g.MemberCount == math.MaxUint8 {
			return nil, ErrMemberLimit
		}
		g.MemberCount++
		if err := env.Records.PutGroup(ctx, g); err != nil {
			return nil, err
		}
	}

	if err := env.Records.PutMember(ctx, m); err != nil {
		return nil, err
	}
	return &Created{Member: m}, nil
}
