package escrow

import (
	"context"
	"fmt"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/types"
)

// Status summarizes a group's funding.
type Status struct {
	Group     *types.Group    `json:"group"`
	Escrow    *types.Escrow   `json:"escrow"`
	Members   []*types.Member `json:"members"`
	Paid      int             `json:"paid"`
	Collected uint64          `json:"collected"`
	// Balanced is false when total_held drifts from the sum of contributions.
	Balanced bool `json:"balanced"`
}

// GroupStatus loads a group with its escrow and members and checks that the
// escrow total matches what paid members contributed.
func (p *Program) GroupStatus(ctx context.Context, records storage.Records, group string) (*Status, error) {
	g, err := records.GetGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	escrowAddr, err := p.EscrowAddress(group)
	if err != nil {
		return nil, err
	}
	e, err := records.GetEscrow(ctx, escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("load escrow: %w", err)
	}
	members, err := records.ListMembers(ctx, group)
	if err != nil {
		return nil, err
	}

	st := &Status{Group: g, Escrow: e, Members: members}
	for _, m := range members {
		if m.HasPaid {
			st.Paid++
			st.Collected += m.Contributed
		}
	}
	st.Balanced = st.Collected == e.TotalHeld
	return st, nil
}
