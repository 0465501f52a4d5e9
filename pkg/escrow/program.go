// Package escrow is the group cost-splitting program: group lifecycle,
// membership, contribution accounting and the time-gated payout.
//
// Every operation is a state transition over records reached through an
// Env. The caller runs it inside a store transaction and rolls back on any
// error, so a failed operation leaves no trace.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/authority"
)

// Policy closes gaps in the original contract. The zero value reproduces it.
type Policy struct {
	// GuardReplayedPayout rejects a payout on an inactive group.
	GuardReplayedPayout bool
	// RequireOwnerDestination binds the payout destination to the group owner.
	RequireOwnerDestination bool
	// TrackMemberCount increments the group's member count on invitation.
	TrackMemberCount bool
	// RejectDuplicateInvites refuses a second invitation of one authority.
	RejectDuplicateInvites bool
}

// Env is what one instruction executes against.
type Env struct {
	Records storage.Records
	Signers authority.Signers
	// Now is host time in unix seconds.
	Now int64
	// Seed is unique per instruction. Records the instruction allocates are
	// addressed from it.
	Seed []byte
}

// Program executes escrow operations.
type Program struct {
	deriver *authority.Deriver
	policy  Policy
}

// NewProgram returns a program that derives escrow authorities with d.
func NewProgram(d *authority.Deriver, policy Policy) *Program {
	return &Program{deriver: d, policy: policy}
}

// Policy returns the active policy.
func (p *Program) Policy() Policy {
	return p.policy
}

func requireSigner(env *Env, auth string) error {
	if auth == "" || !env.Signers.Has(auth) {
		return fail(ErrMissingSignature, "(%s)", auth)
	}
	return nil
}

// notFound maps a missing record to the program's error, leaving other errors intact.
func notFound(err error, kind, addr string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fail(ErrNotFound, "(%s %s)", kind, addr)
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", kind, addr, err)
	}
	return nil
}

// escrowFor derives the escrow authority of a group.
func (p *Program) escrowFor(group string) (authority.Derived, error) {
	seed, err := authority.AddressKey(group)
	if err != nil {
		return authority.Derived{}, fail(ErrConstraint, "(group address: %v)", err)
	}
	return p.deriver.Find(seed)
}

// EscrowAddress returns the escrow record address for a group.
func (p *Program) EscrowAddress(group string) (string, error) {
	d, err := p.escrowFor(group)
	if err != nil {
		return "", err
	}
	return d.Address, nil
}

// verifyEscrow checks that the escrow at addr is the one derived from group.
func (p *Program) verifyEscrow(ctx context.Context, env *Env, group, addr string) error {
	e, err := env.Records.GetEscrow(ctx, addr)
	if err := notFound(err, "escrow", addr); err != nil {
		return err
	}
	seed, err := authority.AddressKey(group)
	if err != nil {
		return fail(ErrConstraint, "(group address: %v)", err)
	}
	if e.Group != group || p.deriver.Verify(addr, e.Bump, seed) != nil {
		return fail(ErrConstraint, "(escrow %s does not belong to group %s)", addr, group)
	}
	return nil
}
