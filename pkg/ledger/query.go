package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/relves/splitescrow/internal/archive"
	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/asset"
	"github.com/relves/splitescrow/pkg/escrow"
	"github.com/relves/splitescrow/pkg/journal"
	"github.com/relves/splitescrow/pkg/types"
)

// Group returns the group at addr.
func (l *Ledger) Group(ctx context.Context, addr string) (*types.Group, error) {
	var g *types.Group
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		var err error
		g, err = tx.GetGroup(ctx, addr)
		return err
	})
	return g, err
}

// Members returns the members of a group ordered by address.
func (l *Ledger) Members(ctx context.Context, group string) ([]*types.Member, error) {
	var members []*types.Member
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		if _, err := tx.GetGroup(ctx, group); err != nil {
			return err
		}
		var err error
		members, err = tx.ListMembers(ctx, group)
		return err
	})
	return members, err
}

// Member returns the member record at addr.
func (l *Ledger) Member(ctx context.Context, addr string) (*types.Member, error) {
	var m *types.Member
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		var err error
		m, err = tx.GetMember(ctx, addr)
		return err
	})
	return m, err
}

// Escrow returns the escrow record at addr.
func (l *Ledger) Escrow(ctx context.Context, addr string) (*types.Escrow, error) {
	var e *types.Escrow
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		var err error
		e, err = tx.GetEscrow(ctx, addr)
		return err
	})
	return e, err
}

// EscrowFor returns the escrow of a group.
func (l *Ledger) EscrowFor(ctx context.Context, group string) (*types.Escrow, error) {
	addr, err := l.program.EscrowAddress(group)
	if err != nil {
		return nil, err
	}
	return l.Escrow(ctx, addr)
}

// Status returns the funding summary of a group.
func (l *Ledger) Status(ctx context.Context, group string) (*escrow.Status, error) {
	var st *escrow.Status
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		var err error
		st, err = l.program.GroupStatus(ctx, tx, group)
		return err
	})
	return st, err
}

// AssetAccount returns the asset account at addr.
func (l *Ledger) AssetAccount(ctx context.Context, addr string) (*types.AssetAccount, error) {
	var a *types.AssetAccount
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		var err error
		a, err = tx.GetAccount(ctx, addr)
		return err
	})
	return a, err
}

// OpenAssetAccount opens an asset account for auth, funded with initial.
// It stands in for the funding an external asset ledger would provide.
func (l *Ledger) OpenAssetAccount(ctx context.Context, auth, label string, initial uint64) (*types.AssetAccount, error) {
	if auth == "" || label == "" {
		return nil, errors.New("authority and label are required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var a *types.AssetAccount
	err := storage.Update(ctx, l.store, func(tx storage.Tx) error {
		var err error
		a, err = asset.New(tx).Open(ctx, asset.AccountAddress(auth, label), auth, initial)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("opened asset account", "address", a.Address, "authority", auth, "balance", initial)
	return a, nil
}

// Receipt returns the journaled receipt with sequence number seq.
func (l *Ledger) Receipt(ctx context.Context, seq uint64) (*types.Receipt, error) {
	var r *types.Receipt
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		var err error
		r, err = l.journal.Receipt(ctx, tx, seq)
		return err
	})
	return r, err
}

// Checkpoint returns a signed checkpoint of the journal.
func (l *Ledger) Checkpoint(ctx context.Context) (*journal.SignedCheckpoint, error) {
	var sc *journal.SignedCheckpoint
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		var err error
		sc, err = l.journal.Checkpoint(ctx, tx)
		return err
	})
	return sc, err
}

// VerifyJournal replays all receipts against the stored journal root.
func (l *Ledger) VerifyJournal(ctx context.Context) error {
	return storage.View(ctx, l.store, func(tx storage.Tx) error {
		return l.journal.Verify(ctx, tx)
	})
}

// Envelope returns an archived instruction envelope by its CID.
func (l *Ledger) Envelope(ctx context.Context, c cid.Cid) ([]byte, error) {
	if l.archive == nil {
		return nil, archive.ErrNotFound
	}
	return l.archive.Get(ctx, c)
}

// ExportCAR packs every archived envelope referenced by the journal into a
// CAR file. Entries are named by receipt sequence number.
func (l *Ledger) ExportCAR(ctx context.Context) ([]byte, string, error) {
	if l.archive == nil {
		return nil, "", errors.New("archive disabled")
	}
	index := make(map[string]string)
	err := storage.View(ctx, l.store, func(tx storage.Tx) error {
		st, err := tx.GetTreeState(ctx)
		if err != nil {
			return err
		}
		for seq := uint64(0); seq < st.Size; seq++ {
			r, err := l.journal.Receipt(ctx, tx, seq)
			if err != nil {
				return fmt.Errorf("load receipt %d: %w", seq, err)
			}
			if r.Envelope != "" {
				index[fmt.Sprintf("receipts/%08d", seq)] = r.Envelope
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return l.archive.ExportCAR(ctx, index)
}
