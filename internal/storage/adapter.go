package storage

import (
	"context"
	"errors"

	"github.com/relves/splitescrow/pkg/types"
)

// ErrNotFound is returned when a record does not exist, or exists under a
// different kind.
var ErrNotFound = errors.New("not found")

// StateStore abstracts the host's record store.
// Every instruction runs inside one Tx; Rollback discards all of its writes.
type StateStore interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a serialized unit of work over the record store.
// Rollback after Commit is a no-op so callers can defer it.
type Tx interface {
	Records
	Journal
	Commit() error
	Rollback() error
}

// Records holds the program's addressable records.
type Records interface {
	// Exists reports whether any record is allocated at addr.
	Exists(ctx context.Context, addr string) (bool, error)

	GetGroup(ctx context.Context, addr string) (*types.Group, error)
	PutGroup(ctx context.Context, g *types.Group) error

	GetMember(ctx context.Context, addr string) (*types.Member, error)
	PutMember(ctx context.Context, m *types.Member) error
	// ListMembers returns the members of a group ordered by address.
	ListMembers(ctx context.Context, group string) ([]*types.Member, error)

	GetEscrow(ctx context.Context, addr string) (*types.Escrow, error)
	PutEscrow(ctx context.Context, e *types.Escrow) error

	GetAccount(ctx context.Context, addr string) (*types.AssetAccount, error)
	PutAccount(ctx context.Context, a *types.AssetAccount) error
}

// Journal holds executed receipts and the Merkle tree over them.
type Journal interface {
	HasInstruction(ctx context.Context, instruction string) (bool, error)
	AppendReceipt(ctx context.Context, seq uint64, instruction string, data []byte) error
	GetReceipt(ctx context.Context, seq uint64) ([]byte, error)

	// GetTreeState returns an empty state when nothing was journaled yet.
	GetTreeState(ctx context.Context) (*TreeState, error)
	SetTreeState(ctx context.Context, st *TreeState) error
}

// TreeState is the persisted compact range of the receipt tree.
type TreeState struct {
	Size   uint64
	Root   []byte
	Hashes [][]byte
}

// View runs fn in a transaction that is always rolled back.
func View(ctx context.Context, s StateStore, fn func(Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// Update runs fn in a transaction and commits it when fn succeeds.
func Update(ctx context.Context, s StateStore, fn func(Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
