// Package asset is the fungible asset ledger the escrow program moves funds
// through. Transfers run inside the caller's store transaction.
package asset

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/types"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAccountNotFound     = errors.New("asset account not found")
	ErrAccountExists       = errors.New("asset account already exists")
	ErrOverflow            = errors.New("balance overflow")
)

// Ledger moves balances between asset accounts.
type Ledger struct {
	records storage.Records
}

// New binds a ledger to a transaction's records.
func New(records storage.Records) *Ledger {
	return &Ledger{records: records}
}

// Transfer moves amount from one account to another. authority must own the
// source account and must be among signers.
func (l *Ledger) Transfer(ctx context.Context, from, to, auth string, amount uint64, signers authority.Signers) error {
	src, err := l.account(ctx, from)
	if err != nil {
		return err
	}
	dst, err := l.account(ctx, to)
	if err != nil {
		return err
	}
	if src.Authority != auth || !signers.Has(auth) {
		return fmt.Errorf("%w: %s cannot move funds from %s", ErrUnauthorized, auth, from)
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientBalance, from, src.Balance, amount)
	}
	if from == to {
		return nil
	}
	if dst.Balance > math.MaxUint64-amount {
		return ErrOverflow
	}
	src.Balance -= amount
	dst.Balance += amount
	if err := l.records.PutAccount(ctx, src); err != nil {
		return err
	}
	return l.records.PutAccount(ctx, dst)
}

// Open allocates an account owned by auth with an initial balance.
func (l *Ledger) Open(ctx context.Context, addr, auth string, balance uint64) (*types.AssetAccount, error) {
	ok, err := l.records.Exists(ctx, addr)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	a := &types.AssetAccount{Address: addr, Authority: auth, Balance: balance}
	if err := l.records.PutAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Balance returns the balance held at addr.
func (l *Ledger) Balance(ctx context.Context, addr string) (uint64, error) {
	a, err := l.account(ctx, addr)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

func (l *Ledger) account(ctx context.Context, addr string) (*types.AssetAccount, error) {
	a, err := l.records.GetAccount(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return a, err
}

// AccountAddress is the address of the asset account labelled label and
// owned by auth.
func AccountAddress(auth, label string) string {
	return authority.RecordAddress(types.KindAccount, []byte(auth), []byte(label))
}
