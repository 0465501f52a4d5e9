// Package ledger is the host that runs the escrow program. It verifies
// instruction signatures, executes one instruction at a time inside a store
// transaction and journals a receipt for every execution.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relves/splitescrow/internal/archive"
	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/escrow"
	"github.com/relves/splitescrow/pkg/instruction"
	"github.com/relves/splitescrow/pkg/journal"
	"github.com/relves/splitescrow/pkg/types"
)

// Mirror receives every journaled receipt after commit.
type Mirror interface {
	Add(seq uint64, data []byte)
}

// Config holds ledger dependencies. Archive, Mirror and Metrics are optional.
type Config struct {
	Store   storage.StateStore
	Program *escrow.Program
	Journal *journal.Journal
	Archive *archive.Archive
	Mirror  Mirror
	Clock   authority.Clock
	Metrics *Metrics
	Logger  *slog.Logger
}

// Ledger executes instructions.
type Ledger struct {
	store   storage.StateStore
	program *escrow.Program
	journal *journal.Journal
	archive *archive.Archive
	mirror  Mirror
	clock   authority.Clock
	metrics *Metrics
	logger  *slog.Logger

	// mu serializes execution.
	mu sync.Mutex
}

// New creates a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Program == nil {
		return nil, errors.New("program is required")
	}
	if cfg.Journal == nil {
		return nil, errors.New("journal is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = authority.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ledger{
		store:   cfg.Store,
		program: cfg.Program,
		journal: cfg.Journal,
		archive: cfg.Archive,
		mirror:  cfg.Mirror,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

// Program returns the program the ledger runs.
func (l *Ledger) Program() *escrow.Program {
	return l.program
}

// Submit verifies and executes ins.
//
// Instructions rejected before execution (malformed, badly signed or
// already processed) return an error and no receipt. Otherwise the returned
// receipt is journaled; on failure it is returned together with the error
// and no state change is committed.
//
// Every journaled instruction is recorded by CID, failed ones included, so
// resubmitting an identical instruction always fails with
// ErrDuplicateInstruction. Retrying after a failure needs a fresh nonce.
func (l *Ledger) Submit(ctx context.Context, ins *instruction.Instruction) (*types.Receipt, error) {
	start := time.Now()
	if err := ins.Validate(); err != nil {
		return nil, err
	}
	if ins.RequiredSigner() != "" && len(ins.Signature) == 0 {
		return nil, fmt.Errorf("%w: %s requires a signature from %s", ErrMissingSignature, ins.Ability, ins.RequiredSigner())
	}
	if err := ins.Verify(); err != nil {
		return nil, err
	}
	id, err := ins.CID()
	if err != nil {
		return nil, err
	}
	envelope, err := ins.Encode()
	if err != nil {
		return nil, err
	}
	envelopeCID, err := archive.ComputeCID(envelope)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	dup, err := tx.HasInstruction(ctx, id.String())
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstruction, id)
	}

	now := l.clock.Now()
	env := &escrow.Env{
		Records: tx,
		Now:     now,
		Seed:    id.Bytes(),
	}
	if len(ins.Signature) > 0 {
		env.Signers = authority.NewSigners(ins.Issuer)
	} else {
		env.Signers = authority.NewSigners()
	}

	receipt := &types.Receipt{
		Instruction: id.String(),
		Envelope:    envelopeCID.String(),
		Ability:     ins.Ability,
		Issuer:      ins.Issuer,
		ExecutedAt:  time.Unix(now, 0).UTC(),
	}

	created, amount, execErr := l.dispatch(ctx, env, ins)
	if execErr != nil {
		if err := tx.Rollback(); err != nil {
			return nil, errors.Join(execErr, err)
		}
		receipt.Code = ErrorCode(execErr)
		receipt.Message = execErr.Error()
		data, root, err := l.journalFailure(ctx, receipt)
		if err != nil {
			return nil, errors.Join(execErr, fmt.Errorf("journal failure receipt: %w", err))
		}
		receipt.Root = root
		l.afterCommit(ctx, receipt, envelope, data)
		l.metrics.observe(ins.Ability, receipt.Code, time.Since(start))
		l.logger.Info("instruction failed", "ability", ins.Ability, "instruction", receipt.Instruction, "seq", receipt.Seq, "code", receipt.Code)
		return receipt, execErr
	}

	receipt.OK = true
	if created != nil {
		receipt.Created = created.Addresses()
	}
	data, root, err := l.journal.Append(ctx, tx, receipt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	receipt.Root = root

	l.afterCommit(ctx, receipt, envelope, data)
	l.metrics.observe(ins.Ability, "", time.Since(start))
	switch ins.Ability {
	case instruction.AbilityDeposit:
		l.metrics.addDeposited(amount)
	case instruction.AbilityPayout:
		l.metrics.addPaidOut(amount)
	}
	l.logger.Debug("instruction executed", "ability", ins.Ability, "instruction", receipt.Instruction, "seq", receipt.Seq)
	return receipt, nil
}

func (l *Ledger) dispatch(ctx context.Context, env *escrow.Env, ins *instruction.Instruction) (*escrow.Created, uint64, error) {
	switch ins.Ability {
	case instruction.AbilityCreate:
		created, err := l.program.CreateGroup(ctx, env, escrow.CreateGroupArgs{
			Owner:           ins.Issuer,
			Name:            ins.Name,
			TotalCost:       ins.TotalCost,
			SubscriptionDue: ins.SubscriptionDue,
		})
		return created, 0, err
	case instruction.AbilityInvite:
		created, err := l.program.InviteMember(ctx, env, escrow.InviteMemberArgs{
			Group:     ins.Group,
			Authority: ins.Issuer,
		})
		return created, 0, err
	case instruction.AbilityDeposit:
		err := l.program.DepositFunds(ctx, env, escrow.DepositArgs{
			Group:       ins.Group,
			Member:      ins.Member,
			Authority:   ins.Issuer,
			Escrow:      ins.Escrow,
			Source:      ins.Source,
			Destination: ins.Destination,
			Amount:      ins.Amount,
		})
		return nil, ins.Amount, err
	case instruction.AbilityPayout:
		paid, err := l.program.ExecutePayout(ctx, env, escrow.PayoutArgs{
			Group:       ins.Group,
			Escrow:      ins.Escrow,
			Destination: ins.Destination,
		})
		return nil, paid, err
	default:
		return nil, 0, fmt.Errorf("%w: unknown ability %q", instruction.ErrInvalid, ins.Ability)
	}
}

// journalFailure records a failed execution in its own transaction, after
// the failed one was rolled back.
func (l *Ledger) journalFailure(ctx context.Context, receipt *types.Receipt) (data, root []byte, err error) {
	err = storage.Update(ctx, l.store, func(tx storage.Tx) error {
		var err error
		data, root, err = l.journal.Append(ctx, tx, receipt)
		return err
	})
	return data, root, err
}

// afterCommit feeds the best-effort side channels. Their failures are logged only.
func (l *Ledger) afterCommit(ctx context.Context, receipt *types.Receipt, envelope, data []byte) {
	if l.archive != nil {
		if _, err := l.archive.Put(ctx, envelope); err != nil {
			l.logger.Warn("failed to archive envelope", "instruction", receipt.Instruction, "error", err)
		}
	}
	if l.mirror != nil {
		l.mirror.Add(receipt.Seq, data)
	}
}
