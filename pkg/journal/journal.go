// Package journal keeps the append-only record of executed instructions.
//
// Each receipt is a leaf of an RFC 6962 Merkle tree. Only the compact range
// (the right frontier) is persisted, inside the same store transaction as
// the state change the receipt describes.
package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/pkg/types"
)

var factory = &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}

// ErrRootMismatch is returned by Verify when replayed receipts do not
// reproduce the stored root.
var ErrRootMismatch = errors.New("journal root mismatch")

// Journal appends receipts and signs checkpoints.
type Journal struct {
	origin string
	signer *NoteSigner
}

// New creates a Journal. The signer's name is the checkpoint origin.
func New(signer *NoteSigner) *Journal {
	return &Journal{origin: signer.Name(), signer: signer}
}

// Origin returns the checkpoint origin line.
func (j *Journal) Origin() string {
	return j.origin
}

// Signer returns the checkpoint signer.
func (j *Journal) Signer() *NoteSigner {
	return j.signer
}

func loadRange(st *storage.TreeState) (*compact.Range, error) {
	if st.Size == 0 {
		return factory.NewEmptyRange(0), nil
	}
	rng, err := factory.NewRange(0, st.Size, st.Hashes)
	if err != nil {
		return nil, fmt.Errorf("restore compact range: %w", err)
	}
	return rng, nil
}

// Append assigns r the next sequence number and adds it to the tree.
// It returns the encoded receipt and the new root.
func (j *Journal) Append(ctx context.Context, tx storage.Journal, r *types.Receipt) ([]byte, []byte, error) {
	st, err := tx.GetTreeState(ctx)
	if err != nil {
		return nil, nil, err
	}
	rng, err := loadRange(st)
	if err != nil {
		return nil, nil, err
	}

	r.Seq = st.Size
	data, err := r.Serialize()
	if err != nil {
		return nil, nil, err
	}
	if err := rng.Append(rfc6962.DefaultHasher.HashLeaf(data), nil); err != nil {
		return nil, nil, err
	}
	root, err := rng.GetRootHash(nil)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.AppendReceipt(ctx, r.Seq, r.Instruction, data); err != nil {
		return nil, nil, fmt.Errorf("append receipt: %w", err)
	}
	if err := tx.SetTreeState(ctx, &storage.TreeState{Size: rng.End(), Root: root, Hashes: rng.Hashes()}); err != nil {
		return nil, nil, fmt.Errorf("save tree state: %w", err)
	}
	return data, root, nil
}

// Head returns the unsigned checkpoint of the current tree.
func (j *Journal) Head(ctx context.Context, tx storage.Journal) (Checkpoint, error) {
	st, err := tx.GetTreeState(ctx)
	if err != nil {
		return Checkpoint{}, err
	}
	root := st.Root
	if st.Size == 0 {
		root = rfc6962.DefaultHasher.EmptyRoot()
	}
	return Checkpoint{Origin: j.origin, Size: st.Size, Root: root}, nil
}

// Checkpoint returns a signed checkpoint of the current tree.
func (j *Journal) Checkpoint(ctx context.Context, tx storage.Journal) (*SignedCheckpoint, error) {
	c, err := j.Head(ctx, tx)
	if err != nil {
		return nil, err
	}
	return Sign(c, j.signer)
}

// Receipt loads the receipt with sequence number seq.
func (j *Journal) Receipt(ctx context.Context, tx storage.Journal, seq uint64) (*types.Receipt, error) {
	data, err := tx.GetReceipt(ctx, seq)
	if err != nil {
		return nil, err
	}
	var r types.Receipt
	if err := r.Deserialize(data); err != nil {
		return nil, err
	}
	return &r, nil
}

// Verify replays every stored receipt and checks the stored root.
func (j *Journal) Verify(ctx context.Context, tx storage.Journal) error {
	st, err := tx.GetTreeState(ctx)
	if err != nil {
		return err
	}
	rng := factory.NewEmptyRange(0)
	for seq := uint64(0); seq < st.Size; seq++ {
		data, err := tx.GetReceipt(ctx, seq)
		if err != nil {
			return fmt.Errorf("load receipt %d: %w", seq, err)
		}
		if err := rng.Append(rfc6962.DefaultHasher.HashLeaf(data), nil); err != nil {
			return err
		}
	}
	if st.Size == 0 {
		return nil
	}
	root, err := rng.GetRootHash(nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(root, st.Root) {
		return fmt.Errorf("%w: computed %x, stored %x", ErrRootMismatch, root, st.Root)
	}
	return nil
}
