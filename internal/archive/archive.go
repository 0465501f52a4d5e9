// Package archive stores the signed instruction envelopes the ledger has
// executed, addressed by content.
package archive

import (
	"context"
	"errors"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	format "github.com/ipfs/go-ipld-format"
	mh "github.com/multiformats/go-multihash"
)

// ErrNotFound is returned when no envelope has the requested CID.
var ErrNotFound = errors.New("envelope not found")

// Archive is a blockstore of raw envelope blocks.
type Archive struct {
	bs blockstore.Blockstore
}

// New creates an Archive over d.
func New(d datastore.Batching) *Archive {
	return &Archive{bs: blockstore.NewBlockstore(d)}
}

// ComputeCID returns the CIDv1 (raw codec, SHA2-256) of data.
func ComputeCID(data []byte) (cid.Cid, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, hash), nil
}

// Put stores an envelope and returns its CID. Storing the same bytes twice
// is a no-op.
func (a *Archive) Put(ctx context.Context, envelope []byte) (cid.Cid, error) {
	c, err := ComputeCID(envelope)
	if err != nil {
		return cid.Undef, err
	}
	blk, err := blocks.NewBlockWithCid(envelope, c)
	if err != nil {
		return cid.Undef, err
	}
	if err := a.bs.Put(ctx, blk); err != nil {
		return cid.Undef, fmt.Errorf("put block: %w", err)
	}
	return c, nil
}

// Get returns the envelope stored under c.
func (a *Archive) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	blk, err := a.bs.Get(ctx, c)
	if format.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return nil, err
	}
	return blk.RawData(), nil
}

// Has reports whether c is stored.
func (a *Archive) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return a.bs.Has(ctx, c)
}
