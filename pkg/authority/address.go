// Package authority derives program-controlled signing authorities, checks
// did:key signatures and gates actions on host time.
package authority

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/relves/splitescrow/pkg/types"
)

// ErrInvalidAddress is returned when an address is not a 32-byte sha2-256 CID.
var ErrInvalidAddress = errors.New("invalid address")

// RecordAddress computes the address of a record of the given kind from the
// supplied parts. The result is a CIDv1 with the raw codec.
func RecordAddress(kind types.Kind, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write(p)
	}
	return encodeKey(h.Sum(nil))
}

// AddressKey returns the 32-byte key an address encodes.
func AddressKey(addr string) ([]byte, error) {
	c, err := cid.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	dmh, err := mh.Decode(c.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if dmh.Code != mh.SHA2_256 || len(dmh.Digest) != sha256.Size {
		return nil, fmt.Errorf("%w: unexpected multihash %s", ErrInvalidAddress, dmh.Name)
	}
	return dmh.Digest, nil
}

func encodeKey(key []byte) string {
	// Encode only fails on unknown codes or a length mismatch.
	hash, err := mh.Encode(key, mh.SHA2_256)
	if err != nil {
		panic(err)
	}
	return cid.NewCidV1(cid.Raw, hash).String()
}
