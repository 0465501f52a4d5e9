package authority

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mr-tron/base58"
)

// DefaultProgramID identifies the escrow program when none is configured.
const DefaultProgramID = "2JiRP2mrVXWBshpkif8F9e5vrvnHtJWUt5WUiyEftJKN"

const (
	maxSeeds  = 16
	cacheSize = 1024
)

var derivedMarker = []byte("ProgramDerivedAddress")

var (
	// ErrOnCurve is returned when seeds hash to a valid ed25519 point, which
	// would mean a private key could exist for the address.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")
	// ErrNoBump is returned when no bump in [0,255] yields an off-curve address.
	ErrNoBump = errors.New("no viable bump seed")
	// ErrMismatch is returned when an address does not match its seeds.
	ErrMismatch = errors.New("derived address mismatch")
)

// ProgramID is the 32-byte identity derived authorities are scoped to.
type ProgramID [32]byte

// ParseProgramID decodes a base58 program identifier.
func ParseProgramID(s string) (ProgramID, error) {
	var id ProgramID
	b, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("decode program id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("program id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (p ProgramID) String() string {
	return base58.Encode(p[:])
}

// Derived is a signing authority with no private key. Only the program can
// act for it, by presenting the seeds and bump that produce it.
type Derived struct {
	Address string
	Bump    uint8
}

// CreateDerived hashes seeds with the program id. It fails with ErrOnCurve
// when the result is a valid curve point.
func CreateDerived(program ProgramID, seeds ...[]byte) (string, error) {
	if len(seeds) > maxSeeds {
		return "", fmt.Errorf("too many seeds: %d", len(seeds))
	}
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write(program[:])
	h.Write(derivedMarker)
	sum := h.Sum(nil)
	if onCurve(sum) {
		return "", ErrOnCurve
	}
	return encodeKey(sum), nil
}

func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// Deriver finds derived authorities for one program and caches the results.
type Deriver struct {
	program ProgramID
	cache   *lru.Cache[string, Derived]
}

// NewDeriver creates a Deriver for the given program.
func NewDeriver(program ProgramID) *Deriver {
	cache, err := lru.New[string, Derived](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Deriver{program: program, cache: cache}
}

// Program returns the program id this deriver is scoped to.
func (d *Deriver) Program() ProgramID {
	return d.program
}

// Find searches bumps from 255 down and returns the first off-curve address
// for seeds followed by the bump byte.
func (d *Deriver) Find(seeds ...[]byte) (Derived, error) {
	key := cacheKey(seeds)
	if v, ok := d.cache.Get(key); ok {
		return v, nil
	}
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateDerived(d.program, withBump(seeds, uint8(bump))...)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return Derived{}, err
		}
		v := Derived{Address: addr, Bump: uint8(bump)}
		d.cache.Add(key, v)
		return v, nil
	}
	return Derived{}, ErrNoBump
}

// Verify recomputes the authority from seeds and bump and compares it with addr.
func (d *Deriver) Verify(addr string, bump uint8, seeds ...[]byte) error {
	got, err := CreateDerived(d.program, withBump(seeds, bump)...)
	if err != nil {
		return err
	}
	if got != addr {
		return ErrMismatch
	}
	return nil
}

func withBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, 0, len(seeds)+1)
	out = append(out, seeds...)
	return append(out, []byte{bump})
}

func cacheKey(seeds [][]byte) string {
	var b []byte
	for _, s := range seeds {
		b = append(b, byte(len(s)))
		b = append(b, s...)
	}
	return hex.EncodeToString(b)
}
