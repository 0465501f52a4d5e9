package authority

import (
	"errors"
	"fmt"

	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/verifier"
	"github.com/storacha/go-ucanto/ucan/crypto/signature"
)

var (
	ErrUnsupportedKey   = errors.New("unsupported key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Verifier parses an ed25519 did:key into a verifier.
func Verifier(did string) (principal.Verifier, error) {
	v, err := verifier.Parse(did)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	return v, nil
}

// VerifySignature checks that sig is did's signature over msg.
func VerifySignature(did string, msg, sig []byte) error {
	v, err := Verifier(did)
	if err != nil {
		return err
	}
	if !v.Verify(msg, signature.NewSignature(signature.EdDSA, sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// Signers is the set of authorities that signed the current instruction,
// plus any derived authority the program signs for.
type Signers map[string]struct{}

// NewSigners returns a set holding the given authorities. Empty strings are skipped.
func NewSigners(authorities ...string) Signers {
	s := make(Signers, len(authorities))
	for _, a := range authorities {
		if a != "" {
			s[a] = struct{}{}
		}
	}
	return s
}

// Has reports whether authority signed.
func (s Signers) Has(authority string) bool {
	_, ok := s[authority]
	return ok
}

// With returns a copy of the set extended with authority.
func (s Signers) With(authority string) Signers {
	out := make(Signers, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	out[authority] = struct{}{}
	return out
}
