package journal

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/mod/sumdb/note"
)

// NoteSigner signs checkpoints in signed-note form (c2sp.org/signed-note).
// It satisfies note.Signer, which is also tessera's checkpoint signer interface.
type NoteSigner struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	verifier note.Verifier
}

// NewNoteSigner creates a signer whose key name is the journal origin.
func NewNoteSigner(priv ed25519.PrivateKey, name string) (*NoteSigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(priv), ed25519.PrivateKeySize)
	}
	pub := priv.Public().(ed25519.PublicKey)
	if name == "" {
		name = fmt.Sprintf("splitescrow-%x", pub[:4])
	}
	v, err := NewNoteVerifier(name, pub)
	if err != nil {
		return nil, err
	}
	return &NoteSigner{priv: priv, pub: pub, verifier: v}, nil
}

// NewNoteVerifier returns the verifier for checkpoints signed by name with pub.
func NewNoteVerifier(name string, pub ed25519.PublicKey) (note.Verifier, error) {
	vkey, err := note.NewEd25519VerifierKey(name, pub)
	if err != nil {
		return nil, err
	}
	v, err := note.NewVerifier(vkey)
	if err != nil {
		return nil, fmt.Errorf("note key %q: %w", name, err)
	}
	return v, nil
}

func (s *NoteSigner) Name() string {
	return s.verifier.Name()
}

func (s *NoteSigner) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func (s *NoteSigner) KeyHash() uint32 {
	return s.verifier.KeyHash()
}

func (s *NoteSigner) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Verifier returns the matching note verifier.
func (s *NoteSigner) Verifier() note.Verifier {
	return s.verifier
}
