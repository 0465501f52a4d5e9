package authority

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	alice, err := signer.Generate()
	require.NoError(t, err)
	bob, err := signer.Generate()
	require.NoError(t, err)

	msg := []byte("deposit 100")
	sig := alice.Sign(msg).Raw()

	require.NoError(t, VerifySignature(alice.DID().String(), msg, sig))
	assert.ErrorIs(t, VerifySignature(bob.DID().String(), msg, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(alice.DID().String(), []byte("deposit 1000"), sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("did:web:example.com", msg, sig), ErrUnsupportedKey)
}

func TestVerifierMatchesSigner(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	v, err := Verifier(s.DID().String())
	require.NoError(t, err)
	assert.Equal(t, s.DID(), v.DID())
	assert.Len(t, v.Raw(), 32)
}

func TestVerifierRejectsOtherKeyTypes(t *testing.T) {
	// secp256k1-pub multicodec with a 33 byte compressed key
	key := append([]byte{0xe7, 0x01}, make([]byte, 33)...)
	key[2] = 0x02
	_, err := Verifier("did:key:z" + base58.Encode(key))
	assert.ErrorIs(t, err, ErrUnsupportedKey)

	err = VerifySignature("did:key:z"+base58.Encode(key), []byte("m"), make([]byte, 64))
	assert.ErrorIs(t, err, ErrUnsupportedKey)

	_, err = Verifier("did:key:znot-base58-0OIl")
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestSigners(t *testing.T) {
	s := NewSigners("did:key:a", "")
	assert.True(t, s.Has("did:key:a"))
	assert.False(t, s.Has(""))

	ext := s.With("escrow")
	assert.True(t, ext.Has("escrow"))
	assert.False(t, s.Has("escrow"))
}

func TestDue(t *testing.T) {
	assert.False(t, Due(99, 100))
	assert.True(t, Due(100, 100))
	assert.True(t, Due(101, 100))

	c := &FixedClock{T: 5}
	c.Set(10)
	assert.Equal(t, int64(10), c.Now())
}
