package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/splitescrow/pkg/types"
)

func testProgram(t *testing.T) ProgramID {
	t.Helper()
	id, err := ParseProgramID(DefaultProgramID)
	require.NoError(t, err)
	return id
}

func TestParseProgramID(t *testing.T) {
	id := testProgram(t)
	assert.Equal(t, DefaultProgramID, id.String())

	_, err := ParseProgramID("3mJr7AoUXx2Wqd")
	assert.Error(t, err)

	_, err = ParseProgramID("not-base58-0OIl")
	assert.Error(t, err)
}

func TestDeriverFind(t *testing.T) {
	d := NewDeriver(testProgram(t))
	group := RecordAddress(types.KindGroup, []byte("instruction-1"))
	seed, err := AddressKey(group)
	require.NoError(t, err)

	first, err := d.Find(seed)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Address)

	t.Run("deterministic", func(t *testing.T) {
		fresh := NewDeriver(testProgram(t))
		again, err := fresh.Find(seed)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})

	t.Run("off curve", func(t *testing.T) {
		key, err := AddressKey(first.Address)
		require.NoError(t, err)
		assert.False(t, onCurve(key))
	})

	t.Run("verify", func(t *testing.T) {
		require.NoError(t, d.Verify(first.Address, first.Bump, seed))
		assert.ErrorIs(t, d.Verify(first.Address, first.Bump, []byte("other")), ErrMismatch)
	})

	t.Run("highest viable bump", func(t *testing.T) {
		for b := 255; b > int(first.Bump); b-- {
			_, err := CreateDerived(d.Program(), seed, []byte{byte(b)})
			assert.ErrorIs(t, err, ErrOnCurve, "bump %d", b)
		}
	})

	t.Run("distinct groups", func(t *testing.T) {
		other := RecordAddress(types.KindGroup, []byte("instruction-2"))
		otherSeed, err := AddressKey(other)
		require.NoError(t, err)
		derived, err := d.Find(otherSeed)
		require.NoError(t, err)
		assert.NotEqual(t, first.Address, derived.Address)
	})
}

func TestRecordAddress(t *testing.T) {
	a := RecordAddress(types.KindMember, []byte("x"))
	b := RecordAddress(types.KindGroup, []byte("x"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, RecordAddress(types.KindMember, []byte("x")))

	key, err := AddressKey(a)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = AddressKey("nope")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
