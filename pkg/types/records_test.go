package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupCapacity(t *testing.T) {
	assert.Equal(t, 54, GroupFixedSize)
	assert.Equal(t, 74, MaxGroupNameLen)

	g := &Group{Name: "netflix"}
	assert.Equal(t, 61, g.DataSize())
}

func TestMemberDeserializeRejectsGarbage(t *testing.T) {
	var m Member
	err := m.Deserialize([]byte("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode member")
}

func TestEscrowSerialize(t *testing.T) {
	e := &Escrow{Address: "bafk-escrow", Group: "bafk-group", TotalHeld: 200, Bump: 254, Vault: "bafk-vault"}
	data, err := e.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_held":200`)
	assert.Contains(t, string(data), `"bump":254`)

	var got Escrow
	require.NoError(t, got.Deserialize(data))
	assert.Equal(t, *e, got)
}
