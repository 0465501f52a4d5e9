// Package capabilities defines the public definitions for escrow UCAN capabilities.
package capabilities

import (
	ipldprime "github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	ipldschema "github.com/ipld/go-ipld-prime/schema"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/schema"
	"github.com/storacha/go-ucanto/validator"
)

// ToIPLD converts InstructionCaveats to an IPLD node
func (c InstructionCaveats) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(1)
	ma.AssembleKey().AssignString("instruction")
	ma.AssembleValue().AssignString(c.Instruction)
	ma.Finish()
	return nb.Build(), nil
}

func instructionCaveatsType() ipldschema.Type {
	ts, err := ipldprime.LoadSchemaBytes([]byte(`
		type InstructionCaveats struct {
			instruction String
		}
	`))
	if err != nil {
		panic(err)
	}
	return ts.TypeByName("InstructionCaveats")
}

// ToIPLD converts ExecuteSuccess to an IPLD node
func (s ExecuteSuccess) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(4)
	ma.AssembleKey().AssignString("seq")
	ma.AssembleValue().AssignInt(int64(s.Seq))
	ma.AssembleKey().AssignString("instruction")
	ma.AssembleValue().AssignString(s.Instruction)
	ma.AssembleKey().AssignString("root")
	ma.AssembleValue().AssignString(s.Root)
	ma.AssembleKey().AssignString("created")
	la, _ := ma.AssembleValue().BeginList(int64(len(s.Created)))
	for _, addr := range s.Created {
		la.AssembleValue().AssignString(addr)
	}
	la.Finish()
	ma.Finish()
	return nb.Build(), nil
}

func (f ExecuteFailure) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(2)
	ma.AssembleKey().AssignString("name")
	ma.AssembleValue().AssignString(f.name)
	ma.AssembleKey().AssignString("message")
	ma.AssembleValue().AssignString(f.message)
	ma.Finish()
	return nb.Build(), nil
}

func newCapability(ability string) validator.CapabilityParser[InstructionCaveats] {
	return validator.NewCapability(
		ability,
		schema.DIDString(),
		schema.Struct[InstructionCaveats](instructionCaveatsType(), nil),
		nil,
	)
}

// Capability parsers
var (
	// EscrowCreate is the capability parser for escrow/create
	EscrowCreate = newCapability(AbilityCreate)

	// EscrowInvite is the capability parser for escrow/invite
	EscrowInvite = newCapability(AbilityInvite)

	// EscrowDeposit is the capability parser for escrow/deposit
	EscrowDeposit = newCapability(AbilityDeposit)

	// EscrowPayout is the capability parser for escrow/payout
	EscrowPayout = newCapability(AbilityPayout)
)
