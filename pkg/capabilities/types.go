// Package capabilities defines the public types for escrow UCAN capabilities.
package capabilities

import "github.com/relves/splitescrow/pkg/instruction"

// Capability ability constants. They match the instruction abilities.
const (
	AbilityCreate  = instruction.AbilityCreate
	AbilityInvite  = instruction.AbilityInvite
	AbilityDeposit = instruction.AbilityDeposit
	AbilityPayout  = instruction.AbilityPayout
)

// InstructionCaveats carry one signed instruction.
type InstructionCaveats struct {
	// Instruction is the base64-encoded JSON instruction envelope
	Instruction string `json:"instruction"`
}

// ExecuteSuccess is the success result for every escrow ability
type ExecuteSuccess struct {
	Seq         uint64   `json:"seq"`
	Instruction string   `json:"instruction"` // instruction CID
	Root        string   `json:"root"`        // journal root after the receipt, hex
	Created     []string `json:"created"`
}

// ExecuteFailure is the failure result for every escrow ability
type ExecuteFailure struct {
	name    string
	message string
}

func (f ExecuteFailure) Name() string {
	return f.name
}

func (f ExecuteFailure) Error() string {
	return f.message
}

// NewExecuteFailure creates a new ExecuteFailure
func NewExecuteFailure(name, message string) ExecuteFailure {
	return ExecuteFailure{name: name, message: message}
}
