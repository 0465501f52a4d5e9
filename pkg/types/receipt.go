package types

import (
	"encoding/json"
	"time"
)

// Receipt records the outcome of one executed instruction. Every submitted
// instruction that reaches execution gets a receipt, pass or fail.
type Receipt struct {
	Seq         uint64    `json:"seq"`
	Instruction string    `json:"instruction"` // instruction CID
	Envelope    string    `json:"envelope"`    // archived envelope CID
	Ability     string    `json:"ability"`
	Issuer      string    `json:"issuer,omitempty"`
	OK          bool      `json:"ok"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	Created     []string  `json:"created,omitempty"` // addresses allocated by the instruction
	ExecutedAt  time.Time `json:"executed_at"`

	// Root is the journal root once this receipt was appended. It is not
	// part of the journaled leaf.
	Root []byte `json:"-"`
}

// Serialize converts a Receipt to JSON bytes for storage.
func (r *Receipt) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

// Deserialize populates a Receipt from JSON bytes.
func (r *Receipt) Deserialize(data []byte) error {
	return json.Unmarshal(data, r)
}
