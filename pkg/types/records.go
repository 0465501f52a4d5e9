// Package types defines the persisted records of the escrow program.
package types

import (
	"encoding/json"
	"fmt"
)

// Record capacity. A group record reserves 128 bytes of data; the fixed
// fields consume the rest and the display name gets what is left.
const (
	GroupCapacity   = 128
	GroupFixedSize  = 32 + 4 + 8 + 8 + 1 + 1 // owner, name prefix, total_cost, subscription_due, member_count, is_active
	MaxGroupNameLen = GroupCapacity - GroupFixedSize
)

// Kind identifies a record family. It is mixed into record addresses.
type Kind string

const (
	KindGroup   Kind = "group"
	KindMember  Kind = "member"
	KindEscrow  Kind = "escrow"
	KindAccount Kind = "account"
)

// Group is a subscription group. Only a payout mutates it.
type Group struct {
	Address         string `json:"address"`
	Owner           string `json:"owner"`
	Name            string `json:"name"`
	TotalCost       uint64 `json:"total_cost"`
	SubscriptionDue int64  `json:"subscription_due"`
	MemberCount     uint8  `json:"member_count"`
	IsActive        bool   `json:"is_active"`
}

// DataSize returns the encoded size of the group's data fields.
func (g *Group) DataSize() int {
	return GroupFixedSize + len(g.Name)
}

// Member is one invitation against a group.
type Member struct {
	Address     string `json:"address"`
	Group       string `json:"group"`
	Authority   string `json:"authority"`
	Contributed uint64 `json:"contributed"`
	HasPaid     bool   `json:"has_paid"`
}

// Escrow tracks the funds held for a group. Its address is the group's
// derived authority, and Vault is the asset account that authority controls.
type Escrow struct {
	Address   string `json:"address"`
	Group     string `json:"group"`
	TotalHeld uint64 `json:"total_held"`
	Bump      uint8  `json:"bump"`
	Vault     string `json:"vault"`
}

// AssetAccount is a fungible balance owned by an authority. Only the
// authority can move funds out of it.
type AssetAccount struct {
	Address   string `json:"address"`
	Authority string `json:"authority"`
	Balance   uint64 `json:"balance"`
}

// Serialize converts a Group to JSON bytes for storage.
func (g *Group) Serialize() ([]byte, error) { return json.Marshal(g) }

// Deserialize populates a Group from JSON bytes.
func (g *Group) Deserialize(data []byte) error { return decode(data, g, KindGroup) }

// Serialize converts a Member to JSON bytes for storage.
func (m *Member) Serialize() ([]byte, error) { return json.Marshal(m) }

// Deserialize populates a Member from JSON bytes.
func (m *Member) Deserialize(data []byte) error { return decode(data, m, KindMember) }

// Serialize converts an Escrow to JSON bytes for storage.
func (e *Escrow) Serialize() ([]byte, error) { return json.Marshal(e) }

// Deserialize populates an Escrow from JSON bytes.
func (e *Escrow) Deserialize(data []byte) error { return decode(data, e, KindEscrow) }

// Serialize converts an AssetAccount to JSON bytes for storage.
func (a *AssetAccount) Serialize() ([]byte, error) { return json.Marshal(a) }

// Deserialize populates an AssetAccount from JSON bytes.
func (a *AssetAccount) Deserialize(data []byte) error { return decode(data, a, KindAccount) }

func decode(data []byte, v any, kind Kind) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}
