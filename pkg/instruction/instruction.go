// Package instruction defines the signed envelope clients submit to the
// ledger. The signed bytes are the canonical DAG-CBOR encoding of every
// field except the signature.
package instruction

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/principal"

	"github.com/relves/splitescrow/pkg/authority"
)

// Abilities accepted by the ledger.
const (
	AbilityCreate  = "escrow/create"
	AbilityInvite  = "escrow/invite"
	AbilityDeposit = "escrow/deposit"
	AbilityPayout  = "escrow/payout"
)

// ErrInvalid is returned for malformed instructions.
var ErrInvalid = errors.New("invalid instruction")

// Instruction is one call into the escrow program.
//
// The issuer is the signing authority: the owner for create, and the member
// authority for invite and deposit. Payout may be unsigned.
type Instruction struct {
	Ability string `json:"ability"`
	Issuer  string `json:"issuer,omitempty"`
	// Nonce distinguishes otherwise identical instructions.
	Nonce string `json:"nonce"`

	Group       string `json:"group,omitempty"`
	Member      string `json:"member,omitempty"`
	Escrow      string `json:"escrow,omitempty"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`

	Name            string `json:"name,omitempty"`
	TotalCost       uint64 `json:"total_cost,omitempty"`
	SubscriptionDue int64  `json:"subscription_due,omitempty"`
	Amount          uint64 `json:"amount,omitempty"`

	Signature []byte `json:"signature,omitempty"`
}

// Validate checks that the fields the ability needs are present.
func (ins *Instruction) Validate() error {
	if ins.Nonce == "" {
		return fmt.Errorf("%w: nonce is required", ErrInvalid)
	}

	var missing []string
	need := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	switch ins.Ability {
	case AbilityCreate:
		need("issuer", ins.Issuer)
	case AbilityInvite:
		need("issuer", ins.Issuer)
		need("group", ins.Group)
	case AbilityDeposit:
		need("issuer", ins.Issuer)
		need("group", ins.Group)
		need("member", ins.Member)
		need("source", ins.Source)
		need("destination", ins.Destination)
	case AbilityPayout:
		need("group", ins.Group)
		need("escrow", ins.Escrow)
		need("destination", ins.Destination)
	default:
		return fmt.Errorf("%w: unknown ability %q", ErrInvalid, ins.Ability)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %v", ErrInvalid, ins.Ability, missing)
	}
	return nil
}

// RequiredSigner returns the authority that must sign, or "" when the
// ability needs no signature.
func (ins *Instruction) RequiredSigner() string {
	if ins.Ability == AbilityPayout {
		return ""
	}
	return ins.Issuer
}

// Payload returns the canonical bytes that are signed.
func (ins *Instruction) Payload() ([]byte, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	ma, err := nb.BeginMap(13)
	if err != nil {
		return nil, err
	}
	str := func(k, v string) {
		ma.AssembleKey().AssignString(k)
		ma.AssembleValue().AssignString(v)
	}
	num := func(k string, v int64) {
		ma.AssembleKey().AssignString(k)
		ma.AssembleValue().AssignInt(v)
	}
	// Token amounts are u64, wider than the IPLD int range.
	amount := func(k string, v uint64) {
		ma.AssembleKey().AssignString(k)
		ma.AssembleValue().AssignBytes(binary.BigEndian.AppendUint64(nil, v))
	}
	str("ability", ins.Ability)
	str("issuer", ins.Issuer)
	str("nonce", ins.Nonce)
	str("group", ins.Group)
	str("member", ins.Member)
	str("escrow", ins.Escrow)
	str("source", ins.Source)
	str("destination", ins.Destination)
	str("name", ins.Name)
	amount("total_cost", ins.TotalCost)
	num("subscription_due", ins.SubscriptionDue)
	amount("amount", ins.Amount)
	str("v", "1")
	if err := ma.Finish(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dagcbor.Encode(nb.Build(), &buf); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// CID identifies the instruction by its payload.
func (ins *Instruction) CID() (cid.Cid, error) {
	payload, err := ins.Payload()
	if err != nil {
		return cid.Undef, err
	}
	hash, err := mh.Sum(payload, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(uint64(multicodec.DagCbor), hash), nil
}

// Sign sets the issuer to the signer's DID and signs the payload.
func (ins *Instruction) Sign(s principal.Signer) error {
	ins.Issuer = s.DID().String()
	payload, err := ins.Payload()
	if err != nil {
		return err
	}
	ins.Signature = s.Sign(payload).Raw()
	return nil
}

// Verify checks the issuer's signature. An instruction without issuer and
// signature verifies trivially.
func (ins *Instruction) Verify() error {
	if ins.Issuer == "" && len(ins.Signature) == 0 {
		return nil
	}
	if ins.Issuer == "" {
		return fmt.Errorf("%w: signature without issuer", ErrInvalid)
	}
	payload, err := ins.Payload()
	if err != nil {
		return err
	}
	return authority.VerifySignature(ins.Issuer, payload, ins.Signature)
}

// Encode returns the JSON envelope, signature included.
func (ins *Instruction) Encode() ([]byte, error) {
	return json.Marshal(ins)
}

// Decode parses a JSON envelope.
func Decode(data []byte) (*Instruction, error) {
	var ins Instruction
	if err := json.Unmarshal(data, &ins); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &ins, nil
}

// EncodeString returns the envelope as base64, the form carried in
// capability caveats.
func (ins *Instruction) EncodeString() (string, error) {
	data, err := ins.Encode()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeString parses a base64 envelope.
func DecodeString(s string) (*Instruction, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalid, err)
	}
	return Decode(data)
}
