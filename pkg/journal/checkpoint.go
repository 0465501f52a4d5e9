package journal

import (
	"errors"
	"fmt"

	"github.com/transparency-dev/formats/log"
	"golang.org/x/mod/sumdb/note"
)

// Checkpoint commits to the journal at a given size.
type Checkpoint struct {
	Origin string `json:"origin"`
	Size   uint64 `json:"size"`
	Root   []byte `json:"root"`
}

// Body renders the checkpoint in tlog-checkpoint form.
func (c Checkpoint) Body() []byte {
	return log.Checkpoint{Origin: c.Origin, Size: c.Size, Hash: c.Root}.Marshal()
}

// SignedCheckpoint is a checkpoint together with its signed note.
type SignedCheckpoint struct {
	Checkpoint
	KeyName string `json:"key_name"`
	KeyHash uint32 `json:"key_hash"`
	Signed  []byte `json:"note"`
}

// Note returns the signed note: body, blank line, signature line.
func (s *SignedCheckpoint) Note() string {
	return string(s.Signed)
}

// Sign signs c with signer.
func Sign(c Checkpoint, signer note.Signer) (*SignedCheckpoint, error) {
	msg, err := note.Sign(&note.Note{Text: string(c.Body())}, signer)
	if err != nil {
		return nil, fmt.Errorf("signing checkpoint: %w", err)
	}
	return &SignedCheckpoint{Checkpoint: c, KeyName: signer.Name(), KeyHash: signer.KeyHash(), Signed: msg}, nil
}

var ErrBadCheckpoint = errors.New("bad checkpoint")

// ParseNote opens a signed checkpoint note and verifies it against v.
func ParseNote(text string, v note.Verifier) (*SignedCheckpoint, error) {
	n, err := note.Open([]byte(text), note.VerifierList(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	var c log.Checkpoint
	rest, err := c.Unmarshal([]byte(n.Text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: unexpected extension lines", ErrBadCheckpoint)
	}
	return &SignedCheckpoint{
		Checkpoint: Checkpoint{Origin: c.Origin, Size: c.Size, Root: c.Hash},
		KeyName:    v.Name(),
		KeyHash:    v.KeyHash(),
		Signed:     []byte(text),
	}, nil
}
