package ledger

import (
	"errors"

	"github.com/relves/splitescrow/pkg/asset"
	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/escrow"
	"github.com/relves/splitescrow/pkg/instruction"
)

var (
	ErrDuplicateInstruction = errors.New("instruction already processed")
	ErrMissingSignature     = errors.New("instruction is not signed")
)

// CodeInternal marks failures of the host rather than the program.
const CodeInternal = "Internal"

// ErrorCode maps an error to the code reported in receipts and API responses.
func ErrorCode(err error) string {
	var pe *escrow.ProgramError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return string(pe.Code)
	case errors.Is(err, asset.ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, asset.ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, asset.ErrAccountNotFound):
		return "AccountNotFound"
	case errors.Is(err, asset.ErrAccountExists):
		return "AccountExists"
	case errors.Is(err, asset.ErrOverflow):
		return "Overflow"
	case errors.Is(err, ErrDuplicateInstruction):
		return "DuplicateInstruction"
	case errors.Is(err, ErrMissingSignature):
		return "MissingSignature"
	case errors.Is(err, authority.ErrInvalidSignature), errors.Is(err, authority.ErrUnsupportedKey):
		return "InvalidSignature"
	case errors.Is(err, instruction.ErrInvalid):
		return "InvalidInstruction"
	default:
		return CodeInternal
	}
}

// IsRejected reports whether err was raised before execution, so no
// receipt was journaled.
func IsRejected(err error) bool {
	switch ErrorCode(err) {
	case "DuplicateInstruction", "MissingSignature", "InvalidSignature", "InvalidInstruction":
		return true
	}
	return false
}
