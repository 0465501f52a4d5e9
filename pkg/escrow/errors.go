package escrow

import "fmt"

// Code is the stable, machine-readable kind of a program failure.
type Code string

const (
	CodeInactiveGroup    Code = "InactiveGroup"
	CodeAlreadyPaid      Code = "AlreadyPaid"
	CodeTooEarly         Code = "TooEarly"
	CodeAllocation       Code = "AllocationError"
	CodeConstraint       Code = "ConstraintViolation"
	CodeMissingSignature Code = "MissingSignature"
	CodeNotFound         Code = "AccountNotFound"
	CodeAlreadyInvited   Code = "AlreadyInvited"
	CodeMemberLimit      Code = "MemberLimit"
	CodeOverflow         Code = "Overflow"
)

// ProgramError is a failure raised by the escrow program itself.
type ProgramError struct {
	Code    Code
	Message string
	Detail  string
}

func (e *ProgramError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + " " + e.Detail
}

// Is matches any ProgramError with the same code.
func (e *ProgramError) Is(target error) bool {
	t, ok := target.(*ProgramError)
	return ok && t.Code == e.Code
}

var (
	ErrInactiveGroup    = &ProgramError{Code: CodeInactiveGroup, Message: "Group is no longer active."}
	ErrAlreadyPaid      = &ProgramError{Code: CodeAlreadyPaid, Message: "Member has already paid."}
	ErrTooEarly         = &ProgramError{Code: CodeTooEarly, Message: "Payout attempted before due time."}
	ErrAllocation       = &ProgramError{Code: CodeAllocation, Message: "Record allocation failed."}
	ErrConstraint       = &ProgramError{Code: CodeConstraint, Message: "A record constraint was violated."}
	ErrMissingSignature = &ProgramError{Code: CodeMissingSignature, Message: "Required signature is missing."}
	ErrNotFound         = &ProgramError{Code: CodeNotFound, Message: "Referenced record does not exist."}
	ErrAlreadyInvited   = &ProgramError{Code: CodeAlreadyInvited, Message: "Authority is already a member of this group."}
	ErrMemberLimit      = &ProgramError{Code: CodeMemberLimit, Message: "Group has reached its member limit."}
	ErrOverflow         = &ProgramError{Code: CodeOverflow, Message: "Arithmetic overflow."}
)

func fail(base *ProgramError, format string, args ...any) *ProgramError {
	return &ProgramError{Code: base.Code, Message: base.Message, Detail: fmt.Sprintf(format, args...)}
}
