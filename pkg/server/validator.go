package server

import (
	"context"

	"github.com/storacha/go-ucanto/core/invocation"
)

// RequestValidator screens escrow invocations before their instruction is
// decoded and submitted to the ledger. Implementations can enforce rate
// limits or an allow list of invokers.
type RequestValidator interface {
	// ValidateRequest is called before each escrow/* invocation.
	// Return nil to allow the request, or an error to reject it.
	// The error message is returned as the invocation failure.
	ValidateRequest(ctx context.Context, inv invocation.Invocation) error
}

// ValidationError represents a validation failure with structured info.
type ValidationError struct {
	Code    string // Machine-readable failure name (e.g., "RATE_LIMITED")
	Message string // Human-readable message
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}
