package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/receipt/fx"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/relves/splitescrow/pkg/capabilities"
	"github.com/relves/splitescrow/pkg/instruction"
	"github.com/relves/splitescrow/pkg/ledger"
)

// Failure names that do not come from the ledger.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidInstruction = "InvalidInstruction"
	ErrCodeAbilityMismatch    = "AbilityMismatch"
	ErrCodeIssuerMismatch     = "IssuerMismatch"
)

type executeResult = result.Result[capabilities.ExecuteSuccess, capabilities.ExecuteFailure]

func executeFailure(name, message string) executeResult {
	return result.Error[capabilities.ExecuteSuccess](capabilities.NewExecuteFailure(name, message))
}

// executeHandler returns a handler that submits the instruction carried in
// the caveats. The same handler serves every escrow/* ability.
func executeHandler(l *ledger.Ledger, validator RequestValidator, logger *slog.Logger) server.HandlerFunc[capabilities.InstructionCaveats, capabilities.ExecuteSuccess, capabilities.ExecuteFailure] {
	return func(
		ctx context.Context,
		cap ucan.Capability[capabilities.InstructionCaveats],
		inv invocation.Invocation,
		ictx server.InvocationContext,
	) (executeResult, fx.Effects, error) {
		// Validate request if validator is configured
		if validator != nil {
			if err := validator.ValidateRequest(ctx, inv); err != nil {
				var vErr *ValidationError
				if errors.As(err, &vErr) {
					return executeFailure(vErr.Code, vErr.Message), nil, nil
				}
				return executeFailure(ErrCodeValidation, err.Error()), nil, nil
			}
		}

		ins, err := instruction.DecodeString(cap.Nb().Instruction)
		if err != nil {
			return executeFailure(ErrCodeInvalidInstruction, err.Error()), nil, nil
		}
		if ins.Ability != cap.Can() {
			return executeFailure(ErrCodeAbilityMismatch,
				fmt.Sprintf("instruction is %s, invoked as %s", ins.Ability, cap.Can())), nil, nil
		}
		// The resource names the acting authority. Unsigned payouts may be
		// invoked on any resource.
		if ins.Issuer != "" && cap.With() != ins.Issuer {
			return executeFailure(ErrCodeIssuerMismatch,
				fmt.Sprintf("instruction issued by %s, invoked on %s", ins.Issuer, cap.With())), nil, nil
		}

		rcpt, err := l.Submit(ctx, ins)
		if err != nil {
			code := ledger.ErrorCode(err)
			if code == ledger.CodeInternal {
				logger.Error("failed to execute instruction", "ability", ins.Ability, "error", err)
			}
			return executeFailure(code, err.Error()), nil, nil
		}

		return result.Ok[capabilities.ExecuteSuccess, capabilities.ExecuteFailure](capabilities.ExecuteSuccess{
			Seq:         rcpt.Seq,
			Instruction: rcpt.Instruction,
			Root:        hex.EncodeToString(rcpt.Root),
			Created:     rcpt.Created,
		}), nil, nil
	}
}
