package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/core/result/failure"
	"github.com/storacha/go-ucanto/core/schema"
	ucantoServer "github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/server/transaction"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/storacha/go-ucanto/validator"

	"github.com/relves/splitescrow/pkg/capabilities"
)

// ProvideWithoutAuth is like ucantoServer.Provide but skips UCAN authorization.
// Authorization is expected to be handled in the handler: the caveats carry a
// signed instruction and the ledger checks its signature.
func ProvideWithoutAuth[C any, O ipld.Builder, X failure.IPLDBuilderFailure](
	capability validator.CapabilityParser[C],
	handler ucantoServer.HandlerFunc[C, O, X],
) ucantoServer.ServiceMethod[O, failure.IPLDBuilderFailure] {
	return func(ctx context.Context, inv invocation.Invocation, ictx ucantoServer.InvocationContext) (transaction.Transaction[O, failure.IPLDBuilderFailure], error) {
		// Confirm the audience of the invocation is this service
		acceptedAudiences := schema.Literal(ictx.ID().DID().String())
		if len(ictx.AlternativeAudiences()) > 0 {
			altAudiences := make([]schema.Reader[string, string], 0, len(ictx.AlternativeAudiences()))
			for _, a := range ictx.AlternativeAudiences() {
				altAudiences = append(altAudiences, schema.Literal(a.DID().String()))
			}
			acceptedAudiences = schema.Or(append(altAudiences, acceptedAudiences)...)
		}

		if _, err := acceptedAudiences.Read(inv.Audience().DID().String()); err != nil {
			expectedAudiences := append([]ucan.Principal{ictx.ID()}, ictx.AlternativeAudiences()...)
			audErr := ucantoServer.NewInvalidAudienceError(inv.Audience(), expectedAudiences...)
			return transaction.NewTransaction(result.Error[O, failure.IPLDBuilderFailure](audErr)), nil
		}

		// Parse the capability WITHOUT full UCAN authorization
		// We just need to extract and validate the capability schema
		caps := inv.Capabilities()
		if len(caps) == 0 {
			return transaction.NewTransaction(result.Error[O](failure.FromError(fmt.Errorf("no capabilities in invocation")))), nil
		}

		// Create a source from the first capability (invocation is self-issued, so delegation is itself)
		source := validator.NewSource(caps[0], inv)

		// Match the capability against the expected schema
		match, invalidCap := capability.Match(source)
		if invalidCap != nil {
			return transaction.NewTransaction(result.Error[O](failure.FromError(invalidCap))), nil
		}

		// Get the parsed capability from the match
		// The match contains the capability with properly typed caveats
		parsedCap := match.Value()

		res, effects, herr := handler(ctx, parsedCap, inv, ictx)
		if herr != nil {
			return nil, herr
		}

		return transaction.NewTransaction(
			result.MapResultR0(
				res,
				func(o O) O { return o },
				func(x X) failure.IPLDBuilderFailure { return x },
			),
			transaction.WithEffects(effects),
		), nil
	}
}

// NewServer creates a ucanto server exposing the escrow abilities.
//
// Parameters:
//   - opts: Configuration options (WithSigner, WithLedger, WithValidator, WithLogger)
//
// Returns a UCanto server ready to handle HTTP requests.
func NewServer(opts ...Option) (ucantoServer.ServerView[ucantoServer.Service], error) {
	cfg := applyOptions(opts...)

	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}

	return ucantoServer.NewServer(
		cfg.Signer,
		// Instructions carry their own signatures, so every method uses
		// ProvideWithoutAuth and the ledger verifies the signed envelope.
		ucantoServer.WithServiceMethod(
			capabilities.EscrowCreate.Can(),
			ProvideWithoutAuth(
				capabilities.EscrowCreate,
				executeHandler(cfg.Ledger, cfg.Validator, cfg.Logger),
			),
		),
		ucantoServer.WithServiceMethod(
			capabilities.EscrowInvite.Can(),
			ProvideWithoutAuth(
				capabilities.EscrowInvite,
				executeHandler(cfg.Ledger, cfg.Validator, cfg.Logger),
			),
		),
		ucantoServer.WithServiceMethod(
			capabilities.EscrowDeposit.Can(),
			ProvideWithoutAuth(
				capabilities.EscrowDeposit,
				executeHandler(cfg.Ledger, cfg.Validator, cfg.Logger),
			),
		),
		// Payout needs no member signature; anyone may trigger it once due.
		ucantoServer.WithServiceMethod(
			capabilities.EscrowPayout.Can(),
			ProvideWithoutAuth(
				capabilities.EscrowPayout,
				executeHandler(cfg.Ledger, cfg.Validator, cfg.Logger),
			),
		),
	)
}
