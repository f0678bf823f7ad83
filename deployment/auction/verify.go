package auction

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
)

// Verifier re-reads the chain and compares it with a ledger record.
type Verifier struct {
	net      deployment.Network
	prober   *deployment.Prober
	accounts map[string]common.Address
	lggr     *zap.SugaredLogger
}

// NewVerifier checks records against net. accounts are the signer addresses the
// environment expects for each role; roles it has no signer for are not compared.
func NewVerifier(lggr *zap.SugaredLogger, net deployment.Network, accounts map[string]common.Address) *Verifier {
	return &Verifier{
		net:      net,
		prober:   deployment.NewProber(net),
		accounts: accounts,
		lggr:     lggr,
	}
}

// Verify returns nil or a *VerificationFailedError listing every discrepancy. Reads that
// fail become discrepancies with a Reason; only context cancellation is returned as is.
func (v *Verifier) Verify(ctx context.Context, rec DeploymentRecord) error {
	var (
		found    []Discrepancy
		readErrs error
	)
	fail := func(field, expected string, err error) {
		readErrs = multierr.Append(readErrs, fmt.Errorf("%s: %w", field, err))
		found = append(found, Discrepancy{Field: field, Expected: expected, Reason: err.Error()})
	}

	if id, err := v.net.ChainID(ctx); err != nil {
		fail("chainId", fmt.Sprint(rec.ChainID), err)
	} else if id.Uint64() != rec.ChainID {
		found = append(found, Discrepancy{Field: "chainId", Expected: fmt.Sprint(rec.ChainID), Actual: id.String()})
	}

	factoryImpl, err := ReadFactoryImplementation(ctx, v.net, rec)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case !factoryImpl.Ok():
		reason := fmt.Sprintf("cannot confirm through %s, answer came from %q", ReadFactoryGetter, factoryImpl.Strategy)
		if factoryImpl.Reason != "" {
			reason += ": " + factoryImpl.Reason
		}
		if err != nil {
			readErrs = multierr.Append(readErrs, err)
		}
		found = append(found, Discrepancy{
			Field:    "auction.implementationAddress",
			Expected: rec.Auction.ImplementationAddress.Hex(),
			Actual:   factoryImpl.Value.Hex(),
			Reason:   reason,
		})
	case factoryImpl.Value != rec.Auction.ImplementationAddress:
		found = append(found, Discrepancy{
			Field:    "auction.implementationAddress",
			Expected: rec.Auction.ImplementationAddress.Hex(),
			Actual:   factoryImpl.Value.Hex(),
		})
	}

	if impl, err := v.net.GetImplementationAddress(ctx, rec.Auction.ProxyAddress); err != nil {
		fail("auction.proxyImplementationAddress", rec.Auction.ProxyImplementationAddress.Hex(), err)
	} else if impl != rec.Auction.ProxyImplementationAddress {
		found = append(found, Discrepancy{
			Field:    "auction.proxyImplementationAddress",
			Expected: rec.Auction.ProxyImplementationAddress.Hex(),
			Actual:   impl.Hex(),
		})
	}

	probes, err := v.prober.ProbeAll(ctx, rec.Addresses())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fail("code", "deployed code at every recorded address", err)
	}
	for _, dead := range deployment.Dead(probes) {
		found = append(found, Discrepancy{
			Field:    dead.Name,
			Expected: "deployed code at " + dead.Address.Hex(),
			Actual:   "no code",
		})
	}

	found = append(found, accountDiscrepancies(rec, v.accounts)...)

	if readErrs != nil {
		v.lggr.Warnw("Verification reads failed", "errors", multierr.Errors(readErrs))
	}
	if len(found) > 0 {
		return &VerificationFailedError{Discrepancies: found}
	}
	v.lggr.Infow("Verification passed", "network", rec.Network, "addresses", len(probes))
	return nil
}

// accountDiscrepancies compares the recorded roles with the signer addresses in accounts.
// Roles with no signer are not compared.
func accountDiscrepancies(rec DeploymentRecord, accounts map[string]common.Address) []Discrepancy {
	var found []Discrepancy
	for _, role := range rec.Roles() {
		expected, ok := accounts[role]
		if !ok {
			continue
		}
		if recorded := rec.Accounts[role]; recorded != expected {
			found = append(found, Discrepancy{
				Field:    "accounts." + role,
				Expected: expected.Hex(),
				Actual:   recorded.Hex(),
			})
		}
	}
	return found
}
