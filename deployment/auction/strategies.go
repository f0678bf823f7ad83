package auction

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction/contracts"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/operations"
)

// UpgradeArtifact is the logic every upgrade strategy moves to.
var UpgradeArtifact = contracts.NFTAuctionV2

// UpgradeVersion is the version recorded for UpgradeArtifact.
var UpgradeVersion = deployment.Version2_0_0

type StrategyInput struct {
	Bundle operations.Bundle
	Record DeploymentRecord
}

// StrategyResult is what a strategy changed on chain.
type StrategyResult struct {
	Implementation common.Address
	// Batch is set by BatchRepoint only.
	Batch   *BatchReport
	Partial *PartialBatchError
}

var (
	InPlaceUpgrade     = deployment.CreateChangeSet(applyInPlace, verifyUpgradePreconditions)
	SwapImplementation = deployment.CreateChangeSet(applySwap, verifyUpgradePreconditions)
	BatchRepoint       = deployment.CreateChangeSet(applyBatch, verifyUpgradePreconditions)
)

// Strategy returns the change set for an upgrade intent.
func Strategy(intent Intent) (deployment.ChangeSetV2[StrategyInput, StrategyResult], error) {
	switch intent {
	case IntentInPlaceUpgrade:
		return InPlaceUpgrade, nil
	case IntentSwapImplementation:
		return SwapImplementation, nil
	case IntentBatchRepoint:
		return BatchRepoint, nil
	default:
		return nil, errors.Wrapf(deployment.ErrInvalidConfig, "%s is not an upgrade strategy", intent)
	}
}

// verifyUpgradePreconditions refuses a record that would fail verification for reasons
// no strategy changes. Liveness and chain id are checked before this by the caller.
func verifyUpgradePreconditions(e deployment.Environment, in StrategyInput) error {
	if e.Signer(RoleDeployer) == nil {
		return errors.Wrap(deployment.ErrInvalidEnvironment, "no deployer signer")
	}
	if _, err := e.Artifacts.Artifact(UpgradeArtifact); err != nil {
		return errors.Wrap(deployment.ErrInvalidEnvironment, err.Error())
	}
	if err := in.Record.Validate(); err != nil {
		return err
	}
	if found := accountDiscrepancies(in.Record, e.Accounts()); len(found) > 0 {
		return &VerificationFailedError{Discrepancies: found}
	}
	return nil
}

func setFactoryImplementation(e deployment.Environment, b operations.Bundle, factory, impl common.Address) error {
	_, err := operations.ExecuteOperation(b, CallContractOp, e.Network, CallInput{
		To:     factory,
		Fn:     contracts.FuncSetAuctionImplementation,
		Args:   []any{impl},
		Signer: e.Signer(RoleDeployer),
	})
	return errors.Wrap(err, "set factory implementation")
}

// applyInPlace upgrades the ledger's auction proxy, then points the factory at the
// same implementation so new auctions get it too.
func applyInPlace(e deployment.Environment, in StrategyInput) (StrategyResult, error) {
	artifact, err := e.Artifacts.Artifact(UpgradeArtifact)
	if err != nil {
		return StrategyResult{}, err
	}
	impl, err := operations.ExecuteOperation(in.Bundle, UpgradeProxyOp, e.Network, UpgradeProxyInput{
		Proxy:    in.Record.Auction.ProxyAddress,
		Artifact: artifact,
		Signer:   e.Signer(RoleDeployer),
	})
	if err != nil {
		return StrategyResult{}, err
	}
	if err := setFactoryImplementation(e, in.Bundle, in.Record.Factory.Address, impl); err != nil {
		return StrategyResult{}, err
	}
	return StrategyResult{Implementation: impl}, nil
}

// applySwap deploys a fresh implementation and re-points the factory. Existing proxies,
// the ledger's own included, keep their implementation.
func applySwap(e deployment.Environment, in StrategyInput) (StrategyResult, error) {
	artifact, err := e.Artifacts.Artifact(UpgradeArtifact)
	if err != nil {
		return StrategyResult{}, err
	}
	impl, err := operations.ExecuteOperation(in.Bundle, DeployContractOp, e.Network, DeployInput{
		Artifact: artifact,
		Signer:   e.Signer(RoleDeployer),
	})
	if err != nil {
		return StrategyResult{}, err
	}
	if err := setFactoryImplementation(e, in.Bundle, in.Record.Factory.Address, impl); err != nil {
		return StrategyResult{}, err
	}
	return StrategyResult{Implementation: impl}, nil
}

// applyBatch deploys one implementation, points the factory at it and then re-points
// every instance the factory knows, strictly in order. The first failure stops the
// batch; instances already re-pointed stay re-pointed.
//
// When the previous batch stopped part way and the factory still points at its
// implementation, that implementation is reused and instances already on it are skipped.
func applyBatch(e deployment.Environment, in StrategyInput) (StrategyResult, error) {
	b, net, rec := in.Bundle, e.Network, in.Record
	ctx := b.GetContext()

	impl, resumed, err := batchImplementation(ctx, e, b, rec)
	if err != nil {
		return StrategyResult{}, err
	}
	if !resumed {
		if err := setFactoryImplementation(e, b, rec.Factory.Address, impl); err != nil {
			return StrategyResult{}, err
		}
	}
	if err := confirmFactory(ctx, net, rec, IntentBatchRepoint, impl); err != nil {
		return StrategyResult{}, err
	}

	instances, err := net.ListInstances(ctx, rec.Factory.Address)
	if err != nil {
		return StrategyResult{}, errors.Wrap(err, "list auction instances")
	}
	report := &BatchReport{
		Implementation: impl,
		Instances:      instances,
		Upgraded:       []common.Address{},
	}
	b.Logger.Infow("Re-pointing auction instances", "implementation", impl, "instances", len(instances), "resumed", resumed)

	for i, instance := range instances {
		if err := ctx.Err(); err != nil {
			return StrategyResult{}, err
		}
		current, err := net.GetImplementationAddress(ctx, instance)
		if err == nil && current == impl {
			report.Skipped = append(report.Skipped, instance)
			continue
		}
		if err == nil {
			_, err = operations.ExecuteOperation(b, UpgradeProxyToOp, net, UpgradeProxyToInput{
				Proxy:          instance,
				Implementation: impl,
				Signer:         e.Signer(RoleDeployer),
			})
		}
		if err != nil {
			failedAt := instance
			report.FailedAt = &failedAt
			report.Error = err.Error()
			report.NotAttempted = append([]common.Address{}, instances[i+1:]...)
			b.Logger.Errorw("Batch re-point stopped", "instance", instance, "index", i, "upgraded", len(report.Upgraded), "err", err)
			return StrategyResult{
				Implementation: impl,
				Batch:          report,
				Partial: &PartialBatchError{
					Implementation: impl,
					Upgraded:       report.Upgraded,
					FailedAt:       instance,
					Err:            err,
					NotAttempted:   report.NotAttempted,
				},
			}, nil
		}
		report.Upgraded = append(report.Upgraded, instance)
	}
	return StrategyResult{Implementation: impl, Batch: report}, nil
}

func batchImplementation(ctx context.Context, e deployment.Environment, b operations.Bundle, rec DeploymentRecord) (common.Address, bool, error) {
	if last := rec.LastBatch; last != nil && !last.Complete() {
		current, err := ReadFactoryImplementation(ctx, e.Network, rec)
		if err == nil && current.Ok() && current.Value == last.Implementation {
			b.Logger.Infow("Resuming incomplete batch", "implementation", last.Implementation, "failedAt", last.FailedAt)
			return last.Implementation, true, nil
		}
	}
	artifact, err := e.Artifacts.Artifact(UpgradeArtifact)
	if err != nil {
		return common.Address{}, false, err
	}
	impl, err := operations.ExecuteOperation(b, DeployContractOp, e.Network, DeployInput{
		Artifact: artifact,
		Signer:   e.Signer(RoleDeployer),
	})
	return impl, false, err
}

// confirmFactory reads the factory pointer and requires it to be impl.
func confirmFactory(ctx context.Context, net deployment.Network, rec DeploymentRecord, intent Intent, impl common.Address) error {
	got, err := ReadFactoryImplementation(ctx, net, rec)
	if err != nil || !got.Ok() {
		if err == nil {
			err = errors.Errorf("answer came from %s: %s", got.Strategy, got.Reason)
		}
		return &PostUpgradeVerificationError{Strategy: intent, Target: "factory implementation", Expected: impl, Err: err}
	}
	if got.Value != impl {
		return &PostUpgradeVerificationError{Strategy: intent, Target: "factory implementation", Expected: impl, Actual: got.Value}
	}
	return nil
}

// confirmProxy reads a proxy's implementation slot and requires it to be impl.
func confirmProxy(ctx context.Context, net deployment.Network, intent Intent, proxy, impl common.Address) error {
	got, err := net.GetImplementationAddress(ctx, proxy)
	if err != nil {
		return &PostUpgradeVerificationError{Strategy: intent, Target: "proxy " + proxy.Hex(), Expected: impl, Err: err}
	}
	if got != impl {
		return &PostUpgradeVerificationError{Strategy: intent, Target: "proxy " + proxy.Hex(), Expected: impl, Actual: got}
	}
	return nil
}

// confirmUpgrade re-reads what a strategy changed.
func confirmUpgrade(ctx context.Context, net deployment.Network, rec DeploymentRecord, intent Intent, res StrategyResult) error {
	if err := confirmFactory(ctx, net, rec, intent, res.Implementation); err != nil {
		return err
	}
	switch intent {
	case IntentInPlaceUpgrade:
		return confirmProxy(ctx, net, intent, rec.Auction.ProxyAddress, res.Implementation)
	case IntentBatchRepoint:
		if res.Batch == nil {
			return nil
		}
		for _, instance := range res.Batch.Upgraded {
			if err := confirmProxy(ctx, net, intent, instance, res.Implementation); err != nil {
				return err
			}
		}
	}
	return nil
}
