package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/operations"
)

// Ledger timestamps are kept to the second.
const timeResolution = time.Second

type Option func(*Orchestrator)

func WithBootstrapConfig(cfg BootstrapConfig) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithRunIDs replaces the uuid run id generator.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) { o.newRunID = next }
}

// Orchestrator decides, from the ledger and the chain, what a run must do and does it.
// A run loads the ledger once and saves it at most once, after the chain has been
// verified against the record about to be written.
type Orchestrator struct {
	env      deployment.Environment
	store    *deployment.FileStore[DeploymentRecord]
	cfg      BootstrapConfig
	newRunID func() string
}

func NewOrchestrator(env deployment.Environment, store *deployment.FileStore[DeploymentRecord], opts ...Option) *Orchestrator {
	o := &Orchestrator{
		env:      env,
		store:    store,
		cfg:      DefaultBootstrapConfig(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) verifier(lggr *zap.SugaredLogger) *Verifier {
	return NewVerifier(lggr, o.env.Network, o.env.Accounts())
}

// Run executes intent. Without a ledger every intent bootstraps, and nothing else
// happens in that run. Bootstrap with a ledger only verifies it.
func (o *Orchestrator) Run(ctx context.Context, intent Intent) (Outcome, error) {
	unlock, err := o.store.Lock()
	if err != nil {
		return Outcome{}, err
	}
	runID := o.newRunID()
	lggr := o.env.Logger.With("runId", runID, "intent", intent.String(), "network", o.env.Name)
	defer func() {
		if err := unlock(); err != nil {
			lggr.Warnw("Failed to release ledger lock", "err", err)
		}
	}()

	env := o.env
	env.Logger = lggr
	env.GetContext = func() context.Context { return ctx }
	b := operations.Bundle{Logger: lggr, GetContext: env.GetContext, Reporter: operations.NewReporter()}

	out, err := o.run(ctx, env, b, intent, runID)
	out.RunID = runID
	out.Operations = b.Reporter.IDs()
	if err != nil {
		lggr.Errorw("Run failed", "state", out.State, "operations", len(out.Operations), "err", err)
		return out, err
	}
	lggr.Infow("Run finished", "state", out.State, "outcome", out.Summary(), "operations", len(out.Operations))
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, env deployment.Environment, b operations.Bundle, intent Intent, runID string) (Outcome, error) {
	rec, err := o.store.Load(ctx)
	switch {
	case errors.Is(err, deployment.ErrLedgerNotFound):
		env.Logger.Infow("No ledger found, bootstrapping", "path", o.store.Path())
		return o.bootstrap(ctx, env, b, runID)
	case err != nil:
		return Outcome{}, err
	}

	if err := o.checkLive(ctx, env, rec); err != nil {
		return Outcome{State: StateStale}, err
	}

	if intent == IntentBootstrap {
		if err := o.verifier(env.Logger).Verify(ctx, rec); err != nil {
			return Outcome{State: StateDeployed}, err
		}
		return Outcome{Kind: OutcomeNoOpAlreadyDeployed, State: StateDeployed, Implementation: rec.Auction.ImplementationAddress, Record: &rec}, nil
	}
	if !intent.IsUpgrade() {
		return Outcome{}, errors.Wrapf(deployment.ErrInvalidConfig, "unknown intent %s", intent)
	}

	state, err := o.classify(ctx, env, rec)
	if err != nil {
		return Outcome{}, err
	}
	switch state {
	case StateAlreadyUpgradedConsistent:
		env.Logger.Infow("Already upgraded", "implementation", rec.Auction.ImplementationAddress, "upgradeTime", rec.Auction.UpgradeTime)
		return Outcome{Kind: OutcomeNoOpAlreadyUpgraded, State: state, Implementation: rec.Auction.ImplementationAddress, Record: &rec}, nil
	case StateAlreadyUpgradedInconsistent:
		env.Logger.Warnw("Ledger says upgraded but the chain disagrees, upgrading again", "ledgerImplementation", rec.Auction.ImplementationAddress)
	}
	return o.upgrade(ctx, env, b, rec, intent, state, runID)
}

func (o *Orchestrator) bootstrap(ctx context.Context, env deployment.Environment, b operations.Bundle, runID string) (Outcome, error) {
	out := Outcome{State: StateBootstrap}
	rec, err := deployment.ApplyChangeSet(env, Bootstrap, BootstrapInput{Bundle: b, Config: o.cfg})
	if err != nil {
		return out, errors.Wrap(err, "bootstrap")
	}
	rec.LastRunID = runID
	if err := o.verifier(env.Logger).Verify(ctx, rec); err != nil {
		return out, err
	}
	if err := o.store.Save(ctx, rec); err != nil {
		return out, err
	}
	env.Logger.Infow("Ledger written", "path", o.store.Path(), "proxy", rec.Auction.ProxyAddress, "factory", rec.Factory.Address)
	out.Kind = OutcomeDeployed
	out.Implementation = rec.Auction.ImplementationAddress
	out.Record = &rec
	return out, nil
}

// checkLive fails with a *StaleLedgerError when the chain id changed or any address the
// ledger records has no code. It runs before anything is sent.
func (o *Orchestrator) checkLive(ctx context.Context, env deployment.Environment, rec DeploymentRecord) error {
	id, err := env.Network.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "read chain id")
	}
	probes, err := deployment.NewProber(env.Network).ProbeAll(ctx, rec.Addresses())
	if err != nil {
		return err
	}
	dead := deployment.Dead(probes)
	if len(dead) > 0 || id.Uint64() != rec.ChainID {
		stale := &StaleLedgerError{Network: rec.Network, Dead: dead, ExpectedChainID: rec.ChainID, ActualChainID: id.Uint64()}
		env.Logger.Errorw("Stale ledger", "dead", len(dead), "chainId", id, "ledgerChainId", rec.ChainID)
		return stale
	}
	return nil
}

// classify decides whether an upgraded ledger still matches the chain. Anything short
// of an authoritative read that matches counts as inconsistent.
func (o *Orchestrator) classify(ctx context.Context, env deployment.Environment, rec DeploymentRecord) (State, error) {
	if !rec.Auction.Upgraded {
		return StateNeedsUpgrade, nil
	}
	factoryImpl, err := ReadFactoryImplementation(ctx, env.Network, rec)
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if err != nil || !factoryImpl.Ok() {
		env.Logger.Warnw("Cannot confirm factory implementation", "strategy", factoryImpl.Strategy, "status", factoryImpl.Status, "reason", factoryImpl.Reason)
		return StateAlreadyUpgradedInconsistent, nil
	}
	if factoryImpl.Value != rec.Auction.ImplementationAddress {
		env.Logger.Warnw("Factory implementation differs from ledger", "chain", factoryImpl.Value, "ledger", rec.Auction.ImplementationAddress)
		return StateAlreadyUpgradedInconsistent, nil
	}
	proxyImpl, err := env.Network.GetImplementationAddress(ctx, rec.Auction.ProxyAddress)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		env.Logger.Warnw("Cannot read auction proxy implementation", "err", err)
		return StateAlreadyUpgradedInconsistent, nil
	}
	if proxyImpl != rec.Auction.ProxyImplementationAddress {
		env.Logger.Warnw("Auction proxy implementation differs from ledger", "chain", proxyImpl, "ledger", rec.Auction.ProxyImplementationAddress)
		return StateAlreadyUpgradedInconsistent, nil
	}
	return StateAlreadyUpgradedConsistent, nil
}

func (o *Orchestrator) upgrade(ctx context.Context, env deployment.Environment, b operations.Bundle, rec DeploymentRecord, intent Intent, state State, runID string) (Outcome, error) {
	out := Outcome{State: state}
	cs, err := Strategy(intent)
	if err != nil {
		return out, err
	}
	res, err := deployment.ApplyChangeSet(env, cs, StrategyInput{Bundle: b, Record: rec})
	if err != nil {
		return out, err
	}
	if err := confirmUpgrade(ctx, env.Network, rec, intent, res); err != nil {
		return out, err
	}
	proxyImpl, err := env.Network.GetImplementationAddress(ctx, rec.Auction.ProxyAddress)
	if err != nil {
		return out, errors.Wrap(err, "read auction proxy implementation")
	}

	now := env.Clock.Now().UTC().Truncate(timeResolution)
	next := rec
	next.Auction.ImplementationAddress = res.Implementation
	next.Auction.ProxyImplementationAddress = proxyImpl
	next.Auction.Logic = deployment.NewTypeAndVersion(UpgradeArtifact, UpgradeVersion)
	// labelled with the strategy that moved it
	next.Auction.Logic.AddLabel(intent.String())
	next.Auction.Strategy = intent.String()
	next.Auction.Upgraded = res.Partial == nil
	if next.Auction.Upgraded {
		next.Auction.UpgradeTime = &now
	}
	if res.Batch != nil {
		res.Batch.CompletedAt = now
		next.LastBatch = res.Batch
	}
	next.LastRunID = runID

	if err := o.verifier(env.Logger).Verify(ctx, next); err != nil {
		return out, err
	}
	if err := o.store.Save(ctx, next); err != nil {
		return out, err
	}
	env.Logger.Infow("Ledger written", "path", o.store.Path(), "implementation", res.Implementation, "upgraded", next.Auction.Upgraded)

	out.Implementation = res.Implementation
	out.Record = &next
	if res.Batch == nil {
		out.Kind = OutcomeUpgraded
		return out, nil
	}
	out.Kind = OutcomeBatchUpgraded
	out.Count = len(res.Batch.Upgraded)
	if res.Partial != nil {
		out.PartialFailureAt = res.Batch.FailedAt
		return out, res.Partial
	}
	return out, nil
}

// Verify runs the verification pass against the saved ledger without changing anything.
func (o *Orchestrator) Verify(ctx context.Context) (DeploymentRecord, error) {
	rec, err := o.store.Load(ctx)
	if err != nil {
		return DeploymentRecord{}, err
	}
	return rec, o.verifier(o.env.Logger).Verify(ctx, rec)
}

// Reset deletes the ledger. It takes the ledger lock, so it fails while a run is in progress.
func (o *Orchestrator) Reset(ctx context.Context) error {
	unlock, err := o.store.Lock()
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()
	if err := o.store.Remove(ctx); err != nil {
		return err
	}
	o.env.Logger.Infow("Ledger removed", "path", o.store.Path())
	return nil
}
