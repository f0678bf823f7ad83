package cmd

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction/contracts"
)

// Deploy bootstraps the auction system. With a ledger present it only verifies it.
func (s *Shell) Deploy(_ *cli.Context) error {
	orch, err := s.orchestrator()
	if err != nil {
		return err
	}
	out, err := orch.Run(s.ctx, auction.IntentBootstrap)
	return s.finish(out, err)
}

// Upgrade runs the strategy named by --strategy. There is no default strategy.
func (s *Shell) Upgrade(c *cli.Context) error {
	name := c.String("strategy")
	if name == "" {
		return cli.NewExitError("--strategy is required: in-place, swap or batch", auction.ExitFailure)
	}
	intent, err := auction.ParseStrategy(name)
	if err != nil {
		return cli.NewExitError(err.Error(), auction.ExitFailure)
	}
	orch, err := s.orchestrator()
	if err != nil {
		return err
	}
	out, err := orch.Run(s.ctx, intent)
	return s.finish(out, err)
}

func (s *Shell) Verify(_ *cli.Context) error {
	orch, err := s.orchestrator()
	if err != nil {
		return err
	}
	rec, err := orch.Verify(s.ctx)
	if err != nil {
		s.renderError(err)
		return cli.NewExitError(err.Error(), auction.ExitFailure)
	}
	fmt.Fprintf(s.Out, "%s ledger for %s matches the chain (proxy %s, implementation %s)\n",
		green("OK"), rec.Network, rec.Auction.ProxyAddress, rec.Auction.ImplementationAddress)
	return nil
}

func (s *Shell) Status(_ *cli.Context) error {
	env, store, err := s.environment()
	if err != nil {
		return err
	}
	rec, err := store.Load(s.ctx)
	if errors.Is(err, deployment.ErrLedgerNotFound) {
		fmt.Fprintf(s.Out, "no ledger at %s; run deploy first\n", store.Path())
		return nil
	}
	if err != nil {
		return cli.NewExitError(err.Error(), auction.ExitFailure)
	}
	probes, err := deployment.NewProber(env.Network).ProbeAll(s.ctx, rec.Addresses())
	if err != nil {
		s.Logger.Warnw("Could not probe contracts", "err", err)
		probes = nil
	}
	renderRecord(s.Out, store.Path(), rec, probes)
	if len(rec.PriceFeeds) > 0 {
		renderPrices(s.Out, s.feedPrices(env.Network, rec.PriceFeeds))
	}
	return nil
}

// feedPrices reads each feed's latest answer scaled by its decimals. Feeds that
// cannot be read are left out.
func (s *Shell) feedPrices(net deployment.Network, feeds map[string]common.Address) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(feeds))
	for sym, addr := range feeds {
		var (
			answer   *big.Int
			decimals uint8
		)
		if err := net.ReadContract(s.ctx, addr, contracts.FuncLatestAnswer, nil, &answer); err != nil {
			s.Logger.Warnw("Could not read price feed", "symbol", sym, "feed", addr, "err", err)
			continue
		}
		if err := net.ReadContract(s.ctx, addr, contracts.FuncDecimals, nil, &decimals); err != nil {
			s.Logger.Warnw("Could not read price feed decimals", "symbol", sym, "feed", addr, "err", err)
			continue
		}
		if answer == nil {
			continue
		}
		prices[sym] = decimal.NewFromBigInt(answer, -int32(decimals))
	}
	return prices
}

// Reset deletes the ledger. It is the only way out of a stale ledger.
func (s *Shell) Reset(c *cli.Context) error {
	if !c.Bool("yes") {
		return cli.NewExitError("refusing to delete the ledger without --yes", auction.ExitFailure)
	}
	orch, err := s.orchestrator()
	if err != nil {
		return err
	}
	if err := orch.Reset(s.ctx); err != nil {
		return cli.NewExitError(err.Error(), auction.ExitFailure)
	}
	fmt.Fprintf(s.Out, "ledger for %s removed\n", s.Config.Network.Name)
	return nil
}

func (s *Shell) AdvanceTime(c *cli.Context) error {
	seconds := c.Int64("seconds")
	if seconds <= 0 {
		return cli.NewExitError("--seconds must be positive", auction.ExitFailure)
	}
	env, _, err := s.environment()
	if err != nil {
		return err
	}
	if err := env.Network.AdvanceTime(s.ctx, time.Duration(seconds)*time.Second); err != nil {
		return cli.NewExitError(err.Error(), auction.ExitFailure)
	}
	if err := env.Network.MineBlock(s.ctx); err != nil {
		return cli.NewExitError(err.Error(), auction.ExitFailure)
	}
	now, err := env.Network.GetBlockTime(s.ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), auction.ExitFailure)
	}
	fmt.Fprintf(s.Out, "block time is now %s\n", now.Format(time.RFC3339))
	return nil
}

// finish prints what a run did and maps it to an exit code. A partial batch prints
// its progress and exits with ExitPartial.
func (s *Shell) finish(out auction.Outcome, err error) error {
	if err == nil {
		fmt.Fprintf(s.Out, "%s %s\n", green(out.Summary()), faint("run "+out.RunID))
		return nil
	}
	s.renderError(err)
	if out.Partial() {
		fmt.Fprintf(s.Out, "%s %s\n", yellow(out.Summary()), faint("run "+out.RunID))
		return cli.NewExitError(err.Error(), out.ExitCode())
	}
	return cli.NewExitError(err.Error(), auction.ExitFailure)
}

// ExitCode maps an error returned by the app to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return auction.ExitSuccess
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return auction.ExitFailure
}
