// Package cmd implements the auctionctl command line.
package cmd

import (
	"context"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/fan-chao-sys/solidity-base-nft/config"
	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction/contracts"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/environment/memory"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/logger"
)

// Shell holds what the commands share. The environment is built on first use and
// kept for the life of the Shell, so several commands run against one memory network.
type Shell struct {
	Out    io.Writer
	Logger *zap.SugaredLogger
	Config config.Config

	ctx     context.Context
	keys    config.Env
	env     *deployment.Environment
	store   *deployment.FileStore[auction.DeploymentRecord]
	closers []func()
}

func NewShell(ctx context.Context, out io.Writer) *Shell {
	return &Shell{Out: out, ctx: ctx}
}

func NewApp(s *Shell) *cli.App {
	app := cli.NewApp()
	app.Name = "auctionctl"
	app.Usage = "Deploy and upgrade the NFT auction contracts"
	app.Writer = s.Out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "TOML config file; defaults to a local hardhat node",
		},
		cli.StringFlag{
			Name:  "env-file",
			Value: ".env",
			Usage: "dotenv file holding the account private keys",
		},
		cli.StringFlag{
			Name:  "network, n",
			Usage: "override the configured network name; 'memory' runs against an in-process chain",
		},
		cli.StringFlag{
			Name:  "ledger-dir",
			Usage: "override the ledger directory",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override the log level",
		},
	}
	app.Before = s.before
	// exit codes are decided by main
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = []cli.Command{
		{
			Name:   "deploy",
			Usage:  "Deploy the auction system, or verify it when the ledger already exists",
			Action: s.Deploy,
		},
		{
			Name:  "upgrade",
			Usage: "Upgrade the auction logic to V2",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "strategy, s",
					Usage: "in-place (upgrade the auction proxy), swap (point the factory at V2) or batch (also re-point every auction)",
				},
			},
			Action: s.Upgrade,
		},
		{
			Name:   "verify",
			Usage:  "Check the ledger against the chain without changing anything",
			Action: s.Verify,
		},
		{
			Name:   "status",
			Usage:  "Print the ledger and whether each contract still has code",
			Action: s.Status,
		},
		{
			Name:  "reset",
			Usage: "Delete the ledger of the selected network",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "yes, y",
					Usage: "confirm the deletion",
				},
			},
			Action: s.Reset,
		},
		{
			Name:  "advance-time",
			Usage: "Move a dev chain's clock forward and mine a block",
			Flags: []cli.Flag{
				cli.Int64Flag{
					Name:  "seconds",
					Usage: "seconds to advance",
				},
			},
			Action: s.AdvanceTime,
		},
	}
	return app
}

func (s *Shell) before(c *cli.Context) error {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if v := c.GlobalString("network"); v != "" {
		cfg.Network.Name = v
	}
	if v := c.GlobalString("ledger-dir"); v != "" {
		cfg.Ledger.Dir = v
	}
	if v := c.GlobalString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.Config = cfg

	keys, err := config.LoadEnv(c.GlobalString("env-file"), c.GlobalIsSet("env-file"))
	if err != nil {
		return err
	}
	s.keys = keys

	if s.Logger == nil {
		lggr, err := logger.New(cfg.LogLevel, cfg.LogFile)
		if err != nil {
			return err
		}
		s.Logger = lggr
		s.closers = append(s.closers, func() { _ = lggr.Sync() })
	}
	return nil
}

// Close releases clients and temporary ledgers.
func (s *Shell) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
	s.env = nil
	s.store = nil
}

func (s *Shell) environment() (*deployment.Environment, *deployment.FileStore[auction.DeploymentRecord], error) {
	if s.env != nil {
		return s.env, s.store, nil
	}
	var err error
	if s.Config.IsMemory() {
		err = s.memoryEnvironment()
	} else {
		err = s.evmEnvironment()
	}
	if err != nil {
		return nil, nil, err
	}
	return s.env, s.store, nil
}

// memoryEnvironment runs against an in-process chain. The chain dies with the process,
// so its ledger goes to a temporary directory instead of the configured one.
func (s *Shell) memoryEnvironment() error {
	chainID := s.Config.Network.ChainID
	if chainID == 0 {
		chainID = memory.ChainID
	}
	roles := make([]string, 0, len(s.Config.Accounts))
	for role := range s.Config.Accounts {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	dir, err := os.MkdirTemp("", "auctionctl-memory-")
	if err != nil {
		return errors.Wrap(err, "create memory ledger dir")
	}
	s.closers = append(s.closers, func() { _ = os.RemoveAll(dir) })
	s.Logger.Warnw("Using the in-memory network; nothing is deployed and the ledger is discarded on exit", "ledgerDir", dir)

	net := contracts.NewMemoryNetwork(memory.WithChainID(chainID))
	env := memory.NewEnvironment(s.Logger, net, memory.NewSigners(chainID, roles...), nil)
	env.GetContext = s.context
	s.env = env
	s.store = auction.NewLedgerStore(dir, env.Name)
	return nil
}

func (s *Shell) evmEnvironment() error {
	cfg := s.Config
	mc, err := deployment.NewMultiClient(s.Logger, cfg.RPCConfig(), deployment.WithRetryConfig(cfg.RetryConfig()))
	if err != nil {
		return errors.Wrapf(err, "connect to %s", cfg.Network.Name)
	}
	s.closers = append(s.closers, mc.Close)

	id, err := mc.ChainID(s.ctx)
	if err != nil {
		return errors.Wrapf(err, "read chain id of %s", cfg.Network.Name)
	}
	if id.Uint64() != cfg.Network.ChainID {
		return errors.Wrapf(deployment.ErrInvalidConfig, "network %s: rpc reports chain id %d, config has %d", cfg.Network.Name, id.Uint64(), cfg.Network.ChainID)
	}
	signers, err := cfg.Signers(s.keys)
	if err != nil {
		return err
	}
	artifacts := deployment.NewHardhatArtifacts(cfg.Artifacts.Dir)
	net := deployment.NewEVMNetwork(s.Logger, mc, mc.RPC(), artifacts, deployment.EVMNetworkConfig{
		ConfirmTimeout: cfg.Network.ConfirmTimeout.Duration,
		ListInstances:  contracts.FuncGetAllAuctions,
	})
	s.env = deployment.NewEnvironment(cfg.Network.Name, s.Logger, net, artifacts, signers, nil, s.context)
	s.store = auction.NewLedgerStore(cfg.Ledger.Dir, cfg.Network.Name)
	s.Logger.Infow("Connected", "network", cfg.Network.Name, "chain", deployment.ChainName(id.Uint64()), "rpcs", len(cfg.Network.RPCs))
	return nil
}

func (s *Shell) context() context.Context {
	return s.ctx
}

func (s *Shell) orchestrator() (*auction.Orchestrator, error) {
	env, store, err := s.environment()
	if err != nil {
		return nil, err
	}
	return auction.NewOrchestrator(*env, store, auction.WithBootstrapConfig(s.Config.BootstrapConfig())), nil
}
