// Package config loads the auctionctl configuration file and the key material it refers to.
package config

import (
	"bytes"
	"math/big"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/environment/memory"
)

const (
	DefaultNetwork      = "localhost"
	DefaultChainID      = 31337
	DefaultRPCURL       = "http://127.0.0.1:8545"
	DefaultLedgerDir    = "deployments"
	DefaultArtifactsDir = "artifacts"
)

// Duration is a time.Duration written as a Go duration string ("2m", "168h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	LogLevel  string            `toml:"logLevel"`
	// LogFile, when set, also receives every log entry as JSON.
	LogFile   string            `toml:"logFile"`
	Network   Network           `toml:"network"`
	Ledger    Ledger            `toml:"ledger"`
	Artifacts Artifacts         `toml:"artifacts"`
	Accounts  map[string]string `toml:"accounts"`
	Bootstrap Bootstrap         `toml:"bootstrap"`
}

type Network struct {
	Name           string           `toml:"name"`
	ChainID        uint64           `toml:"chainId"`
	RPCs           []deployment.RPC `toml:"rpcs"`
	ConfirmTimeout Duration         `toml:"confirmTimeout"`
	Retry          Retry            `toml:"retry"`
}

type Retry struct {
	Attempts uint     `toml:"attempts"`
	Delay    Duration `toml:"delay"`
}

type Ledger struct {
	Dir string `toml:"dir"`
}

type Artifacts struct {
	Dir string `toml:"dir"`
}

// Bootstrap holds the seeding values of a first deployment. Amounts are in the
// token's smallest unit.
type Bootstrap struct {
	TokenID         int64    `toml:"tokenId"`
	TokenURI        string   `toml:"tokenURI"`
	USDCMintAmount  int64    `toml:"usdcMintAmount"`
	AuctionDuration Duration `toml:"auctionDuration"`
	StartPrice      int64    `toml:"startPrice"`
	AuctionID       int64    `toml:"auctionId"`
	FeedDecimals    uint8    `toml:"feedDecimals"`
	ETHUSDAnswer    int64    `toml:"ethUsdAnswer"`
	USDCUSDAnswer   int64    `toml:"usdcUsdAnswer"`
}

// Default targets a local hardhat node with the deployment values of the project scripts.
func Default() Config {
	b := auction.DefaultBootstrapConfig()
	return Config{
		LogLevel: "info",
		Network: Network{
			Name:           DefaultNetwork,
			ChainID:        DefaultChainID,
			ConfirmTimeout: Duration{deployment.DefaultConfirmTimeout},
			Retry: Retry{
				Attempts: deployment.RPCDefaultRetryAttempts,
				Delay:    Duration{deployment.RPCDefaultRetryDelay},
			},
		},
		Ledger:    Ledger{Dir: DefaultLedgerDir},
		Artifacts: Artifacts{Dir: DefaultArtifactsDir},
		Accounts: map[string]string{
			auction.RoleDeployer: "DEPLOYER_PRIVATE_KEY",
			auction.RoleAlice:    "ALICE_PRIVATE_KEY",
			auction.RoleBob:      "BOB_PRIVATE_KEY",
			auction.RoleCarol:    "CAROL_PRIVATE_KEY",
		},
		Bootstrap: Bootstrap{
			TokenID:         b.TokenID.Int64(),
			TokenURI:        b.TokenURI,
			USDCMintAmount:  b.USDCMintAmount.Int64(),
			AuctionDuration: Duration{b.AuctionDuration},
			StartPrice:      b.StartPrice.Int64(),
			AuctionID:       b.AuctionID.Int64(),
			FeedDecimals:    b.FeedDecimals,
			ETHUSDAnswer:    b.ETHUSDAnswer.Int64(),
			USDCUSDAnswer:   b.USDCUSDAnswer.Int64(),
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults. Unknown keys
// are rejected so a typo never silently falls back to a default.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default().withLocalRPC()
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	cfg := Default()
	d := toml.NewDecoder(bytes.NewReader(raw))
	d.DisallowUnknownFields()
	if err := d.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(deployment.ErrInvalidConfig, "decode config: %v", err)
	}
	cfg = cfg.withLocalRPC()
	return cfg, cfg.Validate()
}

// withLocalRPC points a dev chain without rpcs at the default local node. Rpcs are not
// part of Default because decoded rpc tables would be added to them.
func (c Config) withLocalRPC() Config {
	if len(c.Network.RPCs) == 0 && c.Network.ChainID == DefaultChainID {
		c.Network.RPCs = []deployment.RPC{{Name: "hardhat", HTTPURL: DefaultRPCURL, PreferredURLScheme: deployment.URLSchemePreferenceHTTP}}
	}
	return c
}

// IsMemory reports whether the configured network is the in-process memory network.
func (c Config) IsMemory() bool {
	return c.Network.Name == memory.Memory
}

func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(deployment.ErrInvalidConfig, "log level %q", c.LogLevel)
	}
	if c.Network.Name == "" {
		return errors.Wrap(deployment.ErrInvalidConfig, "network name is required")
	}
	if c.Ledger.Dir == "" {
		return errors.Wrap(deployment.ErrInvalidConfig, "ledger dir is required")
	}
	if !c.IsMemory() {
		if c.Network.ChainID == 0 {
			return errors.Wrapf(deployment.ErrInvalidConfig, "network %s: chainId is required", c.Network.Name)
		}
		if len(c.Network.RPCs) == 0 {
			return errors.Wrapf(deployment.ErrInvalidConfig, "network %s: at least one rpc is required", c.Network.Name)
		}
		for _, r := range c.Network.RPCs {
			if _, err := r.ToEndpoint(); err != nil {
				return errors.Wrapf(deployment.ErrInvalidConfig, "network %s: %v", c.Network.Name, err)
			}
		}
		if c.Artifacts.Dir == "" {
			return errors.Wrap(deployment.ErrInvalidConfig, "artifacts dir is required")
		}
	}
	if _, ok := c.Accounts[auction.RoleDeployer]; !ok {
		return errors.Wrapf(deployment.ErrInvalidConfig, "accounts: %s is required", auction.RoleDeployer)
	}
	return c.BootstrapConfig().Validate()
}

func (c Config) RPCConfig() deployment.RPCConfig {
	return deployment.RPCConfig{ChainID: c.Network.ChainID, RPCs: c.Network.RPCs}
}

func (c Config) RetryConfig() deployment.RetryConfig {
	return deployment.RetryConfig{Attempts: c.Network.Retry.Attempts, Delay: c.Network.Retry.Delay.Duration}
}

func (c Config) BootstrapConfig() auction.BootstrapConfig {
	b := c.Bootstrap
	return auction.BootstrapConfig{
		TokenID:         big.NewInt(b.TokenID),
		TokenURI:        b.TokenURI,
		USDCMintAmount:  big.NewInt(b.USDCMintAmount),
		AuctionDuration: b.AuctionDuration.Duration,
		StartPrice:      big.NewInt(b.StartPrice),
		AuctionID:       big.NewInt(b.AuctionID),
		FeedDecimals:    b.FeedDecimals,
		ETHUSDAnswer:    big.NewInt(b.ETHUSDAnswer),
		USDCUSDAnswer:   big.NewInt(b.USDCUSDAnswer),
	}
}
