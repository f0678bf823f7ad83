package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction"
)

const sepoliaConfig = `
logLevel = "debug"

[network]
name = "sepolia"
chainId = 11155111
confirmTimeout = "5m"

[network.retry]
attempts = 3
delay = "250ms"

[[network.rpcs]]
name = "primary"
httpURL = "https://rpc.sepolia.example"
preferredURLScheme = "http"

[[network.rpcs]]
name = "backup"
wsURL = "wss://ws.sepolia.example"

[ledger]
dir = "out/deployments"

[accounts]
deployer = "SEPOLIA_DEPLOYER_KEY"

[bootstrap]
tokenId = 7
auctionDuration = "24h"
`

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultNetwork, cfg.Network.Name)
	assert.Equal(t, uint64(DefaultChainID), cfg.Network.ChainID)
	require.Len(t, cfg.Network.RPCs, 1)
	endpoint, err := cfg.Network.RPCs[0].ToEndpoint()
	require.NoError(t, err)
	assert.Equal(t, DefaultRPCURL, endpoint)
	assert.Equal(t, auction.DefaultBootstrapConfig(), cfg.BootstrapConfig())
	assert.False(t, cfg.IsMemory())
}

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sepoliaConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sepolia", cfg.Network.Name)
	assert.Equal(t, 5*time.Minute, cfg.Network.ConfirmTimeout.Duration)
	assert.Equal(t, deployment.RetryConfig{Attempts: 3, Delay: 250 * time.Millisecond}, cfg.RetryConfig())
	assert.Equal(t, "out/deployments", cfg.Ledger.Dir)
	assert.Equal(t, DefaultArtifactsDir, cfg.Artifacts.Dir)
	assert.Equal(t, "SEPOLIA_DEPLOYER_KEY", cfg.Accounts[auction.RoleDeployer])

	rpcs := cfg.RPCConfig()
	assert.Equal(t, uint64(11155111), rpcs.ChainID)
	require.Len(t, rpcs.RPCs, 2)
	assert.Equal(t, deployment.URLSchemePreferenceHTTP, rpcs.RPCs[0].PreferredURLScheme)
	endpoint, err := rpcs.RPCs[1].ToEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://ws.sepolia.example", endpoint)

	b := cfg.BootstrapConfig()
	assert.Equal(t, big.NewInt(7), b.TokenID)
	assert.Equal(t, 24*time.Hour, b.AuctionDuration)
	// untouched keys keep their defaults
	assert.Equal(t, auction.DefaultBootstrapConfig().StartPrice, b.StartPrice)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config string
	}{
		{name: "unknown key", config: "[network]\nname = \"localhost\"\ngasPrice = 1\n"},
		{name: "bad duration", config: "[network]\nconfirmTimeout = \"soon\"\n"},
		{name: "bad url scheme", config: "[[network.rpcs]]\nname = \"x\"\nhttpURL = \"http://x\"\npreferredURLScheme = \"grpc\"\n"},
		{name: "remote chain without rpcs", config: "[network]\nname = \"sepolia\"\nchainId = 11155111\n"},
		{name: "rpc without url", config: "[[network.rpcs]]\nname = \"empty\"\n"},
		{name: "bad log level", config: "logLevel = \"loud\"\n"},
		{name: "empty ledger dir", config: "[ledger]\ndir = \"\"\n"},
		{name: "zero start price", config: "[bootstrap]\nstartPrice = 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.config))
			require.ErrorIs(t, err, deployment.ErrInvalidConfig)
		})
	}
}

func TestParse_MemoryNetworkNeedsNoRPC(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte("[network]\nname = \"memory\"\nchainId = 0\n"))
	require.NoError(t, err)
	assert.True(t, cfg.IsMemory())
	assert.Empty(t, cfg.Network.RPCs)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "auctionctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(sepoliaConfig), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sepolia", cfg.Network.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestSigners(t *testing.T) {
	t.Parallel()

	t.Run("dev chain falls back to hardhat accounts", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		cfg.Accounts = map[string]string{
			auction.RoleDeployer: "TEST_SIGNERS_UNSET_DEPLOYER",
			auction.RoleAlice:    "TEST_SIGNERS_UNSET_ALICE",
		}
		signers, err := cfg.Signers(NewEnv(nil))
		require.NoError(t, err)
		require.Len(t, signers, 2)
		assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), signers[auction.RoleDeployer].From)
		assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), signers[auction.RoleAlice].From)
	})

	t.Run("env file key wins over the dev fallback", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		cfg.Accounts = map[string]string{auction.RoleDeployer: "TEST_SIGNERS_FILE_DEPLOYER"}
		env := NewEnv(map[string]string{"TEST_SIGNERS_FILE_DEPLOYER": "0x" + devKeys[auction.RoleBob]})
		signers, err := cfg.Signers(env)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"), signers[auction.RoleDeployer].From)
	})

	t.Run("remote chain requires every key", func(t *testing.T) {
		t.Parallel()
		cfg, err := Parse([]byte(sepoliaConfig))
		require.NoError(t, err)
		cfg.Accounts = map[string]string{auction.RoleDeployer: "TEST_SIGNERS_UNSET_REMOTE"}
		_, err = cfg.Signers(NewEnv(nil))
		require.ErrorIs(t, err, deployment.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "TEST_SIGNERS_UNSET_REMOTE")
	})

	t.Run("malformed key", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		cfg.Accounts = map[string]string{auction.RoleDeployer: "TEST_SIGNERS_BAD"}
		_, err := cfg.Signers(NewEnv(map[string]string{"TEST_SIGNERS_BAD": "not-a-key"}))
		require.ErrorIs(t, err, deployment.ErrInvalidConfig)
		assert.NotContains(t, err.Error(), "not-a-key")
	})
}

func TestLoadEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("# keys\nTEST_LOADENV_KEY=abc\nTEST_LOADENV_QUOTED=\"x y\"\n"), 0o600))

	env, err := LoadEnv(path, true)
	require.NoError(t, err)
	v, ok := env.Lookup("TEST_LOADENV_KEY")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
	v, ok = env.Lookup("TEST_LOADENV_QUOTED")
	require.True(t, ok)
	assert.Equal(t, "x y", v)
	_, ok = env.Lookup("TEST_LOADENV_MISSING")
	assert.False(t, ok)

	_, err = LoadEnv(filepath.Join(dir, "absent.env"), false)
	require.NoError(t, err)
	_, err = LoadEnv(filepath.Join(dir, "absent.env"), true)
	require.Error(t, err)
}
