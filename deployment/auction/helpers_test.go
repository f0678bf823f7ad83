package auction

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction/contracts"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/environment/memory"
)

var testStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	env   deployment.Environment
	net   *memory.Network
	store *deployment.FileStore[DeploymentRecord]
	clock clockwork.FakeClock
	orch  *Orchestrator
	logs  *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	net := contracts.NewMemoryNetwork()
	clock := clockwork.NewFakeClockAt(testStart)
	signers := memory.NewSigners(memory.ChainID, RoleDeployer, RoleAlice, RoleBob, RoleCarol)
	env := *memory.NewEnvironment(zap.New(core).Sugar(), net, signers, clock)
	store := NewLedgerStore(t.TempDir(), env.Name)
	return &testEnv{
		env:   env,
		net:   net,
		store: store,
		clock: clock,
		orch:  NewOrchestrator(env, store),
		logs:  logs,
	}
}

func (te *testEnv) run(t *testing.T, intent Intent) (Outcome, error) {
	t.Helper()
	return te.orch.Run(context.Background(), intent)
}

func (te *testEnv) bootstrap(t *testing.T) DeploymentRecord {
	t.Helper()
	out, err := te.run(t, IntentBootstrap)
	require.NoError(t, err)
	require.Equal(t, OutcomeDeployed, out.Kind)
	return te.load(t)
}

func (te *testEnv) load(t *testing.T) DeploymentRecord {
	t.Helper()
	rec, err := te.store.Load(context.Background())
	require.NoError(t, err)
	return rec
}

func (te *testEnv) ledgerBytes(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(te.store.Path())
	require.NoError(t, err)
	return raw
}

// createAuctions has alice open n more auctions through the factory and returns the new ones in order.
func (te *testEnv) createAuctions(t *testing.T, rec DeploymentRecord, n int) []common.Address {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := te.net.CallContract(ctx, rec.Factory.Address, contracts.FuncCreateAuction, []any{
			big.NewInt(300),
			big.NewInt(1_000_000),
			rec.BaseContracts[KeyUSDC].Address,
			big.NewInt(int64(100 + i)),
			rec.BaseContracts[KeyNFT].Address,
		}, te.env.Signer(RoleAlice), nil)
		require.NoError(t, err)
	}
	var all []common.Address
	require.NoError(t, te.net.ReadContract(ctx, rec.Factory.Address, contracts.FuncGetAllAuctions, nil, &all))
	require.GreaterOrEqual(t, len(all), n)
	return all[len(all)-n:]
}

func (te *testEnv) implementationOf(t *testing.T, proxy common.Address) common.Address {
	t.Helper()
	impl, err := te.net.GetImplementationAddress(context.Background(), proxy)
	require.NoError(t, err)
	return impl
}

func (te *testEnv) factoryImplementation(t *testing.T, rec DeploymentRecord) common.Address {
	t.Helper()
	var impl common.Address
	require.NoError(t, te.net.ReadContract(context.Background(), rec.Factory.Address, contracts.FuncGetAuctionImplementation, nil, &impl))
	return impl
}

// repointFactoryOutOfBand deploys a fresh implementation and points the factory at it
// without going through the orchestrator.
func (te *testEnv) repointFactoryOutOfBand(t *testing.T, rec DeploymentRecord) common.Address {
	t.Helper()
	ctx := context.Background()
	deployer := te.env.Signer(RoleDeployer)
	impl, err := te.net.DeployContract(ctx, deployment.Artifact{Name: contracts.NFTAuctionV2}, nil, deployer)
	require.NoError(t, err)
	_, err = te.net.CallContract(ctx, rec.Factory.Address, contracts.FuncSetAuctionImplementation, []any{impl}, deployer, nil)
	require.NoError(t, err)
	return impl
}

const memoryNetworkName = memory.Memory
