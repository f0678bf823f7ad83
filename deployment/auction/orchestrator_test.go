package auction

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction/contracts"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/environment/memory"
)

func TestRun_Bootstrap(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	ctx := context.Background()

	out, err := te.run(t, IntentBootstrap)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, out.Kind)
	assert.Equal(t, StateBootstrap, out.State)
	assert.NotEmpty(t, out.RunID)
	// 2 base deploys, 2 mints, auction proxy, 2 feeds, 2 setPriceFeed, factory proxy
	assert.Len(t, out.Operations, 10)
	assert.Equal(t, 10, te.logs.FilterMessage("Executing operation").Len())
	// both proxy deployments are two transactions each
	assert.Equal(t, 12, te.net.TxCount())

	rec := te.load(t)
	assert.Equal(t, *out.Record, rec)
	assert.Equal(t, SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, memoryNetworkName, rec.Network)
	assert.Equal(t, uint64(31337), rec.ChainID)
	assert.Equal(t, testStart, rec.DeployedAt)
	assert.Equal(t, out.RunID, rec.LastRunID)
	assert.False(t, rec.Auction.Upgraded)
	assert.Nil(t, rec.Auction.UpgradeTime)
	assert.Equal(t, rec.Auction.ImplementationAddress, rec.Auction.ProxyImplementationAddress)
	assert.Equal(t, contracts.NFTAuction, rec.Auction.Logic.Type)
	assert.Equal(t, []string{"bootstrap"}, rec.Auction.Logic.Labels.List())
	assert.Equal(t, te.env.Accounts(), rec.Accounts)

	for field, addr := range rec.Addresses() {
		code, err := te.net.GetCode(ctx, addr)
		require.NoError(t, err)
		assert.NotEmpty(t, code, field)
	}

	var owner common.Address
	require.NoError(t, te.net.ReadContract(ctx, rec.BaseContracts[KeyNFT].Address, contracts.FuncOwnerOf, []any{big.NewInt(5)}, &owner))
	assert.Equal(t, te.env.Signer(RoleAlice).From, owner)
	assert.Equal(t, "5", rec.BaseContracts[KeyNFT].Metadata["tokenId"])

	balance := new(big.Int)
	require.NoError(t, te.net.ReadContract(ctx, rec.BaseContracts[KeyUSDC].Address, contracts.FuncBalanceOf, []any{te.env.Signer(RoleBob).From}, &balance))
	assert.Equal(t, int64(1_000_000_000), balance.Int64())

	var ethFeed, usdcFeed common.Address
	require.NoError(t, te.net.ReadContract(ctx, rec.Auction.ProxyAddress, contracts.FuncGetPriceFeed, []any{common.Address{}}, &ethFeed))
	require.NoError(t, te.net.ReadContract(ctx, rec.Auction.ProxyAddress, contracts.FuncGetPriceFeed, []any{rec.BaseContracts[KeyUSDC].Address}, &usdcFeed))
	assert.Equal(t, rec.PriceFeeds[KeyETH], ethFeed)
	assert.Equal(t, rec.PriceFeeds[KeyUSDC], usdcFeed)

	assert.Equal(t, rec.Auction.ImplementationAddress, te.factoryImplementation(t, rec))

	raw := te.ledgerBytes(t)
	assert.Equal(t, rec.Auction.ProxyAddress, common.HexToAddress(gjson.GetBytes(raw, "auction.proxyAddress").String()))
	assert.Equal(t, "NFTAuction", gjson.GetBytes(raw, "auction.logic.type").String())
	assert.Equal(t, "1.0.0", gjson.GetBytes(raw, "auction.logic.version").String())
	assert.Equal(t, byte('\n'), raw[len(raw)-1])
}

func TestRun_UpgradeWithoutLedgerOnlyBootstraps(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)

	out, err := te.run(t, IntentInPlaceUpgrade)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, out.Kind)

	rec := te.load(t)
	assert.False(t, rec.Auction.Upgraded)
	assert.Equal(t, contracts.NFTAuction, rec.Auction.Logic.Type)
}

func TestRun_BootstrapWithLiveLedgerOnlyVerifies(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	te.bootstrap(t)
	before := te.ledgerBytes(t)
	txs := te.net.TxCount()

	out, err := te.run(t, IntentBootstrap)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOpAlreadyDeployed, out.Kind)
	assert.Equal(t, StateDeployed, out.State)
	assert.Empty(t, out.Operations)
	assert.Equal(t, txs, te.net.TxCount())
	assert.Equal(t, before, te.ledgerBytes(t))
}

func TestRun_SecondUpgradeIsNoOp(t *testing.T) {
	t.Parallel()

	for _, intent := range []Intent{IntentInPlaceUpgrade, IntentSwapImplementation, IntentBatchRepoint} {
		t.Run(intent.String(), func(t *testing.T) {
			t.Parallel()
			te := newTestEnv(t)
			te.bootstrap(t)

			first, err := te.run(t, intent)
			require.NoError(t, err)
			assert.Contains(t, []OutcomeKind{OutcomeUpgraded, OutcomeBatchUpgraded}, first.Kind)
			ledger := te.ledgerBytes(t)
			txs := te.net.TxCount()

			te.clock.Advance(time.Hour)
			second, err := te.run(t, intent)
			require.NoError(t, err)
			assert.Equal(t, OutcomeNoOpAlreadyUpgraded, second.Kind)
			assert.Equal(t, StateAlreadyUpgradedConsistent, second.State)
			assert.Equal(t, first.Implementation, second.Implementation)
			assert.Empty(t, second.Operations)
			assert.Equal(t, txs, te.net.TxCount())
			assert.Equal(t, ledger, te.ledgerBytes(t))
		})
	}
}

func TestRun_StaleLedger(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	rec := te.bootstrap(t)
	before := te.ledgerBytes(t)

	// a restarted devnet has none of the recorded contracts
	te.net.Reset()

	_, err := te.run(t, IntentInPlaceUpgrade)
	var stale *StaleLedgerError
	require.ErrorAs(t, err, &stale)
	require.Len(t, stale.Dead, len(rec.Addresses()))
	dead := make([]common.Address, 0, len(stale.Dead))
	for _, d := range stale.Dead {
		dead = append(dead, d.Address)
	}
	assert.Contains(t, dead, rec.Factory.Address)
	assert.Contains(t, dead, rec.Auction.ProxyAddress)
	assert.Zero(t, te.net.TxCount())
	assert.Equal(t, before, te.ledgerBytes(t))
}

func TestRun_StaleLedgerOnAnyRecordedAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field string
		addr  func(DeploymentRecord) common.Address
	}{
		{name: "price feed", field: "priceFeeds." + KeyETH, addr: func(r DeploymentRecord) common.Address { return r.PriceFeeds[KeyETH] }},
		{name: "nft", field: "baseContracts." + KeyNFT, addr: func(r DeploymentRecord) common.Address { return r.BaseContracts[KeyNFT].Address }},
		{name: "usdc", field: "baseContracts." + KeyUSDC, addr: func(r DeploymentRecord) common.Address { return r.BaseContracts[KeyUSDC].Address }},
		{name: "implementation", field: "auction.implementationAddress", addr: func(r DeploymentRecord) common.Address { return r.Auction.ImplementationAddress }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			te := newTestEnv(t)
			rec := te.bootstrap(t)
			before := te.ledgerBytes(t)
			te.net.DestroyCode(tt.addr(rec))
			txs := te.net.TxCount()

			// retrying must not resend anything either
			for _, intent := range []Intent{IntentSwapImplementation, IntentSwapImplementation, IntentInPlaceUpgrade, IntentBootstrap} {
				out, err := te.run(t, intent)
				var stale *StaleLedgerError
				require.ErrorAs(t, err, &stale, intent.String())
				require.Len(t, stale.Dead, 1)
				assert.Equal(t, tt.field, stale.Dead[0].Name)
				assert.Equal(t, StateStale, out.State)
				assert.Empty(t, out.Operations)
			}
			assert.Equal(t, txs, te.net.TxCount())
			assert.Equal(t, before, te.ledgerBytes(t))
		})
	}
}

func TestRun_StaleLedgerOnChainIDChange(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	rec := te.bootstrap(t)
	rec.ChainID = 1
	require.NoError(t, te.store.Save(context.Background(), rec))
	txs := te.net.TxCount()

	_, err := te.run(t, IntentSwapImplementation)
	var stale *StaleLedgerError
	require.ErrorAs(t, err, &stale)
	assert.Empty(t, stale.Dead)
	assert.Equal(t, uint64(1), stale.ExpectedChainID)
	assert.Equal(t, uint64(31337), stale.ActualChainID)
	assert.Equal(t, txs, te.net.TxCount())
}

func TestRun_InPlaceUpgradeKeepsProxy(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	ctx := context.Background()
	rec := te.bootstrap(t)
	te.clock.Advance(24 * time.Hour)

	out, err := te.run(t, IntentInPlaceUpgrade)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpgraded, out.Kind)
	assert.Equal(t, StateNeedsUpgrade, out.State)
	assert.NotEqual(t, rec.Auction.ImplementationAddress, out.Implementation)

	after := te.load(t)
	assert.Equal(t, rec.Auction.ProxyAddress, after.Auction.ProxyAddress)
	assert.Equal(t, out.Implementation, after.Auction.ImplementationAddress)
	assert.Equal(t, out.Implementation, after.Auction.ProxyImplementationAddress)
	assert.Equal(t, out.Implementation, te.implementationOf(t, after.Auction.ProxyAddress))
	assert.Equal(t, out.Implementation, te.factoryImplementation(t, after))
	assert.True(t, after.Auction.Upgraded)
	require.NotNil(t, after.Auction.UpgradeTime)
	assert.Equal(t, testStart.Add(24*time.Hour), *after.Auction.UpgradeTime)
	assert.Equal(t, contracts.NFTAuctionV2, after.Auction.Logic.Type)
	assert.Equal(t, "2.0.0", after.Auction.Logic.Version.String())
	assert.Equal(t, "NFTAuctionV2 2.0.0 in-place", after.Auction.Logic.String())
	assert.Equal(t, "in-place", after.Auction.Strategy)
	assert.Equal(t, out.RunID, after.LastRunID)

	var version string
	require.NoError(t, te.net.ReadContract(ctx, after.Auction.ProxyAddress, contracts.FuncGetVersion, nil, &version))
	assert.Equal(t, contracts.V2Version, version)

	// proxy storage survives the upgrade
	var ethFeed common.Address
	require.NoError(t, te.net.ReadContract(ctx, after.Auction.ProxyAddress, contracts.FuncGetPriceFeed, []any{common.Address{}}, &ethFeed))
	assert.Equal(t, rec.PriceFeeds[KeyETH], ethFeed)
}

func TestRun_SwapLeavesExistingInstances(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	rec := te.bootstrap(t)
	existing := te.createAuctions(t, rec, 1)[0]
	original := rec.Auction.ImplementationAddress
	require.Equal(t, original, te.implementationOf(t, existing))

	out, err := te.run(t, IntentSwapImplementation)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpgraded, out.Kind)

	after := te.load(t)
	assert.Equal(t, original, te.implementationOf(t, existing))
	assert.Equal(t, original, te.implementationOf(t, after.Auction.ProxyAddress))
	assert.Equal(t, original, after.Auction.ProxyImplementationAddress)
	assert.Equal(t, out.Implementation, after.Auction.ImplementationAddress)
	assert.Equal(t, out.Implementation, te.factoryImplementation(t, after))
	assert.Equal(t, "swap", after.Auction.Strategy)

	created := te.createAuctions(t, after, 1)[0]
	assert.Equal(t, out.Implementation, te.implementationOf(t, created))
}

func TestRun_BatchPartialFailure(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	rec := te.bootstrap(t)
	instances := te.createAuctions(t, rec, 3)
	original := rec.Auction.ImplementationAddress

	boom := errors.New("boom")
	te.net.FailCall(instances[1], deployment.FuncUpgradeToAndCall, boom)

	out, err := te.run(t, IntentBatchRepoint)
	var partial *PartialBatchError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []common.Address{instances[0]}, partial.Upgraded)
	assert.Equal(t, instances[1], partial.FailedAt)
	assert.Equal(t, []common.Address{instances[2]}, partial.NotAttempted)

	assert.Equal(t, OutcomeBatchUpgraded, out.Kind)
	assert.Equal(t, 1, out.Count)
	require.NotNil(t, out.PartialFailureAt)
	assert.Equal(t, instances[1], *out.PartialFailureAt)
	assert.Equal(t, ExitPartial, out.ExitCode())

	assert.Equal(t, partial.Implementation, te.implementationOf(t, instances[0]))
	assert.Equal(t, original, te.implementationOf(t, instances[1]))
	assert.Equal(t, original, te.implementationOf(t, instances[2]))

	after := te.load(t)
	assert.Equal(t, partial.Implementation, after.Auction.ImplementationAddress)
	assert.False(t, after.Auction.Upgraded)
	assert.Nil(t, after.Auction.UpgradeTime)
	require.NotNil(t, after.LastBatch)
	assert.False(t, after.LastBatch.Complete())
	assert.Equal(t, instances, after.LastBatch.Instances)
	assert.Equal(t, instances[1], *after.LastBatch.FailedAt)
	assert.Contains(t, after.LastBatch.Error, "boom")

	// the next batch run reuses the implementation and finishes the rest
	te.net.ClearFailures()
	out, err = te.run(t, IntentBatchRepoint)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBatchUpgraded, out.Kind)
	assert.Equal(t, partial.Implementation, out.Implementation)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, ExitSuccess, out.ExitCode())
	for _, instance := range instances {
		assert.Equal(t, partial.Implementation, te.implementationOf(t, instance))
	}

	final := te.load(t)
	assert.True(t, final.Auction.Upgraded)
	assert.True(t, final.LastBatch.Complete())
	assert.Equal(t, []common.Address{instances[0]}, final.LastBatch.Skipped)
	assert.Equal(t, []common.Address{instances[1], instances[2]}, final.LastBatch.Upgraded)
}

func TestRun_UpgradedButFactoryMoved(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	te.bootstrap(t)
	_, err := te.run(t, IntentSwapImplementation)
	require.NoError(t, err)
	rec := te.load(t)

	moved := te.repointFactoryOutOfBand(t, rec)

	out, err := te.run(t, IntentSwapImplementation)
	require.NoError(t, err)
	assert.Equal(t, StateAlreadyUpgradedInconsistent, out.State)
	assert.Equal(t, OutcomeUpgraded, out.Kind)
	assert.NotEqual(t, moved, out.Implementation)
	assert.NotEqual(t, rec.Auction.ImplementationAddress, out.Implementation)
	assert.Equal(t, out.Implementation, te.load(t).Auction.ImplementationAddress)
	assert.Equal(t, 1, te.logs.FilterMessage("Ledger says upgraded but the chain disagrees, upgrading again").Len())
}

func TestVerify_CatchesFactoryChange(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	rec := te.bootstrap(t)

	_, err := te.orch.Verify(context.Background())
	require.NoError(t, err)

	moved := te.repointFactoryOutOfBand(t, rec)

	_, err = te.orch.Verify(context.Background())
	var failed *VerificationFailedError
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Discrepancies, 1)
	d := failed.Discrepancies[0]
	assert.Equal(t, "auction.implementationAddress", d.Field)
	assert.Equal(t, rec.Auction.ImplementationAddress.Hex(), d.Expected)
	assert.Equal(t, moved.Hex(), d.Actual)
	assert.Empty(t, d.Reason)

	// the bootstrap intent surfaces the same discrepancy
	_, err = te.run(t, IntentBootstrap)
	require.ErrorAs(t, err, &failed)
}

func TestConfirmUpgrade_Mismatch(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	rec := te.bootstrap(t)
	bogus := common.HexToAddress("0x00000000000000000000000000000000000000b0")

	err := confirmUpgrade(context.Background(), te.net, rec, IntentSwapImplementation, StrategyResult{Implementation: bogus})
	var pue *PostUpgradeVerificationError
	require.ErrorAs(t, err, &pue)
	assert.Equal(t, bogus, pue.Expected)
	assert.Equal(t, rec.Auction.ImplementationAddress, pue.Actual)
	assert.Equal(t, "factory implementation", pue.Target)
}

func TestRun_AccountMismatchSendsNothing(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	rec := te.bootstrap(t)
	rec.Accounts[RoleAlice] = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, te.store.Save(context.Background(), rec))
	before := te.ledgerBytes(t)
	txs := te.net.TxCount()

	for _, intent := range []Intent{IntentInPlaceUpgrade, IntentInPlaceUpgrade, IntentSwapImplementation, IntentBatchRepoint} {
		out, err := te.run(t, intent)
		var failed *VerificationFailedError
		require.ErrorAs(t, err, &failed, intent.String())
		require.Len(t, failed.Discrepancies, 1)
		assert.Equal(t, "accounts."+RoleAlice, failed.Discrepancies[0].Field)
		assert.Empty(t, out.Operations)
	}
	assert.Equal(t, txs, te.net.TxCount())
	assert.Equal(t, before, te.ledgerBytes(t))
	assert.Equal(t, rec.Auction.ProxyImplementationAddress, te.implementationOf(t, rec.Auction.ProxyAddress))
}

func TestRun_PostUpgradeCheckFailureKeepsLedger(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	rec := te.bootstrap(t)
	before := te.ledgerBytes(t)

	// the factory accepts the call but keeps its old pointer
	require.NoError(t, te.net.Override(contracts.NFTAuctionFactory, contracts.FuncSetAuctionImplementation, func(c *memory.Call, args []any) ([]any, error) {
		return nil, nil
	}))

	for _, intent := range []Intent{IntentSwapImplementation, IntentInPlaceUpgrade} {
		_, err := te.run(t, intent)
		var pue *PostUpgradeVerificationError
		require.ErrorAs(t, err, &pue, intent.String())
		assert.Equal(t, "factory implementation", pue.Target)
		assert.Equal(t, rec.Auction.ImplementationAddress, pue.Actual)
		assert.NotEqual(t, rec.Auction.ImplementationAddress, pue.Expected)
	}

	assert.Equal(t, before, te.ledgerBytes(t))
	after := te.load(t)
	assert.False(t, after.Auction.Upgraded)
	assert.Nil(t, after.Auction.UpgradeTime)
}

func TestRun_Refusals(t *testing.T) {
	t.Parallel()

	t.Run("locked", func(t *testing.T) {
		t.Parallel()
		te := newTestEnv(t)
		other := deployment.NewFileStore[DeploymentRecord](te.store.Path())
		unlock, err := other.Lock()
		require.NoError(t, err)
		defer func() { require.NoError(t, unlock()) }()

		_, err = te.run(t, IntentBootstrap)
		require.ErrorIs(t, err, deployment.ErrLedgerLocked)
		assert.Zero(t, te.net.TxCount())
	})

	t.Run("corrupt", func(t *testing.T) {
		t.Parallel()
		te := newTestEnv(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(te.store.Path()), 0o755))
		require.NoError(t, os.WriteFile(te.store.Path(), []byte("{"), 0o600))

		_, err := te.run(t, IntentBootstrap)
		var corrupt *deployment.CorruptLedgerError
		require.ErrorAs(t, err, &corrupt)
		assert.Zero(t, te.net.TxCount())
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		te := newTestEnv(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := te.orch.Run(ctx, IntentBootstrap)
		require.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, te.net.TxCount())
	})
}

func TestReset(t *testing.T) {
	t.Parallel()
	te := newTestEnv(t)
	te.bootstrap(t)

	require.NoError(t, te.orch.Reset(context.Background()))
	_, err := te.store.Load(context.Background())
	require.ErrorIs(t, err, deployment.ErrLedgerNotFound)

	// a fresh bootstrap works on the same chain afterwards
	out, err := te.run(t, IntentBootstrap)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, out.Kind)
}
