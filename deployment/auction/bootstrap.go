package auction

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction/contracts"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/operations"
)

type BootstrapInput struct {
	Bundle operations.Bundle
	Config BootstrapConfig
}

// Bootstrap deploys the whole system on an empty network and returns the ledger
// describing it. The record is not saved here.
var Bootstrap = deployment.CreateChangeSet(applyBootstrap, verifyBootstrap)

var bootstrapArtifacts = []deployment.ContractType{
	contracts.NFT,
	contracts.USDC,
	contracts.NFTAuction,
	contracts.MockPriceFeed,
	contracts.NFTAuctionFactory,
}

func verifyBootstrap(e deployment.Environment, in BootstrapInput) error {
	if err := in.Config.Validate(); err != nil {
		return err
	}
	for _, role := range []string{RoleDeployer, RoleAlice, RoleBob} {
		if e.Signer(role) == nil {
			return errors.Wrapf(deployment.ErrInvalidEnvironment, "no signer for role %s", role)
		}
	}
	for _, name := range bootstrapArtifacts {
		if _, err := e.Artifacts.Artifact(name); err != nil {
			return errors.Wrap(deployment.ErrInvalidEnvironment, err.Error())
		}
	}
	return nil
}

func applyBootstrap(e deployment.Environment, in BootstrapInput) (DeploymentRecord, error) {
	b, cfg, net := in.Bundle, in.Config, e.Network
	deployer := e.Signer(RoleDeployer)
	alice, bob := e.Signer(RoleAlice).From, e.Signer(RoleBob).From
	artifacts := make(map[deployment.ContractType]deployment.Artifact, len(bootstrapArtifacts))
	for _, name := range bootstrapArtifacts {
		a, err := e.Artifacts.Artifact(name)
		if err != nil {
			return DeploymentRecord{}, err
		}
		artifacts[name] = a
	}

	chainID, err := net.ChainID(b.GetContext())
	if err != nil {
		return DeploymentRecord{}, errors.Wrap(err, "read chain id")
	}

	nft, err := operations.ExecuteOperation(b, DeployContractOp, net, DeployInput{Artifact: artifacts[contracts.NFT], Signer: deployer})
	if err != nil {
		return DeploymentRecord{}, err
	}
	usdc, err := operations.ExecuteOperation(b, DeployContractOp, net, DeployInput{Artifact: artifacts[contracts.USDC], Signer: deployer})
	if err != nil {
		return DeploymentRecord{}, err
	}
	if _, err := operations.ExecuteOperation(b, CallContractOp, net, CallInput{
		To: nft, Fn: contracts.FuncMintNFT, Args: []any{alice, cfg.TokenID, cfg.TokenURI}, Signer: deployer,
	}); err != nil {
		return DeploymentRecord{}, errors.Wrapf(err, "mint NFT #%s to alice", cfg.TokenID)
	}
	if _, err := operations.ExecuteOperation(b, CallContractOp, net, CallInput{
		To: usdc, Fn: contracts.FuncMintUSDC, Args: []any{bob, cfg.USDCMintAmount}, Signer: deployer,
	}); err != nil {
		return DeploymentRecord{}, errors.Wrap(err, "mint USDC to bob")
	}

	auction, err := operations.ExecuteOperation(b, DeployProxyOp, net, DeployProxyInput{
		Artifact:    artifacts[contracts.NFTAuction],
		Initializer: contracts.FuncInitializeAuction,
		Args: []any{
			alice,
			big.NewInt(int64(cfg.AuctionDuration.Seconds())),
			cfg.StartPrice,
			usdc,
			cfg.TokenID,
			nft,
			common.Address{}, // no factory for the seed auction
			cfg.AuctionID,
		},
		Signer: deployer,
	})
	if err != nil {
		return DeploymentRecord{}, err
	}

	usdcFeed, err := operations.ExecuteOperation(b, DeployContractOp, net, DeployInput{
		Artifact: artifacts[contracts.MockPriceFeed], Args: []any{cfg.FeedDecimals, cfg.USDCUSDAnswer}, Signer: deployer,
	})
	if err != nil {
		return DeploymentRecord{}, err
	}
	ethFeed, err := operations.ExecuteOperation(b, DeployContractOp, net, DeployInput{
		Artifact: artifacts[contracts.MockPriceFeed], Args: []any{cfg.FeedDecimals, cfg.ETHUSDAnswer}, Signer: deployer,
	})
	if err != nil {
		return DeploymentRecord{}, err
	}
	// address(0) is ETH
	for _, feed := range []struct{ asset, feed common.Address }{{common.Address{}, ethFeed}, {usdc, usdcFeed}} {
		if _, err := operations.ExecuteOperation(b, CallContractOp, net, CallInput{
			To: auction.Proxy, Fn: contracts.FuncSetPriceFeed, Args: []any{feed.asset, feed.feed}, Signer: deployer,
		}); err != nil {
			return DeploymentRecord{}, errors.Wrapf(err, "set price feed for %s", feed.asset)
		}
	}

	factory, err := operations.ExecuteOperation(b, DeployProxyOp, net, DeployProxyInput{
		Artifact:    artifacts[contracts.NFTAuctionFactory],
		Initializer: contracts.FuncInitializeFactory,
		Args:        []any{auction.Implementation},
		Signer:      deployer,
	})
	if err != nil {
		return DeploymentRecord{}, err
	}

	nftRecord := deployment.NewContractRecord(nft, deployment.NewTypeAndVersion(contracts.NFT, deployment.Version1_0_0))
	nftRecord.Metadata = map[string]string{"tokenId": cfg.TokenID.String(), "holder": alice.Hex(), "tokenURI": cfg.TokenURI}
	usdcRecord := deployment.NewContractRecord(usdc, deployment.NewTypeAndVersion(contracts.USDC, deployment.Version1_0_0))
	usdcRecord.Metadata = map[string]string{"holder": bob.Hex(), "minted": cfg.USDCMintAmount.String(), "decimals": strconv.Itoa(6)}

	logic := deployment.NewTypeAndVersion(contracts.NFTAuction, deployment.Version1_0_0)
	logic.AddLabel(IntentBootstrap.String())
	return DeploymentRecord{
		SchemaVersion: SchemaVersion,
		Network:       e.Name,
		ChainID:       chainID.Uint64(),
		BaseContracts: map[string]deployment.ContractRecord{
			KeyNFT:  nftRecord,
			KeyUSDC: usdcRecord,
		},
		Auction: AuctionRecord{
			ImplementationAddress:      auction.Implementation,
			ProxyAddress:               auction.Proxy,
			ProxyImplementationAddress: auction.Implementation,
			Logic:                      logic,
		},
		Factory: FactoryRecord{
			Address:                    factory.Proxy,
			ProxyImplementationAddress: factory.Implementation,
		},
		PriceFeeds: map[string]common.Address{
			KeyETH:  ethFeed,
			KeyUSDC: usdcFeed,
		},
		Accounts:   e.Accounts(),
		DeployedAt: e.Clock.Now().UTC().Truncate(timeResolution),
	}, nil
}
