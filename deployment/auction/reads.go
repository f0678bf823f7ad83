package auction

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction/contracts"
)

// Names of the strategies used to read the current auction implementation.
const (
	ReadFactoryGetter   = "factory-getter"
	ReadProxySlot       = "proxy-erc1967-slot"
	ReadLedgerCache     = "ledger-cache"
	errZeroFromFactory  = "factory returned the zero address"
	errNoImplementation = "ledger has no implementation"
)

// ReadFactoryImplementation reads the implementation the factory hands out. The
// factory getter is authoritative; the ledger's own proxy and the ledger itself are
// fallbacks whose answers are Degraded and cannot confirm consistency.
func ReadFactoryImplementation(ctx context.Context, net deployment.Network, rec DeploymentRecord) (deployment.ReadResult[common.Address], error) {
	return deployment.ReadWithFallback(ctx,
		deployment.ReadStrategy[common.Address]{
			Name: ReadFactoryGetter,
			Read: func(ctx context.Context) (common.Address, error) {
				var impl common.Address
				if err := net.ReadContract(ctx, rec.Factory.Address, contracts.FuncGetAuctionImplementation, nil, &impl); err != nil {
					return common.Address{}, err
				}
				if impl == (common.Address{}) {
					return common.Address{}, errors.New(errZeroFromFactory)
				}
				return impl, nil
			},
		},
		deployment.ReadStrategy[common.Address]{
			Name:     ReadProxySlot,
			Degraded: true,
			Read: func(ctx context.Context) (common.Address, error) {
				return net.GetImplementationAddress(ctx, rec.Auction.ProxyAddress)
			},
		},
		deployment.ReadStrategy[common.Address]{
			Name:     ReadLedgerCache,
			Degraded: true,
			Read: func(context.Context) (common.Address, error) {
				if rec.Auction.ImplementationAddress == (common.Address{}) {
					return common.Address{}, errors.New(errNoImplementation)
				}
				return rec.Auction.ImplementationAddress, nil
			},
		},
	)
}
