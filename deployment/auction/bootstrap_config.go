package auction

import (
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
)

// BootstrapConfig holds the seeding and initialization values of a first deployment.
type BootstrapConfig struct {
	TokenID         *big.Int
	TokenURI        string
	USDCMintAmount  *big.Int
	AuctionDuration time.Duration
	StartPrice      *big.Int
	AuctionID       *big.Int
	FeedDecimals    uint8
	ETHUSDAnswer    *big.Int
	USDCUSDAnswer   *big.Int
}

// DefaultBootstrapConfig seeds NFT #5 to alice, 1000 USDC to bob, and opens a 7 day
// auction at 1 USDC with ETH at 3000 USD.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		TokenID:         big.NewInt(5),
		TokenURI:        "ipfs://demo-uri",
		USDCMintAmount:  big.NewInt(1_000_000_000),
		AuctionDuration: 7 * 24 * time.Hour,
		StartPrice:      big.NewInt(1_000_000),
		AuctionID:       big.NewInt(1),
		FeedDecimals:    8,
		ETHUSDAnswer:    big.NewInt(300_000_000_000),
		USDCUSDAnswer:   big.NewInt(100_000_000),
	}
}

func (c BootstrapConfig) Validate() error {
	switch {
	case c.TokenID == nil || c.TokenID.Sign() < 0:
		return errors.Wrap(deployment.ErrInvalidConfig, "tokenId must be set and non-negative")
	case c.USDCMintAmount == nil || c.USDCMintAmount.Sign() <= 0:
		return errors.Wrap(deployment.ErrInvalidConfig, "usdc mint amount must be positive")
	case c.AuctionDuration < time.Second:
		return errors.Wrap(deployment.ErrInvalidConfig, "auction duration must be at least one second")
	case c.StartPrice == nil || c.StartPrice.Sign() <= 0:
		return errors.Wrap(deployment.ErrInvalidConfig, "start price must be positive")
	case c.AuctionID == nil || c.AuctionID.Sign() <= 0:
		return errors.Wrap(deployment.ErrInvalidConfig, "auction id must be positive")
	case c.ETHUSDAnswer == nil || c.USDCUSDAnswer == nil:
		return errors.Wrap(deployment.ErrInvalidConfig, "price feed answers must be set")
	}
	return nil
}
