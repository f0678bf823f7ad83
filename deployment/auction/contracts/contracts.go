// Package contracts names the auction system's contracts and the functions the
// deployment tooling calls on them.
package contracts

import (
	"github.com/lmittmann/w3"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
)

const (
	NFT               deployment.ContractType = "NFT"
	USDC              deployment.ContractType = "USDC"
	NFTAuction        deployment.ContractType = "NFTAuction"
	NFTAuctionV2      deployment.ContractType = "NFTAuctionV2"
	NFTAuctionFactory deployment.ContractType = "NFTAuctionFactory"
	MockPriceFeed     deployment.ContractType = "MockPriceFeed"
)

// Seeding.
var (
	FuncMintNFT   = w3.MustNewFunc("mint(address,uint256,string)", "")
	FuncMintUSDC  = w3.MustNewFunc("mint(address,uint256)", "")
	FuncOwnerOf   = w3.MustNewFunc("ownerOf(uint256)", "address")
	FuncTokenURI  = w3.MustNewFunc("tokenURI(uint256)", "string")
	FuncBalanceOf = w3.MustNewFunc("balanceOf(address)", "uint256")
	FuncDecimals  = w3.MustNewFunc("decimals()", "uint8")
)

// Auction.
var (
	// FuncInitializeAuction is initialize(seller, duration, startPrice, payToken, tokenId, nft, factory, auctionId).
	FuncInitializeAuction = w3.MustNewFunc("initialize(address,uint256,uint256,address,uint256,address,address,uint256)", "")
	FuncSetPriceFeed      = w3.MustNewFunc("setPriceFeed(address,address)", "")
	FuncGetPriceFeed      = w3.MustNewFunc("getPriceFeed(address)", "address")
	FuncGetVersion        = w3.MustNewFunc("getVersion()", "string")
)

// Factory. The initializer is spelled "initalize" in the deployed contract.
var (
	FuncInitializeFactory        = w3.MustNewFunc("initalize(address)", "")
	FuncSetAuctionImplementation = w3.MustNewFunc("setNFTAuctionImplementation(address)", "")
	FuncGetAuctionImplementation = w3.MustNewFunc("getNFTAuctionImplementation()", "address")
	FuncCreateAuction            = w3.MustNewFunc("createNFTAuction(uint256,uint256,address,uint256,address)", "address")
	FuncGetAuctionAddress        = w3.MustNewFunc("getNFTAuctionAddress(uint256)", "address")
	FuncGetAllAuctions           = w3.MustNewFunc("getAllAuctions()", "address[]")
)

// Price feeds.
var (
	FuncLatestAnswer = w3.MustNewFunc("latestAnswer()", "int256")
)

// V2Version is what NFTAuctionV2.getVersion returns.
const V2Version = "SimpleAuction V2.0"
