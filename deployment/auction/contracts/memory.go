package contracts

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/environment/memory"
)

// NewMemoryNetwork returns an in-memory network that knows every auction system contract.
func NewMemoryNetwork(opts ...memory.Option) *memory.Network {
	n := memory.NewNetwork(append([]memory.Option{memory.WithListInstances(FuncGetAllAuctions)}, opts...)...)
	RegisterMemoryBehaviors(n)
	return n
}

// RegisterMemoryBehaviors models the contracts closely enough for deployment and
// upgrade flows. Auction business logic (bidding, settlement) is not modelled.
func RegisterMemoryBehaviors(n *memory.Network) {
	n.Register(nftBehavior())
	n.Register(usdcBehavior())
	n.Register(priceFeedBehavior())
	n.Register(auctionBehavior(NFTAuction, ""))
	n.Register(auctionBehavior(NFTAuctionV2, V2Version))
	n.Register(factoryBehavior())
}

func key(parts ...any) string {
	return fmt.Sprint(parts...)
}

func nftBehavior() *memory.Behavior {
	return memory.NewBehavior(NFT).
		On(FuncMintNFT, func(c *memory.Call, args []any) ([]any, error) {
			to, id, uri := args[0].(common.Address), args[1].(*big.Int), args[2].(string)
			if c.Address(key("owner/", id)) != (common.Address{}) {
				return nil, memory.Revert("ERC721InvalidSender")
			}
			c.Set(key("owner/", id), to)
			c.Set(key("uri/", id), uri)
			return nil, nil
		}).
		On(FuncOwnerOf, func(c *memory.Call, args []any) ([]any, error) {
			owner := c.Address(key("owner/", args[0]))
			if owner == (common.Address{}) {
				return nil, memory.Revert("ERC721NonexistentToken")
			}
			return []any{owner}, nil
		}).
		On(FuncTokenURI, func(c *memory.Call, args []any) ([]any, error) {
			return []any{c.String(key("uri/", args[0]))}, nil
		})
}

func usdcBehavior() *memory.Behavior {
	return memory.NewBehavior(USDC).
		On(FuncMintUSDC, func(c *memory.Call, args []any) ([]any, error) {
			to, amount := args[0].(common.Address), args[1].(*big.Int)
			balance := new(big.Int).Add(balanceOf(c, to), amount)
			c.Set(key("balance/", to), balance)
			return nil, nil
		}).
		On(FuncBalanceOf, func(c *memory.Call, args []any) ([]any, error) {
			return []any{balanceOf(c, args[0].(common.Address))}, nil
		}).
		On(FuncDecimals, func(c *memory.Call, args []any) ([]any, error) {
			return []any{uint8(6)}, nil
		})
}

func secondsOf(v *big.Int) time.Duration {
	return time.Duration(v.Int64()) * time.Second
}

func balanceOf(c *memory.Call, holder common.Address) *big.Int {
	if b, ok := c.Get(key("balance/", holder)).(*big.Int); ok {
		return b
	}
	return new(big.Int)
}

func priceFeedBehavior() *memory.Behavior {
	return memory.NewBehavior(MockPriceFeed).
		WithConstructor(func(c *memory.Call, args []any) ([]any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("MockPriceFeed takes (decimals, answer), got %d args", len(args))
			}
			c.Set("decimals", args[0])
			c.Set("answer", args[1])
			return nil, nil
		}).
		On(FuncDecimals, func(c *memory.Call, args []any) ([]any, error) {
			return []any{c.Get("decimals")}, nil
		}).
		On(FuncLatestAnswer, func(c *memory.Call, args []any) ([]any, error) {
			return []any{c.Get("answer")}, nil
		})
}

func auctionBehavior(t deployment.ContractType, version string) *memory.Behavior {
	b := memory.NewBehavior(t).
		On(FuncInitializeAuction, func(c *memory.Call, args []any) ([]any, error) {
			if c.Bool("initialized") {
				return nil, memory.Revert("InvalidInitialization")
			}
			if args[3].(common.Address) == (common.Address{}) {
				return nil, memory.Revert("invalid pay token")
			}
			c.Set("initialized", true)
			c.Set("owner", c.Sender)
			c.Set("seller", args[0])
			c.Set("endTime", c.BlockTime().Add(secondsOf(args[1].(*big.Int))))
			c.Set("startPrice", args[2])
			c.Set("payToken", args[3])
			c.Set("tokenId", args[4])
			c.Set("nft", args[5])
			c.Set("factory", args[6])
			c.Set("auctionId", args[7])
			return nil, nil
		}).
		On(FuncSetPriceFeed, func(c *memory.Call, args []any) ([]any, error) {
			if c.Sender != c.Address("owner") {
				return nil, memory.Revert("OwnableUnauthorizedAccount")
			}
			c.Set(key("feed/", args[0]), args[1])
			return nil, nil
		}).
		On(FuncGetPriceFeed, func(c *memory.Call, args []any) ([]any, error) {
			return []any{c.Address(key("feed/", args[0]))}, nil
		})
	if version != "" {
		b.On(FuncGetVersion, func(c *memory.Call, args []any) ([]any, error) {
			return []any{version}, nil
		})
	}
	return b
}

func factoryBehavior() *memory.Behavior {
	return memory.NewBehavior(NFTAuctionFactory).
		On(FuncInitializeFactory, func(c *memory.Call, args []any) ([]any, error) {
			if c.Bool("initialized") {
				return nil, memory.Revert("InvalidInitialization")
			}
			c.Set("initialized", true)
			c.Set("owner", c.Sender)
			c.Set("implementation", args[0])
			return nil, nil
		}).
		On(FuncSetAuctionImplementation, func(c *memory.Call, args []any) ([]any, error) {
			if c.Sender != c.Address("owner") {
				return nil, memory.Revert("OwnableUnauthorizedAccount")
			}
			impl := args[0].(common.Address)
			if impl == (common.Address{}) || !c.HasCode(impl) {
				return nil, memory.Revert("invalid implementation")
			}
			c.Set("implementation", impl)
			return nil, nil
		}).
		On(FuncGetAuctionImplementation, func(c *memory.Call, args []any) ([]any, error) {
			return []any{c.Address("implementation")}, nil
		}).
		On(FuncCreateAuction, func(c *memory.Call, args []any) ([]any, error) {
			auctions := c.Addresses("auctions")
			id := big.NewInt(int64(len(auctions) + 1))
			proxy, err := c.DeployProxy(c.Address("implementation"), FuncInitializeAuction, []any{
				c.Sender, args[0], args[1], args[2], args[3], args[4], c.Self, id,
			})
			if err != nil {
				return nil, err
			}
			next := make([]common.Address, len(auctions), len(auctions)+1)
			copy(next, auctions)
			c.Set("auctions", append(next, proxy))
			return []any{proxy}, nil
		}).
		On(FuncGetAuctionAddress, func(c *memory.Call, args []any) ([]any, error) {
			auctions := c.Addresses("auctions")
			id := args[0].(*big.Int)
			if !id.IsInt64() || id.Int64() < 1 || id.Int64() > int64(len(auctions)) {
				return nil, memory.Revert("auction does not exist")
			}
			return []any{auctions[id.Int64()-1]}, nil
		}).
		On(FuncGetAllAuctions, func(c *memory.Call, args []any) ([]any, error) {
			auctions := c.Addresses("auctions")
			out := make([]common.Address, len(auctions))
			copy(out, auctions)
			return []any{out}, nil
		})
}
