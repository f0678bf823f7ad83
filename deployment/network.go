package deployment

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"
)

// ERC1967ImplementationSlot is bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1).
var ERC1967ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

// FuncUpgradeToAndCall is the UUPS upgrade entrypoint exposed by every upgradeable implementation.
var FuncUpgradeToAndCall = w3.MustNewFunc("upgradeToAndCall(address,bytes)", "")

// ERC1967Proxy is the proxy artifact used for every UUPS deployment.
const ERC1967Proxy ContractType = "ERC1967Proxy"

// CodeReader is the slice of a Network the liveness prober needs.
type CodeReader interface {
	GetCode(ctx context.Context, addr common.Address) ([]byte, error)
}

// Network is the chain a deployment is applied to. Every write blocks until the
// transaction is confirmed (or the network's confirmation timeout fires) and
// returns the address or receipt it produced. Writes are never retried.
type Network interface {
	CodeReader

	ChainID(ctx context.Context) (*big.Int, error)
	DeployContract(ctx context.Context, artifact Artifact, args []any, signer *bind.TransactOpts) (common.Address, error)
	// DeployProxy deploys the artifact as an implementation behind a fresh ERC1967 proxy
	// and calls initializer through the proxy. It returns the proxy and implementation.
	DeployProxy(ctx context.Context, artifact Artifact, initializer *w3.Func, args []any, signer *bind.TransactOpts) (proxy, implementation common.Address, err error)
	CallContract(ctx context.Context, addr common.Address, fn *w3.Func, args []any, signer *bind.TransactOpts, value *big.Int) (*types.Receipt, error)
	ReadContract(ctx context.Context, addr common.Address, fn *w3.Func, args []any, returns ...any) error
	// UpgradeProxy deploys artifact as a new implementation and points proxy at it.
	UpgradeProxy(ctx context.Context, proxy common.Address, artifact Artifact, signer *bind.TransactOpts) (common.Address, error)
	// UpgradeProxyTo points proxy at an implementation that is already deployed.
	UpgradeProxyTo(ctx context.Context, proxy, implementation common.Address, signer *bind.TransactOpts) error
	GetImplementationAddress(ctx context.Context, proxy common.Address) (common.Address, error)
	ListInstances(ctx context.Context, factory common.Address) ([]common.Address, error)

	GetBlockTime(ctx context.Context) (time.Time, error)
	AdvanceTime(ctx context.Context, d time.Duration) error
	MineBlock(ctx context.Context) error
}
