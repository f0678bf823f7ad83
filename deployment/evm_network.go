package deployment

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lmittmann/w3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultConfirmTimeout = 2 * time.Minute

// ErrConfirmTimeout is returned when a submitted transaction was not mined in time.
// The transaction may still be mined later; it is never resubmitted.
var ErrConfirmTimeout = errors.New("timed out waiting for transaction confirmation")

type EVMNetworkConfig struct {
	ConfirmTimeout time.Duration
	// ListInstances is the factory getter returning every instance it created.
	ListInstances *w3.Func
}

// EVMNetwork is a Network backed by a JSON-RPC node and hardhat artifacts.
type EVMNetwork struct {
	client    OnchainClient
	raw       *rpc.Client
	artifacts ArtifactSource
	cfg       EVMNetworkConfig
	lggr      *zap.SugaredLogger
}

var _ Network = (*EVMNetwork)(nil)

func NewEVMNetwork(lggr *zap.SugaredLogger, client OnchainClient, raw *rpc.Client, artifacts ArtifactSource, cfg EVMNetworkConfig) *EVMNetwork {
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	return &EVMNetwork{
		client:    client,
		raw:       raw,
		artifacts: artifacts,
		cfg:       cfg,
		lggr:      lggr,
	}
}

func (n *EVMNetwork) ChainID(ctx context.Context) (*big.Int, error) {
	return n.client.ChainID(ctx)
}

func (n *EVMNetwork) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	return n.client.CodeAt(ctx, addr, nil)
}

func (n *EVMNetwork) transactOpts(ctx context.Context, signer *bind.TransactOpts, value *big.Int) *bind.TransactOpts {
	opts := *signer
	opts.Context = ctx
	opts.Value = value
	return &opts
}

func (n *EVMNetwork) confirm(ctx context.Context, from common.Address, tx *types.Transaction, contractABI abi.ABI) (*types.Receipt, error) {
	cctx, cancel := context.WithTimeout(ctx, n.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := n.waitMined(cctx, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Wrapf(ErrConfirmTimeout, "tx %s after %s", tx.Hash().Hex(), n.cfg.ConfirmTimeout)
		}
		return nil, errors.Wrapf(err, "wait for tx %s", tx.Hash().Hex())
	}
	if receipt.Status == types.ReceiptStatusFailed {
		reason, rerr := revertReason(ctx, n.client, from, tx, receipt)
		if rerr != nil {
			return receipt, errors.Wrapf(rerr, "tx %s reverted", tx.Hash().Hex())
		}
		if decoded, perr := parseErrorFromABI(reason, contractABI); perr == nil {
			reason = decoded
		}
		return receipt, fmt.Errorf("tx %s reverted: %s", tx.Hash().Hex(), reason)
	}
	return receipt, nil
}

// ReceiptWaiter is a client that waits for receipts itself, e.g. on several nodes at once.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

func (n *EVMNetwork) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if w, ok := n.client.(ReceiptWaiter); ok {
		return w.WaitMined(ctx, tx)
	}
	return bind.WaitMined(ctx, n.client, tx)
}

func (n *EVMNetwork) DeployContract(ctx context.Context, artifact Artifact, args []any, signer *bind.TransactOpts) (common.Address, error) {
	if len(artifact.Bytecode) == 0 {
		return common.Address{}, fmt.Errorf("artifact %s has no bytecode", artifact.Name)
	}
	addr, tx, _, err := bind.DeployContract(n.transactOpts(ctx, signer, nil), artifact.ABI, artifact.Bytecode, n.client, args...)
	if err != nil {
		return common.Address{}, errors.Wrapf(DecodeErr(artifact.ABI, err), "deploy %s", artifact.Name)
	}
	if _, err := n.confirm(ctx, signer.From, tx, artifact.ABI); err != nil {
		return common.Address{}, errors.Wrapf(err, "confirm %s deployment", artifact.Name)
	}
	n.lggr.Debugw("Deployed contract", "contract", artifact.Name, "addr", addr, "tx", tx.Hash())
	return addr, nil
}

func (n *EVMNetwork) DeployProxy(ctx context.Context, artifact Artifact, initializer *w3.Func, args []any, signer *bind.TransactOpts) (common.Address, common.Address, error) {
	proxyArtifact, err := n.artifacts.Artifact(ERC1967Proxy)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	initData, err := initializer.EncodeArgs(args...)
	if err != nil {
		return common.Address{}, common.Address{}, errors.Wrapf(err, "encode %s initializer", artifact.Name)
	}
	impl, err := n.DeployContract(ctx, artifact, nil, signer)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	proxy, err := n.DeployContract(ctx, proxyArtifact, []any{impl, initData}, signer)
	if err != nil {
		return common.Address{}, impl, err
	}
	return proxy, impl, nil
}

func (n *EVMNetwork) CallContract(ctx context.Context, addr common.Address, fn *w3.Func, args []any, signer *bind.TransactOpts, value *big.Int) (*types.Receipt, error) {
	data, err := fn.EncodeArgs(args...)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", fn.Signature)
	}
	bound := bind.NewBoundContract(addr, abi.ABI{}, n.client, n.client, n.client)
	tx, err := bound.RawTransact(n.transactOpts(ctx, signer, value), data)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s to %s", fn.Signature, addr)
	}
	return n.confirm(ctx, signer.From, tx, abi.ABI{})
}

func (n *EVMNetwork) ReadContract(ctx context.Context, addr common.Address, fn *w3.Func, args []any, returns ...any) error {
	data, err := fn.EncodeArgs(args...)
	if err != nil {
		return errors.Wrapf(err, "encode %s", fn.Signature)
	}
	out, err := n.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return errors.Wrapf(err, "call %s on %s", fn.Signature, addr)
	}
	if len(returns) == 0 {
		return nil
	}
	if err := fn.DecodeReturns(out, returns...); err != nil {
		return errors.Wrapf(err, "decode %s result from %s", fn.Signature, addr)
	}
	return nil
}

func (n *EVMNetwork) UpgradeProxy(ctx context.Context, proxy common.Address, artifact Artifact, signer *bind.TransactOpts) (common.Address, error) {
	impl, err := n.DeployContract(ctx, artifact, nil, signer)
	if err != nil {
		return common.Address{}, err
	}
	if err := n.UpgradeProxyTo(ctx, proxy, impl, signer); err != nil {
		return common.Address{}, err
	}
	return impl, nil
}

func (n *EVMNetwork) UpgradeProxyTo(ctx context.Context, proxy, implementation common.Address, signer *bind.TransactOpts) error {
	_, err := n.CallContract(ctx, proxy, FuncUpgradeToAndCall, []any{implementation, []byte{}}, signer, nil)
	return errors.Wrapf(err, "upgrade proxy %s to %s", proxy, implementation)
}

func (n *EVMNetwork) GetImplementationAddress(ctx context.Context, proxy common.Address) (common.Address, error) {
	raw, err := n.client.StorageAt(ctx, proxy, ERC1967ImplementationSlot, nil)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "read implementation slot of %s", proxy)
	}
	return common.BytesToAddress(raw), nil
}

func (n *EVMNetwork) ListInstances(ctx context.Context, factory common.Address) ([]common.Address, error) {
	if n.cfg.ListInstances == nil {
		return nil, errors.New("no instance listing function configured")
	}
	var instances []common.Address
	if err := n.ReadContract(ctx, factory, n.cfg.ListInstances, nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

func (n *EVMNetwork) GetBlockTime(ctx context.Context) (time.Time, error) {
	header, err := n.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "latest header")
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (n *EVMNetwork) AdvanceTime(ctx context.Context, d time.Duration) error {
	if n.raw == nil {
		return errors.New("advance time needs a raw rpc client")
	}
	return errors.Wrap(n.raw.CallContext(ctx, nil, "evm_increaseTime", int64(d/time.Second)), "evm_increaseTime")
}

func (n *EVMNetwork) MineBlock(ctx context.Context) error {
	if n.raw == nil {
		return errors.New("mine block needs a raw rpc client")
	}
	return errors.Wrap(n.raw.CallContext(ctx, nil, "evm_mine"), "evm_mine")
}
