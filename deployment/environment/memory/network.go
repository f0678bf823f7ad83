package memory

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"github.com/pkg/errors"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
)

const (
	Memory = "memory"
	// ChainID is the hardhat network chain id, used unless overridden.
	ChainID uint64 = 31337
)

var ErrUnknownContract = errors.New("no behavior registered for contract")

// Tx is one transaction the network accepted, successful or not.
type Tx struct {
	From   common.Address
	To     common.Address
	Method string
	Err    error
}

type failKey struct {
	to       common.Address
	selector [4]byte
}

// Network is an in-process chain that models contracts with registered Behaviors
// instead of executing bytecode. It implements deployment.Network with the same
// proxy semantics as an ERC1967 UUPS proxy, and lets tests inject failures.
type Network struct {
	mu            sync.Mutex
	chainID       uint64
	startTime     time.Time
	offset        time.Duration
	block         uint64
	behaviors     map[deployment.ContractType]*Behavior
	contracts     map[common.Address]*contract
	nonces        map[common.Address]uint64
	txs           []Tx
	failures      map[failKey]error
	listInstances *w3.Func
}

var _ deployment.Network = (*Network)(nil)

type Option func(*Network)

func WithChainID(id uint64) Option {
	return func(n *Network) { n.chainID = id }
}

func WithStartTime(t time.Time) Option {
	return func(n *Network) { n.startTime = t }
}

// WithListInstances sets the factory getter used by ListInstances.
func WithListInstances(fn *w3.Func) Option {
	return func(n *Network) { n.listInstances = fn }
}

func NewNetwork(opts ...Option) *Network {
	n := &Network{
		chainID:   ChainID,
		startTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		behaviors: make(map[deployment.ContractType]*Behavior),
		contracts: make(map[common.Address]*contract),
		nonces:    make(map[common.Address]uint64),
		failures:  make(map[failKey]error),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Network) Register(b *Behavior) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.behaviors[b.Type] = b
}

// FailCall makes every transaction calling fn on addr fail with err until ClearFailures.
func (n *Network) FailCall(addr common.Address, fn *w3.Func, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[failKey{to: addr, selector: fn.Selector}] = err
}

// Override replaces fn's handler on the behavior registered for t. Contracts already
// deployed with that behavior answer with h from then on.
func (n *Network) Override(t deployment.ContractType, fn *w3.Func, h Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	b, ok := n.behaviors[t]
	if !ok {
		return errors.Wrap(ErrUnknownContract, t.String())
	}
	b.On(fn, h)
	return nil
}

func (n *Network) ClearFailures() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = make(map[failKey]error)
}

// Reset wipes all contracts and nonces, like restarting a local devnet.
func (n *Network) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contracts = make(map[common.Address]*contract)
	n.nonces = make(map[common.Address]uint64)
	n.txs = nil
	n.block = 0
	n.offset = 0
}

// DestroyCode removes the contract at addr.
func (n *Network) DestroyCode(addr common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.contracts, addr)
}

// Transactions returns every transaction sent so far, in order. Reads are not transactions.
func (n *Network) Transactions() []Tx {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Tx, len(n.txs))
	copy(out, n.txs)
	return out
}

func (n *Network) TxCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.txs)
}

// Storage returns a copy of the storage at addr (the proxy's storage for a proxy).
func (n *Network) Storage(addr common.Address) map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.contracts[addr]
	if !ok {
		return nil
	}
	return c.snapshot()
}

func (n *Network) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(n.chainID), nil
}

func (n *Network) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.contracts[addr]
	if !ok {
		return nil, nil
	}
	return c.code, nil
}

func (n *Network) DeployContract(ctx context.Context, artifact deployment.Artifact, args []any, signer *bind.TransactOpts) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	addr, err := n.deployLocked(signer.From, artifact.Name, args)
	n.recordLocked(signer.From, addr, "deploy "+artifact.Name.String(), err)
	return addr, err
}

func (n *Network) DeployProxy(ctx context.Context, artifact deployment.Artifact, initializer *w3.Func, args []any, signer *bind.TransactOpts) (common.Address, common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, common.Address{}, err
	}
	if _, err := initializer.EncodeArgs(args...); err != nil {
		return common.Address{}, common.Address{}, errors.Wrapf(err, "encode %s initializer", artifact.Name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	impl, err := n.deployLocked(signer.From, artifact.Name, nil)
	n.recordLocked(signer.From, impl, "deploy "+artifact.Name.String(), err)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	proxy, err := n.deployProxyLocked(signer.From, signer.From, impl, initializer, args)
	n.recordLocked(signer.From, proxy, "deploy "+deployment.ERC1967Proxy.String(), err)
	if err != nil {
		return common.Address{}, impl, err
	}
	return proxy, impl, nil
}

func (n *Network) CallContract(ctx context.Context, addr common.Address, fn *w3.Func, args []any, signer *bind.TransactOpts, value *big.Int) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := fn.EncodeArgs(args...); err != nil {
		return nil, errors.Wrapf(err, "encode %s", fn.Signature)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.invokeLocked(signer.From, addr, fn, args, value, true)
	n.recordLocked(signer.From, addr, fn.Signature, err)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s to %s", fn.Signature, addr)
	}
	n.block++
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: new(big.Int).SetUint64(n.block)}, nil
}

func (n *Network) ReadContract(ctx context.Context, addr common.Address, fn *w3.Func, args []any, returns ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fn.EncodeArgs(args...); err != nil {
		return errors.Wrapf(err, "encode %s", fn.Signature)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.invokeLocked(common.Address{}, addr, fn, args, nil, false)
	if err != nil {
		return errors.Wrapf(err, "call %s on %s", fn.Signature, addr)
	}
	return assignReturns(fn, out, returns)
}

func (n *Network) UpgradeProxy(ctx context.Context, proxy common.Address, artifact deployment.Artifact, signer *bind.TransactOpts) (common.Address, error) {
	impl, err := n.DeployContract(ctx, artifact, nil, signer)
	if err != nil {
		return common.Address{}, err
	}
	if err := n.UpgradeProxyTo(ctx, proxy, impl, signer); err != nil {
		return common.Address{}, err
	}
	return impl, nil
}

func (n *Network) UpgradeProxyTo(ctx context.Context, proxy, implementation common.Address, signer *bind.TransactOpts) error {
	_, err := n.CallContract(ctx, proxy, deployment.FuncUpgradeToAndCall, []any{implementation, []byte{}}, signer, nil)
	return errors.Wrapf(err, "upgrade proxy %s to %s", proxy, implementation)
}

func (n *Network) GetImplementationAddress(ctx context.Context, proxy common.Address) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.contracts[proxy]
	if !ok || !c.proxy {
		// an empty slot reads as zero
		return common.Address{}, nil
	}
	return c.implementation, nil
}

func (n *Network) ListInstances(ctx context.Context, factory common.Address) ([]common.Address, error) {
	if n.listInstances == nil {
		return nil, errors.New("no instance listing function configured")
	}
	var instances []common.Address
	if err := n.ReadContract(ctx, factory, n.listInstances, nil, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

func (n *Network) GetBlockTime(_ context.Context) (time.Time, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blockTimeLocked(), nil
}

func (n *Network) AdvanceTime(_ context.Context, d time.Duration) error {
	if d < 0 {
		return errors.New("cannot move time backwards")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offset += d
	return nil
}

func (n *Network) MineBlock(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.block++
	return nil
}

func (n *Network) blockTimeLocked() time.Time {
	return n.startTime.Add(n.offset)
}

func (n *Network) recordLocked(from, to common.Address, method string, err error) {
	n.txs = append(n.txs, Tx{From: from, To: to, Method: method, Err: err})
}

func (n *Network) nextAddressLocked(from common.Address) common.Address {
	nonce := n.nonces[from]
	n.nonces[from] = nonce + 1
	return crypto.CreateAddress(from, nonce)
}

func (n *Network) deployLocked(from common.Address, name deployment.ContractType, args []any) (common.Address, error) {
	if name == deployment.ERC1967Proxy {
		return common.Address{}, errors.New("deploy proxies with DeployProxy")
	}
	b, ok := n.behaviors[name]
	if !ok {
		return common.Address{}, errors.Wrap(ErrUnknownContract, name.String())
	}
	addr := n.nextAddressLocked(from)
	c := &contract{
		behavior: b,
		code:     append([]byte{0x60, 0x80}, []byte(name)...),
		storage:  make(map[string]any),
	}
	if b.Constructor != nil {
		call := &Call{net: n, Self: addr, Sender: from, storage: c.storage}
		if _, err := b.Constructor(call, args); err != nil {
			return common.Address{}, errors.Wrapf(err, "construct %s", name)
		}
	}
	n.contracts[addr] = c
	n.block++
	return addr, nil
}

func (n *Network) deployProxyLocked(from, admin, implementation common.Address, initializer *w3.Func, args []any) (common.Address, error) {
	impl, ok := n.contracts[implementation]
	if !ok {
		return common.Address{}, Revert("ERC1967InvalidImplementation")
	}
	addr := n.nextAddressLocked(from)
	p := &contract{
		behavior:       impl.behavior,
		code:           []byte{0x60, 0x80, 0x19, 0x67},
		storage:        make(map[string]any),
		proxy:          true,
		implementation: implementation,
		admin:          admin,
	}
	n.contracts[addr] = p
	if initializer != nil {
		if _, err := n.invokeLocked(from, addr, initializer, args, nil, true); err != nil {
			delete(n.contracts, addr)
			return common.Address{}, err
		}
	}
	n.block++
	return addr, nil
}

// invokeLocked dispatches fn on addr. Proxies answer upgradeToAndCall themselves and
// delegate everything else to their implementation's behavior with their own storage.
// State is committed only when commit is set and the handler succeeds.
func (n *Network) invokeLocked(from, addr common.Address, fn *w3.Func, args []any, value *big.Int, commit bool) ([]any, error) {
	if commit {
		if err, ok := n.failures[failKey{to: addr, selector: fn.Selector}]; ok {
			return nil, err
		}
	}
	c, ok := n.contracts[addr]
	if !ok {
		return nil, fmt.Errorf("call to non-contract %s", addr)
	}
	if c.proxy && fn.Selector == deployment.FuncUpgradeToAndCall.Selector {
		return nil, n.upgradeLocked(from, c, args, commit)
	}
	behavior := c.behavior
	if c.proxy {
		impl, ok := n.contracts[c.implementation]
		if !ok {
			return nil, fmt.Errorf("proxy %s delegates to non-contract %s", addr, c.implementation)
		}
		behavior = impl.behavior
	}
	m, ok := behavior.methods[fn.Selector]
	if !ok {
		return nil, Revert(fmt.Sprintf("%s does not implement %s", behavior.Type, fn.Signature))
	}
	storage := c.snapshot()
	call := &Call{net: n, Self: addr, Sender: from, Value: value, storage: storage}
	out, err := m.handle(call, args)
	if err != nil {
		return nil, err
	}
	if commit {
		c.storage = storage
	}
	return out, nil
}

func (n *Network) upgradeLocked(from common.Address, proxy *contract, args []any, commit bool) error {
	if from != proxy.admin {
		return Revert(fmt.Sprintf("OwnableUnauthorizedAccount(%s)", from))
	}
	if len(args) == 0 {
		return Revert("missing implementation")
	}
	impl, ok := args[0].(common.Address)
	if !ok {
		return Revert("implementation is not an address")
	}
	if _, ok := n.contracts[impl]; !ok {
		return Revert("ERC1967InvalidImplementation")
	}
	if commit {
		proxy.implementation = impl
	}
	return nil
}

func assignReturns(fn *w3.Func, out []any, returns []any) error {
	if len(returns) > len(out) {
		return fmt.Errorf("%s returned %d values, %d requested", fn.Signature, len(out), len(returns))
	}
	for i, dst := range returns {
		rv := reflect.ValueOf(dst)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return fmt.Errorf("return %d of %s must be a non-nil pointer", i, fn.Signature)
		}
		src := reflect.ValueOf(out[i])
		target := rv.Elem()
		switch {
		case !src.IsValid():
			target.SetZero()
		case src.Type().AssignableTo(target.Type()):
			target.Set(src)
		case src.Type().ConvertibleTo(target.Type()):
			target.Set(src.Convert(target.Type()))
		default:
			return fmt.Errorf("cannot assign %s to %s for return %d of %s", src.Type(), target.Type(), i, fn.Signature)
		}
	}
	return nil
}
