package memory

import (
	"maps"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"
	"github.com/pkg/errors"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
)

// Handler executes one contract function. Args are the Go values the caller passed
// (already checked against the function's ABI), the returned values must match the
// function's return types.
type Handler func(c *Call, args []any) ([]any, error)

// Behavior models a contract type: a constructor and the functions it answers to.
type Behavior struct {
	Type        deployment.ContractType
	Constructor Handler
	methods     map[[4]byte]method
}

type method struct {
	fn     *w3.Func
	handle Handler
}

func NewBehavior(t deployment.ContractType) *Behavior {
	return &Behavior{Type: t, methods: make(map[[4]byte]method)}
}

// On registers the handler for fn.
func (b *Behavior) On(fn *w3.Func, h Handler) *Behavior {
	b.methods[fn.Selector] = method{fn: fn, handle: h}
	return b
}

// WithConstructor sets the handler run once at deployment.
func (b *Behavior) WithConstructor(h Handler) *Behavior {
	b.Constructor = h
	return b
}

// Call is the execution context of a handler. Storage is that of the called address;
// for a proxy it is the proxy's storage while the code is the implementation's.
type Call struct {
	net     *Network
	Self    common.Address
	Sender  common.Address
	Value   *big.Int
	storage map[string]any
}

func (c *Call) Get(key string) any {
	return c.storage[key]
}

func (c *Call) Set(key string, v any) {
	c.storage[key] = v
}

func (c *Call) Address(key string) common.Address {
	addr, _ := c.storage[key].(common.Address)
	return addr
}

func (c *Call) Addresses(key string) []common.Address {
	addrs, _ := c.storage[key].([]common.Address)
	return addrs
}

func (c *Call) Bool(key string) bool {
	b, _ := c.storage[key].(bool)
	return b
}

func (c *Call) String(key string) string {
	s, _ := c.storage[key].(string)
	return s
}

func (c *Call) BlockTime() time.Time {
	return c.net.blockTimeLocked()
}

func (c *Call) HasCode(addr common.Address) bool {
	_, ok := c.net.contracts[addr]
	return ok
}

// DeployProxy deploys a proxy in front of an existing implementation and runs the
// initializer through it, with the calling contract as sender. The new proxy is
// upgradeable by whoever administers the calling contract.
func (c *Call) DeployProxy(implementation common.Address, initializer *w3.Func, args []any) (common.Address, error) {
	admin := c.Self
	if caller, ok := c.net.contracts[c.Self]; ok && caller.proxy {
		admin = caller.admin
	}
	return c.net.deployProxyLocked(c.Self, admin, implementation, initializer, args)
}

// Revert aborts the call. State changes made by the handler are discarded.
func Revert(reason string) error {
	return errors.Errorf("execution reverted: %s", reason)
}

type contract struct {
	behavior *Behavior
	code     []byte
	storage  map[string]any
	// set for proxies only
	proxy          bool
	implementation common.Address
	admin          common.Address
}

func (c *contract) snapshot() map[string]any {
	return maps.Clone(c.storage)
}
