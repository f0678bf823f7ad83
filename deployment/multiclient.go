package deployment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	chainsel "github.com/smartcontractkit/chain-selectors"
	"go.uber.org/zap"
)

const (
	RPCDefaultRetryAttempts = 10
	RPCDefaultRetryDelay    = 1000 * time.Millisecond

	RPCDefaultDialRetryAttempts = 10
	RPCDefaultDialRetryDelay    = 1000 * time.Millisecond
)

type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: RPCDefaultRetryAttempts,
		Delay:    RPCDefaultRetryDelay,
	}
}

// WithRetryConfig overrides the retry policy used for read calls.
func WithRetryConfig(cfg RetryConfig) func(*MultiClient) {
	return func(mc *MultiClient) {
		mc.RetryConfig = cfg
	}
}

// OnchainClient is an EVM chain client.
type OnchainClient interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

var (
	_ OnchainClient = &MultiClient{}
	_ ReceiptWaiter = &MultiClient{}
)

// MultiClient wraps a primary client and read backups. Reads are retried and fall
// through to backups; transactions are sent once, to the primary only, because a
// resubmitted transaction may be mined twice.
type MultiClient struct {
	*ethclient.Client
	Backups     []*ethclient.Client
	RetryConfig RetryConfig
	lggr        *zap.SugaredLogger
	chainName   string
}

// ChainName returns the chain-selectors name for an EVM chain id, or the id itself.
func ChainName(chainID uint64) string {
	details, err := chainsel.GetChainDetailsByChainIDAndFamily(strconv.FormatUint(chainID, 10), chainsel.FamilyEVM)
	if err != nil || details.ChainName == "" {
		return strconv.FormatUint(chainID, 10)
	}
	return details.ChainName
}

func NewMultiClient(lggr *zap.SugaredLogger, rpcsCfg RPCConfig, opts ...func(client *MultiClient)) (*MultiClient, error) {
	if len(rpcsCfg.RPCs) == 0 {
		return nil, errors.New("no RPCs provided, need at least one")
	}
	mc := MultiClient{lggr: lggr, chainName: ChainName(rpcsCfg.ChainID), RetryConfig: defaultRetryConfig()}
	for _, opt := range opts {
		opt(&mc)
	}

	clients := make([]*ethclient.Client, 0, len(rpcsCfg.RPCs))
	for i, r := range rpcsCfg.RPCs {
		client, err := mc.dialWithRetry(r)
		if err != nil {
			lggr.Warnw("Skipping RPC that could not be dialed", "index", i, "rpc", r.Name, "err", err)
			continue
		}
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		return nil, errors.New("no valid RPC clients created")
	}

	mc.Client = clients[0]
	mc.Backups = clients[1:]
	return &mc, nil
}

// RPC exposes the primary raw client for node specific methods (evm_mine and friends).
func (mc *MultiClient) RPC() *rpc.Client {
	return mc.Client.Client()
}

// Close closes the primary and every backup connection.
func (mc *MultiClient) Close() {
	mc.Client.Close()
	for _, b := range mc.Backups {
		b.Close()
	}
}

func (mc *MultiClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	mc.lggr.Debugw("Sending transaction", "tx", tx.Hash(), "chain", mc.chainName)
	return mc.Client.SendTransaction(ctx, tx)
}

func (mc *MultiClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := mc.retryWithBackups(ctx, "ChainID", func(client *ethclient.Client) error {
		var err error
		id, err = client.ChainID(ctx)
		return err
	})
	return id, err
}

func (mc *MultiClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result []byte
	err := mc.retryWithBackups(ctx, "CallContract", func(client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, blockNumber)
		return err
	})
	return result, err
}

func (mc *MultiClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	var code []byte
	err := mc.retryWithBackups(ctx, "CodeAt", func(client *ethclient.Client) error {
		var err error
		code, err = client.CodeAt(ctx, account, blockNumber)
		return err
	})
	return code, err
}

func (mc *MultiClient) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	var value []byte
	err := mc.retryWithBackups(ctx, "StorageAt", func(client *ethclient.Client) error {
		var err error
		value, err = client.StorageAt(ctx, account, key, blockNumber)
		return err
	})
	return value, err
}

func (mc *MultiClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := mc.retryWithBackups(ctx, "HeaderByNumber", func(client *ethclient.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

func (mc *MultiClient) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	mc.lggr.Debugw("Waiting for transaction", "tx", tx.Hash(), "chain", mc.chainName)
	// every client polls; the first receipt wins. Not retried: polling already is.
	receipts := make(chan *types.Receipt)
	done := make(chan struct{})
	defer close(done)

	for i, client := range mc.clients() {
		go func() {
			receipt, err := bind.WaitMined(ctx, client, tx)
			if err != nil {
				mc.lggr.Debugw("Client stopped waiting for transaction", "index", i, "tx", tx.Hash(), "err", err)
				return
			}
			select {
			case receipts <- receipt:
			case <-done:
			}
		}()
	}
	select {
	case receipt := <-receipts:
		mc.lggr.Debugw("Transaction mined", "tx", tx.Hash(), "block", receipt.BlockNumber, "status", receipt.Status)
		return receipt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (mc *MultiClient) clients() []*ethclient.Client {
	return append([]*ethclient.Client{mc.Client}, mc.Backups...)
}

// retryWithBackups runs a read against each client in turn until one succeeds.
func (mc *MultiClient) retryWithBackups(ctx context.Context, method string, read func(*ethclient.Client) error) error {
	var lastErr error
	for i, client := range mc.clients() {
		err := retry.Do(
			func() error {
				lastErr = read(client)
				return lastErr
			},
			retry.Context(ctx),
			retry.Attempts(mc.RetryConfig.Attempts),
			retry.Delay(mc.RetryConfig.Delay),
			retry.OnRetry(func(n uint, err error) {
				mc.lggr.Debugw("Retrying read", "method", method, "index", i, "attempt", n+1, "err", err)
			}),
		)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mc.lggr.Warnw("Client failed read, trying next", "method", method, "index", i, "chain", mc.chainName, "err", lastErr)
	}
	return errors.Join(lastErr, fmt.Errorf("%s failed on every client for chain %s", method, mc.chainName))
}

func (mc *MultiClient) dialWithRetry(r RPC) (*ethclient.Client, error) {
	endpoint, err := r.ToEndpoint()
	if err != nil {
		return nil, err
	}

	client, err := retry.DoWithData(
		func() (*ethclient.Client, error) {
			return ethclient.Dial(endpoint)
		},
		retry.Attempts(RPCDefaultDialRetryAttempts),
		retry.Delay(RPCDefaultDialRetryDelay),
		retry.OnRetry(func(n uint, err error) {
			mc.lggr.Debugw("Retrying dial", "rpc", r.Name, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial RPC %s for chain %s: %w", r.Name, mc.chainName, err)
	}
	return client, nil
}
