package memory

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
)

// NewSigners derives one deterministic key per role. The keys only exist to give
// each role a stable address on an in-memory network; they are not funded anywhere.
func NewSigners(chainID uint64, roles ...string) map[string]*bind.TransactOpts {
	signers := make(map[string]*bind.TransactOpts, len(roles))
	for _, role := range roles {
		key, err := crypto.ToECDSA(crypto.Keccak256([]byte("memory-signer/" + role)))
		if err != nil {
			panic(err)
		}
		opts, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(chainID))
		if err != nil {
			panic(err)
		}
		signers[role] = opts
	}
	return signers
}

// NewEnvironment wires an in-memory network into a deployment environment.
func NewEnvironment(lggr *zap.SugaredLogger, net *Network, signers map[string]*bind.TransactOpts, clock clockwork.Clock) *deployment.Environment {
	return deployment.NewEnvironment(Memory, lggr, net, deployment.NamedArtifacts{}, signers, clock, context.Background)
}
