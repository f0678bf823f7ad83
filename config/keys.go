package config

import (
	"io/fs"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/go-envparse"
	"github.com/pkg/errors"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction"
)

// devKeys are the first accounts of the default hardhat/anvil mnemonic. They are
// public and only ever used on the local dev chain.
var devKeys = map[string]string{
	auction.RoleDeployer: "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	auction.RoleAlice:    "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	auction.RoleBob:      "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	auction.RoleCarol:    "7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
}

// Env resolves variables from the process environment first and then from a parsed .env file.
type Env struct {
	file map[string]string
}

// LoadEnv parses a .env file. A missing file is only an error when required is set.
func LoadEnv(path string, required bool) (Env, error) {
	if path == "" {
		return Env{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return Env{}, nil
		}
		return Env{}, errors.Wrapf(err, "open env file %s", path)
	}
	defer f.Close()
	vars, err := envparse.Parse(f)
	if err != nil {
		return Env{}, errors.Wrapf(deployment.ErrInvalidConfig, "parse env file %s: %v", path, err)
	}
	return NewEnv(vars), nil
}

// NewEnv wraps variables read from a file. The process environment still wins.
func NewEnv(vars map[string]string) Env {
	return Env{file: vars}
}

func (e Env) Lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := e.file[key]
	return v, ok
}

// Signers builds one transactor per configured role. On the local dev chain a role
// whose variable is unset falls back to the well-known hardhat account.
func (c Config) Signers(env Env) (map[string]*bind.TransactOpts, error) {
	roles := make([]string, 0, len(c.Accounts))
	for role := range c.Accounts {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	chainID := new(big.Int).SetUint64(c.Network.ChainID)
	signers := make(map[string]*bind.TransactOpts, len(roles))
	for _, role := range roles {
		variable := c.Accounts[role]
		hexKey, ok := env.Lookup(variable)
		if !ok || hexKey == "" {
			dev, isDev := devKeys[role]
			if !isDev || c.Network.ChainID != DefaultChainID {
				return nil, errors.Wrapf(deployment.ErrInvalidConfig, "account %s: %s is not set", role, variable)
			}
			hexKey = dev
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, errors.Wrapf(deployment.ErrInvalidConfig, "account %s: invalid private key in %s", role, variable)
		}
		opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, errors.Wrapf(err, "account %s", role)
		}
		signers[role] = opts
	}
	return signers, nil
}
