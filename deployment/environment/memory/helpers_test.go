package memory

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

type deploymentSigners struct {
	deployer *bind.TransactOpts
	alice    *bind.TransactOpts
}

func bigInt(v int64) *big.Int {
	return big.NewInt(v)
}
