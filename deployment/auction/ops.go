package auction

import (
	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/operations"
)

var opVersion = semver.MustParse("1.0.0")

type DeployInput struct {
	Artifact deployment.Artifact
	Args     []any
	Signer   *bind.TransactOpts
}

type DeployProxyInput struct {
	Artifact    deployment.Artifact
	Initializer *w3.Func
	Args        []any
	Signer      *bind.TransactOpts
}

type ProxyOutput struct {
	Proxy          common.Address
	Implementation common.Address
}

type CallInput struct {
	To     common.Address
	Fn     *w3.Func
	Args   []any
	Signer *bind.TransactOpts
}

type UpgradeProxyInput struct {
	Proxy    common.Address
	Artifact deployment.Artifact
	Signer   *bind.TransactOpts
}

type UpgradeProxyToInput struct {
	Proxy          common.Address
	Implementation common.Address
	Signer         *bind.TransactOpts
}

var DeployContractOp = operations.NewOperation(
	"deploy-contract",
	opVersion,
	"Deploy a contract",
	func(b operations.Bundle, net deployment.Network, in DeployInput) (common.Address, error) {
		addr, err := net.DeployContract(b.GetContext(), in.Artifact, in.Args, in.Signer)
		if err != nil {
			return common.Address{}, err
		}
		b.Logger.Infow("Deployed contract", "contract", in.Artifact.Name, "addr", addr)
		return addr, nil
	},
)

// DeployProxyOp deploys an implementation and its UUPS proxy. Both deployments belong
// to one logical step: the proxy is useless without the implementation it was built for.
var DeployProxyOp = operations.NewOperation(
	"deploy-uups-proxy",
	opVersion,
	"Deploy an implementation behind an ERC1967 proxy and initialize it",
	func(b operations.Bundle, net deployment.Network, in DeployProxyInput) (ProxyOutput, error) {
		proxy, impl, err := net.DeployProxy(b.GetContext(), in.Artifact, in.Initializer, in.Args, in.Signer)
		if err != nil {
			return ProxyOutput{}, err
		}
		b.Logger.Infow("Deployed proxy", "contract", in.Artifact.Name, "proxy", proxy, "implementation", impl)
		return ProxyOutput{Proxy: proxy, Implementation: impl}, nil
	},
)

var CallContractOp = operations.NewOperation(
	"call-contract",
	opVersion,
	"Send a contract transaction",
	func(b operations.Bundle, net deployment.Network, in CallInput) (operations.EmptyInput, error) {
		if _, err := net.CallContract(b.GetContext(), in.To, in.Fn, in.Args, in.Signer, nil); err != nil {
			return operations.EmptyInput{}, err
		}
		b.Logger.Infow("Sent transaction", "to", in.To, "method", in.Fn.Signature)
		return operations.EmptyInput{}, nil
	},
)

var UpgradeProxyOp = operations.NewOperation(
	"upgrade-proxy",
	opVersion,
	"Deploy a new implementation and point a UUPS proxy at it",
	func(b operations.Bundle, net deployment.Network, in UpgradeProxyInput) (common.Address, error) {
		impl, err := net.UpgradeProxy(b.GetContext(), in.Proxy, in.Artifact, in.Signer)
		if err != nil {
			return common.Address{}, err
		}
		b.Logger.Infow("Upgraded proxy", "proxy", in.Proxy, "implementation", impl)
		return impl, nil
	},
)

var UpgradeProxyToOp = operations.NewOperation(
	"upgrade-proxy-to",
	opVersion,
	"Point a UUPS proxy at an already deployed implementation",
	func(b operations.Bundle, net deployment.Network, in UpgradeProxyToInput) (operations.EmptyInput, error) {
		if err := net.UpgradeProxyTo(b.GetContext(), in.Proxy, in.Implementation, in.Signer); err != nil {
			return operations.EmptyInput{}, err
		}
		b.Logger.Infow("Re-pointed proxy", "proxy", in.Proxy, "implementation", in.Implementation)
		return operations.EmptyInput{}, nil
	},
)
