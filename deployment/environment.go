package deployment

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Environment is everything a run needs to act on one network: the chain, the
// artifacts to deploy, the signers by role and the clock used for timestamps.
type Environment struct {
	Name       string
	Logger     *zap.SugaredLogger
	Network    Network
	Artifacts  ArtifactSource
	Signers    map[string]*bind.TransactOpts
	Clock      clockwork.Clock
	GetContext func() context.Context
}

func NewEnvironment(
	name string,
	lggr *zap.SugaredLogger,
	network Network,
	artifacts ArtifactSource,
	signers map[string]*bind.TransactOpts,
	clock clockwork.Clock,
	ctx func() context.Context,
) *Environment {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Environment{
		Name:       name,
		Logger:     lggr,
		Network:    network,
		Artifacts:  artifacts,
		Signers:    signers,
		Clock:      clock,
		GetContext: ctx,
	}
}

// Signer returns the transactor for a role, or nil.
func (e Environment) Signer(role string) *bind.TransactOpts {
	return e.Signers[role]
}

// Accounts maps each role to its signer address.
func (e Environment) Accounts() map[string]common.Address {
	out := make(map[string]common.Address, len(e.Signers))
	for role, s := range e.Signers {
		out[role] = s.From
	}
	return out
}

func (e Environment) Roles() []string {
	roles := make([]string, 0, len(e.Signers))
	for role := range e.Signers {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// ChainName resolves the connected chain's display name.
func (e Environment) ChainName(ctx context.Context) (string, error) {
	id, err := e.Network.ChainID(ctx)
	if err != nil {
		return "", err
	}
	return ChainName(id.Uint64()), nil
}
