package auction

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
)

const (
	SchemaVersion  = 1
	LedgerFileName = "NFTAuction_deployment.json"
)

// Base contract and price feed keys used in the ledger.
const (
	KeyNFT  = "NFT"
	KeyUSDC = "USDC"
	KeyETH  = "ETH"
)

// Account roles.
const (
	RoleDeployer = "deployer"
	RoleAlice    = "alice"
	RoleBob      = "bob"
	RoleCarol    = "carol"
)

// DeploymentRecord is the ledger for one network. It is loaded once at the start of a run
// and saved at most once, after the run's changes have been verified on chain.
type DeploymentRecord struct {
	SchemaVersion int                                  `json:"schemaVersion"`
	Network       string                               `json:"network"`
	ChainID       uint64                               `json:"chainId"`
	BaseContracts map[string]deployment.ContractRecord `json:"baseContracts"`
	Auction       AuctionRecord                        `json:"auction"`
	Factory       FactoryRecord                        `json:"factory"`
	PriceFeeds    map[string]common.Address            `json:"priceFeeds"`
	Accounts      map[string]common.Address            `json:"accounts"`
	DeployedAt    time.Time                            `json:"deployedAt"`
	LastBatch     *BatchReport                         `json:"lastBatch,omitempty"`
	LastRunID     string                               `json:"lastRunId"`
}

// AuctionRecord tracks the auction logic. ProxyAddress never changes once written.
type AuctionRecord struct {
	// ImplementationAddress is what the factory hands to new auctions.
	ImplementationAddress common.Address `json:"implementationAddress"`
	ProxyAddress          common.Address `json:"proxyAddress"`
	// ProxyImplementationAddress is what ProxyAddress currently delegates to.
	ProxyImplementationAddress common.Address            `json:"proxyImplementationAddress"`
	Logic                      deployment.TypeAndVersion `json:"logic"`
	Upgraded                   bool                      `json:"upgraded"`
	UpgradeTime                *time.Time                `json:"upgradeTime,omitempty"`
	Strategy                   string                    `json:"strategy,omitempty"`
}

type FactoryRecord struct {
	Address                    common.Address `json:"address"`
	ProxyImplementationAddress common.Address `json:"proxyImplementationAddress"`
}

// BatchReport is the outcome of the last batch re-point run.
type BatchReport struct {
	Implementation common.Address   `json:"implementation"`
	Instances      []common.Address `json:"instances"`
	Upgraded       []common.Address `json:"upgraded"`
	Skipped        []common.Address `json:"skipped,omitempty"`
	FailedAt       *common.Address  `json:"failedAt,omitempty"`
	Error          string           `json:"error,omitempty"`
	NotAttempted   []common.Address `json:"notAttempted,omitempty"`
	CompletedAt    time.Time        `json:"completedAt"`
}

func (b BatchReport) Complete() bool {
	return b.FailedAt == nil
}

func (r *DeploymentRecord) Validate() error {
	if r.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schemaVersion %d", r.SchemaVersion)
	}
	if r.Network == "" {
		return errors.New("network is required")
	}
	for name, c := range r.BaseContracts {
		if err := c.Validate(); err != nil {
			return errors.Wrapf(err, "baseContracts.%s", name)
		}
	}
	if r.Auction.ProxyAddress == (common.Address{}) {
		return errors.Wrap(deployment.ErrInvalidAddress, "auction.proxyAddress")
	}
	if r.Auction.ImplementationAddress == (common.Address{}) {
		return errors.Wrap(deployment.ErrInvalidAddress, "auction.implementationAddress")
	}
	if r.Factory.Address == (common.Address{}) {
		return errors.Wrap(deployment.ErrInvalidAddress, "factory.address")
	}
	if r.Auction.Upgraded && r.Auction.UpgradeTime == nil {
		return errors.New("auction.upgraded is set without auction.upgradeTime")
	}
	return nil
}

// Addresses lists every contract address the ledger claims is deployed, by ledger field.
func (r DeploymentRecord) Addresses() map[string]common.Address {
	out := map[string]common.Address{
		"auction.proxyAddress":          r.Auction.ProxyAddress,
		"auction.implementationAddress": r.Auction.ImplementationAddress,
		"factory.address":               r.Factory.Address,
	}
	for name, c := range r.BaseContracts {
		out["baseContracts."+name] = c.Address
	}
	for sym, addr := range r.PriceFeeds {
		out["priceFeeds."+sym] = addr
	}
	return out
}

// Roles returns the recorded account roles, sorted.
func (r DeploymentRecord) Roles() []string {
	roles := make([]string, 0, len(r.Accounts))
	for role := range r.Accounts {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// NewLedgerStore returns the file store for a network's ledger under dir.
func NewLedgerStore(dir, network string) *deployment.FileStore[DeploymentRecord] {
	return deployment.NewFileStore[DeploymentRecord](deployment.LedgerPath(dir, network, LedgerFileName))
}
