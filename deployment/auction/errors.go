package auction

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
)

// StaleLedgerError means the ledger points at contracts that no longer exist on the
// network, usually because a local devnet was restarted. The ledger must be reset.
type StaleLedgerError struct {
	Network         string
	Dead            []deployment.Liveness
	ExpectedChainID uint64
	ActualChainID   uint64
}

func (e *StaleLedgerError) Error() string {
	var parts []string
	if e.ExpectedChainID != e.ActualChainID {
		parts = append(parts, fmt.Sprintf("chain id is %d, ledger recorded %d", e.ActualChainID, e.ExpectedChainID))
	}
	for _, d := range e.Dead {
		parts = append(parts, fmt.Sprintf("no code for %s at %s", d.Name, d.Address))
	}
	return fmt.Sprintf("ledger for %s is stale (%s); reset it and deploy again", e.Network, strings.Join(parts, "; "))
}

// PostUpgradeVerificationError means an upgrade's transactions succeeded but the chain
// does not report the new implementation. The ledger is left untouched.
type PostUpgradeVerificationError struct {
	Strategy Intent
	Target   string
	Expected common.Address
	Actual   common.Address
	Err      error
}

func (e *PostUpgradeVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: could not confirm %s is %s: %v", e.Strategy, e.Target, e.Expected, e.Err)
	}
	return fmt.Sprintf("%s: %s is %s, expected %s", e.Strategy, e.Target, e.Actual, e.Expected)
}

func (e *PostUpgradeVerificationError) Unwrap() error {
	return e.Err
}

// PartialBatchError reports a batch re-point that stopped at the first failing instance.
// Instances before it stay upgraded; nothing is rolled back.
type PartialBatchError struct {
	Implementation common.Address
	Upgraded       []common.Address
	FailedAt       common.Address
	Err            error
	NotAttempted   []common.Address
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("batch re-point to %s stopped at %s after %d upgraded (%d not attempted): %v",
		e.Implementation, e.FailedAt, len(e.Upgraded), len(e.NotAttempted), e.Err)
}

func (e *PartialBatchError) Unwrap() error {
	return e.Err
}

type Discrepancy struct {
	Field    string
	Expected string
	Actual   string
	Reason   string
}

func (d Discrepancy) String() string {
	if d.Reason != "" {
		return fmt.Sprintf("%s: expected %s: %s", d.Field, d.Expected, d.Reason)
	}
	return fmt.Sprintf("%s: expected %s, got %s", d.Field, d.Expected, d.Actual)
}

// VerificationFailedError carries every discrepancy found, not just the first.
type VerificationFailedError struct {
	Discrepancies []Discrepancy
}

func (e *VerificationFailedError) Error() string {
	lines := make([]string, 0, len(e.Discrepancies))
	for _, d := range e.Discrepancies {
		lines = append(lines, d.String())
	}
	return fmt.Sprintf("verification found %d discrepancies: %s", len(e.Discrepancies), strings.Join(lines, "; "))
}
