package auction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type OutcomeKind int

const (
	OutcomeDeployed OutcomeKind = iota
	OutcomeNoOpAlreadyDeployed
	OutcomeNoOpAlreadyUpgraded
	OutcomeUpgraded
	OutcomeBatchUpgraded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDeployed:
		return "Deployed"
	case OutcomeNoOpAlreadyDeployed:
		return "NoOpAlreadyDeployed"
	case OutcomeNoOpAlreadyUpgraded:
		return "NoOpAlreadyUpgraded"
	case OutcomeUpgraded:
		return "Upgraded"
	case OutcomeBatchUpgraded:
		return "BatchUpgraded"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is what a run did. Record is the ledger as it stands after the run.
type Outcome struct {
	Kind             OutcomeKind
	RunID            string
	State            State
	Implementation   common.Address
	Count            int
	PartialFailureAt *common.Address
	// Operations lists the ids of the operations executed, in order.
	Operations []string
	Record     *DeploymentRecord
}

func (o Outcome) Partial() bool {
	return o.PartialFailureAt != nil
}

func (o Outcome) Summary() string {
	switch o.Kind {
	case OutcomeUpgraded:
		return fmt.Sprintf("%s{implementation: %s}", o.Kind, o.Implementation)
	case OutcomeBatchUpgraded:
		if o.Partial() {
			return fmt.Sprintf("%s{implementation: %s, count: %d, partialFailureAt: %s}", o.Kind, o.Implementation, o.Count, *o.PartialFailureAt)
		}
		return fmt.Sprintf("%s{implementation: %s, count: %d}", o.Kind, o.Implementation, o.Count)
	default:
		return o.Kind.String()
	}
}

const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitPartial = 2
)

func (o Outcome) ExitCode() int {
	if o.Partial() {
		return ExitPartial
	}
	return ExitSuccess
}
