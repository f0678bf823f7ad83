package auction

import (
	"fmt"
	"strings"
)

// Intent is what the operator asked a run to do.
type Intent int

const (
	IntentBootstrap Intent = iota
	IntentInPlaceUpgrade
	IntentSwapImplementation
	IntentBatchRepoint
)

var intentNames = map[Intent]string{
	IntentBootstrap:          "bootstrap",
	IntentInPlaceUpgrade:     "in-place",
	IntentSwapImplementation: "swap",
	IntentBatchRepoint:       "batch",
}

func (i Intent) String() string {
	if s, ok := intentNames[i]; ok {
		return s
	}
	return fmt.Sprintf("Intent(%d)", int(i))
}

func (i Intent) IsUpgrade() bool {
	return i == IntentInPlaceUpgrade || i == IntentSwapImplementation || i == IntentBatchRepoint
}

func ParseIntent(s string) (Intent, error) {
	for i, name := range intentNames {
		if strings.EqualFold(s, name) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown intent %q", s)
}

// ParseStrategy parses an upgrade strategy name. There is no default.
func ParseStrategy(s string) (Intent, error) {
	i, err := ParseIntent(s)
	if err != nil || !i.IsUpgrade() {
		return 0, fmt.Errorf("unknown upgrade strategy %q (want in-place, swap or batch)", s)
	}
	return i, nil
}

// State is where a ledger stands relative to the chain at the start of a run.
type State int

const (
	StateBootstrap State = iota
	StateStale
	StateDeployed
	StateAlreadyUpgradedConsistent
	StateAlreadyUpgradedInconsistent
	StateNeedsUpgrade
)

func (s State) String() string {
	switch s {
	case StateBootstrap:
		return "BOOTSTRAP"
	case StateStale:
		return "STALE"
	case StateDeployed:
		return "DEPLOYED"
	case StateAlreadyUpgradedConsistent:
		return "ALREADY_UPGRADED_CONSISTENT"
	case StateAlreadyUpgradedInconsistent:
		return "ALREADY_UPGRADED_INCONSISTENT"
	case StateNeedsUpgrade:
		return "NEEDS_UPGRADE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
