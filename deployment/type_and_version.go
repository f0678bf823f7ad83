package deployment

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrTypeRequired   = errors.New("contract type cannot be empty")
)

// ContractType is a simple string type for identifying contract types.
type ContractType string

func (ct ContractType) String() string {
	return string(ct)
}

var (
	Version1_0_0 = *semver.MustParse("1.0.0")
	Version2_0_0 = *semver.MustParse("2.0.0")
)

type TypeAndVersion struct {
	Type    ContractType   `json:"type"`
	Version semver.Version `json:"version"`
	Labels  LabelSet       `json:"labels,omitempty"`
}

func (tv TypeAndVersion) String() string {
	if len(tv.Labels) == 0 {
		return fmt.Sprintf("%s %s", tv.Type, tv.Version.String())
	}
	return fmt.Sprintf("%s %s %s", tv.Type, tv.Version.String(), tv.Labels.String())
}

// AddLabel tags the entry, e.g. with the strategy that produced it.
func (tv *TypeAndVersion) AddLabel(label string) {
	if tv.Labels == nil {
		tv.Labels = make(LabelSet)
	}
	tv.Labels.Add(label)
}

func NewTypeAndVersion(t ContractType, v semver.Version) TypeAndVersion {
	return TypeAndVersion{
		Type:    t,
		Version: v,
	}
}

// ContractRecord is a single ledger entry: where a contract lives and what it is.
// Metadata holds auxiliary values captured at deploy time (token ids, holders).
type ContractRecord struct {
	Address common.Address `json:"address"`
	TypeAndVersion
	Metadata map[string]string `json:"metadata,omitempty"`
}

func NewContractRecord(addr common.Address, tv TypeAndVersion) ContractRecord {
	return ContractRecord{Address: addr, TypeAndVersion: tv}
}

func (r ContractRecord) Validate() error {
	if r.Address == (common.Address{}) {
		return errors.Wrapf(ErrInvalidAddress, "%s address cannot be zero", r.Type)
	}
	if r.Type == "" {
		return ErrTypeRequired
	}
	return nil
}
