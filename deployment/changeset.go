package deployment

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidConfig      = errors.New("invalid changeset config")
	ErrInvalidEnvironment = errors.New("invalid environment")
)

// ChangeLogic performs one logical change against an environment and returns what it produced.
type ChangeLogic[C, OUT any] func(e Environment, config C) (OUT, error)

// PreconditionVerifier checks config and environment before a change is applied. It must
// have no side effects. Bad config is ErrInvalidConfig, a surprising environment is
// ErrInvalidEnvironment.
type PreconditionVerifier[C any] func(e Environment, config C) error

// ChangeSetV2 is a change with a side-effect free precondition check. Callers run
// VerifyPreconditions first and only Apply when it passes.
type ChangeSetV2[C, OUT any] interface {
	Apply(e Environment, config C) (OUT, error)
	VerifyPreconditions(e Environment, config C) error
}

type simpleChangeSet[C, OUT any] struct {
	apply  ChangeLogic[C, OUT]
	verify PreconditionVerifier[C]
}

func (scs simpleChangeSet[C, OUT]) Apply(e Environment, config C) (OUT, error) {
	return scs.apply(e, config)
}

func (scs simpleChangeSet[C, OUT]) VerifyPreconditions(e Environment, config C) error {
	if scs.verify == nil {
		return nil
	}
	return scs.verify(e, config)
}

func CreateChangeSet[C, OUT any](applyFunc ChangeLogic[C, OUT], verifyFunc PreconditionVerifier[C]) ChangeSetV2[C, OUT] {
	return simpleChangeSet[C, OUT]{
		apply:  applyFunc,
		verify: verifyFunc,
	}
}

// ApplyChangeSet runs the precondition check and, when it passes, the change.
func ApplyChangeSet[C, OUT any](e Environment, cs ChangeSetV2[C, OUT], config C) (OUT, error) {
	var zero OUT
	if err := cs.VerifyPreconditions(e, config); err != nil {
		return zero, err
	}
	return cs.Apply(e, config)
}
