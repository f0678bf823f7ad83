package operations

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// Bundle contains the dependencies required by an OperationHandler.
// Use NewBundle to create a new Bundle.
type Bundle struct {
	Logger     *zap.SugaredLogger
	GetContext func() context.Context
	Reporter   *Reporter
}

// NewBundle creates and returns a new Bundle with an empty Reporter.
func NewBundle(getContext func() context.Context, logger *zap.SugaredLogger) Bundle {
	return Bundle{
		Logger:     logger,
		GetContext: getContext,
		Reporter:   NewReporter(),
	}
}

// OperationHandler is the function signature of an operation handler.
type OperationHandler[IN, OUT, DEP any] func(b Bundle, deps DEP, input IN) (output OUT, err error)

// Definition is the metadata of an operation.
type Definition struct {
	ID          string
	Version     *semver.Version
	Description string
}

// Operation is one step of a deployment. Each operation performs at most one side
// effect (one deployment or one transaction), so a failed run can be read off the
// report as the exact step that did not complete.
type Operation[IN, OUT, DEP any] struct {
	def     Definition
	handler OperationHandler[IN, OUT, DEP]
}

func (o *Operation[IN, OUT, DEP]) ID() string {
	return o.def.ID
}

func (o *Operation[IN, OUT, DEP]) Version() string {
	return o.def.Version.String()
}

func (o *Operation[IN, OUT, DEP]) Description() string {
	return o.def.Description
}

func (o *Operation[IN, OUT, DEP]) Def() Definition {
	return o.def
}

func (o *Operation[IN, OUT, DEP]) execute(b Bundle, deps DEP, input IN) (output OUT, err error) {
	b.Logger.Infow("Executing operation",
		"id", o.def.ID, "version", o.def.Version, "description", o.def.Description)
	return o.handler(b, deps, input)
}

// NewOperation creates a new operation. The handler should perform at most one side effect.
func NewOperation[IN, OUT, DEP any](
	id string, version *semver.Version, description string, handler OperationHandler[IN, OUT, DEP],
) *Operation[IN, OUT, DEP] {
	return &Operation[IN, OUT, DEP]{
		def: Definition{
			ID:          id,
			Version:     version,
			Description: description,
		},
		handler: handler,
	}
}

// ExecuteOperation refuses to start when the bundle's context is done, otherwise runs the
// operation and records the outcome in the bundle's Reporter.
func ExecuteOperation[IN, OUT, DEP any](b Bundle, op *Operation[IN, OUT, DEP], deps DEP, input IN) (OUT, error) {
	var zero OUT
	if err := b.GetContext().Err(); err != nil {
		return zero, err
	}
	out, err := op.execute(b, deps, input)
	if b.Reporter != nil {
		b.Reporter.record(Report{Def: op.def, Input: input, Output: out, Err: err})
	}
	if err != nil {
		b.Logger.Errorw("Operation failed", "id", op.def.ID, "err", err)
		return zero, err
	}
	return out, nil
}

// EmptyInput is a placeholder for operations that do not require input.
type EmptyInput struct{}
