package operations

import (
	"context"
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type OpDeps struct{}

type OpInput struct {
	A int
	B int
}

func observed(level zapcore.Level) (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core).Sugar(), logs
}

func Test_NewOperation(t *testing.T) {
	t.Parallel()

	version := semver.MustParse("1.0.0")
	description := "test operation"
	handler := func(b Bundle, deps OpDeps, input OpInput) (output int, err error) {
		return input.A + input.B, nil
	}

	op := NewOperation("sum", version, description, handler)

	assert.Equal(t, "sum", op.ID())
	assert.Equal(t, version.String(), op.Version())
	assert.Equal(t, description, op.Description())
	res, err := op.handler(Bundle{}, OpDeps{}, OpInput{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res)
}

func Test_Operation_Execute(t *testing.T) {
	t.Parallel()

	version := semver.MustParse("1.0.0")
	description := "test operation"
	log, observedLog := observed(zapcore.InfoLevel)

	handler := func(b Bundle, deps OpDeps, input OpInput) (output int, err error) {
		return input.A + input.B, nil
	}

	op := NewOperation("sum", version, description, handler)
	b := NewBundle(context.Background, log)

	output, err := ExecuteOperation(b, op, OpDeps{}, OpInput{A: 1, B: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, output)

	require.Equal(t, 1, observedLog.Len())
	entry := observedLog.All()[0]
	assert.Equal(t, "Executing operation", entry.Message)
	assert.Equal(t, "sum", entry.ContextMap()["id"])
	assert.Equal(t, description, entry.ContextMap()["description"])

	assert.Equal(t, []string{"sum"}, b.Reporter.IDs())
	assert.Equal(t, 3, b.Reporter.Reports()[0].Output)
}

func Test_ExecuteOperation_Error(t *testing.T) {
	t.Parallel()

	log, observedLog := observed(zapcore.InfoLevel)
	boom := errors.New("boom")
	op := NewOperation("fail", semver.MustParse("1.0.0"), "always fails",
		func(b Bundle, deps OpDeps, input EmptyInput) (int, error) {
			return 7, boom
		})
	b := NewBundle(context.Background, log)

	out, err := ExecuteOperation(b, op, OpDeps{}, EmptyInput{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, out)
	assert.Equal(t, 1, observedLog.FilterMessage("Operation failed").Len())

	reports := b.Reporter.Reports()
	require.Len(t, reports, 1)
	assert.ErrorIs(t, reports[0].Err, boom)
}

func Test_ExecuteOperation_CancelledContext(t *testing.T) {
	t.Parallel()

	log, _ := observed(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	op := NewOperation("never", semver.MustParse("1.0.0"), "must not run",
		func(b Bundle, deps OpDeps, input EmptyInput) (int, error) {
			called = true
			return 0, nil
		})
	b := NewBundle(func() context.Context { return ctx }, log)

	_, err := ExecuteOperation(b, op, OpDeps{}, EmptyInput{})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Empty(t, b.Reporter.Reports())
}
