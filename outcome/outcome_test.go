package outcome

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-scenario/types"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ExecutionStatus
	}{
		{name: "nil passes", err: nil, want: types.StatusPassed},
		{name: "plain error fails", err: errors.New("boom"), want: types.StatusFailed},
		{name: "bypass", err: Bypass("not implemented"), want: types.StatusBypassed},
		{name: "ignore", err: Ignore("flaky"), want: types.StatusIgnored},
		{name: "explicit fail", err: Fail(errors.New("x")), want: types.StatusFailed},
		{name: "wrapped ignore", err: fmt.Errorf("step: %w", Ignore("later")), want: types.StatusIgnored},
		{name: "aggregate takes most severe", err: Aggregate(Bypass("a"), Ignore("b")), want: types.StatusIgnored},
		{name: "aggregate with failure", err: Aggregate(Bypass("a"), errors.New("b")), want: types.StatusFailed},
		{name: "joined errors", err: errors.Join(Bypass("a"), Bypass("b")), want: types.StatusBypassed},
		{name: "explicit status", err: WithStatus(types.StatusBypassed, errors.New("x")), want: types.StatusBypassed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestAggregate(t *testing.T) {
	t.Run("no errors", func(t *testing.T) {
		assert.NoError(t, Aggregate(nil, nil))
	})

	t.Run("keeps order and skips nil", func(t *testing.T) {
		first := errors.New("first")
		second := errors.New("second")
		err := Aggregate(first, nil, second)
		require.Error(t, err)
		assert.True(t, IsAggregate(err))

		causes := Causes(err)
		require.Len(t, causes, 2)
		assert.Same(t, first, causes[0])
		assert.Same(t, second, causes[1])
		assert.Equal(t, "first\nsecond", err.Error())
	})

	t.Run("causes of a plain error", func(t *testing.T) {
		err := errors.New("only")
		assert.Equal(t, []error{err}, Causes(err))
		assert.False(t, IsAggregate(err))
	})
}

func TestFromPanic(t *testing.T) {
	err := FromPanic("kaboom")
	assert.EqualError(t, err, "panic: kaboom")
	assert.Equal(t, types.StatusFailed, StatusOf(err))

	inner := errors.New("inner")
	assert.ErrorIs(t, FromPanic(inner), inner)
}
