package decorator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

func tracing(journal *[]string, name string, order int) Step {
	return WithOrder(order, func(ctx context.Context, info types.StepInfo, next Invocation) error {
		*journal = append(*journal, name+":before")
		err := next(ctx)
		*journal = append(*journal, name+":after")
		return err
	})
}

func TestCompose_Order(t *testing.T) {
	var journal []string
	global := []Step{
		tracing(&journal, "global1", 100),
		tracing(&journal, "global2", -100),
	}
	local := []Step{
		tracing(&journal, "localC", 2),
		tracing(&journal, "localA", 1),
		tracing(&journal, "localB", 1),
		Func[types.StepInfo](func(ctx context.Context, _ types.StepInfo, next Invocation) error {
			journal = append(journal, "unordered")
			return next(ctx)
		}),
	}

	invoke := Compose(types.StepInfo{Name: "step"}, global, local, func(context.Context) error {
		journal = append(journal, "body")
		return nil
	})
	require.NoError(t, invoke(context.Background()))

	assert.Equal(t, []string{
		"global1:before", "global2:before", // global keep registration order regardless of Order
		"unordered",                      // order 0
		"localA:before", "localB:before", // order 1, declaration order
		"localC:before",
		"body",
		"localC:after",
		"localB:after", "localA:after",
		"global2:after", "global1:after",
	}, journal)
}

func TestCompose_SkippingContinuationSkipsBody(t *testing.T) {
	bodyRan := false
	ignore := Func[types.ScenarioInfo](func(context.Context, types.ScenarioInfo, Invocation) error {
		return outcome.Ignore("not on this platform")
	})

	invoke := Compose(types.ScenarioInfo{}, nil, []Scenario{ignore}, func(context.Context) error {
		bodyRan = true
		return nil
	})
	err := invoke(context.Background())
	assert.False(t, bodyRan)
	assert.Equal(t, types.StatusIgnored, outcome.StatusOf(err))
}

func TestCompose_ErrorsBeforeAndAfterContinuation(t *testing.T) {
	t.Run("before pre-empts body", func(t *testing.T) {
		bodyRan := false
		failing := Func[types.StepInfo](func(context.Context, types.StepInfo, Invocation) error {
			return errors.New("decorator setup failed")
		})
		invoke := Compose(types.StepInfo{}, []Step{failing}, nil, func(context.Context) error {
			bodyRan = true
			return nil
		})
		assert.EqualError(t, invoke(context.Background()), "decorator setup failed")
		assert.False(t, bodyRan)
	})

	t.Run("after propagates like a body failure", func(t *testing.T) {
		bodyRan := false
		failing := Func[types.StepInfo](func(ctx context.Context, _ types.StepInfo, next Invocation) error {
			if err := next(ctx); err != nil {
				return err
			}
			return errors.New("verification failed")
		})
		invoke := Compose(types.StepInfo{}, nil, []Step{failing}, func(context.Context) error {
			bodyRan = true
			return nil
		})
		assert.EqualError(t, invoke(context.Background()), "verification failed")
		assert.True(t, bodyRan)
	})
}

func TestCompose_ContinuationAtMostOnce(t *testing.T) {
	calls := 0
	retrying := Func[types.StepInfo](func(ctx context.Context, _ types.StepInfo, next Invocation) error {
		if err := next(ctx); err == nil {
			return fmt.Errorf("unexpected success")
		}
		return next(ctx)
	})
	invoke := Compose(types.StepInfo{}, nil, []Step{retrying}, func(context.Context) error {
		calls++
		return errors.New("first attempt")
	})

	err := invoke(context.Background())
	assert.ErrorIs(t, err, ErrContinuationReused)
	assert.Equal(t, 1, calls)
}

func TestCompose_NoDecorators(t *testing.T) {
	invoke := Compose(types.StepInfo{}, nil, nil, func(context.Context) error {
		return outcome.Bypass("later")
	})
	assert.Equal(t, types.StatusBypassed, outcome.StatusOf(invoke(context.Background())))
}

func TestSort_IsStable(t *testing.T) {
	a := WithOrder(5, func(ctx context.Context, _ types.StepInfo, next Invocation) error { return next(ctx) })
	b := WithOrder(1, func(ctx context.Context, _ types.StepInfo, next Invocation) error { return next(ctx) })
	c := WithOrder(5, func(ctx context.Context, _ types.StepInfo, next Invocation) error { return next(ctx) })

	sorted := Sort([]Step{a, b, c})
	require.Len(t, sorted, 3)
	assert.Equal(t, 1, sorted[0].(Ordered).Order())
	assert.Equal(t, 5, sorted[1].(Ordered).Order())
	assert.Equal(t, 5, sorted[2].(Ordered).Order())
}
