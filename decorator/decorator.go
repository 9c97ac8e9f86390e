// Package decorator composes the wrappers applied around scenario and step bodies.
//
// A chain is built from two sources: decorators registered once for the whole run,
// kept in registration order, followed by the decorators declared on the scenario or
// step itself, sorted by Order with declaration order breaking ties. The innermost
// call of the chain is the body.
package decorator

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// ErrContinuationReused is returned when a decorator calls its continuation more than once.
var ErrContinuationReused = errors.New("decorator invoked its continuation more than once")

// Invocation is the continuation a decorator wraps.
type Invocation func(ctx context.Context) error

// Decorator wraps an invocation of a scenario or step described by I.
// It must call next at most once. Not calling next skips the body entirely.
type Decorator[I any] interface {
	Decorate(ctx context.Context, info I, next Invocation) error
}

// Ordered decorators are sorted by Order among the locally declared ones.
type Ordered interface {
	Order() int
}

type (
	Scenario = Decorator[types.ScenarioInfo]
	Step     = Decorator[types.StepInfo]
)

// Func adapts a function to a Decorator.
type Func[I any] func(ctx context.Context, info I, next Invocation) error

func (f Func[I]) Decorate(ctx context.Context, info I, next Invocation) error {
	return f(ctx, info, next)
}

type orderedFunc[I any] struct {
	Func[I]
	order int
}

func (o orderedFunc[I]) Order() int {
	return o.order
}

// WithOrder adapts a function to a Decorator with an explicit order key.
func WithOrder[I any](order int, fn func(ctx context.Context, info I, next Invocation) error) Decorator[I] {
	return orderedFunc[I]{Func: fn, order: order}
}

func orderOf[I any](d Decorator[I]) int {
	if o, ok := d.(Ordered); ok {
		return o.Order()
	}
	return 0
}

// Sort returns the local decorators ordered by Order, declaration order breaking ties.
func Sort[I any](local []Decorator[I]) []Decorator[I] {
	sorted := make([]Decorator[I], len(local))
	copy(sorted, local)
	sort.SliceStable(sorted, func(i, j int) bool {
		return orderOf(sorted[i]) < orderOf(sorted[j])
	})
	return sorted
}

// Chain returns the full outer-to-inner decorator order: global, then sorted local.
func Chain[I any](global, local []Decorator[I]) []Decorator[I] {
	chain := make([]Decorator[I], 0, len(global)+len(local))
	chain = append(chain, global...)
	chain = append(chain, Sort(local)...)
	return chain
}

// Compose wraps body with the chain built from global and local decorators.
func Compose[I any](info I, global, local []Decorator[I], body Invocation) Invocation {
	chain := Chain(global, local)
	next := body
	for i := len(chain) - 1; i >= 0; i-- {
		d := chain[i]
		inner := once(next)
		next = func(ctx context.Context) error {
			return d.Decorate(ctx, info, inner)
		}
	}
	return next
}

func once(next Invocation) Invocation {
	var called atomic.Bool
	return func(ctx context.Context) error {
		if !called.CompareAndSwap(false, true) {
			return ErrContinuationReused
		}
		return next(ctx)
	}
}
