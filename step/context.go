package step

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

var (
	// ErrNoStep is returned when a step operation is used outside of a running step.
	ErrNoStep = errors.New("no step is running in this context")
	// ErrStepFinished is returned when detaching work from a step that already completed.
	ErrStepFinished = errors.New("step already finished")
)

type (
	stateKey        struct{}
	groupContextKey struct{}
	detachedKey     struct{}
)

// state is the running step a context belongs to.
type state struct {
	exec  *Executor
	info  types.StepInfo
	scope *scope.Scope

	mu       sync.Mutex
	comments []string
	finished bool
	detached errgroup.Group
	pending  int

	drainOnce sync.Once
	drainErr  error
}

func withState(ctx context.Context, st *state) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

func stateFrom(ctx context.Context) *state {
	st, _ := ctx.Value(stateKey{}).(*state)
	return st
}

// Info returns the step running in ctx.
func Info(ctx context.Context) (types.StepInfo, bool) {
	st := stateFrom(ctx)
	if st == nil {
		return types.StepInfo{}, false
	}
	return st.info, true
}

// Scope returns the innermost scope of the step running in ctx.
func Scope(ctx context.Context) *scope.Scope {
	if st := stateFrom(ctx); st != nil {
		return st.scope
	}
	return nil
}

// Resolve resolves a dependency from the scope of the step running in ctx.
func Resolve[T any](ctx context.Context, name string) (T, error) {
	s := Scope(ctx)
	if s == nil {
		var zero T
		return zero, fmt.Errorf("resolve %q: %w", name, ErrNoStep)
	}
	return scope.Get[T](ctx, s, name)
}

// GroupContext returns the context value of the innermost step group enclosing ctx.
func GroupContext(ctx context.Context) interface{} {
	return ctx.Value(groupContextKey{})
}

// GroupContextAs returns the innermost group context value if it has type T.
func GroupContextAs[T any](ctx context.Context) (T, bool) {
	v, ok := GroupContext(ctx).(T)
	return v, ok
}

// Comment attaches a comment to the step running in ctx and notifies it.
func Comment(ctx context.Context, text string) error {
	st := stateFrom(ctx)
	if st == nil {
		return ErrNoStep
	}
	st.mu.Lock()
	st.comments = append(st.comments, text)
	st.mu.Unlock()
	st.exec.notifier.Notify(notify.StepComment{At: notify.At{At: st.exec.clock.Now()}, Step: st.info, Comment: text})
	return nil
}

// Commentf is Comment with a format string.
func Commentf(ctx context.Context, format string, args ...interface{}) error {
	return Comment(ctx, fmt.Sprintf(format, args...))
}

// Detach starts fn as a sub-operation of the step running in ctx. The step is
// complete only once every detached operation returned, bounded by the executor's
// drain timeout. An error from fn fails the step.
//
// fn does not run on the scenario's dedicated worker, if any.
func Detach(ctx context.Context, fn func(ctx context.Context) error) error {
	st := stateFrom(ctx)
	if st == nil {
		return ErrNoStep
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished {
		return ErrStepFinished
	}
	st.pending++
	detachedCtx := context.WithValue(ctx, detachedKey{}, true)
	st.detached.Go(func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = outcome.FromPanic(rec)
			}
		}()
		return fn(detachedCtx)
	})
	return nil
}

// IsDetached reports whether ctx belongs to a detached sub-operation.
func IsDetached(ctx context.Context) bool {
	detached, _ := ctx.Value(detachedKey{}).(bool)
	return detached
}

// drain waits for detached operations and closes the step for further detaching.
// Only the first call waits, later calls return the same result.
func (st *state) drain(timeout time.Duration) error {
	st.drainOnce.Do(func() {
		st.drainErr = st.awaitDetached(timeout)
	})
	return st.drainErr
}

func (st *state) awaitDetached(timeout time.Duration) error {
	st.mu.Lock()
	st.finished = true
	pending := st.pending
	st.mu.Unlock()
	if pending == 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- st.detached.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("detached operation failed: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("detached operations did not complete within %s", timeout)
	}
}

func (st *state) takeComments() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]string(nil), st.comments...)
}
