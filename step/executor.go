package step

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-scenario/decorator"
	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

const DefaultDetachedDrainTimeout = 30 * time.Second

// StepsError is returned when a sequence of steps did not pass. The failing steps
// already describe it in their results, so it never adds a detail line of its own.
type StepsError struct {
	Status types.ExecutionStatus
	Err    error
}

func (e *StepsError) Error() string {
	return e.Err.Error()
}

func (e *StepsError) Unwrap() error {
	return e.Err
}

// IsStepsError reports whether err, or anything it wraps, is a StepsError.
func IsStepsError(err error) bool {
	var se *StepsError
	return errors.As(err, &se)
}

// Config holds the dependencies of an Executor.
type Config struct {
	Log                  log.Logger
	Notifier             notify.Notifier
	Clock                *types.Clock
	Decorators           []decorator.Step
	DetachedDrainTimeout time.Duration
}

// Executor runs step definitions and produces their results.
type Executor struct {
	log          log.Logger
	notifier     notify.Notifier
	clock        *types.Clock
	decorators   []decorator.Step
	drainTimeout time.Duration
	tracer       trace.Tracer
}

// NewExecutor creates an executor. Missing dependencies fall back to no-op defaults.
func NewExecutor(cfg Config) *Executor {
	e := &Executor{
		log:          cfg.Log,
		notifier:     cfg.Notifier,
		clock:        cfg.Clock,
		decorators:   cfg.Decorators,
		drainTimeout: cfg.DetachedDrainTimeout,
		tracer:       otel.Tracer("step executor"),
	}
	if e.log == nil {
		e.log = log.Root()
	}
	if e.notifier == nil {
		e.notifier = notify.Nop()
	}
	if e.clock == nil {
		e.clock = types.NewClock()
	}
	if e.drainTimeout <= 0 {
		e.drainTimeout = DefaultDetachedDrainTimeout
	}
	return e
}

// sequence is one level of sibling steps.
type sequence struct {
	scenario    types.ScenarioInfo
	parent      *scope.Scope
	prefix      string // dotted position of the enclosing step, empty at scenario level
	offset      int    // number of siblings already executed at this level
	multiAssert bool
}

// run executes defs in order and returns their results together with the error the
// sequence as a whole ends with. Steps after a stop are reported NotRun.
func (e *Executor) run(ctx context.Context, seq sequence, defs []Definition) ([]*types.StepResult, error) {
	results := make([]*types.StepResult, len(defs))
	var (
		errs      []error
		ignoreErr error
		stopped   bool
	)
	for i, def := range defs {
		info := seq.info(def, i)
		if stopped {
			results[i] = notRun(info, def)
			continue
		}
		res := e.runStep(ctx, seq.parent, info, def)
		results[i] = res
		switch res.Status {
		case types.StatusFailed:
			errs = append(errs, res.Err)
			stopped = !seq.multiAssert
		case types.StatusBypassed:
			errs = append(errs, res.Err)
		case types.StatusIgnored:
			ignoreErr = res.Err
			stopped = true
		}
	}
	return results, sequenceError(types.StepStatuses(results), errs, ignoreErr, seq.multiAssert)
}

func sequenceError(statuses []types.ExecutionStatus, errs []error, ignoreErr error, multiAssert bool) error {
	status := types.MostSevere(append([]types.ExecutionStatus{types.StatusPassed}, statuses...)...)
	var err error
	switch {
	case status == types.StatusPassed:
		return nil
	case status == types.StatusIgnored:
		err = ignoreErr
	case len(errs) == 1:
		err = errs[0]
	case multiAssert || status == types.StatusBypassed:
		err = outcome.Aggregate(errs...)
	default:
		// without multi-assert the failure stopped the sequence, so it is the last error
		err = errs[len(errs)-1]
	}
	return &StepsError{Status: status, Err: err}
}

func (s sequence) info(def Definition, i int) types.StepInfo {
	number := s.offset + i + 1
	position := strconv.Itoa(number)
	if s.prefix != "" {
		position = s.prefix + "." + position
	}
	return types.StepInfo{
		Name:       def.Name,
		Number:     number,
		Position:   position,
		Parameters: def.Parameters,
		Scenario:   s.scenario,
	}
}

func notRun(info types.StepInfo, def Definition) *types.StepResult {
	res := &types.StepResult{Info: info, Status: types.StatusNotRun, Composite: def.Group != nil}
	if def.Group != nil {
		seq := sequence{scenario: info.Scenario, prefix: info.Position}
		for i, child := range def.Group.Steps {
			res.SubSteps = append(res.SubSteps, notRun(seq.info(child, i), child))
		}
	}
	return res
}

func (e *Executor) runStep(ctx context.Context, parent *scope.Scope, info types.StepInfo, def Definition) *types.StepResult {
	res := &types.StepResult{Info: info, Composite: def.Group != nil}

	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("step %s", info.Position),
		trace.WithAttributes(attribute.String("step.name", info.Name), attribute.String("scenario", info.Scenario.ID())))
	defer span.End()

	start := e.clock.Now()
	e.notifier.Notify(notify.StepStarting{At: notify.At{At: start}, Step: info})

	if def.Group != nil {
		e.runComposite(ctx, parent, def, res)
	} else {
		e.runLeaf(ctx, parent, def, res)
	}

	end := e.clock.Now()
	res.ExecutionTime = types.Measure(start, end)
	if res.Status == types.StatusFailed {
		span.SetStatus(codes.Error, res.Detail)
	}
	span.SetAttributes(attribute.String("status", res.Status.String()))
	e.log.Debug("Step finished", "scenario", info.Scenario.ID(), "step", info.Position, "status", res.Status)
	e.notifier.Notify(notify.StepFinished{At: notify.At{At: end}, Result: res})
	return res
}

func (e *Executor) runLeaf(ctx context.Context, parent *scope.Scope, def Definition, res *types.StepResult) {
	st := &state{exec: e, info: res.Info}
	stepScope, err := parent.Begin(scope.LevelStep)
	if err != nil {
		st.finished = true
		e.finishLeaf(res, st, outcome.Fail(fmt.Errorf("step scope initialization failed: %w", err)))
		return
	}
	st.scope = stepScope
	ctx = withState(ctx, st)

	var drained bool
	body := func(ctx context.Context) error {
		var err error
		if def.Run != nil {
			err = safely(ctx, decorator.Invocation(def.Run))
		}
		drained = true
		return join(err, st.drain(e.drainTimeout))
	}
	err = safely(ctx, decorator.Compose(res.Info, e.decorators, def.Decorators, body))
	if !drained {
		// the body was skipped by a decorator, or a decorator panicked around it
		err = join(err, st.drain(e.drainTimeout))
	}
	if closeErr := stepScope.Close(); closeErr != nil {
		err = join(err, outcome.Fail(fmt.Errorf("step scope disposal failed: %w", closeErr)))
	}
	e.finishLeaf(res, st, err)
}

func (e *Executor) finishLeaf(res *types.StepResult, st *state, err error) {
	res.Comments = st.takeComments()
	res.Err = err
	res.Status = outcome.StatusOf(err)
	if err != nil {
		res.Detail = err.Error()
	}
}

func (e *Executor) runComposite(ctx context.Context, parent *scope.Scope, def Definition, res *types.StepResult) {
	g := def.Group
	st := &state{exec: e, info: res.Info, scope: parent}
	ctx = withState(ctx, st)

	res.SubSteps = notRun(res.Info, def).SubSteps

	var (
		bodyErr error
		ownErrs []error
	)
	body := func(ctx context.Context) error {
		// only a group declaring a context gets its own step-group scope
		childParent := parent
		var groupScope *scope.Scope
		if g.Context != nil {
			var err error
			groupScope, err = parent.Begin(scope.LevelStepGroup)
			if err != nil {
				bodyErr = outcome.Fail(fmt.Errorf("step context initialization failed: %w", err))
				ownErrs = append(ownErrs, bodyErr)
				return bodyErr
			}
			childParent = groupScope
		}

		var stepsErr error
		ctx, err := e.groupContext(ctx, g, groupScope)
		if err != nil {
			ownErrs = append(ownErrs, outcome.Fail(fmt.Errorf("step context initialization failed: %w", err)))
		} else {
			res.SubSteps, stepsErr = e.run(ctx, sequence{
				scenario:    res.Info.Scenario,
				parent:      childParent,
				prefix:      res.Info.Position,
				multiAssert: g.MultiAssert,
			}, g.Steps)
		}

		if groupScope != nil {
			if closeErr := groupScope.Close(); closeErr != nil {
				ownErrs = append(ownErrs, outcome.Fail(fmt.Errorf("step group scope disposal failed: %w", closeErr)))
			}
		}
		bodyErr = join(append([]error{stepsErr}, ownErrs...)...)
		return bodyErr
	}

	err := safely(ctx, decorator.Compose(res.Info, e.decorators, def.Decorators, body))
	// operations detached by decorators around the group
	drainErr := st.drain(e.drainTimeout)
	res.Comments = st.takeComments()

	own := append([]error(nil), ownErrs...)
	if err != nil && err != bodyErr {
		// errors raised by decorators rather than by the children
		for _, cause := range outcome.Causes(err) {
			if !IsStepsError(cause) && !isAnyOf(cause, ownErrs) {
				own = append(own, cause)
			}
		}
	}
	if drainErr != nil {
		own = append(own, drainErr)
		err = join(err, drainErr)
	}

	statuses := append([]types.ExecutionStatus{types.StatusPassed}, types.StepStatuses(res.SubSteps)...)
	lines := types.StepDetails(res.SubSteps)
	for _, ownErr := range own {
		status := outcome.StatusOf(ownErr)
		statuses = append(statuses, status)
		lines = append(lines, types.FormatStepLine(res.Info.Position, status, ownErr.Error()))
	}
	res.Status = types.MostSevere(statuses...)
	res.Detail = strings.Join(lines, "\n")
	switch {
	case err != nil:
		res.Err = err
	case res.Status != types.StatusPassed:
		res.Err = bodyErr
	}
}

// groupContext resolves the group's shared value and returns ctx carrying it.
func (e *Executor) groupContext(ctx context.Context, g *Group, groupScope *scope.Scope) (context.Context, error) {
	if g.Context == nil {
		return ctx, nil
	}
	var value interface{}
	err := safely(ctx, func(ctx context.Context) error {
		var err error
		value, err = g.Context(ctx, groupScope)
		return err
	})
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, groupContextKey{}, value), nil
}

// safely runs fn, converting a panic into a failure.
func safely(ctx context.Context, fn decorator.Invocation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = outcome.FromPanic(rec)
		}
	}()
	return fn(ctx)
}

// join combines the non-nil errors. A single error is returned as is.
func join(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return outcome.Aggregate(nonNil...)
	}
}

func isAnyOf(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
