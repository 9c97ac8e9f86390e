package runner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-scenario/decorator"
	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/step"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// scenarioExecutor runs single scenario cases through their lifecycle:
// fixture creation, scope opening, set-up, decorated invocation, teardown and disposal.
type scenarioExecutor struct {
	log        log.Logger
	notifier   notify.Notifier
	clock      *types.Clock
	tracer     trace.Tracer
	steps      *step.Executor
	global     *scope.Scope
	decorators []decorator.Scenario
	runID      string
	// globalErr is set when a global set-up activity failed; no scenario body runs then.
	globalErr error
}

// execution accumulates the outcome of one scenario.
type execution struct {
	info   types.ScenarioInfo
	errs   []error
	runner *step.Runner
}

func (x *execution) fail(format string, err error) {
	x.errs = append(x.errs, outcome.Fail(fmt.Errorf(format+": %w", err)))
}

func (e *scenarioExecutor) execute(ctx context.Context, c ScenarioCase) *types.ScenarioResult {
	info := c.Info(e.runID)
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("scenario %s", info.ID()),
		trace.WithAttributes(attribute.String("feature", info.Feature.Name), attribute.String("scenario", info.Name)))
	defer span.End()

	start := e.clock.Now()
	e.notifier.Notify(notify.ScenarioStarting{At: notify.At{At: start}, Scenario: info})

	x := &execution{info: info}
	if worker := CurrentWorker(ctx); worker != nil {
		e.log.Debug("Running scenario on dedicated worker", "scenario", info.ID(), "worker", worker.ID())
	}
	e.run(ctx, c, x)

	end := e.clock.Now()
	res := x.result()
	res.ExecutionTime = types.Measure(start, end)
	if worker := CurrentWorker(ctx); worker != nil {
		res.WorkerID = worker.ID()
	}

	span.SetAttributes(attribute.String("status", res.Status.String()))
	if res.Status == types.StatusFailed {
		span.SetStatus(codes.Error, res.Detail)
	}
	e.log.Debug("Scenario finished", "scenario", info.ID(), "status", res.Status, "duration", res.ExecutionTime.Duration)
	e.notifier.Notify(notify.ScenarioFinished{At: notify.At{At: end}, Result: res})
	return res
}

func (e *scenarioExecutor) run(ctx context.Context, c ScenarioCase, x *execution) {
	if e.globalErr != nil {
		x.errs = append(x.errs, outcome.Fail(fmt.Errorf("Global set up failed: %w", e.globalErr)))
		return
	}

	// FixtureCreate
	var fixture interface{}
	if c.Fixture != nil {
		if err := guard(func() (err error) {
			fixture, err = c.Fixture(ctx)
			return err
		}); err != nil {
			x.fail("fixture initialization failed", err)
			return
		}
	}

	// ScopeOpen
	scenarioScope, err := e.global.Begin(scope.LevelScenario)
	if err != nil {
		x.fail("context initialization failed", err)
		e.disposeFixture(fixture, x)
		return
	}
	ctx = context.WithValue(ctx, scenarioInfoKey{}, x.info)
	ctx = context.WithValue(ctx, scenarioScopeKey{}, scenarioScope)
	x.runner = e.steps.NewRunner(scenarioScope, x.info)

	if ctx, err = e.openContext(ctx, c, scenarioScope); err != nil {
		x.fail("context initialization failed", err)
	} else {
		e.runBody(ctx, c, fixture, x)
	}

	// ScopeClose, then FixtureDispose
	if closeErr := scenarioScope.Close(); closeErr != nil {
		for _, cause := range causes(closeErr) {
			x.fail("scenario scope disposal failed", cause)
		}
	}
	e.disposeFixture(fixture, x)
}

func (e *scenarioExecutor) openContext(ctx context.Context, c ScenarioCase, s *scope.Scope) (context.Context, error) {
	if c.Context == nil {
		return ctx, nil
	}
	var value interface{}
	err := guard(func() error {
		var err error
		value, err = c.Context(ctx, s)
		return err
	})
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, scenarioContextKey{}, value), nil
}

// runBody runs SetUp, the decorated entry point and TearDown.
// TearDown runs whenever this stage is reached, including after a failed SetUp.
func (e *scenarioExecutor) runBody(ctx context.Context, c ScenarioCase, fixture interface{}, x *execution) {
	setUpFailed := false
	if su, ok := fixture.(SetUpper); ok {
		if err := guard(func() error { return su.OnScenarioSetUp(ctx) }); err != nil {
			x.fail("OnScenarioSetUp() failed", err)
			setUpFailed = true
		}
	}

	if !setUpFailed {
		body := func(ctx context.Context) error {
			if c.EntryPoint == nil {
				return nil
			}
			return c.EntryPoint(ctx, fixture, x.runner)
		}
		invoke := decorator.Compose(x.info, e.decorators, c.Decorators, body)
		if err := guard(func() error { return invoke(ctx) }); err != nil {
			x.errs = append(x.errs, err)
		}
	}

	if td, ok := fixture.(TearDowner); ok {
		if err := guard(func() error { return td.OnScenarioTearDown(ctx) }); err != nil {
			x.fail("OnScenarioTearDown() failed", err)
		}
	}
}

func (e *scenarioExecutor) disposeFixture(fixture interface{}, x *execution) {
	closer, ok := fixture.(io.Closer)
	if !ok {
		return
	}
	if err := guard(closer.Close); err != nil {
		x.fail("fixture disposal failed", err)
	}
}

// result folds the collected errors and step results into the scenario result.
// Errors coming from steps are already described by the step details.
func (x *execution) result() *types.ScenarioResult {
	res := &types.ScenarioResult{Info: x.info}
	if x.runner != nil {
		res.Steps = x.runner.Results()
	}

	statuses := append([]types.ExecutionStatus{types.StatusPassed}, types.StepStatuses(res.Steps)...)
	lines := types.StepDetails(res.Steps)
	for _, err := range x.errs {
		statuses = append(statuses, outcome.StatusOf(err))
		for _, cause := range causes(err) {
			if !step.IsStepsError(cause) {
				lines = append(lines, cause.Error())
			}
		}
	}

	res.Status = types.MostSevere(statuses...)
	res.Detail = strings.Join(lines, "\n")
	switch len(x.errs) {
	case 0:
	case 1:
		res.Err = x.errs[0]
	default:
		res.Err = outcome.Aggregate(x.errs...)
	}
	return res
}

// causes splits a top-level aggregate into its direct causes.
func causes(err error) []error {
	if agg, ok := err.(*multierror.Error); ok {
		return agg.Errors
	}
	return []error{err}
}

// guard runs fn, converting a panic into a failure.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = outcome.FromPanic(rec)
		}
	}()
	return fn()
}
