package runner

import (
	"context"

	"github.com/ethereum-optimism/infra/op-scenario/decorator"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/step"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// FixtureFactory creates the object a scenario's steps execute on.
type FixtureFactory func(ctx context.Context) (interface{}, error)

// ContextFactory creates the scenario context value inside the freshly opened scenario scope.
type ContextFactory func(ctx context.Context, s *scope.Scope) (interface{}, error)

// StepRunner runs the steps of the scenario it was handed to.
type StepRunner interface {
	Run(ctx context.Context, steps ...step.Definition) error
	RunGroup(ctx context.Context, g step.Group) error
}

// EntryPoint is the scenario body. It usually runs steps and returns their error.
type EntryPoint func(ctx context.Context, fixture interface{}, steps StepRunner) error

// SetUpper is implemented by fixtures that need a hook before the scenario body.
type SetUpper interface {
	OnScenarioSetUp(ctx context.Context) error
}

// TearDowner is implemented by fixtures that need a hook after the scenario body.
// It runs whenever the set-up stage was reached, even if set-up failed.
type TearDowner interface {
	OnScenarioTearDown(ctx context.Context) error
}

// ScenarioCase is the static descriptor of one scenario, produced by registration.
type ScenarioCase struct {
	Feature    types.FeatureInfo
	Name       string
	Labels     []string
	Arguments  []types.Argument
	Index      int // declaration order within the feature
	Fixture    FixtureFactory
	Context    ContextFactory
	EntryPoint EntryPoint
	Priority   types.Priority
	Exclusive  bool
	Dedicated  bool
	Decorators []decorator.Scenario
}

// ID returns "Feature/Scenario".
func (c ScenarioCase) ID() string {
	return c.Info("").ID()
}

// Info describes the case as part of the given run.
func (c ScenarioCase) Info(runID string) types.ScenarioInfo {
	return types.ScenarioInfo{
		Feature:   c.Feature,
		Name:      c.Name,
		Labels:    c.Labels,
		Arguments: c.Arguments,
		Index:     c.Index,
		RunID:     runID,
	}
}

type (
	scenarioInfoKey    struct{}
	scenarioContextKey struct{}
	scenarioScopeKey   struct{}
)

// CurrentScenario returns the scenario executing in ctx.
func CurrentScenario(ctx context.Context) (types.ScenarioInfo, bool) {
	info, ok := ctx.Value(scenarioInfoKey{}).(types.ScenarioInfo)
	return info, ok
}

// ScenarioContext returns the value created by the case's ContextFactory.
func ScenarioContext(ctx context.Context) interface{} {
	return ctx.Value(scenarioContextKey{})
}

// ScenarioScope returns the scope of the scenario executing in ctx.
func ScenarioScope(ctx context.Context) *scope.Scope {
	s, _ := ctx.Value(scenarioScopeKey{}).(*scope.Scope)
	return s
}
