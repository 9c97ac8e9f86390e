// Package registry is the explicit registration API for features and scenarios.
//
// Test code registers features (a fixture factory plus its scenarios), global set-up
// activities, dependencies and decorators. Cases turns the registrations into the flat
// list of scenario cases consumed by the runner, filtered and adjusted by a run plan.
package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"

	"github.com/ethereum-optimism/infra/op-scenario/decorator"
	"github.com/ethereum-optimism/infra/op-scenario/runner"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// Registry collects everything a run needs. Registration is not meant to run
// concurrently with Cases.
type Registry struct {
	log log.Logger

	mu                 sync.RWMutex
	features           []*Feature
	container          *scope.Container
	globals            []runner.Activity
	scenarioDecorators []decorator.Scenario
	stepDecorators     []decorator.Step
}

// New creates an empty registry.
func New(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Registry{
		log:       logger.New("component", "registry"),
		container: scope.NewContainer(),
	}
}

// Feature registers a feature whose scenarios run on fixtures created by fixture.
// fixture may be nil for scenarios that need none.
func (r *Registry) Feature(name string, fixture runner.FixtureFactory) *Feature {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := &Feature{
		info:    types.FeatureInfo{Name: name, Index: len(r.features)},
		fixture: fixture,
	}
	r.features = append(r.features, f)
	return f
}

// Container holds the dependencies resolvable from scenario and step scopes.
func (r *Registry) Container() *scope.Container {
	return r.container
}

// GlobalSetUp registers process-wide activities, run in registration order.
func (r *Registry) GlobalSetUp(activities ...runner.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals = append(r.globals, activities...)
}

// DecorateScenarios registers decorators wrapped around every scenario.
func (r *Registry) DecorateScenarios(decorators ...decorator.Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarioDecorators = append(r.scenarioDecorators, decorators...)
}

// DecorateSteps registers decorators wrapped around every step.
func (r *Registry) DecorateSteps(decorators ...decorator.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepDecorators = append(r.stepDecorators, decorators...)
}

// Features lists the registered features in declaration order.
func (r *Registry) Features() []types.FeatureInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]types.FeatureInfo, len(r.features))
	for i, f := range r.features {
		infos[i] = f.info
	}
	return infos
}

// Configure copies the registered global set-ups, decorators and dependencies into cfg.
func (r *Registry) Configure(cfg runner.Config) runner.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg.GlobalSetUps = append(append([]runner.Activity(nil), r.globals...), cfg.GlobalSetUps...)
	cfg.ScenarioDecorators = append(append([]decorator.Scenario(nil), r.scenarioDecorators...), cfg.ScenarioDecorators...)
	cfg.StepDecorators = append(append([]decorator.Step(nil), r.stepDecorators...), cfg.StepDecorators...)
	cfg.Container = r.container
	return cfg
}

// Cases builds the scenario cases selected by the plan's profile. A nil plan selects
// every registered scenario unchanged. All registration errors are reported together.
func (r *Registry) Cases(plan *Plan, profile string) ([]runner.ScenarioCase, error) {
	prof, err := plan.Resolve(profile)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		cases   []runner.ScenarioCase
		errs    *multierror.Error
		skipped int
	)
	for _, f := range r.features {
		featureCases, err := f.cases()
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, c := range featureCases {
			labels := append(append([]string(nil), f.info.Labels...), c.Labels...)
			if !prof.Selects(labels) {
				skipped++
				continue
			}
			cases = append(cases, prof.Apply(c))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	r.log.Debug("Registry built scenario cases", "profile", prof.ID, "cases", len(cases), "filtered", skipped)
	return cases, nil
}

// Feature is a group of scenarios sharing a fixture type.
type Feature struct {
	info      types.FeatureInfo
	fixture   runner.FixtureFactory
	context   runner.ContextFactory
	scenarios []*Scenario
}

// Describe sets the feature description.
func (f *Feature) Describe(description string) *Feature {
	f.info.Description = description
	return f
}

// Labels adds labels inherited by every scenario of the feature.
func (f *Feature) Labels(labels ...string) *Feature {
	f.info.Labels = append(f.info.Labels, labels...)
	return f
}

// WithContext sets the scenario context factory used by scenarios that do not declare their own.
func (f *Feature) WithContext(factory runner.ContextFactory) *Feature {
	f.context = factory
	return f
}

// Scenario registers a scenario of the feature.
func (f *Feature) Scenario(name string, entry runner.EntryPoint) *Scenario {
	s := &Scenario{feature: f, name: name, entry: entry}
	f.scenarios = append(f.scenarios, s)
	return s
}

func (f *Feature) cases() ([]runner.ScenarioCase, error) {
	var (
		cases []runner.ScenarioCase
		errs  *multierror.Error
	)
	seen := make(map[string]bool)
	for _, s := range f.scenarios {
		if s.entry == nil {
			errs = multierror.Append(errs, fmt.Errorf("scenario %s/%s has no entry point", f.info.Name, s.name))
			continue
		}
		rows := s.examples
		if len(rows) == 0 {
			rows = [][]types.Argument{nil}
		}
		for _, args := range rows {
			c := s.newCase(len(cases), args)
			key := c.ID() + fmt.Sprint(args)
			if seen[key] {
				errs = multierror.Append(errs, fmt.Errorf("scenario %s registered twice", c.ID()))
				continue
			}
			seen[key] = true
			cases = append(cases, c)
		}
	}
	return cases, errs.ErrorOrNil()
}

// Scenario describes one registered scenario. Its builder methods return the scenario
// so declarations read as a chain.
type Scenario struct {
	feature    *Feature
	name       string
	entry      runner.EntryPoint
	context    runner.ContextFactory
	labels     []string
	priority   types.Priority
	exclusive  bool
	dedicated  bool
	decorators []decorator.Scenario
	examples   [][]types.Argument
}

func (s *Scenario) Labels(labels ...string) *Scenario {
	s.labels = append(s.labels, labels...)
	return s
}

func (s *Scenario) Priority(p types.Priority) *Scenario {
	s.priority = p
	return s
}

// Exclusive prevents the scenario from running alongside any other scenario.
func (s *Scenario) Exclusive() *Scenario {
	s.exclusive = true
	return s
}

// Dedicated runs the scenario and its steps on a single OS thread.
func (s *Scenario) Dedicated() *Scenario {
	s.dedicated = true
	return s
}

func (s *Scenario) Decorate(decorators ...decorator.Scenario) *Scenario {
	s.decorators = append(s.decorators, decorators...)
	return s
}

func (s *Scenario) WithContext(factory runner.ContextFactory) *Scenario {
	s.context = factory
	return s
}

// Examples turns the scenario into one case per row of arguments. The entry point
// reads the row through runner.CurrentScenario.
func (s *Scenario) Examples(rows ...[]types.Argument) *Scenario {
	s.examples = append(s.examples, rows...)
	return s
}

func (s *Scenario) newCase(index int, args []types.Argument) runner.ScenarioCase {
	ctxFactory := s.context
	if ctxFactory == nil {
		ctxFactory = s.feature.context
	}
	return runner.ScenarioCase{
		Feature:    s.feature.info,
		Name:       s.name,
		Labels:     append([]string(nil), s.labels...),
		Arguments:  args,
		Index:      index,
		Fixture:    s.feature.fixture,
		Context:    ctxFactory,
		EntryPoint: s.entry,
		Priority:   s.priority,
		Exclusive:  s.exclusive,
		Dedicated:  s.dedicated,
		Decorators: append([]decorator.Scenario(nil), s.decorators...),
	}
}
