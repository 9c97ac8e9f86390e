package step

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// ErrRunnerBusy is returned when a scenario's steps are run while another call of the
// same runner is still in progress, e.g. from inside a step body. Nested steps are
// expressed as composite steps instead.
var ErrRunnerBusy = errors.New("scenario steps are already running, nest steps with a composite step")

// Runner executes the top-level steps of one scenario and accumulates their results.
// Consecutive calls continue the step numbering. Calls must not overlap.
type Runner struct {
	exec     *Executor
	scope    *scope.Scope
	scenario types.ScenarioInfo

	mu      sync.Mutex
	running bool
	results []*types.StepResult
}

// NewRunner creates a runner for the scenario whose scope is s.
func (e *Executor) NewRunner(s *scope.Scope, scenario types.ScenarioInfo) *Runner {
	return &Runner{exec: e, scope: s, scenario: scenario}
}

// Run executes steps in order. The returned error is a *StepsError when any step
// did not pass.
func (r *Runner) Run(ctx context.Context, steps ...Definition) error {
	return r.RunGroup(ctx, Group{Steps: steps})
}

// RunGroup executes the group's steps at the top level of the scenario. A group
// context is resolved in its own step-group scope that stays open until the last
// step finished.
func (r *Runner) RunGroup(ctx context.Context, g Group) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunnerBusy
	}
	r.running = true
	seq := sequence{
		scenario:    r.scenario,
		parent:      r.scope,
		offset:      len(r.results),
		multiAssert: g.MultiAssert,
	}
	r.mu.Unlock()

	results, err := r.runGroup(ctx, seq, g)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, results...)
	r.running = false
	return err
}

func (r *Runner) runGroup(ctx context.Context, seq sequence, g Group) ([]*types.StepResult, error) {
	if g.Context == nil {
		return r.exec.run(ctx, seq, g.Steps)
	}

	groupScope, err := r.scope.Begin(scope.LevelStepGroup)
	if err != nil {
		return skipped(seq, g.Steps), outcome.Fail(fmt.Errorf("context initialization failed: %w", err))
	}
	ctx, err = r.exec.groupContext(ctx, &g, groupScope)
	if err != nil {
		return skipped(seq, g.Steps), join(outcome.Fail(fmt.Errorf("context initialization failed: %w", err)), groupScope.Close())
	}
	seq.parent = groupScope
	results, err := r.exec.run(ctx, seq, g.Steps)
	if closeErr := groupScope.Close(); closeErr != nil {
		err = join(err, outcome.Fail(fmt.Errorf("context disposal failed: %w", closeErr)))
	}
	return results, err
}

func skipped(seq sequence, defs []Definition) []*types.StepResult {
	results := make([]*types.StepResult, len(defs))
	for i, def := range defs {
		results[i] = notRun(seq.info(def, i), def)
	}
	return results
}

// Results returns the results of all steps run so far.
func (r *Runner) Results() []*types.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.StepResult(nil), r.results...)
}
