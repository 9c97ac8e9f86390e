package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
)

// Activity is a process-wide set-up with its matching teardown. Either side may be nil.
type Activity struct {
	Name     string
	SetUp    func(ctx context.Context, global *scope.Scope) error
	TearDown func(ctx context.Context, global *scope.Scope) error
}

// GlobalSetUp runs activities before any scenario and tears them down afterwards.
type GlobalSetUp struct {
	log log.Logger

	mu         sync.Mutex
	activities []Activity
	succeeded  []Activity
}

// NewGlobalSetUp creates an empty coordinator.
func NewGlobalSetUp(logger log.Logger) *GlobalSetUp {
	return &GlobalSetUp{log: logger.New("component", "global-setup")}
}

// Install appends activities in registration order.
func (g *GlobalSetUp) Install(activities ...Activity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activities = append(g.activities, activities...)
}

// SetUp runs the set-ups in registration order and stops at the first failure,
// returned as "<name> failed: <reason>".
func (g *GlobalSetUp) SetUp(ctx context.Context, global *scope.Scope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.activities {
		if a.SetUp != nil {
			g.log.Info("Running global set up", "activity", a.Name)
			if err := guard(func() error { return a.SetUp(ctx, global) }); err != nil {
				g.log.Error("Global set up failed", "activity", a.Name, "err", err)
				return fmt.Errorf("%s failed: %w", a.Name, err)
			}
		}
		g.succeeded = append(g.succeeded, a)
	}
	return nil
}

// TearDown runs the teardown of every activity whose set-up succeeded, in reverse
// order. Every teardown is attempted; all failures are returned together.
func (g *GlobalSetUp) TearDown(ctx context.Context, global *scope.Scope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for i := len(g.succeeded) - 1; i >= 0; i-- {
		a := g.succeeded[i]
		if a.TearDown == nil {
			continue
		}
		g.log.Info("Running global tear down", "activity", a.Name)
		if err := guard(func() error { return a.TearDown(ctx, global) }); err != nil {
			g.log.Error("Global tear down failed", "activity", a.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s tear down failed: %w", a.Name, err))
		}
	}
	g.succeeded = nil
	return outcome.Aggregate(errs...)
}

// DependencyActivity resolves name from the global scope during set-up so the
// dependency exists before any scenario starts. It is disposed with the global scope.
func DependencyActivity(name string) Activity {
	return Activity{
		Name: fmt.Sprintf("dependency %s", name),
		SetUp: func(ctx context.Context, global *scope.Scope) error {
			_, err := global.Resolve(ctx, name)
			return err
		},
	}
}
