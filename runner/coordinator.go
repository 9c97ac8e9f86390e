package runner

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/scope"
	"github.com/ethereum-optimism/infra/op-scenario/step"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// Coordinator orchestrates a test run: global set-up, scheduling, result collection
// and global teardown.
type Coordinator struct {
	cfg    Config
	log    log.Logger
	tracer trace.Tracer
}

// NewCoordinator creates a coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:    cfg,
		log:    cfg.Log.New("component", "coordinator"),
		tracer: otel.Tracer("scenario runner"),
	}
}

// Run executes every case and returns the result tree. Errors from global teardown
// or global scope disposal are returned alongside the result.
func (c *Coordinator) Run(ctx context.Context, cases []ScenarioCase) (*types.TestRunResult, error) {
	runID := uuid.New().String()
	clock := types.NewClock()
	notifier := c.cfg.Notifier

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("run %s", runID), trace.WithAttributes(attribute.Int("scenarios", len(cases))))
	defer span.End()

	runLog := c.log.New("runID", runID)
	runLog.Info("Starting test run", "scenarios", len(cases))
	notifier.Notify(notify.TestRunStarting{At: notify.At{At: clock.Now()}, RunID: runID})
	start := clock.Now()

	global := scope.NewGlobal(c.cfg.Container, c.cfg.Log)
	setUps := NewGlobalSetUp(c.cfg.Log)
	setUps.Install(c.cfg.GlobalSetUps...)
	globalErr := setUps.SetUp(ctx, global)

	executor := &scenarioExecutor{
		log:      runLog,
		notifier: notifier,
		clock:    clock,
		tracer:   c.tracer,
		steps: step.NewExecutor(step.Config{
			Log:                  runLog,
			Notifier:             notifier,
			Clock:                clock,
			Decorators:           c.cfg.StepDecorators,
			DetachedDrainTimeout: c.cfg.DetachedDrainTimeout,
		}),
		global:     global,
		decorators: c.cfg.ScenarioDecorators,
		runID:      runID,
		globalErr:  globalErr,
	}

	collector := newResultCollector(runID, cases, notifier, clock)
	concurrency := determineConcurrency(c.cfg.MaxConcurrentScenarios, len(cases), runLog)
	pool := NewWorkerPool(concurrency, runLog)

	scheduler := NewScheduler(SchedulerConfig{
		Log:         runLog,
		Concurrency: concurrency,
		Dedicated:   c.cfg.DedicatedWorker,
		Pool:        pool,
		Execute: func(ctx context.Context, sc ScenarioCase) *types.ScenarioResult {
			collector.start(sc)
			return executor.execute(ctx, sc)
		},
		Skip: func(sc ScenarioCase, reason string) *types.ScenarioResult {
			return &types.ScenarioResult{Info: sc.Info(runID), Status: types.StatusNotRun, Detail: reason}
		},
	})

	for done := range scheduler.Schedule(ctx, cases) {
		collector.add(done)
	}
	pool.Close()

	// teardown must run even when the run was cancelled
	cleanupCtx := context.WithoutCancel(ctx)
	var errs []error
	if err := setUps.TearDown(cleanupCtx, global); err != nil {
		errs = append(errs, fmt.Errorf("global tear down failed: %w", err))
	}
	if err := global.Close(); err != nil {
		errs = append(errs, fmt.Errorf("global scope disposal failed: %w", err))
	}

	result := collector.finish(types.Measure(start, clock.Now()))
	notifier.Notify(notify.TestRunFinished{At: notify.At{At: clock.Now()}, Result: result})

	span.SetAttributes(attribute.String("status", result.Status().String()))
	runLog.Info("Test run completed",
		"status", result.Status(),
		"scenarios", result.ScenarioStats.Total,
		"passed", result.ScenarioStats.Passed,
		"failed", result.ScenarioStats.Failed,
		"duration", result.ExecutionTime.Duration)

	return result, outcome.Aggregate(errs...)
}
