package opscenario

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-scenario/logging"
	"github.com/ethereum-optimism/infra/op-scenario/metrics"
	"github.com/ethereum-optimism/infra/op-scenario/notify"
	"github.com/ethereum-optimism/infra/op-scenario/registry"
	"github.com/ethereum-optimism/infra/op-scenario/runner"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// RunExecutor executes one test run over a set of scenario cases.
type RunExecutor interface {
	Run(ctx context.Context, cases []runner.ScenarioCase) (*types.TestRunResult, error)
}

// ExecutorFactory builds the executor of a single run from the engine configuration.
type ExecutorFactory func(cfg runner.Config) RunExecutor

func newCoordinator(cfg runner.Config) RunExecutor {
	return runner.NewCoordinator(cfg)
}

var _ cliapp.Lifecycle = (*scenarioService)(nil)

// scenarioService runs the registered scenarios once or periodically.
type scenarioService struct {
	config    *Config
	version   string
	registry  *registry.Registry
	plan      *registry.Plan
	scheduler RunScheduler
	formatter ResultFormatter
	executor  ExecutorFactory
	runLogs   *logging.FileLogger // nil when run logs are disabled

	mu     sync.Mutex
	result *types.TestRunResult

	shutdownCallback func(error)
}

// New creates the service for the scenarios in reg. The run plan, if configured, is loaded
// and the requested profile is resolved up front so that configuration errors surface
// before the first run.
func New(ctx context.Context, config *Config, reg *registry.Registry, version string, shutdownCallback func(error)) (*scenarioService, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}

	config.Log.Debug("Creating op-scenario with config",
		"plan", config.PlanFile,
		"profile", config.Profile,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"concurrency", config.maxConcurrency())

	var plan *registry.Plan
	if config.PlanFile != "" {
		var err error
		plan, err = registry.LoadPlan(config.PlanFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load run plan: %w", err)
		}
	}
	if _, err := plan.Resolve(config.Profile); err != nil {
		return nil, fmt.Errorf("failed to resolve profile: %w", err)
	}

	var runLogs *logging.FileLogger
	if config.LogDir != "" {
		var err error
		runLogs, err = logging.NewFileLogger(config.LogDir, config.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to create run log directory: %w", err)
		}
	}

	return &scenarioService{
		config:           config,
		version:          version,
		registry:         reg,
		plan:             plan,
		scheduler:        NewIntervalScheduler(config.RunInterval, config.Log),
		formatter:        NewConsoleResultFormatter(config.Log, nil, config.PlainOutput),
		executor:         newCoordinator,
		runLogs:          runLogs,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the scenarios immediately and, in continuous mode, keeps running them at the
// configured interval. In run-once mode a failed run is reported as a TestFailureError.
// Start implements the cliapp.Lifecycle interface.
func (s *scenarioService) Start(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.config.Log.Error("Runtime error occurred", "err", r)
			err = NewRuntimeError(fmt.Errorf("panic: %v", r))
		}
	}()

	if s.config.RunOnce {
		s.config.Log.Info("Starting op-scenario in run-once mode", "version", s.version)
	} else {
		s.config.Log.Info("Starting op-scenario in continuous mode", "version", s.version, "interval", s.config.RunInterval)
	}

	s.scheduler.RegisterRun(s.runScenarios)
	if err := s.scheduler.Start(ctx); err != nil {
		s.config.Log.Error("Runtime error running scenarios", "err", err)
		return err
	}

	if s.config.RunOnce {
		s.config.Log.Info("Scenarios completed, exiting (run-once mode)")
		if result := s.Result(); result != nil && result.Status() == types.StatusFailed {
			s.config.Log.Warn("Run-once scenario run completed with failures, returning exit code 1")
			return NewRunFailureError(result)
		}
		go s.shutdownCallback(nil)
	}
	return nil
}

// runScenarios performs one test run and prints its results.
func (s *scenarioService) runScenarios(ctx context.Context) (*types.TestRunResult, error) {
	cases, err := s.registry.Cases(s.plan, s.config.Profile)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to select scenarios: %w", err))
	}
	s.config.Log.Info("Running scenarios...", "count", len(cases))

	notifiers := []notify.Notifier{notify.NewLogNotifier(s.config.Log), metrics.NewNotifier()}
	if s.config.ShowProgress {
		progress := notify.NewProgressNotifier(s.config.Log, s.config.ProgressInterval)
		defer progress.Stop()
		notifiers = append(notifiers, progress)
	}
	if s.runLogs != nil {
		notifiers = append(notifiers, s.runLogs)
	}

	cfg := s.registry.Configure(runner.Config{
		Log:                    s.config.Log,
		MaxConcurrentScenarios: s.config.maxConcurrency(),
		DetachedDrainTimeout:   s.config.DetachedDrainTimeout,
		Notifier:               notify.Fanout(notifiers...),
	})

	result, runErr := s.executor(cfg).Run(ctx, cases)
	if result != nil {
		s.mu.Lock()
		s.result = result
		s.mu.Unlock()

		if err := s.formatter.FormatResults(result); err != nil {
			s.config.Log.Warn("Failed to print results", "err", err)
		}
		s.config.Log.Info(summary(result))
	}
	if runErr != nil {
		s.config.Log.Error("Runtime error finishing scenario run", "err", runErr)
		if result != nil {
			return result, NewRunRuntimeError(result.RunID, runErr)
		}
		return nil, NewRuntimeError(runErr)
	}
	return result, nil
}

// Result returns the result of the most recent run, or nil before the first run finished.
func (s *scenarioService) Result() *types.TestRunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Stop stops the periodic runs. A run in progress finishes on its own.
// Stop implements the cliapp.Lifecycle interface.
func (s *scenarioService) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-scenario")
	if err := s.scheduler.Stop(); err != nil {
		return err
	}
	if s.runLogs != nil {
		if err := s.runLogs.Close(); err != nil {
			return err
		}
	}
	s.config.Log.Info("op-scenario stopped successfully")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (s *scenarioService) Stopped() bool {
	return s.scheduler.Stopped()
}

// WaitForShutdown blocks until the periodic runs have terminated.
func (s *scenarioService) WaitForShutdown(ctx context.Context) error {
	return s.scheduler.WaitForShutdown(ctx)
}
