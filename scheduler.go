package opscenario

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// RunFunc performs one scenario run. The result is nil when the run could not start.
type RunFunc func(ctx context.Context) (*types.TestRunResult, error)

// RunScheduler triggers scenario runs, once or at a fixed interval.
type RunScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterRun(run RunFunc)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// RunHistory summarizes the runs a scheduler triggered so far.
type RunHistory struct {
	Runs int
	// FailedRuns counts runs that ended Failed or with an error.
	FailedRuns        int
	ConsecutiveFailed int
	LastRunID         string
	LastStatus        types.ExecutionStatus
	LastErr           error
}

// IntervalScheduler implements RunScheduler. The first run happens synchronously in
// Start; in continuous mode later runs happen every interval on a background goroutine.
type IntervalScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	run      RunFunc

	mu      sync.Mutex
	history RunHistory

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ RunScheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler creates a scheduler. A zero interval means run-once.
func NewIntervalScheduler(interval time.Duration, logger log.Logger) *IntervalScheduler {
	return &IntervalScheduler{
		interval: interval,
		runOnce:  interval == 0,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// RegisterRun registers the function performing a scenario run.
func (s *IntervalScheduler) RegisterRun(run RunFunc) {
	s.run = run
}

// History returns a snapshot of the runs triggered so far.
func (s *IntervalScheduler) History() RunHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// Start performs the first run and, in continuous mode, schedules the next ones.
// The error of the first run is returned.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	if s.run == nil {
		return errors.New("run function must be registered before starting scheduler")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.trigger(ctx)
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)
	if err := s.trigger(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.interval)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				if !s.running.Load() {
					s.logger.Debug("Scheduler stopped, exiting periodic runs")
					return
				}
				if err := s.trigger(ctx); err != nil {
					s.logger.Error("Periodic scenario run failed to complete", "err", err)
				}
				timer.Reset(s.interval)

			case <-s.done:
				s.logger.Debug("Done signal received, stopping periodic runs")
				return

			case <-ctx.Done():
				s.logger.Debug("Context canceled, stopping periodic runs")
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

// trigger performs one run and records its outcome in the history.
func (s *IntervalScheduler) trigger(ctx context.Context) error {
	s.mu.Lock()
	number := s.history.Runs + 1
	s.mu.Unlock()

	s.logger.Info("Scenario run due", "run", number)
	result, err := s.run(ctx)

	s.mu.Lock()
	h := &s.history
	h.Runs = number
	h.LastErr = err
	h.LastRunID, h.LastStatus = "", types.StatusNotRun
	if result != nil {
		h.LastRunID, h.LastStatus = result.RunID, result.Status()
	}
	if err != nil || h.LastStatus == types.StatusFailed {
		h.FailedRuns++
		h.ConsecutiveFailed++
	} else {
		h.ConsecutiveFailed = 0
	}
	snapshot := *h
	s.mu.Unlock()

	ctxLog := []interface{}{"run", number, "run_id", snapshot.LastRunID, "status", snapshot.LastStatus}
	if result != nil {
		ctxLog = append(ctxLog, "scenarios", result.ScenarioStats.Total, "failed", result.ScenarioStats.Failed,
			"duration", result.ExecutionTime.Duration.Truncate(time.Millisecond))
	}
	if !s.runOnce {
		ctxLog = append(ctxLog, "next_run", time.Now().Add(s.interval).Format(time.RFC3339))
	}
	s.logger.Info("Scenario run finished", ctxLog...)
	if snapshot.ConsecutiveFailed > 1 {
		s.logger.Warn("Scenario runs keep failing", "consecutive", snapshot.ConsecutiveFailed,
			"failed_runs", snapshot.FailedRuns, "runs", snapshot.Runs)
	}
	return err
}

// Stop stops scheduling further runs. It is idempotent.
func (s *IntervalScheduler) Stop() error {
	if !s.running.Load() {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}

	s.running.Store(false)
	close(s.done)
	return nil
}

func (s *IntervalScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until the periodic goroutine has returned or ctx expires.
func (s *IntervalScheduler) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for periodic runs to terminate", "err", ctx.Err())
		return ctx.Err()
	}
}
