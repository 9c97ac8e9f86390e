package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc"

	"github.com/ethereum-optimism/infra/op-scenario/outcome"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// ExecuteFunc runs one admitted case to completion.
type ExecuteFunc func(ctx context.Context, c ScenarioCase) *types.ScenarioResult

// SkipFunc produces the result of a case that was never admitted.
type SkipFunc func(c ScenarioCase, reason string) *types.ScenarioResult

// Completed is one finished case.
type Completed struct {
	Case   ScenarioCase
	Seq    int // position of the case in the scheduled list
	Result *types.ScenarioResult
}

// SchedulerConfig holds the dependencies of a Scheduler.
type SchedulerConfig struct {
	Log         log.Logger
	Concurrency int
	// Dedicated selects cases that run on a pooled dedicated worker. Requires Pool.
	Dedicated func(ScenarioCase) bool
	Pool      *WorkerPool
	Execute   ExecuteFunc
	Skip      SkipFunc
}

// Scheduler orders scenario cases and throttles how many run at once.
type Scheduler struct {
	log         log.Logger
	concurrency int
	dedicated   func(ScenarioCase) bool
	pool        *WorkerPool
	execute     ExecuteFunc
	skip        SkipFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Execute == nil {
		panic("execute function cannot be nil")
	}
	if cfg.Concurrency < 1 {
		panic("concurrency must be at least 1")
	}
	s := &Scheduler{
		log:         cfg.Log,
		concurrency: cfg.Concurrency,
		dedicated:   cfg.Dedicated,
		pool:        cfg.Pool,
		execute:     cfg.Execute,
		skip:        cfg.Skip,
	}
	if s.log == nil {
		s.log = log.Root()
	}
	s.log = s.log.New("component", "scheduler")
	if s.skip == nil {
		s.skip = func(c ScenarioCase, reason string) *types.ScenarioResult {
			return &types.ScenarioResult{Info: c.Info(""), Status: types.StatusNotRun, Detail: reason}
		}
	}
	return s
}

type queued struct {
	seq int
	c   ScenarioCase
}

// sortQueue orders by priority descending, non-exclusive before exclusive,
// declaration order within the feature, then feature declaration order.
func sortQueue(q []queued) {
	sort.SliceStable(q, func(i, j int) bool {
		a, b := q[i].c, q[j].c
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Exclusive != b.Exclusive {
			return !a.Exclusive
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Feature.Index < b.Feature.Index
	})
}

// admission is the shared ready queue and running count.
type admission struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       []queued
	running     int
	concurrency int
}

// next blocks until the next case may start and removes it from the queue.
// Non-exclusive cases start while fewer than concurrency cases run. An exclusive case
// starts only once no non-exclusive case is queued and nothing else runs.
// It returns false when the queue is empty or ctx is done.
func (a *admission) next(ctx context.Context) (queued, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if ctx.Err() != nil || len(a.queue) == 0 {
			return queued{}, false
		}
		idx := -1
		for i, q := range a.queue {
			if !q.c.Exclusive {
				idx = i
				break
			}
		}
		if idx >= 0 && a.running < a.concurrency {
			return a.take(idx), true
		}
		if idx < 0 && a.running == 0 {
			return a.take(0), true
		}
		a.cond.Wait()
	}
}

func (a *admission) take(idx int) queued {
	q := a.queue[idx]
	a.queue = append(a.queue[:idx], a.queue[idx+1:]...)
	a.running++
	return q
}

func (a *admission) done() {
	a.mu.Lock()
	a.running--
	a.mu.Unlock()
	a.cond.Broadcast()
}

func (a *admission) drain() []queued {
	a.mu.Lock()
	defer a.mu.Unlock()
	rest := a.queue
	a.queue = nil
	return rest
}

// Schedule starts running cases and returns the stream of completed cases. The
// channel is closed once every case is accounted for. When ctx is cancelled no
// further case is admitted; running cases finish and queued ones complete as NotRun.
func (s *Scheduler) Schedule(ctx context.Context, cases []ScenarioCase) <-chan Completed {
	out := make(chan Completed, len(cases))

	q := make([]queued, len(cases))
	for i, c := range cases {
		q[i] = queued{seq: i, c: c}
	}
	sortQueue(q)

	a := &admission{queue: q, concurrency: s.concurrency}
	a.cond = sync.NewCond(&a.mu)

	go s.dispatch(ctx, a, out)
	return out
}

func (s *Scheduler) dispatch(ctx context.Context, a *admission, out chan<- Completed) {
	defer close(out)
	start := time.Now()

	stop := context.AfterFunc(ctx, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.cond.Broadcast()
	})
	defer stop()

	// admitted scenarios run to completion even when the run is cancelled
	runCtx := context.WithoutCancel(ctx)

	s.log.Info("Starting scenario execution", "scenarios", len(a.queue), "concurrency", s.concurrency)

	var wg conc.WaitGroup
	admitted := 0
	for {
		next, ok := a.next(ctx)
		if !ok {
			break
		}
		admitted++
		s.log.Debug("Admitting scenario", "scenario", next.c.ID(), "priority", next.c.Priority, "exclusive", next.c.Exclusive)
		wg.Go(func() {
			defer a.done()
			out <- Completed{Case: next.c, Seq: next.seq, Result: s.run(runCtx, next.c)}
		})
	}

	skipped := a.drain()
	for _, q := range skipped {
		out <- Completed{Case: q.c, Seq: q.seq, Result: s.skip(q.c, notRunCancelled)}
	}
	if len(skipped) > 0 {
		s.log.Warn("Run cancelled, scenarios not started", "notRun", len(skipped))
	}

	wg.Wait()
	s.log.Info("Scenario execution completed", "admitted", admitted, "duration", time.Since(start))
}

// run executes c, on a dedicated worker when requested. It never panics.
func (s *Scheduler) run(ctx context.Context, c ScenarioCase) (res *types.ScenarioResult) {
	defer func() {
		if rec := recover(); rec != nil {
			err := outcome.FromPanic(rec)
			s.log.Error("Scenario execution panicked", "scenario", c.ID(), "err", err)
			res = &types.ScenarioResult{Info: c.Info(""), Status: types.StatusFailed, Detail: err.Error(), Err: err}
		}
	}()

	if s.pool != nil && s.dedicated != nil && s.dedicated(c) {
		if err := s.pool.Run(ctx, func(ctx context.Context) {
			res = s.execute(ctx, c)
		}); err != nil {
			err = fmt.Errorf("dedicated worker unavailable: %w", err)
			return &types.ScenarioResult{Info: c.Info(""), Status: types.StatusFailed, Detail: err.Error(), Err: err}
		}
		return res
	}
	return s.execute(ctx, c)
}
