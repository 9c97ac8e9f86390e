package runner

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-scenario/step"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Worker is a goroutine locked to one OS thread. A scenario running on it executes
// its entry point and every step on that thread. Worker-local values live until
// the worker is handed back to the pool.
type Worker struct {
	id    int64
	tasks chan func()

	mu    sync.Mutex
	local map[interface{}]interface{}
}

// ID identifies the worker within its pool. IDs start at 1.
func (w *Worker) ID() int64 {
	return w.id
}

// Set stores a worker-local value.
func (w *Worker) Set(key, value interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.local[key] = value
}

// Get returns a worker-local value.
func (w *Worker) Get(key interface{}) (interface{}, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.local[key]
	return v, ok
}

func (w *Worker) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.local = make(map[interface{}]interface{})
}

func (w *Worker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for task := range w.tasks {
		task()
	}
}

type workerKey struct{}

// CurrentWorker returns the dedicated worker executing ctx, or nil when the scenario
// does not run on one or ctx belongs to a detached step operation.
func CurrentWorker(ctx context.Context) *Worker {
	if step.IsDetached(ctx) {
		return nil
	}
	w, _ := ctx.Value(workerKey{}).(*Worker)
	return w
}

// WorkerPool hands out dedicated workers. Idle workers are kept for reuse, up to maxIdle.
type WorkerPool struct {
	log     log.Logger
	maxIdle int
	nextID  atomic.Int64
	created atomic.Int64

	mu     sync.Mutex
	idle   []*Worker
	closed bool
}

// NewWorkerPool creates a pool keeping at most maxIdle idle workers.
func NewWorkerPool(maxIdle int, logger log.Logger) *WorkerPool {
	return &WorkerPool{
		log:     logger.New("component", "worker-pool"),
		maxIdle: max(maxIdle, 1),
	}
}

// Run executes fn on a dedicated worker and blocks until it returns.
// The context passed to fn carries the worker, see CurrentWorker.
func (p *WorkerPool) Run(ctx context.Context, fn func(ctx context.Context)) error {
	w, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.release(w)

	done := make(chan struct{})
	var panicked interface{}
	w.tasks <- func() {
		defer close(done)
		defer func() {
			panicked = recover()
		}()
		fn(context.WithValue(ctx, workerKey{}, w))
	}
	<-done
	if panicked != nil {
		panic(panicked)
	}
	return nil
}

func (p *WorkerPool) acquire() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return w, nil
	}
	w := &Worker{
		id:    p.nextID.Add(1),
		tasks: make(chan func()),
		local: make(map[interface{}]interface{}),
	}
	p.created.Add(1)
	p.log.Debug("Starting dedicated worker", "worker", w.id)
	go w.loop()
	return w, nil
}

func (p *WorkerPool) release(w *Worker) {
	w.reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) >= p.maxIdle {
		p.log.Debug("Stopping dedicated worker", "worker", w.id)
		close(w.tasks)
		return
	}
	p.idle = append(p.idle, w)
}

// Created returns how many workers the pool started so far.
func (p *WorkerPool) Created() int64 {
	return p.created.Load()
}

// Close stops idle workers. Workers in use stop when they are released.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, w := range p.idle {
		close(w.tasks)
	}
	p.idle = nil
}
