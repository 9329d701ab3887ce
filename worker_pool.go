package syncutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Worker defines the lifecycle of a single worker in a WorkerPool.
//
// Prepare is called once when the worker starts and returns its state. Process is called
// for every dequeued item with that state. Cleanup is called exactly once with the state
// when the worker stops, if Prepare succeeded.
type Worker[S, I any] interface {
	Prepare(ctx context.Context) (S, error)
	Process(ctx context.Context, state S, item I) error
	Cleanup(state S)
}

// WorkerFuncs adapts functions to the Worker interface. Nil functions are no-ops.
type WorkerFuncs[S, I any] struct {
	PrepareFunc func(ctx context.Context) (S, error)
	ProcessFunc func(ctx context.Context, state S, item I) error
	CleanupFunc func(state S)
}

func (w WorkerFuncs[S, I]) Prepare(ctx context.Context) (S, error) {
	if w.PrepareFunc == nil {
		var zero S
		return zero, nil
	}
	return w.PrepareFunc(ctx)
}

func (w WorkerFuncs[S, I]) Process(ctx context.Context, state S, item I) error {
	if w.ProcessFunc == nil {
		return nil
	}
	return w.ProcessFunc(ctx, state, item)
}

func (w WorkerFuncs[S, I]) Cleanup(state S) {
	if w.CleanupFunc != nil {
		w.CleanupFunc(state)
	}
}

type PoolConfig struct {
	// Name identifies the pool in logs.
	Name string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *PoolMetrics
}

type PoolState int

const (
	PoolNew      PoolState = iota // Created, not started.
	PoolStarting                  // Workers are preparing.
	PoolRunning                   // All workers have prepared.
	PoolDraining                  // Shutting down once the queue is drained.
	PoolStopped                   // All workers have exited.
)

func (s PoolState) String() string {
	switch s {
	case PoolNew:
		return "new"
	case PoolStarting:
		return "starting"
	case PoolRunning:
		return "running"
	case PoolDraining:
		return "draining"
	case PoolStopped:
		return "stopped"
	default:
		return fmt.Sprintf("PoolState(%d)", s)
	}
}

type WorkerState int

const (
	WorkerCreated WorkerState = iota
	WorkerPrepared
	WorkerDequeue // Waiting for an item.
	WorkerProcess // Processing an item.
	WorkerStopping
	WorkerCleanedUp
	WorkerTerminated
)

func (s WorkerState) String() string {
	switch s {
	case WorkerCreated:
		return "created"
	case WorkerPrepared:
		return "prepared"
	case WorkerDequeue:
		return "dequeue"
	case WorkerProcess:
		return "process"
	case WorkerStopping:
		return "stopping"
	case WorkerCleanedUp:
		return "cleanedUp"
	case WorkerTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("WorkerState(%d)", s)
	}
}

// WorkerPool processes work items from an unbounded FIFO queue with a fixed number of workers.
// Items are dequeued in submission order; completion order across workers is unordered.
type WorkerPool[S, I any] struct {
	worker  Worker[S, I]
	name    string
	logger  *slog.Logger
	metrics *PoolMetrics

	mu       sync.Mutex
	notEmpty *sync.Cond // Signalled when an item is queued or the pool is stopping.
	changed  *sync.Cond // Broadcast on progress and state transitions.

	queue    []I
	inFlight int // Number of items being processed.
	state    PoolState
	stopping bool // Workers must not dequeue any more items.
	workers  []WorkerState
	prepared int // Number of workers that have returned from Prepare.
	failed   int // Number of workers whose Prepare failed.
	running  int // Number of worker goroutines that have not exited.
	errs     []error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a new, unstarted worker pool.
func NewWorkerPool[S, I any](worker Worker[S, I], config PoolConfig) *WorkerPool[S, I] {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &WorkerPool[S, I]{
		worker:  worker,
		name:    config.Name,
		logger:  logger.With("pool", config.Name),
		metrics: config.Metrics,
		cancel:  func() {},
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.changed = sync.NewCond(&p.mu)
	return p
}

// State returns the current pool state.
func (p *WorkerPool[S, I]) State() PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// WorkerStates returns a snapshot of the state of every worker.
func (p *WorkerPool[S, I]) WorkerStates() []WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WorkerState(nil), p.workers...)
}

// QueueLen returns the number of items waiting to be processed.
func (p *WorkerPool[S, I]) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// InFlight returns the number of items being processed.
func (p *WorkerPool[S, I]) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// AddWorkItem enqueues an item. It never blocks, and may be called before or after Start.
// It fails with ErrClosed once the pool is draining or stopped.
func (p *WorkerPool[S, I]) AddWorkItem(item I) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping || p.state == PoolDraining || p.state == PoolStopped {
		return fmt.Errorf("worker pool: add work item: %w", ErrClosed)
	}
	p.queue = append(p.queue, item)
	p.metrics.submitted(len(p.queue))
	p.notEmpty.Signal()
	return nil
}

// Start starts the given number of workers.
//
// Cancelling ctx interrupts every worker. If blocking is true, Start returns once every
// worker has returned from Prepare; if all of them failed, the pool is stopped and the
// joined errors are returned. Otherwise Start returns immediately.
func (p *WorkerPool[S, I]) Start(ctx context.Context, workers int, blocking bool) error {
	if workers < 1 {
		return fmt.Errorf("worker pool: start: %w: workers must be at least 1, got %d", ErrInvalidArgument, workers)
	}

	p.mu.Lock()
	if p.state != PoolNew {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("worker pool: start: %w: pool is %s", ErrIllegalState, state)
	}
	p.state = PoolStarting
	p.workers = make([]WorkerState, workers)
	p.running = workers

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.notEmpty.Broadcast()
		p.mu.Unlock()
	})

	p.wg.Add(workers)
	for i := range workers {
		go p.run(ctx, i)
	}
	p.mu.Unlock()

	p.logger.Debug("worker pool started", "workers", workers, "blocking", blocking)
	if !blocking {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.prepared < workers || (p.failed == workers && p.state != PoolStopped) {
		p.changed.Wait()
	}
	if p.failed == workers {
		return errors.Join(p.errs...)
	}
	return nil
}

// WaitForCompletion blocks until the queue is empty and no item is being processed.
// Every item queued when it is called has been processed when it returns nil.
//
// It fails with ErrClosed if the pool stops with items still queued, and with
// ErrInterrupted or ErrTimeout when ctx is done first.
func (p *WorkerPool[S, I]) WaitForCompletion(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.changed.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	for {
		if len(p.queue) == 0 && p.inFlight == 0 {
			return nil
		}
		if p.stopping && len(p.queue) > 0 {
			return fmt.Errorf("worker pool: wait for completion: %w: %d items not processed", ErrClosed, len(p.queue))
		}
		if err := ctx.Err(); err != nil {
			return waitError("worker pool: wait for completion", err)
		}
		p.changed.Wait()
	}
}

// Stop signals every worker to exit after its current item and waits for them to clean up.
// Queued items that were not dequeued are dropped. Stop is idempotent.
//
// If ctx is done before the workers have exited, their context is cancelled and Stop
// returns without waiting further. Otherwise it returns the joined errors of failed
// Prepare calls and interrupted workers.
func (p *WorkerPool[S, I]) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == PoolNew {
		p.state = PoolStopped
		p.stopping = true
		p.changed.Broadcast()
		p.mu.Unlock()
		return nil
	}
	if !p.stopping {
		p.stopping = true
		p.notEmpty.Broadcast()
		p.changed.Broadcast()
		p.logger.Debug("worker pool stopping", "queued", len(p.queue))
	}
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
	case <-ctx.Done():
		cancel()
		return waitError("worker pool: stop", ctx.Err())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

// Shutdown stops accepting items, waits for the queue to drain and then stops the pool.
func (p *WorkerPool[S, I]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.state == PoolStarting || p.state == PoolRunning {
		p.state = PoolDraining
		p.changed.Broadcast()
	}
	draining := p.state == PoolDraining
	p.mu.Unlock()

	var err error
	if draining {
		err = p.WaitForCompletion(ctx)
	}
	return errors.Join(err, p.Stop(ctx))
}

func (p *WorkerPool[S, I]) run(ctx context.Context, id int) {
	defer p.wg.Done()
	defer p.exit(id)

	state, err := p.prepare(ctx, id)
	if err != nil {
		return
	}
	defer p.cleanup(id, state)

	for {
		item, ok := p.dequeue(ctx, id)
		if !ok {
			return
		}
		start := time.Now()
		err := p.process(ctx, state, item)
		p.metrics.processed(start, err)
		p.done()

		if err == nil {
			continue
		}
		if isInterrupt(err) {
			if !errors.Is(err, ErrInterrupted) {
				err = fmt.Errorf("%w: %w", ErrInterrupted, err)
			}
			p.recordError(fmt.Errorf("worker %d: %w", id, err))
			p.logger.Debug("worker interrupted", "worker", id, "error", err)
			return
		}
		p.logger.Error("failed to process work item", "worker", id, "error", err)
	}
}

func (p *WorkerPool[S, I]) prepare(ctx context.Context, id int) (state S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		p.prepared++
		if err != nil {
			p.failed++
			p.errs = append(p.errs, fmt.Errorf("worker %d: prepare: %w", id, err))
			p.logger.Error("failed to prepare worker", "worker", id, "error", err)
		} else {
			p.workers[id] = WorkerPrepared
			p.metrics.workerStarted()
		}
		if p.prepared == len(p.workers) && p.state == PoolStarting {
			p.state = PoolRunning
		}
		p.changed.Broadcast()
	}()
	return p.worker.Prepare(ctx)
}

func (p *WorkerPool[S, I]) process(ctx context.Context, state S, item I) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process panic: %v", r)
		}
	}()
	return p.worker.Process(ctx, state, item)
}

// dequeue waits for the next item. It returns false if the worker must stop.
func (p *WorkerPool[S, I]) dequeue(ctx context.Context, id int) (item I, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workers[id] = WorkerDequeue
	for len(p.queue) == 0 && !p.stopping && ctx.Err() == nil {
		p.notEmpty.Wait()
	}
	if err := ctx.Err(); err != nil {
		p.errs = append(p.errs, fmt.Errorf("worker %d: %w: %w", id, ErrInterrupted, err))
		return item, false
	}
	if p.stopping {
		return item, false
	}

	item = p.queue[0]
	var zero I
	p.queue[0] = zero
	p.queue = p.queue[1:]
	p.inFlight++
	p.workers[id] = WorkerProcess
	p.metrics.dequeued(len(p.queue))
	return item, true
}

func (p *WorkerPool[S, I]) done() {
	p.mu.Lock()
	p.inFlight--
	p.changed.Broadcast()
	p.mu.Unlock()
}

func (p *WorkerPool[S, I]) cleanup(id int, state S) {
	p.setWorkerState(id, WorkerStopping)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker cleanup panicked", "worker", id, "panic", r)
		}
		p.setWorkerState(id, WorkerCleanedUp)
		p.metrics.workerStopped()
	}()
	p.worker.Cleanup(state)
}

// exit marks the worker as terminated and stops the pool once the last worker has exited.
func (p *WorkerPool[S, I]) exit(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[id] = WorkerTerminated
	p.running--
	if p.running == 0 {
		p.state = PoolStopped
		p.stopping = true
		p.logger.Debug("worker pool stopped", "queued", len(p.queue))
	}
	p.changed.Broadcast()
}

func (p *WorkerPool[S, I]) recordError(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *WorkerPool[S, I]) setWorkerState(id int, s WorkerState) {
	p.mu.Lock()
	p.workers[id] = s
	p.mu.Unlock()
}
