package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CorbanSy/PropDash-sub000/task"
)

var (
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker: pool stopped")
	// ErrPoolFull is returned by Submit when the task buffer is full.
	ErrPoolFull = errors.New("worker: task buffer full")
)

// Admission gates task execution. queue.Manager implements it.
type Admission interface {
	Acquire(kind task.Kind, owner string) bool
	Release(kind task.Kind, owner string)
}

// Pool runs submitted tasks on a fixed set of goroutines.
type Pool struct {
	executor    *Executor
	clock       clockwork.Clock
	admission   Admission
	concurrency int
	deferDelay  time.Duration
	logger      *slog.Logger

	tasks  chan *task.Task
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool

	activeMu sync.Mutex
	active   map[*task.Task]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithBuffer sets how many tasks may wait for a worker.
func WithBuffer(n int) PoolOption {
	return func(p *Pool) { p.tasks = make(chan *task.Task, n) }
}

// WithAdmission sets the admission gate. Tasks refused admission are
// resubmitted after the defer delay.
func WithAdmission(a Admission) PoolOption {
	return func(p *Pool) { p.admission = a }
}

// WithDeferDelay sets how long a refused task waits before resubmission.
func WithDeferDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.deferDelay = d }
}

// WithClock sets the time source.
func WithClock(c clockwork.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

// NewPool creates a worker pool.
func NewPool(executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		executor:    executor,
		clock:       clockwork.NewRealClock(),
		concurrency: 10,
		deferDelay:  250 * time.Millisecond,
		logger:      logger,
		tasks:       make(chan *task.Task, 1024),
		stopCh:      make(chan struct{}),
		active:      make(map[*task.Task]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. It returns immediately. Tasks
// submitted before Start wait in the buffer.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))
	for range p.concurrency {
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them. If ctx ends first,
// running tasks are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActive()
		p.wg.Wait()
	}
	return nil
}

// Submit queues t without blocking.
func (p *Pool) Submit(t *task.Task) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrPoolFull
	}
}

// Active returns the number of tasks currently executing.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case t := <-p.tasks:
			p.run(t)
		}
	}
}

func (p *Pool) run(t *task.Task) {
	if p.admission != nil && !p.admission.Acquire(t.Kind, t.Owner) {
		t.Attempt++
		p.clock.AfterFunc(p.deferDelay, func() {
			if err := p.Submit(t); err != nil {
				p.logger.Warn("dropped deferred task",
					slog.String("task", t.String()),
					slog.String("error", err.Error()),
				)
			}
		})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.track(t, cancel)

	// Errors are reported by the middleware chain.
	_ = p.executor.Execute(ctx, t)

	p.untrack(t)
	cancel()
	if p.admission != nil {
		p.admission.Release(t.Kind, t.Owner)
	}
}

func (p *Pool) track(t *task.Task, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[t] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(t *task.Task) {
	p.activeMu.Lock()
	delete(p.active, t)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for t, cancel := range p.active {
		p.logger.Warn("cancelling active task", slog.String("task", t.String()))
		cancel()
	}
}
