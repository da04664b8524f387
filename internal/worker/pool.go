package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/YannKr/deepscan/internal/model"
)

// ErrPoolStopped is returned for work submitted after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

type task struct {
	ctx  context.Context // caller's; only consulted before the task starts
	run  func(ctx context.Context)
	err  error
	done chan struct{}
}

// Pool bounds concurrent analysis work to a fixed number of workers, each
// running one task at a time. A started task runs to completion on a
// context detached from both its caller and the pool's parent, so neither a
// disconnecting client nor shutdown cuts it short; its own timeouts bound it.
type Pool struct {
	orch    *Orchestrator
	workers int
	queue   chan *task
	stopped chan struct{}
	ctx     context.Context
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func NewPool(orch *Orchestrator, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		orch:    orch,
		workers: workers,
		queue:   make(chan *task, workers*4),
		stopped: make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx = context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	slog.Info("worker pool started", "workers", p.workers)
}

// Stop refuses new work, waits for tasks already running and fails the
// ones still queued with ErrPoolStopped.
func (p *Pool) Stop() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stopped)
	})
	p.wg.Wait()
	for {
		select {
		case t := <-p.queue:
			t.err = ErrPoolStopped
			close(t.done)
		default:
			slog.Info("worker pool stopped")
			return
		}
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopped:
			return
		case t := <-p.queue:
			if err := t.ctx.Err(); err != nil {
				t.err = err
				close(t.done)
				continue
			}
			slog.Debug("worker picked task", "worker", id)
			t.run(p.ctx)
			close(t.done)
		}
	}
}

// do enqueues fn and waits for it. A caller that gives up while the task is
// still queued skips it; once started, do returns only after fn has.
func (p *Pool) do(ctx context.Context, fn func(ctx context.Context)) error {
	t := &task{ctx: ctx, run: fn, done: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	select {
	case p.queue <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	<-t.done
	return t.err
}

// Submit runs an analysis job and waits for its outcome.
func (p *Pool) Submit(ctx context.Context, req JobRequest) (*model.RiskReport, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var report *model.RiskReport
	var jobErr error
	err := p.do(ctx, func(ctx context.Context) {
		report, jobErr = p.orch.ProcessJob(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return report, jobErr
}

// Analyze scores a local file on a pool worker.
func (p *Pool) Analyze(ctx context.Context, path string, kind model.MediaKind) (*Analysis, error) {
	var a *Analysis
	var aErr error
	err := p.do(ctx, func(ctx context.Context) {
		a, aErr = p.orch.Analyze(ctx, path, kind)
	})
	if err != nil {
		return nil, err
	}
	return a, aErr
}
