package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxion/voice-agent/pkg/logging"
)

var (
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("conversation: dispatcher closed")
	// ErrTurnTimeout is returned when no result arrived within the turn
	// deadline.
	ErrTurnTimeout = errors.New("conversation: turn timed out")
)

const (
	defaultTurnTimeout = 5 * time.Second
	defaultWorkerIdle  = 2 * time.Minute
	defaultQueueSize   = 8
	// waitGrace lets a pipeline that honoured the deadline deliver its
	// fallback answer.
	waitGrace = 500 * time.Millisecond
)

// Processor handles one turn. *Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, req TurnRequest) (TurnResult, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTurnTimeout sets the deadline each turn carries.
func WithTurnTimeout(d time.Duration) DispatcherOption {
	return func(ds *Dispatcher) { ds.turnTimeout = d }
}

// WithWorkerIdle sets how long a session worker waits for the next turn
// before exiting.
func WithWorkerIdle(d time.Duration) DispatcherOption {
	return func(ds *Dispatcher) { ds.idle = d }
}

// WithQueueSize sets the per-session job buffer.
func WithQueueSize(n int) DispatcherOption {
	return func(ds *Dispatcher) { ds.queueSize = n }
}

func WithDispatcherLogger(l *logging.Logger) DispatcherOption {
	return func(ds *Dispatcher) { ds.logger = l }
}

type job struct {
	ctx    context.Context
	req    TurnRequest
	result chan jobResult
}

type jobResult struct {
	res TurnResult
	err error
}

type sessionWorker struct {
	jobs    chan job
	pending int
}

// Dispatcher runs one goroutine per active session. Turns for a session go
// through that worker's channel, so they are processed one at a time in
// arrival order while distinct sessions proceed in parallel.
type Dispatcher struct {
	proc        Processor
	turnTimeout time.Duration
	idle        time.Duration
	queueSize   int
	logger      *logging.Logger

	mu      sync.Mutex
	workers map[string]*sessionWorker
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher in front of proc.
func NewDispatcher(proc Processor, opts ...DispatcherOption) *Dispatcher {
	if proc == nil {
		panic("conversation: processor cannot be nil")
	}
	d := &Dispatcher{
		proc:        proc,
		turnTimeout: defaultTurnTimeout,
		idle:        defaultWorkerIdle,
		queueSize:   defaultQueueSize,
		workers:     map[string]*sessionWorker{},
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Default()
	}
	return d
}

// Submit processes req with the turn deadline and waits for its result.
// Turns without a session id open a new session and run inline.
func (d *Dispatcher) Submit(ctx context.Context, req TurnRequest) (TurnResult, error) {
	jobCtx, cancel := context.WithTimeout(ctx, d.turnTimeout)
	defer cancel()

	if req.SessionID == "" {
		if d.isClosed() {
			return TurnResult{}, ErrDispatcherClosed
		}
		return d.proc.Process(jobCtx, req)
	}

	j := job{ctx: jobCtx, req: req, result: make(chan jobResult, 1)}
	if err := d.enqueue(j); err != nil {
		return TurnResult{}, err
	}

	wait := time.NewTimer(d.turnTimeout + waitGrace)
	defer wait.Stop()
	select {
	case r := <-j.result:
		return r.res, r.err
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	case <-wait.C:
		return TurnResult{}, ErrTurnTimeout
	}
}

func (d *Dispatcher) enqueue(j job) error {
	id := j.req.SessionID
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	w, ok := d.workers[id]
	if !ok {
		w = &sessionWorker{jobs: make(chan job, d.queueSize)}
		d.workers[id] = w
		d.wg.Add(1)
		go d.run(id, w)
	}
	// pending keeps the worker alive until this job is received.
	w.pending++
	d.mu.Unlock()

	select {
	case w.jobs <- j:
		return nil
	case <-d.done:
		d.release(w)
		return ErrDispatcherClosed
	case <-j.ctx.Done():
		d.release(w)
		return j.ctx.Err()
	}
}

// release drops one pending job from w.
func (d *Dispatcher) release(w *sessionWorker) {
	d.mu.Lock()
	w.pending--
	d.mu.Unlock()
}

func (d *Dispatcher) run(id string, w *sessionWorker) {
	defer d.wg.Done()
	log := d.logger.WithSession(id)
	log.Debug("session worker started")

	idle := time.NewTimer(d.idle)
	defer idle.Stop()
	for {
		select {
		case j := <-w.jobs:
			d.release(w)
			d.execute(log, j)
			resetTimer(idle, d.idle)
		case <-idle.C:
			d.mu.Lock()
			if w.pending > 0 {
				d.mu.Unlock()
				idle.Reset(d.idle)
				continue
			}
			delete(d.workers, id)
			d.mu.Unlock()
			log.Debug("session worker idle, exiting")
			return
		case <-d.done:
			d.drain(w)
			return
		}
	}
}

func (d *Dispatcher) execute(log *logging.Logger, j job) {
	if err := j.ctx.Err(); err != nil {
		j.result <- jobResult{err: err}
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("turn panicked", "panic", fmt.Sprint(rec))
			j.result <- jobResult{err: fmt.Errorf("conversation: turn failed: %v", rec)}
		}
	}()
	res, err := d.proc.Process(j.ctx, j.req)
	j.result <- jobResult{res: res, err: err}
}

func (d *Dispatcher) drain(w *sessionWorker) {
	for {
		select {
		case j := <-w.jobs:
			j.result <- jobResult{err: ErrDispatcherClosed}
		default:
			return
		}
	}
}

// Workers is the number of live session workers.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close stops accepting turns and waits for the workers to finish the turn
// they are processing.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()
	d.wg.Wait()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
