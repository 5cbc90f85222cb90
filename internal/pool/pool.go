// Package pool implements the fixed-size worker pool: N OS-backed
// goroutines pulling from a lock-free ring, adaptive waiting when idle, and
// a per-worker scratch arena reset before every task.
package pool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brynm0/boidnode/internal/arena"
	"github.com/brynm0/boidnode/internal/ring"
	"go.uber.org/zap"
)

// MainID is the sentinel worker id used by the main thread when it
// participates in WaitForCompletion.
const MainID = ^uint32(0)

var (
	// ErrResourceExhausted is wrapped by the error AddWork returns on a
	// ring overflow (the ring's own error is included as text only), for
	// callers that only want to errors.Is against the pool's error kinds.
	ErrResourceExhausted = errors.New("pool: resource exhausted")
	// ErrWaitTimeout is returned by WaitForCompletion when the deadline
	// elapses before the pool quiesces. The pool remains usable.
	ErrWaitTimeout = errors.New("pool: wait for completion timed out")
)

// Config controls pool sizing. Zero values are replaced by defaults in
// Start.
type Config struct {
	WorkerCount   int // defaults to runtime.GOMAXPROCS(0)
	MaxWorkOrders int // ring sized to next pow2 >= 2*MaxWorkOrders
	SpinThreshold int // T in the adaptive wait; defaults to 1000
	ArenaBytes    int // per-worker scratch arena size, defaults to 1<<20
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.GOMAXPROCS(0)
	}
	if c.MaxWorkOrders <= 0 {
		c.MaxWorkOrders = 1024
	}
	if c.SpinThreshold <= 0 {
		c.SpinThreshold = 1000
	}
	if c.ArenaBytes <= 0 {
		c.ArenaBytes = 1 << 20
	}
	return c
}

// event is a manual-reset event: Signal wakes every current and future
// waiter until Clear is called.
type event struct {
	mu sync.Mutex
	ch chan struct{}
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
	default:
		close(e.ch)
	}
}

func (e *event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
	}
}

func (e *event) Wait(timeout time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Diagnostics is a point-in-time copy of pool counters, read lock-free.
type Diagnostics struct {
	WorkerCount    int
	ActiveWorkers  int64
	ItemsAdded     int64
	ItemsProcessed int64
	WorkerSpins    []int64
}

// Pool is a fixed-size set of workers draining a shared ring. Create with
// Start; the zero value is not usable.
type Pool struct {
	cfg          Config
	r            *ring.Ring
	workerArenas []*arena.Arena
	mainArena    *arena.Arena
	active       atomic.Int64
	added        atomic.Int64
	processed    atomic.Int64
	spins        []atomic.Int64
	avail        *event
	completion   *event
	shutdown     atomic.Bool
	wg           sync.WaitGroup
	log          *zap.Logger
}

// Start initializes the ring and spawns the configured number of workers.
func Start(cfg Config, log *zap.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	workerArenas := make([]*arena.Arena, cfg.WorkerCount)
	for i := range workerArenas {
		a, err := arena.New(cfg.ArenaBytes)
		if err != nil {
			return nil, fmt.Errorf("pool: worker %d arena: %w", i, err)
		}
		workerArenas[i] = a
	}
	mainArena, err := arena.New(cfg.ArenaBytes)
	if err != nil {
		return nil, fmt.Errorf("pool: main arena: %w", err)
	}

	p := &Pool{
		cfg:          cfg,
		r:            ring.New(2 * cfg.MaxWorkOrders),
		workerArenas: workerArenas,
		mainArena:    mainArena,
		spins:        make([]atomic.Int64, cfg.WorkerCount),
		avail:        newEvent(),
		completion:   newEvent(),
		log:          log.Named("pool"),
	}

	p.wg.Add(cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		go p.workerLoop(i)
	}
	p.log.Info("started", zap.Int("workers", cfg.WorkerCount), zap.Int("ring_capacity", p.r.Cap()))
	return p, nil
}

// AddWork claims a ring slot and signals availability. fn is executed by
// whichever worker (or the main thread, via WaitForCompletion) pops it,
// with that executor's scratch arena reset immediately beforehand.
func (p *Pool) AddWork(fn func(data any, scratch *arena.Arena), data any) error {
	return p.AddWorkPriority(fn, data, 0)
}

// AddWorkPriority is AddWork with an explicit priority tag on the item. The
// ring stays strictly FIFO; the tag travels with the item for the consumer.
func (p *Pool) AddWorkPriority(fn func(data any, scratch *arena.Arena), data any, priority uint8) error {
	p.completion.Clear()
	if err := p.r.Push(ring.Item{Fn: fn, Data: data, Priority: priority}); err != nil {
		p.log.Error("ring overflow", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	p.added.Add(1)
	p.avail.Signal()
	return nil
}

// ResetWork drains the ring and stats back to zero. Callers must guarantee
// no task is in flight and no producer is mid-AddWork; the ring's own
// protocol does not detect this for you.
func (p *Pool) ResetWork() {
	p.r.Reset()
	p.added.Store(0)
	p.processed.Store(0)
	for i := range p.spins {
		p.spins[i].Store(0)
	}
	p.avail.Clear()
	p.completion.Signal()
}

// tryRun pops and executes one item with the active counter held across the
// pop itself, so a popped-but-not-yet-executed item is never invisible to
// the completion predicate (active == 0 && ring empty).
func (p *Pool) tryRun(a *arena.Arena) bool {
	p.active.Add(1)
	it, ok := p.r.Pop()
	if ok {
		a.Reset()
		it.Fn(it.Data, a)
		p.processed.Add(1)
	}
	if p.active.Add(-1) == 0 && p.r.Len() == 0 {
		p.completion.Signal()
	}
	return ok
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	spin := 0
	a := p.workerArenas[id]
	for {
		if p.shutdown.Load() {
			return
		}
		if p.tryRun(a) {
			spin = 0
			p.spins[id].Store(0)
			continue
		}
		// saturate at the deep-wait threshold so the published counter
		// stays a meaningful bound while the worker sits idle
		if spin < 10*p.cfg.SpinThreshold {
			spin++
		}
		p.spins[id].Store(int64(spin))
		switch {
		case spin < p.cfg.SpinThreshold:
			// tight pause, phase 1
		case spin < 10*p.cfg.SpinThreshold:
			runtime.Gosched()
		default:
			if p.r.Len() == 0 && p.active.Load() == 0 {
				p.avail.Clear()
			}
			if p.avail.Wait(time.Millisecond) {
				spin = 0
				p.spins[id].Store(0)
			}
		}
	}
}

// WaitForCompletion is called by the main thread. It participates directly
// by executing ring items while they remain available, otherwise waits
// adaptively for the last worker to signal completion. It returns
// ErrWaitTimeout (not nil) if timeout elapses first; the pool remains
// usable either way.
func (p *Pool) WaitForCompletion(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	spin := 0
	for {
		if p.tryRun(p.mainArena) {
			spin = 0
			continue
		}
		if p.active.Load() == 0 && p.r.Len() == 0 {
			return nil
		}
		spin++
		switch {
		case spin < p.cfg.SpinThreshold:
		case spin < 10*p.cfg.SpinThreshold:
			runtime.Gosched()
		default:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrWaitTimeout
			}
			wait := time.Millisecond
			if remaining < wait {
				wait = remaining
			}
			if p.r.Len() == 0 && p.active.Load() == 0 {
				p.avail.Clear()
			}
			if p.completion.Wait(wait) {
				spin = 0
			}
		}
		if time.Now().After(deadline) {
			return ErrWaitTimeout
		}
	}
}

// Shutdown signals every worker to exit at its next poll boundary and joins
// them, bounded by timeout. Workers that fail to exit in time are leaked
// intentionally; the process is terminating.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.shutdown.Store(true)
	p.avail.Signal()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.log.Warn("shutdown timed out, workers leaked")
	}

	for _, a := range p.workerArenas {
		a.Deallocate()
	}
	p.mainArena.Deallocate()
}

// Diagnostics returns a lock-free snapshot of pool counters.
func (p *Pool) Diagnostics() Diagnostics {
	spins := make([]int64, len(p.spins))
	for i := range p.spins {
		spins[i] = p.spins[i].Load()
	}
	return Diagnostics{
		WorkerCount:    p.cfg.WorkerCount,
		ActiveWorkers:  p.active.Load(),
		ItemsAdded:     p.added.Load(),
		ItemsProcessed: p.processed.Load(),
		WorkerSpins:    spins,
	}
}
