package extraction

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/store"
)

// scopeState is the per-scope extraction job state machine:
// idle -> scheduled -> running -> idle. A trigger that arrives while a
// scope is already scheduled or running coalesces into a no-op; the
// next trigger after completion re-windows.
type scopeState int

const (
	stateIdle scopeState = iota
	stateScheduled
	stateRunning
)

// WorkerOptions configures the background extraction pool, in the
// same functional-options shape as a bounded job-processing client:
// Concurrency workers pull off an in-process channel, no pluggable
// queue backend, because extraction jobs are fire-and-forget and
// never retried.
type WorkerOptions struct {
	Concurrency     int
	QueueSize       int
	ShutdownTimeout time.Duration
}

func defaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:     4,
		QueueSize:       1024,
		ShutdownTimeout: 10 * time.Second,
	}
}

// WorkerOption is a functional option for configuring the Pool.
type WorkerOption func(*WorkerOptions)

// WithConcurrency sets the number of extraction worker goroutines.
func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithQueueSize sets the capacity of the in-process job channel.
func WithQueueSize(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight jobs.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// job is one scheduled extraction: the scope and the message window
// observed at the instant of scheduling. Concurrent new turns append
// to the live buffer after scheduling but never retroactively alter
// window.
type job struct {
	scope  core.Scope
	window []core.Message
}

// Pool is the bounded background worker pool that runs the Extraction
// Engine without ever blocking the turn that scheduled it.
type Pool struct {
	opts   WorkerOptions
	engine *Engine
	store  store.Store

	jobs chan job

	mu     sync.Mutex
	states map[string]scopeState

	wg sync.WaitGroup
}

// NewPool builds a Pool that runs engine over window jobs and persists
// surviving fragments to st.
func NewPool(engine *Engine, st store.Store, opts ...WorkerOption) *Pool {
	o := defaultWorkerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool{
		opts:   o,
		engine: engine,
		store:  st,
		jobs:   make(chan job, o.QueueSize),
		states: make(map[string]scopeState),
	}
}

// Start launches the worker goroutines. It returns immediately; the
// pool runs until ctx is cancelled, at which point Stop should be
// called to drain in-flight jobs within ShutdownTimeout.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
}

// Stop waits for in-flight jobs to finish, up to ShutdownTimeout, then
// returns regardless.
func (p *Pool) Stop() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.opts.ShutdownTimeout):
		log.Printf("[EXTRACTION] shutdown timed out, some jobs may not have completed")
	}
}

// Schedule triggers extraction for scope over window. It never blocks
// the caller: if scope already has a job scheduled or running, this
// trigger coalesces into a no-op per the state machine above.
func (p *Pool) Schedule(scope core.Scope, window []core.Message) {
	key := scope.Key()

	p.mu.Lock()
	if p.states[key] == stateScheduled || p.states[key] == stateRunning {
		p.mu.Unlock()
		return
	}
	p.states[key] = stateScheduled
	p.mu.Unlock()

	select {
	case p.jobs <- job{scope: scope, window: window}:
	default:
		// Queue saturated: revert to idle so a later trigger can try
		// again rather than silently wedging this scope forever.
		log.Printf("[EXTRACTION] queue full, dropping trigger for scope=%s", key)
		p.mu.Lock()
		p.states[key] = stateIdle
		p.mu.Unlock()
	}
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			p.runJob(ctx, j)
		}
	}
}

func (p *Pool) runJob(ctx context.Context, j job) {
	key := j.scope.Key()

	p.mu.Lock()
	p.states[key] = stateRunning
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.states[key] = stateIdle
		p.mu.Unlock()
	}()

	fragments, err := p.engine.Extract(ctx, j.scope, j.window)
	if err != nil {
		// Extract itself never returns an error for LLM/parse failure
		// (those are swallowed and logged inside Extract); an error
		// here would be a programmer error in the engine, not a normal
		// runtime condition.
		log.Printf("[EXTRACTION] engine error for scope=%s: %v", key, err)
		return
	}

	for _, f := range fragments {
		if err := p.store.Insert(ctx, f); err != nil {
			log.Printf("[EXTRACTION] insert failed for scope=%s: %v", key, err)
		}
	}
}
