package schedule

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"goa.design/flow/runtime/bridge"
	"goa.design/flow/runtime/errs"
	"goa.design/flow/runtime/obj"
	"goa.design/flow/runtime/telemetry"
)

// EnvelopeType classifies a TaskProgressEnvelope.
type EnvelopeType int

const (
	// EnvelopeIntermediate carries a non-final progress value from a
	// streaming task.
	EnvelopeIntermediate EnvelopeType = iota
	// EnvelopeFinal carries a task's terminal output.
	EnvelopeFinal
	// EnvelopeError carries a task failure; Pool.Run continues scheduling
	// other tasks unless run with stopOnError.
	EnvelopeError
)

// TaskProgressEnvelope is one update in the stream a Pool emits while
// running tasks: an INTERMEDIATE or FINAL value, or an ERROR.
type TaskProgressEnvelope[K comparable, T any] struct {
	// EnvelopeID uniquely identifies this individual progress update
	// (distinct from TaskID, which repeats across a task's INTERMEDIATE/
	// FINAL/ERROR envelopes), for correlation in logs and traces.
	EnvelopeID string
	TaskID     K
	Type       EnvelopeType
	Value      T
	Err        error
}

// TaskRunner produces the source of a task's output. One-shot tasks return a
// source whose very first Next call yields obj.FinishedWith(result); streaming
// tasks yield zero or more obj.Yield intermediates before a terminal
// obj.FinishedWith(final) (or plain obj.Finished if there is no distinct
// final value beyond the last intermediate).
type TaskRunner[T any] func(ctx context.Context) (obj.Source[T], error)

// TaskSpec binds a task's resource cost to the runner that produces its
// output, plus the hooks the host uses to react to its outcome.
type TaskSpec[K comparable, T any] struct {
	Key  K
	Cost Cost
	Run  TaskRunner[T]

	// OnComplete is called after a successful run, once the task's key has
	// already been marked completed in the dependency graph. Optional;
	// purely a notification hook, since success has only one outcome.
	OnComplete func(key K)

	// OnError is called after a failed run, in place of the pool
	// automatically deciding the task's fate: it is the host's
	// responsibility to call back into its own PriorityDependencySource
	// (or the underlying DependencyGraph) to either re-enter the task into
	// the ready pool via Fail (retry) or give up on it and its dependents
	// via Abort (terminate). If nil, the pool falls back to Fail, retrying
	// the task indefinitely — callers that want a bounded retry count or
	// an abort-after-N-failures policy must supply OnError.
	OnError func(key K, err error)
}

// Option configures optional Pool behavior (telemetry, idle-retry pacing),
// following the same accumulate-then-apply functional-options style as
// engine.ActivityOptions.
type Option[K comparable, T any] func(*Pool[K, T])

// WithLogger attaches a logger used for scheduling-cycle diagnostics.
// Defaults to telemetry.NewNoopLogger().
func WithLogger[K comparable, T any](l telemetry.Logger) Option[K, T] {
	return func(p *Pool[K, T]) { p.logger = l }
}

// WithMetrics attaches a metrics recorder for task completion/error/duration
// counters. Defaults to telemetry.NewNoopMetrics().
func WithMetrics[K comparable, T any](m telemetry.Metrics) Option[K, T] {
	return func(p *Pool[K, T]) { p.metrics = m }
}

// WithTracer attaches a tracer; each task run gets its own span. Defaults to
// telemetry.NewNoopTracer().
func WithTracer[K comparable, T any](t telemetry.Tracer) Option[K, T] {
	return func(p *Pool[K, T]) { p.tracer = t }
}

// WithIdleRetryLimit bounds the rate at which the scheduling loop may retry
// after losing an acquire race or observing an empty peek, as a defensive
// floor under the wait-based loop — it does not affect behavior as long as
// wait signals fire correctly, only caps the cost of a pathological spin.
func WithIdleRetryLimit[K comparable, T any](r rate.Limit, burst int) Option[K, T] {
	return func(p *Pool[K, T]) { p.limiter = rate.NewLimiter(r, burst) }
}

// Pool drives the peek-check-acquire-run-release scheduling loop over a
// priority dependency source and a resource capacity source, running tasks
// concurrently up to the capacity bound and streaming their progress.
type Pool[K comparable, T any] struct {
	source   *PriorityDependencySource[K]
	capacity *ResourceCapacitySource
	tasks    map[K]TaskSpec[K, T]

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
	limiter *rate.Limiter

	mu         sync.Mutex
	cancels    map[K]context.CancelFunc
	wg         sync.WaitGroup
	loopCancel context.CancelFunc
	stopOnce   sync.Once
}

// NewPool constructs a pool over source and capacity, with tasks keyed by
// their dependency-graph key. By default it logs/traces/measures nothing and
// bounds idle retries to 200Hz; pass Option values to override.
func NewPool[K comparable, T any](source *PriorityDependencySource[K], capacity *ResourceCapacitySource, tasks map[K]TaskSpec[K, T], opts ...Option[K, T]) *Pool[K, T] {
	p := &Pool[K, T]{
		source:  source,
		capacity: capacity,
		tasks:   tasks,
		cancels: make(map[K]context.CancelFunc),
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		limiter: rate.NewLimiter(rate.Limit(200), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the scheduling loop and returns an obj.Source streaming
// TaskProgressEnvelopes as tasks run. With stopOnError, the first task
// failure is rethrown to the caller of Next (terminating iteration); without
// it, failures are emitted as EnvelopeError and scheduling continues.
//
// Closing the returned source (Return or Throw) cooperatively cancels every
// in-flight task, releases their resources, and stops the loop.
func (p *Pool[K, T]) Run(ctx context.Context, stopOnError bool) obj.Source[TaskProgressEnvelope[K, T]] {
	sink, src := bridge.PushToPull[TaskProgressEnvelope[K, T]]()
	loopCtx, cancelLoop := context.WithCancel(ctx)
	p.loopCancel = cancelLoop
	go p.loop(loopCtx, sink, stopOnError)
	return &poolEnvelopeSource[K, T]{BufferSource: src, pool: p}
}

// stopScheduling idempotently cancels the scheduling loop's context so it
// stops peeking/acquiring/starting new tasks. Already-running tasks are
// left to finish on their own, since a stopOnError break only guarantees no
// further tasks are started, not that in-flight ones are torn down.
func (p *Pool[K, T]) stopScheduling() {
	p.stopOnce.Do(func() {
		if p.loopCancel != nil {
			p.loopCancel()
		}
	})
}

func (p *Pool[K, T]) loop(ctx context.Context, sink *bridge.BufferSink[TaskProgressEnvelope[K, T]], stopOnError bool) {
	var zero TaskProgressEnvelope[K, T]
	p.logger.Info(ctx, "schedule: pool loop starting")
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		key, ok := p.source.Peek()
		if !ok {
			if p.source.IsDone() && p.inFlightCount() == 0 {
				p.logger.Info(ctx, "schedule: pool loop done, no tasks remain")
				sink.Return(ctx, zero)
				return
			}
			if !p.waitForReadyOrRelease(ctx) {
				return
			}
			continue
		}
		spec := p.tasks[key]
		if !p.capacity.CanAcquire(spec.Cost) {
			p.logger.Debug(ctx, "schedule: capacity insufficient, waiting for release", "task", key)
			if err := p.capacity.WaitForRelease(ctx); err != nil {
				return
			}
			continue
		}
		if err := p.capacity.AcquireImmediate(spec.Cost); err != nil {
			// Lost a race with another acquirer; retry the cycle.
			continue
		}
		p.source.Consume(key)
		if err := p.source.graph.Start(key); err != nil {
			// The node is no longer ready in the graph; give the resources back.
			p.capacity.Release(spec.Cost)
			continue
		}
		p.metrics.IncCounter("schedule.task_started", 1)
		p.wg.Add(1)
		go p.runTask(ctx, sink, spec, stopOnError)
	}
}

// waitForReadyOrRelease blocks until either the priority source reports a
// newly-ready task or the capacity source reports a release, whichever
// comes first. Returns false if ctx ended first.
func (p *Pool[K, T]) waitForReadyOrRelease(ctx context.Context) bool {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	woke := make(chan struct{}, 2)
	go func() {
		if err := p.source.WaitForReady(waitCtx); err == nil {
			woke <- struct{}{}
		}
	}()
	go func() {
		if err := p.capacity.WaitForRelease(waitCtx); err == nil {
			woke <- struct{}{}
		}
	}()
	select {
	case <-woke:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool[K, T]) runTask(ctx context.Context, sink *bridge.BufferSink[TaskProgressEnvelope[K, T]], spec TaskSpec[K, T], stopOnError bool) {
	defer p.wg.Done()
	taskCtx, cancel := context.WithCancel(ctx)
	p.registerCancel(spec.Key, cancel)
	defer func() {
		p.unregisterCancel(spec.Key)
		cancel()
	}()

	spanCtx, span := p.tracer.Start(taskCtx, "schedule.task_run")
	defer span.End()

	runSrc, err := spec.Run(spanCtx)
	if err != nil {
		span.RecordError(err)
		p.unregisterCancel(spec.Key)
		p.handleTaskError(ctx, sink, spec, err, stopOnError)
		return
	}
	for {
		res, err := runSrc.Next(spanCtx)
		if err != nil {
			span.RecordError(err)
			p.unregisterCancel(spec.Key)
			p.handleTaskError(ctx, sink, spec, err, stopOnError)
			return
		}
		if res.Done {
			sink.Next(ctx, TaskProgressEnvelope[K, T]{EnvelopeID: uuid.NewString(), TaskID: spec.Key, Type: EnvelopeFinal, Value: res.Value})
			p.unregisterCancel(spec.Key)
			_ = p.source.Complete(spec.Key)
			if spec.OnComplete != nil {
				spec.OnComplete(spec.Key)
			}
			p.capacity.Release(spec.Cost)
			p.metrics.IncCounter("schedule.task_completed", 1)
			return
		}
		if _, err := sink.Next(ctx, TaskProgressEnvelope[K, T]{EnvelopeID: uuid.NewString(), TaskID: spec.Key, Type: EnvelopeIntermediate, Value: res.Value}); err != nil {
			return
		}
	}
}

// handleTaskError reports a task failure and leaves the retry-vs-terminate
// decision to the task's OnError hook: the hook has
// access to the same dependency source passed to NewPool and can call its
// Fail (retry) or Abort (give up on the task and its dependents). Only when
// no hook is supplied does the pool fall back to always retrying via Fail.
func (p *Pool[K, T]) handleTaskError(ctx context.Context, sink *bridge.BufferSink[TaskProgressEnvelope[K, T]], spec TaskSpec[K, T], taskErr error, stopOnError bool) {
	wrapped := errs.Task(taskErr)
	if stopOnError {
		sink.Throw(ctx, wrapped)
		p.stopScheduling()
	} else {
		sink.Next(ctx, TaskProgressEnvelope[K, T]{EnvelopeID: uuid.NewString(), TaskID: spec.Key, Type: EnvelopeError, Err: wrapped})
	}
	if spec.OnError != nil {
		spec.OnError(spec.Key, wrapped)
	} else {
		_ = p.source.Fail(spec.Key)
	}
	p.capacity.Release(spec.Cost)
	p.metrics.IncCounter("schedule.task_failed", 1)
}

func (p *Pool[K, T]) registerCancel(key K, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[key] = cancel
	p.mu.Unlock()
}

func (p *Pool[K, T]) unregisterCancel(key K) {
	p.mu.Lock()
	delete(p.cancels, key)
	p.mu.Unlock()
}

func (p *Pool[K, T]) inFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

// cancelInFlight cooperatively cancels every currently-running task by
// cancelling its context; well-behaved TaskRunners observe ctx.Done() and
// stop.
func (p *Pool[K, T]) cancelInFlight() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.cancels))
	for _, c := range p.cancels {
		cancels = append(cancels, c)
	}
	p.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// poolEnvelopeSource adapts a bridge.BufferSource so that closing it (the
// consumer ending its `for` loop) also tears down the owning pool's
// scheduling loop and in-flight tasks, per the cancellation contract.
type poolEnvelopeSource[K comparable, T any] struct {
	*bridge.BufferSource[TaskProgressEnvelope[K, T]]
	pool      *Pool[K, T]
	closeOnce sync.Once
}

func (s *poolEnvelopeSource[K, T]) teardown() {
	s.closeOnce.Do(func() {
		s.pool.cancelInFlight()
		s.pool.stopScheduling()
	})
}

// Return closes the envelope stream, cancelling in-flight tasks and the
// scheduling loop.
func (s *poolEnvelopeSource[K, T]) Return(ctx context.Context) (obj.IteratorResult[TaskProgressEnvelope[K, T]], error) {
	s.teardown()
	return s.BufferSource.Return(ctx)
}

// Throw closes the envelope stream with an error, cancelling in-flight tasks
// and the scheduling loop.
func (s *poolEnvelopeSource[K, T]) Throw(ctx context.Context, err error) (obj.IteratorResult[TaskProgressEnvelope[K, T]], error) {
	s.teardown()
	return s.BufferSource.Throw(ctx, err)
}
