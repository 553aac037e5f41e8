// Package executor defines the step executor framework (C3): the
// Executor contract every step-type handler implements, and the
// lifecycle runner that wraps a handler with the fixed per-attempt phases
// (circuit breaking, timeout enforcement, retry classification, stats)
// common to every executor. Precondition checks and history recording
// happen in the engine's run loop, not here.
package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/resilience"
)

// Executor is the contract a step-type handler implements (spec §4.1).
// The engine never executes step logic directly; it always dispatches
// through a Lifecycle wrapping an Executor for the step's Type/ExecutorKey.
type Executor interface {
	// Key identifies the executor (matches Step.ExecutorKey), e.g. "task.http".
	Key() string

	// Supports reports whether this executor handles the given step type.
	Supports(stepType domain.StepType) bool

	// ValidateConfig checks a step's Config. Neither the engine nor
	// Lifecycle calls it.
	ValidateConfig(cfg map[string]domain.Value) error

	// Execute runs the step. It must respect ctx cancellation/deadline.
	Execute(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error)

	// CanRetry reports whether err is retryable for this executor beyond
	// the default WorkflowError.Retryable classification.
	CanRetry(err error, attempt int) bool

	// RetryDelay computes the backoff before the next attempt.
	RetryDelay(attempt int, base time.Duration) time.Duration

	// HandleTimeout is invoked when Execute's context deadline is exceeded;
	// it lets an executor attempt cleanup (e.g. cancel a remote job).
	HandleTimeout(ctx context.Context, execCtx *domain.StepExecutionContext) error

	// EstimateTime gives the engine a scheduling hint; zero means unknown.
	EstimateTime(cfg map[string]domain.Value) time.Duration
}

// Stats accumulates per-executor counters, read via Snapshot for metrics
// export (spec's ambient observability stack, grounded on the teacher's
// ExecutorMetrics).
type Stats struct {
	mu         sync.RWMutex
	executed   int64
	succeeded  int64
	failed     int64
	retried    int64
	timedOut   int64
	totalTime  time.Duration
}

// StatsSnapshot is a read-only copy of Stats.
type StatsSnapshot struct {
	Executed  int64
	Succeeded int64
	Failed    int64
	Retried   int64
	TimedOut  int64
	AvgTime   time.Duration
}

func (s *Stats) recordAttempt(d time.Duration, status domain.ResultStatus, timedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed++
	s.totalTime += d
	switch {
	case timedOut:
		s.timedOut++
	case status == domain.ResultSuccess:
		s.succeeded++
	default:
		s.failed++
	}
}

func (s *Stats) recordRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried++
}

// Snapshot returns a consistent copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	avg := time.Duration(0)
	if s.executed > 0 {
		avg = s.totalTime / time.Duration(s.executed)
	}
	return StatsSnapshot{
		Executed:  s.executed,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Retried:   s.retried,
		TimedOut:  s.timedOut,
		AvgTime:   avg,
	}
}

// Lifecycle composes an Executor with the fixed phase sequence the engine
// applies to every step attempt: circuit breaker, timeout context,
// invoke, retry classification, stats. Grounded on the
// teacher's Executor.executeStepWithRetry/executeStepAttempt sequence,
// generalized from a gRPC step-exec request to domain.StepExecutionContext
// and de-duplicated from per-node-type circuit breakers into one keyed
// manager shared across all executors.
type Lifecycle struct {
	handler  Executor
	logger   *zap.Logger
	breakers *resilience.CircuitBreakerManager
	stats    *Stats

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	timeout     time.Duration
}

// LifecycleConfig configures a Lifecycle's retry/timeout policy; values
// of zero fall back to the package defaults.
type LifecycleConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// NewLifecycle wraps handler with the standard pre/post phases.
func NewLifecycle(handler Executor, logger *zap.Logger, breakers *resilience.CircuitBreakerManager, cfg LifecycleConfig) *Lifecycle {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Lifecycle{
		handler:     handler,
		logger:      logger.With(zap.String("executor", handler.Key())),
		breakers:    breakers,
		stats:       &Stats{},
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		timeout:     cfg.Timeout,
	}
}

// Stats exposes the accumulated counters for metrics export.
func (l *Lifecycle) Stats() StatsSnapshot { return l.stats.Snapshot() }

// Attempt runs exactly one execution attempt of the wrapped handler under
// circuit breaking and a bounded timeout. It does not loop retries itself —
// the engine's retry scheduler (delay heap) owns re-dispatch timing so a
// WAITING/RETRY result never blocks a goroutine on time.Sleep.
func (l *Lifecycle) Attempt(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
	breaker := l.breakers.GetOrCreate(l.handler.Key(), resilience.BreakerConfig{
		Name:     l.handler.Key(),
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
	})

	timeout := l.timeout
	if execCtx.TimeoutMs > 0 {
		timeout = time.Duration(execCtx.TimeoutMs) * time.Millisecond
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := breaker.ExecuteWithContext(attemptCtx, func(c context.Context) (interface{}, error) {
		return l.handler.Execute(c, execCtx, cfg)
	})
	elapsed := time.Since(start)

	if attemptCtx.Err() == context.DeadlineExceeded {
		_ = l.handler.HandleTimeout(ctx, execCtx)
		l.stats.recordAttempt(elapsed, domain.ResultTimeout, true)
		return &domain.StepExecutionResult{
			Status:    domain.ResultTimeout,
			NeedRetry: l.handler.CanRetry(context.DeadlineExceeded, execCtx.RetryCount),
			Message:   "step execution timed out",
		}, domain.NewError(domain.KindTimeout, "step %s timed out after %s", execCtx.StepID, timeout)
	}

	if err != nil {
		l.stats.recordAttempt(elapsed, domain.ResultFailed, false)
		if execCtx.RetryCount < l.maxAttempts-1 && l.handler.CanRetry(err, execCtx.RetryCount) {
			l.stats.recordRetry()
		}
		return &domain.StepExecutionResult{Status: domain.ResultFailed, Error: err}, err
	}

	result, ok := raw.(*domain.StepExecutionResult)
	if !ok || result == nil {
		result = &domain.StepExecutionResult{Status: domain.ResultSuccess}
	}
	l.stats.recordAttempt(elapsed, result.Status, false)
	return result, nil
}

// NextDelay returns how long to wait before retrying attempt (0-indexed),
// delegating to the handler's backoff policy bounded by maxDelay.
func (l *Lifecycle) NextDelay(attempt int) time.Duration {
	d := l.handler.RetryDelay(attempt, l.baseDelay)
	if d > l.maxDelay {
		return l.maxDelay
	}
	return d
}

// MaxAttempts returns the configured attempt ceiling (including the first try).
func (l *Lifecycle) MaxAttempts() int { return l.maxAttempts }
