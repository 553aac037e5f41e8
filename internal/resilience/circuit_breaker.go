package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// BreakerState is the current state of a per-executor circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures one executor's circuit breaker. Callers key a
// breaker by executor/task type (internal/executor.Executor.Key()), not by
// a transport endpoint, so the defaults below are tuned for step attempts
// rather than RPC calls: a handful of consecutive failures is enough
// signal to stop dispatching a broken task type.
type BreakerConfig struct {
	Name          string
	MaxRequests   uint32        // calls allowed while probing in half-open
	Interval      time.Duration // closed-state statistics window
	Timeout       time.Duration // open-state duration before probing again
	ReadyToTrip   ReadyToTripFunc
	OnStateChange OnStateChangeFunc
	IsSuccessful  IsSuccessfulFunc
	ShouldTrip    ShouldTripFunc

	MaxConcurrentAttempts int32
	SlowCallThreshold     time.Duration
	MinimumThroughput     uint32
}

// ReadyToTripFunc decides whether accumulated Counts should open the breaker.
type ReadyToTripFunc func(counts Counts) bool

// OnStateChangeFunc is invoked whenever a breaker transitions state.
type OnStateChangeFunc func(executorKey string, from, to BreakerState)

// IsSuccessfulFunc classifies an attempt's error as success/failure for the
// breaker's bookkeeping; it does not decide step retry eligibility — that
// stays the executor's CanRetry.
type IsSuccessfulFunc func(err error) bool

// ShouldTripFunc overrides ReadyToTrip with access to derived metrics
// (failure rate, slow-call rate) rather than raw counts.
type ShouldTripFunc func(metrics BreakerMetrics) bool

// Counts accumulates attempt outcomes for the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	SlowCalls            uint32
}

// BreakerMetrics is a point-in-time snapshot exported to /metrics and to
// ShouldTripFunc implementations.
type BreakerMetrics struct {
	ExecutorKey        string
	State              BreakerState
	Counts             Counts
	FailureRate        float64
	SlowCallRate       float64
	AverageAttemptTime time.Duration
	LastFailureTime    time.Time
	LastSuccessTime    time.Time
}

// Breaker guards one executor/task type's attempts: it trips open after
// enough consecutive (or rate-based) failures, then admits a bounded
// number of probe attempts in half-open before deciding whether to close
// or re-open. Grounded on the gRPC-node breaker this engine's teacher
// repo used per remote node type; here the key is an executor's Key()
// (e.g. "task", "usertask", "http") instead of a node address.
type Breaker struct {
	executorKey           string
	maxRequests           uint32
	interval              time.Duration
	timeout               time.Duration
	readyToTrip           ReadyToTripFunc
	onStateChange         OnStateChangeFunc
	isSuccessful          IsSuccessfulFunc
	shouldTrip            ShouldTripFunc
	maxConcurrentAttempts int32
	slowCallThreshold     time.Duration
	minimumThroughput     uint32

	mu         sync.Mutex
	state      BreakerState
	generation uint64
	counts     Counts
	expiry     time.Time

	inFlight int32

	lastFailure    time.Time
	lastSuccess    time.Time
	attemptTimeSum int64
	attemptCount   int64

	logger *zap.Logger
}

// NewBreaker constructs a Breaker for one executor key, filling in
// sensible step-attempt defaults for anything the caller left zero.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.MaxRequests == 0 {
		// A zero MaxRequests would make the half-open check (Requests >=
		// MaxRequests) reject the very first probe attempt, so the breaker
		// could never recover from StateOpen on its own.
		cfg.MaxRequests = 1
	}

	b := &Breaker{
		executorKey:           cfg.Name,
		maxRequests:           cfg.MaxRequests,
		interval:              cfg.Interval,
		timeout:               cfg.Timeout,
		readyToTrip:           cfg.ReadyToTrip,
		onStateChange:         cfg.OnStateChange,
		isSuccessful:          cfg.IsSuccessful,
		shouldTrip:            cfg.ShouldTrip,
		maxConcurrentAttempts: cfg.MaxConcurrentAttempts,
		slowCallThreshold:     cfg.SlowCallThreshold,
		minimumThroughput:     cfg.MinimumThroughput,
		state:                 StateClosed,
		logger:                logger.With(zap.String("component", "circuit_breaker"), zap.String("executor", cfg.Name)),
	}

	if b.readyToTrip == nil {
		b.readyToTrip = defaultReadyToTrip
	}
	if b.isSuccessful == nil {
		b.isSuccessful = defaultIsSuccessful
	}

	b.logger.Debug("breaker registered",
		zap.String("state", b.state.String()),
		zap.Uint32("max_requests", b.maxRequests),
		zap.Duration("interval", b.interval),
		zap.Duration("timeout", b.timeout),
	)

	return b
}

// ExecuteWithContext runs fn if the breaker currently admits attempts for
// this executor key, tracking its outcome and timing against the
// breaker's state machine.
func (b *Breaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	generation, err := b.beforeAttempt()
	if err != nil {
		return nil, err
	}

	current := atomic.AddInt32(&b.inFlight, 1)
	defer atomic.AddInt32(&b.inFlight, -1)

	if b.maxConcurrentAttempts > 0 && current > b.maxConcurrentAttempts {
		b.logger.Warn("concurrent attempt limit exceeded",
			zap.Int32("in_flight", current),
			zap.Int32("limit", b.maxConcurrentAttempts),
		)
		return nil, domain.NewError(domain.KindResource, "executor %q: concurrent attempt limit exceeded", b.executorKey)
	}

	start := time.Now()
	result, callErr := fn(ctx)
	elapsed := time.Since(start)

	b.afterAttempt(generation, callErr, elapsed)

	return result, callErr
}

// beforeAttempt checks whether the current state admits another attempt.
func (b *Breaker) beforeAttempt() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	switch state {
	case StateClosed:
		return generation, nil
	case StateOpen:
		return generation, domain.NewError(domain.KindResource, "executor %q: circuit breaker open", b.executorKey)
	default: // StateHalfOpen
		if b.counts.Requests >= b.maxRequests {
			return generation, domain.NewError(domain.KindResource, "executor %q: circuit breaker half-open probe limit reached", b.executorKey)
		}
		return generation, nil
	}
}

// afterAttempt records the outcome of one attempt and re-evaluates state.
func (b *Breaker) afterAttempt(before uint64, err error, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)
	if generation != before {
		// The breaker moved generations (reset or state change) mid-attempt;
		// this result belongs to a stale window and must not skew it.
		return
	}

	atomic.AddInt64(&b.attemptTimeSum, int64(elapsed))
	atomic.AddInt64(&b.attemptCount, 1)

	success := b.isSuccessful(err)
	slow := b.slowCallThreshold > 0 && elapsed >= b.slowCallThreshold

	b.counts.Requests++
	if success {
		b.onSuccess()
		b.lastSuccess = now
	} else {
		b.onFailure()
		b.lastFailure = now
	}
	if slow {
		b.counts.SlowCalls++
	}

	b.evaluateTransition(state, now)
}

func (b *Breaker) onSuccess() {
	b.counts.TotalSuccesses++
	b.counts.ConsecutiveSuccesses++
	b.counts.ConsecutiveFailures = 0
}

func (b *Breaker) onFailure() {
	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
}

// currentState advances the generation/expiry clock as a side effect of
// reading the state, matching the teacher's lazy-expiry approach: no
// background goroutine ticks the breaker, every call pays for its own
// expiry check.
func (b *Breaker) currentState(now time.Time) (BreakerState, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.toNewGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transitionTo(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) evaluateTransition(state BreakerState, now time.Time) {
	switch state {
	case StateClosed:
		if b.shouldOpen() {
			b.transitionTo(StateOpen, now)
		}
	case StateHalfOpen:
		switch {
		case b.counts.ConsecutiveFailures > 0:
			b.transitionTo(StateOpen, now)
		case b.counts.ConsecutiveSuccesses >= b.maxRequests:
			b.transitionTo(StateClosed, now)
		}
	}
}

func (b *Breaker) shouldOpen() bool {
	if b.counts.Requests < b.minimumThroughput {
		return false
	}
	if b.shouldTrip != nil {
		return b.shouldTrip(b.snapshotLocked())
	}
	return b.readyToTrip(b.counts)
}

func (b *Breaker) transitionTo(state BreakerState, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.toNewGeneration(now)

	if state == StateOpen {
		b.expiry = now.Add(b.timeout)
	} else {
		b.expiry = time.Time{}
	}

	if b.onStateChange != nil {
		b.onStateChange(b.executorKey, prev, state)
	}

	b.logger.Info("breaker state transition",
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
		zap.Uint32("requests", b.counts.Requests),
		zap.Uint32("failures", b.counts.TotalFailures),
		zap.Float64("failure_rate", b.failureRateLocked()),
	)
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}
	if b.interval > 0 {
		b.expiry = now.Add(b.interval)
	}
	atomic.StoreInt64(&b.attemptTimeSum, 0)
	atomic.StoreInt64(&b.attemptCount, 0)
}

// Metrics returns a snapshot of this breaker's current state and counts.
func (b *Breaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, _ = b.currentState(time.Now())
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() BreakerMetrics {
	return BreakerMetrics{
		ExecutorKey:        b.executorKey,
		State:              b.state,
		Counts:             b.counts,
		FailureRate:        b.failureRateLocked(),
		SlowCallRate:       b.slowCallRateLocked(),
		AverageAttemptTime: b.averageAttemptTime(),
		LastFailureTime:    b.lastFailure,
		LastSuccessTime:    b.lastSuccess,
	}
}

// State returns the breaker's current state, advancing its expiry clock.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Key returns the executor/task-type key this breaker guards.
func (b *Breaker) Key() string { return b.executorKey }

// Reset forces the breaker back to StateClosed, discarding accumulated
// counts. Used by operator-facing recovery actions, not by normal attempt
// flow.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toNewGeneration(time.Now())
	b.transitionTo(StateClosed, time.Now())
	b.logger.Info("breaker manually reset")
}

func (b *Breaker) failureRateLocked() float64 {
	if b.counts.Requests == 0 {
		return 0
	}
	return float64(b.counts.TotalFailures) / float64(b.counts.Requests)
}

func (b *Breaker) slowCallRateLocked() float64 {
	if b.counts.Requests == 0 {
		return 0
	}
	return float64(b.counts.SlowCalls) / float64(b.counts.Requests)
}

func (b *Breaker) averageAttemptTime() time.Duration {
	count := atomic.LoadInt64(&b.attemptCount)
	if count == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&b.attemptTimeSum) / count)
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.ConsecutiveFailures > 5
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}

// CircuitBreakerManager keys one Breaker per executor/task type so every
// step dispatched through internal/executor.Lifecycle shares a breaker
// with every other attempt of the same type, instead of each Lifecycle
// instance tracking its own isolated failure window.
type CircuitBreakerManager struct {
	breakers map[string]*Breaker
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewCircuitBreakerManager creates an empty manager; breakers are created
// lazily on first use via GetOrCreate.
func NewCircuitBreakerManager(logger *zap.Logger) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*Breaker),
		logger:   logger.With(zap.String("component", "circuit_breaker_manager")),
	}
}

// GetOrCreate returns the breaker for executorKey, creating it from cfg on
// first use. Subsequent calls with a different cfg for the same key are
// ignored — the first caller's configuration wins.
func (m *CircuitBreakerManager) GetOrCreate(executorKey string, cfg BreakerConfig) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[executorKey]; ok {
		return b
	}

	cfg.Name = executorKey
	b := NewBreaker(cfg, m.logger)
	m.breakers[executorKey] = b
	return b
}

// Get returns the breaker registered for executorKey, if any.
func (m *CircuitBreakerManager) Get(executorKey string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[executorKey]
	return b, ok
}

// AllMetrics snapshots every registered breaker, keyed by executor type —
// the shape /metrics and admin tooling read to report circuit health per
// task type.
func (m *CircuitBreakerManager) AllMetrics() map[string]BreakerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]BreakerMetrics, len(m.breakers))
	for key, b := range m.breakers {
		out[key] = b.Metrics()
	}
	return out
}

// Remove drops the breaker for executorKey, e.g. when an executor type is
// unregistered at runtime.
func (m *CircuitBreakerManager) Remove(executorKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, executorKey)
	m.logger.Info("breaker removed", zap.String("executor", executorKey))
}
