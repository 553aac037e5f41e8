// Package engine implements the instance execution loop (C7): the state
// machine that advances a workflow Instance step by step, dispatching
// each step to the executor registered for its type, applying the
// operation authority matrix, and recording history. Grounded on
// `internal/engine/workflow_engine.go`'s ExecutionContext/processExecution
// loop and `internal/engine/scheduler.go`'s worker-pool/priority-queue
// shape, both rewritten from DAG-dependency scheduling to the spec's
// linear nextStepId/errorStepId routing model.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/executor/usertask"
	"github.com/orcheo-io/workflow-engine/internal/queue"
	"github.com/orcheo-io/workflow-engine/internal/repo"
	"github.com/orcheo-io/workflow-engine/internal/variables"
)

// Config holds engine-wide tunables (adapted from the teacher's engine
// Config, generalized from per-tenant limits to per-workflow ones since
// this engine has no multi-tenant rate-limiting concept).
type Config struct {
	MaxConcurrentInstances int
	DefaultStepTimeout     time.Duration
	DefaultMaxRetries      int
	DefaultRetryDelay      time.Duration
	HistoryRetention       time.Duration
}

// StepDispatcher is the subset of executor.Lifecycle the engine needs to
// run one step attempt; satisfied by *executor.Lifecycle.
type StepDispatcher interface {
	Attempt(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error)
	NextDelay(attempt int) time.Duration
	MaxAttempts() int
}

// Engine orchestrates instance execution.
type Engine struct {
	logger  *zap.Logger
	repo    repo.Repository
	vars    *variables.Store
	metrics *Metrics
	config  *Config

	dispatchers   map[string]StepDispatcher // keyed by Step.ExecutorKey
	dispatchersMu sync.RWMutex

	instanceSem *semaphore.Weighted

	retry *retryScheduler

	active   map[string]context.CancelFunc
	activeMu sync.RWMutex

	attempts   map[string]int // instanceID -> attempt count for CurrentStepID
	attemptsMu sync.Mutex

	events queue.EventPublisher // optional; nil if no publisher configured

	predicates *PredicateRegistry // optional; nil means no Step carries a PreconditionKey

	userTasks *usertask.Executor // optional; required only if a workflow has USER_TASK steps
}

// NewEngine builds an Engine, filling zero-valued Config fields with
// defaults, and creates its delayed-retry scheduler, which holds the
// Engine itself and resumes an instance when its retry comes due.
func NewEngine(logger *zap.Logger, r repo.Repository, vars *variables.Store, cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MaxConcurrentInstances <= 0 {
		cfg.MaxConcurrentInstances = 200
	}
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = 30 * time.Second
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = 3
	}
	if cfg.DefaultRetryDelay <= 0 {
		cfg.DefaultRetryDelay = time.Second
	}

	e := &Engine{
		logger:      logger.With(zap.String("component", "engine")),
		repo:        r,
		vars:        vars,
		metrics:     defaultMetrics(),
		config:      cfg,
		dispatchers: make(map[string]StepDispatcher),
		instanceSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentInstances)),
		active:      make(map[string]context.CancelFunc),
		attempts:    make(map[string]int),
	}
	e.retry = newRetryScheduler(e)
	return e
}

// SetEventPublisher attaches an optional lifecycle-event publisher; the
// engine still functions with none configured.
func (e *Engine) SetEventPublisher(p queue.EventPublisher) {
	e.events = p
}

// SetUserTasks attaches the executor that creates/resolves USER_TASK steps,
// letting the engine advance an instance past a completed task (Complete/
// Delegate/Reclaim are driven through the engine so the instance's WAITING
// resumption stays in one place rather than duplicated by every caller).
func (e *Engine) SetUserTasks(u *usertask.Executor) {
	e.userTasks = u
}

func (e *Engine) publish(ctx context.Context, routingKey string, evt queue.LifecycleEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, "workflow.events", routingKey, evt); err != nil {
		e.logger.Warn("failed to publish lifecycle event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

// RegisterExecutor wires a step executor's Lifecycle dispatcher under key
// (typically the executor's Key(), also usable directly as a Step's
// ExecutorKey).
func (e *Engine) RegisterExecutor(key string, d StepDispatcher) {
	e.dispatchersMu.Lock()
	defer e.dispatchersMu.Unlock()
	e.dispatchers[key] = d
}

func (e *Engine) dispatcherFor(key string) (StepDispatcher, error) {
	e.dispatchersMu.RLock()
	defer e.dispatchersMu.RUnlock()
	d, ok := e.dispatchers[key]
	if !ok {
		return nil, domain.NewError(domain.KindConfiguration, "no executor registered for key %q", key)
	}
	return d, nil
}

// Start boots the retry scheduler loop.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("starting engine", zap.Int("max_concurrent_instances", e.config.MaxConcurrentInstances))
	e.retry.start(ctx)
	return nil
}

// Stop cancels every in-flight instance goroutine and stops the retry
// scheduler, mirroring the teacher's Stop cancelling all ExecutionContexts.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("stopping engine")
	e.activeMu.Lock()
	for _, cancel := range e.active {
		cancel()
	}
	e.activeMu.Unlock()
	e.retry.stop()
	return nil
}

func (e *Engine) trackActive(instanceID string, cancel context.CancelFunc) {
	e.activeMu.Lock()
	e.active[instanceID] = cancel
	e.activeMu.Unlock()
}

func (e *Engine) untrackActive(instanceID string) {
	e.activeMu.Lock()
	delete(e.active, instanceID)
	e.activeMu.Unlock()
}

func (e *Engine) attemptCount(instanceID string) int {
	e.attemptsMu.Lock()
	defer e.attemptsMu.Unlock()
	return e.attempts[instanceID]
}

func (e *Engine) incAttempt(instanceID string) int {
	e.attemptsMu.Lock()
	defer e.attemptsMu.Unlock()
	e.attempts[instanceID]++
	return e.attempts[instanceID]
}

func (e *Engine) resetAttempts(instanceID string) {
	e.attemptsMu.Lock()
	defer e.attemptsMu.Unlock()
	delete(e.attempts, instanceID)
}

func (e *Engine) loadWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := e.repo.Definitions().Get(ctx, id)
	if err != nil {
		return nil, domain.Wrap(domain.KindResource, err, "load workflow %s", id)
	}
	if wf == nil {
		return nil, domain.NewError(domain.KindConfiguration, "workflow %s not found", id)
	}
	e.attachPreconditions(wf)
	return wf, nil
}

func stepExecutorKey(step *domain.Step) string {
	if step.ExecutorKey != "" {
		return step.ExecutorKey
	}
	switch step.Type {
	case domain.StepUserTask:
		return "usertask"
	case domain.StepParallelGateway, domain.StepMergeGateway:
		return "parallel"
	case domain.StepTimer:
		return "timer"
	default:
		return "task"
	}
}
