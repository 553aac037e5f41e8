package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/resilience"
)

// fakeHandler is a scriptable Executor, following the fakeCache pattern in
// internal/executor/timer/timer_test.go.
type fakeHandler struct {
	key string

	execute        func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error)
	canRetry       bool
	retryDelay     time.Duration
	handledTimeout bool
}

func (h *fakeHandler) Key() string                                  { return h.key }
func (h *fakeHandler) Supports(domain.StepType) bool                { return true }
func (h *fakeHandler) ValidateConfig(map[string]domain.Value) error { return nil }
func (h *fakeHandler) Execute(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
	return h.execute(ctx, execCtx, cfg)
}
func (h *fakeHandler) CanRetry(err error, attempt int) bool { return h.canRetry }
func (h *fakeHandler) RetryDelay(attempt int, base time.Duration) time.Duration {
	if h.retryDelay > 0 {
		return h.retryDelay
	}
	return base
}
func (h *fakeHandler) HandleTimeout(ctx context.Context, execCtx *domain.StepExecutionContext) error {
	h.handledTimeout = true
	return nil
}
func (h *fakeHandler) EstimateTime(map[string]domain.Value) time.Duration { return 0 }

func newLifecycle(h *fakeHandler, cfg LifecycleConfig) *Lifecycle {
	return NewLifecycle(h, zap.NewNop(), resilience.NewCircuitBreakerManager(zap.NewNop()), cfg)
}

func TestLifecycle_AttemptSuccess(t *testing.T) {
	h := &fakeHandler{key: "task", execute: func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
		return &domain.StepExecutionResult{Status: domain.ResultSuccess, OutputData: map[string]domain.Value{"ok": domain.NewBool(true)}}, nil
	}}
	l := newLifecycle(h, LifecycleConfig{})

	result, err := l.Attempt(context.Background(), &domain.StepExecutionContext{StepID: "s1"}, nil)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if result.Status != domain.ResultSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	stats := l.Stats()
	if stats.Executed != 1 || stats.Succeeded != 1 {
		t.Fatalf("expected stats to record one successful attempt, got %+v", stats)
	}
}

func TestLifecycle_AttemptFailurePropagatesError(t *testing.T) {
	wantErr := errors.New("handler exploded")
	h := &fakeHandler{key: "task", execute: func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
		return nil, wantErr
	}}
	l := newLifecycle(h, LifecycleConfig{MaxAttempts: 3})

	result, err := l.Attempt(context.Background(), &domain.StepExecutionContext{StepID: "s1"}, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the handler's error to propagate unwrapped, got %v", err)
	}
	if result.Status != domain.ResultFailed {
		t.Fatalf("expected FAILED status, got %s", result.Status)
	}

	stats := l.Stats()
	if stats.Failed != 1 {
		t.Fatalf("expected one failed attempt recorded, got %+v", stats)
	}
}

func TestLifecycle_AttemptRecordsRetryWhenHandlerCanRetry(t *testing.T) {
	h := &fakeHandler{key: "task", canRetry: true, execute: func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
		return nil, errors.New("transient")
	}}
	l := newLifecycle(h, LifecycleConfig{MaxAttempts: 3})

	_, _ = l.Attempt(context.Background(), &domain.StepExecutionContext{StepID: "s1", RetryCount: 0}, nil)

	stats := l.Stats()
	if stats.Retried != 1 {
		t.Fatalf("expected the attempt to be counted as retryable, got %+v", stats)
	}
}

func TestLifecycle_AttemptNoRetryRecordedAtLastAttempt(t *testing.T) {
	h := &fakeHandler{key: "task", canRetry: true, execute: func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
		return nil, errors.New("transient")
	}}
	l := newLifecycle(h, LifecycleConfig{MaxAttempts: 2})

	// RetryCount 1 is the final attempt slot (MaxAttempts=2, so attempts 0,1);
	// the lifecycle must not report a retry past the configured ceiling.
	_, _ = l.Attempt(context.Background(), &domain.StepExecutionContext{StepID: "s1", RetryCount: 1}, nil)

	stats := l.Stats()
	if stats.Retried != 0 {
		t.Fatalf("expected no retry recorded once RetryCount reaches MaxAttempts-1, got %+v", stats)
	}
}

func TestLifecycle_AttemptTimeout(t *testing.T) {
	h := &fakeHandler{key: "task", canRetry: true, execute: func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	l := newLifecycle(h, LifecycleConfig{Timeout: 10 * time.Millisecond})

	result, err := l.Attempt(context.Background(), &domain.StepExecutionContext{StepID: "s1"}, nil)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	var we *domain.WorkflowError
	if !errors.As(err, &we) || we.Kind != domain.KindTimeout {
		t.Fatalf("expected a TIMEOUT_ERROR, got %v", err)
	}
	if result.Status != domain.ResultTimeout {
		t.Fatalf("expected TIMEOUT status, got %s", result.Status)
	}
	if !h.handledTimeout {
		t.Fatalf("expected HandleTimeout to be invoked on the handler")
	}
	if !result.NeedRetry {
		t.Fatalf("expected NeedRetry to reflect the handler's CanRetry decision")
	}

	stats := l.Stats()
	if stats.TimedOut != 1 {
		t.Fatalf("expected one timed-out attempt recorded, got %+v", stats)
	}
}

func TestLifecycle_AttemptHonorsPerStepTimeoutOverride(t *testing.T) {
	h := &fakeHandler{key: "task", execute: func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	l := newLifecycle(h, LifecycleConfig{Timeout: time.Hour})

	result, _ := l.Attempt(context.Background(), &domain.StepExecutionContext{StepID: "s1", TimeoutMs: 10}, nil)
	if result.Status != domain.ResultTimeout {
		t.Fatalf("expected the per-step TimeoutMs override to cut the attempt short, got %s", result.Status)
	}
}

func TestLifecycle_AttemptRejectedWhileBreakerOpen(t *testing.T) {
	h := &fakeHandler{key: "task", execute: func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
		return nil, errors.New("boom")
	}}
	l := newLifecycle(h, LifecycleConfig{})

	for i := 0; i < 6; i++ {
		_, _ = l.Attempt(context.Background(), &domain.StepExecutionContext{StepID: "s1"}, nil)
	}

	h.execute = func(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
		t.Fatalf("handler must not run once its circuit breaker is open")
		return nil, nil
	}
	_, err := l.Attempt(context.Background(), &domain.StepExecutionContext{StepID: "s1"}, nil)
	if err == nil {
		t.Fatalf("expected the open breaker to reject the attempt before the handler runs")
	}
}

func TestLifecycle_NextDelayBoundedByMaxDelay(t *testing.T) {
	h := &fakeHandler{key: "task", retryDelay: time.Hour}
	l := newLifecycle(h, LifecycleConfig{MaxDelay: time.Second})

	if got := l.NextDelay(0); got != time.Second {
		t.Fatalf("expected NextDelay to cap at MaxDelay, got %s", got)
	}
}

func TestLifecycle_MaxAttemptsDefaultsToOne(t *testing.T) {
	h := &fakeHandler{key: "task"}
	l := newLifecycle(h, LifecycleConfig{})
	if l.MaxAttempts() != 1 {
		t.Fatalf("expected MaxAttempts to default to 1, got %d", l.MaxAttempts())
	}
}
