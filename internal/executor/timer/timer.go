// Package timer implements the TIMER step executor: a step that parks an
// instance until a duration elapses or an absolute timestamp is reached.
// Grounded on internal/async/async_manager.go's handleWaitTask/saveTask
// pattern (persist task state in Redis, poll it back on a ticker), adapted
// from a separate out-of-band AsyncManager goroutine pool into a regular
// step executor: the engine's own retry scheduler supplies the polling
// ticker, so this package only needs to remember the target deadline.
package timer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/cache"
	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// Executor implements the TIMER step type.
type Executor struct {
	cache        cache.Cache
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewExecutor builds a timer Executor. pollInterval bounds how often the
// engine re-checks a pending timer (the retry scheduler's delay between
// attempts); it does not affect accuracy of the deadline itself.
func NewExecutor(c cache.Cache, logger *zap.Logger, pollInterval time.Duration) *Executor {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Executor{cache: c, logger: logger.With(zap.String("component", "timer")), pollInterval: pollInterval}
}

func (e *Executor) Key() string { return "timer" }

func (e *Executor) Supports(t domain.StepType) bool { return t == domain.StepTimer }

func (e *Executor) ValidateConfig(cfg map[string]domain.Value) error {
	if _, ok := durationFromConfig(cfg); ok {
		return nil
	}
	if _, ok := cfg["untilTimestamp"]; ok {
		return nil
	}
	return domain.NewError(domain.KindConfiguration, "timer step config requires durationSeconds or untilTimestamp")
}

// Execute checks (and lazily creates) the persisted deadline for this
// instance/step pair; it returns a FAILED result with NeedRetry set until
// the deadline passes, at which point it returns SUCCESS and clears the
// marker.
func (e *Executor) Execute(ctx context.Context, execCtx *domain.StepExecutionContext, cfg map[string]domain.Value) (*domain.StepExecutionResult, error) {
	key := deadlineKey(execCtx.InstanceID, execCtx.StepID)

	deadline, err := e.loadDeadline(ctx, key)
	if err != nil {
		return nil, err
	}
	if deadline.IsZero() {
		deadline, err = e.computeDeadline(cfg)
		if err != nil {
			return nil, err
		}
		ttl := time.Until(deadline) + time.Hour
		if err := e.cache.Set(ctx, key, deadline.Format(time.RFC3339), ttl); err != nil {
			return nil, domain.Wrap(domain.KindResource, err, "persist timer deadline for step %s", execCtx.StepID)
		}
	}

	if time.Now().Before(deadline) {
		return &domain.StepExecutionResult{
			Status:    domain.ResultFailed,
			NeedRetry: true,
			Message:   fmt.Sprintf("timer waiting until %s", deadline.Format(time.RFC3339)),
		}, nil
	}

	_ = e.cache.Delete(ctx, key)
	return &domain.StepExecutionResult{Status: domain.ResultSuccess}, nil
}

func (e *Executor) loadDeadline(ctx context.Context, key string) (time.Time, error) {
	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		return time.Time{}, nil // not yet created
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.Wrap(domain.KindData, err, "parse persisted timer deadline")
	}
	return t, nil
}

func (e *Executor) computeDeadline(cfg map[string]domain.Value) (time.Time, error) {
	if v, ok := cfg["untilTimestamp"]; ok && (v.Kind == domain.KindInt || v.Kind == domain.KindLong) {
		return time.Unix(v.Int, 0), nil
	}
	if d, ok := durationFromConfig(cfg); ok {
		return time.Now().Add(d), nil
	}
	return time.Time{}, domain.NewError(domain.KindConfiguration, "timer step config requires durationSeconds or untilTimestamp")
}

func durationFromConfig(cfg map[string]domain.Value) (time.Duration, bool) {
	v, ok := cfg["durationSeconds"]
	if !ok || (v.Kind != domain.KindInt && v.Kind != domain.KindLong) {
		return 0, false
	}
	return time.Duration(v.Int) * time.Second, true
}

func deadlineKey(instanceID, stepID string) string {
	return fmt.Sprintf("timer:%s:%s", instanceID, stepID)
}

// CanRetry: the timer is always eligible to retry until it fires; it never
// fails outright.
func (e *Executor) CanRetry(err error, attempt int) bool { return true }

// RetryDelay returns the fixed poll interval regardless of attempt, mirroring
// the teacher's fixed-interval polling ticker rather than exponential backoff.
func (e *Executor) RetryDelay(attempt int, base time.Duration) time.Duration { return e.pollInterval }

func (e *Executor) HandleTimeout(ctx context.Context, execCtx *domain.StepExecutionContext) error {
	return nil
}

func (e *Executor) EstimateTime(cfg map[string]domain.Value) time.Duration {
	if d, ok := durationFromConfig(cfg); ok {
		return d
	}
	return 0
}
