package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// fakeCache is a minimal in-memory cache.Cache for exercising the timer
// executor without a real Redis instance.
type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string]string)} }

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return "", domain.NewError(domain.KindResource, "not found")
	}
	return v, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value.(string)
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func (c *fakeCache) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 0, nil
}

func (c *fakeCache) Close() error { return nil }

func execCtx() *domain.StepExecutionContext {
	return &domain.StepExecutionContext{InstanceID: "inst-1", StepID: "step-1"}
}

func TestValidateConfigRequiresDurationOrTimestamp(t *testing.T) {
	e := NewExecutor(newFakeCache(), zap.NewNop(), time.Millisecond)

	if err := e.ValidateConfig(map[string]domain.Value{}); err == nil {
		t.Error("expected an error when neither durationSeconds nor untilTimestamp is set")
	}
	if err := e.ValidateConfig(map[string]domain.Value{"durationSeconds": domain.NewInt(5)}); err != nil {
		t.Errorf("durationSeconds should be sufficient: %v", err)
	}
	if err := e.ValidateConfig(map[string]domain.Value{"untilTimestamp": domain.NewLong(1)}); err != nil {
		t.Errorf("untilTimestamp should be sufficient: %v", err)
	}
}

func TestExecuteWaitsThenFires(t *testing.T) {
	e := NewExecutor(newFakeCache(), zap.NewNop(), time.Millisecond)
	cfg := map[string]domain.Value{"durationSeconds": domain.NewInt(0)}

	// First attempt: deadline is computed as "now", so it may already have
	// passed by the time the comparison below runs — use a duration long
	// enough to guarantee at least one WAITING attempt.
	cfg["durationSeconds"] = domain.NewInt(1)

	result, err := e.Execute(context.Background(), execCtx(), cfg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != domain.ResultFailed || !result.NeedRetry {
		t.Fatalf("expected a retryable WAITING-as-FAILED result, got %+v", result)
	}

	// Second attempt before the deadline re-uses the persisted deadline and
	// still waits.
	result, err = e.Execute(context.Background(), execCtx(), cfg)
	if err != nil {
		t.Fatalf("Execute (second attempt): %v", err)
	}
	if result.Status != domain.ResultFailed || !result.NeedRetry {
		t.Fatalf("expected still-waiting result, got %+v", result)
	}

	time.Sleep(1100 * time.Millisecond)

	result, err = e.Execute(context.Background(), execCtx(), cfg)
	if err != nil {
		t.Fatalf("Execute (after deadline): %v", err)
	}
	if result.Status != domain.ResultSuccess {
		t.Fatalf("expected SUCCESS after the deadline passed, got %+v", result)
	}
}

func TestExecuteWithUntilTimestampInPast(t *testing.T) {
	e := NewExecutor(newFakeCache(), zap.NewNop(), time.Millisecond)
	cfg := map[string]domain.Value{"untilTimestamp": domain.NewLong(1)} // 1970-01-01, long past

	result, err := e.Execute(context.Background(), execCtx(), cfg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != domain.ResultSuccess {
		t.Fatalf("expected immediate SUCCESS for a past timestamp, got %+v", result)
	}
}

func TestRetryDelayIsFixedPollInterval(t *testing.T) {
	e := NewExecutor(newFakeCache(), zap.NewNop(), 7*time.Second)
	if d := e.RetryDelay(1, time.Second); d != 7*time.Second {
		t.Errorf("RetryDelay(1) = %v, want 7s", d)
	}
	if d := e.RetryDelay(50, time.Second); d != 7*time.Second {
		t.Errorf("RetryDelay(50) = %v, want 7s (fixed interval regardless of attempt)", d)
	}
}

func TestCanRetryAlwaysTrue(t *testing.T) {
	e := NewExecutor(newFakeCache(), zap.NewNop(), time.Second)
	if !e.CanRetry(nil, 0) || !e.CanRetry(domain.NewError(domain.KindTimeout, "x"), 99) {
		t.Error("timer steps should always be eligible to retry until they fire")
	}
}

func TestSupportsOnlyTimerSteps(t *testing.T) {
	e := NewExecutor(newFakeCache(), zap.NewNop(), time.Second)
	if !e.Supports(domain.StepTimer) {
		t.Error("Supports(StepTimer) should be true")
	}
	if e.Supports(domain.StepUserTask) {
		t.Error("Supports(StepUserTask) should be false")
	}
}
