package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "task", Timeout: time.Hour}, zap.NewNop())

	failing := func(c context.Context) (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 6; i++ {
		if _, err := b.ExecuteWithContext(context.Background(), failing); err == nil {
			t.Fatalf("attempt %d: expected the handler's own error to propagate", i)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected breaker to trip open after 6 consecutive failures, got %s", b.State())
	}

	_, err := b.ExecuteWithContext(context.Background(), func(c context.Context) (interface{}, error) {
		t.Fatalf("fn must not run while the breaker is open")
		return nil, nil
	})
	if err == nil {
		t.Fatalf("expected ExecuteWithContext to reject the call while open")
	}
}

func TestBreaker_HalfOpenProbeSucceedsCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "task", Timeout: 10 * time.Millisecond, MaxRequests: 1}, zap.NewNop())

	failing := func(c context.Context) (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 6; i++ {
		_, _ = b.ExecuteWithContext(context.Background(), failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected breaker open before waiting out the timeout")
	}

	time.Sleep(15 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected breaker to move to half-open once Timeout elapses, got %s", b.State())
	}

	succeeding := func(c context.Context) (interface{}, error) { return "ok", nil }
	if _, err := b.ExecuteWithContext(context.Background(), succeeding); err != nil {
		t.Fatalf("expected the half-open probe to run: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected a successful half-open probe to close the breaker, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbeFailsReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "task", Timeout: 10 * time.Millisecond, MaxRequests: 1}, zap.NewNop())

	failing := func(c context.Context) (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 6; i++ {
		_, _ = b.ExecuteWithContext(context.Background(), failing)
	}
	time.Sleep(15 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected breaker half-open, got %s", b.State())
	}

	if _, err := b.ExecuteWithContext(context.Background(), failing); err == nil {
		t.Fatalf("expected the probe's own failure to propagate")
	}
	if b.State() != StateOpen {
		t.Fatalf("expected a failed half-open probe to re-open the breaker, got %s", b.State())
	}
}

func TestBreaker_HalfOpenAdmitsUpToMaxRequestsThenCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "task", Timeout: 10 * time.Millisecond, MaxRequests: 3}, zap.NewNop())

	failing := func(c context.Context) (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 6; i++ {
		_, _ = b.ExecuteWithContext(context.Background(), failing)
	}
	time.Sleep(15 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected breaker half-open, got %s", b.State())
	}

	succeeding := func(c context.Context) (interface{}, error) { return "ok", nil }
	for i := 0; i < 2; i++ {
		if _, err := b.ExecuteWithContext(context.Background(), succeeding); err != nil {
			t.Fatalf("probe %d: expected it to be admitted below MaxRequests: %v", i, err)
		}
		if b.State() != StateHalfOpen {
			t.Fatalf("probe %d: expected breaker to stay half-open until MaxRequests probes succeed, got %s", i, b.State())
		}
	}
	if _, err := b.ExecuteWithContext(context.Background(), succeeding); err != nil {
		t.Fatalf("final probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected the breaker to close once MaxRequests consecutive successes are reached, got %s", b.State())
	}
}

func TestBreaker_ConcurrentAttemptLimit(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "task", MaxConcurrentAttempts: 1}, zap.NewNop())

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = b.ExecuteWithContext(context.Background(), func(c context.Context) (interface{}, error) {
			<-release
			return "ok", nil
		})
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	_, err := b.ExecuteWithContext(context.Background(), func(c context.Context) (interface{}, error) {
		t.Fatalf("fn must not run beyond MaxConcurrentAttempts")
		return nil, nil
	})
	if err == nil {
		t.Fatalf("expected the second concurrent attempt to be rejected")
	}
	close(release)
	<-done
}

func TestBreaker_MinimumThroughputDelaysTripping(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "task", MinimumThroughput: 10}, zap.NewNop())

	failing := func(c context.Context) (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 6; i++ {
		_, _ = b.ExecuteWithContext(context.Background(), failing)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected MinimumThroughput to hold the breaker closed below the sample floor, got %s", b.State())
	}
}

func TestBreaker_ResetForcesClosed(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "task", Timeout: time.Hour}, zap.NewNop())
	failing := func(c context.Context) (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 6; i++ {
		_, _ = b.ExecuteWithContext(context.Background(), failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected breaker open before Reset")
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("expected Reset to force the breaker closed, got %s", b.State())
	}
}

func TestCircuitBreakerManager_GetOrCreateSharesBreakerByKey(t *testing.T) {
	m := NewCircuitBreakerManager(zap.NewNop())

	b1 := m.GetOrCreate("task", BreakerConfig{})
	b2 := m.GetOrCreate("task", BreakerConfig{})
	if b1 != b2 {
		t.Fatalf("expected GetOrCreate to return the same breaker instance for the same key")
	}

	if _, ok := m.Get("usertask"); ok {
		t.Fatalf("expected no breaker registered for an untouched key")
	}

	metrics := m.AllMetrics()
	if _, ok := metrics["task"]; !ok {
		t.Fatalf("expected AllMetrics to report the registered key, got %+v", metrics)
	}

	m.Remove("task")
	if _, ok := m.Get("task"); ok {
		t.Fatalf("expected Remove to drop the breaker")
	}
}
