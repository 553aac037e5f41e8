package engine

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// retryItem is one pending retry: instanceID becomes due at readyAt.
type retryItem struct {
	instanceID string
	readyAt    time.Time
	index      int
}

// retryHeap is a min-heap on readyAt, grounded on the teacher scheduler's
// priority-queue shape but keyed on time instead of static priority, and
// collapsed from per-retry goroutine sleeps into a single timer loop
// (spec §9 open question: "one scheduler, not one goroutine per retry").
type retryHeap []*retryItem

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *retryHeap) Push(x interface{}) {
	item := x.(*retryItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// retryScheduler wakes the engine to resume an instance once its backoff
// delay elapses, without blocking a goroutine per pending retry.
type retryScheduler struct {
	engine *Engine
	logger *zap.Logger

	mu      sync.Mutex
	heap    retryHeap
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newRetryScheduler(e *Engine) *retryScheduler {
	return &retryScheduler{
		engine: e,
		logger: e.logger.With(zap.String("component", "retry-scheduler")),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// schedule enqueues instanceID to resume after delay.
func (s *retryScheduler) schedule(instanceID string, delay time.Duration) {
	s.mu.Lock()
	heap.Push(&s.heap, &retryItem{instanceID: instanceID, readyAt: time.Now().Add(delay)})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *retryScheduler) start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *retryScheduler) stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *retryScheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var nextDelay time.Duration
		if s.heap.Len() > 0 {
			nextDelay = time.Until(s.heap[0].readyAt)
			if nextDelay < 0 {
				nextDelay = 0
			}
		} else {
			nextDelay = time.Hour
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(nextDelay)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

func (s *retryScheduler) fireDue(ctx context.Context) {
	now := time.Now()
	var due []string
	s.mu.Lock()
	for s.heap.Len() > 0 && !s.heap[0].readyAt.After(now) {
		item := heap.Pop(&s.heap).(*retryItem)
		due = append(due, item.instanceID)
	}
	s.mu.Unlock()

	for _, instanceID := range due {
		if err := s.engine.resume(ctx, instanceID); err != nil {
			s.logger.Warn("resume after retry delay failed", zap.String("instance_id", instanceID), zap.Error(err))
		}
	}
}
