package usertask

import (
	"context"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/queue"
)

// QueueNotifier publishes user-task lifecycle events onto an
// queue.EventPublisher instead of, say, emailing the assignee directly;
// external notification workers subscribe to the exchange and fan out
// from there.
type QueueNotifier struct {
	Publisher queue.EventPublisher
	Exchange  string
}

// NewQueueNotifier builds a QueueNotifier publishing to exchange (typically
// "workflow.events", matching the engine's own lifecycle events).
func NewQueueNotifier(publisher queue.EventPublisher, exchange string) *QueueNotifier {
	if exchange == "" {
		exchange = "workflow.events"
	}
	return &QueueNotifier{Publisher: publisher, Exchange: exchange}
}

func (n *QueueNotifier) Notify(ctx context.Context, task *domain.UserTask, event string) error {
	routingKey := queue.EventUserTaskCreated
	if event != "created" {
		routingKey = "usertask." + event
	}
	return n.Publisher.Publish(ctx, n.Exchange, routingKey, queue.LifecycleEvent{
		Type:       routingKey,
		InstanceID: task.InstanceID,
		StepID:     task.StepID,
		Status:     string(task.Status),
		OccurredAt: time.Now().UTC(),
	})
}
