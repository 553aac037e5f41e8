// Package queue publishes workflow lifecycle events over RabbitMQ: an
// optional collaborator the engine emits to, not one it depends on to
// function. Grounded on internal/queue/queue.go's Publish/Subscribe shape.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// EventPublisher emits workflow/instance lifecycle events to interested
// subscribers (notification services, audit sinks, external orchestrators).
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, event interface{}) error
	Close() error
}

// MessageHandler handles one consumed message body.
type MessageHandler func(message []byte) error

// RabbitMQPublisher implements EventPublisher using RabbitMQ.
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

// NewRabbitMQPublisher dials url and opens one channel for publishing.
func NewRabbitMQPublisher(url string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitMQPublisher{conn: conn, channel: channel, logger: logger}, nil
}

// Publish marshals event as JSON and publishes it to exchange/routingKey.
func (q *RabbitMQPublisher) Publish(ctx context.Context, exchange, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = q.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	q.logger.Debug("event published", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
	return nil
}

// Subscribe registers a consumer on queue, acking successfully-handled
// messages and requeueing failures. Used by external notification workers
// that consume what the engine publishes — the engine itself never calls
// this.
func (q *RabbitMQPublisher) Subscribe(ctx context.Context, queueName string, handler MessageHandler) error {
	msgs, err := q.channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := handler(msg.Body); err != nil {
					q.logger.Error("handle message failed", zap.Error(err), zap.String("queue", queueName))
					msg.Nack(false, true)
				} else {
					msg.Ack(false)
				}
			}
		}
	}()

	q.logger.Info("started consuming", zap.String("queue", queueName))
	return nil
}

func (q *RabbitMQPublisher) Close() error {
	if err := q.channel.Close(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	if err := q.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

// Event names used for the routing key of instance/step lifecycle events.
const (
	EventInstanceStarted   = "instance.started"
	EventInstanceCompleted = "instance.completed"
	EventInstanceFailed    = "instance.failed"
	EventStepCompleted     = "step.completed"
	EventUserTaskCreated   = "usertask.created"
)

// LifecycleEvent is the payload published for the Event* routing keys.
type LifecycleEvent struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instanceId"`
	WorkflowID string    `json:"workflowId,omitempty"`
	StepID     string    `json:"stepId,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
