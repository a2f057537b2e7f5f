package queue

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

// RabbitMQ implements the queue port on a durable AMQP queue.
type RabbitMQ struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	logger    observability.Logger
	metrics   observability.Metrics
}

// NewRabbitMQ connects to RabbitMQ and declares the durable job queue.
func NewRabbitMQ(cfg *config.RabbitMQConfig, queueName string, logger observability.Logger, metrics observability.Metrics) (*RabbitMQ, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	_, err = channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	logger.Info("rabbitmq queue initialized", "queue", queueName)

	return &RabbitMQ{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		logger:    logger.WithFields(map[string]interface{}{"component": "queue.rabbitmq"}),
		metrics:   metrics.WithTags(map[string]string{"queue": "rabbitmq"}),
	}, nil
}

func (q *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	err := q.channel.PublishWithContext(ctx, "", q.queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		q.logger.Error("failed to publish message", "error", err)
		q.metrics.IncrementCounter("queue.publish.errors", nil)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	q.metrics.IncrementCounter("queue.publish.success", nil)
	return nil
}

// Consume delivers messages with manual acknowledgement; failed handling
// nacks with requeue.
func (q *RabbitMQ) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := q.channel.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := handler(ctx, d.Body); err != nil {
				q.logger.Error("message handling failed, requeueing", "error", err)
				q.metrics.IncrementCounter("queue.handle.errors", nil)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}

func (q *RabbitMQ) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
