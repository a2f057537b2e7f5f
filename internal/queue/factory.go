package queue

import (
	"fmt"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

const memoryQueueBuffer = 256

// Create builds the queue adapter configured by cfg.Queue.Adapter.
func Create(cfg *config.Config, logger observability.Logger, metrics observability.Metrics) (Queue, error) {
	switch cfg.Queue.Adapter {
	case "memory":
		return NewMemory(memoryQueueBuffer), nil
	case "sqs":
		return NewSQS(&cfg.Queue.SQS, logger, metrics)
	case "rabbitmq":
		return NewRabbitMQ(&cfg.Queue.RabbitMQ, cfg.Queue.JobQueue, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported queue adapter: %s", cfg.Queue.Adapter)
	}
}
