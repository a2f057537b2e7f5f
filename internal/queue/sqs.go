package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
)

// SQS implements the queue port on AWS SQS with long polling.
type SQS struct {
	client   *sqs.Client
	queueURL string
	waitTime int32
	logger   observability.Logger
	metrics  observability.Metrics
}

// NewSQS creates an SQS-backed queue.
func NewSQS(cfg *config.SQSConfig, logger observability.Logger, metrics observability.Metrics) (*SQS, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("SQS queue URL is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	waitTime := int32(cfg.WaitTime.Seconds())
	if waitTime <= 0 || waitTime > 20 {
		waitTime = 20
	}

	logger.Info("sqs queue initialized", "queue_url", cfg.QueueURL, "region", cfg.Region)

	return &SQS{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		waitTime: waitTime,
		logger:   logger.WithFields(map[string]interface{}{"component": "queue.sqs"}),
		metrics:  metrics.WithTags(map[string]string{"queue": "sqs"}),
	}, nil
}

func (q *SQS) Publish(ctx context.Context, body []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		q.logger.Error("failed to publish message", "error", err)
		q.metrics.IncrementCounter("queue.publish.errors", nil)
		return fmt.Errorf("failed to send message: %w", err)
	}

	q.metrics.IncrementCounter("queue.publish.success", nil)
	return nil
}

// Consume long-polls for messages. Messages are deleted only after the
// handler succeeds, so failed handling leads to SQS redelivery.
func (q *SQS) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     q.waitTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("failed to receive messages", "error", err)
			q.metrics.IncrementCounter("queue.receive.errors", nil)
			continue
		}

		for _, msg := range out.Messages {
			if err := handler(ctx, []byte(aws.ToString(msg.Body))); err != nil {
				q.logger.Error("message handling failed, leaving for redelivery", "error", err)
				q.metrics.IncrementCounter("queue.handle.errors", nil)
				continue
			}

			_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			})
			if err != nil {
				q.logger.Error("failed to delete message", "error", err)
				q.metrics.IncrementCounter("queue.delete.errors", nil)
			}
		}
	}
}

func (q *SQS) Close() error {
	return nil
}
