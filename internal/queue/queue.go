// Package queue carries job notifications from the API to workers, with
// SQS, RabbitMQ and in-memory adapters.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler processes one message. Returning an error leaves the message
// unacknowledged where the backend supports redelivery.
type Handler func(ctx context.Context, body []byte) error

// Queue is the port all queue adapters implement.
type Queue interface {
	// Publish enqueues one message.
	Publish(ctx context.Context, body []byte) error

	// Consume blocks, delivering messages to the handler until the context
	// is cancelled.
	Consume(ctx context.Context, handler Handler) error

	// Close releases adapter resources.
	Close() error
}

// JobMessage is the payload published when a bulk job is submitted.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// EncodeJobMessage marshals a job notification.
func EncodeJobMessage(jobID string) ([]byte, error) {
	return json.Marshal(JobMessage{JobID: jobID})
}

// DecodeJobMessage unmarshals a job notification.
func DecodeJobMessage(body []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("invalid job message: %w", err)
	}
	if msg.JobID == "" {
		return JobMessage{}, fmt.Errorf("invalid job message: empty job_id")
	}
	return msg, nil
}
