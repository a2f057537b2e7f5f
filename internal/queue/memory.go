package queue

import (
	"context"
	"errors"
	"sync"
)

// Memory is a channel-backed queue for local development, single-binary
// deployments and tests.
type Memory struct {
	ch     chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewMemory creates an in-memory queue with a fixed buffer.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 100
	}
	return &Memory{
		ch:     make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, body []byte) error {
	select {
	case m.ch <- body:
		return nil
	case <-m.closed:
		return errors.New("queue closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case body := <-m.ch:
			// Handler errors are the handler's problem; the message is
			// gone either way, matching at-most-once channel semantics.
			_ = handler(ctx, body)
		case <-m.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
