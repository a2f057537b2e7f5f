package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/job"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/queue"
)

func newTestWorker(f *fixture) *Worker {
	return NewWorker(f.orch, f.jobs,
		config.WorkerConfig{Runtime: "poll", PollInterval: 10 * time.Millisecond},
		config.JobsConfig{StallTimeout: 15 * time.Minute},
		observability.NewNopLogger())
}

func TestWorker_RunOnce(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()

	urlA := "https://www.youtube.com/watch?v=aaa"
	f.addSource(urlA, "https://cdn.example.com/a.mp4", []byte("payload-a"))

	j, err := f.orch.Submit(ctx, "user-1", []string{urlA}, "720p", "mp4")
	require.NoError(t, err)

	worked, err := newTestWorker(f).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, job.StatusCompleted, j.Status)

	// Queue drained.
	worked, err = newTestWorker(f).RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestWorker_RunQueue(t *testing.T) {
	f := newFixture(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	urlA := "https://www.youtube.com/watch?v=aaa"
	f.addSource(urlA, "https://cdn.example.com/a.mp4", []byte("payload-a"))

	q := queue.NewMemory(10)
	defer q.Close()

	done := make(chan struct{})
	go func() {
		newTestWorker(f).RunQueue(ctx, q)
		close(done)
	}()

	j, err := f.orch.Submit(ctx, "user-1", []string{urlA}, "720p", "mp4")
	require.NoError(t, err)

	body, err := queue.EncodeJobMessage(j.ID)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, body))

	require.Eventually(t, func() bool {
		fresh, err := f.jobs.Get(ctx, j.ID)
		return err == nil && fresh.Status == job.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestWorker_RunQueue_DropsMalformedMessages(t *testing.T) {
	f := newFixture(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewMemory(10)
	defer q.Close()

	go newTestWorker(f).RunQueue(ctx, q)

	require.NoError(t, q.Publish(ctx, []byte("garbage")))

	// Nothing to assert beyond "no panic, no job state changed".
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.resolver.calls)
}
