package queue

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "repeatjob/pkg/logx"
)

func TestDequeueFollowsEnqueueOrder(t *testing.T) {
	q := New()
	// Interleaved markers from two jobs.
	want := []Event{
		{JobID: 0, Instance: 1},
		{JobID: 1, Instance: 1},
		{JobID: 1, Instance: 2},
		{JobID: 0, Instance: 2},
		{JobID: 0, Instance: 3},
		{JobID: 1, Instance: 3},
	}
	for _, e := range want {
		q.Enqueue(e)
	}
	require.Equal(t, len(want), q.Len())

	ctx := context.Background()
	for i, w := range want {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, got, "position %d", i)
	}
	assert.Equal(t, 0, q.Len())
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()
	got := make(chan Event, 1)
	go func() {
		e, err := q.Dequeue(context.Background())
		if err == nil {
			got <- e
		}
	}()

	select {
	case <-got:
		t.Fatal("Dequeue returned on an empty queue")
	case <-time.After(30 * time.Millisecond):
	}

	q.Enqueue(Event{JobID: 7, Instance: 1})
	select {
	case e := <-got:
		assert.Equal(t, JobID(7), e.JobID)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake after Enqueue")
	}
}

func TestDequeueHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaleWakeupIsTolerated(t *testing.T) {
	q := New()
	// Leave a wake-up token without an event behind it.
	q.signal()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "a stale token must not produce an event")
}

func TestConcurrentProducersLoseNothing(t *testing.T) {
	const producers, perProducer = 8, 500
	q := New()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id JobID) {
			defer wg.Done()
			for i := 1; i <= perProducer; i++ {
				q.Enqueue(Event{JobID: id, Instance: uint64(i)})
			}
		}(JobID(p))
	}

	last := map[JobID]uint64{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for n := 0; n < producers*perProducer; n++ {
		e, err := q.Dequeue(ctx)
		require.NoError(t, err)
		// Per-producer order survives interleaving.
		require.Equal(t, last[e.JobID]+1, e.Instance, "job %d", e.JobID)
		last[e.JobID] = e.Instance
	}
	wg.Wait()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "no duplicates expected")
	for p := 0; p < producers; p++ {
		assert.Equal(t, uint64(perProducer), last[JobID(p)])
	}
}

func TestBacklogWarningIsThrottled(t *testing.T) {
	var buf bytes.Buffer
	q := New(WithWarnDepth(2), WithLogger(logx.New(zerolog.New(&buf))))

	for i := 0; i < 10; i++ {
		q.Enqueue(Event{JobID: 1, Instance: uint64(i + 1)})
	}
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("event queue backlog")))
	assert.Equal(t, 10, q.Len(), "warning must not drop events")
}
