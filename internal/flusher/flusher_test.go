package flusher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransport records delivered batches and fails on demand.
type fakeTransport struct {
	mu      sync.Mutex
	batches []event.Batch
	fail    int // number of deliveries to fail before succeeding
}

func (t *fakeTransport) Deliver(_ context.Context, batch event.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail > 0 {
		t.fail--
		return errors.New("endpoint unavailable")
	}
	t.batches = append(t.batches, batch)
	return nil
}

func (t *fakeTransport) delivered() []event.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]event.Batch, len(t.batches))
	copy(out, t.batches)
	return out
}

func makeEvent(name string) event.Event {
	return event.New("user@example.com", name, nil, time.Now(), event.ConsentGranted)
}

func newFlusher(q *queue.Queue, tr *fakeTransport, batchSize int) *Flusher {
	f := New(q, tr, time.Hour, time.Second, batchSize, zap.NewNop(), nil)
	f.Start()
	return f
}

func TestExplicitFlushDeliversInOrder(t *testing.T) {
	q := queue.New(100, nil)
	tr := &fakeTransport{}
	f := newFlusher(q, tr, 10)
	defer f.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		q.Enqueue(makeEvent(fmt.Sprintf("event_%d", i)))
	}

	ok := f.Flush(context.Background())
	require.True(t, ok)

	batches := tr.delivered()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Events, 5)
	for i, ev := range batches[0].Events {
		assert.Equal(t, fmt.Sprintf("event_%d", i), ev.Name)
	}
	assert.Equal(t, 0, q.Len())
}

func TestSizeTriggerDeliversFullBatch(t *testing.T) {
	q := queue.New(100, nil)
	tr := &fakeTransport{}
	f := newFlusher(q, tr, 3)
	defer f.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		q.Enqueue(makeEvent(fmt.Sprintf("event_%d", i)))
	}
	f.Notify()

	require.Eventually(t, func() bool {
		return len(tr.delivered()) == 1
	}, time.Second, 10*time.Millisecond)

	batch := tr.delivered()[0]
	require.Len(t, batch.Events, 3)
	assert.Equal(t, "event_0", batch.Events[0].Name)
	assert.Equal(t, "event_2", batch.Events[2].Name)
}

func TestTimerTriggerFlushes(t *testing.T) {
	q := queue.New(100, nil)
	tr := &fakeTransport{}
	f := New(q, tr, 20*time.Millisecond, time.Second, 10, zap.NewNop(), nil)
	f.Start()
	defer f.Shutdown(context.Background())

	q.Enqueue(makeEvent("timed"))

	require.Eventually(t, func() bool {
		return len(tr.delivered()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFailedBatchRequeuedThenDropped(t *testing.T) {
	q := queue.New(100, nil)
	tr := &fakeTransport{fail: 1}
	f := newFlusher(q, tr, 10)
	defer f.Shutdown(context.Background())

	q.Enqueue(makeEvent("flaky"))

	// First flush fails and requeues the batch at the front.
	assert.False(t, f.Flush(context.Background()))
	assert.Equal(t, 1, q.Len())

	// Next flush succeeds with the same events still in order.
	assert.True(t, f.Flush(context.Background()))
	batches := tr.delivered()
	require.Len(t, batches, 1)
	assert.Equal(t, "flaky", batches[0].Events[0].Name)
}

func TestSecondConsecutiveFailureDropsBatch(t *testing.T) {
	q := queue.New(100, nil)
	tr := &fakeTransport{fail: 2}
	f := newFlusher(q, tr, 10)
	defer f.Shutdown(context.Background())

	q.Enqueue(makeEvent("doomed"))

	assert.False(t, f.Flush(context.Background())) // fails, requeued
	assert.False(t, f.Flush(context.Background())) // fails again, dropped
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, tr.delivered())
}

func TestShutdownDeliversRemainingEvents(t *testing.T) {
	q := queue.New(100, nil)
	tr := &fakeTransport{}
	f := newFlusher(q, tr, 10)

	for i := 0; i < 5; i++ {
		q.Enqueue(makeEvent(fmt.Sprintf("event_%d", i)))
	}

	require.NoError(t, f.Shutdown(context.Background()))

	batches := tr.delivered()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Events, 5)

	// Terminal: enqueue is rejected and flush reports the final state.
	assert.False(t, q.Enqueue(makeEvent("late")))
	assert.True(t, f.Flush(context.Background()))
}

func TestShutdownIsIdempotent(t *testing.T) {
	q := queue.New(10, nil)
	tr := &fakeTransport{}
	f := newFlusher(q, tr, 10)

	require.NoError(t, f.Shutdown(context.Background()))
	require.NoError(t, f.Shutdown(context.Background()))
}

func TestConcurrentFlushesCoalesce(t *testing.T) {
	q := queue.New(1000, nil)
	tr := &fakeTransport{}
	f := newFlusher(q, tr, 50)
	defer f.Shutdown(context.Background())

	for i := 0; i < 200; i++ {
		q.Enqueue(makeEvent(fmt.Sprintf("event_%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Flush(context.Background())
		}()
	}
	wg.Wait()
	f.Flush(context.Background())

	seen := make(map[string]int)
	total := 0
	for _, batch := range tr.delivered() {
		for _, ev := range batch.Events {
			seen[ev.ID]++
			total++
		}
	}
	assert.Equal(t, 200, total)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "event %s delivered %d times", id, count)
	}
}
