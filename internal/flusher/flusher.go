// Package flusher drains the event queue into batches and delivers them on a
// timer, on queue-length triggers, on explicit flush, and at shutdown.
package flusher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/outlithq/outlit-go/internal/delivery"
	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/internal/queue"
	"github.com/outlithq/outlit-go/pkg/telemetry"
	"go.uber.org/zap"
)

// ErrFlushIncomplete reports that a final flush left undelivered events behind.
var ErrFlushIncomplete = errors.New("flush incomplete")

// Flusher owns the single consumer side of the queue. All delivery goes
// through one goroutine, so concurrent triggers coalesce and no two flushes
// ever deliver overlapping events.
type Flusher struct {
	queue     *queue.Queue
	transport delivery.Transport
	interval  time.Duration
	batchSize int
	timeout   time.Duration
	log       *zap.Logger
	metrics   *telemetry.Metrics

	kick     chan struct{}
	requests chan chan bool
	stop     chan struct{}
	done     chan struct{}

	// requeued marks that the head batch already used its requeue budget;
	// a second consecutive failure drops it instead of growing the queue.
	requeued bool
	finalOK  bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a flusher. Call Start to launch the delivery loop.
func New(q *queue.Queue, transport delivery.Transport, interval, timeout time.Duration, batchSize int, logger *zap.Logger, metrics *telemetry.Metrics) *Flusher {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Flusher{
		queue:     q,
		transport: transport,
		interval:  interval,
		batchSize: batchSize,
		timeout:   timeout,
		log:       logger.Named("flusher"),
		metrics:   metrics,
		kick:      make(chan struct{}, 1),
		requests:  make(chan chan bool, 8),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery loop. Safe to call once.
func (f *Flusher) Start() {
	f.startOnce.Do(func() {
		go f.run()
	})
}

// Notify nudges the loop after an enqueue pushed the queue to a full batch.
// Never blocks the producer.
func (f *Flusher) Notify() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Flush asks the loop to drain the queue completely and waits for the result,
// bounded by ctx. Returns true when every queued event was delivered.
func (f *Flusher) Flush(ctx context.Context) bool {
	res := make(chan bool, 1)
	select {
	case f.requests <- res:
	case <-f.done:
		return f.finalOK
	case <-ctx.Done():
		return false
	}

	select {
	case ok := <-res:
		return ok
	case <-f.done:
		return f.finalOK
	case <-ctx.Done():
		return false
	}
}

// Shutdown stops the timer, performs one final flush, and terminates the loop.
// Bounded by ctx; afterwards the flusher never delivers again.
func (f *Flusher) Shutdown(ctx context.Context) error {
	var err error
	f.stopOnce.Do(func() {
		f.queue.Close()
		close(f.stop)

		select {
		case <-f.done:
			if !f.finalOK {
				err = ErrFlushIncomplete
			}
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (f *Flusher) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flushAll()
		case <-f.kick:
			f.flushAll()
		case res := <-f.requests:
			res <- f.flushAll()
		case <-f.stop:
			f.finalOK = f.flushAll()
			f.drainPending()
			return
		}
	}
}

// drainPending answers flush requests that raced with shutdown.
func (f *Flusher) drainPending() {
	for {
		select {
		case res := <-f.requests:
			res <- f.finalOK
		default:
			return
		}
	}
}

// flushAll drains batches until the queue is empty or a delivery fails. A
// failed batch is requeued at the front once; failing again drops it so the
// queue cannot grow without bound.
func (f *Flusher) flushAll() bool {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	for {
		events := f.queue.Drain(f.batchSize)
		if len(events) == 0 {
			return true
		}

		batch := event.NewBatch(events)
		start := time.Now()
		err := f.transport.Deliver(ctx, batch)
		if err == nil {
			f.metrics.DeliveryDone("delivered", time.Since(start))
			f.requeued = false
			continue
		}

		f.metrics.DeliveryDone("failed", time.Since(start))
		if f.requeued {
			f.requeued = false
			f.metrics.BatchDropped()
			f.log.Error("dropping batch after exhausted retries",
				zap.String("batch_id", batch.ID),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
			return false
		}

		f.queue.Requeue(events)
		f.requeued = true
		f.log.Warn("delivery failed, batch requeued at front",
			zap.String("batch_id", batch.ID),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
		return false
	}
}
