package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ordersys/pipeline/internal/domain"
	"github.com/ordersys/pipeline/internal/observability"
)

// State of the poll loop. Transitions happen only through Start and Stop.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var ErrAlreadyStarted = errors.New("worker already started")

// Worker runs the receive-process-delete cycle against the queue. Failed
// messages are never deleted: the queue's visibility timeout redelivers them
// and its max-receive policy dead-letters the hopeless ones. That redelivery
// is the pipeline's only retry mechanism.
type Worker struct {
	queue   domain.Queue
	store   domain.OrderStore
	cache   domain.Cache
	logger  *zap.Logger
	metrics observability.Metrics

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func New(queue domain.Queue, store domain.OrderStore, cache domain.Cache, logger *zap.Logger, metrics observability.Metrics) *Worker {
	if metrics == nil {
		metrics = observability.Noop{}
	}
	return &Worker{
		queue:   queue,
		store:   store,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start probes the queue and launches the poll loop. If the queue is
// unreachable the worker stays stopped and reports the error; the caller can
// keep serving reads.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateStopped {
		return ErrAlreadyStarted
	}
	if err := w.queue.Ping(ctx); err != nil {
		w.logger.Error("queue unreachable, worker not started", zap.Error(err))
		return fmt.Errorf("probe queue: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = StateRunning
	go w.run(runCtx)

	w.logger.Info("worker started")
	return nil
}

// Stop cancels future poll cycles and waits for the in-flight batch to
// finish. The wait is bounded by ctx; on expiry Stop returns and the process
// may exit with the batch unfinished (undeleted messages will be redelivered).
// A second Stop is a no-op.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return nil
	}
	w.state = StateStopping
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
		w.logger.Info("worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("worker drain timed out, proceeding with shutdown")
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		close(w.done)
	}()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("receive failed, backing off", zap.Error(err))
			sleepWithContext(ctx, bo.NextBackOff())
			continue
		}
		bo.Reset()

		// Empty receive just means the long-poll window elapsed; the wait
		// already happened server-side, so re-poll immediately.
		if len(msgs) == 0 {
			continue
		}

		// Strictly sequential within the batch, and detached from
		// cancellation: an in-flight batch runs to completion even when Stop
		// has been requested.
		batchCtx := context.WithoutCancel(ctx)
		for _, m := range msgs {
			w.process(batchCtx, m)
		}
	}
}

func (w *Worker) process(ctx context.Context, m domain.QueueMessage) {
	start := time.Now()

	var o domain.Order
	if err := json.Unmarshal(m.Body, &o); err != nil {
		// Left undeleted on purpose: redelivery counts toward the queue's
		// max-receive policy, which eventually dead-letters the payload.
		w.logger.Error("unparseable message, leaving for redelivery",
			zap.Error(err),
			zap.ByteString("body", m.Body),
			zap.Int("receive_count", m.ReceiveCount),
		)
		w.metrics.ObserveProcess(msSince(start), false)
		return
	}
	if o.OrderID == "" || o.CustomerID == "" {
		w.logger.Error("message missing required fields, leaving for redelivery",
			zap.ByteString("body", m.Body),
			zap.Int("receive_count", m.ReceiveCount),
		)
		w.metrics.ObserveProcess(msSince(start), false)
		return
	}

	inserted, err := w.store.Insert(ctx, &o)
	if err != nil {
		w.logger.Error("persist failed, leaving for redelivery",
			zap.String("order_id", o.OrderID),
			zap.Error(err),
			zap.ByteString("body", m.Body),
		)
		w.metrics.ObserveProcess(msSince(start), false)
		return
	}
	if !inserted {
		w.logger.Debug("duplicate delivery",
			zap.String("order_id", o.OrderID),
			zap.Int("receive_count", m.ReceiveCount),
		)
	}

	if err := w.store.UpdateStatus(ctx, o.OrderID, domain.StatusCompleted); err != nil {
		w.logger.Error("status update failed, leaving for redelivery",
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
		w.metrics.ObserveProcess(msSince(start), false)
		return
	}
	o.Status = domain.StatusCompleted
	if w.cache != nil {
		w.cache.Set(&o)
	}

	if err := w.queue.Delete(ctx, m.ReceiptHandle); err != nil {
		// The row exists; redelivery will no-op through the idempotent insert.
		w.logger.Warn("delete failed after persist",
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
		w.metrics.ObserveProcess(msSince(start), false)
		return
	}

	w.metrics.ObserveProcess(msSince(start), true)
	w.logger.Info("order processed",
		zap.String("order_id", o.OrderID),
		zap.String("customer_id", o.CustomerID),
	)
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
