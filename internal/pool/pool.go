package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/metrics"
	"github.com/SMI/cohort-tracker/internal/repository"
	"github.com/SMI/cohort-tracker/internal/usecase"
)

// WorkerPool manages a fixed-size pool of goroutines that feed bus events to
// the aggregation engine and settle each message by the engine's verdict.
type WorkerPool struct {
	size     int
	events   <-chan *domain.EventMessage
	ingestUC *usecase.IngestEventUsecase
	dedup    repository.DedupStore
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new fixed-size worker pool.
func NewWorkerPool(size int, events <-chan *domain.EventMessage, ingestUC *usecase.IngestEventUsecase, dedup repository.DedupStore, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:     size,
		events:   events,
		ingestUC: ingestUC,
		dedup:    dedup,
		logger:   logger,
	}
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current messages and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				zap.Int("worker_id", id),
				zap.Any("panic", r),
			)
		}
	}()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case msg, ok := <-p.events:
			if !ok {
				p.logger.Debug("Event channel closed", zap.Int("worker_id", id))
				return
			}
			p.process(ctx, id, msg)
		}
	}
}

// process runs one message through dedup and the engine, then acks or nacks.
//
// Settlement policy: contract violations can never succeed on redelivery, so
// they are dead-lettered; transient store contention and infrastructure
// errors are requeued; everything else (including duplicates) is acked.
func (p *WorkerPool) process(ctx context.Context, id int, msg *domain.EventMessage) {
	evt := msg.Event
	kind := string(evt.Kind())

	metrics.WorkersActive.Inc()
	startTime := time.Now()
	defer func() {
		metrics.WorkersActive.Dec()
		metrics.IngestDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()

	first, err := p.dedup.FirstDelivery(ctx, evt.Header().MessageID)
	if err != nil {
		// Dedup is best effort; the engine is idempotent without it.
		p.logger.Warn("Dedup check failed, processing anyway",
			zap.Int("worker_id", id),
			zap.Error(err),
		)
		first = true
	}
	if !first {
		p.logger.Debug("Duplicate delivery skipped",
			zap.Int("worker_id", id),
			zap.String("message_id", evt.Header().MessageID.String()),
		)
		p.settle(msg.Ack, evt, "ack duplicate")
		metrics.EventsTotal.WithLabelValues(kind, "duplicate").Inc()
		return
	}

	err = p.ingestUC.Execute(ctx, evt)
	switch {
	case err == nil:
		p.settle(msg.Ack, evt, "ack")
		metrics.EventsTotal.WithLabelValues(kind, "ok").Inc()

	case domain.IsContractViolation(err):
		p.logger.Error("Event rejected by engine",
			zap.Int("worker_id", id),
			zap.String("kind", kind),
			zap.String("job_id", evt.Job().String()),
			zap.Error(err),
		)
		// Dead-letter: redelivering a contract violation loops forever.
		p.settle(func() error { return msg.Nack(false) }, evt, "nack dead-letter")
		metrics.EventsTotal.WithLabelValues(kind, "rejected").Inc()

	default:
		p.logger.Warn("Event processing failed, requeueing",
			zap.Int("worker_id", id),
			zap.String("kind", kind),
			zap.String("job_id", evt.Job().String()),
			zap.Error(err),
		)
		// Forget the dedup marker so the redelivery is processed.
		if ferr := p.dedup.Forget(ctx, evt.Header().MessageID); ferr != nil {
			p.logger.Warn("Failed to clear dedup marker", zap.Error(ferr))
		}
		p.settle(func() error { return msg.Nack(true) }, evt, "nack requeue")
		metrics.EventsTotal.WithLabelValues(kind, "retried").Inc()
	}
}

func (p *WorkerPool) settle(fn func() error, evt domain.Event, action string) {
	if err := fn(); err != nil {
		p.logger.Error("Failed to settle message",
			zap.String("action", action),
			zap.String("job_id", evt.Job().String()),
			zap.Error(err),
		)
	}
}
