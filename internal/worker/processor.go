package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/engine"
	"github.com/Priya8975/gh-bridge/internal/events"
)

// Emitter dispatches a webhook event through the handler pipelines.
type Emitter interface {
	EmitEvent(ctx context.Context, event domain.Event) (any, error)
}

// Sink delivers a dispatch result to subscribed channels.
type Sink interface {
	Deliver(ctx context.Context, event domain.Event, result any) (int, error)
}

// Retrier puts a failed job back on the queue.
type Retrier interface {
	Retry(ctx context.Context, job engine.WebhookJob, now time.Time) (bool, error)
}

// Processor turns a queued webhook into channel notifications.
//
// Handler failures are final: the handler saw the payload and rejected
// it, so running it again gives the same answer. Failures to deliver the
// result are retried with backoff.
type Processor struct {
	emitter Emitter
	sink    Sink
	retrier Retrier
	logger  *slog.Logger
	now     func() time.Time
}

func NewProcessor(emitter Emitter, sink Sink, retrier Retrier, logger *slog.Logger) *Processor {
	return &Processor{
		emitter: emitter,
		sink:    sink,
		retrier: retrier,
		logger:  logger,
		now:     time.Now,
	}
}

func (p *Processor) Process(ctx context.Context, job engine.WebhookJob) {
	start := p.now()

	event, err := events.NewEvent(job.Event, job.DeliveryID, job.Payload)
	if err != nil {
		p.logger.Error("dropping malformed webhook", "error", err, "job_id", job.ID, "event", job.Event)
		return
	}
	if event.Repository == "" {
		event.Repository = job.Repository
	}

	result, err := p.emitter.EmitEvent(ctx, event)
	if err != nil {
		attrs := []any{"error", err, "event", event.Key().String(), "delivery_id", job.DeliveryID}
		if events.IsHandlerFailure(err) {
			p.logger.Error("event handler failed", attrs...)
		} else {
			p.logger.Error("event dispatch failed", attrs...)
		}
		return
	}
	if result == nil {
		p.logger.Debug("event not claimed by any handler", "event", event.Key().String(), "delivery_id", job.DeliveryID)
		return
	}

	if _, err := p.sink.Deliver(ctx, event, result); err != nil {
		p.retry(ctx, job, err)
		return
	}

	p.logger.Debug("webhook processed",
		"job_id", job.ID,
		"delivery_id", job.DeliveryID,
		"attempt", job.Attempt,
		"elapsed_ms", p.now().Sub(start).Milliseconds(),
	)
}

func (p *Processor) retry(ctx context.Context, job engine.WebhookJob, cause error) {
	requeued, err := p.retrier.Retry(ctx, job, p.now())
	switch {
	case err != nil:
		p.logger.Error("failed to requeue webhook", "error", err, "cause", cause, "delivery_id", job.DeliveryID)
	case !requeued:
		p.logger.Error("webhook delivery gave up",
			"error", cause,
			"delivery_id", job.DeliveryID,
			"attempts", job.Attempt,
		)
	default:
		p.logger.Warn("webhook delivery failed, retrying",
			"error", cause,
			"delivery_id", job.DeliveryID,
			"attempt", job.Attempt,
		)
	}
}
