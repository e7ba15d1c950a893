package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Priya8975/gh-bridge/internal/engine"
)

// JobHandler processes one webhook job.
type JobHandler interface {
	Process(ctx context.Context, job engine.WebhookJob)
}

// Pool runs a fixed number of goroutines that process webhook jobs.
type Pool struct {
	numWorkers int
	jobs       chan engine.WebhookJob
	handler    JobHandler
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, handler JobHandler, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan engine.WebhookJob, numWorkers*2),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches the workers. They run until Stop closes the jobs channel.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit blocks until a worker can take job or ctx is done. It reports
// whether the job was accepted.
func (p *Pool) Submit(ctx context.Context, job engine.WebhookJob) bool {
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		p.logger.Warn("job abandoned on shutdown", "job_id", job.ID, "delivery_id", job.DeliveryID)
		return false
	}
}

// Stop closes the jobs channel and waits for in-flight jobs to finish.
// Submit must not be called after Stop.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.logger.Debug("processing job", "worker", id, "job_id", job.ID)
		p.handler.Process(ctx, job)
	}
}
