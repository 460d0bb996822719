package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 5
	defaultLease       = 5 * time.Minute
)

// Job is one pending webhook delivery written by the ledger in the same
// transaction as the payment transition it announces.
type Job struct {
	ID       uuid.UUID
	URL      string
	Payload  []byte
	Attempts int // including the attempt in progress
}

// Queue hands out due jobs. ClaimNext increments Attempts and hides the job
// for lease so a crashed worker's job becomes due again afterwards.
type Queue interface {
	ClaimNext(ctx context.Context, lease time.Duration) (Job, bool, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, nextRun time.Time) error
	Fail(ctx context.Context, id uuid.UUID) error
}

type Sender interface {
	Send(ctx context.Context, url string, payload []byte) error
}

type Processor struct {
	queue       Queue
	sender      Sender
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
	lease       time.Duration
	now         func() time.Time
}

func NewProcessor(queue Queue, sender Sender, logger *zap.Logger, interval time.Duration) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Processor{
		queue:       queue,
		sender:      sender,
		logger:      logger,
		interval:    interval,
		maxAttempts: DefaultMaxAttempts,
		lease:       defaultLease,
		now:         time.Now,
	}
}

// Start runs the processor in the background until ctx is canceled. The
// returned channel is closed once it has stopped.
func (p *Processor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	return done
}

// Run polls the queue every interval and drains all due jobs each time.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("webhook worker started", zap.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		for {
			processed, err := p.ProcessOnce(ctx)
			if err != nil {
				p.logger.Error("webhook worker: claim failed", zap.Error(err))
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Info("webhook worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce delivers at most one due job. It reports whether a job was
// claimed.
func (p *Processor) ProcessOnce(ctx context.Context) (bool, error) {
	job, found, err := p.queue.ClaimNext(ctx, p.lease)
	if err != nil || !found {
		return false, err
	}

	log := p.logger.With(zap.String("job_id", job.ID.String()), zap.Int("attempts", job.Attempts))
	log.Info("webhook worker: processing job", zap.String("url", job.URL))

	if !json.Valid(job.Payload) {
		log.Error("webhook worker: payload is not valid JSON, marking job as failed")
		return true, p.queue.Fail(ctx, job.ID)
	}

	sendErr := p.sender.Send(ctx, job.URL, job.Payload)
	if sendErr == nil {
		if err := p.queue.Complete(ctx, job.ID); err != nil {
			return true, err
		}
		log.Info("webhook worker: delivered")
		return true, nil
	}

	log.Warn("webhook worker: delivery failed", zap.Error(sendErr))
	if job.Attempts >= p.maxAttempts {
		log.Error("webhook worker: job marked as failed, max attempts reached")
		return true, p.queue.Fail(ctx, job.ID)
	}

	nextRun := p.now().Add(time.Duration(job.Attempts*10) * time.Second)
	log.Info("webhook worker: scheduled retry", zap.Time("next_run", nextRun))
	return true, p.queue.Retry(ctx, job.ID, nextRun)
}
