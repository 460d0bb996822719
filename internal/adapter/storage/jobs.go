package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ibrahimkeyboad/payflow/internal/core/worker"
)

var _ worker.Queue = (*Store)(nil)

// ClaimNext leases the oldest due job. SKIP LOCKED lets several workers poll
// the same table without handing out a job twice.
func (s *Store) ClaimNext(ctx context.Context, lease time.Duration) (worker.Job, bool, error) {
	var job worker.Job
	err := s.pool.QueryRow(ctx, `
		UPDATE webhook_jobs
		SET attempts = attempts + 1, next_run_at = NOW() + $1::interval
		WHERE id = (
			SELECT id
			FROM webhook_jobs
			WHERE status = 'PENDING' AND next_run_at <= NOW()
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, url, payload, attempts`,
		lease,
	).Scan(&job.ID, &job.URL, &job.Payload, &job.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return worker.Job{}, false, nil
	}
	if err != nil {
		return worker.Job{}, false, classify("claim webhook job", err)
	}
	return job, true, nil
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "complete webhook job", "UPDATE webhook_jobs SET status = 'COMPLETED' WHERE id = $1", id)
}

func (s *Store) Retry(ctx context.Context, id uuid.UUID, nextRun time.Time) error {
	return s.exec(ctx, "reschedule webhook job", "UPDATE webhook_jobs SET status = 'PENDING', next_run_at = $2 WHERE id = $1", id, nextRun)
}

func (s *Store) Fail(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "fail webhook job", "UPDATE webhook_jobs SET status = 'FAILED' WHERE id = $1", id)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return classify(op, err)
	}
	return nil
}
