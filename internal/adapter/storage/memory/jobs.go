package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/payflow/internal/core/worker"
)

type jobStatus string

const (
	jobPending   jobStatus = "PENDING"
	jobCompleted jobStatus = "COMPLETED"
	jobFailed    jobStatus = "FAILED"
)

type job struct {
	id       uuid.UUID
	url      string
	payload  []byte
	attempts int
	status   jobStatus
	nextRun  time.Time
	created  int64
}

var _ worker.Queue = (*Store)(nil)

// ClaimNext picks the oldest due pending job and leases it.
func (s *Store) ClaimNext(_ context.Context, lease time.Duration) (worker.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next *job
	for _, j := range s.jobs {
		if j.status != jobPending || j.nextRun.After(now) {
			continue
		}
		if next == nil || j.created < next.created {
			next = j
		}
	}
	if next == nil {
		return worker.Job{}, false, nil
	}

	next.attempts++
	next.nextRun = now.Add(lease)
	return worker.Job{
		ID:       next.id,
		URL:      next.url,
		Payload:  slices.Clone(next.payload),
		Attempts: next.attempts,
	}, true, nil
}

func (s *Store) Complete(_ context.Context, id uuid.UUID) error {
	return s.setJob(id, jobCompleted, time.Time{})
}

func (s *Store) Retry(_ context.Context, id uuid.UUID, nextRun time.Time) error {
	return s.setJob(id, jobPending, nextRun)
}

func (s *Store) Fail(_ context.Context, id uuid.UUID) error {
	return s.setJob(id, jobFailed, time.Time{})
}

func (s *Store) setJob(id uuid.UUID, status jobStatus, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.status = status
	if !nextRun.IsZero() {
		j.nextRun = nextRun
	}
	return nil
}

// PendingJobs reports how many jobs are waiting for delivery.
func (s *Store) PendingJobs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.status == jobPending {
			n++
		}
	}
	return n
}
