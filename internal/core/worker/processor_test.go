package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu        sync.Mutex
	jobs      []Job
	completed []uuid.UUID
	failed    []uuid.UUID
	retried   map[uuid.UUID]time.Time
}

func (q *fakeQueue) ClaimNext(context.Context, time.Duration) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, false, nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	j.Attempts++
	return j, true, nil
}

func (q *fakeQueue) Complete(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueue) Retry(_ context.Context, id uuid.UUID, next time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retried == nil {
		q.retried = make(map[uuid.UUID]time.Time)
	}
	q.retried[id] = next
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, id)
	return nil
}

type fakeSender struct {
	err  error
	sent []string
}

func (s *fakeSender) Send(_ context.Context, url string, _ []byte) error {
	s.sent = append(s.sent, url)
	return s.err
}

func TestProcessOnce_Delivers(t *testing.T) {
	id := uuid.New()
	q := &fakeQueue{jobs: []Job{{ID: id, URL: "http://hook", Payload: []byte(`{}`)}}}
	s := &fakeSender{}
	p := NewProcessor(q, s, nil, time.Second)

	processed, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{id}, q.completed)
	assert.Equal(t, []string{"http://hook"}, s.sent)

	processed, err = p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessOnce_SchedulesRetry(t *testing.T) {
	id := uuid.New()
	q := &fakeQueue{jobs: []Job{{ID: id, URL: "http://hook", Payload: []byte(`{}`), Attempts: 1}}}
	p := NewProcessor(q, &fakeSender{err: errors.New("down")}, nil, time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	_, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(20*time.Second), q.retried[id], "second attempt waits 20s")
	assert.Empty(t, q.failed)
}

func TestProcessOnce_FailsAfterMaxAttempts(t *testing.T) {
	id := uuid.New()
	q := &fakeQueue{jobs: []Job{{ID: id, URL: "http://hook", Payload: []byte(`{}`), Attempts: DefaultMaxAttempts - 1}}}
	p := NewProcessor(q, &fakeSender{err: errors.New("down")}, nil, time.Second)

	_, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, q.failed)
	assert.Empty(t, q.retried)
}

func TestProcessOnce_InvalidPayloadFails(t *testing.T) {
	id := uuid.New()
	q := &fakeQueue{jobs: []Job{{ID: id, URL: "http://hook", Payload: []byte("not json")}}}
	s := &fakeSender{}
	p := NewProcessor(q, s, nil, time.Second)

	_, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, q.failed)
	assert.Empty(t, s.sent)
}

func TestStart_StopsOnCancel(t *testing.T) {
	q := &fakeQueue{jobs: []Job{
		{ID: uuid.New(), URL: "http://a", Payload: []byte(`{}`)},
		{ID: uuid.New(), URL: "http://b", Payload: []byte(`{}`)},
	}}
	p := NewProcessor(q, &fakeSender{}, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := p.Start(ctx)

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.completed) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
