// Package memory is a process-local ledger used by tests and by STORE=memory.
// It keeps the same locking contract as the Postgres store: exclusive row
// locks held until commit, bounded lock waits reported as busy, and writes
// that become visible all at once or not at all.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
	"github.com/ibrahimkeyboad/payflow/internal/core/transfer"
)

const DefaultLockTimeout = 2 * time.Second

// rowLock is an exclusive lock that can be waited on with a deadline.
type rowLock chan struct{}

func newRowLock() rowLock { return make(rowLock, 1) }

func (l rowLock) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case l <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.NewError(domain.KindBusy, "row lock wait exceeded %s", timeout)
	case <-ctx.Done():
		return domain.Wrap(domain.KindBusy, "row lock wait aborted", ctx.Err())
	}
}

func (l rowLock) release() { <-l }

type userRow struct {
	lock rowLock
	data domain.User
}

type paymentRow struct {
	lock rowLock
	data domain.Payment
}

type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*userRow
	emails   map[string]uuid.UUID
	payments map[uuid.UUID]*paymentRow
	logs     map[uuid.UUID][]domain.PaymentLog
	jobs     map[uuid.UUID]*job
	idem     map[string]idemRecord

	seq         atomic.Int64
	jobSeq      atomic.Int64
	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		users:       make(map[uuid.UUID]*userRow),
		emails:      make(map[string]uuid.UUID),
		payments:    make(map[uuid.UUID]*paymentRow),
		logs:        make(map[uuid.UUID][]domain.PaymentLog),
		jobs:        make(map[uuid.UUID]*job),
		idem:        make(map[string]idemRecord),
		lockTimeout: DefaultLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ transfer.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx transfer.Tx) error) error {
	t := &tx{
		s:        s,
		held:     make(map[uuid.UUID]rowLock),
		payments: make(map[uuid.UUID]domain.Payment),
		balances: make(map[uuid.UUID]decimal.Decimal),
	}
	defer t.releaseAll()

	if err := ctx.Err(); err != nil {
		return domain.Wrap(domain.KindStorageUnavailable, "begin transaction", err)
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) GetPayment(_ context.Context, id uuid.UUID) (domain.Payment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.payments[id]
	if !ok {
		return domain.Payment{}, false, nil
	}
	return row.data, true, nil
}

func (s *Store) ListPayments(_ context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Payment, 0)
	for _, row := range s.payments {
		if filter.Match(row.data) {
			out = append(out, row.data)
		}
	}
	slices.SortFunc(out, func(a, b domain.Payment) int {
		// newest first
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *Store) ListLogs(_ context.Context, paymentID uuid.UUID) ([]domain.PaymentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.logs[paymentID]), nil
}

// tx buffers its writes until commit. Reads through tx see its own writes.
type tx struct {
	s        *Store
	held     map[uuid.UUID]rowLock
	payments map[uuid.UUID]domain.Payment
	inserted []uuid.UUID
	balances map[uuid.UUID]decimal.Decimal
	logs     []domain.PaymentLog
	jobs     []*job
}

func (t *tx) lock(ctx context.Context, id uuid.UUID, l rowLock) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	if err := l.acquire(ctx, t.s.lockTimeout); err != nil {
		return err
	}
	t.held[id] = l
	return nil
}

func (t *tx) releaseAll() {
	for id, l := range t.held {
		l.release()
		delete(t.held, id)
	}
}

func (t *tx) LockPayment(ctx context.Context, id uuid.UUID) (domain.Payment, bool, error) {
	if p, ok := t.payments[id]; ok {
		return p, true, nil
	}

	t.s.mu.RLock()
	row, ok := t.s.payments[id]
	t.s.mu.RUnlock()
	if !ok {
		return domain.Payment{}, false, nil
	}

	if err := t.lock(ctx, id, row.lock); err != nil {
		return domain.Payment{}, false, err
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return row.data, true, nil
}

func (t *tx) LockUser(ctx context.Context, id uuid.UUID) (domain.User, bool, error) {
	t.s.mu.RLock()
	row, ok := t.s.users[id]
	t.s.mu.RUnlock()
	if !ok {
		return domain.User{}, false, nil
	}

	if err := t.lock(ctx, id, row.lock); err != nil {
		return domain.User{}, false, err
	}
	return t.readUser(row), true, nil
}

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (domain.User, bool, error) {
	t.s.mu.RLock()
	row, ok := t.s.users[id]
	t.s.mu.RUnlock()
	if !ok {
		return domain.User{}, false, nil
	}
	return t.readUser(row), true, nil
}

func (t *tx) readUser(row *userRow) domain.User {
	t.s.mu.RLock()
	u := row.data
	t.s.mu.RUnlock()

	if b, ok := t.balances[u.ID]; ok {
		u.Balance = b
	}
	return u
}

func (t *tx) InsertPayment(_ context.Context, p domain.Payment) (domain.Payment, error) {
	now := t.s.now()
	p.ID = uuid.New()
	p.CreatedAt = now
	p.UpdatedAt = now
	t.payments[p.ID] = p
	t.inserted = append(t.inserted, p.ID)
	return p, nil
}

func (t *tx) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, expectedVersion int64) (domain.Payment, error) {
	p, err := t.lockedForWrite(ctx, id, expectedVersion)
	if err != nil {
		return domain.Payment{}, err
	}
	p.Status = status
	p.Version++
	p.UpdatedAt = t.s.now()
	t.payments[id] = p
	return p, nil
}

func (t *tx) SoftDeletePayment(ctx context.Context, id uuid.UUID, expectedVersion int64) (domain.Payment, error) {
	p, err := t.lockedForWrite(ctx, id, expectedVersion)
	if err != nil {
		return domain.Payment{}, err
	}
	now := t.s.now()
	p.DeletedAt = &now
	p.Version++
	p.UpdatedAt = now
	t.payments[id] = p
	return p, nil
}

func (t *tx) lockedForWrite(ctx context.Context, id uuid.UUID, expectedVersion int64) (domain.Payment, error) {
	p, found, err := t.LockPayment(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if !found || p.DeletedAt != nil {
		return domain.Payment{}, domain.NewError(domain.KindNotFound, "payment not found")
	}
	if p.Version != expectedVersion {
		return domain.Payment{}, domain.NewError(domain.KindConflict, "payment version is %d, not %d", p.Version, expectedVersion)
	}
	return p, nil
}

func (t *tx) SaveBalance(_ context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	if _, ok := t.held[userID]; !ok {
		return domain.NewError(domain.KindStorageUnavailable, "balance of user %s written without its row lock", userID)
	}
	t.balances[userID] = balance
	return nil
}

func (t *tx) AppendLog(_ context.Context, entry domain.PaymentLog) (domain.PaymentLog, error) {
	entry.Seq = t.s.seq.Add(1)
	t.logs = append(t.logs, entry)
	return entry, nil
}

func (t *tx) EnqueueWebhook(_ context.Context, url string, payload []byte) error {
	t.jobs = append(t.jobs, &job{
		id:      uuid.New(),
		url:     url,
		payload: slices.Clone(payload),
		status:  jobPending,
		nextRun: t.s.now(),
		created: t.s.jobSeq.Add(1),
	})
	return nil
}

// commit publishes every buffered write under one critical section so
// readers never observe half a transaction.
func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range t.inserted {
		s.payments[id] = &paymentRow{lock: newRowLock(), data: t.payments[id]}
		delete(t.payments, id)
	}
	for id, p := range t.payments {
		s.payments[id].data = p
	}
	for id, b := range t.balances {
		s.users[id].data.Balance = b
	}
	for _, l := range t.logs {
		s.logs[l.PaymentID] = append(s.logs[l.PaymentID], l)
	}
	for _, j := range t.jobs {
		s.jobs[j.id] = j
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
