package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
	"github.com/ibrahimkeyboad/payflow/internal/core/transfer"
)

const paymentColumns = `id, sender_id, recipient_id, card_last4, card_holder, amount, status::text, version, created_at, updated_at, deleted_at`

const userColumns = `id, email, username, password_hash, balance, is_active, created_at, deleted_at`

// Store is the Postgres ledger. Every transaction runs at READ COMMITTED;
// exclusion comes from SELECT ... FOR UPDATE row locks, and lock waits are
// bounded by lock_timeout.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

var _ transfer.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx transfer.Tx) error) error {
	return s.inTx(ctx, func(pgTx pgx.Tx) error {
		return fn(ctx, &ledgerTx{tx: pgTx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(pgTx pgx.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer pgTx.Rollback(ctx)

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := pgTx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return classify("set lock timeout", err)
		}
	}

	if err := fn(pgTx); err != nil {
		return classify("ledger transaction", err)
	}

	if err := pgTx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, bool, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, false, nil
	}
	if err != nil {
		return domain.Payment{}, false, classify("get payment", err)
	}
	return p, true, nil
}

func (s *Store) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE sender_id = $1 AND deleted_at IS NULL`
	args := []any{filter.SenderID}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d::payment_status", len(args))
	}
	if filter.MinAmount != nil {
		args = append(args, *filter.MinAmount)
		query += fmt.Sprintf(" AND amount >= $%d", len(args))
	}
	if filter.MaxAmount != nil {
		args = append(args, *filter.MaxAmount)
		query += fmt.Sprintf(" AND amount <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list payments", err)
	}
	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Payment, error) {
		return scanPayment(row)
	})
	if err != nil {
		return nil, classify("list payments", err)
	}
	return payments, nil
}

func (s *Store) ListLogs(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, seq, payment_id, performed_by, prev_status::text, new_status::text, amount, note, created_at
		FROM payment_logs
		WHERE payment_id = $1
		ORDER BY seq ASC`, paymentID)
	if err != nil {
		return nil, classify("list payment logs", err)
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PaymentLog, error) {
		var (
			l          domain.PaymentLog
			prev, next string
		)
		err := row.Scan(&l.ID, &l.Seq, &l.PaymentID, &l.ActorID, &prev, &next, &l.Amount, &l.Note, &l.CreatedAt)
		l.PrevStatus = domain.PaymentStatus(prev)
		l.NewStatus = domain.PaymentStatus(next)
		return l, err
	})
	if err != nil {
		return nil, classify("list payment logs", err)
	}
	return logs, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) LockPayment(ctx context.Context, id uuid.UUID) (domain.Payment, bool, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, false, nil
	}
	if err != nil {
		return domain.Payment{}, false, classify("lock payment", err)
	}
	return p, true, nil
}

func (t *ledgerTx) LockUser(ctx context.Context, id uuid.UUID) (domain.User, bool, error) {
	return t.user(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (t *ledgerTx) GetUser(ctx context.Context, id uuid.UUID) (domain.User, bool, error) {
	return t.user(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (t *ledgerTx) user(ctx context.Context, query string, id uuid.UUID) (domain.User, bool, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, classify("load user", err)
	}
	return u, true, nil
}

func (t *ledgerTx) InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	out, err := scanPayment(t.tx.QueryRow(ctx, `
		INSERT INTO payments (sender_id, recipient_id, card_last4, card_holder, amount, status, version)
		VALUES ($1, $2, $3, $4, $5, $6::payment_status, $7)
		RETURNING `+paymentColumns,
		p.SenderID, p.RecipientID, p.Last4, p.Holder, p.Amount, string(p.Status), p.Version,
	))
	if err != nil {
		return domain.Payment{}, classify("insert payment", err)
	}
	return out, nil
}

func (t *ledgerTx) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, expectedVersion int64) (domain.Payment, error) {
	out, err := scanPayment(t.tx.QueryRow(ctx, `
		UPDATE payments
		SET status = $2::payment_status, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3 AND deleted_at IS NULL
		RETURNING `+paymentColumns,
		id, string(status), expectedVersion,
	))
	return versioned(out, err, expectedVersion)
}

func (t *ledgerTx) SoftDeletePayment(ctx context.Context, id uuid.UUID, expectedVersion int64) (domain.Payment, error) {
	out, err := scanPayment(t.tx.QueryRow(ctx, `
		UPDATE payments
		SET deleted_at = NOW(), version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		RETURNING `+paymentColumns,
		id, expectedVersion,
	))
	return versioned(out, err, expectedVersion)
}

// versioned reports a missed version predicate as a conflict.
func versioned(p domain.Payment, err error, expectedVersion int64) (domain.Payment, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.NewError(domain.KindConflict, "payment is no longer at version %d", expectedVersion)
	}
	if err != nil {
		return domain.Payment{}, classify("update payment", err)
	}
	return p, nil
}

func (t *ledgerTx) SaveBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, userID, balance)
	if err != nil {
		return classify("save balance", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.NewError(domain.KindNotFound, "user %s not found", userID)
	}
	return nil
}

func (t *ledgerTx) AppendLog(ctx context.Context, entry domain.PaymentLog) (domain.PaymentLog, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payment_logs (id, payment_id, performed_by, prev_status, new_status, amount, note, created_at)
		VALUES ($1, $2, $3, $4::payment_status, $5::payment_status, $6, $7, $8)
		RETURNING seq`,
		entry.ID, entry.PaymentID, entry.ActorID, string(entry.PrevStatus), string(entry.NewStatus), entry.Amount, entry.Note, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return domain.PaymentLog{}, classify("append payment log", err)
	}
	return entry, nil
}

func (t *ledgerTx) EnqueueWebhook(ctx context.Context, url string, payload []byte) error {
	if _, err := t.tx.Exec(ctx, `INSERT INTO webhook_jobs (url, payload) VALUES ($1, $2)`, url, payload); err != nil {
		return classify("enqueue webhook", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.SenderID, &p.RecipientID, &p.Last4, &p.Holder, &p.Amount,
		&status, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	p.Status = domain.PaymentStatus(status)
	return p, err
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Balance, &u.Active, &u.CreatedAt, &u.DeletedAt)
	return u, err
}
