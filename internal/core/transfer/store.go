package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

// Store is the ledger: users, payments and their logs.
//
// WithinTx runs fn in one transaction. If fn returns an error every write made
// through tx is discarded. Lock waits are bounded; a timed-out wait, a
// deadlock or a serialization failure surfaces as a domain.ErrBusy error.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetPayment returns the payment even when it has been soft-deleted.
	GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, bool, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error)
	// ListLogs returns the entries of one payment ordered by Seq.
	ListLogs(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentLog, error)
}

// Tx is the set of operations available inside a ledger transaction.
// Lock* methods take an exclusive row lock held until the transaction ends.
type Tx interface {
	LockPayment(ctx context.Context, id uuid.UUID) (domain.Payment, bool, error)
	LockUser(ctx context.Context, id uuid.UUID) (domain.User, bool, error)
	GetUser(ctx context.Context, id uuid.UUID) (domain.User, bool, error)

	InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error)
	// UpdatePaymentStatus sets the status and increments the version, provided
	// the stored version still equals expectedVersion. Otherwise it fails with
	// domain.ErrConflict.
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, expectedVersion int64) (domain.Payment, error)
	SoftDeletePayment(ctx context.Context, id uuid.UUID, expectedVersion int64) (domain.Payment, error)
	SaveBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error

	AppendLog(ctx context.Context, entry domain.PaymentLog) (domain.PaymentLog, error)
	EnqueueWebhook(ctx context.Context, url string, payload []byte) error
}
