// Package audit appends the immutable trail of payment status transitions.
package audit

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

const maxNoteLength = 1024

// Appender persists one log row inside the caller's transaction and assigns
// its sequence number. Implementations never update or delete rows.
type Appender interface {
	AppendLog(ctx context.Context, entry domain.PaymentLog) (domain.PaymentLog, error)
}

// Entry is what happened to a payment.
type Entry struct {
	Payment domain.Payment
	Actor   *uuid.UUID
	Prev    domain.PaymentStatus
	New     domain.PaymentStatus
	Note    string
}

type Logger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Append writes one entry through a. The amount is snapshotted from the
// payment as it stands at the moment of the transition.
func (l *Logger) Append(ctx context.Context, a Appender, e Entry) (domain.PaymentLog, error) {
	amount := e.Payment.Amount
	entry := domain.PaymentLog{
		ID:         uuid.New(),
		PaymentID:  e.Payment.ID,
		ActorID:    e.Actor,
		PrevStatus: e.Prev,
		NewStatus:  e.New,
		Amount:     &amount,
		Note:       truncate(e.Note, maxNoteLength),
		CreatedAt:  l.now(),
	}

	saved, err := a.AppendLog(ctx, entry)
	if err != nil {
		l.logger.Error("audit append failed",
			zap.String("payment_id", e.Payment.ID.String()),
			zap.Error(err),
		)
		return domain.PaymentLog{}, domain.Wrap(domain.KindStorageUnavailable, "append payment log", err)
	}

	l.logger.Debug("audit entry appended",
		zap.String("payment_id", saved.PaymentID.String()),
		zap.Int64("seq", saved.Seq),
		zap.String("prev_status", string(saved.PrevStatus)),
		zap.String("new_status", string(saved.NewStatus)),
	)
	return saved, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
