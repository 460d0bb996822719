package audit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

type recordingAppender struct {
	entries []domain.PaymentLog
	err     error
}

func (r *recordingAppender) AppendLog(_ context.Context, e domain.PaymentLog) (domain.PaymentLog, error) {
	if r.err != nil {
		return domain.PaymentLog{}, r.err
	}
	e.Seq = int64(len(r.entries) + 1)
	r.entries = append(r.entries, e)
	return e, nil
}

func TestLogger_AppendSnapshotsAmount(t *testing.T) {
	actor := uuid.New()
	p := domain.Payment{ID: uuid.New(), Amount: decimal.RequireFromString("100.00"), Status: domain.StatusCreated}
	app := &recordingAppender{}

	entry, err := NewLogger(nil).Append(context.Background(), app, Entry{
		Payment: p,
		Actor:   &actor,
		Prev:    domain.StatusCreated,
		New:     domain.StatusCanceled,
		Note:    "Payment canceled",
	})
	require.NoError(t, err)

	p.Amount = decimal.RequireFromString("1.00")

	assert.Equal(t, int64(1), entry.Seq)
	assert.Equal(t, p.ID, entry.PaymentID)
	assert.Equal(t, &actor, entry.ActorID)
	assert.Equal(t, domain.StatusCreated, entry.PrevStatus)
	assert.Equal(t, domain.StatusCanceled, entry.NewStatus)
	assert.Equal(t, "100.00", entry.Amount.StringFixed(2))
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Len(t, app.entries, 1)
}

func TestLogger_AppendPropagatesStorageFailure(t *testing.T) {
	cause := errors.New("connection refused")
	_, err := NewLogger(nil).Append(context.Background(), &recordingAppender{err: cause}, Entry{
		Payment: domain.Payment{ID: uuid.New()},
	})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestLogger_AppendTruncatesLongNotes(t *testing.T) {
	app := &recordingAppender{}
	entry, err := NewLogger(nil).Append(context.Background(), app, Entry{
		Payment: domain.Payment{ID: uuid.New()},
		Note:    strings.Repeat("я", 2000),
	})
	require.NoError(t, err)
	assert.Equal(t, maxNoteLength, len([]rune(entry.Note)))
}
