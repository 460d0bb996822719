package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
	"github.com/ibrahimkeyboad/payflow/internal/core/transfer"
)

func seedUser(t *testing.T, s *Store, email, balance string) domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), domain.User{
		Email:    email,
		Username: email,
		Balance:  decimal.RequireFromString(balance),
		Active:   true,
	})
	require.NoError(t, err)
	return u
}

func seedPayment(t *testing.T, s *Store, sender, recipient uuid.UUID) domain.Payment {
	t.Helper()
	var p domain.Payment
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
		var err error
		p, err = tx.InsertPayment(ctx, domain.Payment{
			SenderID:    sender,
			RecipientID: recipient,
			Instrument:  domain.Instrument{Last4: "4242", Holder: "A"},
			Amount:      decimal.RequireFromString("10.00"),
			Status:      domain.StatusCreated,
			Version:     1,
		})
		return err
	})
	require.NoError(t, err)
	return p
}

func TestWithinTx_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	a := seedUser(t, s, "a@example.com", "100.00")
	b := seedUser(t, s, "b@example.com", "0.00")
	p := seedPayment(t, s, a.ID, b.ID)

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
		if _, _, err := tx.LockUser(ctx, a.ID); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, a.ID, decimal.Zero); err != nil {
			return err
		}
		if _, err := tx.UpdatePaymentStatus(ctx, p.ID, domain.StatusPaid, p.Version); err != nil {
			return err
		}
		if _, err := tx.AppendLog(ctx, domain.PaymentLog{ID: uuid.New(), PaymentID: p.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, _, _ := s.GetUserByID(context.Background(), a.ID)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("100.00")))

	got, _, _ := s.GetPayment(context.Background(), p.ID)
	assert.Equal(t, domain.StatusCreated, got.Status)
	assert.Equal(t, int64(1), got.Version)

	logs, err := s.ListLogs(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestWithinTx_CommitPublishesWrites(t *testing.T) {
	s := New()
	a := seedUser(t, s, "a@example.com", "100.00")
	b := seedUser(t, s, "b@example.com", "0.00")
	p := seedPayment(t, s, a.ID, b.ID)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
		if _, _, err := tx.LockUser(ctx, b.ID); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, b.ID, decimal.RequireFromString("5.00")); err != nil {
			return err
		}
		u, _, err := tx.GetUser(ctx, b.ID)
		if err != nil {
			return err
		}
		assert.True(t, u.Balance.Equal(decimal.RequireFromString("5.00")), "tx reads its own writes")

		_, err = tx.UpdatePaymentStatus(ctx, p.ID, domain.StatusCanceled, 1)
		return err
	})
	require.NoError(t, err)

	u, _, _ := s.GetUserByID(context.Background(), b.ID)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("5.00")))

	got, _, _ := s.GetPayment(context.Background(), p.ID)
	assert.Equal(t, domain.StatusCanceled, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpdatePaymentStatus_VersionMismatch(t *testing.T) {
	s := New()
	a := seedUser(t, s, "a@example.com", "1.00")
	p := seedPayment(t, s, a.ID, a.ID)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
		_, err := tx.UpdatePaymentStatus(ctx, p.ID, domain.StatusPaid, 7)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestSaveBalance_RequiresRowLock(t *testing.T) {
	s := New()
	a := seedUser(t, s, "a@example.com", "1.00")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
		return tx.SaveBalance(ctx, a.ID, decimal.Zero)
	})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestLockUser_TimesOutAsBusy(t *testing.T) {
	s := New(WithLockTimeout(20 * time.Millisecond))
	a := seedUser(t, s, "a@example.com", "1.00")

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
			if _, _, err := tx.LockUser(ctx, a.ID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
		_, _, err := tx.LockUser(ctx, a.ID)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.True(t, domain.Retryable(err))

	close(release)
	require.NoError(t, <-done)

	// the lock is free again once the holder commits
	err = s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
		_, _, err := tx.LockUser(ctx, a.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestLockPayment_Reentrant(t *testing.T) {
	s := New(WithLockTimeout(20 * time.Millisecond))
	a := seedUser(t, s, "a@example.com", "1.00")
	p := seedPayment(t, s, a.ID, a.ID)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
		if _, _, err := tx.LockPayment(ctx, p.ID); err != nil {
			return err
		}
		_, _, err := tx.LockPayment(ctx, p.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestAppendLog_SeqIncreases(t *testing.T) {
	s := New()
	a := seedUser(t, s, "a@example.com", "1.00")
	p := seedPayment(t, s, a.ID, a.ID)

	for range 3 {
		err := s.WithinTx(context.Background(), func(ctx context.Context, tx transfer.Tx) error {
			_, err := tx.AppendLog(ctx, domain.PaymentLog{ID: uuid.New(), PaymentID: p.ID})
			return err
		})
		require.NoError(t, err)
	}

	logs, err := s.ListLogs(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Less(t, logs[0].Seq, logs[1].Seq)
	assert.Less(t, logs[1].Seq, logs[2].Seq)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := New()
	seedUser(t, s, "a@example.com", "0")

	_, err := s.CreateUser(context.Background(), domain.User{Email: "A@Example.com ", Active: true})
	assert.ErrorIs(t, err, domain.ErrConflict)

	u, found, err := s.GetUserByEmail(context.Background(), "A@EXAMPLE.COM")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a@example.com", u.Email)
}

func TestDeleteUser_Anonymizes(t *testing.T) {
	s := New()
	a := seedUser(t, s, "a@example.com", "3.00")

	deleted, err := s.DeleteUser(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, deleted.Active)
	assert.NotNil(t, deleted.DeletedAt)
	assert.NotEqual(t, "a@example.com", deleted.Email)

	_, found, _ := s.GetUserByEmail(context.Background(), "a@example.com")
	assert.False(t, found)

	// the address can be registered again
	seedUser(t, s, "a@example.com", "0")

	_, err = s.DeleteUser(context.Background(), a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdempotency_FirstResponseWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _, found, err := s.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, "k", 201, []byte(`{"a":1}`)))
	require.NoError(t, s.Save(ctx, "k", 500, []byte(`{"a":2}`)))

	status, body, found, err := s.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 201, status)
	assert.JSONEq(t, `{"a":1}`, string(body))
}

func TestJobQueue_ClaimLeaseAndRetry(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx transfer.Tx) error {
		if err := tx.EnqueueWebhook(ctx, "http://hook/1", []byte(`{"n":1}`)); err != nil {
			return err
		}
		return tx.EnqueueWebhook(ctx, "http://hook/2", []byte(`{"n":2}`))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.PendingJobs())

	first, found, err := s.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "http://hook/1", first.URL)
	assert.Equal(t, 1, first.Attempts)

	second, found, err := s.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "http://hook/2", second.URL)

	_, found, err = s.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, found, "leased jobs are hidden")

	require.NoError(t, s.Complete(ctx, first.ID))
	require.NoError(t, s.Retry(ctx, second.ID, time.Now().Add(-time.Second)))
	assert.Equal(t, 1, s.PendingJobs())

	again, found, err := s.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)

	require.NoError(t, s.Fail(ctx, again.ID))
	assert.Equal(t, 0, s.PendingJobs())
}
