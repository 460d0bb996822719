package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"lock timeout", &pgconn.PgError{Code: codeLockNotAvailable}, domain.ErrBusy},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, domain.ErrBusy},
		{"serialization", fmt.Errorf("exec: %w", &pgconn.PgError{Code: codeSerializationFailure}), domain.ErrBusy},
		{"unique", &pgconn.PgError{Code: codeUniqueViolation}, domain.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: codeForeignKeyViolation}, domain.ErrNotFound},
		{"numeric overflow", &pgconn.PgError{Code: codeNumericOverflow}, domain.ErrConflict},
		{"deadline", context.DeadlineExceeded, domain.ErrBusy},
		{"other", errors.New("connection reset"), domain.ErrStorageUnavailable},
		{"already classified", domain.ErrInsufficientFunds, domain.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("op", tc.err)
			assert.ErrorIs(t, got, tc.want)
		})
	}

	assert.Nil(t, classify("op", nil))

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(classify("op", &pgconn.PgError{Code: codeUniqueViolation}), &pgErr), "cause is kept")
}
