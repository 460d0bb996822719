package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

// Postgres SQLSTATE codes the ledger reacts to.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeNumericOverflow      = "22003"
	codeQueryCanceled        = "57014"
)

// classify turns a driver error into a domain error, keeping the cause.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}

	cause := fmt.Errorf("%s: %w", op, err)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure, codeQueryCanceled:
			return domain.Wrap(domain.KindBusy, "rows are locked by another transaction", cause)
		case codeUniqueViolation:
			return domain.Wrap(domain.KindConflict, "record already exists", cause)
		case codeForeignKeyViolation:
			return domain.Wrap(domain.KindNotFound, "referenced record does not exist", cause)
		case codeNumericOverflow:
			return domain.Wrap(domain.KindConflict, "amount out of range", cause)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.KindBusy, "storage deadline exceeded", cause)
	}
	return domain.Wrap(domain.KindStorageUnavailable, "storage unavailable", cause)
}
