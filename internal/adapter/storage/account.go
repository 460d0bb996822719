package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

// CreateUser inserts u. A taken email is reported as a conflict.
func (s *Store) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	out, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash, balance, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		strings.ToLower(strings.TrimSpace(u.Email)), u.Username, u.PasswordHash, domain.Normalize(u.Balance), u.Active,
	))
	if err != nil {
		return domain.User{}, classify("create user", err)
	}
	return out, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, bool, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (domain.User, bool, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, classify("get user", err)
	}
	return u, true, nil
}

// DeleteUser anonymizes the user under its row lock. The row itself stays so
// the payments and logs that reference it remain valid.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var out domain.User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && !u.Active) {
			return domain.NewError(domain.KindNotFound, "user not found")
		}
		if err != nil {
			return err
		}

		u.Anonymize(time.Now().UTC())
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET email = $2, username = $3, password_hash = $4, is_active = FALSE, deleted_at = $5
			WHERE id = $1`,
			u.ID, u.Email, u.Username, u.PasswordHash, u.DeletedAt,
		)
		out = u
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return out, nil
}
