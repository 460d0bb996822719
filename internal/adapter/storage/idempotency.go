package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (s *Store) Lookup(ctx context.Context, key string) (int, []byte, bool, error) {
	var (
		status int
		body   []byte
	)
	err := s.pool.QueryRow(ctx,
		"SELECT response_status, response_body FROM idempotency_keys WHERE key_id = $1",
		key).Scan(&status, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, classify("lookup idempotency key", err)
	}
	return status, body, true, nil
}

// Save keeps the first response stored under key.
func (s *Store) Save(ctx context.Context, key string, status int, body []byte) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO idempotency_keys (key_id, response_status, response_body) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		key, status, body)
	if err != nil {
		return classify("save idempotency key", err)
	}
	return nil
}
