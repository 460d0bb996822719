package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/payflow/internal/core/domain"
)

// CreateUser stores u with a fresh id. The email must not be taken.
func (s *Store) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(u.Email)
	if _, taken := s.emails[email]; taken {
		return domain.User{}, domain.NewError(domain.KindConflict, "email already registered")
	}

	u.ID = uuid.New()
	u.Email = email
	u.Balance = domain.Normalize(u.Balance)
	u.CreatedAt = s.now()
	s.users[u.ID] = &userRow{lock: newRowLock(), data: u}
	s.emails[email] = u.ID
	return u, nil
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	return row.data, true, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	s.mu.RLock()
	id, ok := s.emails[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return domain.User{}, false, nil
	}
	return s.GetUserByID(ctx, id)
}

// DeleteUser anonymizes the user while holding its row lock, so it never
// interleaves with a transfer touching the same balance.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	s.mu.RLock()
	row, ok := s.users[id]
	s.mu.RUnlock()
	if !ok {
		return domain.User{}, domain.NewError(domain.KindNotFound, "user not found")
	}

	if err := row.lock.acquire(ctx, s.lockTimeout); err != nil {
		return domain.User{}, err
	}
	defer row.lock.release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !row.data.Active {
		return domain.User{}, domain.NewError(domain.KindNotFound, "user not found")
	}
	delete(s.emails, row.data.Email)
	row.data.Anonymize(s.now())
	s.emails[row.data.Email] = id
	return row.data, nil
}
