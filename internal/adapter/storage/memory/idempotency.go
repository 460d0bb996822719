package memory

import (
	"context"
	"slices"
)

type idemRecord struct {
	status int
	body   []byte
}

func (s *Store) Lookup(_ context.Context, key string) (int, []byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.idem[key]
	if !ok {
		return 0, nil, false, nil
	}
	return rec.status, slices.Clone(rec.body), true, nil
}

// Save keeps the first response stored under key.
func (s *Store) Save(_ context.Context, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.idem[key]; !ok {
		s.idem[key] = idemRecord{status: status, body: slices.Clone(body)}
	}
	return nil
}
