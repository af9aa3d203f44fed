package directory

import (
	"context"
	"sync"
	"time"
)

// Store persists registrations.
//
// Insert fails with ErrCodeTaken while an unexpired registration holds the
// code; an expired one may be overwritten. Get never returns an expired
// registration.
type Store interface {
	Insert(ctx context.Context, r Registration, now time.Time) error
	Get(ctx context.Context, code string, now time.Time) (Registration, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]Registration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]Registration)}
}

func (m *MemoryStore) Insert(_ context.Context, r Registration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.codes[r.Code]; ok && !old.Expired(now) {
		return ErrCodeTaken
	}
	m.codes[r.Code] = r
	return nil
}

func (m *MemoryStore) Get(_ context.Context, code string, now time.Time) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.codes[code]
	if !ok || r.Expired(now) {
		return Registration{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for code, r := range m.codes {
		if r.Expired(now) {
			delete(m.codes, code)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}

func (m *MemoryStore) Close() error { return nil }
