package session

import (
	"context"
	"sync"
)

// Persistent store keys.
const (
	KeyIsLoggedIn            = "isLoggedIn"
	KeyLoginMethod           = "loginMethod"
	KeySessionExpiry         = "sessionExpiry"
	KeyUsedInviteCode        = "usedInviteCode"
	KeySessionResetTimestamp = "sessionResetTimestamp"
	KeyStudentProfile        = "studentProfile"
	KeyAPIKey                = "apiKey"
	KeyUserID                = "userId"
	KeyStudyEndTime          = "studyEndTime"
	KeyLearningHistory       = "learningHistory"
)

// Store is a durable client-local key-value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes the keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]string{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
