package credentials

import "sync"

// InMemoryStore keeps the credential for the lifetime of the process
type InMemoryStore[T Record] struct {
	mu     sync.RWMutex
	record *T
}

var _ Store[StaffCredential] = (*InMemoryStore[StaffCredential])(nil)

// NewInMemoryStore creates an empty in-memory credential store
func NewInMemoryStore[T Record]() *InMemoryStore[T] {
	return &InMemoryStore[T]{}
}

func (s *InMemoryStore[T]) Get() (*T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.record == nil {
		return nil, false
	}
	// Hand out a copy so callers can't modify the stored record
	record := *s.record
	return &record, true
}

func (s *InMemoryStore[T]) Set(credential T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !credential.Complete() {
		s.record = nil
		return
	}
	s.record = &credential
}

func (s *InMemoryStore[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = nil
}
