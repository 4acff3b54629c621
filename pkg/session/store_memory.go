package session

import (
	"context"
	"sync"
	"time"

	"github.com/harun/confer/pkg/schema"
)

type memoryEntry struct {
	messages  []schema.Message
	expiresAt time.Time
}

// MemoryStore keeps transcripts in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		now:      time.Now,
	}
}

func (s *MemoryStore) LoadHistory(_ context.Context, sessionID string) ([]schema.Message, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[sessionID]
	if !ok || !s.now().Before(entry.expiresAt) {
		return []schema.Message{}, nil
	}
	return append([]schema.Message(nil), entry.messages...), nil
}

func (s *MemoryStore) ReplaceHistory(_ context.Context, sessionID string, messages []schema.Message, ttl time.Duration) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = memoryEntry{
		messages:  append([]schema.Message(nil), messages...),
		expiresAt: s.now().Add(effectiveTTL(ttl)),
	}
	return nil
}

// Purge drops expired sessions
func (s *MemoryStore) Purge(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for id, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
