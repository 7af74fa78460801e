package store

import (
	"context"
	"sync"

	"github.com/hieutrtr/ragforge/internal/retrieval"
)

// MemoryStore keeps conversation history in process memory. It backs tests
// and single-node runs where durability does not matter.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]retrieval.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]retrieval.Message)}
}

// AppendMessage adds one message to the session's history.
func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg retrieval.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	return nil
}

// History returns up to limit most recent messages in chronological order.
func (m *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]retrieval.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.sessions[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]retrieval.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
