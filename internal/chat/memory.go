package chat

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store, used in tests and as a fallback when no
// storage backend is configured.
type MemoryStore struct {
	mu        sync.Mutex
	convs     map[string]Conversation
	currentID string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: map[string]Conversation{}}
}

// Save stores a snapshot of conv.
func (s *MemoryStore) Save(ctx context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv.snapshot()
	return nil
}

// Delete removes a conversation. Deleting the current one clears currency.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
	if s.currentID == id {
		s.currentID = ""
	}
	return nil
}

// ListAll returns all conversations, most recently updated first.
func (s *MemoryStore) ListAll(ctx context.Context) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// CurrentID returns the active conversation id, empty when unset.
func (s *MemoryStore) CurrentID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID, nil
}

// SetCurrentID marks the active conversation.
func (s *MemoryStore) SetCurrentID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = id
	return nil
}
