// Package session houses concrete implementations of the message Store.
// Keeping only implementations here prevents higher level packages (engine,
// server) from depending on concrete storage.
//
// Add additional backends (Redis, Postgres, etc.) without changing any
// calling code; only the wiring layer decides which implementation to
// instantiate.
package session

import (
	"context"
	"sort"
	"sync"

	"github.com/convoke-ai/convoke/core"
)

// Store is the persisted conversation history surface the engine depends on.
type Store interface {
	// AppendMessage persists one message at the end of its session's history.
	AppendMessage(ctx context.Context, msg core.Message) error

	// Messages returns the session history in append order.
	Messages(ctx context.Context, sessionID string) ([]core.Message, error)
}

// InMemoryStore is a volatile Store implementation holding histories in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Messages are copied on read and write to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]core.Message
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]core.Message)}
}

// AppendMessage implements Store.
func (s *InMemoryStore) AppendMessage(_ context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[msg.SessionID] = append(s.sessions[msg.SessionID], cloneMessage(msg))
	return nil
}

// Messages implements Store.
func (s *InMemoryStore) Messages(_ context.Context, sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.sessions[sessionID]
	out := make([]core.Message, len(stored))
	for i, msg := range stored {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

// SessionIDs returns the known session ids in sorted order.
func (s *InMemoryStore) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneMessage(msg core.Message) core.Message {
	cp := msg
	if msg.ToolCalls != nil {
		cp.ToolCalls = append([]core.ToolCall(nil), msg.ToolCalls...)
	}
	if msg.Reasoning != nil {
		cp.Reasoning = append([]core.ReasoningBlock(nil), msg.Reasoning...)
	}
	if msg.Attachments != nil {
		cp.Attachments = append([]core.Attachment(nil), msg.Attachments...)
	}
	if msg.Metadata != nil {
		meta := *msg.Metadata
		if msg.Metadata.ContributingAgents != nil {
			meta.ContributingAgents = append([]core.AgentRef(nil), msg.Metadata.ContributingAgents...)
		}
		cp.Metadata = &meta
	}
	return cp
}
