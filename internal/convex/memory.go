package convex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nexus/internal/broadcast"
)

// MemoryStore is an in-process conversation and message store with the same
// surface the Convex client exposes. It backs keyless runs and tests where no
// deployment is available.
type MemoryStore struct {
	mu            sync.Mutex
	nextID        int
	conversations map[string]*Conversation
	messages      map[string][]StoredMessage
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]StoredMessage),
	}
}

func (s *MemoryStore) newIDLocked(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

// CreateConversation creates a conversation and returns its id.
func (s *MemoryStore) CreateConversation(_ context.Context, title string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	id := s.newIDLocked("conv")
	s.conversations[id] = &Conversation{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

// ListConversations lists conversations, newest first.
func (s *MemoryStore) ListConversations(_ context.Context, limit int, includeArchived bool) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if conv.IsArchived && !includeArchived {
			continue
		}
		out = append(out, *conv)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt > out[i].CreatedAt {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetMessages returns a conversation's messages in creation order.
func (s *MemoryStore) GetMessages(_ context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	out := append([]StoredMessage(nil), msgs...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AddMessage appends a message and returns its id. An unknown conversation id
// is accepted; the conversation record is created implicitly.
func (s *MemoryStore) AddMessage(_ context.Context, msg StoredMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	msg.ID = s.newIDLocked("msg")
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		s.conversations[msg.ConversationID] = &Conversation{
			ID:        msg.ConversationID,
			CreatedAt: msg.CreatedAt,
			UpdatedAt: msg.CreatedAt,
		}
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg.ID, nil
}

// SaveMessage implements broadcast.MessageRepository.
func (s *MemoryStore) SaveMessage(ctx context.Context, msg broadcast.Message) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.AddMessage(ctx, StoredMessage{
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		PanelID:        msg.PanelID,
		BroadcastID:    msg.BroadcastID,
		IsComplete:     msg.IsComplete,
		CreatedAt:      createdAt.UnixMilli(),
	})
	return err
}
