package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/models"
)

// CreateConversation stores a new conversation and bumps the owner's
// conversation count.
func (s *Store) CreateConversation(ctx context.Context, c models.Conversation) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	c.ID = s.newID()
	c.MessageCount = 0
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := conversations.insert(ctx, s.backend, c); err != nil {
		return nil, err
	}

	if c.UserID != "" {
		_, err := users.update(ctx, s.backend, c.UserID, func(u *models.User) {
			u.ConversationCount++
			u.UpdatedAt = now
		})
		if err != nil {
			return nil, fmt.Errorf("updating conversation count: %w", err)
		}
	}

	s.logger.Debug("Created conversation",
		zap.String("conversation_id", c.ID),
		zap.String("user_id", c.UserID))
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conversations.get(ctx, s.backend, id)
}

func (s *Store) UpdateConversation(ctx context.Context, id string, patch models.ConversationPatch) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	return conversations.update(ctx, s.backend, id, func(c *models.Conversation) {
		patch.Apply(c)
		c.UpdatedAt = now
	})
}

// GetUserConversations returns the user's conversations, most recently active first.
func (s *Store) GetUserConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := conversations.filter(ctx, s.backend, func(c *models.Conversation) bool { return c.UserID == userID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return lastActive(list[i]).After(lastActive(list[j]))
	})
	return list, nil
}

// DeleteConversation removes the conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := messages.removeWhere(ctx, s.backend, func(m *models.Message) bool { return m.ConversationID == id }); err != nil {
		return fmt.Errorf("deleting messages of conversation %s: %w", id, err)
	}
	if _, err := conversations.removeWhere(ctx, s.backend, func(c *models.Conversation) bool { return c.ID == id }); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// CreateMessage appends a message and advances the conversation's message
// count and last activity in the same critical section.
func (s *Store) CreateMessage(ctx context.Context, m models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	m.ID = s.newID()
	m.CreatedAt = now
	if m.Sender == "" {
		m.Sender = models.SenderUser
	}
	if err := messages.insert(ctx, s.backend, m); err != nil {
		return nil, err
	}

	_, err := conversations.update(ctx, s.backend, m.ConversationID, func(c *models.Conversation) {
		c.MessageCount++
		c.LastActivityAt = &now
		c.UpdatedAt = now
	})
	if err != nil {
		return nil, fmt.Errorf("updating conversation activity: %w", err)
	}
	return &m, nil
}

// GetConversationMessages returns the conversation's messages in ascending
// creation order.
func (s *Store) GetConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationMessages(ctx, conversationID)
}

// GetRecentMessages returns at most n of the newest messages, oldest first.
func (s *Store) GetRecentMessages(ctx context.Context, conversationID string, n int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.conversationMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return list, nil
}

// GetUserMessages returns every message of the user's conversations, ascending.
func (s *Store) GetUserMessages(ctx context.Context, userID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned, err := conversations.filter(ctx, s.backend, func(c *models.Conversation) bool { return c.UserID == userID })
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(owned))
	for _, c := range owned {
		ids[c.ID] = struct{}{}
	}

	list, err := messages.filter(ctx, s.backend, func(m *models.Message) bool {
		_, ok := ids[m.ConversationID]
		return ok
	})
	if err != nil {
		return nil, err
	}
	sortMessages(list)
	return list, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := messages.removeWhere(ctx, s.backend, func(m *models.Message) bool { return m.ID == id }); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}

func (s *Store) conversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	list, err := messages.filter(ctx, s.backend, func(m *models.Message) bool { return m.ConversationID == conversationID })
	if err != nil {
		return nil, err
	}
	sortMessages(list)
	return list, nil
}

func sortMessages(list []models.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func lastActive(c models.Conversation) time.Time {
	if c.LastActivityAt != nil {
		return *c.LastActivityAt
	}
	return c.CreatedAt
}
