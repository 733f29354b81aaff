package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/xaenox/soullink/internal/models"
)

func (s *Store) CreateMemory(ctx context.Context, m models.Memory) (*models.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	m.ID = s.newID()
	m.CreatedAt = now
	m.UpdatedAt = now
	if err := memories.insert(ctx, s.backend, m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetUserMemories returns the user's memories, newest first.
func (s *Store) GetUserMemories(ctx context.Context, userID string) ([]models.Memory, error) {
	return s.memoriesWhere(ctx, func(m *models.Memory) bool { return m.UserID == userID })
}

func (s *Store) GetMemoriesByCategory(ctx context.Context, category, userID string) ([]models.Memory, error) {
	return s.memoriesWhere(ctx, func(m *models.Memory) bool {
		return m.UserID == userID && m.Category == category
	})
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := memories.removeWhere(ctx, s.backend, func(m *models.Memory) bool { return m.ID == id }); err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}
	return nil
}

func (s *Store) memoriesWhere(ctx context.Context, fn func(*models.Memory) bool) ([]models.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := memories.filter(ctx, s.backend, fn)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}
