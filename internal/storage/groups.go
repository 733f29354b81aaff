package storage

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/models"
)

func (s *Store) CreateGroup(ctx context.Context, g models.Group) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	g.ID = s.newID()
	g.CreatedAt = now
	g.UpdatedAt = now
	if err := groups.insert(ctx, s.backend, g); err != nil {
		return nil, err
	}

	s.logger.Debug("Created group", zap.String("group_id", g.ID), zap.String("name", g.Name))
	return &g, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return groups.get(ctx, s.backend, id)
}

func (s *Store) UpdateGroup(ctx context.Context, id string, patch models.GroupPatch) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	return groups.update(ctx, s.backend, id, func(g *models.Group) {
		patch.Apply(g)
		g.UpdatedAt = now
	})
}

func (s *Store) ListGroups(ctx context.Context) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return groups.filter(ctx, s.backend, func(*models.Group) bool { return true })
}

// GetUserGroups returns the groups the user is a member of, in creation order.
func (s *Store) GetUserGroups(ctx context.Context, userID string) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	memberships, err := groupMembers.filter(ctx, s.backend, func(m *models.GroupMember) bool { return m.UserID == userID })
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(memberships))
	for _, m := range memberships {
		ids[m.GroupID] = struct{}{}
	}
	return groups.filter(ctx, s.backend, func(g *models.Group) bool {
		_, ok := ids[g.ID]
		return ok
	})
}

// DeleteGroup removes the group with its members, messages and AI members.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := groupMembers.removeWhere(ctx, s.backend, func(m *models.GroupMember) bool { return m.GroupID == id }); err != nil {
		return fmt.Errorf("deleting members of group %s: %w", id, err)
	}
	if _, err := groupMessages.removeWhere(ctx, s.backend, func(m *models.GroupMessage) bool { return m.GroupID == id }); err != nil {
		return fmt.Errorf("deleting messages of group %s: %w", id, err)
	}
	if _, err := aiGroupMembers.removeWhere(ctx, s.backend, func(m *models.AIGroupMember) bool { return m.GroupID == id }); err != nil {
		return fmt.Errorf("deleting AI members of group %s: %w", id, err)
	}
	if _, err := groups.removeWhere(ctx, s.backend, func(g *models.Group) bool { return g.ID == id }); err != nil {
		return fmt.Errorf("deleting group %s: %w", id, err)
	}

	s.logger.Debug("Deleted group", zap.String("group_id", id))
	return nil
}

// AddGroupMember adds the user to the group. Adding an existing member
// returns the existing membership unchanged.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string, role models.GroupRole) (*models.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := groupMembers.load(ctx, s.backend)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.GroupID == groupID && m.UserID == userID {
			existing := m
			return &existing, nil
		}
	}

	if role == "" {
		role = models.GroupRoleMember
	}
	m := models.GroupMember{
		ID:       s.newID(),
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: s.Now(),
	}
	if err := groupMembers.save(ctx, s.backend, append(all, m)); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetGroupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return groupMembers.filter(ctx, s.backend, func(m *models.GroupMember) bool { return m.GroupID == groupID })
}

func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := groupMembers.removeWhere(ctx, s.backend, func(m *models.GroupMember) bool {
		return m.GroupID == groupID && m.UserID == userID
	})
	if err != nil {
		return fmt.Errorf("removing member %s from group %s: %w", userID, groupID, err)
	}
	return nil
}

func (s *Store) CreateAIGroupMember(ctx context.Context, m models.AIGroupMember) (*models.AIGroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	m.ID = s.newID()
	m.CreatedAt = now
	m.UpdatedAt = now
	if err := aiGroupMembers.insert(ctx, s.backend, m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetAIGroupMember(ctx context.Context, id string) (*models.AIGroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return aiGroupMembers.get(ctx, s.backend, id)
}

func (s *Store) UpdateAIGroupMember(ctx context.Context, id string, patch models.AIGroupMemberPatch) (*models.AIGroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	return aiGroupMembers.update(ctx, s.backend, id, func(m *models.AIGroupMember) {
		patch.Apply(m)
		m.UpdatedAt = now
	})
}

// GetGroupAIMembers returns every AI persona of the group, active or not.
func (s *Store) GetGroupAIMembers(ctx context.Context, groupID string) ([]models.AIGroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return aiGroupMembers.filter(ctx, s.backend, func(m *models.AIGroupMember) bool { return m.GroupID == groupID })
}

func (s *Store) RemoveAIGroupMember(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := aiGroupMembers.removeWhere(ctx, s.backend, func(m *models.AIGroupMember) bool { return m.ID == id }); err != nil {
		return fmt.Errorf("removing AI member %s: %w", id, err)
	}
	return nil
}

// CreateGroupMessage appends a group message and moves the group's
// last-message time forward.
func (s *Store) CreateGroupMessage(ctx context.Context, groupID string, sender models.GroupSender, content string) (*models.GroupMessage, error) {
	if sender.IsZero() {
		return nil, fmt.Errorf("group message in %s has no sender", groupID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	m := models.GroupMessage{
		ID:        s.newID(),
		GroupID:   groupID,
		Sender:    sender,
		Content:   content,
		CreatedAt: now,
	}
	if err := groupMessages.insert(ctx, s.backend, m); err != nil {
		return nil, err
	}

	_, err := groups.update(ctx, s.backend, groupID, func(g *models.Group) {
		g.LastMessageAt = &now
		g.UpdatedAt = now
	})
	if err != nil {
		return nil, fmt.Errorf("updating group last message: %w", err)
	}
	return &m, nil
}

// GetGroupMessages returns the group's messages in ascending creation order.
func (s *Store) GetGroupMessages(ctx context.Context, groupID string) ([]models.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := groupMessages.filter(ctx, s.backend, func(m *models.GroupMessage) bool { return m.GroupID == groupID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}
