// Package groupchat manages group rooms with human and AI members and
// dispatches @mentions to the AI members.
package groupchat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/storage"
)

// MentionAll addresses every active AI member.
const MentionAll = "@ai"

var (
	ErrGroupNotFound    = errors.New("group not found")
	ErrAIMemberNotFound = errors.New("AI member not found")
	ErrNotMember        = errors.New("user is not a member of the group")
	ErrInvalidRole      = errors.New("invalid AI member role")
	ErrNotCreator       = errors.New("only the group creator can do this")
)

type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (llm.Credentials, error)
}

// AchievementEvaluator is told when a user did something that may unlock an
// achievement.
type AchievementEvaluator interface {
	EvaluateAchievements(ctx context.Context, userID string) ([]models.Achievement, error)
}

type Service struct {
	store        *storage.Store
	assistant    *llm.Assistant
	credentials  CredentialSource
	achievements AchievementEvaluator
	logger       *zap.Logger
}

func New(store *storage.Store, assistant *llm.Assistant, credentials CredentialSource, achievements AchievementEvaluator, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		assistant:    assistant,
		credentials:  credentials,
		achievements: achievements,
		logger:       logger,
	}
}

// CreateGroup creates a group with creatorID as its admin.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name, description string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("group name is empty")
	}

	group, err := s.store.CreateGroup(ctx, models.Group{
		Name:        name,
		Description: description,
		CreatorID:   creatorID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}
	if _, err := s.store.AddGroupMember(ctx, group.ID, creatorID, models.GroupRoleAdmin); err != nil {
		return nil, fmt.Errorf("adding creator: %w", err)
	}

	s.logger.Info("Group created", zap.String("group_id", group.ID), zap.String("creator_id", creatorID))
	if s.achievements != nil {
		if _, err := s.achievements.EvaluateAchievements(ctx, creatorID); err != nil {
			s.logger.Error("Failed to evaluate achievements", zap.Error(err))
		}
	}
	return group, nil
}

func (s *Service) AddMember(ctx context.Context, groupID, userID string) (*models.GroupMember, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.AddGroupMember(ctx, groupID, userID, models.GroupRoleMember)
}

func (s *Service) RemoveMember(ctx context.Context, groupID, userID string) error {
	return s.store.RemoveGroupMember(ctx, groupID, userID)
}

// AddAIMember adds an active AI persona and posts its greeting to the group.
func (s *Service) AddAIMember(ctx context.Context, groupID, name string, role models.AIRole, personality string) (*models.AIGroupMember, *models.GroupMessage, error) {
	if !role.IsValid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, fmt.Errorf("AI member name is empty")
	}
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, nil, err
	}

	member, err := s.store.CreateAIGroupMember(ctx, models.AIGroupMember{
		GroupID:     groupID,
		Name:        name,
		Role:        role,
		Personality: personality,
		IsActive:    true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating AI member: %w", err)
	}

	welcome, err := s.store.CreateGroupMessage(ctx, groupID, models.AIMemberSender(member.ID), welcomeText(*member))
	if err != nil {
		return member, nil, fmt.Errorf("posting welcome: %w", err)
	}

	s.logger.Info("AI member joined",
		zap.String("group_id", groupID),
		zap.String("ai_member_id", member.ID),
		zap.String("role", string(role)))
	return member, welcome, nil
}

func welcomeText(m models.AIGroupMember) string {
	description := m.Role.Description()
	if description == "" {
		description = "很高兴加入这个群聊"
	}
	return fmt.Sprintf("大家好！我是%s，%s！", m.Name, description)
}

// SetAIMemberActive toggles whether @ai reaches the member.
func (s *Service) SetAIMemberActive(ctx context.Context, id string, active bool) (*models.AIGroupMember, error) {
	member, err := s.store.UpdateAIGroupMember(ctx, id, models.AIGroupMemberPatch{IsActive: &active})
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrAIMemberNotFound
	}
	return member, nil
}

func (s *Service) RemoveAIMember(ctx context.Context, id string) error {
	return s.store.RemoveAIGroupMember(ctx, id)
}

func (s *Service) Rename(ctx context.Context, groupID, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("group name is empty")
	}
	group, err := s.store.UpdateGroup(ctx, groupID, models.GroupPatch{Name: &name})
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// AIMembers lists the group's AI members, muted ones included.
func (s *Service) AIMembers(ctx context.Context, groupID string) ([]models.AIGroupMember, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.GetGroupAIMembers(ctx, groupID)
}

// FindAIMember looks an AI member of the group up by id or by name. A leading
// @ on the name is ignored.
func (s *Service) FindAIMember(ctx context.Context, groupID, ref string) (*models.AIGroupMember, error) {
	members, err := s.AIMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	for i := range members {
		if members[i].ID == ref || members[i].Name == ref {
			return &members[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrAIMemberNotFound, ref)
}

// Dissolve deletes the group on behalf of userID, who must have created it.
func (s *Service) Dissolve(ctx context.Context, groupID, userID string) error {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID != userID {
		return ErrNotCreator
	}
	return s.Delete(ctx, groupID)
}

// Delete removes the group with its members, AI members and messages.
func (s *Service) Delete(ctx context.Context, groupID string) error {
	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return fmt.Errorf("deleting group %s: %w", groupID, err)
	}
	s.logger.Info("Group deleted", zap.String("group_id", groupID))
	return nil
}

func (s *Service) group(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}
