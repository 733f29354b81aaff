package groupchat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/models"
)

// PostResult is the outcome of one Post.
type PostResult struct {
	Message *models.GroupMessage
	Replies []models.GroupMessage

	// Err is set when an AI member failed to answer. Members after the
	// failing one are not asked.
	Err *llm.APIError
}

// Post stores userID's message and lets the mentioned AI members reply in
// turn. Each member sees the replies of the members before it.
func (s *Service) Post(ctx context.Context, groupID, userID, text string) (*PostResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message is empty")
	}
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	msg, err := s.store.CreateGroupMessage(ctx, groupID, models.UserSender(userID), text)
	if err != nil {
		return nil, fmt.Errorf("storing group message: %w", err)
	}
	result := &PostResult{Message: msg}

	aiMembers, err := s.store.GetGroupAIMembers(ctx, groupID)
	if err != nil {
		return result, fmt.Errorf("loading AI members: %w", err)
	}
	mentioned := Mentioned(text, aiMembers)
	if len(mentioned) == 0 {
		return result, nil
	}

	history, err := s.history(ctx, groupID, aiMembers)
	if err != nil {
		return result, err
	}

	creds, err := s.credentials.Credentials(ctx, userID)
	if err != nil {
		result.Err = asAPIError(err)
		s.logger.Warn("AI members cannot reply", zap.String("group_id", groupID), zap.Error(err))
		return result, nil
	}

	for _, member := range mentioned {
		content, err := s.assistant.GroupMemberReply(ctx, creds, member, history, text)
		if err != nil {
			result.Err = asAPIError(err)
			s.logger.Warn("AI member failed to reply",
				zap.String("group_id", groupID),
				zap.String("ai_member_id", member.ID),
				zap.Error(err))
			break
		}
		if content == "" {
			continue
		}

		reply, err := s.store.CreateGroupMessage(ctx, groupID, models.AIMemberSender(member.ID), content)
		if err != nil {
			return result, fmt.Errorf("storing reply of %s: %w", member.Name, err)
		}
		result.Replies = append(result.Replies, *reply)
		history = append(history, llm.GroupTurn{Sender: member.Name, Content: content, IsAI: true})
	}
	return result, nil
}

// Messages returns the group's messages in ascending order.
func (s *Service) Messages(ctx context.Context, groupID string) ([]models.GroupMessage, error) {
	return s.store.GetGroupMessages(ctx, groupID)
}

// Mentioned returns the active AI members text addresses by "@name". With no
// name mentioned, "@ai" addresses every active member.
func Mentioned(text string, members []models.AIGroupMember) []models.AIGroupMember {
	var named, active []models.AIGroupMember
	for _, m := range members {
		if !m.IsActive {
			continue
		}
		active = append(active, m)
		if strings.Contains(text, "@"+m.Name) {
			named = append(named, m)
		}
	}
	if len(named) > 0 {
		return named
	}
	if strings.Contains(text, MentionAll) {
		return active
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, groupID, userID string) error {
	members, err := s.store.GetGroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.UserID == userID {
			return nil
		}
	}
	return ErrNotMember
}

func (s *Service) history(ctx context.Context, groupID string, aiMembers []models.AIGroupMember) ([]llm.GroupTurn, error) {
	messages, err := s.store.GetGroupMessages(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading group messages: %w", err)
	}
	return s.render(ctx, messages, aiMembers)
}

// Render labels messages of groupID with their senders' display names.
func (s *Service) Render(ctx context.Context, groupID string, messages []models.GroupMessage) ([]llm.GroupTurn, error) {
	aiMembers, err := s.store.GetGroupAIMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading AI members: %w", err)
	}
	return s.render(ctx, messages, aiMembers)
}

func (s *Service) render(ctx context.Context, messages []models.GroupMessage, aiMembers []models.AIGroupMember) ([]llm.GroupTurn, error) {
	aiNames := make(map[string]string, len(aiMembers))
	for _, m := range aiMembers {
		aiNames[m.ID] = m.Name
	}
	userNames := make(map[string]string)

	turns := make([]llm.GroupTurn, 0, len(messages))
	for _, m := range messages {
		if id, ok := m.Sender.AIMemberID(); ok {
			name, known := aiNames[id]
			if !known {
				name = "AI"
			}
			turns = append(turns, llm.GroupTurn{Sender: name, Content: m.Content, IsAI: true})
			continue
		}

		id, _ := m.Sender.UserID()
		name, cached := userNames[id]
		if !cached {
			name = "用户"
			user, err := s.store.GetUser(ctx, id)
			if err != nil {
				return nil, err
			}
			if user != nil && user.Name != "" {
				name = user.Name
			}
			userNames[id] = name
		}
		turns = append(turns, llm.GroupTurn{Sender: name, Content: m.Content})
	}
	return turns, nil
}

func asAPIError(err error) *llm.APIError {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &llm.APIError{Code: llm.CodeTransport, Message: err.Error(), Err: err}
}
