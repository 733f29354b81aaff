package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/session"
)

var ErrEmptyMessage = errors.New("message is empty")

// DeliverFunc receives each stored reply as soon as it is written.
type DeliverFunc func(reply models.Message)

// Result describes one exchange.
type Result struct {
	Conversation *models.Conversation
	UserMessage  *models.Message
	Replies      []models.Message

	// Fallback is set when the replies were simulated; Err then holds the
	// message to show the user.
	Fallback bool
	Err      *llm.APIError

	Unlocked []models.Achievement
}

// Send stores the user's message in the session's conversation, asks the
// companion for a reply and stores every reply fragment. deliver may be nil.
//
// A collaborator failure never fails Send: a simulated reply is stored
// instead and the error is reported in Result.Err.
func (s *Service) Send(ctx context.Context, sess *session.Session, text string, deliver DeliverFunc) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := sess.CurrentConversation(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}
	logger := s.logger.With(zap.String("conversation_id", conv.ID))

	recent, err := s.store.GetRecentMessages(ctx, conv.ID, s.cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	userMsg, err := s.storeUserMessage(ctx, conv, text)
	if err != nil {
		return nil, err
	}
	result := &Result{UserMessage: userMsg}

	reply, apiErr := s.reply(ctx, conv, llm.HistoryTurns(recent), text)
	if apiErr != nil {
		logger.Warn("Chat failed, using simulated reply",
			zap.String("code", string(apiErr.Code)),
			zap.Error(apiErr))
		result.Fallback = true
		result.Err = apiErr
		reply = llm.Reply{Text: s.responder.SimulateReply(text)}
	}

	var fragments []string
	for _, fragment := range reply.Messages() {
		if fragment = strings.TrimSpace(s.sanitizer.Clean(fragment)); fragment != "" {
			fragments = append(fragments, fragment)
		}
	}
	if len(fragments) == 0 {
		logger.Warn("Reply empty after sanitizing, using simulated reply")
		result.Fallback = true
		fragments = []string{s.responder.SimulateReply(text)}
	}

	for i, fragment := range fragments {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.ReplyDelay); err != nil {
				return result, err
			}
		}
		msg, err := s.store.CreateMessage(ctx, models.Message{
			Content:        fragment,
			Sender:         models.SenderAI,
			ConversationID: conv.ID,
			UserID:         conv.UserID,
		})
		if err != nil {
			return result, fmt.Errorf("storing reply: %w", err)
		}
		result.Replies = append(result.Replies, *msg)
		if deliver != nil {
			deliver(*msg)
		}
	}

	updated, err := s.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return result, err
	}
	if updated == nil {
		// deleted while we were talking
		result.Conversation = conv
		return result, nil
	}
	result.Conversation = s.afterExchange(ctx, updated)

	unlocked, err := s.EvaluateAchievements(ctx, conv.UserID)
	if err != nil {
		logger.Error("Failed to evaluate achievements", zap.Error(err))
	}
	result.Unlocked = unlocked

	return result, nil
}

func (s *Service) storeUserMessage(ctx context.Context, conv *models.Conversation, text string) (*models.Message, error) {
	tag, hasMemory := s.responder.TagMemory(text)
	msg, err := s.store.CreateMessage(ctx, models.Message{
		Content:         text,
		Sender:          models.SenderUser,
		ConversationID:  conv.ID,
		UserID:          conv.UserID,
		HasMemory:       hasMemory,
		MemoryTag:       tag,
		EmotionDetected: s.responder.DetectEmotion(text),
	})
	if err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}

	if hasMemory {
		_, err := s.store.CreateMemory(ctx, models.Memory{
			Content:  text,
			Category: tag,
			UserID:   conv.UserID,
		})
		if err != nil {
			return nil, fmt.Errorf("storing memory: %w", err)
		}
	}
	return msg, nil
}

// reply asks the collaborator for an answer. The returned error is always a
// user-facing *llm.APIError.
func (s *Service) reply(ctx context.Context, conv *models.Conversation, history []llm.Turn, text string) (llm.Reply, *llm.APIError) {
	creds, err := s.Credentials(ctx, conv.UserID)
	if err != nil {
		return llm.Reply{}, toAPIError(err, s.cfg.Language)
	}

	personality := conv.CurrentPersonality
	if personality == "" {
		personality, err = s.SelectedPersonality(ctx)
		if err != nil {
			return llm.Reply{}, toAPIError(err, s.cfg.Language)
		}
	}

	reply, err := s.assistant.Chat(ctx, creds, personality, history, text)
	if err != nil {
		return llm.Reply{}, toAPIError(err, s.cfg.Language)
	}
	return reply, nil
}

// afterExchange refreshes the summary and the personality of conv. Failures
// only cost the refresh.
func (s *Service) afterExchange(ctx context.Context, conv *models.Conversation) *models.Conversation {
	logger := s.logger.With(zap.String("conversation_id", conv.ID))

	summaryDue := conv.MessageCount%s.cfg.SummaryEvery == 0
	personalityDue := conv.MessageCount > llm.MinMessagesForPersonalityUpdate
	if !summaryDue && !personalityDue {
		return conv
	}

	recent, err := s.store.GetRecentMessages(ctx, conv.ID, s.cfg.HistorySize)
	if err != nil {
		logger.Error("Failed to load history for refresh", zap.Error(err))
		return conv
	}
	history := llm.HistoryTurns(recent)

	creds, err := s.credentialsOrEmpty(ctx, conv.UserID)
	if err != nil {
		logger.Error("Failed to resolve credentials for refresh", zap.Error(err))
		return conv
	}

	var patch models.ConversationPatch
	if summaryDue {
		summary := s.assistant.Summarize(ctx, creds, history, conv.Summary)
		patch.Summary = &summary
	}

	if personalityDue {
		current := conv.CurrentPersonality
		if current == "" {
			if current, err = s.SelectedPersonality(ctx); err != nil {
				logger.Error("Failed to load personality", zap.Error(err))
				current = llm.DefaultPersonality.SystemPrompt
			}
		}
		summary := conv.Summary
		if patch.Summary != nil {
			summary = *patch.Summary
		}

		decision := s.assistant.DecidePersonalityUpdate(ctx, creds, history, current, conv.MessageCount, summary)
		suggestion := decision.Suggestion()
		if decision.ShouldUpdate && decision.Confidence >= s.cfg.PersonalityConfidence &&
			suggestion != "" && suggestion != current {
			patch.CurrentPersonality = &suggestion
			logger.Info("Personality updated",
				zap.String("reason", decision.Reason),
				zap.Float64("confidence", decision.Confidence))
		}
	}

	if patch.Summary == nil && patch.CurrentPersonality == nil {
		return conv
	}
	updated, err := s.store.UpdateConversation(ctx, conv.ID, patch)
	if err != nil || updated == nil {
		if err != nil {
			logger.Error("Failed to save conversation refresh", zap.Error(err))
		}
		return conv
	}
	return updated
}

func toAPIError(err error, lang llm.Language) *llm.APIError {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return llm.NewAPIError(llm.CodeTransport, lang, err)
}
