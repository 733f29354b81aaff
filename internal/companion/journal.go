package companion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/notify"
	"github.com/xaenox/soullink/internal/session"
)

// WriteDiary writes the diary page of day from that day's messages. An
// existing page for the day is rewritten in place.
func (s *Service) WriteDiary(ctx context.Context, sess *session.Session, day time.Time) (*models.DiaryEntry, error) {
	user, err := sess.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	messages, err := s.analytics.DayMessages(ctx, user.ID, day)
	if err != nil {
		return nil, err
	}

	var counts llm.MoodCounts
	for _, m := range messages {
		if m.Sender != models.SenderUser {
			continue
		}
		switch m.EmotionDetected {
		case models.EmotionPositive:
			counts.Positive++
		case models.EmotionNegative:
			counts.Negative++
		case models.EmotionNeutral:
			counts.Neutral++
		}
	}

	creds, err := s.credentialsOrEmpty(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	draft := s.assistant.GenerateDiary(ctx, creds, day, llm.HistoryTurns(messages), counts)

	existing, err := s.store.FindDiaryEntry(ctx, user.ID, day)
	if err != nil {
		return nil, fmt.Errorf("looking up diary entry: %w", err)
	}

	var entry *models.DiaryEntry
	if existing != nil {
		entry, err = s.store.UpdateDiaryEntry(ctx, existing.ID, models.DiaryEntryPatch{
			Title:       &draft.Title,
			Content:     &draft.Content,
			MoodEmoji:   &draft.MoodEmoji,
			MoodLabel:   &draft.MoodLabel,
			AIGenerated: &draft.AIGenerated,
		})
	} else {
		entry, err = s.store.CreateDiaryEntry(ctx, models.DiaryEntry{
			UserID:      user.ID,
			Date:        day,
			Title:       draft.Title,
			Content:     draft.Content,
			MoodEmoji:   draft.MoodEmoji,
			MoodLabel:   draft.MoodLabel,
			AIGenerated: draft.AIGenerated,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("saving diary entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("diary entry %s vanished while saving", existing.ID)
	}

	s.logger.Info("Diary written",
		zap.String("user_id", user.ID),
		zap.String("date", entry.Date.Format(time.DateOnly)),
		zap.Bool("ai_generated", draft.AIGenerated),
		zap.Int("messages", len(messages)))

	if _, err := s.EvaluateAchievements(ctx, user.ID); err != nil {
		s.logger.Error("Failed to evaluate achievements", zap.Error(err))
	}
	return entry, nil
}

// Diary lists the session user's diary, newest day first.
func (s *Service) Diary(ctx context.Context, sess *session.Session) ([]models.DiaryEntry, error) {
	user, err := sess.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetUserDiaryEntries(ctx, user.ID)
}

func (s *Service) AddMilestone(ctx context.Context, sess *session.Session, m models.Milestone) (*models.Milestone, error) {
	if strings.TrimSpace(m.Title) == "" {
		return nil, fmt.Errorf("milestone needs a title")
	}
	user, err := sess.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	m.UserID = user.ID
	if m.Date.IsZero() {
		m.Date = s.store.Now()
	}
	return s.store.CreateMilestone(ctx, m)
}

// Milestones lists the session user's milestones, newest first.
func (s *Service) Milestones(ctx context.Context, sess *session.Session) ([]models.Milestone, error) {
	user, err := sess.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetUserMilestones(ctx, user.ID)
}

// Memories lists what the companion remembers about the session user.
func (s *Service) Memories(ctx context.Context, sess *session.Session) ([]models.Memory, error) {
	user, err := sess.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetUserMemories(ctx, user.ID)
}

// Achievement names.
const (
	AchievementFirstChat    = "first_chat"
	AchievementChatterbox   = "chatterbox_100"
	AchievementMemoryKeeper = "memory_keeper"
	AchievementDiarist      = "diarist"
	AchievementGroupFounder = "group_founder"
)

const (
	chatterboxMessages   = 100
	memoryKeeperMemories = 10
	diaristEntries       = 7
)

type progress struct {
	userMessages int
	memories     int
	diaryEntries int
	groups       int
}

type achievementRule struct {
	name        string
	description string
	reached     func(p progress) bool
}

var achievementRules = []achievementRule{
	{
		name:        AchievementFirstChat,
		description: "与 Soul 的第一次对话",
		reached:     func(p progress) bool { return p.userMessages >= 1 },
	},
	{
		name:        AchievementChatterbox,
		description: "累计发送 100 条消息",
		reached:     func(p progress) bool { return p.userMessages >= chatterboxMessages },
	},
	{
		name:        AchievementMemoryKeeper,
		description: "Soul 记住了关于你的 10 件事",
		reached:     func(p progress) bool { return p.memories >= memoryKeeperMemories },
	},
	{
		name:        AchievementDiarist,
		description: "写下 7 篇心情日记",
		reached:     func(p progress) bool { return p.diaryEntries >= diaristEntries },
	},
	{
		name:        AchievementGroupFounder,
		description: "创建第一个群聊",
		reached:     func(p progress) bool { return p.groups >= 1 },
	},
}

// Achievements returns every achievement of the session user, locked ones included.
func (s *Service) Achievements(ctx context.Context, sess *session.Session) ([]models.Achievement, error) {
	user, err := sess.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range achievementRules {
		if _, err := s.store.EnsureAchievement(ctx, user.ID, rule.name, rule.description); err != nil {
			return nil, fmt.Errorf("ensuring achievement %s: %w", rule.name, err)
		}
	}
	return s.store.GetUserAchievements(ctx, user.ID)
}

// EvaluateAchievements unlocks every achievement userID has reached and
// returns the ones unlocked by this call.
func (s *Service) EvaluateAchievements(ctx context.Context, userID string) ([]models.Achievement, error) {
	p, err := s.progress(ctx, userID)
	if err != nil {
		return nil, err
	}

	var unlocked []models.Achievement
	for _, rule := range achievementRules {
		if !rule.reached(p) {
			continue
		}
		if _, err := s.store.EnsureAchievement(ctx, userID, rule.name, rule.description); err != nil {
			return unlocked, err
		}
		a, fresh, err := s.store.UnlockAchievement(ctx, userID, rule.name)
		if err != nil {
			return unlocked, fmt.Errorf("unlocking %s: %w", rule.name, err)
		}
		if !fresh {
			continue
		}
		unlocked = append(unlocked, *a)
		s.logger.Info("Achievement unlocked", zap.String("user_id", userID), zap.String("achievement", a.Name))
		if s.broadcaster != nil {
			s.broadcaster.Publish(notify.Event{
				Kind:   notify.KindAchievement,
				UserID: userID,
				Text:   a.Description,
				Action: a.Name,
			})
		}
	}
	return unlocked, nil
}

func (s *Service) progress(ctx context.Context, userID string) (progress, error) {
	var p progress

	messages, err := s.store.GetUserMessages(ctx, userID)
	if err != nil {
		return p, fmt.Errorf("loading messages: %w", err)
	}
	for _, m := range messages {
		if m.Sender == models.SenderUser {
			p.userMessages++
		}
	}

	memories, err := s.store.GetUserMemories(ctx, userID)
	if err != nil {
		return p, fmt.Errorf("loading memories: %w", err)
	}
	p.memories = len(memories)

	entries, err := s.store.GetUserDiaryEntries(ctx, userID)
	if err != nil {
		return p, fmt.Errorf("loading diary: %w", err)
	}
	p.diaryEntries = len(entries)

	groups, err := s.store.GetUserGroups(ctx, userID)
	if err != nil {
		return p, fmt.Errorf("loading groups: %w", err)
	}
	for _, g := range groups {
		if g.CreatorID == userID {
			p.groups++
		}
	}
	return p, nil
}
