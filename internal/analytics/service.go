package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/storage"
)

// Service loads a user's records from the store and runs the derivations.
type Service struct {
	store         *storage.Store
	companionName string
	now           func() time.Time
}

func NewService(store *storage.Store, companionName string) *Service {
	return &Service{
		store:         store,
		companionName: companionName,
		now:           time.Now,
	}
}

// Trend returns the last TrendDays of emotion counts, in loc.
func (s *Service) Trend(ctx context.Context, userID string, loc *time.Location) ([]DayTrend, error) {
	messages, err := s.store.GetUserMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	now := s.now()
	if loc != nil {
		now = now.In(loc)
	}
	return EmotionTrend(messages, now), nil
}

func (s *Service) Calendar(ctx context.Context, userID string, year int, month time.Month, loc *time.Location) ([]MoodDay, error) {
	messages, err := s.store.GetUserMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	return EmotionCalendar(messages, year, month, loc), nil
}

// Partners ranks the companion, AI group members and fellow group members the
// user interacted with.
func (s *Service) Partners(ctx context.Context, userID string, limit int) ([]Partner, error) {
	conversationMessages, err := s.store.GetUserMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	groups, err := s.store.GetUserGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading groups: %w", err)
	}

	in := InteractionInput{
		UserID:               userID,
		CompanionName:        s.companionName,
		ConversationMessages: conversationMessages,
		UserNames:            make(map[string]string),
	}
	for _, g := range groups {
		msgs, err := s.store.GetGroupMessages(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("loading messages of group %s: %w", g.ID, err)
		}
		in.GroupMessages = append(in.GroupMessages, msgs...)

		ais, err := s.store.GetGroupAIMembers(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("loading AI members of group %s: %w", g.ID, err)
		}
		in.AIMembers = append(in.AIMembers, ais...)
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	for _, u := range users {
		in.UserNames[u.ID] = u.Name
	}

	return TopInteractions(in, limit), nil
}

// DayMessages returns the messages of the user sent on the calendar day of
// day, in day's location.
func (s *Service) DayMessages(ctx context.Context, userID string, day time.Time) ([]models.Message, error) {
	messages, err := s.store.GetUserMessages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	start := startOfDay(day)
	end := start.AddDate(0, 0, 1)

	out := make([]models.Message, 0)
	for _, m := range messages {
		if !m.CreatedAt.Before(start) && m.CreatedAt.Before(end) {
			out = append(out, m)
		}
	}
	return out, nil
}
