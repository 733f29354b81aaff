package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xaenox/soullink/internal/models"
)

// CreateDiaryEntry stores a diary page. Date is normalized to its calendar day.
func (s *Store) CreateDiaryEntry(ctx context.Context, d models.DiaryEntry) (*models.DiaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	d.ID = s.newID()
	d.Date = models.CalendarDay(d.Date)
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := diaryEntries.insert(ctx, s.backend, d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetDiaryEntry(ctx context.Context, id string) (*models.DiaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return diaryEntries.get(ctx, s.backend, id)
}

// FindDiaryEntry returns the user's entry for the calendar day of date, or nil.
func (s *Store) FindDiaryEntry(ctx context.Context, userID string, date time.Time) (*models.DiaryEntry, error) {
	day := models.CalendarDay(date)

	s.mu.Lock()
	defer s.mu.Unlock()
	return diaryEntries.find(ctx, s.backend, func(d *models.DiaryEntry) bool {
		return d.UserID == userID && d.Date.Equal(day)
	})
}

func (s *Store) UpdateDiaryEntry(ctx context.Context, id string, patch models.DiaryEntryPatch) (*models.DiaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	return diaryEntries.update(ctx, s.backend, id, func(d *models.DiaryEntry) {
		patch.Apply(d)
		d.UpdatedAt = now
	})
}

// GetUserDiaryEntries returns the user's diary, newest day first.
func (s *Store) GetUserDiaryEntries(ctx context.Context, userID string) ([]models.DiaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := diaryEntries.filter(ctx, s.backend, func(d *models.DiaryEntry) bool { return d.UserID == userID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (s *Store) DeleteDiaryEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := diaryEntries.removeWhere(ctx, s.backend, func(d *models.DiaryEntry) bool { return d.ID == id }); err != nil {
		return fmt.Errorf("deleting diary entry %s: %w", id, err)
	}
	return nil
}

func (s *Store) CreateMilestone(ctx context.Context, m models.Milestone) (*models.Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.newID()
	m.Date = models.CalendarDay(m.Date)
	m.CreatedAt = s.Now()
	if m.Type == "" {
		m.Type = models.MilestoneCustom
	}
	if err := milestones.insert(ctx, s.backend, m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetUserMilestones returns the user's milestones, newest day first.
func (s *Store) GetUserMilestones(ctx context.Context, userID string) ([]models.Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := milestones.filter(ctx, s.backend, func(m *models.Milestone) bool { return m.UserID == userID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (s *Store) DeleteMilestone(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := milestones.removeWhere(ctx, s.backend, func(m *models.Milestone) bool { return m.ID == id }); err != nil {
		return fmt.Errorf("deleting milestone %s: %w", id, err)
	}
	return nil
}

// EnsureAchievement returns the user's achievement called name, creating it
// locked when absent.
func (s *Store) EnsureAchievement(ctx context.Context, userID, name, description string) (*models.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := achievements.load(ctx, s.backend)
	if err != nil {
		return nil, err
	}
	if i := achievementIndex(all, userID, name); i >= 0 {
		a := all[i]
		return &a, nil
	}

	a := models.Achievement{
		ID:          s.newID(),
		UserID:      userID,
		Name:        name,
		Description: description,
		CreatedAt:   s.Now(),
	}
	if err := achievements.save(ctx, s.backend, append(all, a)); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetUserAchievements(ctx context.Context, userID string) ([]models.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return achievements.filter(ctx, s.backend, func(a *models.Achievement) bool { return a.UserID == userID })
}

// UnlockAchievement marks the achievement unlocked and reports whether this
// call did the unlocking. An already unlocked achievement keeps its
// UnlockedAt; a missing one is created unlocked.
func (s *Store) UnlockAchievement(ctx context.Context, userID, name string) (*models.Achievement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := achievements.load(ctx, s.backend)
	if err != nil {
		return nil, false, err
	}

	now := s.Now()
	i := achievementIndex(all, userID, name)
	if i < 0 {
		all = append(all, models.Achievement{
			ID:        s.newID(),
			UserID:    userID,
			Name:      name,
			CreatedAt: now,
		})
		i = len(all) - 1
	}
	if all[i].Unlocked {
		a := all[i]
		return &a, false, nil
	}

	all[i].Unlocked = true
	all[i].UnlockedAt = &now
	if err := achievements.save(ctx, s.backend, all); err != nil {
		return nil, false, err
	}
	a := all[i]
	return &a, true, nil
}

func achievementIndex(all []models.Achievement, userID, name string) int {
	for i := range all {
		if all[i].UserID == userID && all[i].Name == name {
			return i
		}
	}
	return -1
}
