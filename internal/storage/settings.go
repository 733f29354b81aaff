package storage

import (
	"context"
	"fmt"

	"github.com/xaenox/soullink/internal/models"
)

// CreateUserSettings stores the first settings record of a user.
func (s *Store) CreateUserSettings(ctx context.Context, settings models.UserSettings) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := userSettings.load(ctx, s.backend)
	if err != nil {
		return nil, err
	}
	for _, existing := range all {
		if existing.UserID == settings.UserID {
			return nil, ErrSettingsExist
		}
	}

	now := s.Now()
	settings.ID = s.newID()
	settings.SecretFormat = models.SecretFormatPlaintext
	settings.CreatedAt = now
	settings.UpdatedAt = now
	if err := userSettings.save(ctx, s.backend, append(all, settings)); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return userSettings.find(ctx, s.backend, func(us *models.UserSettings) bool { return us.UserID == userID })
}

// UpdateUserSettings applies patch to the user's settings, creating the record
// when the user has none yet.
func (s *Store) UpdateUserSettings(ctx context.Context, userID string, patch models.UserSettingsPatch) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := userSettings.load(ctx, s.backend)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	i := -1
	for j := range all {
		if all[j].UserID == userID {
			i = j
			break
		}
	}
	if i < 0 {
		all = append(all, models.UserSettings{
			ID:        s.newID(),
			UserID:    userID,
			CreatedAt: now,
		})
		i = len(all) - 1
	}

	patch.Apply(&all[i])
	all[i].SecretFormat = models.SecretFormatPlaintext
	all[i].UpdatedAt = now
	if err := userSettings.save(ctx, s.backend, all); err != nil {
		return nil, err
	}
	settings := all[i]
	return &settings, nil
}

func (s *Store) DeleteUserSettings(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := userSettings.removeWhere(ctx, s.backend, func(us *models.UserSettings) bool { return us.UserID == userID }); err != nil {
		return fmt.Errorf("deleting settings of user %s: %w", userID, err)
	}
	return nil
}
