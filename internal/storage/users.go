package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/models"
)

// CreateUser stores a new user. ID and timestamps are assigned by the store.
func (s *Store) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := users.load(ctx, s.backend)
	if err != nil {
		return nil, err
	}
	if u.ExternalID != "" && externalIDTaken(all, u.ExternalID, "") {
		return nil, ErrDuplicateExternalID
	}

	now := s.Now()
	u.ID = s.newID()
	u.CreatedAt = now
	u.UpdatedAt = now
	if err := users.save(ctx, s.backend, append(all, u)); err != nil {
		return nil, err
	}

	s.logger.Debug("Created user", zap.String("user_id", u.ID))
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return users.get(ctx, s.backend, id)
}

// GetUserByExternalID returns the user linked to an external account, or nil.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	if externalID == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return users.find(ctx, s.backend, func(u *models.User) bool { return u.ExternalID == externalID })
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch models.UserPatch) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := users.load(ctx, s.backend)
	if err != nil {
		return nil, err
	}
	i := users.index(all, id)
	if i < 0 {
		return nil, nil
	}
	if patch.ExternalID != nil && *patch.ExternalID != "" && externalIDTaken(all, *patch.ExternalID, id) {
		return nil, ErrDuplicateExternalID
	}

	patch.Apply(&all[i])
	all[i].UpdatedAt = s.Now()
	if err := users.save(ctx, s.backend, all); err != nil {
		return nil, err
	}
	u := all[i]
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return users.filter(ctx, s.backend, func(*models.User) bool { return true })
}

// DeleteUser removes the user record only; owned records are left in place.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := users.removeWhere(ctx, s.backend, func(u *models.User) bool { return u.ID == id }); err != nil {
		return fmt.Errorf("deleting user %s: %w", id, err)
	}
	return nil
}

func externalIDTaken(all []models.User, externalID, exceptID string) bool {
	for _, u := range all {
		if u.ExternalID == externalID && u.ID != exceptID {
			return true
		}
	}
	return false
}
