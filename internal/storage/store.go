package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/models"
)

// Store is the typed Local Store. Every entity kind is one collection kept as
// a JSON array in the backend; each operation re-reads the collection under
// the store mutex and writes the whole collection back after a change.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *zap.Logger
	clock   func() time.Time
	newID   func() string
}

type Option func(*Store)

// WithClock replaces time.Now as the source of record timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  zap.NewNop(),
		clock:   time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock reading used for timestamps: UTC, millisecond
// resolution.
func (s *Store) Now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func (s *Store) Close() error {
	return s.backend.Close()
}

var (
	users          = collection[models.User]{key: KeyUsers, id: func(r *models.User) string { return r.ID }}
	conversations  = collection[models.Conversation]{key: KeyConversations, id: func(r *models.Conversation) string { return r.ID }}
	messages       = collection[models.Message]{key: KeyMessages, id: func(r *models.Message) string { return r.ID }}
	memories       = collection[models.Memory]{key: KeyMemories, id: func(r *models.Memory) string { return r.ID }}
	groups         = collection[models.Group]{key: KeyGroups, id: func(r *models.Group) string { return r.ID }}
	groupMembers   = collection[models.GroupMember]{key: KeyGroupMembers, id: func(r *models.GroupMember) string { return r.ID }}
	groupMessages  = collection[models.GroupMessage]{key: KeyGroupMessages, id: func(r *models.GroupMessage) string { return r.ID }}
	aiGroupMembers = collection[models.AIGroupMember]{key: KeyAIGroupMembers, id: func(r *models.AIGroupMember) string { return r.ID }}
	userSettings   = collection[models.UserSettings]{key: KeyUserSettings, id: func(r *models.UserSettings) string { return r.ID }}
	diaryEntries   = collection[models.DiaryEntry]{key: KeyDiaryEntries, id: func(r *models.DiaryEntry) string { return r.ID }}
	milestones     = collection[models.Milestone]{key: KeyMilestones, id: func(r *models.Milestone) string { return r.ID }}
	achievements   = collection[models.Achievement]{key: KeyAchievements, id: func(r *models.Achievement) string { return r.ID }}
)

// GetPreference decodes the JSON blob stored at key into out and reports
// whether the key was present.
func (s *Store) GetPreference(ctx context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("loading preference %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decoding preference %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) SetPreference(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding preference %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("saving preference %s: %w", key, err)
	}
	return nil
}

// GetPointer returns the raw value stored at key, or "" when absent.
func (s *Store) GetPointer(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, _, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("loading pointer %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetPointer(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Set(ctx, key, value); err != nil {
		return fmt.Errorf("saving pointer %s: %w", key, err)
	}
	return nil
}

func (s *Store) ClearPointer(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("clearing pointer %s: %w", key, err)
	}
	return nil
}

// ClearAll removes every collection and preference, plus the given pointer
// keys. Pointers left behind by other sessions resolve to missing records and
// are recreated on next use.
func (s *Store) ClearAll(ctx context.Context, pointerKeys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(collectionKeys)+len(preferenceKeys)+len(pointerKeys))
	keys = append(keys, collectionKeys...)
	keys = append(keys, preferenceKeys...)
	keys = append(keys, pointerKeys...)

	for _, key := range keys {
		if err := s.backend.Delete(ctx, key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}
	s.logger.Info("Cleared local store", zap.Int("keys", len(keys)))
	return nil
}
