// Package companion implements the one-to-one chat with the companion
// persona and the journal features built on top of it.
package companion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/analytics"
	"github.com/xaenox/soullink/internal/classifier"
	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/notify"
	"github.com/xaenox/soullink/internal/session"
	"github.com/xaenox/soullink/internal/storage"
)

const (
	DefaultHistorySize           = 20
	DefaultSummaryEvery          = 5
	DefaultReplyDelay            = time.Second
	DefaultPersonalityConfidence = 0.7
)

type Config struct {
	Language llm.Language

	// Personality replaces the default persona prompt while none is selected.
	Personality string

	// HistorySize is the number of previous messages sent with each chat request.
	HistorySize int

	// SummaryEvery refreshes the conversation summary every N messages.
	SummaryEvery int

	// ReplyDelay separates the fragments of a split reply.
	ReplyDelay time.Duration

	// PersonalityConfidence is the minimum confidence for applying a
	// suggested personality.
	PersonalityConfidence float64

	// Defaults fill in whatever a user's own settings leave empty.
	Defaults llm.Credentials

	// Admin is used while no admin config is stored.
	Admin llm.AdminConfig
}

func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = llm.Chinese
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.SummaryEvery <= 0 {
		c.SummaryEvery = DefaultSummaryEvery
	}
	if c.ReplyDelay < 0 {
		c.ReplyDelay = 0
	}
	if c.PersonalityConfidence <= 0 {
		c.PersonalityConfidence = DefaultPersonalityConfidence
	}
	return c
}

// Responder is the heuristic side of the companion: it classifies messages
// and answers when the model cannot.
type Responder interface {
	classifier.Classifier
	SimulateReply(content string) string
}

// Service runs the chat flow for any session.
type Service struct {
	cfg         Config
	store       *storage.Store
	assistant   *llm.Assistant
	responder   Responder
	sanitizer   *llm.Sanitizer
	analytics   *analytics.Service
	broadcaster *notify.Broadcaster
	logger      *zap.Logger

	// sleep waits between reply fragments; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(
	cfg Config,
	store *storage.Store,
	assistant *llm.Assistant,
	responder Responder,
	broadcaster *notify.Broadcaster,
	logger *zap.Logger,
) *Service {
	return &Service{
		cfg:         cfg.withDefaults(),
		store:       store,
		assistant:   assistant,
		responder:   responder,
		sanitizer:   llm.NewSanitizer(),
		analytics:   analytics.NewService(store, llm.DefaultPersonality.Name),
		broadcaster: broadcaster,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// Analytics returns the derivations over the same store.
func (s *Service) Analytics() *analytics.Service {
	return s.analytics
}

// Credentials resolves the LLM credentials of userID: the user's settings,
// completed by the configured defaults, under the admin overrides.
func (s *Service) Credentials(ctx context.Context, userID string) (llm.Credentials, error) {
	settings, err := s.store.GetUserSettings(ctx, userID)
	if err != nil {
		return llm.Credentials{}, fmt.Errorf("loading settings: %w", err)
	}

	effective := models.UserSettings{}
	if settings != nil {
		effective = *settings
	}
	if effective.APIKey == "" {
		effective.APIKey = s.cfg.Defaults.APIKey
	}
	if effective.APIEndpoint == "" {
		effective.APIEndpoint = s.cfg.Defaults.Endpoint
	}
	if effective.Model == "" {
		effective.Model = s.cfg.Defaults.Model
	}

	admin, err := s.AdminConfig(ctx)
	if err != nil {
		return llm.Credentials{}, err
	}
	return llm.ResolveCredentials(&effective, &admin, s.cfg.Language)
}

// AdminConfig returns the stored admin overrides, or the configured ones
// when nothing is stored.
func (s *Service) AdminConfig(ctx context.Context) (llm.AdminConfig, error) {
	var admin llm.AdminConfig
	found, err := s.store.GetPreference(ctx, storage.KeyAdminConfig, &admin)
	if err != nil {
		return llm.AdminConfig{}, fmt.Errorf("loading admin config: %w", err)
	}
	if !found {
		return s.cfg.Admin, nil
	}
	return admin, nil
}

func (s *Service) SetAdminConfig(ctx context.Context, admin llm.AdminConfig) error {
	if err := s.store.SetPreference(ctx, storage.KeyAdminConfig, admin); err != nil {
		return fmt.Errorf("saving admin config: %w", err)
	}
	s.logger.Info("Admin config updated", zap.Stringer("admin", admin))
	return nil
}

// SelectedPersonality returns the chosen personality prompt, else the
// configured one, else the default persona's prompt.
func (s *Service) SelectedPersonality(ctx context.Context) (string, error) {
	var prompt string
	found, err := s.store.GetPreference(ctx, storage.KeySelectedPersonality, &prompt)
	if err != nil {
		return "", fmt.Errorf("loading personality: %w", err)
	}
	if !found || prompt == "" {
		if s.cfg.Personality != "" {
			return s.cfg.Personality, nil
		}
		return llm.DefaultPersonality.SystemPrompt, nil
	}
	return prompt, nil
}

func (s *Service) SelectPersonality(ctx context.Context, prompt string) error {
	return s.store.SetPreference(ctx, storage.KeySelectedPersonality, prompt)
}

// SaveSettings stores the LLM settings of the session's user.
func (s *Service) SaveSettings(ctx context.Context, sess *session.Session, patch models.UserSettingsPatch) (*models.UserSettings, error) {
	user, err := sess.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if patch.APIKey != nil && *patch.APIKey != "" {
		s.logger.Warn("API key is stored unencrypted",
			zap.String("user_id", user.ID),
			zap.String("format", models.SecretFormatPlaintext))
	}
	settings, err := s.store.UpdateUserSettings(ctx, user.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("saving settings: %w", err)
	}
	return settings, nil
}

// Settings returns the session user's settings, or nil when none are saved.
func (s *Service) Settings(ctx context.Context, sess *session.Session) (*models.UserSettings, error) {
	user, err := sess.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.GetUserSettings(ctx, user.ID)
}

// credentialsOrEmpty returns empty credentials when nothing is configured so
// the assistant falls back to its heuristics.
func (s *Service) credentialsOrEmpty(ctx context.Context, userID string) (llm.Credentials, error) {
	creds, err := s.Credentials(ctx, userID)
	if err != nil && !llm.IsCode(err, llm.CodeNotConfigured) {
		return llm.Credentials{}, err
	}
	return creds, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
