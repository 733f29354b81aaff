// Package session resolves the current user and conversation behind a pair of
// persisted pointers, creating default records when a pointer is absent or
// dangling.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/storage"
)

const DefaultNamespace = "default"

// Placeholders holds the names given to records created on demand.
type Placeholders struct {
	GuestName         string
	ConversationTitle string
}

// PlaceholdersFor returns the placeholders of a UI language ("zh" or "en").
func PlaceholdersFor(language string) Placeholders {
	if language == "en" {
		return Placeholders{GuestName: "User", ConversationTitle: "New conversation"}
	}
	return Placeholders{GuestName: "用户", ConversationTitle: "新对话"}
}

// Resolver hands out one Session per namespace.
type Resolver struct {
	store        *storage.Store
	logger       *zap.Logger
	placeholders Placeholders

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewResolver(store *storage.Store, placeholders Placeholders, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:        store,
		logger:       logger,
		placeholders: placeholders,
		sessions:     make(map[string]*Session),
	}
}

// Session returns the session of namespace. Repeated calls return the same value.
func (r *Resolver) Session(namespace string) *Session {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[namespace]; ok {
		return s
	}
	s := &Session{
		namespace:    namespace,
		store:        r.store,
		logger:       r.logger.With(zap.String("session", namespace)),
		placeholders: r.placeholders,
	}
	r.sessions[namespace] = s
	return s
}

// Sessions returns every session handed out so far, ordered by namespace.
func (r *Resolver) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].namespace < out[j].namespace })
	return out
}

// Session tracks the current user and conversation of one client.
type Session struct {
	namespace    string
	store        *storage.Store
	logger       *zap.Logger
	placeholders Placeholders

	// serializes resolve-or-create so two callers never create two guests
	mu sync.Mutex
}

func (s *Session) Namespace() string { return s.namespace }

// UserKey and ConversationKey are the backend keys of the session pointers.
func (s *Session) UserKey() string { return s.namespace + ":currentUserId" }

func (s *Session) ConversationKey() string { return s.namespace + ":currentConversationId" }

// PeekConversation returns the conversation the pointer names without
// creating anything. It returns nil when there is none.
func (s *Session) PeekConversation(ctx context.Context) (*models.Conversation, error) {
	id, err := s.store.GetPointer(ctx, s.ConversationKey())
	if err != nil || id == "" {
		return nil, err
	}
	return s.store.GetConversation(ctx, id)
}

// CurrentUser returns the user the session points at, creating a guest user
// when the pointer is absent or the record is gone.
func (s *Session) CurrentUser(ctx context.Context) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUser(ctx)
}

// CurrentConversation returns the session's conversation under the current
// user, creating one when none is recorded or the recorded one belongs to
// someone else.
func (s *Session) CurrentConversation(ctx context.Context) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	id, err := s.store.GetPointer(ctx, s.ConversationKey())
	if err != nil {
		return nil, err
	}
	if id != "" {
		conv, err := s.store.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		if conv != nil && conv.UserID == user.ID {
			return conv, nil
		}
	}
	return s.newConversation(ctx, user.ID)
}

// SignIn points the session at the user linked to externalID, creating the
// user on first sign-in. The conversation pointer is dropped when the user
// changes.
func (s *Session) SignIn(ctx context.Context, externalID, name, email string) (*models.User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("sign-in requires an external id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if name == "" {
			name = s.placeholders.GuestName
		}
		user, err = s.store.CreateUser(ctx, models.User{ExternalID: externalID, Name: name, Email: email})
		if err != nil {
			return nil, fmt.Errorf("creating user for %s: %w", externalID, err)
		}
		s.logger.Info("Created user on sign-in", zap.String("user_id", user.ID))
	}

	previous, err := s.store.GetPointer(ctx, s.UserKey())
	if err != nil {
		return nil, err
	}
	if previous != user.ID {
		if err := s.store.ClearPointer(ctx, s.ConversationKey()); err != nil {
			return nil, err
		}
	}
	if err := s.store.SetPointer(ctx, s.UserKey(), user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// SwitchConversation makes id current. Conversations of other users are refused.
func (s *Session) SwitchConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.UserID != user.ID {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	if err := s.store.SetPointer(ctx, s.ConversationKey(), conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// NewConversation starts a fresh conversation for the current user and makes
// it current.
func (s *Session) NewConversation(ctx context.Context) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.newConversation(ctx, user.ID)
}

// SignOut clears both pointers. The next resolve creates a new guest.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ClearPointer(ctx, s.ConversationKey()); err != nil {
		return err
	}
	return s.store.ClearPointer(ctx, s.UserKey())
}

func (s *Session) currentUser(ctx context.Context) (*models.User, error) {
	id, err := s.store.GetPointer(ctx, s.UserKey())
	if err != nil {
		return nil, err
	}
	if id != "" {
		user, err := s.store.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
		s.logger.Warn("Current user pointer is dangling, creating a guest", zap.String("user_id", id))
	}

	user, err := s.store.CreateUser(ctx, models.User{Name: s.placeholders.GuestName})
	if err != nil {
		return nil, fmt.Errorf("creating guest user: %w", err)
	}
	if err := s.store.SetPointer(ctx, s.UserKey(), user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Session) newConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := s.store.CreateConversation(ctx, models.Conversation{
		UserID: userID,
		Title:  s.placeholders.ConversationTitle,
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	if err := s.store.SetPointer(ctx, s.ConversationKey(), conv.ID); err != nil {
		return nil, err
	}
	s.logger.Debug("Started conversation", zap.String("conversation_id", conv.ID))
	return conv, nil
}
