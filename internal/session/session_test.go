package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/storage"
)

func newResolver(t *testing.T) (*Resolver, *storage.Store) {
	t.Helper()
	store := storage.New(storage.NewMemoryBackend())
	return NewResolver(store, PlaceholdersFor("zh"), zap.NewNop()), store
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)
	s := r.Session("")

	user, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "用户", user.Name)

	again, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	conv, err := s.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "新对话", conv.Title)
	assert.Equal(t, user.ID, conv.UserID)

	convAgain, err := s.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, convAgain.ID)

	all, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDanglingPointerCreatesNewRecords(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)
	s := r.Session("a")

	user, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	conv, err := s.CurrentConversation(ctx)
	require.NoError(t, err)

	require.NoError(t, store.DeleteConversation(ctx, conv.ID))
	fresh, err := s.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, fresh.ID)
	assert.Equal(t, user.ID, fresh.UserID)

	require.NoError(t, store.DeleteUser(ctx, user.ID))
	guest, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, user.ID, guest.ID)

	// the old conversation belongs to the deleted user
	next, err := s.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, guest.ID, next.UserID)
}

func TestNamespacesDoNotShareState(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(t)

	a, err := r.Session("chat-1").CurrentUser(ctx)
	require.NoError(t, err)
	b, err := r.Session("chat-2").CurrentUser(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Same(t, r.Session("chat-1"), r.Session("chat-1"))
}

func TestConcurrentResolveCreatesOneGuest(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)
	s := r.Session("shared")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := s.CurrentConversation(ctx)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSignInSwitchAndSignOut(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)
	s := r.Session("tg")

	guestConv, err := s.CurrentConversation(ctx)
	require.NoError(t, err)

	user, err := s.SignIn(ctx, "tg:42", "Lin", "")
	require.NoError(t, err)
	assert.Equal(t, "Lin", user.Name)

	conv, err := s.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, guestConv.ID, conv.ID)
	assert.Equal(t, user.ID, conv.UserID)

	_, err = s.SwitchConversation(ctx, guestConv.ID)
	assert.Error(t, err)

	second, err := s.NewConversation(ctx)
	require.NoError(t, err)
	switched, err := s.SwitchConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, switched.ID)
	assert.NotEqual(t, conv.ID, second.ID)

	again, err := s.SignIn(ctx, "tg:42", "ignored", "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	current, err := s.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, current.ID)

	require.NoError(t, s.SignOut(ctx))
	ptr, err := store.GetPointer(ctx, s.UserKey())
	require.NoError(t, err)
	assert.Empty(t, ptr)

	guest, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, user.ID, guest.ID)
	assert.Equal(t, models.User{}.ExternalID, guest.ExternalID)
}

func TestPeekConversationNeverCreates(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)
	s := r.Session("peek")

	conv, err := s.PeekConversation(ctx)
	require.NoError(t, err)
	assert.Nil(t, conv)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	created, err := s.CurrentConversation(ctx)
	require.NoError(t, err)
	peeked, err := s.PeekConversation(ctx)
	require.NoError(t, err)
	require.NotNil(t, peeked)
	assert.Equal(t, created.ID, peeked.ID)

	r.Session("a")
	var names []string
	for _, sess := range r.Sessions() {
		names = append(names, sess.Namespace())
	}
	assert.Equal(t, []string{"a", "peek"}, names)
}
