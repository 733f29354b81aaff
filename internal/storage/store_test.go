package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/models"
)

// stepClock advances one second on every reading.
type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T, backend Backend) (*Store, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	seq := 0
	store := New(backend,
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}))
	return store, clock
}

func TestCreateThenGetReturnsEqualRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	user, err := store.CreateUser(ctx, models.User{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, user.CreatedAt, user.UpdatedAt)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	conv, err := store.CreateConversation(ctx, models.Conversation{UserID: user.ID, Title: "新对话"})
	require.NoError(t, err)
	gotConv, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv, gotConv)
}

func TestUnknownIDsAreNotErrors(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	user, err := store.GetUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, user)

	updated, err := store.UpdateConversation(ctx, "missing", models.ConversationPatch{Title: models.Ptr("x")})
	require.NoError(t, err)
	assert.Nil(t, updated)

	require.NoError(t, store.DeleteMessage(ctx, "missing"))
	require.NoError(t, store.DeleteGroup(ctx, "missing"))

	convs, err := store.GetUserConversations(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestCreateUserRejectsDuplicateExternalID(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	first, err := store.CreateUser(ctx, models.User{Name: "a", ExternalID: "tg:1"})
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, models.User{Name: "b", ExternalID: "tg:1"})
	assert.ErrorIs(t, err, ErrDuplicateExternalID)

	found, err := store.GetUserByExternalID(ctx, "tg:1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	second, err := store.CreateUser(ctx, models.User{Name: "b"})
	require.NoError(t, err)
	_, err = store.UpdateUser(ctx, second.ID, models.UserPatch{ExternalID: models.Ptr("tg:1")})
	assert.ErrorIs(t, err, ErrDuplicateExternalID)
}

func TestCreateMessageAdvancesConversation(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	user, err := store.CreateUser(ctx, models.User{Name: "u"})
	require.NoError(t, err)
	conv, err := store.CreateConversation(ctx, models.Conversation{UserID: user.ID})
	require.NoError(t, err)
	assert.Nil(t, conv.LastActivityAt)

	owner, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, owner.ConversationCount)

	var last *models.Message
	for i := 0; i < 3; i++ {
		last, err = store.CreateMessage(ctx, models.Message{
			ConversationID: conv.ID,
			UserID:         user.ID,
			Content:        fmt.Sprintf("m%d", i),
			Sender:         models.SenderUser,
		})
		require.NoError(t, err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)
	require.NotNil(t, got.LastActivityAt)
	assert.Equal(t, last.CreatedAt, *got.LastActivityAt)

	// a patch can never lower the count
	got, err = store.UpdateConversation(ctx, conv.ID, models.ConversationPatch{MessageCount: models.Ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, 3, got.MessageCount)
}

func TestMessagesAscendingAndRecentWindow(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	conv, err := store.CreateConversation(ctx, models.Conversation{UserID: "u1"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	all, err := store.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}
	assert.Equal(t, models.SenderUser, all[0].Sender)

	recent, err := store.GetRecentMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m3", recent[0].Content)
	assert.Equal(t, "m4", recent[1].Content)
}

func TestMessagesSortedWhateverTheInsertOrder(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, NewMemoryBackend())
	start := clock.now

	conv, err := store.CreateConversation(ctx, models.Conversation{UserID: "u1"})
	require.NoError(t, err)
	group, err := store.CreateGroup(ctx, models.Group{Name: "g", CreatorID: "u1"})
	require.NoError(t, err)

	// each write lands a minute before the previous one
	for i := 0; i < 4; i++ {
		clock.now = start.Add(-time.Duration(i) * time.Minute)
		_, err := store.CreateMessage(ctx, models.Message{ConversationID: conv.ID, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		clock.now = start.Add(-time.Duration(i) * time.Minute)
		_, err = store.CreateGroupMessage(ctx, group.ID, models.UserSender("u1"), fmt.Sprintf("g%d", i))
		require.NoError(t, err)
	}

	all, err := store.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].CreatedAt.Before(all[i].CreatedAt))
	}
	assert.Equal(t, "m3", all[0].Content)
	assert.Equal(t, "m0", all[3].Content)

	recent, err := store.GetRecentMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m1", recent[0].Content)
	assert.Equal(t, "m0", recent[1].Content)

	msgs, err := store.GetGroupMessages(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i-1].CreatedAt.Before(msgs[i].CreatedAt))
	}
	assert.Equal(t, "g3", msgs[0].Content)
	assert.Equal(t, "g0", msgs[3].Content)
}

func TestDeleteConversationCascadesMessages(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	keep, err := store.CreateConversation(ctx, models.Conversation{UserID: "u1"})
	require.NoError(t, err)
	drop, err := store.CreateConversation(ctx, models.Conversation{UserID: "u1"})
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, models.Message{ConversationID: keep.ID, Content: "stay"})
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, models.Message{ConversationID: drop.ID, Content: "go"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteConversation(ctx, drop.ID))

	gone, err := store.GetConversationMessages(ctx, drop.ID)
	require.NoError(t, err)
	assert.Empty(t, gone)
	kept, err := store.GetUserMessages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "stay", kept[0].Content)
}

func TestUpdateUserSettingsAutoCreates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	none, err := store.GetUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, none)

	created, err := store.UpdateUserSettings(ctx, "u1", models.UserSettingsPatch{APIKey: models.Ptr("sk-abcdef123456")})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, models.SecretFormatPlaintext, created.SecretFormat)

	updated, err := store.UpdateUserSettings(ctx, "u1", models.UserSettingsPatch{Model: models.Ptr("gpt-4o-mini")})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "sk-abcdef123456", updated.APIKey)
	assert.Equal(t, "gpt-4o-mini", updated.Model)
	assert.NotContains(t, updated.String(), "sk-abcdef123456")

	_, err = store.CreateUserSettings(ctx, models.UserSettings{UserID: "u1"})
	assert.ErrorIs(t, err, ErrSettingsExist)
}

func TestAddGroupMemberIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	group, err := store.CreateGroup(ctx, models.Group{Name: "g", CreatorID: "u1"})
	require.NoError(t, err)

	first, err := store.AddGroupMember(ctx, group.ID, "u1", models.GroupRoleAdmin)
	require.NoError(t, err)
	second, err := store.AddGroupMember(ctx, group.ID, "u1", models.GroupRoleMember)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	members, err := store.GetGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.Equal(t, models.GroupRoleAdmin, members[0].Role)

	mine, err := store.GetUserGroups(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, group.ID, mine[0].ID)
}

func TestUnlockAchievementIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	locked, err := store.EnsureAchievement(ctx, "u1", "first_chat", "Say hello")
	require.NoError(t, err)
	assert.False(t, locked.Unlocked)

	again, err := store.EnsureAchievement(ctx, "u1", "first_chat", "ignored")
	require.NoError(t, err)
	assert.Equal(t, locked.ID, again.ID)

	unlocked, changed, err := store.UnlockAchievement(ctx, "u1", "first_chat")
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, unlocked.UnlockedAt)

	repeat, changed, err := store.UnlockAchievement(ctx, "u1", "first_chat")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, repeat.Unlocked)
	assert.Equal(t, *unlocked.UnlockedAt, *repeat.UnlockedAt)

	list, err := store.GetUserAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDiaryAndMilestonesNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	days := []time.Time{
		time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC),
	}
	for i, day := range days {
		_, err := store.CreateDiaryEntry(ctx, models.DiaryEntry{UserID: "u1", Date: day, Title: fmt.Sprintf("d%d", i)})
		require.NoError(t, err)
		_, err = store.CreateMilestone(ctx, models.Milestone{UserID: "u1", Date: day, Title: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	diary, err := store.GetUserDiaryEntries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, diary, 3)
	assert.Equal(t, []string{"d1", "d0", "d2"}, []string{diary[0].Title, diary[1].Title, diary[2].Title})

	ms, err := store.GetUserMilestones(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, "m1", ms[0].Title)
	assert.Equal(t, models.MilestoneCustom, ms[0].Type)

	found, err := store.FindDiaryEntry(ctx, "u1", time.Date(2024, 3, 5, 22, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "d1", found.Title)
}

func TestGroupScenario(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	group, err := store.CreateGroup(ctx, models.Group{Name: "friends", CreatorID: "u1"})
	require.NoError(t, err)
	_, err = store.AddGroupMember(ctx, group.ID, "u1", models.GroupRoleAdmin)
	require.NoError(t, err)
	_, err = store.AddGroupMember(ctx, group.ID, "u2", models.GroupRoleMember)
	require.NoError(t, err)
	moderator, err := store.CreateAIGroupMember(ctx, models.AIGroupMember{
		GroupID:  group.ID,
		Name:     "Leo",
		Role:     models.AIRoleModerator,
		IsActive: true,
	})
	require.NoError(t, err)
	ai, err := store.CreateAIGroupMember(ctx, models.AIGroupMember{
		GroupID:  group.ID,
		Name:     "Mia",
		Role:     models.AIRoleEntertainer,
		IsActive: true,
	})
	require.NoError(t, err)

	aiMembers, err := store.GetGroupAIMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, aiMembers, 2)

	for _, sender := range []models.GroupSender{
		models.UserSender("u1"),
		models.UserSender("u2"),
		models.AIMemberSender(moderator.ID),
		models.AIMemberSender(ai.ID),
	} {
		_, err := store.CreateGroupMessage(ctx, group.ID, sender, "hi from "+sender.String())
		require.NoError(t, err)
	}

	msgs, err := store.GetGroupMessages(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	modID, ok := msgs[2].Sender.AIMemberID()
	assert.True(t, ok)
	assert.Equal(t, moderator.ID, modID)
	aiID, ok := msgs[3].Sender.AIMemberID()
	assert.True(t, ok)
	assert.Equal(t, ai.ID, aiID)

	g, err := store.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.NotNil(t, g.LastMessageAt)
	assert.Equal(t, msgs[3].CreatedAt, *g.LastMessageAt)

	_, err = store.CreateGroupMessage(ctx, group.ID, models.GroupSender{}, "nobody")
	assert.Error(t, err)

	require.NoError(t, store.DeleteGroup(ctx, group.ID))

	members, err := store.GetGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
	msgs, err = store.GetGroupMessages(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	aiMembers, err = store.GetGroupAIMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, aiMembers)
}

func TestReopenOnSameBackendRoundTrips(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store, _ := newTestStore(t, backend)

	user, err := store.CreateUser(ctx, models.User{Name: "u"})
	require.NoError(t, err)
	conv, err := store.CreateConversation(ctx, models.Conversation{UserID: user.ID})
	require.NoError(t, err)
	msg, err := store.CreateMessage(ctx, models.Message{
		ConversationID:  conv.ID,
		Content:         "我今天很开心",
		EmotionDetected: models.EmotionPositive,
		HasMemory:       true,
		MemoryTag:       "兴趣爱好",
	})
	require.NoError(t, err)

	reopened := New(backend)
	gotUser, err := reopened.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, gotUser.ID)
	assert.Equal(t, 1, gotUser.ConversationCount)

	msgs, err := reopened.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, *msg, msgs[0])
}

func TestPreferencesPointersAndClearAll(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store, _ := newTestStore(t, backend)

	require.NoError(t, store.SetPreference(ctx, KeySelectedPersonality, "gentle"))
	var personality string
	ok, err := store.GetPreference(ctx, KeySelectedPersonality, &personality)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gentle", personality)

	require.NoError(t, store.SetPointer(ctx, "default:currentUserId", "id-1"))
	ptr, err := store.GetPointer(ctx, "default:currentUserId")
	require.NoError(t, err)
	assert.Equal(t, "id-1", ptr)

	_, err = store.CreateUser(ctx, models.User{Name: "u"})
	require.NoError(t, err)

	require.NoError(t, store.ClearAll(ctx, "default:currentUserId"))
	assert.Empty(t, backend.Keys())

	ok, err = store.GetPreference(ctx, KeyAdminConfig, &personality)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptCollectionIsAnError(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, KeyUsers, "{not json"))

	store, _ := newTestStore(t, backend)
	_, err := store.GetUser(ctx, "x")
	assert.ErrorContains(t, err, "decoding users")
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	backend, err := NewSQLiteBackend(path, zap.NewNop())
	require.NoError(t, err)
	store, _ := newTestStore(t, backend)
	user, err := store.CreateUser(ctx, models.User{Name: "persisted"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	backend, err = NewSQLiteBackend(path, zap.NewNop())
	require.NoError(t, err)
	defer backend.Close()

	got, err := New(backend).GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "persisted", got.Name)

	require.NoError(t, backend.Delete(ctx, KeyUsers))
	_, ok, err := backend.Get(ctx, KeyUsers)
	require.NoError(t, err)
	assert.False(t, ok)
}
