package companion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/classifier"
	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/notify"
	"github.com/xaenox/soullink/internal/session"
	"github.com/xaenox/soullink/internal/storage"
)

var base = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

const simulated = "我一直都在。"

type scriptedCollaborator struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
	creds    []llm.Credentials
}

func (c *scriptedCollaborator) Complete(_ context.Context, creds llm.Credentials, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	c.creds = append(c.creds, creds)
	if c.err != nil {
		return "", c.err
	}
	if len(c.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return reply, nil
}

type stubResponder struct {
	*classifier.KeywordClassifier
}

func (stubResponder) SimulateReply(string) string { return simulated }

type harness struct {
	svc    *Service
	store  *storage.Store
	sess   *session.Session
	collab *scriptedCollaborator
	sleeps []time.Duration
	events <-chan notify.Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := storage.New(storage.NewMemoryBackend(), storage.WithClock(func() time.Time { return base }))
	collab := &scriptedCollaborator{}
	assistant := llm.NewAssistant(collab, llm.Chinese, zap.NewNop(), nil)
	broadcaster := notify.NewBroadcaster(nil)
	events, cancel := broadcaster.Subscribe(16)
	t.Cleanup(cancel)

	h := &harness{
		store:  store,
		collab: collab,
		events: events,
		sess:   session.NewResolver(store, session.PlaceholdersFor("zh"), zap.NewNop()).Session("test"),
	}
	h.svc = New(cfg, store, assistant, stubResponder{classifier.NewKeywordClassifier()}, broadcaster, zap.NewNop())
	h.svc.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func configured() Config {
	return Config{
		Defaults:     llm.Credentials{APIKey: "sk-default", Model: "gpt-test"},
		SummaryEvery: 1000,
		ReplyDelay:   300 * time.Millisecond,
	}
}

func TestSendStoresSplitReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, configured())
	h.collab.replies = []string{"```json\n{\"messages\": [\"画画很棒！\", \"你喜欢画什么？\"]}\n```"}

	var delivered []string
	res, err := h.svc.Send(ctx, h.sess, "  我喜欢画画  ", func(m models.Message) {
		delivered = append(delivered, m.Content)
	})
	require.NoError(t, err)

	assert.False(t, res.Fallback)
	assert.Nil(t, res.Err)
	assert.Equal(t, []string{"画画很棒！", "你喜欢画什么？"}, delivered)
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, h.sleeps)

	assert.Equal(t, "我喜欢画画", res.UserMessage.Content)
	assert.Equal(t, models.EmotionPositive, res.UserMessage.EmotionDetected)
	assert.True(t, res.UserMessage.HasMemory)
	assert.Equal(t, "兴趣爱好", res.UserMessage.MemoryTag)

	memories, err := h.svc.Memories(ctx, h.sess)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "兴趣爱好", memories[0].Category)

	messages, err := h.store.GetConversationMessages(ctx, res.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, models.SenderAI, messages[2].Sender)
	assert.Equal(t, 3, res.Conversation.MessageCount)

	require.Len(t, h.collab.creds, 1)
	assert.Equal(t, "sk-default", h.collab.creds[0].APIKey)

	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, AchievementFirstChat, res.Unlocked[0].Name)
	ev := <-h.events
	assert.Equal(t, notify.KindAchievement, ev.Kind)
	assert.Equal(t, AchievementFirstChat, ev.Action)
}

func TestSendFallsBackWhenNotConfigured(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	res, err := h.svc.Send(ctx, h.sess, "今天好难过", nil)
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	require.NotNil(t, res.Err)
	assert.Equal(t, llm.CodeNotConfigured, res.Err.Code)
	assert.Equal(t, "请先在个人设置中配置 AI API", res.Err.Message)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, simulated, res.Replies[0].Content)
	assert.Empty(t, h.collab.requests)
	assert.Equal(t, models.EmotionNegative, res.UserMessage.EmotionDetected)
}

func TestSendFallsBackOnCollaboratorError(t *testing.T) {
	h := newHarness(t, configured())
	h.collab.err = llm.NewAPIError(llm.CodeRateLimit, llm.Chinese, nil)

	res, err := h.svc.Send(context.Background(), h.sess, "在吗", nil)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, llm.CodeRateLimit, res.Err.Code)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, simulated, res.Replies[0].Content)
}

func TestSendMarkupOnlyReplyStoresSimulated(t *testing.T) {
	h := newHarness(t, configured())
	h.collab.replies = []string{`{"messages": ["<img src=\"x.png\">", "<br/>"]}`}

	res, err := h.svc.Send(context.Background(), h.sess, "在吗", nil)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Nil(t, res.Err)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, simulated, res.Replies[0].Content)
	assert.Empty(t, h.sleeps)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, configured())
	_, err := h.svc.Send(context.Background(), h.sess, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendRefreshesSummaryOnCadence(t *testing.T) {
	cfg := configured()
	cfg.SummaryEvery = 2
	h := newHarness(t, cfg)
	h.collab.replies = []string{"好的", "周末计划"}

	res, err := h.svc.Send(context.Background(), h.sess, "聊聊周末吧", nil)
	require.NoError(t, err)
	assert.Equal(t, "周末计划", res.Conversation.Summary)
	require.Len(t, h.collab.requests, 2)
	assert.Equal(t, float32(0.5), h.collab.requests[1].Temperature)
}

func seedMessages(t *testing.T, h *harness, n int) *models.Conversation {
	t.Helper()
	ctx := context.Background()
	conv, err := h.sess.CurrentConversation(ctx)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		sender := models.SenderUser
		if i%2 == 1 {
			sender = models.SenderAI
		}
		_, err := h.store.CreateMessage(ctx, models.Message{Content: "msg", Sender: sender, ConversationID: conv.ID, UserID: conv.UserID})
		require.NoError(t, err)
	}
	return conv
}

func TestSendAppliesConfidentPersonality(t *testing.T) {
	h := newHarness(t, configured())
	seedMessages(t, h, 20)
	h.collab.replies = []string{
		"嗯嗯",
		`{"should_update": true, "reason": "用户喜欢幽默", "suggested_personality": "你是一个幽默的伙伴", "confidence": 0.8}`,
		"哈哈",
		`{"should_update": true, "reason": "r", "suggested_personality": "另一个", "confidence": 0.5}`,
	}

	res, err := h.svc.Send(context.Background(), h.sess, "讲个笑话", nil)
	require.NoError(t, err)
	assert.Equal(t, "你是一个幽默的伙伴", res.Conversation.CurrentPersonality)

	res, err = h.svc.Send(context.Background(), h.sess, "再来一个", nil)
	require.NoError(t, err)
	assert.Equal(t, "你是一个幽默的伙伴", res.Conversation.CurrentPersonality, "low confidence is ignored")

	require.Len(t, h.collab.requests, 4)
	system := h.collab.requests[2].Turns[0].Content
	assert.True(t, strings.HasPrefix(system, "你是一个幽默的伙伴"))
}

func TestCredentialsHonorAdminOverride(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, configured())

	_, err := h.svc.SaveSettings(ctx, h.sess, models.UserSettingsPatch{
		APIKey:      models.Ptr("sk-user"),
		APIEndpoint: models.Ptr("https://user.example/v1"),
	})
	require.NoError(t, err)
	user, err := h.sess.CurrentUser(ctx)
	require.NoError(t, err)

	creds, err := h.svc.Credentials(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, llm.Credentials{APIKey: "sk-user", Endpoint: "https://user.example/v1", Model: "gpt-test"}, creds)

	require.NoError(t, h.svc.SetAdminConfig(ctx, llm.AdminConfig{ForceAPI: true, ForcedAPIKey: "sk-admin"}))
	creds, err = h.svc.Credentials(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk-admin", creds.APIKey)
	assert.Equal(t, "https://user.example/v1", creds.Endpoint)

	settings, err := h.svc.Settings(ctx, h.sess)
	require.NoError(t, err)
	assert.Equal(t, models.SecretFormatPlaintext, settings.SecretFormat)
	assert.NotContains(t, settings.String(), "sk-user")
}

func TestSelectedPersonalityDefaultsToSoul(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, configured())

	prompt, err := h.svc.SelectedPersonality(ctx)
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultPersonality.SystemPrompt, prompt)

	require.NoError(t, h.svc.SelectPersonality(ctx, "你是一只猫"))
	prompt, err = h.svc.SelectedPersonality(ctx)
	require.NoError(t, err)
	assert.Equal(t, "你是一只猫", prompt)
}

func TestWriteDiaryFallsBackAndRewritesSameDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	_, err := h.svc.Send(ctx, h.sess, "今天很开心", nil)
	require.NoError(t, err)
	_, err = h.svc.Send(ctx, h.sess, "有点焦虑", nil)
	require.NoError(t, err)

	entry, err := h.svc.WriteDiary(ctx, h.sess, base)
	require.NoError(t, err)
	assert.Equal(t, "2024年3月5日的日记", entry.Title)
	assert.False(t, entry.AIGenerated)
	assert.Equal(t, "平静", entry.MoodLabel)
	assert.Contains(t, entry.Content, "4 条消息")

	key := "sk-user"
	_, err = h.svc.SaveSettings(ctx, h.sess, models.UserSettingsPatch{APIKey: &key})
	require.NoError(t, err)
	h.collab.replies = []string{`{"title": "晴转多云", "content": "开心过，也焦虑过。", "mood_emoji": "🌤", "mood_label": "复杂"}`}

	again, err := h.svc.WriteDiary(ctx, h.sess, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)
	assert.True(t, again.AIGenerated)
	assert.Equal(t, "晴转多云", again.Title)

	h.collab.err = errors.New("offline")
	third, err := h.svc.WriteDiary(ctx, h.sess, base)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, third.ID)
	assert.False(t, third.AIGenerated)
	assert.Equal(t, "2024年3月5日的日记", third.Title)

	diary, err := h.svc.Diary(ctx, h.sess)
	require.NoError(t, err)
	assert.Len(t, diary, 1)
}

func TestAchievementsListLockedOnes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	list, err := h.svc.Achievements(ctx, h.sess)
	require.NoError(t, err)
	require.Len(t, list, len(achievementRules))
	for _, a := range list {
		assert.False(t, a.Unlocked, a.Name)
	}

	user, err := h.sess.CurrentUser(ctx)
	require.NoError(t, err)
	_, err = h.store.CreateGroup(ctx, models.Group{Name: "书友会", CreatorID: user.ID})
	require.NoError(t, err)
	_, err = h.store.AddGroupMember(ctx, mustGroupID(t, h, user.ID), user.ID, models.GroupRoleAdmin)
	require.NoError(t, err)

	unlocked, err := h.svc.EvaluateAchievements(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, AchievementGroupFounder, unlocked[0].Name)

	unlocked, err = h.svc.EvaluateAchievements(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, unlocked)
}

func mustGroupID(t *testing.T, h *harness, creatorID string) string {
	t.Helper()
	groups, err := h.store.ListGroups(context.Background())
	require.NoError(t, err)
	for _, g := range groups {
		if g.CreatorID == creatorID {
			return g.ID
		}
	}
	t.Fatal("group not found")
	return ""
}

func TestMilestones(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	_, err := h.svc.AddMilestone(ctx, h.sess, models.Milestone{Title: " "})
	assert.Error(t, err)

	m, err := h.svc.AddMilestone(ctx, h.sess, models.Milestone{Title: "情绪突破", Type: models.MilestoneEmotional})
	require.NoError(t, err)
	assert.Equal(t, models.CalendarDay(base), m.Date)

	list, err := h.svc.Milestones(ctx, h.sess)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "情绪突破", list[0].Title)
}

func TestConfiguredPersonalityIsFallback(t *testing.T) {
	ctx := context.Background()
	cfg := configured()
	cfg.Personality = "你是一只猫"
	h := newHarness(t, cfg)

	prompt, err := h.svc.SelectedPersonality(ctx)
	require.NoError(t, err)
	assert.Equal(t, "你是一只猫", prompt)

	require.NoError(t, h.svc.SelectPersonality(ctx, "你是一只狗"))
	prompt, err = h.svc.SelectedPersonality(ctx)
	require.NoError(t, err)
	assert.Equal(t, "你是一只狗", prompt)
}
