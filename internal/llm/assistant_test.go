package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/models"
)

// fakeCollaborator returns canned replies in order and records requests.
type fakeCollaborator struct {
	replies  []string
	err      error
	requests []Request
}

func (f *fakeCollaborator) Complete(_ context.Context, _ Credentials, req Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

var configured = Credentials{APIKey: "sk-test", Model: "m"}

func newAssistant(collab Collaborator) *Assistant {
	return NewAssistant(collab, Chinese, zap.NewNop(), nil)
}

func history(n int) []Turn {
	turns := make([]Turn, n)
	for i := range turns {
		turns[i] = Turn{Role: RoleUser, Content: "msg"}
		if i%2 == 1 {
			turns[i].Role = RoleAssistant
		}
	}
	return turns
}

func TestChatSendsPersonalityAndSplitInstructions(t *testing.T) {
	fake := &fakeCollaborator{replies: []string{`{"messages": ["嗨", "最近好吗？"]}`}}
	a := newAssistant(fake)

	reply, err := a.Chat(context.Background(), configured, "", []Turn{{Role: RoleAssistant, Content: "之前"}}, "你好")
	require.NoError(t, err)
	assert.Equal(t, []string{"嗨", "最近好吗？"}, reply.Messages())

	require.Len(t, fake.requests, 1)
	turns := fake.requests[0].Turns
	require.Len(t, turns, 3)
	assert.Equal(t, RoleSystem, turns[0].Role)
	assert.True(t, strings.HasPrefix(turns[0].Content, DefaultPersonality.SystemPrompt))
	assert.Contains(t, turns[0].Content, `{"messages": [`)
	assert.Equal(t, Turn{Role: RoleUser, Content: "你好"}, turns[2])
}

func TestChatReturnsAPIError(t *testing.T) {
	a := newAssistant(&fakeCollaborator{err: NewAPIError(CodeRateLimit, Chinese, nil)})
	_, err := a.Chat(context.Background(), configured, "p", nil, "hi")
	assert.True(t, IsCode(err, CodeRateLimit))

	a = newAssistant(&fakeCollaborator{err: errors.New("dial tcp: refused")})
	_, err = a.Chat(context.Background(), configured, "p", nil, "hi")
	assert.True(t, IsCode(err, CodeTransport))
	assert.Equal(t, "AI API 错误: dial tcp: refused", err.Error())
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()

	t.Run("empty history", func(t *testing.T) {
		assert.Equal(t, "新对话", newAssistant(&fakeCollaborator{}).Summarize(ctx, configured, nil, ""))
	})

	t.Run("unconfigured uses first user message", func(t *testing.T) {
		long := strings.Repeat("长", 60)
		got := newAssistant(&fakeCollaborator{}).Summarize(ctx, Credentials{}, []Turn{
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: long},
		}, "")
		assert.Equal(t, strings.Repeat("长", 50)+"...", got)
	})

	t.Run("long model summary is capped", func(t *testing.T) {
		fake := &fakeCollaborator{replies: []string{strings.Repeat("字", 120)}}
		got := newAssistant(fake).Summarize(ctx, configured, history(30), "旧主题")
		assert.Equal(t, strings.Repeat("字", 97)+"...", got)
		require.Len(t, fake.requests, 1)
		assert.Contains(t, fake.requests[0].Turns[1].Content, "旧主题")
		assert.Equal(t, 50, fake.requests[0].MaxTokens)
	})

	t.Run("failure falls back", func(t *testing.T) {
		got := newAssistant(&fakeCollaborator{err: errors.New("down")}).Summarize(ctx, configured, []Turn{
			{Role: RoleUser, Content: "周末去爬山"},
		}, "")
		assert.Equal(t, "周末去爬山", got)
	})
}

func TestDecidePersonalityUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("too few messages", func(t *testing.T) {
		fake := &fakeCollaborator{}
		d := newAssistant(fake).DecidePersonalityUpdate(ctx, configured, history(10), "p", 19, "")
		assert.False(t, d.ShouldUpdate)
		assert.Empty(t, fake.requests)
	})

	t.Run("unconfigured heuristic", func(t *testing.T) {
		a := newAssistant(&fakeCollaborator{})
		d := a.DecidePersonalityUpdate(ctx, Credentials{}, nil, "current", 50, "")
		assert.True(t, d.ShouldUpdate)
		assert.Equal(t, 0.5, d.Confidence)
		assert.Equal(t, "current", d.Suggestion())

		d = a.DecidePersonalityUpdate(ctx, Credentials{}, nil, "current", 51, "")
		assert.False(t, d.ShouldUpdate)
	})

	t.Run("parses model decision", func(t *testing.T) {
		fake := &fakeCollaborator{replies: []string{
			"```json\n{\"should_update\": true, \"reason\": \"用户喜欢简洁\", \"suggested_personality\": \"简洁直接\", \"confidence\": 0.8}\n```",
		}}
		d := newAssistant(fake).DecidePersonalityUpdate(ctx, configured, history(40), "p", 40, "s")
		assert.True(t, d.ShouldUpdate)
		assert.Equal(t, "简洁直接", d.Suggestion())
		assert.InDelta(t, 0.8, d.Confidence, 1e-9)
	})

	t.Run("malformed reply", func(t *testing.T) {
		fake := &fakeCollaborator{replies: []string{"yes, update it"}}
		d := newAssistant(fake).DecidePersonalityUpdate(ctx, configured, history(20), "p", 20, "")
		assert.False(t, d.ShouldUpdate)
		assert.Equal(t, "无法解析 AI 响应", d.Reason)
	})

	t.Run("null suggestion", func(t *testing.T) {
		fake := &fakeCollaborator{replies: []string{`{"should_update": false, "reason": "ok", "suggested_personality": null, "confidence": 0.1}`}}
		d := newAssistant(fake).DecidePersonalityUpdate(ctx, configured, history(20), "p", 20, "")
		assert.Empty(t, d.Suggestion())
	})
}

func TestDecidePersonalityUsesLastThirtyTurns(t *testing.T) {
	turns := make([]Turn, 35)
	for i := range turns {
		turns[i] = Turn{Role: RoleUser, Content: "line-" + string(rune('A'+i))}
	}
	fake := &fakeCollaborator{replies: []string{`{"should_update": false, "reason": "r", "confidence": 0}`}}
	newAssistant(fake).DecidePersonalityUpdate(context.Background(), configured, turns, "p", 35, "")

	prompt := fake.requests[0].Turns[1].Content
	assert.NotContains(t, prompt, "line-E\n")
	assert.Contains(t, prompt, "line-F\n")
}

func TestDecideProactive(t *testing.T) {
	ctx := context.Background()

	t.Run("below threshold", func(t *testing.T) {
		fake := &fakeCollaborator{}
		d := newAssistant(fake).DecideProactive(ctx, configured, history(10), "", 10, 4*time.Minute)
		assert.Equal(t, ActionWait, d.Action)
		assert.False(t, d.ShouldSend())
		assert.Empty(t, fake.requests)
	})

	t.Run("unconfigured short conversation", func(t *testing.T) {
		d := newAssistant(&fakeCollaborator{}).DecideProactive(ctx, Credentials{}, nil, "", 4, 10*time.Minute)
		assert.Equal(t, ActionWait, d.Action)
	})

	t.Run("unconfigured continues", func(t *testing.T) {
		d := newAssistant(&fakeCollaborator{}).DecideProactive(ctx, Credentials{}, nil, "", 5, 10*time.Minute)
		assert.Equal(t, ActionContinue, d.Action)
		assert.Equal(t, "还有什么想聊的吗？我一直都在哦 😊", d.SuggestedMessage)
		assert.True(t, d.ShouldSend())
	})

	t.Run("model new topic", func(t *testing.T) {
		fake := &fakeCollaborator{replies: []string{`{"action": "new_topic", "reason": "停顿", "suggested_message": "要不要聊聊电影？"}`}}
		d := newAssistant(fake).DecideProactive(ctx, configured, history(20), "摘要", 20, 6*time.Minute)
		assert.Equal(t, ActionNewTopic, d.Action)
		assert.True(t, d.ShouldSend())
		assert.Contains(t, fake.requests[0].Turns[1].Content, "不活跃分钟数: 6.0")
	})

	t.Run("continue without message does not send", func(t *testing.T) {
		fake := &fakeCollaborator{replies: []string{`{"action": "continue", "reason": "r", "suggested_message": null}`}}
		d := newAssistant(fake).DecideProactive(ctx, configured, history(20), "", 20, 6*time.Minute)
		assert.Equal(t, ActionContinue, d.Action)
		assert.False(t, d.ShouldSend())
	})

	t.Run("unknown action becomes wait", func(t *testing.T) {
		fake := &fakeCollaborator{replies: []string{`{"action": "shout", "suggested_message": "HEY"}`}}
		d := newAssistant(fake).DecideProactive(ctx, configured, history(20), "", 20, 6*time.Minute)
		assert.Equal(t, ActionWait, d.Action)
		assert.False(t, d.ShouldSend())
	})

	t.Run("collaborator error waits", func(t *testing.T) {
		d := newAssistant(&fakeCollaborator{err: errors.New("down")}).DecideProactive(ctx, configured, history(20), "", 20, 6*time.Minute)
		assert.Equal(t, ActionWait, d.Action)
	})
}

func TestGenerateDiary(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	counts := MoodCounts{Positive: 3, Neutral: 1, Negative: 1}

	fallback := newAssistant(&fakeCollaborator{}).GenerateDiary(ctx, Credentials{}, day, history(5), counts)
	assert.False(t, fallback.AIGenerated)
	assert.Equal(t, "2024年3月5日的日记", fallback.Title)
	assert.Equal(t, "积极", fallback.MoodLabel)
	assert.Contains(t, fallback.Content, "5 条消息")

	fake := &fakeCollaborator{replies: []string{`{"title": "晴天", "content": "今天很开心。", "mood_emoji": "☀️", "mood_label": "愉快"}`}}
	draft := newAssistant(fake).GenerateDiary(ctx, configured, day, history(5), counts)
	assert.True(t, draft.AIGenerated)
	assert.Equal(t, "晴天", draft.Title)
	assert.Equal(t, "愉快", draft.MoodLabel)

	broken := newAssistant(&fakeCollaborator{replies: []string{"not json"}}).GenerateDiary(ctx, configured, day, history(5), counts)
	assert.False(t, broken.AIGenerated)
}

func TestMoodCountsDominant(t *testing.T) {
	assert.Equal(t, models.EmotionPositive, MoodCounts{Positive: 2, Neutral: 1}.Dominant())
	assert.Equal(t, models.EmotionNegative, MoodCounts{Negative: 2, Positive: 1}.Dominant())
	assert.Equal(t, models.EmotionNeutral, MoodCounts{Positive: 1, Negative: 1}.Dominant())
	assert.Equal(t, models.EmotionNeutral, MoodCounts{}.Dominant())
}

func TestGroupMemberReply(t *testing.T) {
	fake := &fakeCollaborator{replies: []string{`{"messages": ["哈哈", "我也觉得！"]}`}}
	a := newAssistant(fake)
	member := models.AIGroupMember{Name: "Mia", Role: models.AIRoleEntertainer, Personality: "爱开玩笑"}

	got, err := a.GroupMemberReply(context.Background(), configured, member, []GroupTurn{
		{Sender: "小王", Content: "@Mia 今天好累"},
		{Sender: "Mia", Content: "辛苦啦", IsAI: true},
		{Sender: "小王", Content: "@Mia 讲个笑话"},
	}, "@Mia 讲个笑话")
	require.NoError(t, err)
	assert.Equal(t, "哈哈\n我也觉得！", got)

	turns := fake.requests[0].Turns
	require.Len(t, turns, 4)
	assert.Contains(t, turns[0].Content, "气氛活跃者")
	assert.Contains(t, turns[0].Content, "活跃气氛，增添趣味")
	assert.Equal(t, RoleAssistant, turns[2].Role)
	assert.Equal(t, "小王: @Mia 讲个笑话", turns[3].Content)
}

func TestGroupMemberReplyAfterAnotherMemberAnswered(t *testing.T) {
	fake := &fakeCollaborator{replies: []string{"大家好呀"}}
	a := newAssistant(fake)
	member := models.AIGroupMember{Name: "Leo", Role: models.AIRoleModerator}

	_, err := a.GroupMemberReply(context.Background(), configured, member, []GroupTurn{
		{Sender: "小王", Content: "@ai 早上好"},
		{Sender: "Mia", Content: "早呀！", IsAI: true},
	}, "@ai 早上好")
	require.NoError(t, err)

	turns := fake.requests[0].Turns
	require.Len(t, turns, 3)
	assert.Equal(t, "小王: @ai 早上好", turns[1].Content)
	assert.Equal(t, RoleUser, turns[2].Role)
	assert.Equal(t, "Mia: 早呀！", turns[2].Content)

	fake.replies = []string{"嗯"}
	_, err = a.GroupMemberReply(context.Background(), configured, member, []GroupTurn{
		{Sender: "小王", Content: "之前的话"},
	}, "新消息")
	require.NoError(t, err)
	turns = fake.requests[1].Turns
	require.Len(t, turns, 3)
	assert.Equal(t, "新消息", turns[2].Content)
}
