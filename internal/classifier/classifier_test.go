package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xaenox/soullink/internal/models"
)

func TestDetectEmotion(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		name    string
		content string
		want    models.Emotion
	}{
		{"chinese positive", "今天真开心", models.EmotionPositive},
		{"english positive is case insensitive", "This is AWESOME", models.EmotionPositive},
		{"好 and 压力 cancel out", "工作压力好大", models.EmotionNeutral},
		{"pure negative", "我很难过", models.EmotionNegative},
		{"english negative", "I feel sad", models.EmotionNegative},
		{"mixed is neutral", "happy but sad", models.EmotionNeutral},
		{"no keywords", "今天下雨", models.EmotionNeutral},
		{"empty", "", models.EmotionNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.DetectEmotion(tt.content))
		})
	}
}

func TestTagMemoryFirstCategoryWins(t *testing.T) {
	c := NewKeywordClassifier()

	tag, ok := c.TagMemory("我喜欢在公司附近跑步")
	assert.True(t, ok)
	assert.Equal(t, "兴趣爱好", tag)

	tag, ok = c.TagMemory("我的父母住在杭州")
	assert.True(t, ok)
	assert.Equal(t, "家庭信息", tag)

	tag, ok = c.TagMemory("我的梦想是环游世界")
	assert.True(t, ok)
	assert.Equal(t, "人生目标", tag)

	_, ok = c.TagMemory("今天天气不错")
	assert.False(t, ok)
}

func TestSimulateReplyMatchesEmotion(t *testing.T) {
	c := &KeywordClassifier{pick: func(n int) int { return n - 1 }}

	assert.Equal(t, "听起来你今天心情不错！继续保持哦 😊", c.SimulateReply("好开心"))
	assert.Equal(t, "我能感受到你现在不太好过。不要担心，我们一起面对 ✨", c.SimulateReply("我很生气"))
	assert.Equal(t, "我一直都在。无论什么时候，都可以和我聊聊 💭", c.SimulateReply("嗯"))

	random := NewKeywordClassifier()
	assert.Contains(t, simulatedReplies[models.EmotionNeutral], random.SimulateReply("嗯"))
}
