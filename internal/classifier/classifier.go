package classifier

import (
	"math/rand"
	"strings"

	"github.com/xaenox/soullink/internal/models"
)

type Classifier interface {
	DetectEmotion(content string) models.Emotion
	TagMemory(content string) (tag string, ok bool)
}

// memoryCategory maps trigger words to the memory tag they produce.
type memoryCategory struct {
	tag   string
	words []string
}

var (
	positiveWords = []string{
		"开心", "高兴", "快乐", "棒", "好", "喜欢", "爱", "满意", "兴奋",
		"happy", "good", "great", "wonderful", "love", "like", "awesome",
	}
	negativeWords = []string{
		"难过", "伤心", "痛苦", "糟糕", "讨厌", "生气", "愤怒", "失望", "焦虑", "压力",
		"sad", "bad", "terrible", "hate", "angry", "disappointed", "anxious", "stress",
	}

	// checked in order, first match wins
	memoryCategories = []memoryCategory{
		{tag: "兴趣爱好", words: []string{"喜欢", "爱好", "兴趣"}},
		{tag: "职业信息", words: []string{"工作", "职业", "公司"}},
		{tag: "家庭信息", words: []string{"家人", "父母", "孩子"}},
		{tag: "社交关系", words: []string{"朋友", "同事"}},
		{tag: "人生目标", words: []string{"梦想", "目标", "希望"}},
	}
)

// KeywordClassifier detects emotion and memory-worthy content by substring match.
type KeywordClassifier struct {
	pick func(n int) int
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{pick: rand.Intn}
}

// DetectEmotion returns positive or negative only when words of that polarity
// appear and none of the other; everything else is neutral.
func (c *KeywordClassifier) DetectEmotion(content string) models.Emotion {
	content = strings.ToLower(content)
	hasPositive := containsAny(content, positiveWords)
	hasNegative := containsAny(content, negativeWords)

	switch {
	case hasPositive && !hasNegative:
		return models.EmotionPositive
	case hasNegative && !hasPositive:
		return models.EmotionNegative
	default:
		return models.EmotionNeutral
	}
}

func (c *KeywordClassifier) TagMemory(content string) (string, bool) {
	for _, category := range memoryCategories {
		if containsAny(content, category.words) {
			return category.tag, true
		}
	}
	return "", false
}

// SimulateReply returns a canned companion reply matching the emotion of
// content. It stands in for the LLM when none is reachable.
func (c *KeywordClassifier) SimulateReply(content string) string {
	replies := simulatedReplies[c.DetectEmotion(content)]
	return replies[c.pick(len(replies))]
}

var simulatedReplies = map[models.Emotion][]string{
	models.EmotionPositive: {
		"真为你感到高兴！看到你的好心情，我也很开心 ✨",
		"太好了！你的正能量也感染到我了 💙",
		"听起来你今天心情不错！继续保持哦 😊",
	},
	models.EmotionNegative: {
		"我理解你的感受，让我陪着你慢慢聊。我会一直在这里 💙",
		"听起来你遇到了一些困难。想和我说说吗？我会认真倾听 🤗",
		"我能感受到你现在不太好过。不要担心，我们一起面对 ✨",
	},
	models.EmotionNeutral: {
		"我在这里倾听你的分享。有什么想聊的吗？",
		"今天想聊些什么呢？我很乐意陪你聊天 😊",
		"我一直都在。无论什么时候，都可以和我聊聊 💭",
	},
}

func containsAny(content string, words []string) bool {
	for _, word := range words {
		if strings.Contains(content, word) {
			return true
		}
	}
	return false
}
