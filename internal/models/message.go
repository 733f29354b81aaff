package models

import "time"

type MessageSender string

const (
	SenderUser MessageSender = "user"
	SenderAI   MessageSender = "ai"
)

type Emotion string

const (
	EmotionPositive Emotion = "positive"
	EmotionNeutral  Emotion = "neutral"
	EmotionNegative Emotion = "negative"
)

// ValidEmotions lists emotions in display order.
var ValidEmotions = []Emotion{EmotionPositive, EmotionNeutral, EmotionNegative}

// IsValid returns true if the emotion is recognized.
func (e Emotion) IsValid() bool {
	for _, v := range ValidEmotions {
		if e == v {
			return true
		}
	}
	return false
}

// Message is a single turn of a one-to-one conversation
type Message struct {
	ID              string        `json:"id"`
	Content         string        `json:"content"`
	Sender          MessageSender `json:"sender"`
	ConversationID  string        `json:"conversationId"`
	UserID          string        `json:"userId,omitempty"`
	HasMemory       bool          `json:"hasMemory"`
	MemoryTag       string        `json:"memoryTag,omitempty"`
	EmotionDetected Emotion       `json:"emotionDetected,omitempty"`
	IsProactive     bool          `json:"isProactive,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}
