package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/metrics"
	"github.com/xaenox/soullink/internal/models"
)

// Gating constants of the secondary endpoints.
const (
	MinMessagesForPersonalityUpdate = 20
	PersonalityFallbackEvery        = 50
	InactivityThreshold             = 5 * time.Minute
	MinMessagesForProactive         = 5

	summaryContext     = 20
	personalityContext = 30
	proactiveContext   = 15
	diaryContext       = 40
	groupContext       = 20

	maxSummaryRunes       = 100
	fallbackSummaryRunes  = 50
	proactiveFallbackText = "还有什么想聊的吗？我一直都在哦 😊"
)

// Assistant builds prompts for the companion features on top of a
// Collaborator and parses the replies leniently. Every secondary endpoint
// degrades to a heuristic when the collaborator is unavailable.
type Assistant struct {
	collab   Collaborator
	language Language
	logger   *zap.Logger
	metrics  metrics.Recorder
}

func NewAssistant(collab Collaborator, lang Language, logger *zap.Logger, recorder metrics.Recorder) *Assistant {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Assistant{
		collab:   collab,
		language: lang,
		logger:   logger,
		metrics:  recorder,
	}
}

func (a *Assistant) Language() Language {
	return a.language
}

// Chat sends the personality prompt, the split-message instructions, the
// history and the new user message, and parses a possibly split reply.
func (a *Assistant) Chat(ctx context.Context, creds Credentials, personality string, history []Turn, userMessage string) (Reply, error) {
	if personality == "" {
		personality = DefaultPersonality.SystemPrompt
	}

	turns := make([]Turn, 0, len(history)+2)
	turns = append(turns, Turn{Role: RoleSystem, Content: personality + "\n\n" + splitMessagePrompt})
	turns = append(turns, history...)
	turns = append(turns, Turn{Role: RoleUser, Content: userMessage})

	text, err := a.collab.Complete(ctx, creds, Request{Turns: turns})
	if err != nil {
		a.metrics.RecordLLMCall("chat", outcomeOf(err))
		return Reply{}, a.asAPIError(err)
	}
	a.metrics.RecordLLMCall("chat", "ok")
	return ParseSplitReply(text), nil
}

// Summarize returns a short topic for the conversation. It never fails.
func (a *Assistant) Summarize(ctx context.Context, creds Credentials, history []Turn, existing string) string {
	if len(history) == 0 {
		return a.text(placeholderNewConversation)
	}
	if !creds.Configured() {
		a.metrics.RecordLLMCall("summary", "fallback")
		return a.firstUserMessageSummary(history)
	}

	conversation := transcript(lastTurns(history, summaryContext))
	prompt := fmt.Sprintf(summaryPrompt, conversation)
	if existing != "" {
		prompt = fmt.Sprintf(summaryUpdatePrompt, existing, conversation)
	}

	text, err := a.collab.Complete(ctx, creds, Request{
		Turns: []Turn{
			{Role: RoleSystem, Content: summarySystemPrompt},
			{Role: RoleUser, Content: prompt},
		},
		MaxTokens:   50,
		Temperature: 0.5,
	})
	if err != nil {
		a.logger.Warn("Failed to generate summary", zap.Error(err))
		a.metrics.RecordLLMCall("summary", outcomeOf(err))
		return a.firstUserMessageSummary(history)
	}
	a.metrics.RecordLLMCall("summary", "ok")

	summary := strings.TrimSpace(text)
	if summary == "" {
		return a.text(placeholderChatSession)
	}
	return truncateRunes(summary, maxSummaryRunes-3, maxSummaryRunes)
}

// PersonalityDecision is the verdict on whether the companion persona should change.
type PersonalityDecision struct {
	ShouldUpdate         bool    `json:"should_update"`
	Reason               string  `json:"reason"`
	SuggestedPersonality *string `json:"suggested_personality"`
	Confidence           float64 `json:"confidence"`
}

// Suggestion returns the suggested prompt, or "" when there is none.
func (d PersonalityDecision) Suggestion() string {
	if d.SuggestedPersonality == nil {
		return ""
	}
	return strings.TrimSpace(*d.SuggestedPersonality)
}

// DecidePersonalityUpdate analyses the recent conversation. Fewer than
// MinMessagesForPersonalityUpdate messages never lead to an update.
func (a *Assistant) DecidePersonalityUpdate(ctx context.Context, creds Credentials, history []Turn, current string, messageCount int, summary string) PersonalityDecision {
	if messageCount < MinMessagesForPersonalityUpdate {
		return PersonalityDecision{
			Reason: fmt.Sprintf("消息数量不足 (需要至少 %d 条，当前 %d 条)", MinMessagesForPersonalityUpdate, messageCount),
		}
	}

	if !creds.Configured() {
		a.metrics.RecordLLMCall("personality", "fallback")
		if messageCount%PersonalityFallbackEvery == 0 {
			return PersonalityDecision{
				ShouldUpdate:         true,
				Reason:               "达到50条消息，建议考虑更新个性",
				SuggestedPersonality: &current,
				Confidence:           0.5,
			}
		}
		return PersonalityDecision{Reason: "未配置 API，无法进行高级分析"}
	}

	prompt := fmt.Sprintf(personalityPrompt, current, messageCount, summary, transcript(lastTurns(history, personalityContext)))
	text, err := a.collab.Complete(ctx, creds, Request{
		Turns: []Turn{
			{Role: RoleSystem, Content: personalitySystemPrompt},
			{Role: RoleUser, Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		a.logger.Warn("Failed to analyze personality", zap.Error(err))
		a.metrics.RecordLLMCall("personality", outcomeOf(err))
		return PersonalityDecision{Reason: "分析错误: " + err.Error()}
	}

	parsed := ParseJSON[PersonalityDecision](text)
	if parsed.Malformed {
		a.logger.Warn("Malformed personality decision", zap.String("response", parsed.Raw))
		a.metrics.RecordLLMCall("personality", "malformed")
		return PersonalityDecision{Reason: "无法解析 AI 响应"}
	}
	a.metrics.RecordLLMCall("personality", "ok")

	decision := parsed.Value
	if decision.Reason == "" {
		decision.Reason = "未知原因"
	}
	return decision
}

type ProactiveAction string

const (
	ActionContinue ProactiveAction = "continue"
	ActionNewTopic ProactiveAction = "new_topic"
	ActionWait     ProactiveAction = "wait"
)

type ProactiveDecision struct {
	Action           ProactiveAction `json:"action"`
	Reason           string          `json:"reason"`
	SuggestedMessage string          `json:"suggested_message"`
}

// ShouldSend reports whether the decision asks for a message and supplies one.
func (d ProactiveDecision) ShouldSend() bool {
	return (d.Action == ActionContinue || d.Action == ActionNewTopic) &&
		strings.TrimSpace(d.SuggestedMessage) != ""
}

// DecideProactive decides whether the companion should speak up after the
// user has been quiet for inactive.
func (a *Assistant) DecideProactive(ctx context.Context, creds Credentials, history []Turn, summary string, messageCount int, inactive time.Duration) ProactiveDecision {
	if inactive < InactivityThreshold {
		return ProactiveDecision{
			Action: ActionWait,
			Reason: fmt.Sprintf("活动时间不足 %d 分钟", int(InactivityThreshold.Minutes())),
		}
	}

	if !creds.Configured() {
		a.metrics.RecordLLMCall("proactive", "fallback")
		if messageCount < MinMessagesForProactive {
			return ProactiveDecision{Action: ActionWait, Reason: "对话太短，无法做出决策"}
		}
		return ProactiveDecision{
			Action:           ActionContinue,
			Reason:           "对话历史充足",
			SuggestedMessage: proactiveFallbackText,
		}
	}

	prompt := fmt.Sprintf(proactivePrompt, summary, messageCount, inactive.Minutes(), transcript(lastTurns(history, proactiveContext)))
	text, err := a.collab.Complete(ctx, creds, Request{
		Turns: []Turn{
			{Role: RoleSystem, Content: proactiveSystemPrompt},
			{Role: RoleUser, Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		a.logger.Warn("Failed to make proactive decision", zap.Error(err))
		a.metrics.RecordLLMCall("proactive", outcomeOf(err))
		return ProactiveDecision{Action: ActionWait, Reason: "决策错误: " + err.Error()}
	}

	parsed := ParseJSON[ProactiveDecision](text)
	if parsed.Malformed {
		a.logger.Warn("Malformed proactive decision", zap.String("response", parsed.Raw))
		a.metrics.RecordLLMCall("proactive", "malformed")
		return ProactiveDecision{Action: ActionWait, Reason: "无法解析 AI 响应"}
	}
	a.metrics.RecordLLMCall("proactive", "ok")

	decision := parsed.Value
	switch decision.Action {
	case ActionContinue, ActionNewTopic, ActionWait:
	default:
		decision.Action = ActionWait
	}
	if decision.Reason == "" {
		decision.Reason = "未知原因"
	}
	return decision
}

// MoodCounts tallies the detected emotions of a day's user messages.
type MoodCounts struct {
	Positive int
	Neutral  int
	Negative int
}

func (c MoodCounts) Total() int {
	return c.Positive + c.Neutral + c.Negative
}

// Dominant returns the most frequent emotion; ties resolve to neutral.
func (c MoodCounts) Dominant() models.Emotion {
	switch {
	case c.Positive > c.Negative && c.Positive > c.Neutral:
		return models.EmotionPositive
	case c.Negative > c.Positive && c.Negative > c.Neutral:
		return models.EmotionNegative
	default:
		return models.EmotionNeutral
	}
}

// DiaryDraft is the generated content of a diary entry.
type DiaryDraft struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	MoodEmoji   string `json:"mood_emoji"`
	MoodLabel   string `json:"mood_label"`
	AIGenerated bool   `json:"-"`
}

// GenerateDiary writes the diary page of day from that day's conversation.
// Without a usable reply it composes one from the mood counts.
func (a *Assistant) GenerateDiary(ctx context.Context, creds Credentials, day time.Time, history []Turn, counts MoodCounts) DiaryDraft {
	fallback := a.fallbackDiary(day, counts, len(history))
	if !creds.Configured() || len(history) == 0 {
		a.metrics.RecordLLMCall("diary", "fallback")
		return fallback
	}

	prompt := fmt.Sprintf(diaryPrompt, day.Format("2006-01-02"), counts.Positive, counts.Neutral, counts.Negative,
		transcript(lastTurns(history, diaryContext)))
	text, err := a.collab.Complete(ctx, creds, Request{
		Turns: []Turn{
			{Role: RoleSystem, Content: diarySystemPrompt},
			{Role: RoleUser, Content: prompt},
		},
		Temperature: 0.8,
	})
	if err != nil {
		a.logger.Warn("Failed to generate diary", zap.Error(err))
		a.metrics.RecordLLMCall("diary", outcomeOf(err))
		return fallback
	}

	parsed := ParseJSON[DiaryDraft](text)
	if parsed.Malformed || strings.TrimSpace(parsed.Value.Content) == "" {
		a.metrics.RecordLLMCall("diary", "malformed")
		return fallback
	}
	a.metrics.RecordLLMCall("diary", "ok")

	draft := parsed.Value
	draft.AIGenerated = true
	if draft.Title == "" {
		draft.Title = fallback.Title
	}
	if draft.MoodEmoji == "" || draft.MoodLabel == "" {
		draft.MoodEmoji, draft.MoodLabel = fallback.MoodEmoji, fallback.MoodLabel
	}
	return draft
}

func (a *Assistant) fallbackDiary(day time.Time, counts MoodCounts, messages int) DiaryDraft {
	mood := moodFor(counts.Dominant(), a.language)
	if a.language == English {
		return DiaryDraft{
			Title: day.Format("January 2, 2006"),
			Content: fmt.Sprintf("Today I exchanged %d messages with my companion: %d happy, %d calm and %d low moments.",
				messages, counts.Positive, counts.Neutral, counts.Negative),
			MoodEmoji: mood.emoji,
			MoodLabel: mood.label,
		}
	}
	return DiaryDraft{
		Title: day.Format("2006年1月2日") + "的日记",
		Content: fmt.Sprintf("今天和 Soul 聊了 %d 条消息，其中开心的时刻 %d 次，平静的时刻 %d 次，低落的时刻 %d 次。",
			messages, counts.Positive, counts.Neutral, counts.Negative),
		MoodEmoji: mood.emoji,
		MoodLabel: mood.label,
	}
}

// GroupTurn is one line of group history as an AI member sees it.
type GroupTurn struct {
	Sender  string
	Content string
	IsAI    bool
}

// GroupMemberReply produces the reply of an AI group member to message.
// Errors are returned so the caller can report them in the group.
func (a *Assistant) GroupMemberReply(ctx context.Context, creds Credentials, member models.AIGroupMember, history []GroupTurn, message string) (string, error) {
	system := fmt.Sprintf(groupMemberPrompt, member.Name, member.Role.Label(), member.Role.Description(), member.Personality)

	window := lastGroupTurns(history, groupContext)
	turns := []Turn{{Role: RoleSystem, Content: system}}
	for _, line := range window {
		role := RoleUser
		if line.IsAI && line.Sender == member.Name {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: line.Sender + ": " + line.Content})
	}
	if !trailingHumanTurn(window, message) {
		turns = append(turns, Turn{Role: RoleUser, Content: message})
	}

	text, err := a.collab.Complete(ctx, creds, Request{Turns: turns, Temperature: 0.9})
	if err != nil {
		a.metrics.RecordLLMCall("group", outcomeOf(err))
		return "", a.asAPIError(err)
	}
	a.metrics.RecordLLMCall("group", "ok")

	reply := ParseSplitReply(text)
	return strings.TrimSpace(strings.Join(reply.Messages(), "\n")), nil
}

// trailingHumanTurn reports whether message is among the human turns after the
// AI replies that close history.
func trailingHumanTurn(history []GroupTurn, message string) bool {
	i := len(history) - 1
	for i >= 0 && history[i].IsAI {
		i--
	}
	for ; i >= 0 && !history[i].IsAI; i-- {
		if history[i].Content == message {
			return true
		}
	}
	return false
}

func (a *Assistant) firstUserMessageSummary(history []Turn) string {
	for _, turn := range history {
		if turn.Role == RoleUser {
			return truncateRunes(turn.Content, fallbackSummaryRunes, fallbackSummaryRunes)
		}
	}
	return a.text(placeholderChatSession)
}

func (a *Assistant) asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return classifyError(err, a.language)
}

type placeholder int

const (
	placeholderNewConversation placeholder = iota
	placeholderChatSession
)

var placeholders = map[Language][]string{
	Chinese: {"新对话", "聊天会话"},
	English: {"New conversation", "Chat session"},
}

func (a *Assistant) text(p placeholder) string {
	texts, ok := placeholders[a.language]
	if !ok {
		texts = placeholders[Chinese]
	}
	return texts[p]
}

type mood struct {
	emoji string
	label string
}

func moodFor(e models.Emotion, lang Language) mood {
	en := lang == English
	switch e {
	case models.EmotionPositive:
		if en {
			return mood{"😊", "Upbeat"}
		}
		return mood{"😊", "积极"}
	case models.EmotionNegative:
		if en {
			return mood{"🌧️", "Low"}
		}
		return mood{"🌧️", "低落"}
	default:
		if en {
			return mood{"😌", "Calm"}
		}
		return mood{"😌", "平静"}
	}
}

func outcomeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return string(apiErr.Code)
	}
	return "error"
}

// transcript renders turns as "用户: ..." / "AI: ..." lines.
func transcript(turns []Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		if turn.Role == RoleSystem {
			continue
		}
		speaker := "AI"
		if turn.Role == RoleUser {
			speaker = "用户"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func lastTurns(turns []Turn, n int) []Turn {
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

func lastGroupTurns(turns []GroupTurn, n int) []GroupTurn {
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

// truncateRunes cuts s to keep runes followed by "..." when it is longer than limit runes.
func truncateRunes(s string, keep, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:keep]) + "..."
}
