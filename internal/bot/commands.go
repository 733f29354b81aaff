package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/analytics"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/session"
)

const welcomeText = `你好，我是 Soul 🌱
我会一直在这里陪你聊天，记住你说过的重要的事，也会在你安静太久的时候来找你。

直接给我发消息就可以开始聊天。
使用 /help 查看所有命令。`

const helpText = `可用命令：
/start - 开始使用
/help - 显示帮助
/new - 开始新的对话
/summary - 当前对话的摘要
/trend - 最近 7 天的情绪走势
/diary - 写下今天的心情日记
/achievements - 查看成就
/memories - 我记住的事情
/milestone 标题 - 记下一个里程碑
/milestones - 查看里程碑
/persona [人设] - 查看或更换我的人设，/persona 默认 恢复

群聊：
/group 名字 - 创建群聊并进入
/join 群聊ID - 加入群聊
/leave - 回到单聊，仍留在群里
/addai 名字 角色 [性格] - 邀请 AI 成员
/members - 查看 AI 成员
/removeai 名字 - 请 AI 成员离开
/mute 名字、/unmute 名字 - 让 AI 成员暂停或恢复回应
/rename 新名字 - 群聊改名
/quitgroup - 退出群聊
/dissolve - 解散群聊（仅群主）

在群聊里用 @名字 或 @ai 召唤 AI 成员。`

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message, sess *session.Session, user *models.User) {
	switch message.Command() {
	case "start":
		b.sendMessage(message.Chat.ID, welcomeText)
	case "help":
		b.sendMessage(message.Chat.ID, helpText)
	case "new":
		b.handleNew(ctx, message, sess)
	case "summary":
		b.handleSummary(ctx, message, sess)
	case "trend":
		b.handleTrend(ctx, message, user)
	case "diary":
		b.handleDiary(ctx, message, sess)
	case "achievements":
		b.handleAchievements(ctx, message, sess)
	case "memories":
		b.handleMemories(ctx, message, sess)
	case "group":
		b.handleGroup(ctx, message, user)
	case "join":
		b.handleJoin(ctx, message, user)
	case "leave":
		b.handleLeave(message)
	case "addai":
		b.handleAddAI(ctx, message)
	case "members":
		b.handleMembers(ctx, message)
	case "removeai", "mute", "unmute":
		b.handleAIMember(ctx, message)
	case "rename":
		b.handleRename(ctx, message)
	case "quitgroup":
		b.handleQuitGroup(ctx, message, user)
	case "dissolve":
		b.handleDissolve(ctx, message, user)
	case "persona":
		b.handlePersona(ctx, message)
	case "milestone":
		b.handleMilestone(ctx, message, sess)
	case "milestones":
		b.handleMilestones(ctx, message, sess)
	default:
		b.sendMessage(message.Chat.ID, "未知命令，使用 /help 查看可用命令。")
	}
}

func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	if _, err := sess.NewConversation(ctx); err != nil {
		b.logger.Error("Failed to start conversation",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "新对话创建失败，请稍后再试。")
		return
	}
	b.sendMessage(message.Chat.ID, "好的，我们重新开始吧。")
}

func (b *Bot) handleSummary(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	conv, err := sess.PeekConversation(ctx)
	if err != nil {
		b.logger.Error("Failed to get conversation",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "暂时无法读取对话。")
		return
	}
	if conv == nil || conv.Summary == "" {
		b.sendMessage(message.Chat.ID, "我们聊得还不够多，暂时还没有摘要。")
		return
	}

	text := fmt.Sprintf("*%s*\n%s\n\n_共 %d 条消息_",
		escapeMarkdown(conv.Title), escapeMarkdown(conv.Summary), conv.MessageCount)
	b.sendMarkdown(message.Chat.ID, text)
}

func (b *Bot) handleTrend(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	days, err := b.deps.Companion.Analytics().Trend(ctx, user.ID, time.Local)
	if err != nil {
		b.logger.Error("Failed to compute trend",
			zap.Error(err),
			zap.String("user_id", user.ID))
		b.sendErrorMessage(message.Chat.ID, "暂时无法计算情绪走势。")
		return
	}
	b.sendMessage(message.Chat.ID, formatTrend(days))
}

func (b *Bot) handleDiary(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	b.send(tgbotapi.NewChatAction(message.Chat.ID, tgbotapi.ChatTyping))

	entry, err := b.deps.Companion.WriteDiary(ctx, sess, time.Now())
	if err != nil {
		b.logger.Error("Failed to write diary",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "日记没有写成，请稍后再试。")
		return
	}

	text := fmt.Sprintf("%s *%s*\n\n%s",
		entry.MoodEmoji, escapeMarkdown(entry.Title), escapeMarkdown(entry.Content))
	b.sendMarkdown(message.Chat.ID, text)
}

func (b *Bot) handleAchievements(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	achievements, err := b.deps.Companion.Achievements(ctx, sess)
	if err != nil {
		b.logger.Error("Failed to get achievements",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "暂时无法读取成就。")
		return
	}
	b.sendMessage(message.Chat.ID, formatAchievements(achievements))
}

func (b *Bot) handleMemories(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	memories, err := b.deps.Companion.Memories(ctx, sess)
	if err != nil {
		b.logger.Error("Failed to get memories",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "暂时无法读取记忆。")
		return
	}
	if len(memories) == 0 {
		b.sendMessage(message.Chat.ID, "我还没有记住什么特别的事情。")
		return
	}

	response := "*我记得：*\n"
	for _, m := range memories {
		if m.Category != "" {
			response += fmt.Sprintf("\\#%s ", escapeMarkdown(strings.ReplaceAll(m.Category, " ", "_")))
		}
		response += escapeMarkdown(m.Content) + "\n"
	}
	b.sendMarkdown(message.Chat.ID, response)
}

// resetPersona restores the configured persona when given to /persona.
const resetPersona = "默认"

func (b *Bot) handlePersona(ctx context.Context, message *tgbotapi.Message) {
	prompt := strings.TrimSpace(message.CommandArguments())
	if prompt == "" {
		current, err := b.deps.Companion.SelectedPersonality(ctx)
		if err != nil {
			b.logger.Error("Failed to get personality", zap.Error(err))
			b.sendErrorMessage(message.Chat.ID, "暂时无法读取人设。")
			return
		}
		b.sendMessage(message.Chat.ID, "当前人设：\n"+current)
		return
	}

	reply := "人设已更新。"
	if prompt == resetPersona {
		prompt, reply = "", "已恢复默认人设。"
	}
	if err := b.deps.Companion.SelectPersonality(ctx, prompt); err != nil {
		b.logger.Error("Failed to select personality", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "人设保存失败。")
		return
	}
	b.sendMessage(message.Chat.ID, reply)
}

func (b *Bot) handleMilestone(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	title := strings.TrimSpace(message.CommandArguments())
	if title == "" {
		b.sendMessage(message.Chat.ID, "用法：/milestone 标题")
		return
	}
	m, err := b.deps.Companion.AddMilestone(ctx, sess, models.Milestone{Title: title, Type: models.MilestoneCustom})
	if err != nil {
		b.logger.Error("Failed to add milestone",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "里程碑没有记下来，请稍后再试。")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("📌 记下了：%s", m.Title))
}

func (b *Bot) handleMilestones(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	milestones, err := b.deps.Companion.Milestones(ctx, sess)
	if err != nil {
		b.logger.Error("Failed to get milestones",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "暂时无法读取里程碑。")
		return
	}
	if len(milestones) == 0 {
		b.sendMessage(message.Chat.ID, "还没有里程碑，用 /milestone 记下第一个吧。")
		return
	}

	var sb strings.Builder
	sb.WriteString("里程碑：\n")
	for _, m := range milestones {
		fmt.Fprintf(&sb, "📌 %s %s\n", m.Date.Format(time.DateOnly), m.Title)
	}
	b.sendMessage(message.Chat.ID, strings.TrimRight(sb.String(), "\n"))
}

func formatTrend(days []analytics.DayTrend) string {
	var sb strings.Builder
	sb.WriteString("最近 7 天的心情：\n")
	for _, d := range days {
		if d.Total() == 0 {
			fmt.Fprintf(&sb, "%s  ·\n", d.Date.Format("01-02"))
			continue
		}
		fmt.Fprintf(&sb, "%s  😊%d 😐%d 😢%d\n", d.Date.Format("01-02"), d.Positive, d.Neutral, d.Negative)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatAchievements(achievements []models.Achievement) string {
	var sb strings.Builder
	sb.WriteString("成就：\n")
	for _, a := range achievements {
		mark := "🔒"
		if a.Unlocked {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "%s %s\n", mark, a.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
