package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/groupchat"
	"github.com/xaenox/soullink/internal/groupsync"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/notify"
)

// name of the moderator every new group starts with
const defaultModerator = "小调"

func (b *Bot) handleGroup(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	name := strings.TrimSpace(message.CommandArguments())
	if name == "" {
		b.sendMessage(message.Chat.ID, "用法：/group 群聊名字")
		return
	}

	group, err := b.deps.Groups.CreateGroup(ctx, user.ID, name, "")
	if err != nil {
		b.logger.Error("Failed to create group",
			zap.Error(err),
			zap.String("user_id", user.ID))
		b.sendErrorMessage(message.Chat.ID, "群聊创建失败。")
		return
	}
	if _, _, err := b.deps.Groups.AddAIMember(ctx, group.ID, defaultModerator, models.AIRoleModerator, ""); err != nil {
		b.logger.Error("Failed to add moderator",
			zap.Error(err),
			zap.String("group_id", group.ID))
	}

	b.sendMessage(message.Chat.ID, fmt.Sprintf("群聊「%s」已创建，ID：%s\n把 ID 发给朋友，他们用 /join 就能加入。用 /addai 邀请更多 AI 成员。", group.Name, group.ID))
	b.startWatch(ctx, message.Chat.ID, group.ID, user.ID)
}

func (b *Bot) handleJoin(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	groupID := strings.TrimSpace(message.CommandArguments())
	if groupID == "" {
		b.sendMessage(message.Chat.ID, "用法：/join 群聊ID")
		return
	}

	if _, err := b.deps.Groups.AddMember(ctx, groupID, user.ID); err != nil {
		if errors.Is(err, groupchat.ErrGroupNotFound) {
			b.sendErrorMessage(message.Chat.ID, "没有找到这个群聊。")
			return
		}
		b.logger.Error("Failed to join group",
			zap.Error(err),
			zap.String("group_id", groupID))
		b.sendErrorMessage(message.Chat.ID, "加入群聊失败。")
		return
	}
	b.sendMessage(message.Chat.ID, "已加入群聊，新消息会出现在这里。发送 /leave 回到单聊。")
	b.startWatch(ctx, message.Chat.ID, groupID, user.ID)
}

func (b *Bot) handleLeave(message *tgbotapi.Message) {
	if !b.stopWatch(message.Chat.ID) {
		b.sendMessage(message.Chat.ID, "你现在不在群聊里。")
		return
	}
	b.sendMessage(message.Chat.ID, "已回到和我的单聊。")
}

const addAIUsage = `用法：/addai 名字 角色 [性格]
角色：moderator（调解员）、guide（话题引导者）、entertainer（气氛活跃者）`

// inGroup returns the chat's watch, telling the user how to enter a group
// when there is none.
func (b *Bot) inGroup(chatID int64) *watch {
	w := b.watching(chatID)
	if w == nil {
		b.sendMessage(chatID, "先用 /group 或 /join 进入一个群聊。")
	}
	return w
}

func (b *Bot) handleAddAI(ctx context.Context, message *tgbotapi.Message) {
	w := b.inGroup(message.Chat.ID)
	if w == nil {
		return
	}
	args := strings.Fields(message.CommandArguments())
	if len(args) < 2 {
		b.sendMessage(message.Chat.ID, addAIUsage)
		return
	}
	role, ok := models.ParseAIRole(args[1])
	if !ok {
		b.sendMessage(message.Chat.ID, addAIUsage)
		return
	}

	member, _, err := b.deps.Groups.AddAIMember(ctx, w.groupID, args[0], role, strings.Join(args[2:], " "))
	if err != nil {
		b.logger.Error("Failed to add AI member",
			zap.Error(err),
			zap.String("group_id", w.groupID))
		b.sendErrorMessage(message.Chat.ID, "AI 成员添加失败。")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("%s（%s）加入了群聊。", member.Name, role.Label()))
	w.poller.CheckNow(ctx)
}

func (b *Bot) handleMembers(ctx context.Context, message *tgbotapi.Message) {
	w := b.inGroup(message.Chat.ID)
	if w == nil {
		return
	}
	members, err := b.deps.Groups.AIMembers(ctx, w.groupID)
	if err != nil {
		b.logger.Error("Failed to list AI members",
			zap.Error(err),
			zap.String("group_id", w.groupID))
		b.sendErrorMessage(message.Chat.ID, "暂时无法读取成员。")
		return
	}
	b.sendMessage(message.Chat.ID, formatAIMembers(members))
}

// handleAIMember runs the commands that take an AI member's name or ID.
func (b *Bot) handleAIMember(ctx context.Context, message *tgbotapi.Message) {
	w := b.inGroup(message.Chat.ID)
	if w == nil {
		return
	}
	ref := strings.TrimSpace(message.CommandArguments())
	if ref == "" {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("用法：/%s 名字", message.Command()))
		return
	}

	member, err := b.deps.Groups.FindAIMember(ctx, w.groupID, ref)
	if errors.Is(err, groupchat.ErrAIMemberNotFound) {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("群里没有叫 %s 的 AI 成员，用 /members 查看。", ref))
		return
	}
	if err == nil {
		switch message.Command() {
		case "removeai":
			err = b.deps.Groups.RemoveAIMember(ctx, member.ID)
		case "mute":
			_, err = b.deps.Groups.SetAIMemberActive(ctx, member.ID, false)
		case "unmute":
			_, err = b.deps.Groups.SetAIMemberActive(ctx, member.ID, true)
		}
	}
	if err != nil {
		b.logger.Error("Failed to update AI member",
			zap.Error(err),
			zap.String("group_id", w.groupID),
			zap.String("command", message.Command()))
		b.sendErrorMessage(message.Chat.ID, "操作失败，请稍后再试。")
		return
	}

	switch message.Command() {
	case "removeai":
		b.sendMessage(message.Chat.ID, fmt.Sprintf("%s 已离开群聊。", member.Name))
	case "mute":
		b.sendMessage(message.Chat.ID, fmt.Sprintf("%s 暂时不会回应了。", member.Name))
	case "unmute":
		b.sendMessage(message.Chat.ID, fmt.Sprintf("%s 回来了。", member.Name))
	}
}

func (b *Bot) handleRename(ctx context.Context, message *tgbotapi.Message) {
	w := b.inGroup(message.Chat.ID)
	if w == nil {
		return
	}
	name := strings.TrimSpace(message.CommandArguments())
	if name == "" {
		b.sendMessage(message.Chat.ID, "用法：/rename 新名字")
		return
	}
	group, err := b.deps.Groups.Rename(ctx, w.groupID, name)
	if err != nil {
		b.logger.Error("Failed to rename group",
			zap.Error(err),
			zap.String("group_id", w.groupID))
		b.sendErrorMessage(message.Chat.ID, "改名失败。")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("群聊已改名为「%s」。", group.Name))
}

func (b *Bot) handleQuitGroup(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	w := b.inGroup(message.Chat.ID)
	if w == nil {
		return
	}
	if err := b.deps.Groups.RemoveMember(ctx, w.groupID, user.ID); err != nil {
		b.logger.Error("Failed to leave group",
			zap.Error(err),
			zap.String("group_id", w.groupID))
		b.sendErrorMessage(message.Chat.ID, "退出群聊失败。")
		return
	}
	b.stopWatch(message.Chat.ID)
	b.sendMessage(message.Chat.ID, "你已退出群聊，回到和我的单聊。")
}

func (b *Bot) handleDissolve(ctx context.Context, message *tgbotapi.Message, user *models.User) {
	w := b.inGroup(message.Chat.ID)
	if w == nil {
		return
	}
	err := b.deps.Groups.Dissolve(ctx, w.groupID, user.ID)
	if errors.Is(err, groupchat.ErrNotCreator) {
		b.sendMessage(message.Chat.ID, "只有群主可以解散群聊。")
		return
	}
	if err != nil {
		b.logger.Error("Failed to dissolve group",
			zap.Error(err),
			zap.String("group_id", w.groupID))
		b.sendErrorMessage(message.Chat.ID, "解散群聊失败。")
		return
	}
	b.stopWatch(message.Chat.ID)
	b.sendMessage(message.Chat.ID, "群聊已解散。")
}

func formatAIMembers(members []models.AIGroupMember) string {
	if len(members) == 0 {
		return "群里还没有 AI 成员，用 /addai 邀请一个。"
	}
	var sb strings.Builder
	sb.WriteString("AI 成员：\n")
	for _, m := range members {
		mark := "✅"
		if !m.IsActive {
			mark = "💤"
		}
		fmt.Fprintf(&sb, "%s %s · %s\n", mark, m.Name, m.Role.Label())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) postToGroup(ctx context.Context, chatID int64, w *watch, user *models.User, content string) {
	res, err := b.deps.Groups.Post(ctx, w.groupID, user.ID, content)
	if err != nil {
		b.logger.Error("Failed to post to group",
			zap.Error(err),
			zap.String("group_id", w.groupID))
		b.sendErrorMessage(chatID, "消息发送失败。")
		return
	}
	if res.Err != nil {
		b.sendErrorMessage(chatID, res.Err.Message)
	}
	w.poller.CheckNow(ctx)
}

// startWatch makes the chat follow groupID: new messages from anyone but the
// watching user are published and forwarded to the chat.
func (b *Bot) startWatch(ctx context.Context, chatID int64, groupID, userID string) {
	b.stopWatch(chatID)

	w := &watch{
		groupID: groupID,
		userID:  userID,
		poller:  groupsync.NewPoller(b.deps.Store, b.deps.SyncInterval, b.logger, b.deps.Metrics),
	}
	b.mu.Lock()
	b.watches[chatID] = w
	b.mu.Unlock()

	w.poller.Enable(context.WithoutCancel(ctx), groupID, b.relay(userID))
}

func (b *Bot) relay(userID string) groupsync.Callback {
	return func(ctx context.Context, groupID string, messages []models.GroupMessage) {
		var incoming []models.GroupMessage
		for _, m := range messages {
			if id, ok := m.Sender.UserID(); ok && id == userID {
				continue
			}
			incoming = append(incoming, m)
		}
		if len(incoming) == 0 {
			return
		}

		turns, err := b.deps.Groups.Render(ctx, groupID, incoming)
		if err != nil {
			b.logger.Error("Failed to render group messages",
				zap.Error(err),
				zap.String("group_id", groupID))
			return
		}
		for i, turn := range turns {
			b.deps.Broadcaster.Publish(notify.Event{
				Kind:      notify.KindGroupMessages,
				UserID:    userID,
				GroupID:   groupID,
				MessageID: incoming[i].ID,
				Text:      turn.Sender + "：" + turn.Content,
				At:        incoming[i].CreatedAt,
			})
		}
	}
}

func (b *Bot) watching(chatID int64) *watch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watches[chatID]
}

func (b *Bot) stopWatch(chatID int64) bool {
	b.mu.Lock()
	w, ok := b.watches[chatID]
	delete(b.watches, chatID)
	b.mu.Unlock()

	if ok {
		w.poller.Disable()
	}
	return ok
}

func (b *Bot) stopWatches() {
	b.mu.Lock()
	chats := make([]int64, 0, len(b.watches))
	for chatID := range b.watches {
		chats = append(chats, chatID)
	}
	b.mu.Unlock()

	for _, chatID := range chats {
		b.stopWatch(chatID)
	}
}
