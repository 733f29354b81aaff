// Package bot is the Telegram front-end of the companion.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/companion"
	"github.com/xaenox/soullink/internal/groupchat"
	"github.com/xaenox/soullink/internal/groupsync"
	"github.com/xaenox/soullink/internal/metrics"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/notify"
	"github.com/xaenox/soullink/internal/session"
	"github.com/xaenox/soullink/internal/storage"
)

// sender is the part of the Telegram API the handlers need.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Deps struct {
	Store        *storage.Store
	Sessions     *session.Resolver
	Companion    *companion.Service
	Groups       *groupchat.Service
	Broadcaster  *notify.Broadcaster
	SyncInterval time.Duration
	Metrics      metrics.Recorder
	Logger       *zap.Logger
}

type Bot struct {
	api    *tgbotapi.BotAPI
	sender sender
	deps   Deps
	logger *zap.Logger

	mu sync.Mutex
	// user id -> chat the user last wrote from
	chats map[string]int64
	// chat id -> group the chat is watching
	watches map[int64]*watch
}

type watch struct {
	groupID string
	userID  string
	poller  *groupsync.Poller
}

func New(token string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, deps)
	b.api = api
	return b, nil
}

func newBot(s sender, deps Deps) *Bot {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	return &Bot{
		sender:  s,
		deps:    deps,
		logger:  deps.Logger,
		chats:   make(map[string]int64),
		watches: make(map[int64]*watch),
	}
}

// Start receives updates until ctx is cancelled. Notifications published on
// the broadcaster are forwarded to the chat of the user they concern.
func (b *Bot) Start(ctx context.Context) error {
	events, unsubscribe := b.deps.Broadcaster.Subscribe(64)
	defer unsubscribe()
	go b.forward(ctx, events)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.stopWatches()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.stopWatches()
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) forward(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.deliverEvent(ev)
		}
	}
}

func (b *Bot) deliverEvent(ev notify.Event) {
	b.mu.Lock()
	chatID, ok := b.chats[ev.UserID]
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("No chat for notification",
			zap.String("kind", string(ev.Kind)),
			zap.String("user_id", ev.UserID))
		return
	}

	switch ev.Kind {
	case notify.KindProactiveMessage, notify.KindGroupMessages:
		b.sendMessage(chatID, ev.Text)
	case notify.KindAchievement:
		b.sendMessage(chatID, fmt.Sprintf("🏆 解锁成就：%s", ev.Text))
	}
}

func sessionNamespace(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// signIn resolves the chat's session and points it at the Telegram user.
func (b *Bot) signIn(ctx context.Context, message *tgbotapi.Message) (*session.Session, *models.User, error) {
	sess := b.deps.Sessions.Session(sessionNamespace(message.Chat.ID))
	if message.From == nil {
		user, err := sess.CurrentUser(ctx)
		return sess, user, err
	}

	name := strings.TrimSpace(message.From.FirstName + " " + message.From.LastName)
	if name == "" {
		name = message.From.UserName
	}
	user, err := sess.SignIn(ctx, strconv.FormatInt(message.From.ID, 10), name, "")
	if err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	b.chats[user.ID] = message.Chat.ID
	b.mu.Unlock()
	return sess, user, nil
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	sess, user, err := b.signIn(ctx, message)
	if err != nil {
		b.logger.Error("Failed to resolve session",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "暂时无法识别你的身份，请稍后再试。")
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message, sess, user)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	if w := b.watching(message.Chat.ID); w != nil {
		b.postToGroup(ctx, message.Chat.ID, w, user, content)
		return
	}
	b.chat(ctx, message.Chat.ID, sess, content)
}

func (b *Bot) chat(ctx context.Context, chatID int64, sess *session.Session, content string) {
	b.send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	res, err := b.deps.Companion.Send(ctx, sess, content, func(reply models.Message) {
		b.sendMessage(chatID, reply.Content)
	})
	if err != nil {
		b.logger.Error("Failed to handle chat message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		b.sendErrorMessage(chatID, "抱歉，消息没有保存成功，请再试一次。")
		return
	}
	if res.Err != nil {
		b.sendErrorMessage(chatID, res.Err.Message)
	}
}

// escapeMarkdown escapes text for MarkdownV2 messages.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.sender.Send(c); err != nil {
		b.logger.Error("Failed to send", zap.Error(err))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send markdown message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
