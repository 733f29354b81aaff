// Package proactive runs the background timer that lets the companion speak
// up after a user has gone quiet.
package proactive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/metrics"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/notify"
	"github.com/xaenox/soullink/internal/session"
	"github.com/xaenox/soullink/internal/storage"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultThreshold   = llm.InactivityThreshold
	DefaultContextSize = 15
)

type Config struct {
	Interval    time.Duration
	Threshold   time.Duration
	ContextSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ContextSize <= 0 {
		c.ContextSize = DefaultContextSize
	}
	return c
}

// SessionSource lists the sessions the timer looks after.
type SessionSource interface {
	Sessions() []*session.Session
}

// CredentialSource resolves the LLM credentials of a user.
type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (llm.Credentials, error)
}

// Decider is satisfied by *llm.Assistant.
type Decider interface {
	DecideProactive(ctx context.Context, creds llm.Credentials, history []llm.Turn, summary string, messageCount int, inactive time.Duration) llm.ProactiveDecision
}

// Timer checks every session on a fixed interval. A tick that is still
// running when the next one is due causes that one to be skipped.
type Timer struct {
	cfg         Config
	store       *storage.Store
	sessions    SessionSource
	credentials CredentialSource
	decider     Decider
	broadcaster *notify.Broadcaster
	sanitizer   *llm.Sanitizer
	logger      *zap.Logger
	metrics     metrics.Recorder

	// Now is the clock used for inactivity; tests replace it.
	Now func() time.Time

	inFlight atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewTimer(
	cfg Config,
	store *storage.Store,
	sessions SessionSource,
	credentials CredentialSource,
	decider Decider,
	broadcaster *notify.Broadcaster,
	logger *zap.Logger,
	recorder metrics.Recorder,
) *Timer {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Timer{
		cfg:         cfg.withDefaults(),
		store:       store,
		sessions:    sessions,
		credentials: credentials,
		decider:     decider,
		broadcaster: broadcaster,
		sanitizer:   llm.NewSanitizer(),
		logger:      logger,
		metrics:     recorder,
		Now:         time.Now,
	}
}

// Start launches the ticker. Calling Start on a running timer does nothing.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.logger.Info("Proactive timer started",
		zap.Duration("interval", t.cfg.Interval),
		zap.Duration("threshold", t.cfg.Threshold))
	go t.run(ctx)
}

// Stop halts the ticker. A tick already in progress is not interrupted and
// may still send its message.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel == nil {
		return
	}
	t.cancel()
	t.cancel = nil
	t.logger.Info("Proactive timer stopped")
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Timer) run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go t.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick evaluates every session once. Errors are logged and never returned.
func (t *Timer) Tick(ctx context.Context) {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.metrics.RecordProactiveTick(metrics.OutcomeSkipped)
		t.logger.Debug("Previous proactive tick still running, skipping")
		return
	}
	defer t.inFlight.Store(false)

	for _, sess := range t.sessions.Sessions() {
		outcome, err := t.check(ctx, sess)
		if err != nil {
			t.logger.Error("Proactive check failed",
				zap.String("session", sess.Namespace()),
				zap.Error(err))
			outcome = metrics.OutcomeError
		}
		t.metrics.RecordProactiveTick(outcome)
	}
}

func (t *Timer) check(ctx context.Context, sess *session.Session) (string, error) {
	conv, err := sess.PeekConversation(ctx)
	if err != nil {
		return "", fmt.Errorf("reading current conversation: %w", err)
	}
	if conv == nil || conv.LastActivityAt == nil {
		return metrics.OutcomeIdle, nil
	}

	inactive := t.Now().Sub(*conv.LastActivityAt)
	if inactive < t.cfg.Threshold {
		return metrics.OutcomeIdle, nil
	}

	recent, err := t.store.GetRecentMessages(ctx, conv.ID, t.cfg.ContextSize)
	if err != nil {
		return "", fmt.Errorf("loading recent messages: %w", err)
	}

	creds, err := t.credentials.Credentials(ctx, conv.UserID)
	if err != nil && !llm.IsCode(err, llm.CodeNotConfigured) {
		return "", fmt.Errorf("resolving credentials: %w", err)
	}

	summary := conv.Summary
	if summary == "" {
		summary = conv.Title
	}

	decision := t.decider.DecideProactive(ctx, creds, llm.HistoryTurns(recent), summary, conv.MessageCount, inactive)
	if !decision.ShouldSend() {
		t.logger.Debug("Proactive decision: wait",
			zap.String("conversation_id", conv.ID),
			zap.String("reason", decision.Reason))
		return metrics.OutcomeWait, nil
	}

	text := strings.TrimSpace(t.sanitizer.Clean(decision.SuggestedMessage))
	if text == "" {
		t.logger.Debug("Proactive suggestion empty after sanitizing",
			zap.String("conversation_id", conv.ID))
		return metrics.OutcomeWait, nil
	}
	msg, err := t.store.CreateMessage(ctx, models.Message{
		Content:        text,
		Sender:         models.SenderAI,
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		IsProactive:    true,
	})
	if err != nil {
		return "", fmt.Errorf("storing proactive message: %w", err)
	}

	t.logger.Info("Sent proactive message",
		zap.String("conversation_id", conv.ID),
		zap.String("action", string(decision.Action)),
		zap.Duration("inactive", inactive))

	if t.broadcaster != nil {
		t.broadcaster.Publish(notify.Event{
			Kind:           notify.KindProactiveMessage,
			UserID:         conv.UserID,
			ConversationID: conv.ID,
			MessageID:      msg.ID,
			Text:           text,
			Action:         string(decision.Action),
			At:             msg.CreatedAt,
		})
	}
	return metrics.OutcomeSent, nil
}
