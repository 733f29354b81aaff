package groupsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/metrics"
	"github.com/xaenox/soullink/internal/models"
)

const DefaultInterval = 5 * time.Second

// Source lists a group's messages in ascending creation order.
type Source interface {
	GetGroupMessages(ctx context.Context, groupID string) ([]models.GroupMessage, error)
}

// Callback receives newly observed messages. It runs on the poller's
// goroutine while a check holds the poller, so it must not call Enable,
// Disable or CheckNow itself.
type Callback func(ctx context.Context, groupID string, messages []models.GroupMessage)

// Poller watches one group at a time.
type Poller struct {
	source   Source
	interval time.Duration
	logger   *zap.Logger
	metrics  metrics.Recorder

	// lifecycle serializes Enable and Disable
	lifecycle sync.Mutex
	// checkMu serializes checks so Disable can wait out a running one.
	checkMu sync.Mutex

	mu       sync.Mutex
	enabled  bool
	groupID  string
	lastSeen string
	callback Callback
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPoller(source Source, interval time.Duration, logger *zap.Logger, recorder metrics.Recorder) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Poller{
		source:   source,
		interval: interval,
		logger:   logger,
		metrics:  recorder,
	}
}

// Enable starts watching groupID. Any previous watch is stopped and the
// cursor reset. The first check runs before Enable returns and records the
// baseline.
func (p *Poller) Enable(ctx context.Context, groupID string, cb Callback) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.disable()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.enabled = true
	p.groupID = groupID
	p.lastSeen = ""
	p.callback = cb
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	p.logger.Info("Group sync enabled",
		zap.String("group_id", groupID),
		zap.Duration("interval", p.interval))

	p.check(loopCtx)
	go p.run(loopCtx, done)
}

// Disable stops the watch and waits for the loop to exit. No callback runs
// after Disable returns. Calling it while disabled is a no-op.
func (p *Poller) Disable() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.disable()
}

func (p *Poller) disable() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.checkMu.Lock()
	p.mu.Lock()
	wasEnabled := p.enabled
	p.enabled = false
	p.callback = nil
	groupID := p.groupID
	p.mu.Unlock()
	p.checkMu.Unlock()

	if wasEnabled {
		p.logger.Info("Group sync disabled", zap.String("group_id", groupID))
	}
}

// CheckNow runs one check immediately. It does nothing while disabled.
func (p *Poller) CheckNow(ctx context.Context) {
	p.check(ctx)
}

// Watching returns the watched group and whether the poller is enabled.
func (p *Poller) Watching() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.groupID, p.enabled
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Poller) check(ctx context.Context) {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	p.mu.Lock()
	enabled, groupID, lastSeen, cb := p.enabled, p.groupID, p.lastSeen, p.callback
	p.mu.Unlock()
	if !enabled {
		return
	}

	p.metrics.RecordPollerTick(groupID)
	messages, err := p.source.GetGroupMessages(ctx, groupID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("Failed to check group messages", zap.String("group_id", groupID), zap.Error(err))
		}
		return
	}

	result := Diff(messages, lastSeen)

	p.mu.Lock()
	p.lastSeen = result.LastSeen
	p.mu.Unlock()

	if result.Resynced {
		p.metrics.RecordPollerResync()
		p.logger.Warn("Last seen group message is gone, resynchronized",
			zap.String("group_id", groupID),
			zap.String("last_seen", lastSeen))
		return
	}
	if len(result.New) == 0 || cb == nil {
		return
	}

	p.metrics.RecordPollerDelivery(len(result.New))
	p.logger.Debug("New group messages",
		zap.String("group_id", groupID),
		zap.Int("count", len(result.New)))
	cb(ctx, groupID, result.New)
}
