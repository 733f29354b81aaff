package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dropCounter struct {
	dropped int
}

func (d *dropCounter) RecordPollerTick(string)      {}
func (d *dropCounter) RecordPollerDelivery(int)     {}
func (d *dropCounter) RecordPollerResync()          {}
func (d *dropCounter) RecordProactiveTick(string)   {}
func (d *dropCounter) RecordLLMCall(string, string) {}
func (d *dropCounter) RecordDroppedNotification()   { d.dropped++ }

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	first, cancelFirst := b.Subscribe(4)
	defer cancelFirst()
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()

	n := b.Publish(Event{Kind: KindProactiveMessage, ConversationID: "c1", Text: "hi", Action: "continue"})
	assert.Equal(t, 2, n)

	for _, ch := range []<-chan Event{first, second} {
		ev := <-ch
		assert.Equal(t, KindProactiveMessage, ev.Kind)
		assert.Equal(t, "hi", ev.Text)
		assert.False(t, ev.At.IsZero())
	}
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	counter := &dropCounter{}
	b := NewBroadcaster(counter)
	ch, cancel := b.Subscribe(1)
	defer cancel()

	assert.Equal(t, 1, b.Publish(Event{Text: "one"}))
	assert.Equal(t, 0, b.Publish(Event{Text: "two"}))
	assert.Equal(t, 1, counter.dropped)

	ev := <-ch
	assert.Equal(t, "one", ev.Text)
}

func TestCancelClosesAndUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)
	assert.Equal(t, 0, b.Publish(Event{Text: "nobody"}))
}
