// Package metrics exposes prometheus counters for the background timers and
// the LLM collaborator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the services report to.
type Recorder interface {
	RecordPollerTick(groupID string)
	RecordPollerDelivery(count int)
	RecordPollerResync()
	RecordProactiveTick(outcome string)
	RecordLLMCall(endpoint, outcome string)
	RecordDroppedNotification()
}

// Proactive tick outcomes.
const (
	OutcomeIdle    = "idle"
	OutcomeWait    = "wait"
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

type Collector struct {
	pollerTicks      prometheus.Counter
	pollerDelivered  prometheus.Counter
	pollerResyncs    prometheus.Counter
	proactiveTicks   *prometheus.CounterVec
	llmCalls         *prometheus.CounterVec
	droppedNotifying prometheus.Counter
}

// NewCollector creates the collectors and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pollerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soullink_groupsync_ticks_total",
			Help: "Group sync poller fetches.",
		}),
		pollerDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soullink_groupsync_delivered_messages_total",
			Help: "Group messages delivered by the poller.",
		}),
		pollerResyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soullink_groupsync_resyncs_total",
			Help: "Poller cursor resets after the last seen message vanished.",
		}),
		proactiveTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soullink_proactive_ticks_total",
			Help: "Proactive timer ticks by outcome.",
		}, []string{"outcome"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soullink_llm_calls_total",
			Help: "LLM collaborator calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		droppedNotifying: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soullink_notifications_dropped_total",
			Help: "Notifications dropped because a subscriber was full.",
		}),
	}

	reg.MustRegister(
		c.pollerTicks,
		c.pollerDelivered,
		c.pollerResyncs,
		c.proactiveTicks,
		c.llmCalls,
		c.droppedNotifying,
	)

	return c
}

func (c *Collector) RecordPollerTick(string) {
	c.pollerTicks.Inc()
}

func (c *Collector) RecordPollerDelivery(count int) {
	c.pollerDelivered.Add(float64(count))
}

func (c *Collector) RecordPollerResync() {
	c.pollerResyncs.Inc()
}

func (c *Collector) RecordProactiveTick(outcome string) {
	c.proactiveTicks.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordLLMCall(endpoint, outcome string) {
	c.llmCalls.WithLabelValues(endpoint, outcome).Inc()
}

func (c *Collector) RecordDroppedNotification() {
	c.droppedNotifying.Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordPollerTick(string)      {}
func (Nop) RecordPollerDelivery(int)     {}
func (Nop) RecordPollerResync()          {}
func (Nop) RecordProactiveTick(string)   {}
func (Nop) RecordLLMCall(string, string) {}
func (Nop) RecordDroppedNotification()   {}

// Handler serves the gathered metrics in the prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
