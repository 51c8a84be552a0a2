package bridge

import (
	"sync"
	"time"

	"tickstream/internal/metrics"
	"tickstream/internal/models"
	"tickstream/logger"
)

// Status notices shown to the user.
const (
	NoticeStarting     = "starting…"
	NoticeSwitching    = "switching…"
	NoticeReconnecting = "reconnecting…"
)

// EventKind distinguishes ticks from status notices.
type EventKind int

const (
	KindTick EventKind = iota
	KindNotice
)

func (k EventKind) String() string {
	if k == KindNotice {
		return "notice"
	}
	return "tick"
}

// Event is one message published to the UI.
type Event struct {
	Kind   EventKind
	Tick   models.PriceTick
	Notice string
	At     time.Time
}

// TickEvent wraps a tick.
func TickEvent(t models.PriceTick) Event {
	return Event{Kind: KindTick, Tick: t, At: time.Now()}
}

// NoticeEvent wraps a status notice.
func NoticeEvent(text string) Event {
	return Event{Kind: KindNotice, Notice: text, At: time.Now()}
}

// Publisher delivers events to the UI. Publish must never block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// ChannelStats tracks delivery counters.
type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Channel is a buffered event queue owned by the UI side. Events that do not
// fit are dropped and counted.
type Channel struct {
	events chan Event

	stats ChannelStats
	mu    sync.RWMutex
	log   *logger.Log
}

// NewChannel allocates a queue holding up to buffer events.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 1
	}
	log := logger.GetLogger()
	log.WithComponent("bridge").WithField("buffer_size", buffer).Info("event bridge initialized")
	return &Channel{events: make(chan Event, buffer), log: log}
}

// Events returns the receive side for the UI loop.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Publish enqueues e without blocking.
func (c *Channel) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case c.events <- e:
		c.mu.Lock()
		c.stats.Sent++
		c.mu.Unlock()
	default:
		c.mu.Lock()
		c.stats.Dropped++
		c.mu.Unlock()
		metrics.EmitDropMetric(c.log, metrics.DropMetricBridgeEvent, e.Kind.String(), e.Tick.MatchKey)
	}
}

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Len is the number of queued events.
func (c *Channel) Len() int {
	return len(c.events)
}
