package subscription

import (
	"context"
	"fmt"
	"sync"

	"tickstream/internal/bridge"
	"tickstream/internal/instrument"
	"tickstream/internal/metrics"
	"tickstream/internal/outbox"
	"tickstream/internal/protocol"
	"tickstream/logger"
)

// Manager owns the active instrument and emits subscribe/unsubscribe
// control messages into the outbox of the current connection.
type Manager struct {
	catalog *instrument.Catalog
	variant protocol.Variant
	events  bridge.Publisher
	log     *logger.Entry

	mu      sync.Mutex
	current instrument.ID
	box     *outbox.Outbox
}

// NewManager creates a manager whose active instrument is initial.
func NewManager(catalog *instrument.Catalog, variant protocol.Variant, initial instrument.ID, events bridge.Publisher) (*Manager, error) {
	if !catalog.Contains(initial) {
		return nil, fmt.Errorf("initial instrument %q is not in the catalog", initial)
	}
	if events == nil {
		events = bridge.Discard
	}
	return &Manager{
		catalog: catalog,
		variant: variant,
		events:  events,
		log:     logger.GetLogger().WithComponent("subscription"),
		current: initial,
	}, nil
}

// Attach makes box the outbox of the live connection and subscribes it to
// the active instrument.
func (m *Manager) Attach(box *outbox.Outbox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.box = box
	info, _ := m.catalog.Lookup(m.current)
	box.PushText(m.variant.SubscribePayload(info))
	m.log.WithField("instrument", string(m.current)).Debug("subscribed on connect")
}

// Detach forgets box if it is still the attached outbox.
func (m *Manager) Detach(box *outbox.Outbox) {
	m.mu.Lock()
	if m.box == box {
		m.box = nil
	}
	m.mu.Unlock()
}

// Switch makes id the active instrument. It reports whether anything
// changed; unknown ids and the current id are no-ops.
func (m *Manager) Switch(id instrument.ID) bool {
	next, ok := m.catalog.Lookup(id)
	if !ok {
		m.log.WithField("instrument", string(id)).Warn("ignoring switch to unknown instrument")
		return false
	}

	m.mu.Lock()
	if id == m.current {
		m.mu.Unlock()
		return false
	}
	old := m.current
	prev, _ := m.catalog.Lookup(old)
	if m.box != nil {
		m.box.PushText(m.variant.UnsubscribePayload(prev))
		m.box.PushText(m.variant.SubscribePayload(next))
	}
	m.current = id
	m.events.Publish(bridge.NoticeEvent(bridge.NoticeSwitching))
	m.mu.Unlock()

	m.log.WithFields(logger.Fields{
		"from": string(old),
		"to":   string(id),
	}).Info("switched instrument")
	metrics.Count("subscription", metrics.InstrumentSwitches, logger.Fields{"instrument": string(id)})
	return true
}

// Serve applies switch requests until ctx ends or commands is closed.
func (m *Manager) Serve(ctx context.Context, commands <-chan instrument.ID) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-commands:
			if !ok {
				return
			}
			m.Switch(id)
		}
	}
}

// Current returns the active instrument.
func (m *Manager) Current() instrument.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// MatchKey returns the match key of the active instrument.
func (m *Manager) MatchKey() string {
	m.mu.Lock()
	id := m.current
	m.mu.Unlock()
	info, _ := m.catalog.Lookup(id)
	return info.MatchKey
}
