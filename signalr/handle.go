package signalr

import (
	"sync"

	promclient "github.com/bichuga/go-bookhub/infrastructure/prometheus"
)

// ConnEvent is a connection lifecycle notification delivered to open
// subscription handles. Each transition sends one event to every open
// handle; the event is dropped for a handle whose event buffer is full
// (see Events). Ordering against the first payload after a reconnect is
// not guaranteed, so consumers must be idempotent.
type ConnEvent int

const (
	EventConnected ConnEvent = iota
	EventDisconnected
)

func (e ConnEvent) String() string {
	if e == EventConnected {
		return "Connected"
	}
	return "Disconnected"
}

// SubscriptionHandle is the caller's lifecycle object for one hub
// subscription. It is receive-only: payloads arrive through the
// callback given to Subscribe, lifecycle events through Events.
type SubscriptionHandle struct {
	manager    *ConnectionManager
	fullName   string
	callbackID int64

	mu     sync.Mutex
	closed bool
	events chan ConnEvent
}

func newSubscriptionHandle(manager *ConnectionManager, fullName string, callbackID int64) *SubscriptionHandle {
	return &SubscriptionHandle{
		manager:    manager,
		fullName:   fullName,
		callbackID: callbackID,
		events:     make(chan ConnEvent, 8),
	}
}

// Events exposes Connected/Disconnected notifications. A slow consumer
// loses events rather than blocking the manager.
func (h *SubscriptionHandle) Events() <-chan ConnEvent {
	return h.events
}

func (h *SubscriptionHandle) notify(event ConnEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.events <- event:
	default:
	}
}

// Send is not supported: this channel is receive-only.
func (h *SubscriptionHandle) Send(message string) error {
	return ErrNotSupported
}

// Close deregisters the handle's callback and removes it from the
// manager's open set. Idempotent; a close racing a teardown swallows
// the missing-entry case.
func (h *SubscriptionHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.events)
	h.mu.Unlock()

	if h.manager != nil {
		h.manager.releaseHandle(h)
		h.manager.registry.RemoveListener(h.fullName, h.callbackID)
		promclient.OpenHandlesGauge.Dec()
	}
	return nil
}
