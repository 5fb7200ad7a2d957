package respwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for watcher lifecycle events.
const (
	EventNameResultDelivered = "respwatch.result.delivered"
	EventNameWaitTimedOut    = "respwatch.wait.timedout"
	EventNameEnvelopeDropped = "respwatch.envelope.dropped"
)

// ResultDeliveredEvent is published when an inbound envelope resolves a
// pending wait.
type ResultDeliveredEvent struct {
	RequestID   string    `json:"request_id"`
	HandlerID   string    `json:"handler_id"`
	Status      int       `json:"status"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// WaitTimedOutEvent is published when a bounded wait expires without a
// matching publish and resolves with the fallback response.
type WaitTimedOutEvent struct {
	RequestID string        `json:"request_id"`
	HandlerID string        `json:"handler_id"`
	Waited    time.Duration `json:"waited"`
	ExpiredAt time.Time     `json:"expired_at"`
}

// EnvelopeDroppedEvent is published when an inbound payload is discarded:
// either malformed, or carrying a correlation id with no pending wait
// (duplicate or late delivery).
type EnvelopeDroppedEvent struct {
	RequestID string    `json:"request_id,omitempty"`
	HandlerID string    `json:"handler_id"`
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"dropped_at"`
}

// WatcherEvents provides access to per-watcher event instances.
// Each watcher creates its own events bound to its own event bus, enabling
// independent event routing and parallel testing.
//
// Subscribe to events:
//
//	w.Events().ResultDelivered.Subscribe(ctx, handler)
//	w.Events().WaitTimedOut.Subscribe(ctx, handler)
//	w.Events().EnvelopeDropped.Subscribe(ctx, handler)
type WatcherEvents struct {
	// ResultDelivered is published when an envelope resolves a pending wait.
	ResultDelivered event.Event[ResultDeliveredEvent]

	// WaitTimedOut is published when a bounded wait expires unmatched.
	WaitTimedOut event.Event[WaitTimedOutEvent]

	// EnvelopeDropped is published when an inbound payload is discarded.
	EnvelopeDropped event.Event[EnvelopeDroppedEvent]
}

// newWatcherEvents creates per-watcher event instances with a unique name prefix.
func newWatcherEvents(namePrefix string) *WatcherEvents {
	return &WatcherEvents{
		ResultDelivered: event.New[ResultDeliveredEvent](namePrefix + "." + EventNameResultDelivered),
		WaitTimedOut:    event.New[WaitTimedOutEvent](namePrefix + "." + EventNameWaitTimedOut),
		EnvelopeDropped: event.New[EnvelopeDroppedEvent](namePrefix + "." + EventNameEnvelopeDropped),
	}
}

// registerWatcherEvents registers per-watcher events with the given bus.
func registerWatcherEvents(ctx context.Context, bus *event.Bus, events *WatcherEvents) error {
	if err := event.Register(ctx, bus, events.ResultDelivered); err != nil {
		return fmt.Errorf("register ResultDelivered: %w", err)
	}
	if err := event.Register(ctx, bus, events.WaitTimedOut); err != nil {
		return fmt.Errorf("register WaitTimedOut: %w", err)
	}
	if err := event.Register(ctx, bus, events.EnvelopeDropped); err != nil {
		return fmt.Errorf("register EnvelopeDropped: %w", err)
	}
	return nil
}
