// Package channel provides an in-process Transport implementation.
//
// Payloads are fanned out to subscribers on dedicated goroutines, so
// delivery is asynchronous with respect to Publish, matching the timing
// characteristics of a networked transport. Intended for tests and for
// single-process deployments where all waiters and publishers share one
// process.
package channel

import (
	"context"
	"sync"

	"github.com/flowkit/respwatch/transport"
)

// Transport implements transport.Transport with in-process delivery.
// Thread-safe for concurrent use.
type Transport struct {
	mu     sync.RWMutex
	subs   map[string][]transport.HandlerFunc
	closed bool

	// inflight tracks handler goroutines so Close can wait for them.
	inflight sync.WaitGroup
}

// New creates a new in-process transport.
func New() *Transport {
	return &Transport{
		subs: make(map[string][]transport.HandlerFunc),
	}
}

// Subscribe registers h for payloads published on channel.
func (t *Transport) Subscribe(_ context.Context, channel string, h transport.HandlerFunc) error {
	if channel == "" {
		return transport.ErrInvalidChannel
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	t.subs[channel] = append(t.subs[channel], h)
	return nil
}

// Unsubscribe removes all subscriptions for channel.
func (t *Transport) Unsubscribe(_ context.Context, channel string) error {
	if channel == "" {
		return transport.ErrInvalidChannel
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if _, ok := t.subs[channel]; !ok {
		return transport.ErrNotSubscribed
	}
	delete(t.subs, channel)
	return nil
}

// Publish delivers payload to all current subscribers of channel.
// Delivery happens on separate goroutines; Publish does not wait for
// handlers to run. Publishing to a channel with no subscribers is a no-op.
func (t *Transport) Publish(_ context.Context, channel string, payload string) error {
	if channel == "" {
		return transport.ErrInvalidChannel
	}
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return transport.ErrClosed
	}
	// Snapshot under the read lock so handlers run without holding it.
	handlers := make([]transport.HandlerFunc, len(t.subs[channel]))
	copy(handlers, t.subs[channel])
	t.inflight.Add(len(handlers))
	t.mu.RUnlock()

	for _, h := range handlers {
		go func(h transport.HandlerFunc) {
			defer t.inflight.Done()
			h(payload)
		}(h)
	}
	return nil
}

// Close removes all subscriptions and waits for in-flight deliveries.
// Close is idempotent.
func (t *Transport) Close(_ context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.subs = make(map[string][]transport.HandlerFunc)
	t.mu.Unlock()

	t.inflight.Wait()
	return nil
}
