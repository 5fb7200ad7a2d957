// Package redis provides a Transport implementation backed by Redis pub/sub.
//
// Each subscribed channel holds its own Redis subscription and a receive
// goroutine that dispatches payloads to the registered handler. Redis
// pub/sub delivers to current subscribers only and does not queue, which is
// exactly the contract transport.Transport specifies.
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/flowkit/respwatch/transport"
)

// Transport implements transport.Transport over Redis pub/sub.
// Thread-safe for concurrent use.
type Transport struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// subscription tracks one channel's Redis subscription and receive loop.
type subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// Option configures the transport.
type Option func(*Transport)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Redis-backed transport using the given client.
// The caller retains ownership of the client; Close does not close it.
func New(client redis.UniversalClient, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, fmt.Errorf("redis transport: nil client")
	}
	t := &Transport{
		client: client,
		logger: slog.Default(),
		subs:   make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Subscribe subscribes to channel and starts a receive loop dispatching
// payloads to h. It confirms the subscription with the server before
// returning, so a nil error means the subscription is active.
func (t *Transport) Subscribe(ctx context.Context, channel string, h transport.HandlerFunc) error {
	if channel == "" {
		return transport.ErrInvalidChannel
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if _, ok := t.subs[channel]; ok {
		return transport.ErrAlreadySubscribed
	}

	pubsub := t.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so failures surface here
	// instead of silently dropping messages later.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("redis transport: subscribe %q: %w", channel, err)
	}

	sub := &subscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	t.subs[channel] = sub

	go t.receive(sub, channel, h)
	return nil
}

// receive dispatches messages for one subscription until it is closed.
func (t *Transport) receive(sub *subscription, channel string, h transport.HandlerFunc) {
	defer close(sub.done)
	for msg := range sub.pubsub.Channel() {
		h(msg.Payload)
	}
	t.logger.Debug("redis transport: receive loop ended", "channel", channel)
}

// Unsubscribe closes the subscription for channel and waits for its
// receive loop to drain.
func (t *Transport) Unsubscribe(_ context.Context, channel string) error {
	if channel == "" {
		return transport.ErrInvalidChannel
	}
	t.mu.Lock()
	sub, ok := t.subs[channel]
	if ok {
		delete(t.subs, channel)
	}
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return transport.ErrClosed
	}
	if !ok {
		return transport.ErrNotSubscribed
	}

	if err := sub.pubsub.Close(); err != nil {
		return fmt.Errorf("redis transport: unsubscribe %q: %w", channel, err)
	}
	<-sub.done
	return nil
}

// Publish publishes payload on channel. Publishing to a channel with no
// subscribers succeeds; the payload is simply dropped by Redis.
func (t *Transport) Publish(ctx context.Context, channel string, payload string) error {
	if channel == "" {
		return transport.ErrInvalidChannel
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis transport: publish %q: %w", channel, err)
	}
	return nil
}

// Close closes all subscriptions. The Redis client itself is left open for
// the caller to close. Close is idempotent.
func (t *Transport) Close(_ context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()

	var firstErr error
	for channel, sub := range subs {
		if err := sub.pubsub.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("redis transport: close %q: %w", channel, err)
		}
		<-sub.done
	}
	return firstErr
}
