// Package transport defines the publish/subscribe transport consumed by the
// respwatch package.
//
// A Transport delivers opaque string payloads to every current subscriber of
// a named channel. Delivery is at-least-once for currently subscribed
// listeners; messages published to a channel with no subscribers are lost,
// not queued. The respwatch package layers its own envelope serialization and
// duplicate suppression on top, so transports do not need to deduplicate.
//
// Implementations:
//   - Redis pub/sub (transport/redis) - accepts redis.UniversalClient
//   - In-process (transport/channel) - for testing and single-process use
package transport

import (
	"context"
	"errors"
)

// Sentinel errors shared by transport implementations.
// Use errors.Is() to check for these errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotSubscribed is returned when unsubscribing from a channel that
	// has no active subscription.
	ErrNotSubscribed = errors.New("transport: not subscribed")

	// ErrAlreadySubscribed is returned when subscribing twice to the same channel.
	ErrAlreadySubscribed = errors.New("transport: already subscribed")

	// ErrInvalidChannel is returned when a channel name is empty.
	ErrInvalidChannel = errors.New("transport: invalid channel name")
)

// HandlerFunc is invoked for every payload delivered on a subscribed channel.
// Handlers are called from the transport's receive path and must not block
// for long periods; respwatch's handler only decodes and hands off.
type HandlerFunc func(payload string)

// Transport is a named-channel publish/subscribe transport.
//
// All methods are safe for concurrent use.
type Transport interface {
	// Subscribe registers h for payloads published on channel. It returns
	// only after the subscription is active: a successful return guarantees
	// that subsequently published payloads will be delivered to h. A failed
	// Subscribe is fatal to the caller's startup and must be propagated.
	Subscribe(ctx context.Context, channel string, h HandlerFunc) error

	// Unsubscribe removes the subscription for channel. Payloads published
	// after Unsubscribe returns are not delivered.
	Unsubscribe(ctx context.Context, channel string) error

	// Publish delivers payload to all current subscribers of channel.
	// Publishing to a channel with no subscribers is not an error.
	Publish(ctx context.Context, channel string, payload string) error

	// Close releases all subscriptions and underlying resources.
	Close(ctx context.Context) error
}
