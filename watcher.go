package respwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/flowkit/respwatch/transport"
)

// WatcherHealth provides health and state information about the watcher.
type WatcherHealth interface {
	// IsConnected returns true if the watcher is subscribed and ready.
	IsConnected() bool
}

// Watcher correlates results published anywhere in a fleet back to the
// process instance that is waiting for them.
//
// Every process that may wait for an out-of-process result runs one Watcher.
// A caller records interest with Listen and hands its request id together
// with this watcher's HandlerID to the collaborator that will produce the
// result. The collaborator, from any process, calls Publish with that pair;
// the transport fans the envelope out and only the owning watcher resolves
// the pending wait.
//
// Composed of:
//   - WatcherHealth: Health and state queries (IsConnected)
type Watcher interface {
	WatcherHealth

	// HandlerID returns this watcher's handler identity: an opaque token,
	// generated once at construction and stable for the watcher's lifetime,
	// that names its private delivery channel.
	HandlerID() string

	// Connect subscribes to this watcher's private channel and installs the
	// inbound envelope handler. A subscribe failure is fatal and propagates.
	Connect(ctx context.Context) error

	// Close unsubscribes from the private channel. Pending waits outstanding
	// at Close are not cancelled; surrounding process teardown reclaims them.
	Close(ctx context.Context) error

	// Listen blocks until a matching Publish delivers a response or, when
	// timeoutRequested is true, the configured listen timeout elapses. A
	// timeout resolves with the fallback response (204 No Content), not an
	// error. When timeoutRequested is false the wait is unbounded and only a
	// matching Publish resolves it; cancelling ctx does not abandon the wait.
	//
	// requestID must be unique among this watcher's currently outstanding
	// waits. A second Listen with the same id displaces the first
	// registration (last-writer-wins).
	Listen(ctx context.Context, requestID string, timeoutRequested bool) (*Response, error)

	// Publish delivers resp to whichever process owns targetHandlerID. It
	// does not block on the target being alive or subscribed: if no process
	// currently subscribes to the target's channel, the envelope is lost and
	// the waiting caller observes its own timeout fallback instead. Publish
	// does not retry; failure handling is the caller's responsibility.
	Publish(ctx context.Context, requestID, targetHandlerID string, resp *Response) error

	// Events returns per-watcher event instances for subscribing to
	// lifecycle events. Nil until Connect succeeds.
	Events() *WatcherEvents
}

// Connection states for the watcher.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// watcher is the default implementation of Watcher.
type watcher struct {
	handlerID string
	transport transport.Transport
	logger    *slog.Logger
	opts      *options
	state     int32 // stateDisconnected, stateConnecting, or stateConnected
	registry  *registry
	otel      *otelInstrumentation
	waitSem   *semaphore.Weighted // Caps outstanding pending waits
	eventBus  *event.Bus          // Event bus for lifecycle events
	events    *WatcherEvents      // Per-watcher event instances
}

// NewWatcher creates a new response watcher with a freshly generated handler
// identity. Call Connect() to subscribe to the private delivery channel.
func NewWatcher(opts ...Option) (Watcher, error) {
	o := newOptions(opts...)

	if o.transport == nil {
		return nil, ErrTransportRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &watcher{
		handlerID: uuid.NewString(),
		transport: o.transport,
		logger:    o.logger,
		opts:      o,
		registry:  newRegistry(),
		otel:      otelInstr,
		waitSem:   semaphore.NewWeighted(int64(o.maxPendingWaits)),
	}, nil
}

// HandlerID returns this watcher's handler identity.
func (w *watcher) HandlerID() string {
	return w.handlerID
}

// Events returns per-watcher event instances for subscribing and publishing.
func (w *watcher) Events() *WatcherEvents {
	return w.events
}

// IsConnected returns true if the watcher is subscribed and ready.
func (w *watcher) IsConnected() bool {
	return atomic.LoadInt32(&w.state) == stateConnected
}

// Connect subscribes to the private delivery channel and installs the
// inbound envelope handler.
func (w *watcher) Connect(ctx context.Context) error {
	// Use three-state to prevent concurrent callers from seeing partial
	// initialization: stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&w.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&w.state, stateConnected)
		} else {
			atomic.StoreInt32(&w.state, stateDisconnected)
		}
	}()

	if err := w.initEventBus(ctx); err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := w.transport.Subscribe(ctx, Channel(w.handlerID), w.handleInbound); err != nil {
		w.closeEventBus(ctx)
		return fmt.Errorf("subscribe %q: %w", Channel(w.handlerID), err)
	}

	success = true
	w.logger.Info("response watcher connected", "handler_id", w.handlerID)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the lifecycle event bus for this watcher.
// Each watcher creates its own bus with per-watcher event instances.
func (w *watcher) initEventBus(ctx context.Context) error {
	serviceName := w.opts.serviceName
	if serviceName == "" {
		serviceName = "respwatch"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case w.opts.eventTransport != nil:
		w.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(w.opts.eventTransport))
	case w.opts.redisClient != nil:
		w.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(w.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		w.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	w.eventBus = bus

	w.events = newWatcherEvents(busName)
	if err := registerWatcherEvents(ctx, bus, w.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register watcher events: %w", err)
	}

	return nil
}

// closeEventBus closes the event bus and releases its registration.
// Each Connect creates a fresh bus, so Close must always tear it down.
func (w *watcher) closeEventBus(ctx context.Context) error {
	if w.eventBus == nil {
		return nil
	}
	err := w.eventBus.Close(ctx)
	w.eventBus = nil
	w.events = nil
	return err
}

// Close unsubscribes from the private delivery channel.
// Pending waits outstanding at Close are not cancelled.
func (w *watcher) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&w.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	if err := w.transport.Unsubscribe(ctx, Channel(w.handlerID)); err != nil {
		errs = append(errs, fmt.Errorf("unsubscribe %q: %w", Channel(w.handlerID), err))
	}

	if err := w.closeEventBus(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}

	if n := w.registry.size(); n > 0 {
		w.logger.Warn("closing with pending waits outstanding", "pending", n)
	}

	w.logger.Info("response watcher closed", "handler_id", w.handlerID)
	return errors.Join(errs...)
}

// Listen blocks until delivery or timeout resolves the wait.
func (w *watcher) Listen(ctx context.Context, requestID string, timeoutRequested bool) (resp *Response, err error) {
	if atomic.LoadInt32(&w.state) != stateConnected {
		return nil, ErrNotConnected
	}
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}

	start := time.Now()
	timedOut := false
	ctx, end := w.otel.startSpan(ctx, "respwatch.Listen",
		attribute.String("request_id", requestID),
		attribute.Bool("timeout_requested", timeoutRequested),
	)
	defer func() {
		w.otel.recordListen(ctx, time.Since(start), timedOut, err)
		end(err)
	}()

	if !w.waitSem.TryAcquire(1) {
		return nil, ErrTooManyPending
	}
	defer w.waitSem.Release(1)

	res := make(resolver, 1)
	w.registry.register(requestID, res)

	if !timeoutRequested {
		// Unbounded wait: only a matching Publish resolves it. This is a
		// caller contract - the caller must have an independent guarantee
		// that the target will eventually deliver.
		return <-res, nil
	}

	timer := time.NewTimer(w.opts.listenTimeout)
	defer timer.Stop()

	select {
	case resp = <-res:
		return resp, nil
	case <-timer.C:
		// The delivery path and this timer race on the registry entry;
		// the registry's atomic claim is the sole arbiter.
		switch w.registry.expire(requestID, res) {
		case claimDelivered:
			// Delivery claimed this waiter's resolver first; the result is
			// already buffered.
			resp = <-res
			return resp, nil
		case claimDisplaced:
			// A later Listen reused this id; nothing will ever complete
			// this resolver. The displaced waiter resolves via its own
			// timeout fallback.
			w.logger.Warn("pending wait displaced by reused request id",
				"request_id", requestID,
			)
			fallthrough
		default: // claimWon
			timedOut = true
			w.logger.Debug("listen timed out",
				"request_id", requestID,
				"waited", w.opts.listenTimeout,
			)
			w.publishWaitTimedOut(ctx, requestID)
			return Fallback(), nil
		}
	}
}

// Publish encodes an envelope and transmits it on the target handler's
// private channel.
func (w *watcher) Publish(ctx context.Context, requestID, targetHandlerID string, resp *Response) (err error) {
	if atomic.LoadInt32(&w.state) != stateConnected {
		return ErrNotConnected
	}
	if requestID == "" {
		return ErrInvalidRequestID
	}
	if targetHandlerID == "" {
		return ErrInvalidHandlerID
	}
	if resp == nil {
		return ErrNilResponse
	}

	start := time.Now()
	ctx, end := w.otel.startSpan(ctx, "respwatch.Publish",
		attribute.String("request_id", requestID),
		attribute.String("target_handler_id", targetHandlerID),
	)
	defer func() {
		w.otel.recordPublish(ctx, time.Since(start), err)
		end(err)
	}()

	payload, err := encodeEnvelope(requestID, resp)
	if err != nil {
		return err
	}

	if err = w.transport.Publish(ctx, Channel(targetHandlerID), payload); err != nil {
		err = fmt.Errorf("publish %q: %w", requestID, err)
		return err
	}
	return nil
}

// handleInbound decodes an inbound payload and dispatches it to the matching
// pending wait. Runs on the transport's receive path.
func (w *watcher) handleInbound(payload string) {
	ctx := context.Background()

	env, err := decodeEnvelope(payload)
	if err != nil {
		// One bad message must not affect any waiter: drop and log.
		w.logger.Warn("dropping malformed envelope",
			"handler_id", w.handlerID,
			"error", err,
			"payload_size", len(payload),
		)
		w.otel.recordDropped(ctx, "malformed")
		w.publishEnvelopeDropped(ctx, "", "malformed")
		return
	}

	if !w.registry.resolve(env.RequestID, env.Response) {
		// Expected steady-state outcome of duplicate or late delivery:
		// the wait already resolved, or belongs to a different process.
		w.logger.Debug("dropping unmatched envelope", "request_id", env.RequestID)
		w.otel.recordDropped(ctx, "unmatched")
		w.publishEnvelopeDropped(ctx, env.RequestID, "unmatched")
		return
	}

	w.otel.recordDelivered(ctx)
	w.publishResultDelivered(ctx, env)
}

// --- Lifecycle event publishing (best-effort) ---

func (w *watcher) publishResultDelivered(ctx context.Context, env *envelope) {
	if w.events == nil {
		return
	}
	if err := w.events.ResultDelivered.Publish(ctx, ResultDeliveredEvent{
		RequestID:   env.RequestID,
		HandlerID:   w.handlerID,
		Status:      env.Response.Status,
		DeliveredAt: time.Now().UTC(),
	}); err != nil {
		w.opts.safeEventPublishFailure("ResultDelivered", err)
	}
}

func (w *watcher) publishWaitTimedOut(ctx context.Context, requestID string) {
	if w.events == nil {
		return
	}
	if err := w.events.WaitTimedOut.Publish(ctx, WaitTimedOutEvent{
		RequestID: requestID,
		HandlerID: w.handlerID,
		Waited:    w.opts.listenTimeout,
		ExpiredAt: time.Now().UTC(),
	}); err != nil {
		w.opts.safeEventPublishFailure("WaitTimedOut", err)
	}
}

func (w *watcher) publishEnvelopeDropped(ctx context.Context, requestID, reason string) {
	if w.events == nil {
		return
	}
	if err := w.events.EnvelopeDropped.Publish(ctx, EnvelopeDroppedEvent{
		RequestID: requestID,
		HandlerID: w.handlerID,
		Reason:    reason,
		DroppedAt: time.Now().UTC(),
	}); err != nil {
		w.opts.safeEventPublishFailure("EnvelopeDropped", err)
	}
}
