// Package respwatch provides distributed response correlation over a
// publish/subscribe transport.
//
// A stateless request handler on one node can synchronously await the result
// of work dispatched to, and completed by, a worker on another node, when the
// only channel between them is pub/sub: no direct RPC, no shared memory.
// Each process runs a Watcher with a stable, process-lifetime handler
// identity naming its private delivery channel. A caller registers interest
// in a correlation id with Listen, hands (requestID, handlerID) to the
// remote collaborator, and the collaborator's Publish routes the result back
// to exactly the waiting process.
//
// # Basic Usage
//
//	// Redis-backed transport shared by the whole fleet
//	tr, err := redistransport.New(redisClient)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := respwatch.NewWatcher(
//	    respwatch.WithTransport(tr),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect subscribes to this process's private channel
//	if err := w.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close(ctx)
//
//	// Waiting side: block until the result arrives or the timeout elapses
//	resp, err := w.Listen(ctx, requestID, true)
//
//	// Producing side (any process in the fleet):
//	err = w.Publish(ctx, requestID, targetHandlerID, &respwatch.Response{
//	    Status: 200,
//	    Body:   map[string]any{"ok": true},
//	})
//
// # Semantics
//
//   - A wait resolves exactly once, by delivery or by timeout fallback,
//     whichever acts first; the registry's atomic take-and-clear arbitrates.
//   - A timeout is a normal outcome: the caller receives a well-formed 204
//     No Content response, never an error.
//   - Duplicate and late envelopes are silently dropped; an envelope for an
//     unknown correlation id is the expected steady state of at-least-once
//     delivery, not a failure.
//   - Listen without a timeout waits indefinitely and is only safe when the
//     caller has an independent guarantee that the target will deliver.
//   - Results are not persisted and publishes are not retried.
//
// # Transports
//
// The transport package defines the pub/sub contract, with implementations:
//   - Redis pub/sub (transport/redis) - accepts redis.UniversalClient
//   - In-process (transport/channel) - for testing and single-process use
//
// # Events
//
// Watchers publish typed lifecycle events (result delivered, wait timed out,
// envelope dropped) using the github.com/rbaliyan/event/v3 library. Pass
// WithRedisClient or WithEventTransport to enable delivery; the default is
// a noop transport.
//
//	w.Events().ResultDelivered.Subscribe(ctx, handler)
//	w.Events().WaitTimedOut.Subscribe(ctx, handler)
//	w.Events().EnvelopeDropped.Subscribe(ctx, handler)
package respwatch
