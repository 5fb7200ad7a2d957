package respwatch

import "errors"

// Sentinel errors for the respwatch package.
// Use errors.Is() to check for these errors.
var (
	// ErrTransportRequired is returned when no transport is configured.
	ErrTransportRequired = errors.New("respwatch: transport is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("respwatch: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("respwatch: already connected")

	// ErrInvalidRequestID is returned when a request id is empty.
	ErrInvalidRequestID = errors.New("respwatch: invalid request id")

	// ErrInvalidHandlerID is returned when a target handler id is empty.
	ErrInvalidHandlerID = errors.New("respwatch: invalid handler id")

	// ErrNilResponse is returned when Publish is called with a nil response.
	ErrNilResponse = errors.New("respwatch: nil response")

	// ErrTooManyPending is returned by Listen when the number of outstanding
	// pending waits has reached the configured cap. The caller's request was
	// not registered; nothing will resolve it.
	ErrTooManyPending = errors.New("respwatch: too many pending waits")

	// ErrMalformedEnvelope indicates an inbound payload that does not decode
	// per the wire format. Malformed envelopes are dropped and logged on the
	// receive path; this sentinel is exposed for transports or middlewares
	// that pre-validate payloads.
	ErrMalformedEnvelope = errors.New("respwatch: malformed envelope")
)
