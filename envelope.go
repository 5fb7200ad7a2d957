package respwatch

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ChannelPrefix is prepended to a handler identity to form that watcher's
// private delivery channel name.
const ChannelPrefix = "engine-run:sync:"

// Channel returns the private delivery channel name for a handler identity.
func Channel(handlerID string) string {
	return ChannelPrefix + handlerID
}

// Response is the outcome handed back to the original caller: an HTTP-shaped
// result produced by the remote collaborator. The watcher transports it
// without interpreting or validating its contents beyond the wire format.
type Response struct {
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Body is the response body. May be any JSON-serializable value.
	Body any `json:"body"`
	// Headers maps header names to values.
	Headers map[string]string `json:"headers"`
}

// Fallback returns the default response delivered when a bounded wait
// expires without a matching publish: HTTP 204 No Content with an empty
// body and no headers. From the caller's perspective this is a normal
// outcome, not an error.
func Fallback() *Response {
	return &Response{
		Status:  http.StatusNoContent,
		Body:    map[string]any{},
		Headers: map[string]string{},
	}
}

// envelope is the wire message pairing a correlation id with its result.
// Constructed by the publisher, consumed by the subscriber, and discarded
// after dispatch (or silently dropped when no pending wait matches).
type envelope struct {
	RequestID string    `json:"requestId"`
	Response  *Response `json:"httpResponse"`
}

// encodeEnvelope serializes an envelope for transmission.
func encodeEnvelope(requestID string, resp *Response) (string, error) {
	data, err := json.Marshal(envelope{RequestID: requestID, Response: resp})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// decodeEnvelope parses and validates a wire payload. Validation happens
// before any registry lookup so malformed payloads fail fast and visibly
// instead of propagating silently. Only the envelope structure is checked;
// the carried response is opaque to the watcher and travels as published,
// whatever its status code.
func decodeEnvelope(payload string) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.RequestID == "" {
		return nil, fmt.Errorf("%w: missing requestId", ErrMalformedEnvelope)
	}
	if env.Response == nil {
		return nil, fmt.Errorf("%w: missing httpResponse", ErrMalformedEnvelope)
	}
	return &env, nil
}
